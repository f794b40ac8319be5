package job

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"realtime-service/internal/service"
)

type MockPresenceRefresher struct {
	mock.Mock
}

func (m *MockPresenceRefresher) RefreshAll(ctx context.Context) int {
	args := m.Called(ctx)
	return args.Int(0)
}

func TestOfflineQueueSweepJob_RemovesExpiredBacklogs(t *testing.T) {
	queue := service.NewOfflineQueue(10, time.Hour, zap.NewNop(), nil)
	queue.Enqueue("u1", "notification:new", json.RawMessage(`{"id":"1"}`))

	core, logs := observer.New(zap.InfoLevel)
	job := NewOfflineQueueSweepJob(queue, zap.New(core))

	job.Run()
	assert.Equal(t, 1, queue.Len("u1"), "fresh backlog survives")
	assert.Equal(t, 0, logs.Len())

	job.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	job.Run()
	assert.Equal(t, 0, queue.Len("u1"))

	entries := logs.FilterMessage("Offline queue sweep completed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].ContextMap()["expired_users"])
}

func TestPresenceRefreshJob_RefreshesWithDeadline(t *testing.T) {
	refresher := new(MockPresenceRefresher)
	refresher.On("RefreshAll", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	})).Return(3).Once()

	NewPresenceRefreshJob(refresher, time.Second, zap.NewNop()).Run()
	refresher.AssertExpectations(t)
}

type countingJob struct {
	runs atomic.Int32
}

func (j *countingJob) Run() { j.runs.Add(1) }

type panickingJob struct {
	runs atomic.Int32
}

func (j *panickingJob) Run() {
	j.runs.Add(1)
	panic("job failed")
}

func TestScheduler_RunsJobsAndSurvivesPanics(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	counting := &countingJob{}
	failing := &panickingJob{}

	require.NoError(t, s.Every("counting", time.Second, counting))
	require.NoError(t, s.Every("failing", time.Second, failing))
	assert.Error(t, s.Every("broken", 0, counting))

	s.Start()
	require.Eventually(t, func() bool {
		return counting.runs.Load() >= 2 && failing.runs.Load() >= 2
	}, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
