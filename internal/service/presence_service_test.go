package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"realtime-service/internal/domain"
	"realtime-service/internal/metrics"
	"realtime-service/internal/repository"
)

func setupPresence(t *testing.T) (*PresenceService, *repository.RedisPresenceStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := repository.NewRedisPresenceStore(rdb, time.Minute, 10*time.Second)
	return NewPresenceService(store, zap.NewNop(), nil), store, mr
}

func alice() domain.Identity {
	return domain.Identity{UserID: "u1", Name: "Alice", Email: "alice@example.com", IsActive: true, WorkspaceIDs: []string{"ws1"}}
}

func TestPresence_SingleSocketConnectDisconnect(t *testing.T) {
	svc, store, _ := setupPresence(t)
	ctx := context.Background()

	svc.Connect(ctx, "s1", alice())
	record, err := store.GetPresence(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, 1, record.Connections)
	assert.Equal(t, domain.PresenceStatusOnline, record.Status)
	assert.Equal(t, "Alice", record.Name)
	assert.True(t, svc.IsConnected("u1"))

	result := svc.Disconnect(ctx, "s1", "u1")
	assert.True(t, result.IsLastConnection)

	record, err = store.GetPresence(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, record, "record with zero connections must not persist")
	assert.False(t, svc.IsConnected("u1"))
}

func TestPresence_TwoSocketsDisconnectOne(t *testing.T) {
	svc, store, _ := setupPresence(t)
	ctx := context.Background()

	assert.True(t, svc.Connect(ctx, "s1", alice()))
	assert.False(t, svc.Connect(ctx, "s2", alice()))
	record, err := store.GetPresence(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, record.Connections)
	assert.Equal(t, 2, svc.ConnectionCount())

	result := svc.Disconnect(ctx, "s1", "u1")
	assert.False(t, result.IsLastConnection)
	assert.Empty(t, result.PresenceWorkspaces)

	record, err = store.GetPresence(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, 1, record.Connections)
}

func TestPresence_DisconnectUnknownSocketIsNoop(t *testing.T) {
	svc, _, _ := setupPresence(t)
	ctx := context.Background()

	svc.Connect(ctx, "s1", alice())
	result := svc.Disconnect(ctx, "other", "u1")
	assert.False(t, result.IsLastConnection)
	assert.Equal(t, 1, svc.UserConnectionCount("u1"))

	result = svc.Disconnect(ctx, "s1", "nobody")
	assert.False(t, result.IsLastConnection)
}

func TestPresence_LastDisconnectLeavesSubscribedWorkspaces(t *testing.T) {
	svc, store, _ := setupPresence(t)
	ctx := context.Background()

	svc.Connect(ctx, "s1", alice())
	_, joined := svc.JoinPresenceWorkspace(ctx, "u1", "ws2")
	assert.True(t, joined)
	_, _ = svc.JoinPresenceWorkspace(ctx, "u1", "ws1")

	result := svc.Disconnect(ctx, "s1", "u1")
	assert.True(t, result.IsLastConnection)
	assert.Equal(t, []string{"ws1", "ws2"}, result.PresenceWorkspaces)

	members, err := store.GetWorkspaceMembers(ctx, "ws1")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestPresence_JoinWorkspaceReturnsSnapshotWithSelf(t *testing.T) {
	svc, _, _ := setupPresence(t)
	ctx := context.Background()
	clock := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	bob := domain.Identity{UserID: "u2", Name: "Bob"}
	svc.Connect(ctx, "s1", alice())
	svc.Connect(ctx, "s2", bob)
	_, _ = svc.JoinPresenceWorkspace(ctx, "u2", "ws1")

	members, joined := svc.JoinPresenceWorkspace(ctx, "u1", "ws1")
	assert.True(t, joined)
	require.Len(t, members, 2)
	assert.Equal(t, "u2", members[0].UserID)
	assert.Equal(t, "u1", members[1].UserID)

	_, joined = svc.JoinPresenceWorkspace(ctx, "u1", "ws1")
	assert.False(t, joined, "re-join is idempotent")

	snapshot := svc.GetWorkspacePresence(ctx, "ws1")
	assert.Len(t, snapshot, 2)

	assert.True(t, svc.LeavePresenceWorkspace(ctx, "u1", "ws1"))
	assert.False(t, svc.LeavePresenceWorkspace(ctx, "u1", "ws1"))
	assert.Len(t, svc.GetWorkspacePresence(ctx, "ws1"), 1)
}

func TestPresence_UpdateStatus(t *testing.T) {
	svc, store, _ := setupPresence(t)
	ctx := context.Background()

	svc.Connect(ctx, "s1", alice())
	_, _ = svc.JoinPresenceWorkspace(ctx, "u1", "ws1")

	workspaces, err := svc.UpdateStatus(ctx, "u1", "BUSY")
	require.NoError(t, err)
	assert.Equal(t, []string{"ws1"}, workspaces)
	assert.Equal(t, domain.PresenceStatusBusy, svc.Status("u1"))

	record, err := store.GetPresence(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.PresenceStatusBusy, record.Status)

	members := svc.GetWorkspacePresence(ctx, "ws1")
	require.Len(t, members, 1)
	assert.Equal(t, domain.PresenceStatusBusy, members[0].Status)

	// a second tab keeps the chosen status
	svc.Connect(ctx, "s2", alice())
	assert.Equal(t, domain.PresenceStatusBusy, svc.Status("u1"))

	_, err = svc.UpdateStatus(ctx, "u1", "sleeping")
	assert.True(t, errors.Is(err, domain.ErrInvalidStatus))
	assert.Equal(t, domain.PresenceStatusBusy, svc.Status("u1"))
}

func TestPresence_TypingExpires(t *testing.T) {
	svc, _, mr := setupPresence(t)
	ctx := context.Background()

	svc.Connect(ctx, "s1", alice())
	entry := svc.SetTyping(ctx, "u1", "ws1", "c1")
	assert.Equal(t, "Alice", entry.Name)

	entries := svc.GetTyping(ctx, "ws1", "c1")
	require.Len(t, entries, 1)
	assert.Equal(t, "u1", entries[0].UserID)

	mr.FastForward(11 * time.Second)
	assert.Empty(t, svc.GetTyping(ctx, "ws1", "c1"))

	svc.SetTyping(ctx, "u1", "ws1", "c1")
	svc.ClearTyping(ctx, "u1", "ws1", "c1")
	assert.Empty(t, svc.GetTyping(ctx, "ws1", "c1"))
}

func TestPresence_RefreshAllKeepsRecordsAlive(t *testing.T) {
	svc, store, mr := setupPresence(t)
	ctx := context.Background()

	svc.Connect(ctx, "s1", alice())
	_, _ = svc.JoinPresenceWorkspace(ctx, "u1", "ws1")

	mr.FastForward(40 * time.Second)
	assert.Equal(t, 1, svc.RefreshAll(ctx))
	mr.FastForward(40 * time.Second)

	record, err := store.GetPresence(ctx, "u1")
	require.NoError(t, err)
	assert.NotNil(t, record)
	assert.Len(t, svc.GetWorkspacePresence(ctx, "ws1"), 1)

	mr.FastForward(40 * time.Second)
	svc.Heartbeat(ctx, "u1")
	mr.FastForward(40 * time.Second)
	record, err = store.GetPresence(ctx, "u1")
	require.NoError(t, err)
	assert.NotNil(t, record)
}

func TestPresence_StoreFailuresAreSwallowed(t *testing.T) {
	store := &failingPresenceStore{}
	m := metrics.NewWithRegistry(prometheus.NewRegistry(), zap.NewNop())
	svc := NewPresenceService(store, zap.NewNop(), m)
	ctx := context.Background()

	svc.Connect(ctx, "s1", alice())
	assert.True(t, svc.IsConnected("u1"))

	members, joined := svc.JoinPresenceWorkspace(ctx, "u1", "ws1")
	assert.True(t, joined)
	require.Len(t, members, 1, "falls back to the local view")
	assert.Equal(t, "u1", members[0].UserID)

	_, err := svc.UpdateStatus(ctx, "u1", "away")
	assert.NoError(t, err)
	assert.Empty(t, svc.GetTyping(ctx, "ws1", "c1"))

	result := svc.Disconnect(ctx, "s1", "u1")
	assert.True(t, result.IsLastConnection)
	assert.Equal(t, []string{"ws1"}, result.PresenceWorkspaces)

	assert.Greater(t, store.calls, 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PresenceStoreErrors.WithLabelValues("delete_presence")))
}
