package service

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"realtime-service/internal/domain"
	"realtime-service/internal/metrics"
)

// OfflineQueue holds events for users with no live connection on this
// process. Each user's queue is bounded in length (oldest dropped first) and
// in age (the whole queue is discarded once its oldest entry is too old).
type OfflineQueue struct {
	mu        sync.Mutex
	queues    map[string][]domain.QueuedEvent
	entries   int
	maxLength int
	maxAge    time.Duration
	now       func() time.Time
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewOfflineQueue(maxLength int, maxAge time.Duration, logger *zap.Logger, m *metrics.Metrics) *OfflineQueue {
	return &OfflineQueue{
		queues:    make(map[string][]domain.QueuedEvent),
		maxLength: maxLength,
		maxAge:    maxAge,
		now:       time.Now,
		logger:    logger,
		metrics:   m,
	}
}

// Enqueue appends an event to the user's queue. It never blocks and never
// grows a queue past maxLength.
func (q *OfflineQueue) Enqueue(userID, event string, data json.RawMessage) {
	entry := domain.QueuedEvent{
		Event:    event,
		Data:     data,
		QueuedAt: q.now(),
	}

	q.mu.Lock()
	queue := q.queues[userID]
	before := len(queue)
	dropped := false
	if len(queue) >= q.maxLength {
		// shift in place so the backing array does not creep forward
		n := copy(queue, queue[len(queue)-q.maxLength+1:])
		queue = queue[:n]
		dropped = true
	}
	queue = append(queue, entry)
	q.queues[userID] = queue
	q.entries += len(queue) - before
	users, entries := q.statsLocked()
	q.mu.Unlock()

	if dropped {
		q.metrics.RecordOfflineDropped("overflow", 1)
		q.logger.Debug("Offline queue full, dropped oldest event",
			zap.String("user_id", userID),
			zap.Int("max_length", q.maxLength),
		)
	}
	q.metrics.SetOfflineQueueSize(users, entries)
}

// Take removes and returns the user's whole backlog, or nil when there is
// none. Concurrent callers for the same user see the backlog exactly once.
func (q *OfflineQueue) Take(userID string) []domain.QueuedEvent {
	q.mu.Lock()
	queue, ok := q.queues[userID]
	if ok {
		delete(q.queues, userID)
		q.entries -= len(queue)
	}
	users, entries := q.statsLocked()
	q.mu.Unlock()

	if len(queue) == 0 {
		return nil
	}
	q.metrics.SetOfflineQueueSize(users, entries)
	return queue
}

// Requeue puts events taken for a user but never delivered back in front
// of anything queued since. Original queue times are kept, so the age sweep
// still applies to them. When the result exceeds maxLength the oldest
// entries are dropped.
func (q *OfflineQueue) Requeue(userID string, events []domain.QueuedEvent) {
	if len(events) == 0 {
		return
	}

	q.mu.Lock()
	current := q.queues[userID]
	merged := make([]domain.QueuedEvent, 0, len(events)+len(current))
	merged = append(merged, events...)
	merged = append(merged, current...)
	dropped := 0
	if len(merged) > q.maxLength {
		dropped = len(merged) - q.maxLength
		merged = merged[dropped:]
	}
	q.queues[userID] = merged
	q.entries += len(merged) - len(current)
	users, entries := q.statsLocked()
	q.mu.Unlock()

	if dropped > 0 {
		q.metrics.RecordOfflineDropped("overflow", dropped)
	}
	q.metrics.SetOfflineQueueSize(users, entries)
	q.logger.Debug("Requeued undelivered offline events",
		zap.String("user_id", userID),
		zap.Int("count", len(events)),
		zap.Int("dropped", dropped),
	)
}

// Len reports the number of events queued for a user.
func (q *OfflineQueue) Len(userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[userID])
}

// Sweep drops every queue whose oldest entry is older than maxAge at now,
// and returns the number of users whose queue was removed.
func (q *OfflineQueue) Sweep(now time.Time) int {
	cutoff := now.Add(-q.maxAge)

	q.mu.Lock()
	removedUsers, removedEntries := 0, 0
	for userID, queue := range q.queues {
		if len(queue) == 0 || queue[0].QueuedAt.Before(cutoff) {
			removedUsers++
			removedEntries += len(queue)
			delete(q.queues, userID)
		}
	}
	q.entries -= removedEntries
	users, entries := q.statsLocked()
	q.mu.Unlock()

	if removedEntries > 0 {
		q.metrics.RecordOfflineDropped("expired", removedEntries)
	}
	q.metrics.SetOfflineQueueSize(users, entries)
	return removedUsers
}

// Stats returns the number of users with queued events and the total
// number of queued events.
func (q *OfflineQueue) Stats() (users, entries int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

func (q *OfflineQueue) statsLocked() (users, entries int) {
	return len(q.queues), q.entries
}
