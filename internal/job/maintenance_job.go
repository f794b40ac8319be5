package job

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// QueueSweeper drops stale offline backlogs.
type QueueSweeper interface {
	Sweep(now time.Time) int
	Stats() (users, entries int)
}

// PresenceRefresher re-extends the presence records of live users.
type PresenceRefresher interface {
	RefreshAll(ctx context.Context) int
}

// OfflineQueueSweepJob removes backlogs whose oldest event is past the
// retention age.
type OfflineQueueSweepJob struct {
	queue  QueueSweeper
	logger *zap.Logger
	now    func() time.Time
}

func NewOfflineQueueSweepJob(queue QueueSweeper, logger *zap.Logger) *OfflineQueueSweepJob {
	return &OfflineQueueSweepJob{queue: queue, logger: logger, now: time.Now}
}

func (j *OfflineQueueSweepJob) Run() {
	removed := j.queue.Sweep(j.now())
	users, entries := j.queue.Stats()

	if removed == 0 {
		j.logger.Debug("Offline queue sweep found nothing to expire",
			zap.Int("users", users),
			zap.Int("entries", entries),
		)
		return
	}
	j.logger.Info("Offline queue sweep completed",
		zap.Int("expired_users", removed),
		zap.Int("users", users),
		zap.Int("entries", entries),
	)
}

// PresenceRefreshJob keeps presence records of connected users from expiring
// between client heartbeats.
type PresenceRefreshJob struct {
	presence PresenceRefresher
	timeout  time.Duration
	logger   *zap.Logger
}

func NewPresenceRefreshJob(presence PresenceRefresher, timeout time.Duration, logger *zap.Logger) *PresenceRefreshJob {
	return &PresenceRefreshJob{presence: presence, timeout: timeout, logger: logger}
}

func (j *PresenceRefreshJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := time.Now()
	refreshed := j.presence.RefreshAll(ctx)
	j.logger.Debug("Presence refresh completed",
		zap.Int("users", refreshed),
		zap.Duration("duration", time.Since(start)),
	)
}
