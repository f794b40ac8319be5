package job

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs the service's periodic maintenance jobs. A job that is
// still running when its next tick fires is skipped, and a panicking job is
// logged without stopping the scheduler.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
	}
}

// Every schedules job at a fixed interval. Intervals below one second are
// rounded up by the scheduler.
func (s *Scheduler) Every(name string, interval time.Duration, job cron.Job) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	if _, err := s.cron.AddJob("@every "+interval.String(), job); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	s.logger.Info("Scheduled job", zap.String("job", name), zap.Duration("interval", interval))
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts zap to the cron.Logger interface.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
