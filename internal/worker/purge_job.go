package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Purger physically removes sessions soft-deleted before a cutoff.
type Purger interface {
	PurgeDeleted(ctx context.Context, before time.Time) (int64, error)
}

// PurgeJob runs Purger on a cron schedule (with seconds field).
type PurgeJob struct {
	cron      *cron.Cron
	purger    Purger
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewPurgeJob(purger Purger, schedule string, retention time.Duration, logger *zap.Logger) (*PurgeJob, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	j := &PurgeJob{
		cron:      cron.New(cron.WithSeconds()),
		purger:    purger,
		retention: retention,
		logger:    logger.Named("purge"),
		now:       time.Now,
	}
	if _, err := j.cron.AddFunc(schedule, func() { _, _ = j.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("parse purge schedule %q failed: %w", schedule, err)
	}
	return j, nil
}

func (j *PurgeJob) Start() {
	j.cron.Start()
	j.logger.Info("purge job scheduled", zap.Duration("retention", j.retention))
}

// Stop waits for a running purge to finish.
func (j *PurgeJob) Stop() {
	<-j.cron.Stop().Done()
}

func (j *PurgeJob) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.retention)
	n, err := j.purger.PurgeDeleted(ctx, cutoff)
	if err != nil {
		j.logger.Error("purge deleted sessions failed", zap.Error(err))
		return 0, err
	}
	if n > 0 {
		j.logger.Info("purged deleted sessions", zap.Int64("count", n), zap.Time("before", cutoff))
	}
	return n, nil
}
