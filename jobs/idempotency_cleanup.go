package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/custody/internal/jobs"
)

// DefaultRetention keeps idempotency keys for a week.
const DefaultRetention = 7 * 24 * time.Hour

// KeyCleaner removes expired idempotency keys.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob purges keys older than Retention.
type IdempotencyCleanupJob struct {
	Keys      KeyCleaner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob initialises the sweep handler.
func NewIdempotencyCleanupJob(keys KeyCleaner, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IdempotencyCleanupJob{Keys: keys, Retention: retention, Logger: logger, Metrics: metrics}
}

// Handle executes the sweep.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Keys == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	n, err := j.Keys.Cleanup(ctx, j.Retention)
	if err != nil {
		j.Logger.Error("idempotency cleanup failed", slog.String("job", TaskIdempotencyCleanup), slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.AddPurged(n)
	j.Logger.Info("idempotency cleanup completed",
		slog.String("job", TaskIdempotencyCleanup),
		slog.Int64("purged", n),
		slog.Duration("retention", j.Retention))
	return tracker.End(nil)
}
