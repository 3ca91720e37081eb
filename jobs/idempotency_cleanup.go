package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// DefaultIdempotencyRetention keeps payment keys for a week.
const DefaultIdempotencyRetention = 7 * 24 * time.Hour

// IdempotencyCleaner purges processed keys older than a retention window.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob deletes stale idempotency keys.
type IdempotencyCleanupJob struct {
	Store   IdempotencyCleaner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob constructs the job handler.
func NewIdempotencyCleanupJob(store IdempotencyCleaner, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle executes the cleanup.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: store not configured")
	}
	retention := DefaultIdempotencyRetention
	if len(task.Payload()) > 0 {
		var payload IdempotencyCleanupPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("idempotency payload: %v: %w", err, asynq.SkipRetry)
		}
		if payload.RetentionHours > 0 {
			retention = time.Duration(payload.RetentionHours) * time.Hour
		}
	}

	tracker := j.metrics().Track(TaskIdempotencyCleanup)
	purged, err := j.Store.Cleanup(ctx, retention)
	if err != nil {
		j.log().Error("cleanup idempotency keys", slog.Any("error", err))
		return tracker.End(err)
	}
	if purged == 0 {
		j.metrics().Skipped(TaskIdempotencyCleanup, "nothing_to_purge")
	}
	j.log().Info("purged idempotency keys", slog.Int64("purged", purged), slog.Duration("retention", retention))
	return tracker.End(nil)
}

func (j *IdempotencyCleanupJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *IdempotencyCleanupJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskIdempotencyCleanup))
	}
	return slog.Default().With(slog.String("job", TaskIdempotencyCleanup))
}
