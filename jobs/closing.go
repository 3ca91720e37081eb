package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/closing"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ClosingService is the part of the closing service the worker drives.
type ClosingService interface {
	CreateClosing(ctx context.Context, in closing.CreateInput) (closing.Closing, error)
	ReprocessClosing(ctx context.Context, date time.Time, actorID int64) (closing.Closing, error)
}

// ClosingJob runs daily closings from the queue.
type ClosingJob struct {
	Service      ClosingService
	Logger       *slog.Logger
	Metrics      *jobmetrics.Metrics
	Location     *time.Location
	SystemUserID int64
	clock        func() time.Time
}

// NewClosingJob constructs the job handlers.
func NewClosingJob(service ClosingService, loc *time.Location, systemUserID int64, logger *slog.Logger, metrics *jobmetrics.Metrics) *ClosingJob {
	return &ClosingJob{
		Service:      service,
		Logger:       logger,
		Metrics:      metrics,
		Location:     loc,
		SystemUserID: systemUserID,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// HandleCreate closes the payload date, or yesterday in the closing timezone.
// A day that is already closed counts as a skipped run rather than a failure.
func (j *ClosingJob) HandleCreate(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("closing job: service not configured")
	}
	payload, err := decodeClosingPayload(task)
	if err != nil {
		return err
	}
	date := shared.Yesterday(j.now(), j.Location).Time
	if payload.Date != "" {
		parsed, err := shared.ParseDate(payload.Date)
		if err != nil {
			return fmt.Errorf("closing payload: %v: %w", err, asynq.SkipRetry)
		}
		date = parsed.Time
	}

	tracker := j.metrics().Track(TaskClosingCreate)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.log(TaskClosingCreate).With(slog.String("date", shared.NewDate(date).String()))
	result, err := j.Service.CreateClosing(ctx, closing.CreateInput{Date: date, ActorID: j.actor(payload)})
	switch {
	case err == nil:
		logger.Info("closing created", slog.Int64("closing_id", result.Header.ID), slog.Int("items", len(result.Items)))
	case shared.IsRetryable(err):
		resultErr = err
		logger.Warn("closing date busy, retrying", slog.Any("error", err))
	case errors.Is(err, shared.ErrConflict):
		j.metrics().Skipped(TaskClosingCreate, "already_closed")
		logger.Info("closing already exists")
	case errors.Is(err, shared.ErrValidation):
		resultErr = fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		logger.Error("closing rejected", slog.Any("error", err))
	default:
		resultErr = err
		logger.Error("create closing", slog.Any("error", err))
	}
	return resultErr
}

// HandleReprocess regenerates the items of the payload date.
func (j *ClosingJob) HandleReprocess(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("closing job: service not configured")
	}
	payload, err := decodeClosingPayload(task)
	if err != nil {
		return err
	}
	parsed, err := shared.ParseDate(payload.Date)
	if err != nil {
		return fmt.Errorf("closing payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskClosingReprocess)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.log(TaskClosingReprocess).With(slog.String("date", parsed.String()))
	result, err := j.Service.ReprocessClosing(ctx, parsed.Time, j.actor(payload))
	switch {
	case err == nil:
		logger.Info("closing reprocessed", slog.Int64("closing_id", result.Header.ID), slog.Int("items", len(result.Items)))
	case errors.Is(err, shared.ErrNotFound):
		resultErr = fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		logger.Warn("closing not found")
	default:
		resultErr = err
		logger.Error("reprocess closing", slog.Any("error", err))
	}
	return resultErr
}

func decodeClosingPayload(task *asynq.Task) (ClosingPayload, error) {
	var payload ClosingPayload
	if len(task.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("closing payload: %v: %w", err, asynq.SkipRetry)
	}
	return payload, nil
}

func (j *ClosingJob) actor(payload ClosingPayload) int64 {
	if payload.ActorID > 0 {
		return payload.ActorID
	}
	return j.SystemUserID
}

func (j *ClosingJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ClosingJob) log(task string) *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", task))
	}
	return slog.Default().With(slog.String("job", task))
}

func (j *ClosingJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *ClosingJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
