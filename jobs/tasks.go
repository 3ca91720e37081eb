package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries closing tasks ahead of housekeeping.
	QueueCritical = "critical"

	// TaskClosingCreate closes a calendar day. Without a date it closes
	// yesterday in the configured closing timezone.
	TaskClosingCreate = "closing:create"
	// TaskClosingReprocess regenerates the items of an existing closing.
	TaskClosingReprocess = "closing:reprocess"
	// TaskIdempotencyCleanup purges old payment idempotency keys.
	TaskIdempotencyCleanup = "ledger:idempotency-cleanup"
)

// ClosingPayload names the day to close or reprocess. An empty Date on a
// create task means yesterday.
type ClosingPayload struct {
	Date    string `json:"date,omitempty"`
	ActorID int64  `json:"actor_id,omitempty"`
}

// NewClosingCreateTask builds a closing:create task. A zero date yields the
// cron form that resolves yesterday when it runs.
func NewClosingCreateTask(date time.Time, actorID int64) (*asynq.Task, error) {
	payload := ClosingPayload{ActorID: actorID}
	opts := []asynq.Option{asynq.Queue(QueueCritical), asynq.MaxRetry(5)}
	if !date.IsZero() {
		payload.Date = shared.NewDate(date).String()
		opts = append(opts, asynq.TaskID(shared.ClosingTaskID("create", date)))
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskClosingCreate, body, opts...), nil
}

// NewClosingReprocessTask builds a closing:reprocess task for date.
func NewClosingReprocessTask(date time.Time, actorID int64) (*asynq.Task, error) {
	if date.IsZero() {
		return nil, fmt.Errorf("jobs: reprocess requires a date")
	}
	body, err := json.Marshal(ClosingPayload{Date: shared.NewDate(date).String(), ActorID: actorID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskClosingReprocess, body, asynq.Queue(QueueCritical), asynq.MaxRetry(5)), nil
}

// IdempotencyCleanupPayload configures key retention.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask builds a cleanup task keeping keys for retention.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention.Hours())})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}
