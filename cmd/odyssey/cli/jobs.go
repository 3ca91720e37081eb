package cli

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// Enqueuer submits tasks. *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Inspector reads queue state. *asynq.Inspector satisfies it.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    Enqueuer
	inspector Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: redisAddr})
	return &JobsCLI{client: client, inspector: inspector}, nil
}

// NewJobsCLIWith builds the helpers over explicit collaborators.
func NewJobsCLIWith(client Enqueuer, inspector Inspector) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Enqueue submits a prepared task.
func (c *JobsCLI) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueueContext(ctx, task, opts...)
}

// TriggerClosing enqueues a closing for date; a zero date closes yesterday.
func (c *JobsCLI) TriggerClosing(ctx context.Context, date time.Time, actorID int64) (*asynq.TaskInfo, error) {
	task, err := jobs.NewClosingCreateTask(date, actorID)
	if err != nil {
		return nil, err
	}
	return c.Enqueue(ctx, task)
}

// TriggerReprocess enqueues a reprocess of date.
func (c *JobsCLI) TriggerReprocess(ctx context.Context, date time.Time, actorID int64) (*asynq.TaskInfo, error) {
	task, err := jobs.NewClosingReprocessTask(date, actorID)
	if err != nil {
		return nil, err
	}
	return c.Enqueue(ctx, task)
}

// TriggerIdempotencyCleanup enqueues a purge of old idempotency keys.
func (c *JobsCLI) TriggerIdempotencyCleanup(ctx context.Context, retention time.Duration) (*asynq.TaskInfo, error) {
	if retention <= 0 {
		retention = jobs.DefaultIdempotencyRetention
	}
	task, err := jobs.NewIdempotencyCleanupTask(retention)
	if err != nil {
		return nil, err
	}
	return c.Enqueue(ctx, task)
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
}

// InspectQueue reports the metrics for queue, defaulting to the closing queue.
func (c *JobsCLI) InspectQueue(ctx context.Context, queue string) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	if queue == "" {
		queue = jobs.QueueCritical
	}
	info, err := c.inspector.GetQueueInfo(queue)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: queue}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, queue string, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if queue == "" {
		queue = jobs.QueueCritical
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(queue, asynq.PageSize(size), asynq.Page(1))
}
