package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Closing commands.
const (
	ClosingCreate    = "create"
	ClosingReprocess = "reprocess"
)

// ExitAlreadyQueued is returned when a task for the same date is still retained.
const ExitAlreadyQueued = 10

// ClosingOptions defines the flags of the closing command.
type ClosingOptions struct {
	Operation  string
	Date       string
	ActorID    int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ClosingSummary describes the JSON response of the closing command.
type ClosingSummary struct {
	Operation string `json:"operation"`
	Date      string `json:"date,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	Queue     string `json:"queue,omitempty"`
	Queued    bool   `json:"queued"`
}

// ClosingCommand enqueues a closing create or reprocess and prints the outcome.
func (c *JobsCLI) ClosingCommand(ctx context.Context, opts ClosingOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	var date time.Time
	if raw := strings.TrimSpace(opts.Date); raw != "" {
		parsed, err := shared.ParseDate(raw)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "closing %s: invalid date %q (expected YYYY-MM-DD)\n", opts.Operation, opts.Date)
			return 1
		}
		date = parsed.Time
	}

	var (
		info *asynq.TaskInfo
		err  error
	)
	switch opts.Operation {
	case ClosingCreate:
		info, err = c.TriggerClosing(ctx, date, opts.ActorID)
	case ClosingReprocess:
		if date.IsZero() {
			_, _ = fmt.Fprintln(opts.Stderr, "closing reprocess: --date is required")
			return 1
		}
		info, err = c.TriggerReprocess(ctx, date, opts.ActorID)
	default:
		_, _ = fmt.Fprintf(opts.Stderr, "closing: unknown operation %q\n", opts.Operation)
		return 1
	}

	summary := ClosingSummary{Operation: opts.Operation}
	if !date.IsZero() {
		summary.Date = shared.NewDate(date).String()
	}
	exitCode := 0
	switch {
	case errors.Is(err, asynq.ErrTaskIDConflict), errors.Is(err, asynq.ErrDuplicateTask):
		exitCode = ExitAlreadyQueued
	case err != nil:
		_, _ = fmt.Fprintf(opts.Stderr, "closing %s: %v\n", opts.Operation, err)
		return 1
	default:
		summary.Queued = true
		summary.TaskID = info.ID
		summary.Queue = info.Queue
	}

	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "closing %s: encode json: %v\n", opts.Operation, err)
			return 1
		}
		return exitCode
	}
	renderClosingHuman(opts.Stdout, summary)
	return exitCode
}

func renderClosingHuman(out io.Writer, summary ClosingSummary) {
	date := summary.Date
	if date == "" {
		date = "yesterday"
	}
	if !summary.Queued {
		_, _ = fmt.Fprintf(out, "Closing %s for %s is already queued.\n", summary.Operation, date)
		return
	}
	_, _ = fmt.Fprintf(out, "Queued closing %s for %s (task %s on %s).\n", summary.Operation, date, summary.TaskID, summary.Queue)
}
