package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/odyssey-erp/odyssey-ledger/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
)

const jobsUsage = `usage: odyssey jobs <command> [flags]

commands:
  closing    enqueue a closing (--op create|reprocess --date YYYY-MM-DD)
  cleanup    enqueue an idempotency key purge (--retention 168h)
  queue      print queue statistics (--queue critical)
`

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(os.Stderr, jobsUsage)
		return 2
	}
	ops, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
		return 1
	}
	defer func() { _ = ops.Close() }()

	fs := flag.NewFlagSet("jobs "+args[0], flag.ContinueOnError)
	switch args[0] {
	case "closing":
		op := fs.String("op", cli.ClosingCreate, "create or reprocess")
		date := fs.String("date", "", "closing date (YYYY-MM-DD); create defaults to yesterday")
		actor := fs.Int64("actor", cfg.SystemUserID, "user id recorded as the closing author")
		asJSON := fs.Bool("json", false, "print JSON output")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		return ops.ClosingCommand(ctx, cli.ClosingOptions{
			Operation:  *op,
			Date:       *date,
			ActorID:    *actor,
			JSONOutput: *asJSON,
		})
	case "cleanup":
		retention := fs.Duration("retention", 0, "keep keys newer than this")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		info, err := ops.TriggerIdempotencyCleanup(ctx, *retention)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "jobs cleanup: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(os.Stdout, "Queued %s (task %s).\n", info.Type, info.ID)
		return 0
	case "queue":
		queue := fs.String("queue", "", "queue name")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		stats, err := ops.InspectQueue(ctx, *queue)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "jobs queue: %v\n", err)
			return 1
		}
		if err := json.NewEncoder(os.Stdout).Encode(stats); err != nil {
			return 1
		}
		return 0
	default:
		_, _ = fmt.Fprint(os.Stderr, jobsUsage)
		return 2
	}
}
