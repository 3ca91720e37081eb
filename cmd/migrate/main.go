package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

const usage = `usage: migrate [-path migrations] <command>

commands:
  up               apply all pending migrations
  down             roll back all migrations
  step <n>         apply n migrations (negative rolls back)
  version          print the applied version
  force <version>  mark version as applied (clears a dirty state)
`

func main() {
	path := flag.String("path", "migrations", "directory holding the SQL migrations")
	flag.Usage = func() { _, _ = fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	m, err := db.NewMigrator(cfg.PGDSN, *path, logger)
	if err != nil {
		logger.Error("init migrator", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("close migrator", slog.Any("error", err))
		}
	}()

	if err := run(m, args); err != nil {
		logger.Error("migrate", slog.String("command", args[0]), slog.Any("error", err))
		os.Exit(1)
	}
}

func run(m *db.Migrator, args []string) error {
	switch args[0] {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	case "step":
		if len(args) < 2 {
			return fmt.Errorf("step count required")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid step count %q", args[1])
		}
		return m.Steps(n)
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(os.Stdout, "version %d (dirty=%t)\n", version, dirty)
		return nil
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("version required")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q", args[1])
		}
		return m.Force(version)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}
