package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/closing"
	"github.com/odyssey-erp/odyssey-ledger/internal/customers"
	"github.com/odyssey-erp/odyssey-ledger/internal/finance"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/internal/refdata"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(runJobs(ctx, cfg, os.Args[2:]))
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// Refdata falls back to the database when the cache is unavailable.
		logger.Warn("redis unavailable, refdata cache disabled", slog.Any("error", err))
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)

	refdataService := refdata.NewService(refdata.NewRepository(dbpool), redisClient, cfg.RefdataCacheTTL)
	customerDirectory := customers.NewDirectory(dbpool)

	financeService := finance.NewService(finance.NewRepository(dbpool, cfg.LockTimeout), logger)
	financeService.SetAuditRecorder(auditLogger)

	ledgerService := ledger.NewService(ledger.NewRepository(dbpool, cfg.LockTimeout), customerDirectory, refdataService, logger)
	ledgerService.SetReceivableSource(financeService)
	ledgerService.SetAuditRecorder(auditLogger)

	closingService := closing.NewService(closing.NewRepository(dbpool, cfg.LockTimeout), logger)
	closingService.SetAuditRecorder(auditLogger)
	closingService.SetMetrics(metrics)

	rbacMiddleware := rbac.Middleware{Service: rbac.NewService(nil), Logger: logger}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("asynq inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		LedgerHandler:  ledger.NewHandler(logger, ledgerService, rbacMiddleware, cfg.ClosingLocation()),
		FinanceHandler: finance.NewHandler(logger, financeService, rbacMiddleware),
		ClosingHandler: closing.NewHandler(logger, closingService, rbacMiddleware),
		JobsHandler:    jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
		Database:       dbpool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
