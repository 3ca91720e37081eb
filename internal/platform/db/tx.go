package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxConfig tunes a transaction opened by WithTxConfig.
type TxConfig struct {
	IsoLevel pgx.TxIsoLevel
	// LockTimeout bounds every lock wait inside the transaction; zero keeps the server default.
	LockTimeout time.Duration
}

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return WithTxConfig(ctx, pool, TxConfig{IsoLevel: pgx.RepeatableRead}, fn)
}

// WithTxConfig executes fn within a transaction using cfg. Errors are classified
// so callers see the shared taxonomy.
func WithTxConfig(ctx context.Context, pool *pgxpool.Pool, cfg TxConfig, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: cfg.IsoLevel})
	if err != nil {
		return Classify(fmt.Errorf("platform/db: begin tx: %w", err))
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if cfg.LockTimeout > 0 {
		// SET does not accept bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", cfg.LockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return Classify(fmt.Errorf("platform/db: set lock timeout: %w", err))
		}
	}

	if err := fn(tx); err != nil {
		return Classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Classify(fmt.Errorf("platform/db: commit tx: %w", err))
	}

	return nil
}
