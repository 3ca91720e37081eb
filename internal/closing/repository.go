package closing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// ErrNotFound indicates a missing row.
var ErrNotFound = errors.New("closing: record not found")

const constraintHeaderDate = "closing_headers_reference_date_key"

// Repository persists closing headers and their item snapshots.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error

	LockDate(ctx context.Context, date time.Time) error
	GetHeader(ctx context.Context, date time.Time) (Header, error)
	GetHeaderForUpdate(ctx context.Context, date time.Time) (Header, error)
	InsertHeader(ctx context.Context, h Header) (Header, error)
	MarkReprocessed(ctx context.Context, id int64, at time.Time) error
	ListHeaders(ctx context.Context, from, to *time.Time) ([]Header, error)

	DeleteItems(ctx context.Context, closingID int64) (int64, error)
	SnapshotItems(ctx context.Context, closingID int64, date time.Time) (int64, error)
	ListItems(ctx context.Context, closingID int64) ([]Item, error)
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type repository struct {
	db          dbtx
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewRepository constructs the PostgreSQL closing store.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) Repository {
	return &repository{db: pool, pool: pool, lockTimeout: lockTimeout}
}

// WithTx runs fn in a serializable transaction. Serialization failures and
// lock timeouts surface as shared.ErrBusy.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	cfg := db.TxConfig{IsoLevel: pgx.Serializable, LockTimeout: r.lockTimeout}
	return db.WithTxConfig(ctx, r.pool, cfg, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool, lockTimeout: r.lockTimeout})
	})
}

// LockDate serialises closings of the same calendar day, including the first
// one when no header row exists yet to lock.
func (r *repository) LockDate(ctx context.Context, date time.Time) error {
	_, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock($1, $2)`,
		shared.LockNamespaceClosingDate, shared.ClosingDateLockKey(date))
	return db.Classify(err)
}

// ============================================================================
// HEADERS
// ============================================================================

const headerColumns = `id, reference_date, note, COALESCE(created_by, 0), created_at, reprocessed_at`

func scanHeader(row pgx.Row) (Header, error) {
	var h Header
	if err := row.Scan(&h.ID, &h.ReferenceDate, &h.Note, &h.CreatedBy, &h.CreatedAt, &h.ReprocessedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Header{}, ErrNotFound
		}
		return Header{}, db.Classify(err)
	}
	return h, nil
}

func (r *repository) GetHeader(ctx context.Context, date time.Time) (Header, error) {
	return scanHeader(r.db.QueryRow(ctx,
		`SELECT `+headerColumns+` FROM closing_headers WHERE reference_date = $1`, date))
}

func (r *repository) GetHeaderForUpdate(ctx context.Context, date time.Time) (Header, error) {
	return scanHeader(r.db.QueryRow(ctx,
		`SELECT `+headerColumns+` FROM closing_headers WHERE reference_date = $1 FOR UPDATE`, date))
}

func (r *repository) InsertHeader(ctx context.Context, h Header) (Header, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO closing_headers (reference_date, note, created_by, created_at)
		VALUES ($1, $2, NULLIF($3, 0), NOW())
		RETURNING id, created_at`,
		h.ReferenceDate, h.Note, h.CreatedBy,
	).Scan(&h.ID, &h.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, constraintHeaderDate) {
			return Header{}, shared.Conflictf("closing for %s already exists", h.ReferenceDate.Format(shared.DateLayout))
		}
		return Header{}, db.Classify(err)
	}
	return h, nil
}

func (r *repository) MarkReprocessed(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE closing_headers SET reprocessed_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) ListHeaders(ctx context.Context, from, to *time.Time) ([]Header, error) {
	var conditions []string
	var args []any
	if from != nil {
		args = append(args, *from)
		conditions = append(conditions, fmt.Sprintf("reference_date >= $%d", len(args)))
	}
	if to != nil {
		args = append(args, *to)
		conditions = append(conditions, fmt.Sprintf("reference_date <= $%d", len(args)))
	}
	query := `SELECT ` + headerColumns + ` FROM closing_headers`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY reference_date DESC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	var headers []Header
	for rows.Next() {
		h, err := scanHeader(rows)
		if err != nil {
			return nil, err
		}
		headers = append(headers, h)
	}
	return headers, rows.Err()
}

// ============================================================================
// ITEMS
// ============================================================================

func (r *repository) DeleteItems(ctx context.Context, closingID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM closing_items WHERE closing_id = $1`, closingID)
	if err != nil {
		return 0, db.Classify(err)
	}
	return tag.RowsAffected(), nil
}

// SnapshotItems copies every entry dated date, with its current status, into
// the closing's items.
func (r *repository) SnapshotItems(ctx context.Context, closingID int64, date time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO closing_items (
			closing_id, reference_date, entry_id, block_id, kind, direction, amount, status_at_closing
		)
		SELECT $1, $2, e.id, e.block_id, e.kind, e.direction, e.amount, e.status
		FROM ledger_entries e
		WHERE e.entry_date = $2
		ORDER BY e.id`, closingID, date)
	if err != nil {
		return 0, db.Classify(err)
	}
	return tag.RowsAffected(), nil
}

func (r *repository) ListItems(ctx context.Context, closingID int64) ([]Item, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, closing_id, reference_date, entry_id, block_id, kind, direction, amount, status_at_closing
		FROM closing_items
		WHERE closing_id = $1
		ORDER BY entry_id`, closingID)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.ClosingID, &it.ReferenceDate, &it.EntryID, &it.BlockID,
			&it.Kind, &it.Direction, &it.Amount, &it.Status); err != nil {
			return nil, db.Classify(err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
