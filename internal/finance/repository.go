package finance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// ErrNotFound indicates a missing row.
var ErrNotFound = errors.New("finance: record not found")

// Repository persists titles and settlements.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error

	InsertTitle(ctx context.Context, title Title) (Title, error)
	GetTitle(ctx context.Context, id int64) (Title, error)
	GetTitleForUpdate(ctx context.Context, id int64) (Title, error)
	ListTitles(ctx context.Context, filter TitleFilter) ([]Title, error)
	UpdateTitleSettlement(ctx context.Context, id int64, settled decimal.Decimal, status TitleStatus) error
	UpdateTitleStatus(ctx context.Context, id int64, status TitleStatus) error

	InsertSettlement(ctx context.Context, s Settlement) (Settlement, error)
	ListSettlements(ctx context.Context, titleID int64) ([]Settlement, error)
	CountSettlements(ctx context.Context, titleID int64) (int, error)

	BlockCustomer(ctx context.Context, blockID int64) (int64, error)
	LinkedEntry(ctx context.Context, entryID int64) (LinkedEntry, error)
	MatchCandidates(ctx context.Context, title Title) ([]MatchCandidate, error)
	MarkEntrySettledInFinance(ctx context.Context, entryID int64) (bool, error)

	Receivable(ctx context.Context, customerID int64) (decimal.Decimal, error)
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

// NewRepository constructs the PostgreSQL finance store.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) Repository {
	return &repository{db: pool, pool: pool, lockTimeout: lockTimeout}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	cfg := db.TxConfig{IsoLevel: pgx.ReadCommitted, LockTimeout: r.lockTimeout}
	return db.WithTxConfig(ctx, r.pool, cfg, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool, lockTimeout: r.lockTimeout})
	})
}

// ============================================================================
// TITLES
// ============================================================================

const titleColumns = `id, customer_id, block_id, entry_id, kind, direction, amount_gross, amount_settled,
	due_date, status, note, COALESCE(created_by, 0), created_at, updated_at`

func scanTitle(row pgx.Row) (Title, error) {
	var t Title
	err := row.Scan(&t.ID, &t.CustomerID, &t.BlockID, &t.EntryID, &t.Kind, &t.Direction,
		&t.AmountGross, &t.AmountSettled, &t.DueDate, &t.Status, &t.Note, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Title{}, ErrNotFound
		}
		return Title{}, db.Classify(err)
	}
	return t, nil
}

func (r *repository) InsertTitle(ctx context.Context, t Title) (Title, error) {
	query := `
		INSERT INTO financial_titles (
			customer_id, block_id, entry_id, kind, direction, amount_gross, amount_settled,
			due_date, status, note, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, 0, $7, $8, $9, NULLIF($10, 0), NOW(), NOW())
		RETURNING ` + titleColumns
	return scanTitle(r.db.QueryRow(ctx, query,
		t.CustomerID, t.BlockID, t.EntryID, t.Kind, t.Direction, t.AmountGross.String(),
		t.DueDate, t.Status, t.Note, t.CreatedBy))
}

func (r *repository) GetTitle(ctx context.Context, id int64) (Title, error) {
	return scanTitle(r.db.QueryRow(ctx, `SELECT `+titleColumns+` FROM financial_titles WHERE id = $1`, id))
}

func (r *repository) GetTitleForUpdate(ctx context.Context, id int64) (Title, error) {
	return scanTitle(r.db.QueryRow(ctx, `SELECT `+titleColumns+` FROM financial_titles WHERE id = $1 FOR UPDATE`, id))
}

func (r *repository) ListTitles(ctx context.Context, filter TitleFilter) ([]Title, error) {
	var conditions []string
	var args []any
	if filter.CustomerID != nil {
		args = append(args, *filter.CustomerID)
		conditions = append(conditions, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + titleColumns + ` FROM financial_titles`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY due_date, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	var titles []Title
	for rows.Next() {
		t, err := scanTitle(rows)
		if err != nil {
			return nil, err
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

func (r *repository) UpdateTitleSettlement(ctx context.Context, id int64, settled decimal.Decimal, status TitleStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE financial_titles
		SET amount_settled = $2::numeric, status = $3, updated_at = NOW()
		WHERE id = $1`, id, settled.String(), status)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) UpdateTitleStatus(ctx context.Context, id int64, status TitleStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE financial_titles SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ============================================================================
// SETTLEMENTS
// ============================================================================

func (r *repository) InsertSettlement(ctx context.Context, s Settlement) (Settlement, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO title_settlements (title_id, amount, paid_at, note, created_by, created_at)
		VALUES ($1, $2::numeric, $3, $4, NULLIF($5, 0), NOW())
		RETURNING id, created_at`,
		s.TitleID, s.Amount.String(), s.PaidAt, s.Note, s.CreatedBy,
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return Settlement{}, db.Classify(err)
	}
	return s, nil
}

func (r *repository) ListSettlements(ctx context.Context, titleID int64) ([]Settlement, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, title_id, amount, paid_at, note, COALESCE(created_by, 0), created_at
		FROM title_settlements
		WHERE title_id = $1
		ORDER BY paid_at, id`, titleID)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	var out []Settlement
	for rows.Next() {
		var s Settlement
		if err := rows.Scan(&s.ID, &s.TitleID, &s.Amount, &s.PaidAt, &s.Note, &s.CreatedBy, &s.CreatedAt); err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *repository) CountSettlements(ctx context.Context, titleID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM title_settlements WHERE title_id = $1`, titleID).Scan(&n)
	return n, db.Classify(err)
}

// ============================================================================
// LEDGER LINKS
// ============================================================================

func (r *repository) BlockCustomer(ctx context.Context, blockID int64) (int64, error) {
	var customerID int64
	err := r.db.QueryRow(ctx, `SELECT customer_id FROM blocks WHERE id = $1`, blockID).Scan(&customerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, db.Classify(err)
	}
	return customerID, nil
}

func (r *repository) LinkedEntry(ctx context.Context, entryID int64) (LinkedEntry, error) {
	var e LinkedEntry
	err := r.db.QueryRow(ctx, `
		SELECT e.id, e.block_id, b.customer_id, e.kind, e.direction, e.amount, e.maturity_date
		FROM ledger_entries e
		JOIN blocks b ON b.id = e.block_id
		WHERE e.id = $1`, entryID,
	).Scan(&e.EntryID, &e.BlockID, &e.CustomerID, &e.Kind, &e.Direction, &e.Amount, &e.MaturityDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LinkedEntry{}, ErrNotFound
		}
		return LinkedEntry{}, db.Classify(err)
	}
	return e, nil
}

// MatchCandidates locks the block's entries sharing the title's direction and
// kind that are still PENDING or SETTLED, most recently created first.
func (r *repository) MatchCandidates(ctx context.Context, t Title) ([]MatchCandidate, error) {
	if t.BlockID == nil {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, amount, maturity_date, created_at
		FROM ledger_entries
		WHERE block_id = $1
		  AND direction = $2
		  AND kind = $3
		  AND status IN ($4, $5)
		ORDER BY created_at DESC, id DESC
		FOR UPDATE`,
		*t.BlockID, t.Direction, t.Kind, ledger.EntryStatusPending, ledger.EntryStatusSettled)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	var out []MatchCandidate
	for rows.Next() {
		var c MatchCandidate
		if err := rows.Scan(&c.EntryID, &c.Amount, &c.MaturityDate, &c.CreatedAt); err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repository) MarkEntrySettledInFinance(ctx context.Context, entryID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE ledger_entries SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)`,
		entryID, ledger.EntryStatusSettledInFinance, ledger.EntryStatusPending, ledger.EntryStatusSettled)
	if err != nil {
		return false, db.Classify(err)
	}
	return tag.RowsAffected() > 0, nil
}

// ============================================================================
// RECEIVABLES
// ============================================================================

// Receivable sums gross minus settled over OPEN and PARTIAL titles, across all
// of the customer's blocks.
func (r *repository) Receivable(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_gross - amount_settled), 0)
		FROM financial_titles
		WHERE customer_id = $1 AND status IN ('OPEN', 'PARTIAL')`, customerID).Scan(&total)
	if err != nil {
		return decimal.Zero, db.Classify(err)
	}
	return total, nil
}
