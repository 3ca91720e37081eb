package ledger

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

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

var (
	// ErrNotFound indicates a missing row.
	ErrNotFound = errors.New("ledger: record not found")
)

const (
	idempotencyModule  = "ledger.payment"
	constraintOpenCode = "ux_blocks_open_code"
)

// Repository is the Ledger Store. Methods that lock rows only make sense on a
// repository obtained inside WithTx.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error

	LockCustomerBlocks(ctx context.Context, customerID int64) error
	LockOrder(ctx context.Context, orderID int64) error
	ClaimIdempotencyKey(ctx context.Context, key string) error

	InsertBlock(ctx context.Context, block Block) (Block, error)
	GetBlock(ctx context.Context, id int64) (Block, error)
	GetBlockForUpdate(ctx context.Context, id int64) (Block, error)
	GetBlockForShare(ctx context.Context, id int64) (Block, error)
	FindOpenBlockByCode(ctx context.Context, customerID int64, code string) (Block, error)
	LatestOpenBlock(ctx context.Context, customerID int64) (Block, error)
	ListBlocks(ctx context.Context, filter BlockFilter) ([]Block, error)
	MarkBlockClosed(ctx context.Context, id int64, closedAt time.Time) error

	OrderExists(ctx context.Context, orderID int64) (bool, error)
	OrderBlock(ctx context.Context, orderID int64) (int64, error)
	AttachOrder(ctx context.Context, blockID, orderID, actorID int64) error

	InsertEntry(ctx context.Context, entry Entry) (Entry, error)
	GetEntry(ctx context.Context, id int64) (Entry, error)
	GetEntryForUpdate(ctx context.Context, id int64) (Entry, error)
	ListEntries(ctx context.Context, blockID int64, filter EntryFilter) ([]Entry, error)
	UpdateEntryStatus(ctx context.Context, id int64, status EntryStatus) error
	DeleteEntry(ctx context.Context, id int64) error
	EntryInClosing(ctx context.Context, id int64) (bool, error)

	BlockBalance(ctx context.Context, blockID int64) (decimal.Decimal, error)
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

// NewRepository constructs the PostgreSQL ledger store.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) Repository {
	return &repository{db: pool, pool: pool, lockTimeout: lockTimeout}
}

// WithTx runs fn in a read-committed transaction, so every statement after a
// lock is acquired reads the latest committed rows.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	cfg := db.TxConfig{IsoLevel: pgx.ReadCommitted, LockTimeout: r.lockTimeout}
	return db.WithTxConfig(ctx, r.pool, cfg, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool, lockTimeout: r.lockTimeout})
	})
}

// Advisory locks guard check-then-act on rows that may not exist yet. Key
// collisions from the int32 fold only over-serialize.
func (r *repository) LockCustomerBlocks(ctx context.Context, customerID int64) error {
	_, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, shared.LockNamespaceCustomerBlocks, int32(customerID))
	return db.Classify(err)
}

func (r *repository) LockOrder(ctx context.Context, orderID int64) error {
	_, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, shared.LockNamespaceOrder, int32(orderID))
	return db.Classify(err)
}

func (r *repository) ClaimIdempotencyKey(ctx context.Context, key string) error {
	return shared.ClaimIdempotencyKey(ctx, r.db, key, idempotencyModule)
}

// ============================================================================
// BLOCKS
// ============================================================================

const blockColumns = `id, customer_id, code, status, note, COALESCE(created_by, 0), opened_at, closed_at`

func scanBlock(row pgx.Row) (Block, error) {
	var b Block
	err := row.Scan(&b.ID, &b.CustomerID, &b.Code, &b.Status, &b.Note, &b.CreatedBy, &b.OpenedAt, &b.ClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Block{}, ErrNotFound
		}
		return Block{}, db.Classify(err)
	}
	return b, nil
}

func (r *repository) InsertBlock(ctx context.Context, block Block) (Block, error) {
	query := `
		INSERT INTO blocks (customer_id, code, status, note, created_by, opened_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, 0), $6)
		RETURNING ` + blockColumns
	var b Block
	err := r.db.QueryRow(ctx, query,
		block.CustomerID, block.Code, block.Status, block.Note, block.CreatedBy, block.OpenedAt,
	).Scan(&b.ID, &b.CustomerID, &b.Code, &b.Status, &b.Note, &b.CreatedBy, &b.OpenedAt, &b.ClosedAt)
	if err != nil {
		if db.IsUniqueViolation(err, constraintOpenCode) {
			return Block{}, fmt.Errorf("%w: open block %s already exists for customer %d", shared.ErrConflict, block.Code, block.CustomerID)
		}
		return Block{}, db.Classify(err)
	}
	return b, nil
}

func (r *repository) GetBlock(ctx context.Context, id int64) (Block, error) {
	return scanBlock(r.db.QueryRow(ctx, `SELECT `+blockColumns+` FROM blocks WHERE id = $1`, id))
}

func (r *repository) GetBlockForUpdate(ctx context.Context, id int64) (Block, error) {
	return scanBlock(r.db.QueryRow(ctx, `SELECT `+blockColumns+` FROM blocks WHERE id = $1 FOR UPDATE`, id))
}

func (r *repository) GetBlockForShare(ctx context.Context, id int64) (Block, error) {
	return scanBlock(r.db.QueryRow(ctx, `SELECT `+blockColumns+` FROM blocks WHERE id = $1 FOR SHARE`, id))
}

func (r *repository) FindOpenBlockByCode(ctx context.Context, customerID int64, code string) (Block, error) {
	return scanBlock(r.db.QueryRow(ctx, `
		SELECT `+blockColumns+`
		FROM blocks
		WHERE customer_id = $1 AND code = $2 AND status = 'OPEN'`, customerID, code))
}

func (r *repository) LatestOpenBlock(ctx context.Context, customerID int64) (Block, error) {
	return scanBlock(r.db.QueryRow(ctx, `
		SELECT `+blockColumns+`
		FROM blocks
		WHERE customer_id = $1 AND status = 'OPEN'
		ORDER BY opened_at DESC, id DESC
		LIMIT 1`, customerID))
}

func (r *repository) ListBlocks(ctx context.Context, filter BlockFilter) ([]Block, error) {
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
	query := `SELECT ` + blockColumns + ` FROM blocks`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY opened_at DESC, id DESC"
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

	var blocks []Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

func (r *repository) MarkBlockClosed(ctx context.Context, id int64, closedAt time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE blocks SET status = 'CLOSED', closed_at = $2
		WHERE id = $1 AND status = 'OPEN'`, id, closedAt)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ============================================================================
// ORDERS
// ============================================================================

func (r *repository) OrderExists(ctx context.Context, orderID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists)
	return exists, db.Classify(err)
}

func (r *repository) OrderBlock(ctx context.Context, orderID int64) (int64, error) {
	var blockID int64
	err := r.db.QueryRow(ctx, `SELECT block_id FROM block_orders WHERE order_id = $1 FOR UPDATE`, orderID).Scan(&blockID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, db.Classify(err)
	}
	return blockID, nil
}

func (r *repository) AttachOrder(ctx context.Context, blockID, orderID, actorID int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO block_orders (order_id, block_id, attached_by, attached_at)
		VALUES ($1, $2, NULLIF($3, 0), NOW())`, orderID, blockID, actorID)
	return db.Classify(err)
}

// ============================================================================
// ENTRIES
// ============================================================================

const entryColumns = `id, block_id, kind, direction, amount, entry_date, maturity_date,
	check_ownership, reference_number, status, note, COALESCE(created_by, 0), created_at, updated_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	var ownership *string
	err := row.Scan(&e.ID, &e.BlockID, &e.Kind, &e.Direction, &e.Amount, &e.EntryDate, &e.MaturityDate,
		&ownership, &e.ReferenceNumber, &e.Status, &e.Note, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, db.Classify(err)
	}
	if ownership != nil {
		o := CheckOwnership(*ownership)
		e.CheckOwnership = &o
	}
	return e, nil
}

func (r *repository) InsertEntry(ctx context.Context, entry Entry) (Entry, error) {
	var ownership *string
	if entry.CheckOwnership != nil {
		v := string(*entry.CheckOwnership)
		ownership = &v
	}
	query := `
		INSERT INTO ledger_entries (
			block_id, kind, direction, amount, entry_date, maturity_date,
			check_ownership, reference_number, status, note, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, NULLIF($11, 0), NOW(), NOW())
		RETURNING ` + entryColumns
	return scanEntry(r.db.QueryRow(ctx, query,
		entry.BlockID, entry.Kind, entry.Direction, entry.Amount.String(), entry.EntryDate, entry.MaturityDate,
		ownership, entry.ReferenceNumber, entry.Status, entry.Note, entry.CreatedBy))
}

func (r *repository) GetEntry(ctx context.Context, id int64) (Entry, error) {
	return scanEntry(r.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id))
}

func (r *repository) GetEntryForUpdate(ctx context.Context, id int64) (Entry, error) {
	return scanEntry(r.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1 FOR UPDATE`, id))
}

func (r *repository) ListEntries(ctx context.Context, blockID int64, filter EntryFilter) ([]Entry, error) {
	args := []any{blockID}
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE block_id = $1`
	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Kind != nil {
		args = append(args, *filter.Kind)
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	query += " ORDER BY entry_date, id"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *repository) UpdateEntryStatus(ctx context.Context, id int64, status EntryStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE ledger_entries SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) DeleteEntry(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM ledger_entries WHERE id = $1`, id)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) EntryInClosing(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM closing_items WHERE entry_id = $1)`, id).Scan(&exists)
	return exists, db.Classify(err)
}

// ============================================================================
// BALANCES
// ============================================================================

// BlockBalance sums OUTFLOW positive and INFLOW negative, ignoring cancelled rows.
func (r *repository) BlockBalance(ctx context.Context, blockID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN direction = 'OUTFLOW' THEN amount ELSE -amount END), 0)
		FROM ledger_entries
		WHERE block_id = $1 AND status <> 'CANCELLED'`, blockID).Scan(&balance)
	if err != nil {
		return decimal.Zero, db.Classify(err)
	}
	return balance, nil
}
