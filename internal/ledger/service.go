package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/refdata"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// CustomerDirectory validates customer ids.
type CustomerDirectory interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// KindRules supplies per-kind requirements beyond the fixed table.
type KindRules interface {
	Rule(ctx context.Context, label string) (refdata.KindRule, error)
}

// ReceivableSource computes outstanding financial titles for a customer.
type ReceivableSource interface {
	AccountsReceivable(ctx context.Context, customerID int64) (decimal.Decimal, error)
}

// Service orchestrates blocks, entries, check settlement and balances. It keeps
// no state between calls; the repository is the only source of truth.
type Service struct {
	repo        Repository
	customers   CustomerDirectory
	kinds       KindRules
	receivables ReceivableSource
	audit       shared.AuditRecorder
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs a ledger Service.
func NewService(repo Repository, customers CustomerDirectory, kinds KindRules, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		customers: customers,
		kinds:     kinds,
		logger:    logger,
		now:       time.Now,
	}
}

// SetReceivableSource wires the finance module for receivable figures.
func (s *Service) SetReceivableSource(src ReceivableSource) {
	s.receivables = src
}

// SetAuditRecorder enables audit records for state changes.
func (s *Service) SetAuditRecorder(rec shared.AuditRecorder) {
	s.audit = rec
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// fail logs internal failures with the operation and identifiers; taxonomy
// errors pass through untouched.
func (s *Service) fail(op string, err error, attrs ...any) error {
	if err == nil {
		return nil
	}
	if shared.KindOf(err) == shared.KindInternal {
		args := append([]any{slog.String("operation", op), slog.Any("error", err)}, attrs...)
		s.logger.Error("ledger operation failed", args...)
	}
	return err
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
		At:       s.now(),
	})
}

func blockNotFound(err error, id int64) error {
	if errors.Is(err, ErrNotFound) {
		return shared.NotFoundf("block %d", id)
	}
	return err
}

func entryNotFound(err error, id int64) error {
	if errors.Is(err, ErrNotFound) {
		return shared.NotFoundf("entry %d", id)
	}
	return err
}
