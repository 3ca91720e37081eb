package finance

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Service manages receivable titles.
type Service struct {
	repo   Repository
	audit  shared.AuditRecorder
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a finance Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// SetAuditRecorder enables audit records for settlements and cancellations.
func (s *Service) SetAuditRecorder(rec shared.AuditRecorder) {
	s.audit = rec
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) fail(op string, err error, attrs ...any) error {
	if err != nil && shared.KindOf(err) == shared.KindInternal {
		args := append([]any{slog.String("operation", op), slog.Any("error", err)}, attrs...)
		s.logger.Error("finance operation failed", args...)
	}
	return err
}

func titleNotFound(err error, id int64) error {
	if errors.Is(err, ErrNotFound) {
		return shared.NotFoundf("title %d", id)
	}
	return err
}

// OpenTitle registers a receivable. A tied entry supplies the block, kind,
// direction, amount and due date the caller leaves out.
func (s *Service) OpenTitle(ctx context.Context, in OpenTitleInput) (Title, error) {
	if in.CustomerID <= 0 {
		return Title{}, shared.NewValidationError(FieldCustomer, "required")
	}
	title := Title{
		CustomerID:  in.CustomerID,
		BlockID:     in.BlockID,
		EntryID:     in.EntryID,
		AmountGross: in.AmountGross,
		DueDate:     in.DueDate,
		Status:      TitleStatusOpen,
		Note:        strings.TrimSpace(in.Note),
		CreatedBy:   in.ActorID,
	}
	if in.Kind != "" {
		kind, err := ledger.ParseEntryKind(string(in.Kind))
		if err != nil {
			return Title{}, err
		}
		title.Kind = kind
	}

	var created Title
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if in.EntryID != nil {
			linked, err := repo.LinkedEntry(ctx, *in.EntryID)
			if errors.Is(err, ErrNotFound) {
				return shared.NotFoundf("entry %d", *in.EntryID)
			}
			if err != nil {
				return err
			}
			if linked.CustomerID != in.CustomerID {
				return shared.NewValidationError(FieldEntry, "entry belongs to another customer")
			}
			if in.BlockID != nil && *in.BlockID != linked.BlockID {
				return shared.NewValidationError(FieldBlock, "entry belongs to another block")
			}
			applyLinkedDefaults(&title, linked)
		} else if in.BlockID != nil {
			owner, err := repo.BlockCustomer(ctx, *in.BlockID)
			if errors.Is(err, ErrNotFound) {
				return shared.NotFoundf("block %d", *in.BlockID)
			}
			if err != nil {
				return err
			}
			if owner != in.CustomerID {
				return shared.NewValidationError(FieldBlock, "block belongs to another customer")
			}
		}
		if in.Direction != nil {
			title.Direction = *in.Direction
		}
		if err := validateTitle(&title); err != nil {
			return err
		}
		t, err := repo.InsertTitle(ctx, title)
		if err != nil {
			return err
		}
		created = t
		return nil
	})
	if err != nil {
		return Title{}, s.fail("open_title", err, slog.Int64("customer_id", in.CustomerID))
	}
	return created, nil
}

func applyLinkedDefaults(t *Title, linked LinkedEntry) {
	blockID := linked.BlockID
	t.BlockID = &blockID
	if t.Kind == "" {
		t.Kind = linked.Kind
	}
	if t.Direction == "" {
		t.Direction = linked.Direction
	}
	if t.AmountGross.IsZero() {
		t.AmountGross = linked.Amount
	}
	if t.DueDate.IsZero() && linked.MaturityDate != nil {
		t.DueDate = *linked.MaturityDate
	}
}

func validateTitle(t *Title) error {
	if t.Kind == "" {
		return shared.NewValidationError("tipo_recebimento", "required")
	}
	if t.Direction == "" {
		t.Direction = ledger.DirectionFor(t.Kind)
	}
	if !t.AmountGross.IsPositive() {
		return shared.NewValidationError(FieldAmount, "must be greater than zero")
	}
	if !t.AmountGross.Equal(t.AmountGross.Round(2)) {
		return shared.NewValidationError(FieldAmount, "must have at most two decimal places")
	}
	if t.DueDate.IsZero() {
		return shared.NewValidationError(FieldDueDate, "required")
	}
	t.DueDate = ledger.DateOnly(t.DueDate)
	return nil
}

// SettleTitle records a partial or total payment. A title reaching PAID moves
// its ledger entry to SETTLED_IN_FINANCE: the tied entry when there is one,
// otherwise the best-effort match, which may pick the wrong entry when several
// are equally plausible.
func (s *Service) SettleTitle(ctx context.Context, in SettleTitleInput) (SettleResult, error) {
	if !in.Amount.IsPositive() {
		return SettleResult{}, shared.NewValidationError(FieldAmount, "must be greater than zero")
	}
	if !in.Amount.Equal(in.Amount.Round(2)) {
		return SettleResult{}, shared.NewValidationError(FieldAmount, "must have at most two decimal places")
	}
	paidAt := in.PaidAt
	if paidAt.IsZero() {
		paidAt = s.now()
	}

	var result SettleResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		title, err := repo.GetTitleForUpdate(ctx, in.TitleID)
		if err != nil {
			return titleNotFound(err, in.TitleID)
		}
		switch title.Status {
		case TitleStatusPaid:
			return shared.Conflictf("title %d already paid", title.ID)
		case TitleStatusCancelled:
			return shared.Conflictf("title %d cancelled", title.ID)
		}
		outstanding := title.Outstanding()
		if in.Amount.GreaterThan(outstanding) {
			return shared.NewValidationError(FieldAmount, "exceeds outstanding "+outstanding.StringFixed(2))
		}

		settlement, err := repo.InsertSettlement(ctx, Settlement{
			TitleID:   title.ID,
			Amount:    in.Amount,
			PaidAt:    paidAt,
			Note:      strings.TrimSpace(in.Note),
			CreatedBy: in.ActorID,
		})
		if err != nil {
			return err
		}
		title.AmountSettled = title.AmountSettled.Add(in.Amount)
		title.Status = TitleStatusPartial
		if title.AmountSettled.Equal(title.AmountGross) {
			title.Status = TitleStatusPaid
		}
		if err := repo.UpdateTitleSettlement(ctx, title.ID, title.AmountSettled, title.Status); err != nil {
			return titleNotFound(err, title.ID)
		}
		result = SettleResult{Title: title, Settlement: settlement}

		if title.Status == TitleStatusPaid {
			entryID, err := s.settleLinkedEntry(ctx, repo, title)
			if err != nil {
				return err
			}
			result.SettledEntryID = entryID
		}
		return nil
	})
	if err != nil {
		return SettleResult{}, s.fail("settle_title", err, slog.Int64("title_id", in.TitleID))
	}

	meta := map[string]any{"amount": in.Amount.StringFixed(2), "status": string(result.Title.Status)}
	if result.SettledEntryID != nil {
		meta["entry_id"] = *result.SettledEntryID
	}
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   "finance.title.settle",
		Entity:   "financial_title",
		EntityID: strconv.FormatInt(in.TitleID, 10),
		Meta:     meta,
		At:       s.now(),
	})
	return result, nil
}

func (s *Service) settleLinkedEntry(ctx context.Context, repo Repository, title Title) (*int64, error) {
	var entryID int64
	if title.EntryID != nil {
		entryID = *title.EntryID
	} else {
		candidates, err := repo.MatchCandidates(ctx, title)
		if err != nil {
			return nil, err
		}
		matched, ok := bestMatch(title, candidates)
		if !ok {
			s.logger.Info("paid title has no matching ledger entry", slog.Int64("title_id", title.ID))
			return nil, nil
		}
		entryID = matched
	}
	changed, err := repo.MarkEntrySettledInFinance(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if !changed {
		s.logger.Info("ledger entry not eligible for finance settlement",
			slog.Int64("title_id", title.ID), slog.Int64("entry_id", entryID))
		return nil, nil
	}
	return &entryID, nil
}

// CancelTitle cancels an OPEN title without settlements.
func (s *Service) CancelTitle(ctx context.Context, titleID, actorID int64) (Title, error) {
	var cancelled Title
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		title, err := repo.GetTitleForUpdate(ctx, titleID)
		if err != nil {
			return titleNotFound(err, titleID)
		}
		if title.Status != TitleStatusOpen {
			return shared.Conflictf("title %d is %s", titleID, title.Status)
		}
		n, err := repo.CountSettlements(ctx, titleID)
		if err != nil {
			return err
		}
		if n > 0 {
			return shared.Conflictf("title %d has settlements", titleID)
		}
		if err := repo.UpdateTitleStatus(ctx, titleID, TitleStatusCancelled); err != nil {
			return titleNotFound(err, titleID)
		}
		title.Status = TitleStatusCancelled
		cancelled = title
		return nil
	})
	if err != nil {
		return Title{}, s.fail("cancel_title", err, slog.Int64("title_id", titleID))
	}
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  actorID,
		Action:   "finance.title.cancel",
		Entity:   "financial_title",
		EntityID: strconv.FormatInt(titleID, 10),
		At:       s.now(),
	})
	return cancelled, nil
}

// GetTitle returns a title by id.
func (s *Service) GetTitle(ctx context.Context, id int64) (Title, error) {
	title, err := s.repo.GetTitle(ctx, id)
	if err != nil {
		return Title{}, s.fail("get_title", titleNotFound(err, id), slog.Int64("title_id", id))
	}
	return title, nil
}

// ListTitles returns titles ordered by due date.
func (s *Service) ListTitles(ctx context.Context, filter TitleFilter) ([]Title, error) {
	titles, err := s.repo.ListTitles(ctx, filter)
	if err != nil {
		return nil, s.fail("list_titles", err)
	}
	return titles, nil
}

// ListSettlements returns a title's payment history.
func (s *Service) ListSettlements(ctx context.Context, titleID int64) ([]Settlement, error) {
	if _, err := s.repo.GetTitle(ctx, titleID); err != nil {
		return nil, s.fail("list_settlements", titleNotFound(err, titleID), slog.Int64("title_id", titleID))
	}
	out, err := s.repo.ListSettlements(ctx, titleID)
	if err != nil {
		return nil, s.fail("list_settlements", err, slog.Int64("title_id", titleID))
	}
	return out, nil
}

// AccountsReceivable sums outstanding OPEN and PARTIAL titles for a customer.
func (s *Service) AccountsReceivable(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	total, err := s.repo.Receivable(ctx, customerID)
	if err != nil {
		return decimal.Zero, s.fail("accounts_receivable", err, slog.Int64("customer_id", customerID))
	}
	return total, nil
}

var _ ledger.ReceivableSource = (*Service)(nil)
