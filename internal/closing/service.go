package closing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// MetricsRecorder counts closing outcomes.
type MetricsRecorder interface {
	ObserveClosing(operation, result string)
}

// Service is the daily closing engine.
type Service struct {
	repo    Repository
	audit   shared.AuditRecorder
	metrics MetricsRecorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs a closing Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// SetAuditRecorder enables audit records for create and reprocess.
func (s *Service) SetAuditRecorder(rec shared.AuditRecorder) {
	s.audit = rec
}

// SetMetrics enables closing counters.
func (s *Service) SetMetrics(m MetricsRecorder) {
	s.metrics = m
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) observe(operation string, err error) {
	if s.metrics == nil {
		return
	}
	var result string
	switch shared.KindOf(err) {
	case "":
		result = observability.ResultSuccess
	case shared.KindConflict:
		result = observability.ResultConflict
	case shared.KindNotFound:
		result = observability.ResultNotFound
	default:
		result = observability.ResultError
	}
	s.metrics.ObserveClosing(operation, result)
}

func (s *Service) fail(op string, date time.Time, err error) error {
	switch shared.KindOf(err) {
	case shared.KindInternal:
		s.logger.Error("closing operation failed",
			slog.String("operation", op),
			slog.String("date", date.Format(shared.DateLayout)),
			slog.Any("error", err))
	case shared.KindConflict:
		s.logger.Warn("closing operation rejected",
			slog.String("operation", op),
			slog.String("date", date.Format(shared.DateLayout)),
			slog.Any("error", err))
	}
	return err
}

func headerNotFound(err error, date time.Time) error {
	if errors.Is(err, ErrNotFound) {
		return shared.NotFoundf("closing for %s", date.Format(shared.DateLayout))
	}
	return err
}

func normalizeDate(date time.Time) (time.Time, error) {
	if date.IsZero() {
		return time.Time{}, shared.NewValidationError(FieldDate, "required")
	}
	return shared.NewDate(date).Time, nil
}

// CreateClosing snapshots every entry dated date. A second closing for the
// same date fails with Conflict and leaves the first untouched.
func (s *Service) CreateClosing(ctx context.Context, in CreateInput) (Closing, error) {
	date, err := normalizeDate(in.Date)
	if err != nil {
		return Closing{}, err
	}

	var out Closing
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.LockDate(ctx, date); err != nil {
			return err
		}
		_, err := repo.GetHeaderForUpdate(ctx, date)
		switch {
		case err == nil:
			return shared.Conflictf("closing for %s already exists", date.Format(shared.DateLayout))
		case !errors.Is(err, ErrNotFound):
			return err
		}
		header, err := repo.InsertHeader(ctx, Header{ReferenceDate: date, Note: in.Note, CreatedBy: in.ActorID})
		if err != nil {
			return err
		}
		if _, err := repo.SnapshotItems(ctx, header.ID, date); err != nil {
			return err
		}
		items, err := repo.ListItems(ctx, header.ID)
		if err != nil {
			return err
		}
		out = Closing{Header: header, Items: items, Summary: Summarize(items)}
		return nil
	})
	s.observe(OperationCreate, err)
	if err != nil {
		return Closing{}, s.fail(OperationCreate, date, err)
	}

	s.logger.Info("daily closing created",
		slog.String("date", date.Format(shared.DateLayout)),
		slog.Int("items", len(out.Items)),
		slog.Int64("actor_id", in.ActorID))
	s.recordAudit(ctx, in.ActorID, "ledger.closing.create", out.Header, len(out.Items))
	return out, nil
}

// ReprocessClosing regenerates the items of an existing closing from the
// ledger's current state. The header is kept; repeated calls with no ledger
// writes in between yield the same items.
func (s *Service) ReprocessClosing(ctx context.Context, date time.Time, actorID int64) (Closing, error) {
	date, err := normalizeDate(date)
	if err != nil {
		return Closing{}, err
	}

	var out Closing
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.LockDate(ctx, date); err != nil {
			return err
		}
		header, err := repo.GetHeaderForUpdate(ctx, date)
		if err != nil {
			return headerNotFound(err, date)
		}
		if _, err := repo.DeleteItems(ctx, header.ID); err != nil {
			return err
		}
		if _, err := repo.SnapshotItems(ctx, header.ID, date); err != nil {
			return err
		}
		at := s.now()
		if err := repo.MarkReprocessed(ctx, header.ID, at); err != nil {
			return headerNotFound(err, date)
		}
		header.ReprocessedAt = &at
		items, err := repo.ListItems(ctx, header.ID)
		if err != nil {
			return err
		}
		out = Closing{Header: header, Items: items, Summary: Summarize(items)}
		return nil
	})
	s.observe(OperationReprocess, err)
	if err != nil {
		return Closing{}, s.fail(OperationReprocess, date, err)
	}

	s.logger.Info("daily closing reprocessed",
		slog.String("date", date.Format(shared.DateLayout)),
		slog.Int("items", len(out.Items)),
		slog.Int64("actor_id", actorID))
	s.recordAudit(ctx, actorID, "ledger.closing.reprocess", out.Header, len(out.Items))
	return out, nil
}

// GetClosing returns the header, items and summary for date.
func (s *Service) GetClosing(ctx context.Context, date time.Time) (Closing, error) {
	date, err := normalizeDate(date)
	if err != nil {
		return Closing{}, err
	}
	header, err := s.repo.GetHeader(ctx, date)
	if err != nil {
		return Closing{}, s.fail("get", date, headerNotFound(err, date))
	}
	items, err := s.repo.ListItems(ctx, header.ID)
	if err != nil {
		return Closing{}, s.fail("get", date, err)
	}
	return Closing{Header: header, Items: items, Summary: Summarize(items)}, nil
}

// ListClosings returns headers whose date falls in [from, to], newest first.
// A nil bound is open.
func (s *Service) ListClosings(ctx context.Context, from, to *time.Time) ([]Header, error) {
	if from != nil {
		d := shared.NewDate(*from).Time
		from = &d
	}
	if to != nil {
		d := shared.NewDate(*to).Time
		to = &d
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, shared.NewValidationError("ate", "must not be before de")
	}
	headers, err := s.repo.ListHeaders(ctx, from, to)
	if err != nil {
		return nil, s.fail("list", time.Time{}, err)
	}
	return headers, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, h Header, items int) {
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "closing",
		EntityID: h.ReferenceDate.Format(shared.DateLayout),
		Meta:     map[string]any{"closing_id": h.ID, "items": items},
		At:       s.now(),
	})
}
