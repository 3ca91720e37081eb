package ledger

import (
	"context"
	"log/slog"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// SettleCheck marks a PENDING check as cleared. Repeating the call is a
// conflict, not a no-op.
func (s *Service) SettleCheck(ctx context.Context, entryID, actorID int64) (Entry, error) {
	return s.transitionCheck(ctx, entryID, actorID, EntryStatusSettled)
}

// BounceCheck marks a PENDING check as returned unpaid.
func (s *Service) BounceCheck(ctx context.Context, entryID, actorID int64) (Entry, error) {
	return s.transitionCheck(ctx, entryID, actorID, EntryStatusBounced)
}

func (s *Service) transitionCheck(ctx context.Context, entryID, actorID int64, target EntryStatus) (Entry, error) {
	var updated Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		entry, err := repo.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return entryNotFound(err, entryID)
		}
		if entry.Kind != KindCheck {
			return shared.NotFoundf("check %d", entryID)
		}
		if err := checkTransitionAllowed(entry); err != nil {
			return err
		}
		if err := repo.UpdateEntryStatus(ctx, entryID, target); err != nil {
			return entryNotFound(err, entryID)
		}
		entry.Status = target
		updated = entry
		return nil
	})
	if err != nil {
		return Entry{}, s.fail("check_"+string(target), err, slog.Int64("entry_id", entryID))
	}
	action := "ledger.check.settle"
	if target == EntryStatusBounced {
		action = "ledger.check.bounce"
	}
	s.recordAudit(ctx, actorID, action, "entry", entryID, map[string]any{"block_id": updated.BlockID})
	return updated, nil
}

func checkTransitionAllowed(entry Entry) error {
	switch entry.Status {
	case EntryStatusPending:
		return nil
	case EntryStatusSettled, EntryStatusSettledInFinance:
		return shared.Conflictf("check %d already settled", entry.ID)
	case EntryStatusBounced:
		return shared.Conflictf("check %d already bounced", entry.ID)
	case EntryStatusCancelled:
		return shared.Conflictf("check %d cancelled", entry.ID)
	default:
		return shared.Conflictf("check %d has status %s", entry.ID, entry.Status)
	}
}
