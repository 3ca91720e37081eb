package ledger

import (
	"context"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

var fixedKinds = map[EntryKind]struct{}{
	KindCheck: {}, KindCash: {}, KindBoleto: {}, KindDeposit: {},
	KindPix: {}, KindBarter: {}, KindDiscount: {}, KindReturn: {},
}

// AddEntry validates and appends an entry to an OPEN block.
func (s *Service) AddEntry(ctx context.Context, in AddEntryInput) (Entry, error) {
	entry, err := s.prepareEntry(ctx, in)
	if err != nil {
		return Entry{}, err
	}
	var created Entry
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		block, err := repo.GetBlockForShare(ctx, in.BlockID)
		if err != nil {
			return blockNotFound(err, in.BlockID)
		}
		if block.Status != BlockStatusOpen {
			return shared.InvalidStatef("block %d is closed", in.BlockID)
		}
		entry.BlockID = block.ID
		created, err = repo.InsertEntry(ctx, entry)
		return err
	})
	if err != nil {
		return Entry{}, s.fail("add_entry", err, slog.Int64("block_id", in.BlockID))
	}
	return created, nil
}

// RecordPayment lands a payment in the customer's open block, opening one when
// none exists, in a single transaction. A non-empty idempotency key is claimed
// in the same transaction so a replay fails with Conflict.
func (s *Service) RecordPayment(ctx context.Context, in RecordPaymentInput) (Block, Entry, error) {
	if in.CustomerID <= 0 {
		return Block{}, Entry{}, shared.NewValidationError(FieldCustomer, "required")
	}
	entry, err := s.prepareEntry(ctx, in.Entry)
	if err != nil {
		return Block{}, Entry{}, err
	}
	if err := s.ensureCustomer(ctx, in.CustomerID); err != nil {
		return Block{}, Entry{}, err
	}

	var (
		block   Block
		created Entry
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if in.IdempotencyKey != "" {
			if err := repo.ClaimIdempotencyKey(ctx, in.IdempotencyKey); err != nil {
				return err
			}
		}
		b, err := s.findOrOpenLocked(ctx, repo, in.CustomerID, in.Entry.ActorID)
		if err != nil {
			return err
		}
		entry.BlockID = b.ID
		e, err := repo.InsertEntry(ctx, entry)
		if err != nil {
			return err
		}
		block, created = b, e
		return nil
	})
	if err != nil {
		return Block{}, Entry{}, s.fail("record_payment", err, slog.Int64("customer_id", in.CustomerID))
	}
	s.logger.Info("payment recorded",
		slog.Int64("customer_id", in.CustomerID),
		slog.Int64("block_id", block.ID),
		slog.Int64("entry_id", created.ID),
		slog.String("kind", string(created.Kind)),
	)
	return block, created, nil
}

// prepareEntry applies per-kind validation and fills direction and status.
func (s *Service) prepareEntry(ctx context.Context, in AddEntryInput) (Entry, error) {
	kind, err := ParseEntryKind(string(in.Kind))
	if err != nil {
		return Entry{}, err
	}
	if !in.Amount.IsPositive() {
		return Entry{}, shared.NewValidationError(FieldAmount, "must be greater than zero")
	}
	if !in.Amount.Equal(in.Amount.Round(2)) {
		return Entry{}, shared.NewValidationError(FieldAmount, "must have at most two decimal places")
	}
	if in.EntryDate.IsZero() {
		return Entry{}, shared.NewValidationError(FieldEntryDate, "required")
	}

	requiresOwner := kind == KindCheck
	requiresMaturity := kind == KindCheck
	var ruleDirection Direction
	if s.kinds != nil {
		rule, err := s.kinds.Rule(ctx, string(kind))
		if err != nil {
			return Entry{}, s.fail("kind_rule", err, slog.String("kind", string(kind)))
		}
		requiresOwner = requiresOwner || rule.RequiresCheckOwner
		requiresMaturity = requiresMaturity || rule.RequiresMaturity
		if rule.Direction != "" {
			var d Direction
			if d.UnmarshalText([]byte(rule.Direction)) == nil {
				ruleDirection = d
			}
		}
	}
	if requiresOwner && in.CheckOwnership == nil {
		return Entry{}, shared.NewValidationError(FieldCheckOwnership, "required for kind "+string(kind))
	}
	if requiresMaturity && in.MaturityDate == nil {
		return Entry{}, shared.NewValidationError(FieldMaturityDate, "required for kind "+string(kind))
	}

	direction := DirectionFor(kind)
	if _, fixed := fixedKinds[kind]; !fixed && ruleDirection != "" {
		direction = ruleDirection
	}
	if in.Direction != nil {
		direction = *in.Direction
	}
	if direction != DirectionInflow && direction != DirectionOutflow {
		return Entry{}, shared.NewValidationError(FieldDirection, "must be INFLOW or OUTFLOW")
	}

	status := EntryStatusPending
	if in.Status != nil {
		switch *in.Status {
		case EntryStatusPending, EntryStatusSettled:
			status = *in.Status
		default:
			return Entry{}, shared.NewValidationError(FieldStatus, "initial status must be PENDING or SETTLED")
		}
	}

	var reference *string
	if in.ReferenceNumber != nil {
		if ref := strings.TrimSpace(*in.ReferenceNumber); ref != "" {
			reference = &ref
		}
	}
	maturity := in.MaturityDate
	if maturity != nil {
		d := DateOnly(*maturity)
		maturity = &d
	}

	return Entry{
		Kind:            kind,
		Direction:       direction,
		Amount:          in.Amount,
		EntryDate:       DateOnly(in.EntryDate),
		MaturityDate:    maturity,
		CheckOwnership:  in.CheckOwnership,
		ReferenceNumber: reference,
		Status:          status,
		Note:            strings.TrimSpace(in.Note),
		CreatedBy:       in.ActorID,
	}, nil
}

// DeleteEntry hard-deletes an entry from an OPEN block. Entries captured by a
// daily closing can never be deleted.
func (s *Service) DeleteEntry(ctx context.Context, blockID, entryID, actorID int64) error {
	var deleted Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		block, err := repo.GetBlockForShare(ctx, blockID)
		if err != nil {
			return blockNotFound(err, blockID)
		}
		entry, err := repo.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return entryNotFound(err, entryID)
		}
		if entry.BlockID != blockID {
			return shared.NotFoundf("entry %d in block %d", entryID, blockID)
		}
		inClosing, err := repo.EntryInClosing(ctx, entryID)
		if err != nil {
			return err
		}
		if inClosing {
			return shared.Conflictf("entry %d is part of a daily closing", entryID)
		}
		if block.Status != BlockStatusOpen {
			return shared.InvalidStatef("block %d is closed", blockID)
		}
		if err := repo.DeleteEntry(ctx, entryID); err != nil {
			return entryNotFound(err, entryID)
		}
		deleted = entry
		return nil
	})
	if err != nil {
		return s.fail("delete_entry", err, slog.Int64("block_id", blockID), slog.Int64("entry_id", entryID))
	}
	s.recordAudit(ctx, actorID, "ledger.entry.delete", "entry", entryID, map[string]any{
		"block_id": blockID,
		"kind":     string(deleted.Kind),
		"amount":   deleted.Amount.StringFixed(2),
	})
	return nil
}

// CancelEntry voids a PENDING entry of an OPEN block; it stops counting toward
// the balance but stays on record.
func (s *Service) CancelEntry(ctx context.Context, blockID, entryID, actorID int64) (Entry, error) {
	var cancelled Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		block, err := repo.GetBlockForShare(ctx, blockID)
		if err != nil {
			return blockNotFound(err, blockID)
		}
		if block.Status != BlockStatusOpen {
			return shared.InvalidStatef("block %d is closed", blockID)
		}
		entry, err := repo.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return entryNotFound(err, entryID)
		}
		if entry.BlockID != blockID {
			return shared.NotFoundf("entry %d in block %d", entryID, blockID)
		}
		if entry.Status != EntryStatusPending {
			return shared.Conflictf("entry %d is %s", entryID, entry.Status)
		}
		if err := repo.UpdateEntryStatus(ctx, entryID, EntryStatusCancelled); err != nil {
			return entryNotFound(err, entryID)
		}
		entry.Status = EntryStatusCancelled
		cancelled = entry
		return nil
	})
	if err != nil {
		return Entry{}, s.fail("cancel_entry", err, slog.Int64("block_id", blockID), slog.Int64("entry_id", entryID))
	}
	s.recordAudit(ctx, actorID, "ledger.entry.cancel", "entry", entryID, map[string]any{"block_id": blockID})
	return cancelled, nil
}

// ListEntries returns a block's entries ordered by entry date.
func (s *Service) ListEntries(ctx context.Context, blockID int64, filter EntryFilter) ([]Entry, error) {
	if _, err := s.repo.GetBlock(ctx, blockID); err != nil {
		return nil, s.fail("list_entries", blockNotFound(err, blockID), slog.Int64("block_id", blockID))
	}
	entries, err := s.repo.ListEntries(ctx, blockID, filter)
	if err != nil {
		return nil, s.fail("list_entries", err, slog.Int64("block_id", blockID))
	}
	return entries, nil
}

// GetEntry returns one entry.
func (s *Service) GetEntry(ctx context.Context, id int64) (Entry, error) {
	entry, err := s.repo.GetEntry(ctx, id)
	if err != nil {
		return Entry{}, s.fail("get_entry", entryNotFound(err, id), slog.Int64("entry_id", id))
	}
	return entry, nil
}
