package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const maxBlockCodeLength = 64

// OpenBlock creates an OPEN block for a customer. A missing code is generated;
// an explicit code already used by another open block of the same customer
// is a conflict.
func (s *Service) OpenBlock(ctx context.Context, in OpenBlockInput) (Block, error) {
	if in.CustomerID <= 0 {
		return Block{}, shared.NewValidationError(FieldCustomer, "required")
	}
	code := strings.TrimSpace(in.Code)
	if len(code) > maxBlockCodeLength {
		return Block{}, shared.NewValidationError(FieldCode, fmt.Sprintf("must be at most %d characters", maxBlockCodeLength))
	}
	if err := s.ensureCustomer(ctx, in.CustomerID); err != nil {
		return Block{}, err
	}

	var block Block
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.LockCustomerBlocks(ctx, in.CustomerID); err != nil {
			return err
		}
		generated := code == ""
		if generated {
			var err error
			code, err = s.nextBlockCode(ctx, repo, in.CustomerID)
			if err != nil {
				return err
			}
		} else {
			_, err := repo.FindOpenBlockByCode(ctx, in.CustomerID, code)
			switch {
			case err == nil:
				return shared.Conflictf("open block %s already exists for customer %d", code, in.CustomerID)
			case !errors.Is(err, ErrNotFound):
				return err
			}
		}
		created, err := repo.InsertBlock(ctx, Block{
			CustomerID: in.CustomerID,
			Code:       code,
			Status:     BlockStatusOpen,
			Note:       strings.TrimSpace(in.Note),
			CreatedBy:  in.ActorID,
			OpenedAt:   s.now(),
		})
		if err != nil {
			return err
		}
		block = created
		return nil
	})
	if err != nil {
		return Block{}, s.fail("open_block", err, slog.Int64("customer_id", in.CustomerID))
	}
	s.logger.Info("block opened", slog.Int64("block_id", block.ID), slog.Int64("customer_id", block.CustomerID), slog.String("code", block.Code))
	return block, nil
}

// nextBlockCode derives BL-<customer>-<timestamp>, suffixing a counter when a
// block opened within the same millisecond already holds it. Callers must hold
// the customer's block lock.
func (s *Service) nextBlockCode(ctx context.Context, repo Repository, customerID int64) (string, error) {
	base := fmt.Sprintf("BL-%d-%s", customerID, s.now().UTC().Format("20060102150405.000"))
	base = strings.Replace(base, ".", "", 1)
	code := base
	for i := 2; ; i++ {
		_, err := repo.FindOpenBlockByCode(ctx, customerID, code)
		if errors.Is(err, ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
		code = fmt.Sprintf("%s-%d", base, i)
	}
}

// FindOrOpenBlock returns the customer's most recent OPEN block, opening one
// with a generated code when none exists.
func (s *Service) FindOrOpenBlock(ctx context.Context, customerID, actorID int64) (Block, error) {
	if customerID <= 0 {
		return Block{}, shared.NewValidationError(FieldCustomer, "required")
	}
	if err := s.ensureCustomer(ctx, customerID); err != nil {
		return Block{}, err
	}
	var block Block
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		b, err := s.findOrOpenLocked(ctx, repo, customerID, actorID)
		if err != nil {
			return err
		}
		block = b
		return nil
	})
	if err != nil {
		return Block{}, s.fail("find_or_open_block", err, slog.Int64("customer_id", customerID))
	}
	return block, nil
}

func (s *Service) findOrOpenLocked(ctx context.Context, repo Repository, customerID, actorID int64) (Block, error) {
	if err := repo.LockCustomerBlocks(ctx, customerID); err != nil {
		return Block{}, err
	}
	block, err := repo.LatestOpenBlock(ctx, customerID)
	if err == nil {
		return block, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Block{}, err
	}
	code, err := s.nextBlockCode(ctx, repo, customerID)
	if err != nil {
		return Block{}, err
	}
	return repo.InsertBlock(ctx, Block{
		CustomerID: customerID,
		Code:       code,
		Status:     BlockStatusOpen,
		CreatedBy:  actorID,
		OpenedAt:   s.now(),
	})
}

// AttachExistingOrder links an order to an OPEN block. An order belongs to at
// most one block, ever.
func (s *Service) AttachExistingOrder(ctx context.Context, blockID, orderID, actorID int64) error {
	if orderID <= 0 {
		return shared.NewValidationError(FieldOrder, "required")
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		block, err := repo.GetBlockForShare(ctx, blockID)
		if err != nil {
			return blockNotFound(err, blockID)
		}
		if block.Status != BlockStatusOpen {
			return shared.InvalidStatef("block %d is closed", blockID)
		}
		exists, err := repo.OrderExists(ctx, orderID)
		if err != nil {
			return err
		}
		if !exists {
			return shared.NotFoundf("order %d", orderID)
		}
		if err := repo.LockOrder(ctx, orderID); err != nil {
			return err
		}
		current, err := repo.OrderBlock(ctx, orderID)
		switch {
		case err == nil && current == blockID:
			return shared.Conflictf("order %d already attached to block %d", orderID, blockID)
		case err == nil:
			return shared.Conflictf("order %d belongs to block %d", orderID, current)
		case !errors.Is(err, ErrNotFound):
			return err
		}
		return repo.AttachOrder(ctx, blockID, orderID, actorID)
	})
	if err != nil {
		return s.fail("attach_order", err, slog.Int64("block_id", blockID), slog.Int64("order_id", orderID))
	}
	s.recordAudit(ctx, actorID, "ledger.block.attach_order", "block", blockID, map[string]any{"order_id": orderID})
	return nil
}

// CloseBlock transitions an OPEN block with zero balance to CLOSED. The balance
// is computed after the block row is locked, so no entry can land between the
// check and the transition.
func (s *Service) CloseBlock(ctx context.Context, blockID, actorID int64) (Block, error) {
	var closed Block
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		block, err := repo.GetBlockForUpdate(ctx, blockID)
		if err != nil {
			return blockNotFound(err, blockID)
		}
		if block.Status != BlockStatusOpen {
			return shared.NotFoundf("open block %d", blockID)
		}
		balance, err := repo.BlockBalance(ctx, blockID)
		if err != nil {
			return err
		}
		if !balance.IsZero() {
			return shared.InvalidStatef("block %d has non-zero balance %s", blockID, balance.StringFixed(2))
		}
		closedAt := s.now()
		if err := repo.MarkBlockClosed(ctx, blockID, closedAt); err != nil {
			return blockNotFound(err, blockID)
		}
		block.Status = BlockStatusClosed
		block.ClosedAt = &closedAt
		closed = block
		return nil
	})
	if err != nil {
		return Block{}, s.fail("close_block", err, slog.Int64("block_id", blockID))
	}
	s.logger.Info("block closed", slog.Int64("block_id", blockID), slog.Int64("actor_id", actorID))
	s.recordAudit(ctx, actorID, "ledger.block.close", "block", blockID, nil)
	return closed, nil
}

// GetBlock returns a block by id.
func (s *Service) GetBlock(ctx context.Context, id int64) (Block, error) {
	block, err := s.repo.GetBlock(ctx, id)
	if err != nil {
		return Block{}, s.fail("get_block", blockNotFound(err, id), slog.Int64("block_id", id))
	}
	return block, nil
}

// ListBlocks returns blocks newest first.
func (s *Service) ListBlocks(ctx context.Context, filter BlockFilter) ([]Block, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	blocks, err := s.repo.ListBlocks(ctx, filter)
	if err != nil {
		return nil, s.fail("list_blocks", err)
	}
	return blocks, nil
}

func (s *Service) ensureCustomer(ctx context.Context, customerID int64) error {
	if s.customers == nil {
		return nil
	}
	ok, err := s.customers.Exists(ctx, customerID)
	if err != nil {
		return s.fail("customer_lookup", err, slog.Int64("customer_id", customerID))
	}
	if !ok {
		return shared.NotFoundf("customer %d", customerID)
	}
	return nil
}
