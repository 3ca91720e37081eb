package ledger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// BlockBalance recomputes a block's balance from its entries: OUTFLOW counts
// positive, INFLOW negative, CANCELLED entries are ignored.
func (s *Service) BlockBalance(ctx context.Context, blockID int64) (decimal.Decimal, error) {
	if _, err := s.repo.GetBlock(ctx, blockID); err != nil {
		return decimal.Zero, s.fail("block_balance", blockNotFound(err, blockID), slog.Int64("block_id", blockID))
	}
	balance, err := s.repo.BlockBalance(ctx, blockID)
	if err != nil {
		return decimal.Zero, s.fail("block_balance", err, slog.Int64("block_id", blockID))
	}
	return balance, nil
}

// AccountsReceivable returns the customer's outstanding financial titles across
// all blocks.
func (s *Service) AccountsReceivable(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	if s.receivables == nil {
		return decimal.Zero, s.fail("accounts_receivable", errors.New("ledger: receivable source not configured"))
	}
	if err := s.ensureCustomer(ctx, customerID); err != nil {
		return decimal.Zero, err
	}
	total, err := s.receivables.AccountsReceivable(ctx, customerID)
	if err != nil {
		return decimal.Zero, s.fail("accounts_receivable", err, slog.Int64("customer_id", customerID))
	}
	return total, nil
}

// CustomerFinancialExposure is max(0, -open block balance) + receivables. The
// two figures are read concurrently and need not share a snapshot.
func (s *Service) CustomerFinancialExposure(ctx context.Context, customerID int64) (Exposure, error) {
	if s.receivables == nil {
		return Exposure{}, s.fail("customer_exposure", errors.New("ledger: receivable source not configured"))
	}
	if err := s.ensureCustomer(ctx, customerID); err != nil {
		return Exposure{}, err
	}

	exposure := Exposure{CustomerID: customerID, OpenBlockBalance: decimal.Zero}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		block, err := s.repo.LatestOpenBlock(gctx, customerID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		balance, err := s.repo.BlockBalance(gctx, block.ID)
		if err != nil {
			return err
		}
		id := block.ID
		exposure.OpenBlockID = &id
		exposure.OpenBlockBalance = balance
		return nil
	})
	g.Go(func() error {
		total, err := s.receivables.AccountsReceivable(gctx, customerID)
		if err != nil {
			return err
		}
		exposure.Receivable = total
		return nil
	})
	if err := g.Wait(); err != nil {
		return Exposure{}, s.fail("customer_exposure", err, slog.Int64("customer_id", customerID))
	}

	owed := exposure.OpenBlockBalance.Neg()
	if owed.IsNegative() {
		owed = decimal.Zero
	}
	exposure.Total = owed.Add(exposure.Receivable)
	return exposure, nil
}
