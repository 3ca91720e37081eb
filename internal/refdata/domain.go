// Package refdata exposes the payment-kind vocabulary maintained by the
// reference-data module. Only reads are served here.
package refdata

import (
	"context"
	"errors"
)

// KindRule carries the per-kind flags the entry recorder consults.
type KindRule struct {
	Code               string `json:"code"`
	Label              string `json:"label"`
	RequiresMaturity   bool   `json:"requires_maturity"`
	RequiresCheckOwner bool   `json:"requires_check_owner"`
	// Direction is INFLOW or OUTFLOW; empty leaves classification to the ledger.
	Direction string `json:"direction,omitempty"`
	// Known is false for kinds missing from the vocabulary.
	Known bool `json:"known"`
}

// ErrNotFound indicates the code is not registered.
var ErrNotFound = errors.New("refdata: payment kind not found")

// Repository loads rules from storage.
type Repository interface {
	GetKind(ctx context.Context, code string) (KindRule, error)
	ListKinds(ctx context.Context) ([]KindRule, error)
}
