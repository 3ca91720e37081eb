// Package finance tracks receivable titles, their partial settlements and the
// propagation of fully paid titles back to ledger entries.
package finance

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/refdata"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Wire names of validated title fields.
const (
	FieldCustomer = "cliente_id"
	FieldBlock    = "bloco_id"
	FieldEntry    = "lancamento_id"
	FieldAmount   = "valor"
	FieldDueDate  = "data_vencimento"
	FieldPaidAt   = "data_pagamento"
	FieldStatus   = "status"
)

// matchTolerance bounds the amount difference accepted by the best-effort
// entry match.
var matchTolerance = decimal.RequireFromString("0.01")

// TitleStatus tracks collection progress.
type TitleStatus string

const (
	TitleStatusOpen      TitleStatus = "OPEN"
	TitleStatusPartial   TitleStatus = "PARTIAL"
	TitleStatusPaid      TitleStatus = "PAID"
	TitleStatusCancelled TitleStatus = "CANCELLED"
)

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *TitleStatus) UnmarshalText(text []byte) error {
	switch refdata.NormalizeCode(string(text)) {
	case "OPEN", "ABERTO", "EM_ABERTO":
		*s = TitleStatusOpen
	case "PARTIAL", "PARCIAL":
		*s = TitleStatusPartial
	case "PAID", "PAGO", "QUITADO":
		*s = TitleStatusPaid
	case "CANCELLED", "CANCELADO":
		*s = TitleStatusCancelled
	default:
		return shared.NewValidationError(FieldStatus, "unknown title status "+string(text))
	}
	return nil
}

// Outstanding reports whether the title still counts as receivable.
func (s TitleStatus) Outstanding() bool {
	return s == TitleStatusOpen || s == TitleStatusPartial
}

// Title is one receivable tracked for collection.
type Title struct {
	ID            int64
	CustomerID    int64
	BlockID       *int64
	EntryID       *int64
	Kind          ledger.EntryKind
	Direction     ledger.Direction
	AmountGross   decimal.Decimal
	AmountSettled decimal.Decimal
	DueDate       time.Time
	Status        TitleStatus
	Note          string
	CreatedBy     int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Outstanding is what remains to be collected.
func (t Title) Outstanding() decimal.Decimal {
	return t.AmountGross.Sub(t.AmountSettled)
}

// Settlement is one partial or total payment (baixa) of a title.
type Settlement struct {
	ID        int64
	TitleID   int64
	Amount    decimal.Decimal
	PaidAt    time.Time
	Note      string
	CreatedBy int64
	CreatedAt time.Time
}

// LinkedEntry is the slice of a ledger entry a title is tied to.
type LinkedEntry struct {
	EntryID      int64
	BlockID      int64
	CustomerID   int64
	Kind         ledger.EntryKind
	Direction    ledger.Direction
	Amount       decimal.Decimal
	MaturityDate *time.Time
}

// MatchCandidate is a ledger entry a paid title might settle.
type MatchCandidate struct {
	EntryID      int64
	Amount       decimal.Decimal
	MaturityDate *time.Time
	CreatedAt    time.Time
}

// bestMatch applies the amount tolerance and due-date rule to candidates and
// breaks ties by most recent creation. The match is best-effort: several
// entries can be equally plausible and only one is chosen.
func bestMatch(t Title, candidates []MatchCandidate) (int64, bool) {
	var (
		best  MatchCandidate
		found bool
	)
	due := ledger.DateOnly(t.DueDate)
	for _, c := range candidates {
		if c.MaturityDate == nil || !ledger.DateOnly(*c.MaturityDate).Equal(due) {
			continue
		}
		if c.Amount.Sub(t.AmountGross).Abs().GreaterThan(matchTolerance) {
			continue
		}
		if !found || c.CreatedAt.After(best.CreatedAt) || (c.CreatedAt.Equal(best.CreatedAt) && c.EntryID > best.EntryID) {
			best, found = c, true
		}
	}
	return best.EntryID, found
}

// OpenTitleInput carries openTitle parameters. Kind, direction, amount and due
// date default to the tied entry's values when an entry is given.
type OpenTitleInput struct {
	CustomerID  int64
	BlockID     *int64
	EntryID     *int64
	Kind        ledger.EntryKind
	Direction   *ledger.Direction
	AmountGross decimal.Decimal
	DueDate     time.Time
	Note        string
	ActorID     int64
}

// SettleTitleInput carries settleTitle parameters.
type SettleTitleInput struct {
	TitleID int64
	Amount  decimal.Decimal
	PaidAt  time.Time
	Note    string
	ActorID int64
}

// SettleResult reports the settlement and its effect on the ledger.
type SettleResult struct {
	Title      Title
	Settlement Settlement
	// SettledEntryID is set when a ledger entry moved to SETTLED_IN_FINANCE.
	SettledEntryID *int64
}

// TitleFilter narrows listTitles.
type TitleFilter struct {
	CustomerID *int64
	Status     *TitleStatus
	Limit      int
	Offset     int
}
