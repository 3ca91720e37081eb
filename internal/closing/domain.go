// Package closing snapshots a calendar day of ledger entries into an
// immutable daily closing and regenerates that snapshot on request.
package closing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

// Operation names used for metrics and audit.
const (
	OperationCreate    = "create"
	OperationReprocess = "reprocess"
)

// FieldDate is the wire name of the reference date.
const FieldDate = "data_referencia"

// Header identifies the closing of one calendar day. At most one exists per date.
type Header struct {
	ID            int64
	ReferenceDate time.Time
	Note          string
	CreatedBy     int64
	CreatedAt     time.Time
	ReprocessedAt *time.Time
}

// Item is the snapshot of one ledger entry as it stood when the day was
// closed or last reprocessed.
type Item struct {
	ID            int64
	ClosingID     int64
	ReferenceDate time.Time
	EntryID       int64
	BlockID       int64
	Kind          ledger.EntryKind
	Direction     ledger.Direction
	Amount        decimal.Decimal
	Status        ledger.EntryStatus
}

// Bucket aggregates a group of items.
type Bucket struct {
	Count  int
	Amount decimal.Decimal
}

// Summary aggregates the items of a closing.
type Summary struct {
	ItemCount    int
	TotalInflow  decimal.Decimal
	TotalOutflow decimal.Decimal
	ByStatus     map[ledger.EntryStatus]Bucket
	ByKind       map[ledger.EntryKind]Bucket
}

// Closing is a header with its items and their summary.
type Closing struct {
	Header  Header
	Items   []Item
	Summary Summary
}

// CreateInput carries createClosing parameters.
type CreateInput struct {
	Date    time.Time
	Note    string
	ActorID int64
}

// Summarize aggregates items. Cancelled items are counted in the breakdowns
// but contribute nothing to the inflow and outflow totals.
func Summarize(items []Item) Summary {
	s := Summary{
		ItemCount:    len(items),
		TotalInflow:  decimal.Zero,
		TotalOutflow: decimal.Zero,
		ByStatus:     map[ledger.EntryStatus]Bucket{},
		ByKind:       map[ledger.EntryKind]Bucket{},
	}
	for _, it := range items {
		s.ByStatus[it.Status] = s.ByStatus[it.Status].add(it.Amount)
		s.ByKind[it.Kind] = s.ByKind[it.Kind].add(it.Amount)
		if it.Status == ledger.EntryStatusCancelled {
			continue
		}
		switch it.Direction {
		case ledger.DirectionInflow:
			s.TotalInflow = s.TotalInflow.Add(it.Amount)
		case ledger.DirectionOutflow:
			s.TotalOutflow = s.TotalOutflow.Add(it.Amount)
		}
	}
	return s
}

func (b Bucket) add(amount decimal.Decimal) Bucket {
	return Bucket{Count: b.Count + 1, Amount: b.Amount.Add(amount)}
}
