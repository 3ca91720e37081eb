// Package ledger implements customer blocks: their open/closed lifecycle, the
// money movements recorded inside them, check settlement and live balances.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/refdata"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Wire names of the validated entry fields.
const (
	FieldCustomer        = "cliente_id"
	FieldCode            = "codigo"
	FieldKind            = "tipo_recebimento"
	FieldAmount          = "valor"
	FieldEntryDate       = "data_lancamento"
	FieldMaturityDate    = "data_vencimento"
	FieldCheckOwnership  = "tipo_cheque"
	FieldDirection       = "direcao"
	FieldStatus          = "status"
	FieldReferenceNumber = "numero_referencia"
	FieldOrder           = "pedido_id"
)

// BlockStatus enumerates block lifecycle stages. CLOSED is terminal.
type BlockStatus string

const (
	BlockStatusOpen   BlockStatus = "OPEN"
	BlockStatusClosed BlockStatus = "CLOSED"
)

// UnmarshalText accepts the canonical values and the legacy Portuguese labels.
func (s *BlockStatus) UnmarshalText(text []byte) error {
	switch refdata.NormalizeCode(string(text)) {
	case "OPEN", "ABERTO":
		*s = BlockStatusOpen
	case "CLOSED", "FECHADO":
		*s = BlockStatusClosed
	default:
		return shared.NewValidationError(FieldStatus, "unknown block status "+string(text))
	}
	return nil
}

// EntryKind is the receipt/payment kind. The fixed kinds below drive direction
// classification; any other normalized label is a valid free-form kind.
type EntryKind string

const (
	KindCheck    EntryKind = "CHECK"
	KindCash     EntryKind = "CASH"
	KindBoleto   EntryKind = "BOLETO"
	KindDeposit  EntryKind = "DEPOSIT"
	KindPix      EntryKind = "PIX"
	KindBarter   EntryKind = "BARTER"
	KindDiscount EntryKind = "DISCOUNT"
	KindReturn   EntryKind = "RETURN"
)

var kindAliases = map[string]EntryKind{
	"CHEQUE":    KindCheck,
	"DINHEIRO":  KindCash,
	"ESPECIE":   KindCash,
	"DEPOSITO":  KindDeposit,
	"PERMUTA":   KindBarter,
	"DESCONTO":  KindDiscount,
	"DEVOLUCAO": KindReturn,
}

// ParseEntryKind normalizes a label into a kind.
func ParseEntryKind(label string) (EntryKind, error) {
	code := refdata.NormalizeCode(label)
	if code == "" {
		return "", shared.NewValidationError(FieldKind, "required")
	}
	if alias, ok := kindAliases[code]; ok {
		return alias, nil
	}
	return EntryKind(code), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *EntryKind) UnmarshalText(text []byte) error {
	kind, err := ParseEntryKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// Direction classifies money flow.
type Direction string

const (
	DirectionInflow  Direction = "INFLOW"
	DirectionOutflow Direction = "OUTFLOW"
)

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(text []byte) error {
	switch refdata.NormalizeCode(string(text)) {
	case "INFLOW", "ENTRADA":
		*d = DirectionInflow
	case "OUTFLOW", "SAIDA":
		*d = DirectionOutflow
	default:
		return shared.NewValidationError(FieldDirection, "unknown direction "+string(text))
	}
	return nil
}

// DirectionFor is the fixed classification table: money taken in by the house
// is INFLOW, everything else is OUTFLOW.
func DirectionFor(kind EntryKind) Direction {
	switch kind {
	case KindCheck, KindCash, KindBoleto, KindDeposit, KindPix:
		return DirectionInflow
	default:
		return DirectionOutflow
	}
}

// EntryStatus tracks settlement of a ledger entry.
type EntryStatus string

const (
	EntryStatusPending          EntryStatus = "PENDING"
	EntryStatusSettled          EntryStatus = "SETTLED"
	EntryStatusBounced          EntryStatus = "BOUNCED"
	EntryStatusCancelled        EntryStatus = "CANCELLED"
	EntryStatusSettledInFinance EntryStatus = "SETTLED_IN_FINANCE"
)

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *EntryStatus) UnmarshalText(text []byte) error {
	switch refdata.NormalizeCode(string(text)) {
	case "PENDING", "PENDENTE":
		*s = EntryStatusPending
	case "SETTLED", "COMPENSADO", "PAGO":
		*s = EntryStatusSettled
	case "BOUNCED", "DEVOLVIDO":
		*s = EntryStatusBounced
	case "CANCELLED", "CANCELADO":
		*s = EntryStatusCancelled
	case "SETTLED_IN_FINANCE", "BAIXADO_FINANCEIRO":
		*s = EntryStatusSettledInFinance
	default:
		return shared.NewValidationError(FieldStatus, "unknown entry status "+string(text))
	}
	return nil
}

// Terminal reports whether settle/bounce must be refused.
func (s EntryStatus) Terminal() bool {
	switch s {
	case EntryStatusSettled, EntryStatusBounced, EntryStatusCancelled, EntryStatusSettledInFinance:
		return true
	default:
		return false
	}
}

// CheckOwnership distinguishes the house's own checks from third-party checks.
type CheckOwnership string

const (
	CheckOwn        CheckOwnership = "OWN"
	CheckThirdParty CheckOwnership = "THIRD_PARTY"
)

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *CheckOwnership) UnmarshalText(text []byte) error {
	switch refdata.NormalizeCode(string(text)) {
	case "OWN", "PROPRIO":
		*o = CheckOwn
	case "THIRD_PARTY", "TERCEIRO", "TERCEIROS":
		*o = CheckThirdParty
	default:
		return shared.NewValidationError(FieldCheckOwnership, "unknown check ownership "+string(text))
	}
	return nil
}

// Block is one customer's running account.
type Block struct {
	ID         int64
	CustomerID int64
	Code       string
	Status     BlockStatus
	Note       string
	CreatedBy  int64
	OpenedAt   time.Time
	ClosedAt   *time.Time
}

// Entry is one money movement inside a block.
type Entry struct {
	ID              int64
	BlockID         int64
	Kind            EntryKind
	Direction       Direction
	Amount          decimal.Decimal
	EntryDate       time.Time
	MaturityDate    *time.Time
	CheckOwnership  *CheckOwnership
	ReferenceNumber *string
	Status          EntryStatus
	Note            string
	CreatedBy       int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SignedAmount is the entry's contribution to the block balance: OUTFLOW
// counts positive, INFLOW negative, CANCELLED nothing.
func (e Entry) SignedAmount() decimal.Decimal {
	if e.Status == EntryStatusCancelled {
		return decimal.Zero
	}
	if e.Direction == DirectionOutflow {
		return e.Amount
	}
	return e.Amount.Neg()
}

// OpenBlockInput carries openBlock parameters.
type OpenBlockInput struct {
	CustomerID int64
	Code       string
	Note       string
	ActorID    int64
}

// AddEntryInput carries addEntry parameters. Nil pointers are absent fields.
type AddEntryInput struct {
	BlockID         int64
	Kind            EntryKind
	Amount          decimal.Decimal
	EntryDate       time.Time
	MaturityDate    *time.Time
	CheckOwnership  *CheckOwnership
	ReferenceNumber *string
	Direction       *Direction
	Status          *EntryStatus
	Note            string
	ActorID         int64
}

// RecordPaymentInput is the payment-intake path: the entry lands in the
// customer's open block, which is created when missing.
type RecordPaymentInput struct {
	CustomerID     int64
	Entry          AddEntryInput
	IdempotencyKey string
}

// BlockFilter narrows listBlocks.
type BlockFilter struct {
	CustomerID *int64
	Status     *BlockStatus
	Limit      int
	Offset     int
}

// EntryFilter narrows listEntries.
type EntryFilter struct {
	Status *EntryStatus
	Kind   *EntryKind
}

// Exposure combines the open block's balance with outstanding receivables.
type Exposure struct {
	CustomerID       int64
	OpenBlockID      *int64
	OpenBlockBalance decimal.Decimal
	Receivable       decimal.Decimal
	Total            decimal.Decimal
}

// DateOnly truncates t to its calendar day in UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
