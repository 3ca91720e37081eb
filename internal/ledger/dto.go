package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type openBlockRequest struct {
	CustomerID int64  `json:"cliente_id" validate:"required,gt=0"`
	Code       string `json:"codigo" validate:"omitempty,max=64"`
	Note       string `json:"observacao" validate:"max=500"`
}

type attachOrderRequest struct {
	OrderID int64 `json:"pedido_id" validate:"required,gt=0"`
}

type entryRequest struct {
	Kind            string          `json:"tipo_recebimento" validate:"required,max=40"`
	Amount          decimal.Decimal `json:"valor"`
	EntryDate       shared.Date     `json:"data_lancamento"`
	MaturityDate    *shared.Date    `json:"data_vencimento"`
	CheckOwnership  *CheckOwnership `json:"tipo_cheque"`
	ReferenceNumber *string         `json:"numero_referencia" validate:"omitempty,max=60"`
	Direction       *Direction      `json:"direcao"`
	Status          *EntryStatus    `json:"status"`
	Note            string          `json:"observacao" validate:"max=500"`
}

type paymentRequest struct {
	CustomerID int64 `json:"cliente_id" validate:"required,gt=0"`
	entryRequest
}

func (req entryRequest) input(blockID, actorID int64, today time.Time) AddEntryInput {
	in := AddEntryInput{
		BlockID:         blockID,
		Kind:            EntryKind(req.Kind),
		Amount:          req.Amount,
		EntryDate:       req.EntryDate.Time,
		CheckOwnership:  req.CheckOwnership,
		ReferenceNumber: req.ReferenceNumber,
		Direction:       req.Direction,
		Status:          req.Status,
		Note:            req.Note,
		ActorID:         actorID,
	}
	if in.EntryDate.IsZero() {
		in.EntryDate = today
	}
	if req.MaturityDate != nil && !req.MaturityDate.IsZero() {
		t := req.MaturityDate.Time
		in.MaturityDate = &t
	}
	return in
}

type blockResponse struct {
	ID         int64       `json:"id"`
	CustomerID int64       `json:"cliente_id"`
	Code       string      `json:"codigo"`
	Status     BlockStatus `json:"status"`
	Note       string      `json:"observacao,omitempty"`
	CreatedBy  int64       `json:"criado_por,omitempty"`
	OpenedAt   time.Time   `json:"data_abertura"`
	ClosedAt   *time.Time  `json:"data_fechamento,omitempty"`
}

func toBlockResponse(b Block) blockResponse {
	return blockResponse{
		ID:         b.ID,
		CustomerID: b.CustomerID,
		Code:       b.Code,
		Status:     b.Status,
		Note:       b.Note,
		CreatedBy:  b.CreatedBy,
		OpenedAt:   b.OpenedAt,
		ClosedAt:   b.ClosedAt,
	}
}

type entryResponse struct {
	ID              int64           `json:"id"`
	BlockID         int64           `json:"bloco_id"`
	Kind            EntryKind       `json:"tipo_recebimento"`
	Direction       Direction       `json:"direcao"`
	Amount          string          `json:"valor"`
	EntryDate       shared.Date     `json:"data_lancamento"`
	MaturityDate    *shared.Date    `json:"data_vencimento,omitempty"`
	CheckOwnership  *CheckOwnership `json:"tipo_cheque,omitempty"`
	ReferenceNumber *string         `json:"numero_referencia,omitempty"`
	Status          EntryStatus     `json:"status"`
	Note            string          `json:"observacao,omitempty"`
	CreatedBy       int64           `json:"criado_por,omitempty"`
	CreatedAt       time.Time       `json:"criado_em"`
	UpdatedAt       time.Time       `json:"atualizado_em"`
}

func toEntryResponse(e Entry) entryResponse {
	resp := entryResponse{
		ID:              e.ID,
		BlockID:         e.BlockID,
		Kind:            e.Kind,
		Direction:       e.Direction,
		Amount:          e.Amount.StringFixed(2),
		EntryDate:       shared.NewDate(e.EntryDate),
		CheckOwnership:  e.CheckOwnership,
		ReferenceNumber: e.ReferenceNumber,
		Status:          e.Status,
		Note:            e.Note,
		CreatedBy:       e.CreatedBy,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
	if e.MaturityDate != nil {
		d := shared.NewDate(*e.MaturityDate)
		resp.MaturityDate = &d
	}
	return resp
}

func toEntryResponses(entries []Entry) []entryResponse {
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	return out
}

type balanceResponse struct {
	BlockID int64  `json:"bloco_id"`
	Balance string `json:"saldo"`
}

type receivableResponse struct {
	CustomerID int64  `json:"cliente_id"`
	Receivable string `json:"a_receber"`
}

type exposureResponse struct {
	CustomerID       int64  `json:"cliente_id"`
	OpenBlockID      *int64 `json:"bloco_aberto_id,omitempty"`
	OpenBlockBalance string `json:"saldo_bloco_aberto"`
	Receivable       string `json:"a_receber"`
	Total            string `json:"exposicao_total"`
}

type paymentResponse struct {
	Block blockResponse `json:"bloco"`
	Entry entryResponse `json:"lancamento"`
}
