package finance

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler exposes financial titles as JSON endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator(), rbac: rbac}
}

// MountRoutes registers title routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermLedgerView))
		r.Get("/titles", h.listTitles)
		r.Get("/titles/{id}", h.getTitle)
		r.Get("/titles/{id}/settlements", h.listSettlements)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermFinanceTitleEdit))
		r.Post("/titles", h.openTitle)
		r.Post("/titles/{id}/settlements", h.settleTitle)
		r.Post("/titles/{id}/cancel", h.cancelTitle)
	})
}

type openTitleRequest struct {
	CustomerID  int64             `json:"cliente_id" validate:"required,gt=0"`
	BlockID     *int64            `json:"bloco_id" validate:"omitempty,gt=0"`
	EntryID     *int64            `json:"lancamento_id" validate:"omitempty,gt=0"`
	Kind        string            `json:"tipo_recebimento" validate:"max=40"`
	Direction   *ledger.Direction `json:"direcao"`
	AmountGross decimal.Decimal   `json:"valor"`
	DueDate     shared.Date       `json:"data_vencimento"`
	Note        string            `json:"observacao" validate:"max=500"`
}

type settleTitleRequest struct {
	Amount decimal.Decimal `json:"valor"`
	PaidAt shared.Date     `json:"data_pagamento"`
	Note   string          `json:"observacao" validate:"max=500"`
}

type titleResponse struct {
	ID            int64            `json:"id"`
	CustomerID    int64            `json:"cliente_id"`
	BlockID       *int64           `json:"bloco_id,omitempty"`
	EntryID       *int64           `json:"lancamento_id,omitempty"`
	Kind          ledger.EntryKind `json:"tipo_recebimento"`
	Direction     ledger.Direction `json:"direcao"`
	AmountGross   string           `json:"valor_bruto"`
	AmountSettled string           `json:"valor_baixado"`
	Outstanding   string           `json:"valor_em_aberto"`
	DueDate       shared.Date      `json:"data_vencimento"`
	Status        TitleStatus      `json:"status"`
	Note          string           `json:"observacao,omitempty"`
	CreatedAt     time.Time        `json:"criado_em"`
}

type settlementResponse struct {
	ID      int64       `json:"id"`
	TitleID int64       `json:"titulo_id"`
	Amount  string      `json:"valor"`
	PaidAt  shared.Date `json:"data_pagamento"`
	Note    string      `json:"observacao,omitempty"`
}

type settleResponse struct {
	Title          titleResponse      `json:"titulo"`
	Settlement     settlementResponse `json:"baixa"`
	SettledEntryID *int64             `json:"lancamento_baixado_id,omitempty"`
}

func toTitleResponse(t Title) titleResponse {
	return titleResponse{
		ID:            t.ID,
		CustomerID:    t.CustomerID,
		BlockID:       t.BlockID,
		EntryID:       t.EntryID,
		Kind:          t.Kind,
		Direction:     t.Direction,
		AmountGross:   t.AmountGross.StringFixed(2),
		AmountSettled: t.AmountSettled.StringFixed(2),
		Outstanding:   t.Outstanding().StringFixed(2),
		DueDate:       shared.NewDate(t.DueDate),
		Status:        t.Status,
		Note:          t.Note,
		CreatedAt:     t.CreatedAt,
	}
}

func toSettlementResponse(s Settlement) settlementResponse {
	return settlementResponse{
		ID:      s.ID,
		TitleID: s.TitleID,
		Amount:  s.Amount.StringFixed(2),
		PaidAt:  shared.NewDate(s.PaidAt),
		Note:    s.Note,
	}
}

func (h *Handler) openTitle(w http.ResponseWriter, r *http.Request) {
	var req openTitleRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	title, err := h.service.OpenTitle(r.Context(), OpenTitleInput{
		CustomerID:  req.CustomerID,
		BlockID:     req.BlockID,
		EntryID:     req.EntryID,
		Kind:        ledger.EntryKind(req.Kind),
		Direction:   req.Direction,
		AmountGross: req.AmountGross,
		DueDate:     req.DueDate.Time,
		Note:        req.Note,
		ActorID:     actorID(r),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toTitleResponse(title))
}

func (h *Handler) listTitles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := shared.ParsePageRequest(q)
	filter := TitleFilter{Limit: page.Limit(), Offset: page.Offset()}
	if raw := q.Get("cliente_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.RespondError(w, shared.NewValidationError(FieldCustomer, "must be a positive integer"))
			return
		}
		filter.CustomerID = &id
	}
	if raw := q.Get("status"); raw != "" {
		var status TitleStatus
		if err := status.UnmarshalText([]byte(raw)); err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.Status = &status
	}
	titles, err := h.service.ListTitles(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]titleResponse, 0, len(titles))
	for _, t := range titles {
		out = append(out, toTitleResponse(t))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getTitle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	title, err := h.service.GetTitle(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTitleResponse(title))
}

func (h *Handler) listSettlements(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	settlements, err := h.service.ListSettlements(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]settlementResponse, 0, len(settlements))
	for _, s := range settlements {
		out = append(out, toSettlementResponse(s))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) settleTitle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req settleTitleRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.SettleTitle(r.Context(), SettleTitleInput{
		TitleID: id,
		Amount:  req.Amount,
		PaidAt:  req.PaidAt.Time,
		Note:    req.Note,
		ActorID: actorID(r),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, settleResponse{
		Title:          toTitleResponse(result.Title),
		Settlement:     toSettlementResponse(result.Settlement),
		SettledEntryID: result.SettledEntryID,
	})
}

func (h *Handler) cancelTitle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	title, err := h.service.CancelTitle(r.Context(), id, actorID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTitleResponse(title))
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	return httpx.Validate(h.validator, target)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.NewValidationError("id", "must be a positive integer"))
		return 0, false
	}
	return id, true
}

func actorID(r *http.Request) int64 {
	actor, _ := shared.ActorFromContext(r.Context())
	return actor.UserID
}
