package ledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler exposes blocks, entries, checks and balances as JSON endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	rbac      rbac.Middleware
	// loc is the business timezone; entries posted without a date land on today there.
	loc *time.Location
	now func() time.Time
}

// NewHandler builds Handler instance. loc should match the closing timezone.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		logger:    logger,
		service:   service,
		validator: httpx.NewValidator(),
		rbac:      rbac,
		loc:       loc,
		now:       time.Now,
	}
}

func (h *Handler) today() time.Time {
	return shared.Today(h.now(), h.loc).Time
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermLedgerView))
		r.Get("/blocks", h.listBlocks)
		r.Get("/blocks/{id}", h.getBlock)
		r.Get("/blocks/{id}/balance", h.blockBalance)
		r.Get("/blocks/{id}/entries", h.listEntries)
		r.Get("/entries/{id}", h.getEntry)
		r.Get("/customers/{id}/receivable", h.receivable)
		r.Get("/customers/{id}/exposure", h.exposure)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermLedgerWrite))
		r.Post("/blocks", h.openBlock)
		r.Post("/blocks/{id}/orders", h.attachOrder)
		r.Post("/blocks/{id}/entries", h.addEntry)
		r.Delete("/blocks/{id}/entries/{entryID}", h.deleteEntry)
		r.Post("/blocks/{id}/entries/{entryID}/cancel", h.cancelEntry)
		r.Post("/payments", h.recordPayment)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermLedgerBlockClose))
		r.Post("/blocks/{id}/close", h.closeBlock)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermLedgerCheckSettle))
		r.Post("/entries/{id}/settle", h.settleCheck)
		r.Post("/entries/{id}/bounce", h.bounceCheck)
	})
}

func (h *Handler) openBlock(w http.ResponseWriter, r *http.Request) {
	var req openBlockRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	block, err := h.service.OpenBlock(r.Context(), OpenBlockInput{
		CustomerID: req.CustomerID,
		Code:       req.Code,
		Note:       req.Note,
		ActorID:    actorID(r),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toBlockResponse(block))
}

func (h *Handler) listBlocks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := shared.ParsePageRequest(q)
	filter := BlockFilter{Limit: page.Limit(), Offset: page.Offset()}
	if raw := q.Get("cliente_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.RespondError(w, shared.NewValidationError(FieldCustomer, "must be a positive integer"))
			return
		}
		filter.CustomerID = &id
	}
	if raw := q.Get("status"); raw != "" {
		var status BlockStatus
		if err := status.UnmarshalText([]byte(raw)); err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.Status = &status
	}
	blocks, err := h.service.ListBlocks(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]blockResponse, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, toBlockResponse(b))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getBlock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	block, err := h.service.GetBlock(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBlockResponse(block))
}

func (h *Handler) closeBlock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	block, err := h.service.CloseBlock(r.Context(), id, actorID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBlockResponse(block))
}

func (h *Handler) attachOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req attachOrderRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.AttachExistingOrder(r.Context(), id, req.OrderID, actorID(r)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) blockBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	balance, err := h.service.BlockBalance(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balanceResponse{BlockID: id, Balance: balance.StringFixed(2)})
}

func (h *Handler) addEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req entryRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.AddEntry(r.Context(), req.input(id, actorID(r), h.today()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var filter EntryFilter
	q := r.URL.Query()
	if raw := q.Get("status"); raw != "" {
		var status EntryStatus
		if err := status.UnmarshalText([]byte(raw)); err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.Status = &status
	}
	if raw := q.Get("tipo_recebimento"); raw != "" {
		kind, err := ParseEntryKind(raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.Kind = &kind
	}
	entries, err := h.service.ListEntries(r.Context(), id, filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryResponses(entries))
}

func (h *Handler) getEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	entry, err := h.service.GetEntry(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryResponse(entry))
}

func (h *Handler) deleteEntry(w http.ResponseWriter, r *http.Request) {
	blockID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	entryID, ok := pathID(w, r, "entryID")
	if !ok {
		return
	}
	if err := h.service.DeleteEntry(r.Context(), blockID, entryID, actorID(r)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cancelEntry(w http.ResponseWriter, r *http.Request) {
	blockID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	entryID, ok := pathID(w, r, "entryID")
	if !ok {
		return
	}
	entry, err := h.service.CancelEntry(r.Context(), blockID, entryID, actorID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryResponse(entry))
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	key, err := shared.ParseIdempotencyKey(r.Header.Get("Idempotency-Key"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req paymentRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	block, entry, err := h.service.RecordPayment(r.Context(), RecordPaymentInput{
		CustomerID:     req.CustomerID,
		Entry:          req.entryRequest.input(0, actorID(r), h.today()),
		IdempotencyKey: key,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, paymentResponse{
		Block: toBlockResponse(block),
		Entry: toEntryResponse(entry),
	})
}

func (h *Handler) settleCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	entry, err := h.service.SettleCheck(r.Context(), id, actorID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryResponse(entry))
}

func (h *Handler) bounceCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	entry, err := h.service.BounceCheck(r.Context(), id, actorID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryResponse(entry))
}

func (h *Handler) receivable(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	total, err := h.service.AccountsReceivable(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, receivableResponse{CustomerID: id, Receivable: total.StringFixed(2)})
}

func (h *Handler) exposure(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	exp, err := h.service.CustomerFinancialExposure(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, exposureResponse{
		CustomerID:       exp.CustomerID,
		OpenBlockID:      exp.OpenBlockID,
		OpenBlockBalance: exp.OpenBlockBalance.StringFixed(2),
		Receivable:       exp.Receivable.StringFixed(2),
		Total:            exp.Total.StringFixed(2),
	})
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	return httpx.Validate(h.validator, target)
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.NewValidationError(param, "must be a positive integer"))
		return 0, false
	}
	return id, true
}

func actorID(r *http.Request) int64 {
	actor, _ := shared.ActorFromContext(r.Context())
	return actor.UserID
}
