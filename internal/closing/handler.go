package closing

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler exposes daily closings as JSON endpoints.
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

// MountRoutes registers closing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermLedgerView, shared.PermClosingManage))
		r.Get("/closings", h.listClosings)
		r.Get("/closings/{date}", h.getClosing)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermClosingManage))
		r.Post("/closings", h.createClosing)
		r.Post("/closings/{date}/reprocess", h.reprocessClosing)
	})
}

type createClosingRequest struct {
	Date shared.Date `json:"data_referencia"`
	Note string      `json:"observacao" validate:"max=500"`
}

type headerResponse struct {
	ID            int64       `json:"id"`
	Date          shared.Date `json:"data_referencia"`
	Note          string      `json:"observacao,omitempty"`
	CreatedBy     int64       `json:"criado_por"`
	CreatedAt     time.Time   `json:"criado_em"`
	ReprocessedAt *time.Time  `json:"reprocessado_em,omitempty"`
}

type itemResponse struct {
	EntryID   int64              `json:"lancamento_id"`
	BlockID   int64              `json:"bloco_id"`
	Kind      ledger.EntryKind   `json:"tipo_recebimento"`
	Direction ledger.Direction   `json:"direcao"`
	Amount    string             `json:"valor"`
	Status    ledger.EntryStatus `json:"status"`
}

type bucketResponse struct {
	Count  int    `json:"quantidade"`
	Amount string `json:"valor"`
}

type summaryResponse struct {
	ItemCount    int                       `json:"quantidade"`
	TotalInflow  string                    `json:"total_entradas"`
	TotalOutflow string                    `json:"total_saidas"`
	ByStatus     map[string]bucketResponse `json:"por_status"`
	ByKind       map[string]bucketResponse `json:"por_tipo"`
}

type closingResponse struct {
	Header  headerResponse  `json:"fechamento"`
	Items   []itemResponse  `json:"itens"`
	Summary summaryResponse `json:"resumo"`
}

func toHeaderResponse(h Header) headerResponse {
	return headerResponse{
		ID:            h.ID,
		Date:          shared.NewDate(h.ReferenceDate),
		Note:          h.Note,
		CreatedBy:     h.CreatedBy,
		CreatedAt:     h.CreatedAt,
		ReprocessedAt: h.ReprocessedAt,
	}
}

func toBucket(b Bucket) bucketResponse {
	return bucketResponse{Count: b.Count, Amount: b.Amount.StringFixed(2)}
}

func toClosingResponse(c Closing) closingResponse {
	items := make([]itemResponse, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, itemResponse{
			EntryID:   it.EntryID,
			BlockID:   it.BlockID,
			Kind:      it.Kind,
			Direction: it.Direction,
			Amount:    it.Amount.StringFixed(2),
			Status:    it.Status,
		})
	}
	summary := summaryResponse{
		ItemCount:    c.Summary.ItemCount,
		TotalInflow:  c.Summary.TotalInflow.StringFixed(2),
		TotalOutflow: c.Summary.TotalOutflow.StringFixed(2),
		ByStatus:     make(map[string]bucketResponse, len(c.Summary.ByStatus)),
		ByKind:       make(map[string]bucketResponse, len(c.Summary.ByKind)),
	}
	for status, b := range c.Summary.ByStatus {
		summary.ByStatus[string(status)] = toBucket(b)
	}
	for kind, b := range c.Summary.ByKind {
		summary.ByKind[string(kind)] = toBucket(b)
	}
	return closingResponse{Header: toHeaderResponse(c.Header), Items: items, Summary: summary}
}

func (h *Handler) createClosing(w http.ResponseWriter, r *http.Request) {
	var req createClosingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	closing, err := h.service.CreateClosing(r.Context(), CreateInput{
		Date:    req.Date.Time,
		Note:    req.Note,
		ActorID: actorID(r),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toClosingResponse(closing))
}

func (h *Handler) listClosings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := optionalDate(q.Get("de"), "de")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := optionalDate(q.Get("ate"), "ate")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	headers, err := h.service.ListClosings(r.Context(), from, to)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]headerResponse, 0, len(headers))
	for _, hd := range headers {
		out = append(out, toHeaderResponse(hd))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getClosing(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	closing, err := h.service.GetClosing(r.Context(), date)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toClosingResponse(closing))
}

func (h *Handler) reprocessClosing(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	closing, err := h.service.ReprocessClosing(r.Context(), date, actorID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toClosingResponse(closing))
}

func optionalDate(raw, field string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := shared.ParseDate(raw)
	if err != nil {
		return nil, shared.NewValidationError(field, "must be a date (YYYY-MM-DD)")
	}
	return &d.Time, nil
}

func pathDate(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	d, err := shared.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		httpx.RespondError(w, shared.NewValidationError("date", "must be a date (YYYY-MM-DD)"))
		return time.Time{}, false
	}
	return d.Time, true
}

func actorID(r *http.Request) int64 {
	actor, _ := shared.ActorFromContext(r.Context())
	return actor.UserID
}
