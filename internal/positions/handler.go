package positions

import (
	"net/http"
	"strconv"

	"lv-cfd/internal/apperr"
	"lv-cfd/internal/gate"
	"lv-cfd/internal/httputil"
	"lv-cfd/internal/types"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Handler struct {
	engine  *Engine
	store   *Store
	pool    *pgxpool.Pool
	limiter *gate.Limiter
}

func NewHandler(engine *Engine, store *Store, pool *pgxpool.Pool, limiter *gate.Limiter) *Handler {
	return &Handler{engine: engine, store: store, pool: pool, limiter: limiter}
}

type closeRequestBody struct {
	Quantity *decimal.Decimal `json:"quantity,omitempty"`
	Reason   string           `json:"reason,omitempty"`
}

// Close handles POST /v1/positions/{id}/close.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request, userID string) {
	if err := h.limiter.Allow(userID, "close"); err != nil {
		httputil.WriteError(w, err)
		return
	}

	var body closeRequestBody
	if err := httputil.ReadJSON(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}

	reason := types.ClosureReasonManualUser
	if body.Reason != "" {
		reason = types.ClosureReason(body.Reason)
		// External callers only request user-initiated closes; forced reasons
		// belong to the margin monitor.
		if reason != types.ClosureReasonManualUser {
			httputil.WriteError(w, apperr.Validation("close_reason_invalid", "unsupported close reason"))
			return
		}
	}

	result, err := h.engine.Close(r.Context(), CloseRequest{
		PositionID:     chi.URLParam(r, "id"),
		UserID:         userID,
		Quantity:       body.Quantity,
		Reason:         reason,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// List handles GET /v1/positions.
func (h *Handler) List(w http.ResponseWriter, r *http.Request, userID string) {
	open, err := h.store.ListOpenByUser(r.Context(), h.pool, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"positions": open})
}

// Closures handles GET /v1/positions/closures.
func (h *Handler) Closures(w http.ResponseWriter, r *http.Request, userID string) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	closures, err := h.store.ListClosuresByUser(r.Context(), h.pool, userID, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"closures": closures})
}
