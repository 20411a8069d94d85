package orders

import (
	"net/http"
	"strconv"

	"lv-cfd/internal/gate"
	"lv-cfd/internal/httputil"
	"lv-cfd/internal/types"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc     *Service
	limiter *gate.Limiter
}

func NewHandler(svc *Service, limiter *gate.Limiter) *Handler {
	return &Handler{svc: svc, limiter: limiter}
}

// Place handles POST /v1/orders.
func (h *Handler) Place(w http.ResponseWriter, r *http.Request, userID string) {
	if err := h.limiter.Allow(userID, "orders"); err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req Request
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	result, err := h.svc.Place(r.Context(), userID, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	status := http.StatusCreated
	if result.Status == types.OrderStatusPending {
		status = http.StatusAccepted
	}
	httputil.WriteJSON(w, status, result)
}

// List handles GET /v1/orders.
func (h *Handler) List(w http.ResponseWriter, r *http.Request, userID string) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	status := types.OrderStatus(r.URL.Query().Get("status"))
	out, err := h.svc.ListByUser(r.Context(), userID, status, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"orders": out})
}

// Cancel handles DELETE /v1/orders/{id}.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request, userID string) {
	if err := h.svc.Cancel(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"status": "canceled"})
}

// Trigger handles POST /v1/internal/orders/trigger.
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Trigger(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
