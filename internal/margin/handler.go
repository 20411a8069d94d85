package margin

import (
	"net/http"
	"strconv"

	"lv-cfd/internal/httputil"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Handler struct {
	monitor *Monitor
	store   *Store
	pool    *pgxpool.Pool
}

func NewHandler(monitor *Monitor, store *Store, pool *pgxpool.Pool) *Handler {
	return &Handler{monitor: monitor, store: store, pool: pool}
}

// Sweep handles POST /v1/internal/margin/sweep.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.monitor.Sweep(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// History handles GET /v1/margin/events.
func (h *Handler) History(w http.ResponseWriter, r *http.Request, userID string) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.store.History(r.Context(), h.pool, userID, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}
