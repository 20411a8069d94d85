package accounts

import (
	"net/http"

	"lv-cfd/internal/httputil"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type snapshotResponse struct {
	UserID      string `json:"user_id"`
	Balance     string `json:"balance"`
	HeldBalance string `json:"held_balance"`
	Equity      string `json:"equity"`
	MarginUsed  string `json:"margin_used"`
	FreeMargin  string `json:"free_margin"`
	MarginLevel string `json:"margin_level,omitempty"`
	MaxLeverage int    `json:"max_leverage"`
}

// Snapshot handles GET /v1/account.
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request, userID string) {
	snap, err := h.svc.Snapshot(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp := snapshotResponse{
		UserID:      snap.UserID,
		Balance:     snap.Balance.String(),
		HeldBalance: snap.HeldBalance.String(),
		Equity:      snap.Equity.String(),
		MarginUsed:  snap.MarginUsed.String(),
		FreeMargin:  snap.FreeMargin().String(),
		MaxLeverage: snap.MaxLeverage,
	}
	if level, leveraged := snap.MarginLevel(); leveraged {
		resp.MarginLevel = level.Round(2).String()
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
