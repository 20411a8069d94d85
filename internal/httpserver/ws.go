package httpserver

import (
	"net/http"
	"strings"

	"lv-cfd/internal/auth"
	"lv-cfd/internal/notify"

	"github.com/gorilla/websocket"
)

// WSHandler streams notifications to an authenticated user over a websocket.
type WSHandler struct {
	hub      *notify.Hub
	authSvc  *auth.Service
	upgrader websocket.Upgrader
}

func NewWSHandler(hub *notify.Hub, authSvc *auth.Service, origin string) *WSHandler {
	return &WSHandler{
		hub:     hub,
		authSvc: authSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return allowOrigin(r, origin) },
		},
	}
}

func allowOrigin(r *http.Request, origin string) bool {
	if origin == "*" {
		return true
	}
	return strings.EqualFold(r.Header.Get("Origin"), origin)
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Browsers cannot set headers on websocket requests; the token rides a
	// query parameter.
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	userID, err := h.authSvc.ParseToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	h.hub.Register(userID, conn)
	defer h.hub.Unregister(userID, conn)

	// Drain the read side so pings and client closes are observed.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
