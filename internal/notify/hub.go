package notify

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Hub tracks live websocket connections per user and pushes notification
// events to them. Connections that fail a write are dropped; the client is
// expected to reconnect.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[*websocket.Conn]struct{})}
}

func (h *Hub) Register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*websocket.Conn]struct{})
	}
	h.conns[userID][conn] = struct{}{}
}

func (h *Hub) Unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[userID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.conns, userID)
		}
	}
}

// Push sends v to every open connection of the user.
func (h *Hub) Push(userID string, v any) {
	h.mu.RLock()
	var targets []*websocket.Conn
	for conn := range h.conns[userID] {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.WriteJSON(v); err != nil {
			conn.Close()
			h.Unregister(userID, conn)
		}
	}
}
