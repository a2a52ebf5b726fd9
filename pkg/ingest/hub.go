package ingest

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubex-fl/hubex/internal/telemetry"
)

const writeTimeout = 5 * time.Second

// Hub fans telemetry events out to the WebSocket clients subscribed to each
// device. Add/remove happen under the lock; broadcast iterates a snapshot
// outside the lock and sends to one client after another, each send bounded
// by the write deadline.
type Hub struct {
	mu      sync.Mutex
	clients map[int64]map[*websocket.Conn]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[int64]map[*websocket.Conn]struct{})}
}

// Add registers a client connection for a device.
func (h *Hub) Add(deviceID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[deviceID]
	if !ok {
		set = make(map[*websocket.Conn]struct{})
		h.clients[deviceID] = set
	}
	set[conn] = struct{}{}
	telemetry.WSConnections.Inc()
}

// Remove deregisters a client connection.
func (h *Hub) Remove(deviceID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[deviceID]
	if !ok {
		return
	}
	if _, present := set[conn]; !present {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.clients, deviceID)
	}
	telemetry.WSConnections.Dec()
}

// Count returns the total number of attached clients across all devices.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// Broadcast sends payload to every client subscribed to the device.
// Best-effort: a failed send deregisters that client and closes it, without
// affecting the others or the caller.
func (h *Hub) Broadcast(deviceID int64, payload []byte) {
	h.mu.Lock()
	set := h.clients[deviceID]
	conns := make([]*websocket.Conn, 0, len(set))
	for conn := range set {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.Remove(deviceID, conn)
			_ = conn.Close()
		}
	}
}
