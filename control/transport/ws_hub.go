package transport

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const maxWSConnections = 200

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// MetricsSnapshot is the payload MetricsHub broadcasts to connected
// clients every tick.
type MetricsSnapshot struct {
	Routers   []string       `json:"routers"`
	CPULoad   map[string]float64 `json:"cpu_load"`
	Timestamp time.Time      `json:"timestamp"`
}

// SnapshotFunc produces the current metrics snapshot to broadcast.
type SnapshotFunc func() MetricsSnapshot

// MetricsHub is a single-broadcaster WebSocket hub streaming live balancer
// and driver-loop metrics, grounded on control_plane/ws_hub.go's
// register/unregister/broadcast channel loop.
type MetricsHub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	snapshot   SnapshotFunc
	interval   time.Duration
}

// NewMetricsHub returns a MetricsHub that calls snapshot every interval
// and broadcasts the result to all connected clients.
func NewMetricsHub(snapshot SnapshotFunc, interval time.Duration) *MetricsHub {
	return &MetricsHub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		snapshot:   snapshot,
		interval:   interval,
	}
}

// ServeHTTP upgrades the connection and registers it with the hub.
func (h *MetricsHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("control/transport: websocket upgrade failed: %v", err)
		return
	}
	h.register <- conn

	// Drain and discard reads so the client's close frame is observed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.unregister <- conn
				return
			}
		}
	}()
}

// Run starts the hub's main loop until ctx is cancelled.
func (h *MetricsHub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxWSConnections {
				h.mu.Unlock()
				conn.Close()
				log.Printf("control/transport: websocket connection rejected: max connections (%d) reached", maxWSConnections)
				continue
			}
			h.clients[conn] = struct{}{}
			h.mu.Unlock()
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
		case <-ticker.C:
			h.broadcast()
		}
	}
}

func (h *MetricsHub) broadcast() {
	snap := h.snapshot()
	payload, err := json.Marshal(snap)
	if err != nil {
		log.Printf("control/transport: marshaling metrics snapshot: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("control/transport: broadcasting to client: %v", err)
		}
	}
}

func (h *MetricsHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
