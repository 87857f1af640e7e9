package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nzbri/movid/internal/app"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// ProgressHub broadcasts run progress events to WebSocket clients. A client
// connecting mid-run first receives the latest event.
type ProgressHub struct {
	clients map[*websocket.Conn]bool
	last    *app.Event
	closed  bool
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewProgressHub creates an empty hub.
func NewProgressHub(logger *zap.Logger) *ProgressHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHub{
		clients: make(map[*websocket.Conn]bool),
		logger:  logger,
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *ProgressHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.clients[conn] = true
	if h.last != nil {
		h.send(conn, *h.last)
	}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Publish sends e to every connected client. It is safe to pass as an app observer.
func (h *ProgressHub) Publish(e app.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.last = &e
	for conn := range h.clients {
		h.send(conn, e)
	}
}

// Last returns the most recent event.
func (h *ProgressHub) Last() (app.Event, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return app.Event{}, false
	}
	return *h.last, true
}

// Clients returns the number of connected clients.
func (h *ProgressHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *ProgressHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for conn := range h.clients {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
			time.Now().Add(writeTimeout))
		conn.Close()
	}
}

// send writes one event; callers hold h.mu, which also serializes writes per connection.
func (h *ProgressHub) send(conn *websocket.Conn, e app.Event) {
	msg, err := json.Marshal(e)
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		h.logger.Debug("websocket write failed", zap.Error(err))
	}
}
