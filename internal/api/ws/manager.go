// Package ws fans pipeline events out to websocket clients. The manager
// keeps the connection set; the API layer upgrades connections and hands
// them over, and the application forwards bus events into Broadcast.
package ws

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Manager tracks connected websocket clients and broadcasts to all of them.
type Manager struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	logger  *slog.Logger
}

// NewManager creates an empty Manager logging through the given logger.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		clients: make(map[*websocket.Conn]bool),
		logger:  logger.With("component", "ws_manager"),
	}
}

// Add registers a connection and starts a read loop that detects the client
// going away. The manager owns the connection from this point and closes it
// on disconnect or CloseAll.
func (m *Manager) Add(conn *websocket.Conn) {
	m.mu.Lock()
	m.clients[conn] = true
	count := len(m.clients)
	m.mu.Unlock()

	m.logger.Debug("websocket client connected", "clients", count)

	go func() {
		// Clients never send anything meaningful; the read loop only
		// notices the connection closing.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		m.remove(conn)
	}()
}

// Broadcast writes v as JSON to every connected client. Writes are
// serialized under the manager lock; a client whose write fails is dropped.
func (m *Manager) Broadcast(v any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for conn := range m.clients {
		if err := conn.WriteJSON(v); err != nil {
			m.logger.Debug("dropping websocket client after write failure", "error", err)
			delete(m.clients, conn)
			_ = conn.Close()
		}
	}
}

// ClientCount returns the number of connected clients.
func (m *Manager) ClientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// CloseAll disconnects every client. Used during shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for conn := range m.clients {
		_ = conn.Close()
		delete(m.clients, conn)
	}
}

func (m *Manager) remove(conn *websocket.Conn) {
	m.mu.Lock()
	_, tracked := m.clients[conn]
	delete(m.clients, conn)
	count := len(m.clients)
	m.mu.Unlock()

	_ = conn.Close()
	if tracked {
		m.logger.Debug("websocket client disconnected", "clients", count)
	}
}
