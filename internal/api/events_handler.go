package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/clipmirror/clipmirror/internal/api/shared"
	"github.com/clipmirror/clipmirror/internal/api/ws"
	"github.com/clipmirror/clipmirror/internal/events"
)

// DefaultHistoryLimit bounds GET /api/events responses when the client does
// not ask for a specific limit.
const DefaultHistoryLimit = 50

// EventsHandler exposes the event bus over HTTP: the retained history as
// JSON and the live stream over a websocket.
type EventsHandler struct {
	bus      *events.Bus
	manager  *ws.Manager
	upgrader websocket.Upgrader
}

// NewEventsHandler creates a new EventsHandler with the given dependencies.
func NewEventsHandler(bus *events.Bus, manager *ws.Manager) *EventsHandler {
	return &EventsHandler{
		bus:     bus,
		manager: manager,
		upgrader: websocket.Upgrader{
			// The ops API is operator-facing, not browser-embedded.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// History handles GET /api/events?type=&limit=. Events come back most
// recent first.
func (h *EventsHandler) History(w http.ResponseWriter, r *http.Request) {
	eventType := events.EventType(r.URL.Query().Get("type"))

	limit := DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	shared.RespondWithJSON(w, r, http.StatusOK, h.bus.History(eventType, limit))
}

// Stream handles GET /api/events/stream: upgrades the connection and
// registers it for event broadcasts.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own error response.
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}

	h.manager.Add(conn)
}
