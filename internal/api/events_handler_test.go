package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipmirror/clipmirror/internal/api/ws"
	"github.com/clipmirror/clipmirror/internal/events"
)

func newEventsFixture(t *testing.T) (*EventsHandler, *events.Bus, *ws.Manager) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := events.NewBus(logger)
	manager := ws.NewManager(logger)
	return NewEventsHandler(bus, manager), bus, manager
}

func getHistory(t *testing.T, handler *EventsHandler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	recorder := httptest.NewRecorder()
	handler.History(recorder, req)
	return recorder
}

func TestEventHistory(t *testing.T) {
	t.Parallel()

	handler, bus, _ := newEventsFixture(t)
	bus.Publish(events.ItemDetected, map[string]any{"item_id": "vid-1"}, "detector")
	bus.Publish(events.DownloadCompleted, map[string]any{"item_id": "vid-1"}, "download_worker_pool")
	bus.Publish(events.ItemDetected, map[string]any{"item_id": "vid-2"}, "detector")

	t.Run("all events most recent first", func(t *testing.T) {
		recorder := getHistory(t, handler, "/api/events")
		require.Equal(t, http.StatusOK, recorder.Code)

		var got []events.Event
		require.NoError(t, json.NewDecoder(recorder.Body).Decode(&got))
		require.Len(t, got, 3)
		assert.Equal(t, events.ItemDetected, got[0].Type)
		assert.Equal(t, "vid-2", got[0].Data["item_id"])
		assert.Equal(t, events.DownloadCompleted, got[1].Type)
	})

	t.Run("filtered by type", func(t *testing.T) {
		recorder := getHistory(t, handler, "/api/events?type=item_detected")
		require.Equal(t, http.StatusOK, recorder.Code)

		var got []events.Event
		require.NoError(t, json.NewDecoder(recorder.Body).Decode(&got))
		require.Len(t, got, 2)
		for _, ev := range got {
			assert.Equal(t, events.ItemDetected, ev.Type)
		}
	})

	t.Run("limited", func(t *testing.T) {
		recorder := getHistory(t, handler, "/api/events?limit=1")
		require.Equal(t, http.StatusOK, recorder.Code)

		var got []events.Event
		require.NoError(t, json.NewDecoder(recorder.Body).Decode(&got))
		require.Len(t, got, 1)
		assert.Equal(t, "vid-2", got[0].Data["item_id"])
	})

	t.Run("invalid limit", func(t *testing.T) {
		recorder := getHistory(t, handler, "/api/events?limit=banana")
		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})
}

func TestStreamDeliversBroadcasts(t *testing.T) {
	t.Parallel()

	handler, bus, manager := newEventsFixture(t)

	server := httptest.NewServer(http.HandlerFunc(handler.Stream))
	defer server.Close()
	defer manager.CloseAll()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = conn.Close() }()

	// The read loop registers asynchronously; wait for the manager to see it.
	require.Eventually(t, func() bool {
		return manager.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	ev := bus.Publish(events.StatusChanged, map[string]any{"item_id": "vid-1", "status": "downloading"}, "pipeline_controller")
	manager.Broadcast(ev)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, events.StatusChanged, got.Type)
	assert.Equal(t, "vid-1", got.Data["item_id"])
	assert.Equal(t, ev.ID, got.ID)
}
