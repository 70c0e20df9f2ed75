package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clipmirror/clipmirror/internal/api/shared"
	"github.com/clipmirror/clipmirror/internal/store"
	"github.com/clipmirror/clipmirror/internal/task"
)

// Pipeline is the controller surface the operations API drives. It is
// satisfied by pipeline.Controller.
type Pipeline interface {
	// Running reports whether the pipeline has been started and not shut down.
	Running() bool

	// Paused reports whether dispatching is currently paused.
	Paused() bool

	// Pause stops the dispatch loop from claiming new work.
	Pause()

	// Resume restarts dispatching after a pause.
	Resume()

	// Cancel cancels an item wherever it currently is. Returns false if no
	// stage is tracking the item.
	Cancel(itemID string) bool
}

// PipelineHandler exposes the pipeline's state and controls over HTTP.
type PipelineHandler struct {
	pipeline  Pipeline
	downloads *task.Queue
	uploads   *task.Queue
	stats     store.StatsStore
}

// NewPipelineHandler creates a new PipelineHandler with the given dependencies.
func NewPipelineHandler(
	pipeline Pipeline,
	downloads *task.Queue,
	uploads *task.Queue,
	stats store.StatsStore,
) *PipelineHandler {
	return &PipelineHandler{
		pipeline:  pipeline,
		downloads: downloads,
		uploads:   uploads,
		stats:     stats,
	}
}

// Health handles the /healthz endpoint.
func (h *PipelineHandler) Health(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{Status: "ok"})
}

// Stats handles GET /api/stats: queue stats plus the persisted counters.
func (h *PipelineHandler) Stats(w http.ResponseWriter, r *http.Request) {
	counters, err := h.stats.GetAll(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load statistics")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, StatsResponse{
		Running:   h.pipeline.Running(),
		Paused:    h.pipeline.Paused(),
		Downloads: h.downloads.Stats(),
		Uploads:   h.uploads.Stats(),
		Counters:  counters,
	})
}

// Tasks handles GET /api/tasks: a snapshot of every view of both queues.
func (h *PipelineHandler) Tasks(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, TasksResponse{
		Downloads: h.downloads.Snapshot(),
		Uploads:   h.uploads.Snapshot(),
	})
}

// CancelTask handles POST /api/tasks/{id}/cancel.
func (h *PipelineHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	if itemID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Item ID is required")
		return
	}

	if !h.pipeline.Cancel(itemID) {
		shared.RespondWithError(w, r, http.StatusNotFound, "No task tracked for item")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, CancelResponse{
		ItemID:    itemID,
		Cancelled: true,
	})
}

// ClearCompleted handles DELETE /api/tasks/completed for both queues.
func (h *PipelineHandler) ClearCompleted(w http.ResponseWriter, r *http.Request) {
	removed := h.downloads.ClearCompleted() + h.uploads.ClearCompleted()
	shared.RespondWithJSON(w, r, http.StatusOK, ClearResponse{Removed: removed})
}

// ClearFailed handles DELETE /api/tasks/failed for both queues.
func (h *PipelineHandler) ClearFailed(w http.ResponseWriter, r *http.Request) {
	removed := h.downloads.ClearFailed() + h.uploads.ClearFailed()
	shared.RespondWithJSON(w, r, http.StatusOK, ClearResponse{Removed: removed})
}

// Pause handles POST /api/pipeline/pause.
func (h *PipelineHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.pipeline.Pause()
	h.respondState(w, r)
}

// Resume handles POST /api/pipeline/resume.
func (h *PipelineHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.pipeline.Resume()
	h.respondState(w, r)
}

func (h *PipelineHandler) respondState(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, StateResponse{
		Running: h.pipeline.Running(),
		Paused:  h.pipeline.Paused(),
	})
}
