package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipmirror/clipmirror/internal/store"
	"github.com/clipmirror/clipmirror/internal/task"
)

// fakePipeline records control calls and returns canned state.
type fakePipeline struct {
	mu        sync.Mutex
	running   bool
	paused    bool
	cancelled []string
	cancelOK  bool
}

func (p *fakePipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *fakePipeline) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *fakePipeline) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
}

func (p *fakePipeline) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
}

func (p *fakePipeline) Cancel(itemID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, itemID)
	return p.cancelOK
}

// fakeStatsStore serves canned counters.
type fakeStatsStore struct {
	mu        sync.Mutex
	counters  map[string]int64
	getAllErr error
}

func newFakeStatsStore() *fakeStatsStore {
	return &fakeStatsStore{counters: make(map[string]int64)}
}

func (s *fakeStatsStore) Increment(ctx context.Context, name string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name] += delta
	return s.counters[name], nil
}

func (s *fakeStatsStore) Get(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.counters[name]
	if !ok {
		return 0, store.ErrStatNotFound
	}
	return v, nil
}

func (s *fakeStatsStore) GetAll(ctx context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getAllErr != nil {
		return nil, s.getAllErr
	}
	out := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out, nil
}

func (s *fakeStatsStore) Reset(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.counters[name]; !ok {
		return store.ErrStatNotFound
	}
	s.counters[name] = 0
	return nil
}

func (s *fakeStatsStore) WithTx(tx *sql.Tx) store.StatsStore { return s }

type pipelineFixture struct {
	handler   *PipelineHandler
	pipeline  *fakePipeline
	downloads *task.Queue
	uploads   *task.Queue
	stats     *fakeStatsStore
	router    chi.Router
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	downloads := task.NewQueue(task.QueueConfig{
		Name:             "download_queue",
		ConcurrencyLimit: 2,
		MaxRetries:       0,
	}, logger)
	uploads := task.NewQueue(task.QueueConfig{
		Name:             "upload_queue",
		ConcurrencyLimit: 2,
		MaxRetries:       0,
	}, logger)

	pipeline := &fakePipeline{running: true, cancelOK: true}
	stats := newFakeStatsStore()
	handler := NewPipelineHandler(pipeline, downloads, uploads, stats)

	router := chi.NewRouter()
	router.Get("/healthz", handler.Health)
	router.Get("/api/stats", handler.Stats)
	router.Get("/api/tasks", handler.Tasks)
	router.Post("/api/tasks/{id}/cancel", handler.CancelTask)
	router.Delete("/api/tasks/completed", handler.ClearCompleted)
	router.Delete("/api/tasks/failed", handler.ClearFailed)
	router.Post("/api/pipeline/pause", handler.Pause)
	router.Post("/api/pipeline/resume", handler.Resume)

	return &pipelineFixture{
		handler:   handler,
		pipeline:  pipeline,
		downloads: downloads,
		uploads:   uploads,
		stats:     stats,
		router:    router,
	}
}

func (f *pipelineFixture) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	recorder := httptest.NewRecorder()
	f.router.ServeHTTP(recorder, req)
	return recorder
}

func TestHealth(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t)
	recorder := f.do(t, http.MethodGet, "/healthz")

	require.Equal(t, http.StatusOK, recorder.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestStats(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t)
	_, err := f.stats.Increment(context.Background(), store.StatItemsDetected, 3)
	require.NoError(t, err)

	f.downloads.Add("vid-1", nil, task.PriorityHigh)
	f.downloads.Add("vid-2", nil, task.PriorityNormal)
	require.NotNil(t, f.downloads.Next(0))

	recorder := f.do(t, http.MethodGet, "/api/stats")
	require.Equal(t, http.StatusOK, recorder.Code)

	var resp StatsResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	assert.True(t, resp.Running)
	assert.False(t, resp.Paused)
	assert.Equal(t, task.Stats{Pending: 1, Processing: 1}, resp.Downloads)
	assert.Equal(t, task.Stats{}, resp.Uploads)
	assert.Equal(t, int64(3), resp.Counters[store.StatItemsDetected])
}

func TestStatsStoreFailure(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t)
	f.stats.getAllErr = store.ErrTransactionFailed

	recorder := f.do(t, http.MethodGet, "/api/stats")
	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
}

func TestTasksSnapshot(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t)
	f.downloads.Add("vid-1", map[string]any{"title": "First"}, task.PriorityHigh)
	f.uploads.Add("vid-2", nil, task.PriorityNormal)

	recorder := f.do(t, http.MethodGet, "/api/tasks")
	require.Equal(t, http.StatusOK, recorder.Code)

	var resp TasksResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	require.Len(t, resp.Downloads.Pending, 1)
	assert.Equal(t, "vid-1", resp.Downloads.Pending[0].ItemID)
	assert.Equal(t, "First", resp.Downloads.Pending[0].Payload["title"])
	require.Len(t, resp.Uploads.Pending, 1)
	assert.Equal(t, "vid-2", resp.Uploads.Pending[0].ItemID)
}

func TestCancelTask(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t)

	recorder := f.do(t, http.MethodPost, "/api/tasks/vid-9/cancel")
	require.Equal(t, http.StatusOK, recorder.Code)

	var resp CancelResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	assert.Equal(t, "vid-9", resp.ItemID)
	assert.True(t, resp.Cancelled)
	assert.Equal(t, []string{"vid-9"}, f.pipeline.cancelled)
}

func TestCancelTaskNotTracked(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t)
	f.pipeline.cancelOK = false

	recorder := f.do(t, http.MethodPost, "/api/tasks/ghost/cancel")
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestClearCompletedAndFailed(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t)

	// One completed download, one terminally failed upload.
	f.downloads.Add("vid-1", nil, task.PriorityNormal)
	require.NotNil(t, f.downloads.Next(0))
	require.True(t, f.downloads.MarkCompleted("vid-1"))

	f.uploads.Add("vid-2", nil, task.PriorityNormal)
	require.NotNil(t, f.uploads.Next(0))
	_, terminal := f.uploads.MarkFailed("vid-2", assert.AnError)
	require.True(t, terminal)

	recorder := f.do(t, http.MethodDelete, "/api/tasks/completed")
	require.Equal(t, http.StatusOK, recorder.Code)
	var resp ClearResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Removed)
	assert.Equal(t, task.Stats{}, f.downloads.Stats())

	recorder = f.do(t, http.MethodDelete, "/api/tasks/failed")
	require.Equal(t, http.StatusOK, recorder.Code)
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Removed)
	assert.Equal(t, task.Stats{}, f.uploads.Stats())
}

func TestPauseAndResume(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t)

	recorder := f.do(t, http.MethodPost, "/api/pipeline/pause")
	require.Equal(t, http.StatusOK, recorder.Code)

	var resp StateResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	assert.True(t, resp.Paused)
	assert.True(t, resp.Running)

	recorder = f.do(t, http.MethodPost, "/api/pipeline/resume")
	require.Equal(t, http.StatusOK, recorder.Code)
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	assert.False(t, resp.Paused)
}
