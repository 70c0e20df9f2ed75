package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipmirror/clipmirror/internal/events"
)

// eventCollector records published events of the given types.
type eventCollector struct {
	mu     sync.Mutex
	byType map[events.EventType][]events.Event
}

func collectEvents(bus *events.Bus, types ...events.EventType) *eventCollector {
	c := &eventCollector{byType: make(map[events.EventType][]events.Event)}
	for _, et := range types {
		et := et
		bus.Subscribe(et, func(e events.Event) {
			c.mu.Lock()
			c.byType[et] = append(c.byType[et], e)
			c.mu.Unlock()
		})
	}
	return c
}

func (c *eventCollector) events(et events.EventType) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Event, len(c.byType[et]))
	copy(out, c.byType[et])
	return out
}

func (c *eventCollector) count(et events.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byType[et])
}

func newTestPool(t *testing.T, stage Stage, limit int) (*Queue, *events.Bus, *Pool) {
	t.Helper()
	logger := setupTestLogger()
	q := NewQueue(QueueConfig{Name: "test_queue", ConcurrencyLimit: limit, MaxRetries: 3}, logger)
	bus := events.NewBus(logger)
	return q, bus, NewPool(stage, q, bus, logger)
}

func dispatchClaimed(t *testing.T, q *Queue, p *Pool, itemID string, op Operation) *Handle {
	t.Helper()
	require.True(t, q.Add(itemID, map[string]any{"title": "clip " + itemID}, PriorityNormal))
	task := q.Next(0)
	require.NotNil(t, task)
	require.Equal(t, itemID, task.ItemID)
	return p.Dispatch(context.Background(), *task, op)
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not finish in time")
	}
}

func TestPoolDispatchSuccess(t *testing.T) {
	q, bus, pool := newTestPool(t, StageDownload, 1)
	c := collectEvents(bus, events.DownloadStarted, events.DownloadCompleted)

	h := dispatchClaimed(t, q, pool, "v1", func(ctx context.Context, task Task, progress ProgressFunc) (string, error) {
		return "/tmp/clips/v1.mp4", nil
	})
	waitDone(t, h)

	assert.Equal(t, Stats{Completed: 1}, q.Stats())
	assert.Equal(t, 0, pool.Active())

	started := c.events(events.DownloadStarted)
	require.Len(t, started, 1)
	assert.Equal(t, "v1", started[0].Data["item_id"])
	assert.Equal(t, "clip v1", started[0].Data["title"])

	completed := c.events(events.DownloadCompleted)
	require.Len(t, completed, 1)
	result, ok := events.ParseResult(completed[0].Data)
	require.True(t, ok)
	assert.Equal(t, "/tmp/clips/v1.mp4", result.Ref)
}

func TestPoolNoFalseSuccess(t *testing.T) {
	t.Run("empty reference is a failure", func(t *testing.T) {
		q, bus, pool := newTestPool(t, StageDownload, 1)
		c := collectEvents(bus, events.DownloadCompleted, events.DownloadFailed)

		h := dispatchClaimed(t, q, pool, "v4", func(ctx context.Context, task Task, progress ProgressFunc) (string, error) {
			// The operation lies: no error but nothing produced.
			return "", nil
		})
		waitDone(t, h)

		stats := q.Stats()
		assert.Zero(t, stats.Completed, "empty result must never complete a task")
		assert.Equal(t, 1, stats.Pending, "first failure requeues for retry")

		assert.Zero(t, c.count(events.DownloadCompleted))
		failed := c.events(events.DownloadFailed)
		require.Len(t, failed, 1)
		payload, ok := events.ParseFailure(failed[0].Data)
		require.True(t, ok)
		assert.Contains(t, payload.Err, "without a result")
		assert.Equal(t, 1, payload.RetryCount)
		assert.False(t, payload.Terminal)
	})

	t.Run("exhausting retries on empty references ends in failed", func(t *testing.T) {
		q, bus, pool := newTestPool(t, StageDownload, 1)
		c := collectEvents(bus, events.DownloadCompleted, events.DownloadFailed)

		op := func(ctx context.Context, task Task, progress ProgressFunc) (string, error) {
			return "", nil
		}

		h := dispatchClaimed(t, q, pool, "v4", op)
		waitDone(t, h)
		for i := 0; i < 2; i++ {
			task := q.Next(0)
			require.NotNil(t, task)
			h := pool.Dispatch(context.Background(), *task, op)
			waitDone(t, h)
		}

		stats := q.Stats()
		assert.Equal(t, Stats{Failed: 1}, stats)
		assert.Zero(t, c.count(events.DownloadCompleted))

		failures := c.events(events.DownloadFailed)
		require.Len(t, failures, 3)
		last, ok := events.ParseFailure(failures[2].Data)
		require.True(t, ok)
		assert.True(t, last.Terminal)
		assert.Equal(t, 3, last.RetryCount)
	})
}

func TestPoolOperationError(t *testing.T) {
	q, bus, pool := newTestPool(t, StageUpload, 1)
	c := collectEvents(bus, events.UploadFailed)

	h := dispatchClaimed(t, q, pool, "v2", func(ctx context.Context, task Task, progress ProgressFunc) (string, error) {
		return "", errors.New("quota exceeded")
	})
	waitDone(t, h)

	assert.Equal(t, 1, q.Stats().Pending)

	failed := c.events(events.UploadFailed)
	require.Len(t, failed, 1)
	payload, _ := events.ParseFailure(failed[0].Data)
	assert.Equal(t, "quota exceeded", payload.Err)
	assert.Equal(t, 1, payload.RetryCount)
}

func TestPoolProgressEvents(t *testing.T) {
	q, bus, pool := newTestPool(t, StageDownload, 1)
	c := collectEvents(bus, events.DownloadProgress)

	h := dispatchClaimed(t, q, pool, "v1", func(ctx context.Context, task Task, progress ProgressFunc) (string, error) {
		progress(10, "500KiB/s", "00:54")
		progress(55, "1.1MiB/s", "00:20")
		progress(100, "1.3MiB/s", "00:00")
		return "/tmp/v1.mp4", nil
	})
	waitDone(t, h)

	reports := c.events(events.DownloadProgress)
	require.Len(t, reports, 3)

	first, ok := events.ParseProgress(reports[0].Data)
	require.True(t, ok)
	assert.Equal(t, "v1", first.ItemID)
	assert.Equal(t, 10.0, first.Percent)
	assert.Equal(t, "500KiB/s", first.Rate)

	last, _ := events.ParseProgress(reports[2].Data)
	assert.Equal(t, 100.0, last.Percent)
}

func TestPoolCancelDiscardsLateResult(t *testing.T) {
	// Scenario: v5 is cancelled while running; its operation later returns
	// success. The result must be discarded: v5 leaves the queue entirely
	// and never reaches completed.
	q, bus, pool := newTestPool(t, StageDownload, 1)
	c := collectEvents(bus,
		events.DownloadCompleted,
		events.DownloadFailed,
		events.DownloadCancelled)

	started := make(chan struct{})
	release := make(chan struct{})
	h := dispatchClaimed(t, q, pool, "v5", func(ctx context.Context, task Task, progress ProgressFunc) (string, error) {
		close(started)
		// Deliberately ignores ctx: simulates an operation with no
		// cancellation hook that runs to successful completion.
		<-release
		return "/tmp/v5.mp4", nil
	})

	<-started
	h.Cancel()
	assert.True(t, h.Cancelled())

	stats := q.Stats()
	assert.Zero(t, stats.Processing, "cancel removes the task immediately")

	close(release)
	waitDone(t, h)

	assert.Equal(t, Stats{}, q.Stats(), "discarded result causes no transition")
	assert.Zero(t, c.count(events.DownloadCompleted))
	assert.Zero(t, c.count(events.DownloadFailed))
	assert.Equal(t, 1, c.count(events.DownloadCancelled))
}

func TestPoolCancelIsIdempotent(t *testing.T) {
	q, bus, pool := newTestPool(t, StageDownload, 1)
	c := collectEvents(bus, events.DownloadCancelled)

	release := make(chan struct{})
	h := dispatchClaimed(t, q, pool, "v1", func(ctx context.Context, task Task, progress ProgressFunc) (string, error) {
		<-release
		return "", ctx.Err()
	})

	h.Cancel()
	h.Cancel()
	close(release)
	waitDone(t, h)

	assert.Equal(t, 1, c.count(events.DownloadCancelled))
	assert.Equal(t, Stats{}, q.Stats())
}

func TestPoolParentContextCancellation(t *testing.T) {
	q, bus, pool := newTestPool(t, StageDownload, 1)
	c := collectEvents(bus, events.DownloadCancelled, events.DownloadFailed)

	ctx, cancel := context.WithCancel(context.Background())

	require.True(t, q.Add("v1", nil, PriorityNormal))
	task := q.Next(0)
	require.NotNil(t, task)

	h := pool.Dispatch(ctx, *task, func(ctx context.Context, task Task, progress ProgressFunc) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	cancel()
	waitDone(t, h)

	assert.Equal(t, Stats{}, q.Stats(), "shutdown cancellation removes the task")
	assert.Equal(t, 1, c.count(events.DownloadCancelled))
	assert.Zero(t, c.count(events.DownloadFailed), "context cancellation does not burn a retry")
}

func TestPoolCancelAllAndWait(t *testing.T) {
	q, _, pool := newTestPool(t, StageDownload, 2)

	op := func(ctx context.Context, task Task, progress ProgressFunc) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	h1 := dispatchClaimed(t, q, pool, "v1", op)
	h2 := dispatchClaimed(t, q, pool, "v2", op)
	assert.Equal(t, 2, pool.Active())

	pool.CancelAll()
	assert.True(t, pool.Wait(2*time.Second))

	waitDone(t, h1)
	waitDone(t, h2)
	assert.Equal(t, 0, pool.Active())
	assert.Equal(t, Stats{}, q.Stats())
}

func TestPoolCancelItem(t *testing.T) {
	q, _, pool := newTestPool(t, StageDownload, 1)

	h := dispatchClaimed(t, q, pool, "v1", func(ctx context.Context, task Task, progress ProgressFunc) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	assert.True(t, pool.CancelItem("v1"))
	assert.False(t, pool.CancelItem("absent"))
	waitDone(t, h)
	assert.False(t, pool.CancelItem("v1"), "finished workers drop their handles")
}

func TestPoolCancelledWorkerSuppressesProgress(t *testing.T) {
	q, bus, pool := newTestPool(t, StageDownload, 1)
	c := collectEvents(bus, events.DownloadProgress)

	started := make(chan struct{})
	release := make(chan struct{})
	h := dispatchClaimed(t, q, pool, "v1", func(ctx context.Context, task Task, progress ProgressFunc) (string, error) {
		progress(10, "", "")
		close(started)
		<-release
		progress(90, "", "")
		return "/tmp/v1.mp4", nil
	})

	<-started
	h.Cancel()
	close(release)
	waitDone(t, h)

	assert.Equal(t, 1, c.count(events.DownloadProgress), "progress after cancel is dropped")
}

func TestPoolUploadStageEventTypes(t *testing.T) {
	q, bus, pool := newTestPool(t, StageUpload, 1)
	c := collectEvents(bus, events.UploadStarted, events.UploadCompleted)

	h := dispatchClaimed(t, q, pool, "v9", func(ctx context.Context, task Task, progress ProgressFunc) (string, error) {
		return "published-v9", nil
	})
	waitDone(t, h)

	assert.Equal(t, 1, c.count(events.UploadStarted))
	completed := c.events(events.UploadCompleted)
	require.Len(t, completed, 1)
	result, _ := events.ParseResult(completed[0].Data)
	assert.Equal(t, "published-v9", result.Ref)
}
