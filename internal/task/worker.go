package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clipmirror/clipmirror/internal/events"
)

// errNoResult is the failure recorded when an operation signals success
// without producing a usable reference. An empty reference must never be
// coerced into a completed task.
var errNoResult = errors.New("operation reported success without a result")

// Stage names which pipeline stage a pool executes.
type Stage string

// Pipeline stages.
const (
	StageDownload Stage = "download"
	StageUpload   Stage = "upload"
)

// ProgressFunc receives progress reports from a running operation.
type ProgressFunc func(percent float64, rate, eta string)

// Operation performs the external work for one claimed task and returns
// the reference it produced (an artifact path for downloads, a published
// identifier for uploads). The contract is strict: a nil error with an
// empty reference is treated as a failure by the pool. The operation is
// expected to observe ctx.Done() at its checkpoints; an operation without
// cancellation support simply has its eventual result discarded.
type Operation func(ctx context.Context, t Task, progress ProgressFunc) (ref string, err error)

// Handle identifies one dispatched worker and carries its cancellation.
type Handle struct {
	// ItemID is the task the worker is bound to.
	ItemID string

	pool      *Pool
	cancelCtx context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}
}

// Cancel requests cooperative cancellation. The first call removes the
// task from the queue and publishes the stage's cancelled event; the
// worker discards whatever its operation eventually returns. Subsequent
// calls are no-ops.
func (h *Handle) Cancel() {
	if !h.cancelled.CompareAndSwap(false, true) {
		return
	}
	h.cancelCtx()

	h.pool.queue.Cancel(h.ItemID)
	h.pool.bus.Publish(h.pool.stage.cancelledEvent(), map[string]any{
		"item_id": h.ItemID,
	}, h.pool.source)

	h.pool.logger.Info("cancellation requested", "item_id", h.ItemID)
}

// Cancelled reports whether Cancel has been accepted.
func (h *Handle) Cancelled() bool {
	return h.cancelled.Load()
}

// Done is closed when the worker goroutine has finished, whatever the
// outcome.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Pool executes external operations for claimed tasks, one goroutine per
// dispatch. It owns the translation from operation outcomes into queue
// transitions and events; workers share no state with each other.
type Pool struct {
	stage  Stage
	queue  *Queue
	bus    *events.Bus
	source string
	logger *slog.Logger

	mu      sync.Mutex
	handles map[string]*Handle
	wg      sync.WaitGroup
}

// NewPool creates a pool for one pipeline stage.
func NewPool(stage Stage, queue *Queue, bus *events.Bus, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	source := string(stage) + "_worker"
	return &Pool{
		stage:   stage,
		queue:   queue,
		bus:     bus,
		source:  source,
		logger:  logger.With("component", source+"_pool"),
		handles: make(map[string]*Handle),
	}
}

// Dispatch starts a worker goroutine for a claimed task and returns its
// handle immediately. The worker publishes the stage's started event, runs
// op, and finishes with exactly one of: MarkCompleted plus a completed
// event, MarkFailed plus a failed event, or a silent return when the
// invocation was cancelled (the cancel path already recorded the outcome).
func (p *Pool) Dispatch(ctx context.Context, t Task, op Operation) *Handle {
	workerCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		ItemID:    t.ItemID,
		pool:      p,
		cancelCtx: cancel,
		done:      make(chan struct{}),
	}

	p.mu.Lock()
	if _, exists := p.handles[t.ItemID]; exists {
		p.logger.Warn("replacing live handle for item", "item_id", t.ItemID)
	}
	p.handles[t.ItemID] = h
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(workerCtx, t, op, h)

	return h
}

func (p *Pool) run(ctx context.Context, t Task, op Operation, h *Handle) {
	defer p.wg.Done()
	defer close(h.done)
	defer p.release(h)

	logger := p.logger.With("item_id", t.ItemID)

	startData := map[string]any{"item_id": t.ItemID}
	if title, ok := t.Payload["title"].(string); ok {
		startData["title"] = title
	}
	p.bus.Publish(p.stage.startedEvent(), startData, p.source)

	progress := func(percent float64, rate, eta string) {
		// A cancelled worker stops republishing progress.
		if h.cancelled.Load() || ctx.Err() != nil {
			return
		}
		p.bus.Publish(p.stage.progressEvent(), events.ProgressPayload{
			ItemID:  t.ItemID,
			Percent: percent,
			Rate:    rate,
			ETA:     eta,
		}.AsMap(), p.source)
	}

	ref, err := op(ctx, t, progress)

	if h.cancelled.Load() {
		// Cancel already removed the task and published the event; the
		// late result is discarded to avoid a stale transition racing a
		// fresh retry of the same item.
		logger.Debug("discarding result after cancellation")
		return
	}
	if ctx.Err() != nil {
		// Parent context cancelled without an explicit Cancel call
		// (shutdown). Record the cancellation ourselves.
		p.queue.Cancel(t.ItemID)
		p.bus.Publish(p.stage.cancelledEvent(), map[string]any{
			"item_id": t.ItemID,
		}, p.source)
		logger.Info("worker stopped by context", "cause", ctx.Err())
		return
	}

	if err == nil && ref == "" {
		err = errNoResult
	}

	if err != nil {
		retries, terminal := p.queue.MarkFailed(t.ItemID, err)
		p.bus.Publish(p.stage.failedEvent(), events.FailurePayload{
			ItemID:     t.ItemID,
			Err:        err.Error(),
			RetryCount: retries,
			Terminal:   terminal,
		}.AsMap(), p.source)
		logger.Warn("operation failed",
			"error", err,
			"retries", retries,
			"terminal", terminal)
		return
	}

	p.queue.MarkCompleted(t.ItemID)
	p.bus.Publish(p.stage.completedEvent(), events.ResultPayload{
		ItemID: t.ItemID,
		Ref:    ref,
	}.AsMap(), p.source)
	logger.Info("operation completed", "ref", ref)
}

// release drops the handle registration once its worker has finished. A
// replacement handle for the same item is left in place.
func (p *Pool) release(h *Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handles[h.ItemID] == h {
		delete(p.handles, h.ItemID)
	}
}

// CancelItem cancels the live worker for an item, if any.
func (p *Pool) CancelItem(itemID string) bool {
	p.mu.Lock()
	h, ok := p.handles[itemID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	h.Cancel()
	return true
}

// CancelAll requests cancellation of every live worker.
func (p *Pool) CancelAll() {
	p.mu.Lock()
	live := make([]*Handle, 0, len(p.handles))
	for _, h := range p.handles {
		live = append(live, h)
	}
	p.mu.Unlock()

	for _, h := range live {
		h.Cancel()
	}
}

// Active reports the number of live workers.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// Wait blocks until every worker has finished or the timeout elapses.
// Returns false when workers were still live at the deadline.
func (p *Pool) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		p.logger.Warn("timed out waiting for workers", "timeout", timeout)
		return false
	}
}

// Event types per stage.

func (s Stage) startedEvent() events.EventType {
	if s == StageUpload {
		return events.UploadStarted
	}
	return events.DownloadStarted
}

func (s Stage) progressEvent() events.EventType {
	if s == StageUpload {
		return events.UploadProgress
	}
	return events.DownloadProgress
}

func (s Stage) completedEvent() events.EventType {
	if s == StageUpload {
		return events.UploadCompleted
	}
	return events.DownloadCompleted
}

func (s Stage) failedEvent() events.EventType {
	if s == StageUpload {
		return events.UploadFailed
	}
	return events.DownloadFailed
}

func (s Stage) cancelledEvent() events.EventType {
	if s == StageUpload {
		return events.UploadCancelled
	}
	return events.DownloadCancelled
}
