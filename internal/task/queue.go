package task

import (
	"container/heap"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Queue defaults applied when a QueueConfig field is missing or invalid.
const (
	DefaultConcurrencyLimit = 1
	DefaultMaxRetries       = 3
)

// QueueConfig holds the settings for a Queue.
type QueueConfig struct {
	// Name labels the queue in logs (e.g. "download_queue").
	Name string

	// ConcurrencyLimit caps the processing view. Next returns nothing while
	// the cap is reached.
	ConcurrencyLimit int

	// MaxRetries is assigned to every task added to this queue.
	MaxRetries int
}

// DefaultQueueConfig returns a config with the default settings.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Name:             "task_queue",
		ConcurrencyLimit: DefaultConcurrencyLimit,
		MaxRetries:       DefaultMaxRetries,
	}
}

// Stats holds the per-view task counts.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Snapshot is a point-in-time copy of every view, for inspection surfaces.
// Pending is in claim order; the other views are ordered by enqueue time.
type Snapshot struct {
	Pending    []Task `json:"pending"`
	Processing []Task `json:"processing"`
	Completed  []Task `json:"completed"`
	Failed     []Task `json:"failed"`
}

// Queue is the single source of truth for task lifecycle and concurrency
// admission. It maintains four disjoint views keyed by item ID: pending
// (ordered), processing (bounded by the concurrency limit), completed, and
// failed. Every transition runs under one mutex, which makes the
// check-and-move in Next atomic: that atomicity is what caps concurrency
// and prevents an item from being dispatched twice.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	pending     pendingHeap
	pendingByID map[string]*Task
	processing  map[string]*Task
	completed   map[string]*Task
	failed      map[string]*Task

	limit      int
	maxRetries int
	seq        uint64

	logger *slog.Logger
}

// NewQueue creates an empty queue. Invalid config values fall back to the
// defaults with a warning.
func NewQueue(cfg QueueConfig, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "task_queue"
	}
	log := logger.With("component", cfg.Name)

	if cfg.ConcurrencyLimit <= 0 {
		log.Warn("invalid concurrency limit, using default",
			"configured", cfg.ConcurrencyLimit,
			"default", DefaultConcurrencyLimit)
		cfg.ConcurrencyLimit = DefaultConcurrencyLimit
	}
	if cfg.MaxRetries < 0 {
		log.Warn("invalid max retries, using default",
			"configured", cfg.MaxRetries,
			"default", DefaultMaxRetries)
		cfg.MaxRetries = DefaultMaxRetries
	}

	q := &Queue{
		pendingByID: make(map[string]*Task),
		processing:  make(map[string]*Task),
		completed:   make(map[string]*Task),
		failed:      make(map[string]*Task),
		limit:       cfg.ConcurrencyLimit,
		maxRetries:  cfg.MaxRetries,
		logger:      log,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add inserts a new pending task for itemID. The add is idempotent: if the
// item is already tracked in any view the call is a no-op and returns
// false. An empty itemID is rejected the same way.
func (q *Queue) Add(itemID string, payload map[string]any, priority Priority) bool {
	if itemID == "" {
		q.logger.Warn("rejected task with empty item id")
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.holdsLocked(itemID) {
		q.logger.Debug("task already tracked, ignoring add", "item_id", itemID)
		return false
	}

	q.seq++
	t := &Task{
		ItemID:     itemID,
		Priority:   priority,
		EnqueuedAt: time.Now(),
		Payload:    payload,
		MaxRetries: q.maxRetries,
		seq:        q.seq,
	}
	heap.Push(&q.pending, t)
	q.pendingByID[itemID] = t

	q.logger.Debug("task added",
		"item_id", itemID,
		"priority", priority.String(),
		"pending", q.pending.Len())

	q.cond.Broadcast()
	return true
}

// Next claims the highest-priority pending task: it is atomically moved to
// the processing view and a copy is returned. Next returns nil when the
// processing view is at the concurrency limit or nothing is pending; with
// timeout > 0 it waits up to that long for both conditions to clear before
// giving up.
func (q *Queue) Next(timeout time.Duration) *Task {
	deadline := time.Now().Add(timeout)

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if t := q.claimLocked(); t != nil {
			return t
		}
		if timeout <= 0 {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}

		// sync.Cond has no timed wait; a timer broadcast bounds this one.
		timer := time.AfterFunc(remaining, q.cond.Broadcast)
		q.cond.Wait()
		timer.Stop()
	}
}

// claimLocked pops the head of pending into processing when a slot is free.
// Callers must hold q.mu.
func (q *Queue) claimLocked() *Task {
	if len(q.processing) >= q.limit || q.pending.Len() == 0 {
		return nil
	}

	t := heap.Pop(&q.pending).(*Task)
	delete(q.pendingByID, t.ItemID)
	q.processing[t.ItemID] = t

	q.logger.Debug("task claimed",
		"item_id", t.ItemID,
		"priority", t.Priority.String(),
		"processing", len(q.processing))

	c := *t
	return &c
}

// MarkCompleted moves a task from processing to completed. Late or
// duplicate callbacks are expected under concurrency, so a task that is not
// processing is logged and ignored. Returns whether the move happened.
func (q *Queue) MarkCompleted(itemID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.processing[itemID]
	if !ok {
		q.logger.Warn("mark completed for task not in processing", "item_id", itemID)
		return false
	}
	delete(q.processing, itemID)
	q.completed[itemID] = t

	q.logger.Info("task completed", "item_id", itemID, "retries", t.RetryCount)

	q.cond.Broadcast()
	return true
}

// MarkFailed records a failed attempt for a processing task. The retry
// count is incremented; while it remains below the task's budget the task
// is requeued as pending at low priority with a fresh enqueue time, once
// the budget is reached it moves to failed with the cause recorded.
// Returns the retry count after the transition and whether the failure was
// terminal. A task that is not processing is logged and ignored.
func (q *Queue) MarkFailed(itemID string, cause error) (retryCount int, terminal bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.processing[itemID]
	if !ok {
		q.logger.Warn("mark failed for task not in processing",
			"item_id", itemID,
			"cause", cause)
		return 0, false
	}
	delete(q.processing, itemID)

	if t.RetryCount < t.MaxRetries {
		t.RetryCount++
	}
	if cause != nil {
		t.LastError = cause.Error()
	}

	if t.RetryCount >= t.MaxRetries {
		q.failed[itemID] = t
		q.logger.Warn("task failed permanently",
			"item_id", itemID,
			"retries", t.RetryCount,
			"cause", t.LastError)
		q.cond.Broadcast()
		return t.RetryCount, true
	}

	t.Priority = PriorityLow
	t.EnqueuedAt = time.Now()
	q.seq++
	t.seq = q.seq
	heap.Push(&q.pending, t)
	q.pendingByID[itemID] = t

	q.logger.Info("task requeued for retry",
		"item_id", itemID,
		"retry", t.RetryCount,
		"max_retries", t.MaxRetries,
		"cause", t.LastError)

	q.cond.Broadcast()
	return t.RetryCount, false
}

// Cancel removes a task from whichever view currently holds it. Absence is
// not an error. Returns the view the task was removed from, when found.
func (q *Queue) Cancel(itemID string) (Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if t, ok := q.pendingByID[itemID]; ok {
		heap.Remove(&q.pending, t.index)
		delete(q.pendingByID, itemID)
		q.logger.Info("pending task cancelled", "item_id", itemID)
		q.cond.Broadcast()
		return StatusPending, true
	}
	if _, ok := q.processing[itemID]; ok {
		delete(q.processing, itemID)
		q.logger.Info("processing task cancelled", "item_id", itemID)
		q.cond.Broadcast()
		return StatusProcessing, true
	}
	if _, ok := q.completed[itemID]; ok {
		delete(q.completed, itemID)
		return StatusCompleted, true
	}
	if _, ok := q.failed[itemID]; ok {
		delete(q.failed, itemID)
		return StatusFailed, true
	}
	return "", false
}

// Stats returns the current task count per view.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:    q.pending.Len(),
		Processing: len(q.processing),
		Completed:  len(q.completed),
		Failed:     len(q.failed),
	}
}

// ProcessingIDs returns the item IDs currently claimed, sorted.
func (q *Queue) ProcessingIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make([]string, 0, len(q.processing))
	for id := range q.processing {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot copies every view for inspection. The copies are detached; the
// caller may hold them without affecting the queue.
func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := Snapshot{
		Pending:    make([]Task, 0, q.pending.Len()),
		Processing: copyView(q.processing),
		Completed:  copyView(q.completed),
		Failed:     copyView(q.failed),
	}
	for _, t := range q.pending {
		snap.Pending = append(snap.Pending, *t)
	}
	sort.Slice(snap.Pending, func(i, j int) bool {
		return snap.Pending[i].before(&snap.Pending[j])
	})
	return snap
}

// ClearCompleted empties the completed ledger and returns how many entries
// were removed.
func (q *Queue) ClearCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.completed)
	q.completed = make(map[string]*Task)
	if n > 0 {
		q.logger.Info("cleared completed tasks", "count", n)
	}
	return n
}

// ClearFailed empties the failed ledger and returns how many entries were
// removed.
func (q *Queue) ClearFailed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.failed)
	q.failed = make(map[string]*Task)
	if n > 0 {
		q.logger.Info("cleared failed tasks", "count", n)
	}
	return n
}

// holdsLocked reports whether any view tracks itemID. Callers must hold q.mu.
func (q *Queue) holdsLocked(itemID string) bool {
	if _, ok := q.pendingByID[itemID]; ok {
		return true
	}
	if _, ok := q.processing[itemID]; ok {
		return true
	}
	if _, ok := q.completed[itemID]; ok {
		return true
	}
	_, ok := q.failed[itemID]
	return ok
}

func copyView(view map[string]*Task) []Task {
	out := make([]Task, 0, len(view))
	for _, t := range view {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out
}

// pendingHeap orders tasks by priority band, then enqueue time, then
// insertion sequence. It follows the container/heap interface.
type pendingHeap []*Task

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool { return h[i].before(h[j]) }

func (h pendingHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *pendingHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
