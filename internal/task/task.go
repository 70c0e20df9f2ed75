package task

import "time"

// Priority orders tasks in the pending queue. Lower ordinal claims first.
type Priority int

// Priority bands, highest first.
const (
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 2
	PriorityLow    Priority = 3
)

// String returns the lowercase band name.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Status represents which queue view currently holds a task.
type Status string

// Possible task status values
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Task is one unit of work flowing through the pipeline. A task is created
// when an item is detected or when a failed attempt is requeued for retry;
// it is removed only by an explicit cancel or clear, never dropped silently.
type Task struct {
	// ItemID uniquely identifies the item this task processes. One ItemID
	// appears in at most one queue view at a time.
	ItemID string `json:"item_id"`

	// Priority is the task's current band. Retries are downgraded to low.
	Priority Priority `json:"priority"`

	// EnqueuedAt is when the task (re)entered the pending view. Ties within
	// a priority band resolve FIFO on this timestamp.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// Payload carries item metadata the external operation needs.
	Payload map[string]any `json:"payload"`

	// RetryCount is the number of failed attempts recorded so far.
	RetryCount int `json:"retry_count"`

	// MaxRetries caps RetryCount. Reaching it moves the task to failed.
	MaxRetries int `json:"max_retries"`

	// LastError holds the most recent failure message, if any.
	LastError string `json:"last_error,omitempty"`

	// seq breaks EnqueuedAt ties so ordering is a strict total order.
	seq uint64

	// index is maintained by the pending heap.
	index int
}

// CanRetry reports whether another failure would requeue the task rather
// than land it in the failed view.
func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// before is the pending-view ordering: priority band ascending, then
// enqueue time ascending, then insertion sequence.
func (t *Task) before(other *Task) bool {
	if t.Priority != other.Priority {
		return t.Priority < other.Priority
	}
	if !t.EnqueuedAt.Equal(other.EnqueuedAt) {
		return t.EnqueuedAt.Before(other.EnqueuedAt)
	}
	return t.seq < other.seq
}
