package store

import (
	"context"
	"database/sql"
)

// Counter names tracked by the pipeline. Implementations may store
// additional counters; these are the ones the pipeline itself maintains.
const (
	StatItemsDetected     = "items_detected"
	StatDownloadsDone     = "downloads_succeeded"
	StatDownloadsFailed   = "downloads_failed"
	StatUploadsDone       = "uploads_succeeded"
	StatUploadsFailed     = "uploads_failed"
	StatTasksCancelled    = "tasks_cancelled"
	StatBytesDownloaded   = "bytes_downloaded"
	StatRetriesScheduled  = "retries_scheduled"
	StatPermanentFailures = "permanent_failures"
)

// StatsStore defines the interface for pipeline counter persistence.
// Version: 1.0
type StatsStore interface {
	// Increment adds delta to the named counter, creating it at delta if it
	// does not exist yet. The delta may be negative.
	// Returns the updated counter value.
	Increment(ctx context.Context, name string, delta int64) (int64, error)

	// Get retrieves the current value of a single counter.
	// Returns ErrStatNotFound if the counter has never been incremented.
	Get(ctx context.Context, name string) (int64, error)

	// GetAll retrieves all counters keyed by name.
	// Returns an empty map when no counters exist.
	GetAll(ctx context.Context) (map[string]int64, error)

	// Reset sets the named counter back to zero.
	// Returns ErrStatNotFound if the counter has never been incremented.
	Reset(ctx context.Context, name string) error

	// WithTx returns a new StatsStore instance that uses the provided transaction.
	// This allows for multiple operations to be executed within a single transaction.
	// The transaction should be created and managed by the caller (typically a service).
	WithTx(tx *sql.Tx) StatsStore
}
