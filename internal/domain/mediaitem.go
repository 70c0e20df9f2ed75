package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// MediaItemStatus represents the pipeline state of a media item
type MediaItemStatus string

// Possible media item status values
const (
	MediaItemStatusDetected    MediaItemStatus = "detected"
	MediaItemStatusQueued      MediaItemStatus = "queued"
	MediaItemStatusDownloading MediaItemStatus = "downloading"
	MediaItemStatusDownloaded  MediaItemStatus = "downloaded"
	MediaItemStatusUploading   MediaItemStatus = "uploading"
	MediaItemStatusCompleted   MediaItemStatus = "completed"
	MediaItemStatusFailed      MediaItemStatus = "failed"
	MediaItemStatusCancelled   MediaItemStatus = "cancelled"
)

// Common validation errors for MediaItem
var (
	ErrEmptyMediaItemID       = errors.New("media item ID cannot be empty")
	ErrEmptySourceID          = errors.New("media item source ID cannot be empty")
	ErrEmptySourceURL         = errors.New("media item source URL cannot be empty")
	ErrInvalidMediaItemStatus = errors.New("invalid media item status")
	ErrNegativeRetryCount     = errors.New("media item retry count cannot be negative")
)

// MediaItem represents a single piece of media the pipeline mirrors from a
// source to a destination. It tracks where the item came from, where its
// artifacts live, and how far through the pipeline it has progressed.
type MediaItem struct {
	ID           uuid.UUID       `json:"id"`
	SourceID     string          `json:"source_id"`
	Title        string          `json:"title"`
	SourceURL    string          `json:"source_url"`
	Status       MediaItemStatus `json:"status"`
	ArtifactRef  string          `json:"artifact_ref,omitempty"`
	PublishedRef string          `json:"published_ref,omitempty"`
	SizeBytes    int64           `json:"size_bytes,omitempty"`
	RetryCount   int             `json:"retry_count"`
	LastError    string          `json:"last_error,omitempty"`
	DetectedAt   time.Time       `json:"detected_at"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewMediaItem creates a new MediaItem with the given source ID, title, and
// source URL. It generates a new UUID for the item ID, sets the status to
// detected, and sets the detection/creation/update timestamps.
// Returns an error if validation fails.
func NewMediaItem(sourceID, title, sourceURL string) (*MediaItem, error) {
	now := time.Now().UTC()
	item := &MediaItem{
		ID:         uuid.New(),
		SourceID:   sourceID,
		Title:      title,
		SourceURL:  sourceURL,
		Status:     MediaItemStatusDetected,
		DetectedAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := item.Validate(); err != nil {
		return nil, err
	}

	return item, nil
}

// Validate checks if the MediaItem has valid data.
// Returns an error if any field fails validation.
func (m *MediaItem) Validate() error {
	if m.ID == uuid.Nil {
		return ErrEmptyMediaItemID
	}

	if m.SourceID == "" {
		return ErrEmptySourceID
	}

	if m.SourceURL == "" {
		return ErrEmptySourceURL
	}

	if !isValidMediaItemStatus(m.Status) {
		return ErrInvalidMediaItemStatus
	}

	if m.RetryCount < 0 {
		return ErrNegativeRetryCount
	}

	return nil
}

// UpdateStatus updates the item's status and the UpdatedAt timestamp.
// Returns an error if the new status is invalid.
func (m *MediaItem) UpdateStatus(status MediaItemStatus) error {
	if !isValidMediaItemStatus(status) {
		return ErrInvalidMediaItemStatus
	}

	m.Status = status
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordFailure stores the cause of the most recent failure and updates the
// UpdatedAt timestamp. It does not change the item's status; callers decide
// whether the failure is terminal.
func (m *MediaItem) RecordFailure(cause string) {
	m.LastError = cause
	m.UpdatedAt = time.Now().UTC()
}

// IsTerminal reports whether the item has reached a state the pipeline will
// not move it out of on its own.
func (m *MediaItem) IsTerminal() bool {
	switch m.Status {
	case MediaItemStatusCompleted, MediaItemStatusFailed, MediaItemStatusCancelled:
		return true
	default:
		return false
	}
}

// isValidMediaItemStatus checks if the given status is a valid MediaItemStatus.
func isValidMediaItemStatus(status MediaItemStatus) bool {
	switch status {
	case MediaItemStatusDetected, MediaItemStatusQueued, MediaItemStatusDownloading,
		MediaItemStatusDownloaded, MediaItemStatusUploading, MediaItemStatusCompleted,
		MediaItemStatusFailed, MediaItemStatusCancelled:
		return true
	default:
		return false
	}
}
