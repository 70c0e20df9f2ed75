package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/clipmirror/clipmirror/internal/domain"
)

// MediaItemStore defines the interface for media item data persistence.
// Version: 1.0
type MediaItemStore interface {
	// Create saves a new media item to the store.
	// It handles domain validation internally.
	// Returns validation errors from the domain MediaItem if data is invalid.
	// Returns ErrSourceIDExists if an item with the same source ID already exists.
	Create(ctx context.Context, item *domain.MediaItem) error

	// GetByID retrieves a media item by its unique ID.
	// Returns ErrMediaItemNotFound if the item does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.MediaItem, error)

	// GetBySourceID retrieves a media item by the identifier its source assigned to it.
	// Returns ErrMediaItemNotFound if the item does not exist.
	GetBySourceID(ctx context.Context, sourceID string) (*domain.MediaItem, error)

	// Update saves changes to an existing media item.
	// Returns ErrMediaItemNotFound if the item does not exist.
	// Returns validation errors if the item data is invalid.
	Update(ctx context.Context, item *domain.MediaItem) error

	// UpdateStatus updates the status of an existing media item, looked up by source ID.
	// Returns ErrMediaItemNotFound if the item does not exist.
	// Returns validation errors if the status is invalid.
	UpdateStatus(ctx context.Context, sourceID string, status domain.MediaItemStatus) error

	// FindByStatus retrieves all media items with the specified status, newest first.
	// Returns an empty slice if no items match the criteria.
	// Can limit the number of results and paginate through offset.
	FindByStatus(ctx context.Context, status domain.MediaItemStatus, limit, offset int) ([]*domain.MediaItem, error)

	// Delete removes a media item by its unique ID.
	// Returns ErrMediaItemNotFound if the item does not exist.
	// This operation is permanent and cannot be undone.
	Delete(ctx context.Context, id uuid.UUID) error

	// WithTx returns a new MediaItemStore instance that uses the provided transaction.
	// This allows for multiple operations to be executed within a single transaction.
	// The transaction should be created and managed by the caller (typically a service).
	WithTx(tx *sql.Tx) MediaItemStore
}
