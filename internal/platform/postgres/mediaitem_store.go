package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clipmirror/clipmirror/internal/domain"
	"github.com/clipmirror/clipmirror/internal/platform/logger"
	"github.com/clipmirror/clipmirror/internal/store"
)

// PostgresMediaItemStore implements the store.MediaItemStore interface
// using a PostgreSQL database as the storage backend.
type PostgresMediaItemStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresMediaItemStore creates a new PostgreSQL implementation of the MediaItemStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresMediaItemStore(db store.DBTX, logger *slog.Logger) *PostgresMediaItemStore {
	// Validate inputs
	if db == nil {
		panic("db cannot be nil")
	}

	// Use provided logger or create default
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresMediaItemStore{
		db:     db,
		logger: logger.With(slog.String("component", "media_item_store")),
	}
}

// Ensure PostgresMediaItemStore implements store.MediaItemStore interface
var _ store.MediaItemStore = (*PostgresMediaItemStore)(nil)

// mediaItemColumns is the column list shared by every SELECT on media_items.
const mediaItemColumns = `id, source_id, title, source_url, status, artifact_ref,
		published_ref, size_bytes, retry_count, last_error, detected_at, created_at, updated_at`

// rowScanner abstracts over *sql.Row and *sql.Rows for shared scanning logic.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanMediaItem reads one media_items row into a domain entity.
func scanMediaItem(row rowScanner) (*domain.MediaItem, error) {
	var item domain.MediaItem
	var status string

	err := row.Scan(
		&item.ID,
		&item.SourceID,
		&item.Title,
		&item.SourceURL,
		&status,
		&item.ArtifactRef,
		&item.PublishedRef,
		&item.SizeBytes,
		&item.RetryCount,
		&item.LastError,
		&item.DetectedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Status = domain.MediaItemStatus(status)
	return &item, nil
}

// Create implements store.MediaItemStore.Create
// It saves a new media item to the database, handling domain validation.
// Returns validation errors from the domain MediaItem if data is invalid.
// Returns store.ErrSourceIDExists if an item with the same source ID already exists.
func (s *PostgresMediaItemStore) Create(ctx context.Context, item *domain.MediaItem) error {
	// Get the logger from context or use default
	log := logger.FromContextOrDefault(ctx, s.logger)

	// Validate item data
	if err := item.Validate(); err != nil {
		log.Warn("media item validation failed during create",
			slog.String("error", err.Error()),
			slog.String("source_id", item.SourceID))
		return err
	}

	query := `
		INSERT INTO media_items (id, source_id, title, source_url, status, artifact_ref,
			published_ref, size_bytes, retry_count, last_error, detected_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		item.ID,
		item.SourceID,
		item.Title,
		item.SourceURL,
		item.Status,
		item.ArtifactRef,
		item.PublishedRef,
		item.SizeBytes,
		item.RetryCount,
		item.LastError,
		item.DetectedAt,
		item.CreatedAt,
		item.UpdatedAt,
	)

	if err != nil {
		if IsUniqueViolation(err) {
			log.Debug("media item already recorded",
				slog.String("source_id", item.SourceID))
			return MapUniqueViolation(err, "", "", store.ErrSourceIDExists)
		}

		log.Error("failed to create media item",
			slog.String("error", err.Error()),
			slog.String("item_id", item.ID.String()),
			slog.String("source_id", item.SourceID))
		return err
	}

	log.Info("media item created successfully",
		slog.String("item_id", item.ID.String()),
		slog.String("source_id", item.SourceID),
		slog.String("status", string(item.Status)))
	return nil
}

// GetByID implements store.MediaItemStore.GetByID
// It retrieves a media item by its unique ID.
// Returns store.ErrMediaItemNotFound if the item does not exist.
func (s *PostgresMediaItemStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.MediaItem, error) {
	// Get the logger from context or use default
	log := logger.FromContextOrDefault(ctx, s.logger)

	log.Debug("retrieving media item by ID", slog.String("item_id", id.String()))

	query := `
		SELECT ` + mediaItemColumns + `
		FROM media_items
		WHERE id = $1
	`

	item, err := scanMediaItem(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("media item not found", slog.String("item_id", id.String()))
			return nil, store.ErrMediaItemNotFound
		}
		log.Error("failed to get media item by ID",
			slog.String("error", err.Error()),
			slog.String("item_id", id.String()))
		return nil, err
	}

	return item, nil
}

// GetBySourceID implements store.MediaItemStore.GetBySourceID
// It retrieves a media item by the identifier its source assigned to it.
// Returns store.ErrMediaItemNotFound if the item does not exist.
func (s *PostgresMediaItemStore) GetBySourceID(ctx context.Context, sourceID string) (*domain.MediaItem, error) {
	// Get the logger from context or use default
	log := logger.FromContextOrDefault(ctx, s.logger)

	log.Debug("retrieving media item by source ID", slog.String("source_id", sourceID))

	query := `
		SELECT ` + mediaItemColumns + `
		FROM media_items
		WHERE source_id = $1
	`

	item, err := scanMediaItem(s.db.QueryRowContext(ctx, query, sourceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("media item not found", slog.String("source_id", sourceID))
			return nil, store.ErrMediaItemNotFound
		}
		log.Error("failed to get media item by source ID",
			slog.String("error", err.Error()),
			slog.String("source_id", sourceID))
		return nil, err
	}

	return item, nil
}

// Update implements store.MediaItemStore.Update
// It saves changes to an existing media item.
// Returns store.ErrMediaItemNotFound if the item does not exist.
func (s *PostgresMediaItemStore) Update(ctx context.Context, item *domain.MediaItem) error {
	// Get the logger from context or use default
	log := logger.FromContextOrDefault(ctx, s.logger)

	// Validate item data
	if err := item.Validate(); err != nil {
		log.Warn("media item validation failed during update",
			slog.String("error", err.Error()),
			slog.String("item_id", item.ID.String()))
		return err
	}

	item.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE media_items
		SET title = $1, status = $2, artifact_ref = $3, published_ref = $4,
			size_bytes = $5, retry_count = $6, last_error = $7, updated_at = $8
		WHERE id = $9
	`

	result, err := s.db.ExecContext(
		ctx,
		query,
		item.Title,
		item.Status,
		item.ArtifactRef,
		item.PublishedRef,
		item.SizeBytes,
		item.RetryCount,
		item.LastError,
		item.UpdatedAt,
		item.ID,
	)

	if err != nil {
		log.Error("failed to update media item",
			slog.String("error", err.Error()),
			slog.String("item_id", item.ID.String()),
			slog.String("status", string(item.Status)))
		return err
	}

	if err := CheckRowsAffected(result, "media item"); err != nil {
		log.Debug("media item not found for update",
			slog.String("item_id", item.ID.String()))
		return store.ErrMediaItemNotFound
	}

	log.Info("media item updated successfully",
		slog.String("item_id", item.ID.String()),
		slog.String("status", string(item.Status)))
	return nil
}

// UpdateStatus implements store.MediaItemStore.UpdateStatus
// It updates the status of an existing media item, looked up by source ID.
// Returns store.ErrMediaItemNotFound if the item does not exist.
// Returns validation errors if the status is invalid.
func (s *PostgresMediaItemStore) UpdateStatus(
	ctx context.Context,
	sourceID string,
	status domain.MediaItemStatus,
) error {
	// Get the logger from context or use default
	log := logger.FromContextOrDefault(ctx, s.logger)

	log.Debug("updating media item status",
		slog.String("source_id", sourceID),
		slog.String("status", string(status)))

	// Validate the status through the domain entity
	var probe domain.MediaItem
	if err := probe.UpdateStatus(status); err != nil {
		log.Warn("media item validation failed during status update",
			slog.String("error", err.Error()),
			slog.String("source_id", sourceID),
			slog.String("status", string(status)))
		return err
	}

	updatedAt := time.Now().UTC()

	query := `
		UPDATE media_items
		SET status = $1, updated_at = $2
		WHERE source_id = $3
	`

	result, err := s.db.ExecContext(
		ctx,
		query,
		status,
		updatedAt,
		sourceID,
	)

	if err != nil {
		log.Error("failed to update media item status",
			slog.String("error", err.Error()),
			slog.String("source_id", sourceID),
			slog.String("status", string(status)))
		return err
	}

	if err := CheckRowsAffected(result, "media item"); err != nil {
		log.Debug("media item not found for status update",
			slog.String("source_id", sourceID))
		return store.ErrMediaItemNotFound
	}

	log.Info("media item status updated successfully",
		slog.String("source_id", sourceID),
		slog.String("status", string(status)))
	return nil
}

// FindByStatus implements store.MediaItemStore.FindByStatus
// It retrieves all media items with the specified status, newest first.
// Returns an empty slice if no items match the criteria.
func (s *PostgresMediaItemStore) FindByStatus(
	ctx context.Context,
	status domain.MediaItemStatus,
	limit, offset int,
) ([]*domain.MediaItem, error) {
	// Get the logger from context or use default
	log := logger.FromContextOrDefault(ctx, s.logger)

	// Validate limit and offset
	if limit <= 0 {
		limit = 10 // Default limit
	}
	if offset < 0 {
		offset = 0
	}

	log.Debug("finding media items by status",
		slog.String("status", string(status)),
		slog.Int("limit", limit),
		slog.Int("offset", offset))

	query := `
		SELECT ` + mediaItemColumns + `
		FROM media_items
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.db.QueryContext(ctx, query, status, limit, offset)
	if err != nil {
		log.Error("failed to find media items by status",
			slog.String("error", err.Error()),
			slog.String("status", string(status)))
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	items := make([]*domain.MediaItem, 0)
	for rows.Next() {
		item, err := scanMediaItem(rows)
		if err != nil {
			log.Error("failed to scan media item row",
				slog.String("error", err.Error()))
			return nil, err
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		log.Error("error iterating media item rows",
			slog.String("error", err.Error()))
		return nil, err
	}

	log.Debug("media items retrieved successfully",
		slog.String("status", string(status)),
		slog.Int("count", len(items)))
	return items, nil
}

// Delete implements store.MediaItemStore.Delete
// It removes a media item by its unique ID.
// Returns store.ErrMediaItemNotFound if the item does not exist.
func (s *PostgresMediaItemStore) Delete(ctx context.Context, id uuid.UUID) error {
	// Get the logger from context or use default
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		DELETE FROM media_items
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		log.Error("failed to delete media item",
			slog.String("error", err.Error()),
			slog.String("item_id", id.String()))
		return err
	}

	if err := CheckRowsAffected(result, "media item"); err != nil {
		log.Debug("media item not found for delete",
			slog.String("item_id", id.String()))
		return store.ErrMediaItemNotFound
	}

	log.Info("media item deleted successfully",
		slog.String("item_id", id.String()))
	return nil
}

// WithTx implements store.MediaItemStore.WithTx
// It returns a new MediaItemStore that runs all operations on the provided transaction.
func (s *PostgresMediaItemStore) WithTx(tx *sql.Tx) store.MediaItemStore {
	return &PostgresMediaItemStore{
		db:     tx,
		logger: s.logger,
	}
}
