package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/clipmirror/clipmirror/internal/platform/logger"
	"github.com/clipmirror/clipmirror/internal/store"
)

// PostgresStatsStore implements the store.StatsStore interface
// using a PostgreSQL database as the storage backend.
type PostgresStatsStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresStatsStore creates a new PostgreSQL implementation of the StatsStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresStatsStore(db store.DBTX, logger *slog.Logger) *PostgresStatsStore {
	// Validate inputs
	if db == nil {
		panic("db cannot be nil")
	}

	// Use provided logger or create default
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresStatsStore{
		db:     db,
		logger: logger.With(slog.String("component", "stats_store")),
	}
}

// Ensure PostgresStatsStore implements store.StatsStore interface
var _ store.StatsStore = (*PostgresStatsStore)(nil)

// Increment implements store.StatsStore.Increment
// It adds delta to the named counter, creating the row at delta if the
// counter has never been incremented before.
func (s *PostgresStatsStore) Increment(ctx context.Context, name string, delta int64) (int64, error) {
	// Get the logger from context or use default
	log := logger.FromContextOrDefault(ctx, s.logger)

	if name == "" {
		return 0, store.NewStoreError("stat", "increment", "counter name is empty", nil)
	}

	query := `
		INSERT INTO pipeline_stats (name, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name)
		DO UPDATE SET value = pipeline_stats.value + EXCLUDED.value, updated_at = EXCLUDED.updated_at
		RETURNING value
	`

	var value int64
	err := s.db.QueryRowContext(ctx, query, name, delta, time.Now().UTC()).Scan(&value)
	if err != nil {
		log.Error("failed to increment stat counter",
			slog.String("error", err.Error()),
			slog.String("counter", name),
			slog.Int64("delta", delta))
		return 0, err
	}

	log.Debug("stat counter incremented",
		slog.String("counter", name),
		slog.Int64("delta", delta),
		slog.Int64("value", value))
	return value, nil
}

// Get implements store.StatsStore.Get
// It retrieves the current value of a single counter.
// Returns store.ErrStatNotFound if the counter has never been incremented.
func (s *PostgresStatsStore) Get(ctx context.Context, name string) (int64, error) {
	// Get the logger from context or use default
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT value
		FROM pipeline_stats
		WHERE name = $1
	`

	var value int64
	err := s.db.QueryRowContext(ctx, query, name).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("stat counter not found", slog.String("counter", name))
			return 0, store.ErrStatNotFound
		}
		log.Error("failed to get stat counter",
			slog.String("error", err.Error()),
			slog.String("counter", name))
		return 0, err
	}

	return value, nil
}

// GetAll implements store.StatsStore.GetAll
// It retrieves all counters keyed by name.
// Returns an empty map when no counters exist.
func (s *PostgresStatsStore) GetAll(ctx context.Context) (map[string]int64, error) {
	// Get the logger from context or use default
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT name, value
		FROM pipeline_stats
		ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		log.Error("failed to get stat counters",
			slog.String("error", err.Error()))
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counters := make(map[string]int64)
	for rows.Next() {
		var name string
		var value int64
		if err := rows.Scan(&name, &value); err != nil {
			log.Error("failed to scan stat counter row",
				slog.String("error", err.Error()))
			return nil, err
		}
		counters[name] = value
	}

	if err := rows.Err(); err != nil {
		log.Error("error iterating stat counter rows",
			slog.String("error", err.Error()))
		return nil, err
	}

	return counters, nil
}

// Reset implements store.StatsStore.Reset
// It sets the named counter back to zero.
// Returns store.ErrStatNotFound if the counter has never been incremented.
func (s *PostgresStatsStore) Reset(ctx context.Context, name string) error {
	// Get the logger from context or use default
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE pipeline_stats
		SET value = 0, updated_at = $1
		WHERE name = $2
	`

	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), name)
	if err != nil {
		log.Error("failed to reset stat counter",
			slog.String("error", err.Error()),
			slog.String("counter", name))
		return err
	}

	if err := CheckRowsAffected(result, "stat counter"); err != nil {
		log.Debug("stat counter not found for reset",
			slog.String("counter", name))
		return store.ErrStatNotFound
	}

	log.Info("stat counter reset", slog.String("counter", name))
	return nil
}

// WithTx implements store.StatsStore.WithTx
// It returns a new StatsStore that runs all operations on the provided transaction.
func (s *PostgresStatsStore) WithTx(tx *sql.Tx) store.StatsStore {
	return &PostgresStatsStore{
		db:     tx,
		logger: s.logger,
	}
}
