package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/clipmirror/clipmirror/internal/api/ws"
	"github.com/clipmirror/clipmirror/internal/config"
	"github.com/clipmirror/clipmirror/internal/detector"
	"github.com/clipmirror/clipmirror/internal/events"
	"github.com/clipmirror/clipmirror/internal/pipeline"
	"github.com/clipmirror/clipmirror/internal/platform/httpmedia"
	"github.com/clipmirror/clipmirror/internal/platform/postgres"
	"github.com/clipmirror/clipmirror/internal/service/auth"
	"github.com/clipmirror/clipmirror/internal/store"
	"github.com/clipmirror/clipmirror/internal/task"
)

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	// Configuration
	config *config.Config

	// Core services
	logger *slog.Logger
	db     *sql.DB

	// Stores (using interfaces for proper abstraction)
	itemStore  store.MediaItemStore
	statsStore store.StatsStore

	// Operator authentication
	jwtService    auth.JWTService
	authenticator *auth.Authenticator

	// Event system
	bus *events.Bus

	// Pipeline stages
	downloads  *task.Queue
	uploads    *task.Queue
	controller *pipeline.Controller

	// Source detection
	poller  *detector.Poller
	watcher *detector.Watcher

	// Transfer clients
	catalog    *httpmedia.CatalogClient
	downloader *httpmedia.Downloader
	uploader   *httpmedia.Uploader

	// Websocket fan-out
	wsManager *ws.Manager
	eventSubs []events.Subscription
}

// newApplication creates a new application instance with all dependencies
// initialized. It accepts core dependencies like configuration, logger, and
// database connection that must be established before application
// initialization.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	// Initialize JWT service
	var err error
	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}
	logger.Info("JWT authentication service initialized",
		"token_lifetime_minutes", cfg.Auth.TokenLifetimeMinutes)

	// Initialize the operator authenticator
	app.authenticator = auth.NewAuthenticator(cfg.Auth, auth.NewBcryptVerifier())

	// Initialize stores
	app.itemStore = postgres.NewPostgresMediaItemStore(db, logger)
	app.statsStore = postgres.NewPostgresStatsStore(db, logger)

	// Initialize the event bus
	app.bus = events.NewBus(logger)

	// Initialize the stage queues
	app.downloads = task.NewQueue(task.QueueConfig{
		Name:             "download_queue",
		ConcurrencyLimit: cfg.Pipeline.DownloadConcurrency,
		MaxRetries:       cfg.Pipeline.MaxRetries,
	}, logger)
	app.uploads = task.NewQueue(task.QueueConfig{
		Name:             "upload_queue",
		ConcurrencyLimit: cfg.Pipeline.UploadConcurrency,
		MaxRetries:       cfg.Pipeline.MaxRetries,
	}, logger)

	// Initialize transfer clients
	timeout := time.Duration(cfg.Source.RequestTimeoutSeconds) * time.Second
	app.catalog, err = httpmedia.NewCatalogClient(httpmedia.CatalogConfig{
		URL:     cfg.Source.CatalogURL,
		Token:   cfg.Source.CatalogToken,
		Timeout: timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize catalog client: %w", err)
	}
	app.downloader, err = httpmedia.NewDownloader(httpmedia.DownloaderConfig{
		Dir: cfg.Source.DownloadDir,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize downloader: %w", err)
	}
	app.uploader, err = httpmedia.NewUploader(httpmedia.UploaderConfig{
		URL:   cfg.Source.UploadURL,
		Token: cfg.Source.UploadToken,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize uploader: %w", err)
	}

	// Initialize the pipeline controller
	app.controller, err = pipeline.NewController(pipeline.ControllerConfig{
		TickInterval:  time.Duration(cfg.Pipeline.TickSeconds) * time.Second,
		ShutdownGrace: time.Duration(cfg.Pipeline.ShutdownGraceSeconds) * time.Second,
	}, pipeline.Components{
		Bus:          app.bus,
		Downloads:    app.downloads,
		Uploads:      app.uploads,
		DownloadPool: task.NewPool(task.StageDownload, app.downloads, app.bus, logger),
		UploadPool:   task.NewPool(task.StageUpload, app.uploads, app.bus, logger),
		Downloader:   app.downloader,
		Uploader:     app.uploader,
		Items:        app.itemStore,
		Stats:        app.statsStore,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pipeline controller: %w", err)
	}

	// Initialize detectors feeding the controller's sink
	app.poller, err = detector.NewPoller(detector.PollerConfig{
		Schedule:    cfg.Detector.PollSchedule,
		ActiveStart: cfg.Detector.ActiveHoursStart,
		ActiveEnd:   cfg.Detector.ActiveHoursEnd,
		DedupTTL:    time.Duration(cfg.Detector.DedupTTLMinutes) * time.Minute,
	}, app.catalog, app.controller.Sink(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize source poller: %w", err)
	}

	if cfg.Detector.WatchEnabled {
		if cfg.Source.WatchDir == "" {
			return nil, fmt.Errorf("watch_enabled is set but source.watch_dir is empty")
		}
		app.watcher, err = detector.NewWatcher(detector.WatcherConfig{
			Dir: cfg.Source.WatchDir,
		}, app.controller.Sink(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize drop-folder watcher: %w", err)
		}
	}

	// Initialize the websocket manager and mirror every bus event to
	// connected clients.
	app.wsManager = ws.NewManager(logger)
	for _, eventType := range events.AllTypes() {
		sub := app.bus.Subscribe(eventType, func(ev events.Event) {
			app.wsManager.Broadcast(ev)
		})
		app.eventSubs = append(app.eventSubs, sub)
	}

	logger.Info("Application initialized successfully")
	return app, nil
}

// start launches the background components: the pipeline controller first so
// detections always have a consumer, then the detectors.
func (app *application) start(ctx context.Context) error {
	if err := app.controller.Start(); err != nil {
		return fmt.Errorf("failed to start pipeline controller: %w", err)
	}

	if err := app.poller.Start(ctx); err != nil {
		return fmt.Errorf("failed to start source poller: %w", err)
	}

	if app.watcher != nil {
		if err := app.watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start drop-folder watcher: %w", err)
		}
	}

	app.bus.Publish(events.AppStarted, map[string]any{
		"port": app.config.Server.Port,
	}, "app")

	return nil
}

// Run starts the application's background components and the HTTP server,
// handling lifecycle and cleanup. It returns an error if the server fails to
// start or encounters problems.
func (app *application) Run(ctx context.Context) error {
	if err := app.start(ctx); err != nil {
		return err
	}

	// Set up router using the application dependencies
	router := app.setupRouter()

	// Start the HTTP server
	err := app.startHTTPServer(ctx, router)
	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// cleanup handles graceful shutdown of application resources. Detectors stop
// first so nothing new enters the pipeline, then the controller drains its
// workers, then the outward-facing pieces close.
func (app *application) cleanup() {
	app.bus.Publish(events.AppShutdown, nil, "app")

	if app.watcher != nil {
		if err := app.watcher.Stop(); err != nil {
			app.logger.Error("Error stopping drop-folder watcher", "error", err)
		}
	}
	if app.poller != nil {
		if err := app.poller.Stop(); err != nil {
			app.logger.Error("Error stopping source poller", "error", err)
		}
	}

	if app.controller != nil {
		grace := time.Duration(app.config.Pipeline.ShutdownGraceSeconds) * time.Second
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := app.controller.Shutdown(shutdownCtx); err != nil {
			app.logger.Error("Pipeline controller shutdown incomplete", "error", err)
		}
	}

	for _, sub := range app.eventSubs {
		app.bus.Unsubscribe(sub)
	}

	if app.wsManager != nil {
		app.wsManager.CloseAll()
	}

	if app.downloader != nil {
		if err := app.downloader.Close(); err != nil {
			app.logger.Error("Error closing downloader", "error", err)
		}
	}
	if app.uploader != nil {
		if err := app.uploader.Close(); err != nil {
			app.logger.Error("Error closing uploader", "error", err)
		}
	}
	if app.catalog != nil {
		if err := app.catalog.Close(); err != nil {
			app.logger.Error("Error closing catalog client", "error", err)
		}
	}

	// Close database connection
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
