package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clipmirror/clipmirror/internal/api"
	apiMiddleware "github.com/clipmirror/clipmirror/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes
// and middleware. It accepts the application dependencies to create handlers
// and register routes. Returns the configured router.
func (app *application) setupRouter() http.Handler {
	// Create a router
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(
		apiMiddleware.NewTraceMiddleware(app.logger),
	) // Add trace IDs for improved error handling

	// Create API handlers using the application's services
	tokenLifetime := time.Duration(app.config.Auth.TokenLifetimeMinutes) * time.Minute
	authHandler := api.NewAuthHandler(app.authenticator, app.jwtService, tokenLifetime)
	authMiddleware := apiMiddleware.NewAuthMiddleware(app.jwtService)

	pipelineHandler := api.NewPipelineHandler(app.controller, app.downloads, app.uploads, app.statsStore)
	eventsHandler := api.NewEventsHandler(app.bus, app.wsManager)

	// Register routes
	r.Route("/api", func(r chi.Router) {
		// Authentication endpoint (public)
		r.Post("/auth/login", authHandler.Login)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			// Pipeline introspection and control
			r.Get("/stats", pipelineHandler.Stats)
			r.Get("/tasks", pipelineHandler.Tasks)
			r.Post("/tasks/{id}/cancel", pipelineHandler.CancelTask)
			r.Delete("/tasks/completed", pipelineHandler.ClearCompleted)
			r.Delete("/tasks/failed", pipelineHandler.ClearFailed)
			r.Post("/pipeline/pause", pipelineHandler.Pause)
			r.Post("/pipeline/resume", pipelineHandler.Resume)

			// Event history and live stream
			r.Get("/events", eventsHandler.History)
			r.Get("/events/stream", eventsHandler.Stream)
		})
	})

	// Health check endpoint
	r.Get("/healthz", pipelineHandler.Health)

	return r
}
