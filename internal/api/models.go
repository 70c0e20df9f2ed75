package api

import (
	"github.com/clipmirror/clipmirror/internal/task"
)

// Common request/response structures

// LoginRequest defines the payload for the operator login endpoint.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse defines the successful response for the login endpoint.
type AuthResponse struct {
	// AccessToken is the JWT token used for API authorization
	AccessToken string `json:"token"`

	// ExpiresAt is the ISO 8601 timestamp when the access token expires
	ExpiresAt string `json:"expires_at,omitempty"`
}

// StatsResponse reports queue stats and pipeline counters.
type StatsResponse struct {
	Running   bool             `json:"running"`
	Paused    bool             `json:"paused"`
	Downloads task.Stats       `json:"downloads"`
	Uploads   task.Stats       `json:"uploads"`
	Counters  map[string]int64 `json:"counters"`
}

// TasksResponse is a point-in-time snapshot of both queues.
type TasksResponse struct {
	Downloads task.Snapshot `json:"downloads"`
	Uploads   task.Snapshot `json:"uploads"`
}

// CancelResponse reports the outcome of a cancel request.
type CancelResponse struct {
	ItemID    string `json:"item_id"`
	Cancelled bool   `json:"cancelled"`
}

// ClearResponse reports how many ledger entries a clear removed.
type ClearResponse struct {
	Removed int `json:"removed"`
}

// StateResponse reports the controller's intake state after a pause or
// resume request.
type StateResponse struct {
	Running bool `json:"running"`
	Paused  bool `json:"paused"`
}

// HealthResponse is the healthz payload.
type HealthResponse struct {
	Status string `json:"status"`
}
