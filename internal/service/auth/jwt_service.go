package auth

import (
	"context"
	"time"
)

// JWTService defines operations for managing the bearer tokens that guard
// the operations API.
type JWTService interface {
	// GenerateToken creates a signed access token for the named operator.
	// Returns the token string or an error if signing fails.
	GenerateToken(ctx context.Context, username string) (string, error)

	// ValidateToken validates the provided token string and extracts the claims.
	// Returns the claims if the token is valid, or an error if validation
	// fails (expired, invalid signature, etc.).
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims represents the validated contents of an access token.
type Claims struct {
	// Username is the operator the token was issued for.
	Username string `json:"sub,omitempty"`

	// Standard registered JWT claims
	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}
