package auth

import (
	"context"

	"github.com/clipmirror/clipmirror/internal/config"
	"github.com/clipmirror/clipmirror/internal/platform/logger"
)

// Authenticator checks login credentials against the configured operator
// account. The pipeline has exactly one operator, so there is no user store
// behind this.
type Authenticator struct {
	username     string
	passwordHash string
	verifier     PasswordVerifier
}

// NewAuthenticator creates an Authenticator for the configured operator.
func NewAuthenticator(cfg config.AuthConfig, verifier PasswordVerifier) *Authenticator {
	return &Authenticator{
		username:     cfg.OperatorUsername,
		passwordHash: cfg.OperatorPasswordHash,
		verifier:     verifier,
	}
}

// Authenticate verifies the supplied credentials. It returns
// ErrInvalidCredentials on any mismatch so callers cannot distinguish a wrong
// username from a wrong password.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) error {
	log := logger.FromContext(ctx)

	if username != a.username {
		// Burn a comparison anyway so both failure paths cost the same.
		_ = a.verifier.Compare(a.passwordHash, password)
		log.Debug("login rejected: unknown username")
		return ErrInvalidCredentials
	}

	if err := a.verifier.Compare(a.passwordHash, password); err != nil {
		log.Debug("login rejected: password mismatch")
		return ErrInvalidCredentials
	}

	return nil
}
