package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/clipmirror/clipmirror/internal/config"
)

func TestHashPasswordAndCompare(t *testing.T) {
	t.Parallel()

	// MinCost keeps the test fast; production uses the default cost.
	hash, err := HashPassword("swordfish", bcrypt.MinCost)
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	verifier := NewBcryptVerifier()
	assert.NoError(t, verifier.Compare(hash, "swordfish"))
	assert.Error(t, verifier.Compare(hash, "not-swordfish"))
}

func TestHashPasswordDefaultCost(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("swordfish", 0)
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.DefaultCost, cost)
}

func TestAuthenticator(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("swordfish", bcrypt.MinCost)
	require.NoError(t, err)

	authn := NewAuthenticator(config.AuthConfig{
		OperatorUsername:     "operator",
		OperatorPasswordHash: hash,
	}, NewBcryptVerifier())

	t.Run("accepts correct credentials", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, authn.Authenticate(context.Background(), "operator", "swordfish"))
	})

	t.Run("rejects wrong password", func(t *testing.T) {
		t.Parallel()
		err := authn.Authenticate(context.Background(), "operator", "guess")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("rejects unknown username", func(t *testing.T) {
		t.Parallel()
		err := authn.Authenticate(context.Background(), "admin", "swordfish")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}
