package auth

import (
	"context"
	"time"

	"github.com/AccountantBot/coordinator/internal/models"
)

// Challenge is a message the wallet owner must sign to log in.
type Challenge struct {
	Message   string
	Nonce     string
	ExpiresAt time.Time
}

// Authenticator defines the interface for authentication implementations.
// Users are identified by wallet address; proving control of the address
// is the only credential.
type Authenticator interface {
	// Challenge issues a single-use sign-in message for address.
	Challenge(ctx context.Context, address string) (*Challenge, error)

	// Verify checks the signed challenge and returns the logged-in user.
	// Each challenge can be verified at most once.
	Verify(ctx context.Context, message, signature string) (*models.User, error)
}

// UserStorage defines the interface for user persistence operations.
// This allows the authenticator to be independent of the storage implementation.
type UserStorage interface {
	UpsertUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, address string) (*models.User, error)
}
