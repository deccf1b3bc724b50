// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/deskloop/deskloop/internal/domain"
)

// ErrInsufficientCredits is returned by DecrementCredits when the user's
// balance is already zero, typically because a concurrent session spent
// the last credit first.
var ErrInsufficientCredits = errors.New("insufficient credits")

// Repository defines the interface for reading and spending user credits.
// Account rows are provisioned by the surrounding platform; this service
// never creates them.
type Repository interface {
	// GetUserID resolves an API key to its user ID. Unknown keys return
	// an empty ID and no error.
	GetUserID(ctx context.Context, apiKey string) (string, error)

	// GetUser retrieves a user by ID. Missing users return (nil, nil).
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// GetCredits returns the user's current agent credit balance.
	GetCredits(ctx context.Context, userID string) (float64, error)

	// DecrementCredits atomically spends one credit. The update only
	// applies while the balance is positive, so the balance is never
	// driven negative; updating zero rows returns ErrInsufficientCredits.
	DecrementCredits(ctx context.Context, userID string) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
