// Package storage defines the persistence boundary of the authorization server.
// Applications are owned by the registration subsystem; grants and tokens are
// written only through these interfaces.
package storage

import (
	"context"
	"errors"

	"github.com/franciscosanchezn/gin-oauth2-server/internal/models"
)

// ErrNotFound is returned when a record does not exist or is no longer usable
// (consumed grant, superseded token). Callers must not distinguish the causes.
var ErrNotFound = errors.New("record not found")

// ClientStore looks up registered applications
type ClientStore interface {
	// FindByClientID returns the application or ErrNotFound
	FindByClientID(ctx context.Context, clientID string) (*models.Application, error)
}

// ClientRegistry is implemented by stores that can also register applications
type ClientRegistry interface {
	ClientStore
	// CreateApplication persists a new application; ClientSecret must already be hashed
	CreateApplication(ctx context.Context, app *models.Application) error
}

// GrantStore persists authorization codes
type GrantStore interface {
	// CreateGrant persists a new, unconsumed grant
	CreateGrant(ctx context.Context, grant *models.Grant) error

	// ConsumeIfUnused atomically marks the grant consumed and returns it.
	// Returns ErrNotFound if the code does not exist or was already consumed.
	// SECURITY: two concurrent calls for the same code must never both succeed.
	ConsumeIfUnused(ctx context.Context, code string) (*models.Grant, error)
}

// TokenStore persists issued access/refresh token pairs
type TokenStore interface {
	// CreateToken persists a newly issued token
	CreateToken(ctx context.Context, token *models.Token) error

	// FindByRefreshToken returns the live token carrying the refresh value, or ErrNotFound
	FindByRefreshToken(ctx context.Context, refreshToken string) (*models.Token, error)

	// Rotate atomically retires the token carrying the refresh value and
	// persists next in its place. Either both happen or neither does.
	// Returns ErrNotFound if the old token does not exist or was already superseded.
	Rotate(ctx context.Context, refreshToken string, next *models.Token) error
}

// Store bundles every store the protocol engine needs
type Store interface {
	ClientRegistry
	GrantStore
	TokenStore
}
