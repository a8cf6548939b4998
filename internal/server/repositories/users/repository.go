// Package users defines the credential store contract and its PostgreSQL
// implementation.
package users

import (
	"context"
	"errors"

	"github.com/shigotoin/authcore/internal/server/models"
)

// ErrNotFound is returned when no credential matches the identifier.
var ErrNotFound = errors.New("credential not found")

// Repository is the credential store. The core treats every call as
// potentially failing with a storage error and retries nowhere.
type Repository interface {
	Create(ctx context.Context, c *models.Credential) (*models.Credential, error)
	FindByUsernameOrEmail(ctx context.Context, identifier string) (*models.Credential, error)
	Save(ctx context.Context, c *models.Credential) error
}
