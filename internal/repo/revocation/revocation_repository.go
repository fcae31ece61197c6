package revocation

import (
	"context"
	"time"
)

// Repository remembers the IDs of logged out session tokens until the tokens
// expire on their own.
type Repository interface {
	// Revoke denies the token ID until expiresAt. An already expired token is ignored.
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error

	// IsRevoked reports whether the token ID is currently denied.
	IsRevoked(ctx context.Context, jti string) (bool, error)

	// Close releases any resources held by the repository.
	Close() error
}

// RepositoryFactory is a function that creates a new Repository instance.
type RepositoryFactory func() (Repository, error)
