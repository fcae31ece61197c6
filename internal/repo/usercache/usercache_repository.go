package usercache

import (
	"context"

	"github.com/mkrupp/escrowgate/internal/domain"
)

// Repository is the tab-scoped volatile store holding the CachedUser projection.
// Only the session gate reads or writes it.
type Repository interface {
	// Get returns the cached projection for the tab and true, or false if absent.
	Get(ctx context.Context, tabID string) (domain.CachedUser, bool, error)

	// Put replaces the cached projection for the tab.
	Put(ctx context.Context, tabID string, user domain.CachedUser) error

	// Delete removes the cached projection. Deleting an absent key is not an error.
	Delete(ctx context.Context, tabID string) error

	// Close releases any resources held by the repository.
	Close() error
}

// RepositoryFactory is a function that creates a new Repository instance.
type RepositoryFactory func() (Repository, error)
