package user

import (
	"context"

	"github.com/mkrupp/escrowgate/internal/domain"
)

// Record is a stored account: the public user plus its password hash.
type Record struct {
	domain.User

	PasswordHash []byte
}

// Repository defines the interface for user data persistence.
type Repository interface {
	// CreateUser adds a new user to the repository.
	// Returns ErrUserAlreadyExists if the email or username is already taken.
	CreateUser(ctx context.Context, record Record) error

	// GetUserByEmail retrieves a user by email.
	// Returns the record and true if found, or nil and false if not found.
	// Returns an error if the operation fails.
	GetUserByEmail(ctx context.Context, email string) (*Record, bool, error)

	// GetUserByID retrieves a user by ID, with the same contract as GetUserByEmail.
	GetUserByID(ctx context.Context, id string) (*Record, bool, error)

	// Close releases any resources held by the repository.
	// Returns an error if cleanup fails.
	Close() error
}

// RepositoryFactory is a function that creates a new Repository instance.
// Returns an error if initialization fails.
type RepositoryFactory func() (Repository, error)
