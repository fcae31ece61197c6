package identityclient

import (
	"context"

	"github.com/mkrupp/escrowgate/internal/domain"
)

// Client is the consumed contract of the external Identity API. Every error it
// returns is, or wraps, a *domain.APIError.
type Client interface {
	// Me performs the authoritative fetch of the current user.
	Me(ctx context.Context) (domain.User, error)

	// Login signs in and sets the session cookie. The user payload is optional.
	Login(ctx context.Context, creds domain.Credentials) (*domain.User, error)

	// AdminLogin is Login against the admin-only endpoint.
	AdminLogin(ctx context.Context, creds domain.Credentials) (*domain.User, error)

	// Register creates an account and sets the session cookie. The user payload is optional.
	Register(ctx context.Context, reg domain.Registration) (*domain.User, error)

	// Logout invalidates the session cookie server-side.
	Logout(ctx context.Context) error

	// CSRF seeds the double-submit token.
	CSRF(ctx context.Context) error

	// HasCSRF reports whether a double-submit token is already held.
	HasCSRF() bool
}

// Factory creates a Client bound to one browser tab. Each tab owns its cookies.
type Factory func(tabID string) Client
