package domain

import "errors"

var (
	// ErrNoSessionCookie is returned when a session cookie is required but not provided.
	ErrNoSessionCookie = errors.New("no session cookie")
	// ErrInvalidSession is returned when a session token's signature is invalid, it has
	// expired or it was revoked.
	ErrInvalidSession = errors.New("invalid session")
	// ErrCSRFMismatch is returned when the double-submit token does not match the cookie.
	ErrCSRFMismatch = errors.New("csrf token mismatch")
	// ErrUnauthorized is returned when the authenticated user lacks permission.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidSigningKey is returned when a session signing key file cannot be decoded.
	ErrInvalidSigningKey = errors.New("invalid signing key")
)

// ErrorResponse is the JSON error body exchanged with the Identity API.
type ErrorResponse struct {
	Message string `json:"message"`
}

// UserResponse is the optional user payload returned by login and register.
type UserResponse struct {
	User *User `json:"user,omitempty"`
}
