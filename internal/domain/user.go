package domain

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrUserAlreadyExists is returned when trying to create a user with an existing email or username.
	ErrUserAlreadyExists = errors.New("user already exists")
	// ErrUserNotFound is returned when looking up a non-existent user.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials is returned when the email/password combination is incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Role is the authorization role of a user as reported by the Identity API.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// KYCStatus is the identity verification state of a user.
type KYCStatus string

const (
	KYCNone     KYCStatus = "NONE"
	KYCPending  KYCStatus = "PENDING"
	KYCVerified KYCStatus = "VERIFIED"
	KYCRejected KYCStatus = "REJECTED"
)

// User mirrors the authoritative user shape owned by the Identity API.
type User struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	Username          string     `json:"username"`
	Role              Role       `json:"role"`
	KYCStatus         KYCStatus  `json:"kycStatus"`
	Phone             string     `json:"phone,omitempty"`
	ReputationScore   float64    `json:"reputationScore"`
	TotalTransactions int64      `json:"totalTransactions"`
	AvatarURL         string     `json:"avatarUrl,omitempty"`
	MFAEnabled        bool       `json:"mfaEnabled"`
	CreatedAt         time.Time  `json:"createdAt"`
	EmailVerifiedAt   *time.Time `json:"emailVerifiedAt,omitempty"`
}

// IsAdmin is derived from Role and never stored.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// MarshalJSON adds the derived isAdmin flag for the UI.
func (u User) MarshalJSON() ([]byte, error) {
	type plain User

	//nolint:wrapcheck
	return json.Marshal(struct {
		plain
		IsAdmin bool `json:"isAdmin"`
	}{plain(u), u.IsAdmin()})
}

// CachedUser is the reduced projection of User kept in the tab-scoped volatile store.
// It is display-only and never trusted for gating.
type CachedUser struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	KYCStatus KYCStatus `json:"kycStatus"`
}

// ProjectUser returns the CachedUser projection of u.
func ProjectUser(u User) CachedUser {
	return CachedUser{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		KYCStatus: u.KYCStatus,
	}
}

// Expand reconstructs an optimistic User from the projection. Fields outside the
// projection are zeroed, timestamps are set to now.
func (c CachedUser) Expand(now time.Time) User {
	return User{
		ID:              c.ID,
		Email:           c.Email,
		Username:        c.Username,
		Role:            c.Role,
		KYCStatus:       c.KYCStatus,
		CreatedAt:       now,
		EmailVerifiedAt: &now,
	}
}
