package domain

import (
	"encoding/json"
	"errors"
)

// ErrNoSessionGate is raised when route authorization is consumed outside of an
// initialized SessionGate. It is a programming error, not an auth failure.
var ErrNoSessionGate = errors.New("route gate used without a session gate")

// AppContext identifies which of the three apps a session gate serves.
type AppContext string

const (
	AppLanding   AppContext = "landing"
	AppDashboard AppContext = "dashboard"
	AppAdmin     AppContext = "admin"
)

// Session is a read-only snapshot of a tab's authentication state.
type Session struct {
	IsLoading bool  `json:"isLoading"`
	User      *User `json:"user"`

	// Optimistic is set while User was painted from the cache and the
	// authoritative fetch has not confirmed it yet.
	Optimistic bool `json:"optimistic"`
}

// IsAuthenticated is true iff a user is held.
func (s Session) IsAuthenticated() bool {
	return s.User != nil
}

// MarshalJSON adds the derived isAuthenticated flag for the UI.
func (s Session) MarshalJSON() ([]byte, error) {
	type plain Session

	//nolint:wrapcheck
	return json.Marshal(struct {
		plain
		IsAuthenticated bool `json:"isAuthenticated"`
	}{plain(s), s.IsAuthenticated()})
}

// Navigation is a post-operation navigation target. Empty means stay.
type Navigation string

const (
	NavigateNone      Navigation = ""
	NavigateLanding   Navigation = "/"
	NavigateDashboard Navigation = "/app"
	NavigateAdmin     Navigation = "/admin"
)

// Credentials are the login inputs. Either Email/Password or OAuthAssertion is set.
type Credentials struct {
	Email          string `json:"email,omitempty"`
	Password       string `json:"password,omitempty"`
	OAuthProvider  string `json:"provider,omitempty"`
	OAuthAssertion string `json:"assertion,omitempty"`
}

// Registration holds the inputs of the sign-up wizard.
type Registration struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	Phone    string `json:"phone,omitempty"`
}
