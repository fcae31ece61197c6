package identitysvc

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mkrupp/escrowgate/internal/domain"
	"github.com/mkrupp/escrowgate/internal/infra/logging"
	http_ "github.com/mkrupp/escrowgate/internal/infra/transport/http"
)

const (
	CSRFCookieName = "csrf_token"
	CSRFHeader     = "X-CSRF-Token"

	maxRequestSize = 1 << 16
)

// ErrOAuthUnsupported is returned for OAuth assertions; this server only knows passwords.
var ErrOAuthUnsupported = errors.New("oauth sign-in not supported")

// HTTPTransportConfig contains configuration parameters for the HTTP transport layer.
type HTTPTransportConfig struct {
	http_.HTTPTransportConfig

	// SessionCookie is the name of the HttpOnly session cookie
	SessionCookie string `env:"SESSION_COOKIE" default:"session"`

	// SecureCookies sets the Secure attribute on every cookie
	SecureCookies bool `env:"SECURE_COOKIES" default:"false"`
}

// HTTPTransport serves the Identity API contract consumed by the BFF:
// - GET  /auth/csrf: seed the double-submit token
// - POST /auth/register: create an account and sign in
// - POST /auth/login: sign in
// - POST /auth/admin-login: sign in, admins only
// - GET  /auth/me: the current user
// - POST /auth/logout: revoke the session (double-submit token required).
type HTTPTransport struct {
	identitySvc *IdentityService
	log         logging.Logger
	cfg         HTTPTransportConfig
	router      chi.Router
}

var _ http_.HTTPTransport = (*HTTPTransport)(nil)

// NewHTTPTransport creates a new HTTPTransport instance with the given configuration.
func NewHTTPTransport(identitySvc *IdentityService, cfg HTTPTransportConfig) *HTTPTransport {
	ht := &HTTPTransport{
		identitySvc: identitySvc,
		log:         logging.GetLogger("svc.identitysvc.http_transport"),
		cfg:         cfg,
	}

	r := chi.NewRouter()
	r.Route("/auth", func(r chi.Router) {
		r.Get("/csrf", ht.HandleCSRF)
		r.Post("/register", ht.HandleRegister)
		r.Post("/login", ht.HandleLogin)
		r.Post("/admin-login", ht.HandleAdminLogin)
		r.Get("/me", ht.HandleMe)
		r.With(ht.requireCSRF).Post("/logout", ht.HandleLogout)
	})

	ht.router = r

	return ht
}

// ServeHTTP implements http.Handler.
func (ht *HTTPTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ht.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	return nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	_ = writeJSON(w, status, domain.ErrorResponse{Message: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}

	return nil
}

func (ht *HTTPTransport) requestLog(r *http.Request) logging.Logger {
	return ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))
}

// requireCSRF rejects requests whose X-CSRF-Token header does not match the cookie.
func (ht *HTTPTransport) requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(CSRFCookieName)
		header := r.Header.Get(CSRFHeader)

		if err != nil || header == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
			ht.requestLog(r).InfoContext(r.Context(), "csrf check failed", "error", domain.ErrCSRFMismatch)
			writeError(w, http.StatusForbidden, "CSRF token mismatch")

			return
		}

		next.ServeHTTP(w, r)
	})
}

// HandleCSRF issues the double-submit token, reusing the one the browser already holds.
func (ht *HTTPTransport) HandleCSRF(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleCSRF(w, r)
}

func (ht *HTTPTransport) handleCSRF(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.requestLog(r)

	defer func(ctx context.Context) {
		if err != nil {
			log.ErrorContext(ctx, "csrf issue failed", "error", err)
		} else {
			log.DebugContext(ctx, "csrf token issued")
		}
	}(r.Context())

	token := ""
	if cookie, err := r.Cookie(CSRFCookieName); err == nil && cookie.Value != "" {
		token = cookie.Value
	} else {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))

			return fmt.Errorf("generate csrf token: %w", err)
		}

		token = base64.RawURLEncoding.EncodeToString(buf)
	}

	//nolint:exhaustruct
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		Secure:   ht.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	return writeJSON(w, http.StatusOK, map[string]string{"csrfToken": token})
}

// HandleRegister processes registration requests.
// Expects a JSON body with email, username, password and an optional phone.
func (ht *HTTPTransport) HandleRegister(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleRegister(w, r)
}

func (ht *HTTPTransport) handleRegister(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.requestLog(r)

	defer func(ctx context.Context) {
		if err != nil {
			log.ErrorContext(ctx, "user register failed", "error", err)
		} else {
			log.DebugContext(ctx, "user registered")
		}
	}(r.Context())

	var reg domain.Registration
	if err := decodeJSON(w, r, &reg); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")

		return err
	}

	newUser, err := ht.identitySvc.RegisterUser(r.Context(), reg)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoEmail), errors.Is(err, ErrNoUsername), errors.Is(err, ErrNoPassword):
			writeError(w, http.StatusBadRequest, "email, username and password are required")
		case errors.Is(err, domain.ErrUserAlreadyExists):
			writeError(w, http.StatusConflict, "an account with this email or username already exists")
		default:
			writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}

		return fmt.Errorf("register user: %w", err)
	}

	return ht.startSession(w, r, newUser, http.StatusCreated)
}

// HandleLogin processes login requests.
// Expects a JSON body with email and password. Sets the session cookie.
func (ht *HTTPTransport) HandleLogin(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleLogin(w, r, false)
}

// HandleAdminLogin is HandleLogin restricted to admin accounts.
func (ht *HTTPTransport) HandleAdminLogin(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleLogin(w, r, true)
}

func (ht *HTTPTransport) handleLogin(w http.ResponseWriter, r *http.Request, requireAdmin bool) (err error) {
	log := ht.requestLog(r).With("admin", requireAdmin)

	defer func(ctx context.Context) {
		if err != nil {
			log.ErrorContext(ctx, "user login failed", "error", err)
		} else {
			log.DebugContext(ctx, "user logged in")
		}
	}(r.Context())

	var creds domain.Credentials
	if err := decodeJSON(w, r, &creds); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")

		return err
	}

	switch {
	case creds.OAuthAssertion != "":
		writeError(w, http.StatusBadRequest, "OAuth sign-in is not available")

		return ErrOAuthUnsupported
	case creds.Email == "":
		writeError(w, http.StatusBadRequest, "email is required")

		return ErrNoEmail
	case creds.Password == "":
		writeError(w, http.StatusBadRequest, "password is required")

		return ErrNoPassword
	}

	u, err := ht.identitySvc.Login(r.Context(), creds.Email, creds.Password, requireAdmin)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid email or password")
		case errors.Is(err, ErrAdminRequired):
			writeError(w, http.StatusForbidden, "administrator access required")
		default:
			writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}

		return fmt.Errorf("login user: %w", err)
	}

	return ht.startSession(w, r, u, http.StatusOK)
}

func (ht *HTTPTransport) startSession(w http.ResponseWriter, r *http.Request, u domain.User, status int) error {
	token, claims, err := ht.identitySvc.IssueSession(r.Context(), u)
	if err != nil {
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))

		return err
	}

	//nolint:exhaustruct
	http.SetCookie(w, &http.Cookie{
		Name:     ht.cfg.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  claims.ExpiresAt.Time,
		HttpOnly: true,
		Secure:   ht.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	return writeJSON(w, status, domain.UserResponse{User: &u})
}

// HandleMe returns the user of the session cookie.
func (ht *HTTPTransport) HandleMe(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleMe(w, r)
}

func (ht *HTTPTransport) handleMe(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.requestLog(r)

	defer func(ctx context.Context) {
		switch {
		case errors.Is(err, domain.ErrNoSessionCookie), errors.Is(err, domain.ErrInvalidSession):
			log.DebugContext(ctx, "anonymous me request", "error", err)
		case err != nil:
			log.ErrorContext(ctx, "me failed", "error", err)
		}
	}(r.Context())

	cookie, err := r.Cookie(ht.cfg.SessionCookie)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, "not authenticated")

		return domain.ErrNoSessionCookie
	}

	u, err := ht.identitySvc.Authenticate(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSession) {
			writeError(w, http.StatusUnauthorized, "session expired")
		} else {
			writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}

		return fmt.Errorf("authenticate: %w", err)
	}

	return writeJSON(w, http.StatusOK, u)
}

// HandleLogout revokes the session and clears the cookie. It succeeds without a session.
func (ht *HTTPTransport) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(ht.cfg.SessionCookie); err == nil && cookie.Value != "" {
		ht.identitySvc.Revoke(r.Context(), cookie.Value)
	}

	//nolint:exhaustruct
	http.SetCookie(w, &http.Cookie{
		Name:     ht.cfg.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   ht.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	w.WriteHeader(http.StatusNoContent)
	ht.requestLog(r).DebugContext(r.Context(), "user logged out")
}
