// Package webfront is the BFF HTTP surface: the landing, dashboard and admin route
// groups behind their session gates, and the JSON session endpoints.
package webfront

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mkrupp/escrowgate/internal/domain"
	context_ "github.com/mkrupp/escrowgate/internal/infra/context"
	"github.com/mkrupp/escrowgate/internal/infra/logging"
	"github.com/mkrupp/escrowgate/internal/infra/metrics"
	http_ "github.com/mkrupp/escrowgate/internal/infra/transport/http"
	"github.com/mkrupp/escrowgate/internal/svc/routegate"
	"github.com/mkrupp/escrowgate/internal/svc/sessionsvc"
)

const maxRequestSize = 1 << 16

// HTTPTransportConfig contains configuration parameters for the BFF transport.
type HTTPTransportConfig struct {
	http_.HTTPTransportConfig

	Tab  http_.TabCookieConfig `envPrefix:"TAB_COOKIE_"`
	Gate routegate.Config      `envPrefix:"GATE_"`
}

// HTTPTransport routes browser requests to the tab's session gate.
type HTTPTransport struct {
	registry *sessionsvc.Registry
	metrics  *metrics.Metrics
	log      logging.Logger
	cfg      HTTPTransportConfig
	router   chi.Router
}

var _ http_.HTTPTransport = (*HTTPTransport)(nil)

// NewHTTPTransport wires the route groups:
// - landing (public): GET /, GET /login
// - dashboard (signed in): GET /app, /app/transactions, /app/kyc
// - admin (admin role): GET /admin, /admin/users; GET /admin/login is public
// - session API: GET /session, POST /session/{login,register,logout,refresh}, PUT /session/user
// - GET /healthz, GET /metrics.
func NewHTTPTransport(registry *sessionsvc.Registry, cfg HTTPTransportConfig, m *metrics.Metrics) *HTTPTransport {
	ht := &HTTPTransport{
		registry: registry,
		metrics:  m,
		log:      logging.GetLogger("svc.webfront.http_transport"),
		cfg:      cfg,
	}

	memberRoute := routegate.Route{RedirectTo: "/login"}
	adminRoute := routegate.Route{RequireAdmin: true, RedirectTo: "/admin/login"}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler { return http_.TabMiddleware(next, cfg.Tab) })

	r.Get("/healthz", ht.HandleHealth)
	r.Handle("/metrics", m.Handler())

	r.Group(func(r chi.Router) {
		r.Use(ht.withGate(domain.AppLanding))
		r.Get("/", ht.view("landing"))
		r.Get("/login", ht.view("login"))
	})

	r.Route("/app", func(r chi.Router) {
		r.Use(ht.withGate(domain.AppDashboard))
		r.Use(routegate.Middleware(memberRoute, cfg.Gate, m))
		r.Get("/", ht.view("dashboard.home"))
		r.Get("/transactions", ht.view("dashboard.transactions"))
		r.Get("/kyc", ht.view("dashboard.kyc"))
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(ht.withGate(domain.AppAdmin))
		r.Get("/login", ht.view("admin.login"))
		r.Group(func(r chi.Router) {
			r.Use(routegate.Middleware(adminRoute, cfg.Gate, m))
			r.Get("/", ht.view("admin.home"))
			r.Get("/users", ht.view("admin.users"))
		})
	})

	r.Route("/session", func(r chi.Router) {
		r.Use(ht.withSessionGate)
		r.Get("/", ht.HandleSession)
		r.Post("/login", ht.HandleLogin)
		r.Post("/register", ht.HandleRegister)
		r.Post("/logout", ht.HandleLogout)
		r.Post("/refresh", ht.HandleRefresh)
		r.Put("/user", ht.HandleUpdateUser)
	})

	ht.router = r

	return ht
}

// ServeHTTP implements http.Handler.
func (ht *HTTPTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ht.router.ServeHTTP(w, r)
}

// withGate installs the tab's gate for app, re-creating it when the tab arrives from
// another app. Without a tab ID no gate is installed.
func (ht *HTTPTransport) withGate(app domain.AppContext) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if tabID, ok := context_.TabIDFromContext(ctx); ok {
				ctx = sessionsvc.WithGate(ctx, ht.registry.Acquire(ctx, tabID, app))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// withSessionGate installs the gate for the app named by the "app" query parameter,
// falling back to the tab's current gate and then to the landing app.
func (ht *HTTPTransport) withSessionGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		tabID, ok := context_.TabIDFromContext(ctx)
		if !ok {
			next.ServeHTTP(w, r)

			return
		}

		var gate *sessionsvc.SessionGate

		switch app := domain.AppContext(r.URL.Query().Get("app")); app {
		case domain.AppLanding, domain.AppDashboard, domain.AppAdmin:
			gate = ht.registry.Acquire(ctx, tabID, app)
		case "":
			if existing, ok := ht.registry.Lookup(tabID); ok {
				gate = existing
			} else {
				gate = ht.registry.Acquire(ctx, tabID, domain.AppLanding)
			}
		default:
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown app %q", app))

			return
		}

		next.ServeHTTP(w, r.WithContext(sessionsvc.WithGate(ctx, gate)))
	})
}

// settled waits up to the configured settle timeout for the gate and snapshots it.
func (ht *HTTPTransport) settled(ctx context.Context, gate *sessionsvc.SessionGate) domain.Session {
	if ht.cfg.Gate.SettleTimeout > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, ht.cfg.Gate.SettleTimeout)
		defer cancel()

		_ = gate.Wait(waitCtx)
	}

	return gate.Snapshot()
}

// ViewResponse is the body of an app page.
type ViewResponse struct {
	View    string         `json:"view"`
	App     string         `json:"app"`
	Session domain.Session `json:"session"`
}

// SessionResponse is the body of the session endpoints.
type SessionResponse struct {
	App           string            `json:"app"`
	Session       domain.Session    `json:"session"`
	Navigate      domain.Navigation `json:"navigate,omitempty"`
	OAuthProvider string            `json:"oauthProvider,omitempty"`
}

func (ht *HTTPTransport) view(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gate := sessionsvc.MustGate(r.Context())

		_ = writeJSON(w, http.StatusOK, ViewResponse{
			View:    name,
			App:     string(gate.App()),
			Session: ht.settled(r.Context(), gate),
		})
	}
}

func (ht *HTTPTransport) sessionResponse(ctx context.Context, gate *sessionsvc.SessionGate, nav domain.Navigation) SessionResponse {
	return SessionResponse{
		App:           string(gate.App()),
		Session:       ht.settled(ctx, gate),
		Navigate:      nav,
		OAuthProvider: gate.OAuthProvider(ctx),
	}
}

// HandleHealth reports liveness and the number of mounted gates.
func (ht *HTTPTransport) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	_ = writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"gates":  ht.registry.Len(),
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleSession returns the tab's session snapshot.
func (ht *HTTPTransport) HandleSession(w http.ResponseWriter, r *http.Request) {
	gate := sessionsvc.MustGate(r.Context())

	_ = writeJSON(w, http.StatusOK, ht.sessionResponse(r.Context(), gate, domain.NavigateNone))
}

// HandleLogin is the login form submission. Expects a JSON body with email and
// password, or an OAuth provider and assertion.
func (ht *HTTPTransport) HandleLogin(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleLogin(w, r)
}

func (ht *HTTPTransport) handleLogin(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.requestLog(r)

	defer func(ctx context.Context) {
		if err != nil {
			log.InfoContext(ctx, "login request failed", "error", err)
		} else {
			log.DebugContext(ctx, "login request succeeded")
		}
	}(r.Context())

	gate := sessionsvc.MustGate(r.Context())

	var creds domain.Credentials
	if err := decodeJSON(w, r, &creds); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")

		return err
	}

	nav, err := gate.Login(r.Context(), creds)
	if err != nil {
		writeSessionError(w, err)

		return err
	}

	return writeJSON(w, http.StatusOK, ht.sessionResponse(r.Context(), gate, nav))
}

// HandleRegister is the registration wizard submission.
func (ht *HTTPTransport) HandleRegister(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleRegister(w, r)
}

func (ht *HTTPTransport) handleRegister(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.requestLog(r)

	defer func(ctx context.Context) {
		if err != nil {
			log.InfoContext(ctx, "register request failed", "error", err)
		} else {
			log.DebugContext(ctx, "register request succeeded")
		}
	}(r.Context())

	gate := sessionsvc.MustGate(r.Context())

	var reg domain.Registration
	if err := decodeJSON(w, r, &reg); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")

		return err
	}

	nav, err := gate.Register(r.Context(), reg)
	if err != nil {
		writeSessionError(w, err)

		return err
	}

	return writeJSON(w, http.StatusOK, ht.sessionResponse(r.Context(), gate, nav))
}

// HandleLogout signs the tab out. It always succeeds.
func (ht *HTTPTransport) HandleLogout(w http.ResponseWriter, r *http.Request) {
	gate := sessionsvc.MustGate(r.Context())
	nav := gate.Logout(r.Context())

	_ = writeJSON(w, http.StatusOK, ht.sessionResponse(r.Context(), gate, nav))
}

// HandleRefresh re-runs the authoritative fetch. A failed refresh keeps the session
// and is not reported to the browser.
func (ht *HTTPTransport) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	gate := sessionsvc.MustGate(r.Context())
	_ = gate.Refresh(r.Context())

	_ = writeJSON(w, http.StatusOK, ht.sessionResponse(r.Context(), gate, domain.NavigateNone))
}

// HandleUpdateUser adopts profile changes the browser received from another
// endpoint. Identity, role and verification state stay as confirmed by the
// Identity API; only profile fields are taken from the body.
func (ht *HTTPTransport) HandleUpdateUser(w http.ResponseWriter, r *http.Request) {
	gate := sessionsvc.MustGate(r.Context())

	current := gate.Snapshot()
	if current.IsLoading || current.Optimistic || current.User == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")

		return
	}

	var edited domain.User
	if err := decodeJSON(w, r, &edited); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")

		return
	}

	if edited.ID != current.User.ID {
		writeError(w, http.StatusConflict, "user does not match the session")

		return
	}

	updated := *current.User
	updated.Username = edited.Username
	updated.Phone = edited.Phone
	updated.AvatarURL = edited.AvatarURL

	gate.Update(r.Context(), updated)

	_ = writeJSON(w, http.StatusOK, ht.sessionResponse(r.Context(), gate, domain.NavigateNone))
}

func (ht *HTTPTransport) requestLog(r *http.Request) logging.Logger {
	return ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))
}

// writeSessionError maps a gate failure to the form layer's status and message.
func writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, sessionsvc.ErrSuperseded) {
		writeError(w, http.StatusConflict, "the session changed while signing in")

		return
	}

	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))

		return
	}

	switch apiErr.Kind {
	case domain.KindCredentialRejected:
		status := apiErr.Status
		if status < 400 || status >= 500 {
			status = http.StatusUnauthorized
		}

		writeError(w, status, apiErr.Message)
	case domain.KindUnauthenticated:
		writeError(w, http.StatusUnauthorized, apiErr.Message)
	case domain.KindNetworkError:
		writeError(w, http.StatusServiceUnavailable, "identity service unreachable")
	default:
		writeError(w, http.StatusBadGateway, "identity service error")
	}
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
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize)).Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}

	return nil
}
