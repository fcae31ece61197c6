// Package routegate derives the per-request authorization decision from a tab's
// session and renders it.
package routegate

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mkrupp/escrowgate/internal/domain"
	"github.com/mkrupp/escrowgate/internal/infra/logging"
	"github.com/mkrupp/escrowgate/internal/infra/metrics"
	"github.com/mkrupp/escrowgate/internal/svc/sessionsvc"
)

// DefaultRedirect is where unauthenticated visitors are sent when a route names no target.
const DefaultRedirect = "/login"

// Route describes the protection of a route.
type Route struct {
	RequireAdmin bool
	RedirectTo   string
}

// Config tunes the middleware rendering.
type Config struct {
	// SettleTimeout is how long a request waits for a loading session to settle
	// before the placeholder is rendered. Zero renders it immediately.
	SettleTimeout time.Duration `env:"SETTLE_TIMEOUT" default:"2s"`
}

// View is the body rendered for decisions other than Allowed.
type View struct {
	View       string `json:"view"`
	RedirectTo string `json:"redirectTo,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Decide applies the authorization rules in order: loading, unauthenticated,
// admin required, allowed. A user painted from the cache counts as loading.
func Decide(session domain.Session, route Route) domain.Decision {
	switch {
	case session.IsLoading || session.Optimistic:
		return domain.Decision{Kind: domain.DecisionLoading}
	case !session.IsAuthenticated():
		redirect := route.RedirectTo
		if redirect == "" {
			redirect = DefaultRedirect
		}

		return domain.Decision{Kind: domain.DecisionDenied, RedirectTo: redirect}
	case route.RequireAdmin && !session.User.IsAdmin():
		return domain.Decision{Kind: domain.DecisionAdminRequired}
	default:
		return domain.Decision{Kind: domain.DecisionAllowed}
	}
}

// Middleware gates next behind the tab's session. It needs the session gate in the
// request context and panics with domain.ErrNoSessionGate when it is missing.
func Middleware(route Route, cfg Config, m *metrics.Metrics) func(http.Handler) http.Handler {
	log := logging.GetLogger("svc.routegate")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			gate := sessionsvc.MustGate(ctx)

			if cfg.SettleTimeout > 0 {
				waitCtx, cancel := context.WithTimeout(ctx, cfg.SettleTimeout)
				_ = gate.Wait(waitCtx)

				cancel()
			}

			decision := Decide(gate.Snapshot(), route)
			m.ObserveDecision(decision.Kind.String(), route.RequireAdmin)

			log.DebugContext(ctx, "route decision",
				"decision", decision.Kind.String(),
				"path", r.URL.Path,
				"requireAdmin", route.RequireAdmin,
			)

			switch decision.Kind {
			case domain.DecisionLoading:
				w.Header().Set("Retry-After", "1")
				writeView(w, http.StatusAccepted, View{View: "loading"})
			case domain.DecisionDenied:
				http.Redirect(w, r, decision.RedirectTo, http.StatusSeeOther)
			case domain.DecisionAdminRequired:
				writeView(w, http.StatusForbidden, View{
					View:    "access_denied",
					Message: "Administrator access is required to view this page.",
				})
			case domain.DecisionAllowed:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func writeView(w http.ResponseWriter, status int, view View) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(view)
}
