package routegate_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mkrupp/escrowgate/internal/domain"
	"github.com/mkrupp/escrowgate/internal/infra/metrics"
	"github.com/mkrupp/escrowgate/internal/repo/securestore"
	"github.com/mkrupp/escrowgate/internal/repo/usercache"
	"github.com/mkrupp/escrowgate/internal/svc/identitysvc/identityclient"
	"github.com/mkrupp/escrowgate/internal/svc/routegate"
	"github.com/mkrupp/escrowgate/internal/svc/sessionsvc"
)

// anonymousIdentity answers every call as if no session cookie was held.
type anonymousIdentity struct{}

func (anonymousIdentity) Me(context.Context) (domain.User, error) {
	return domain.User{}, domain.NewAPIError(http.StatusUnauthorized, "", false)
}

func (anonymousIdentity) Login(context.Context, domain.Credentials) (*domain.User, error) {
	return nil, domain.NewAPIError(http.StatusUnauthorized, "", true)
}

func (anonymousIdentity) AdminLogin(context.Context, domain.Credentials) (*domain.User, error) {
	return nil, domain.NewAPIError(http.StatusForbidden, "", true)
}

func (anonymousIdentity) Register(context.Context, domain.Registration) (*domain.User, error) {
	return nil, domain.NewAPIError(http.StatusConflict, "", true)
}

func (anonymousIdentity) Logout(context.Context) error { return nil }
func (anonymousIdentity) CSRF(context.Context) error   { return nil }
func (anonymousIdentity) HasCSRF() bool                { return true }

//nolint:gochecknoglobals
var (
	member = domain.User{ID: "u-1", Username: "member", Role: domain.RoleUser}
	admin  = domain.User{ID: "u-2", Username: "admin", Role: domain.RoleAdmin}
)

func TestDecide(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		session domain.Session
		route   routegate.Route
		want    domain.Decision
	}{
		{
			name:    "loading wins over everything",
			session: domain.Session{IsLoading: true, User: &admin},
			route:   routegate.Route{RequireAdmin: true},
			want:    domain.Decision{Kind: domain.DecisionLoading},
		},
		{
			name:    "loading without user",
			session: domain.Session{IsLoading: true},
			want:    domain.Decision{Kind: domain.DecisionLoading},
		},
		{
			name:    "optimistic user is not trusted",
			session: domain.Session{User: &admin, Optimistic: true},
			route:   routegate.Route{RequireAdmin: true},
			want:    domain.Decision{Kind: domain.DecisionLoading},
		},
		{
			name:    "anonymous goes to default redirect",
			session: domain.Session{},
			want:    domain.Decision{Kind: domain.DecisionDenied, RedirectTo: routegate.DefaultRedirect},
		},
		{
			name:    "anonymous goes to route redirect",
			session: domain.Session{},
			route:   routegate.Route{RequireAdmin: true, RedirectTo: "/admin/login"},
			want:    domain.Decision{Kind: domain.DecisionDenied, RedirectTo: "/admin/login"},
		},
		{
			name:    "member on admin route",
			session: domain.Session{User: &member},
			route:   routegate.Route{RequireAdmin: true},
			want:    domain.Decision{Kind: domain.DecisionAdminRequired},
		},
		{
			name:    "member on member route",
			session: domain.Session{User: &member},
			want:    domain.Decision{Kind: domain.DecisionAllowed},
		},
		{
			name:    "admin on admin route",
			session: domain.Session{User: &admin},
			route:   routegate.Route{RequireAdmin: true},
			want:    domain.Decision{Kind: domain.DecisionAllowed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := routegate.Decide(tt.session, tt.route); got != tt.want {
				t.Errorf("Decide() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func newGate(t *testing.T) *sessionsvc.SessionGate {
	t.Helper()

	return sessionsvc.NewSessionGate("tab-1", domain.AppDashboard, sessionsvc.Deps{
		Identity: identityclient.NewPool(func(string) identityclient.Client { return anonymousIdentity{} }),
		Cache:    usercache.NewMemoryRepository(),
		Secrets:  securestore.NewMemoryStore(),
	})
}

func serve(gate *sessionsvc.SessionGate, route routegate.Route, cfg routegate.Config) *httptest.ResponseRecorder {
	protected := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := routegate.Middleware(route, cfg, nil)(protected)

	req := httptest.NewRequest(http.MethodGet, "/app/transactions", nil)
	if gate != nil {
		req = req.WithContext(sessionsvc.WithGate(req.Context(), gate))
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return rec
}

func TestMiddleware_Rendering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("loading renders placeholder", func(t *testing.T) {
		t.Parallel()

		rec := serve(newGate(t), routegate.Route{}, routegate.Config{})
		if rec.Code != http.StatusAccepted || rec.Header().Get("Retry-After") != "1" {
			t.Errorf("got %d, Retry-After %q", rec.Code, rec.Header().Get("Retry-After"))
		}
	})

	t.Run("anonymous is redirected after settling", func(t *testing.T) {
		t.Parallel()

		gate := newGate(t)
		gate.Mount(ctx)
		t.Cleanup(gate.Unmount)

		rec := serve(gate, routegate.Route{}, routegate.Config{SettleTimeout: 5 * time.Second})
		if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != routegate.DefaultRedirect {
			t.Errorf("got %d to %q", rec.Code, rec.Header().Get("Location"))
		}
	})

	t.Run("member is refused admin route", func(t *testing.T) {
		t.Parallel()

		gate := newGate(t)
		gate.Update(ctx, member)

		rec := serve(gate, routegate.Route{RequireAdmin: true}, routegate.Config{})
		if rec.Code != http.StatusForbidden {
			t.Errorf("got %d, want 403", rec.Code)
		}
	})

	t.Run("admin reaches the handler", func(t *testing.T) {
		t.Parallel()

		gate := newGate(t)
		gate.Update(ctx, admin)

		rec := serve(gate, routegate.Route{RequireAdmin: true}, routegate.Config{})
		if rec.Code != http.StatusOK {
			t.Errorf("got %d, want 200", rec.Code)
		}
	})
}

func TestMiddleware_MissingGatePanics(t *testing.T) {
	t.Parallel()

	defer func() {
		p := recover()

		err, ok := p.(error)
		if !ok || !errors.Is(err, domain.ErrNoSessionGate) {
			t.Errorf("recover() = %v, want %v", p, domain.ErrNoSessionGate)
		}
	}()

	serve(nil, routegate.Route{}, routegate.Config{})
}

func TestMiddleware_CountsDecisions(t *testing.T) {
	t.Parallel()

	m := metrics.New("test")
	gate := newGate(t)
	gate.Update(context.Background(), member)

	handler := routegate.Middleware(routegate.Route{RequireAdmin: true}, routegate.Config{}, m)(http.NotFoundHandler())
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req = req.WithContext(sessionsvc.WithGate(req.Context(), gate))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	n, err := testutil.GatherAndCount(m.Registry(), "test_route_gate_decisions_total")
	if err != nil || n != 1 {
		t.Errorf("decision series = %d, %v, want 1", n, err)
	}
}
