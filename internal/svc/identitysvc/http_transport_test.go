package identitysvc_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mkrupp/escrowgate/internal/domain"
	"github.com/mkrupp/escrowgate/internal/svc/identitysvc"
	"github.com/mkrupp/escrowgate/internal/svc/identitysvc/identityclient"
)

func newServer(t *testing.T) (*httptest.Server, identityclient.Factory) {
	t.Helper()

	svc, _ := setupTestService(t)
	svc.Config.AdminEmail = "root@example.com"
	svc.Config.AdminPassword = "rootpass"

	if err := svc.SeedAdmin(context.Background()); err != nil {
		t.Fatal(err)
	}

	//nolint:exhaustruct
	transport := identitysvc.NewHTTPTransport(svc, identitysvc.HTTPTransportConfig{SessionCookie: "session"})

	srv := httptest.NewServer(transport)
	t.Cleanup(srv.Close)

	factory, err := identityclient.NewHTTPFactory(identityclient.HTTPClientConfig{BaseURL: srv.URL}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	return srv, factory
}

func TestHTTPTransport_SessionLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, factory := newServer(t)
	client := factory("tab-1")

	if _, err := client.Me(ctx); !domain.IsAPIErrorKind(err, domain.KindUnauthenticated) {
		t.Fatalf("Me() before login error = %v, want unauthenticated", err)
	}

	if err := client.CSRF(ctx); err != nil || !client.HasCSRF() {
		t.Fatalf("CSRF() error = %v, has %v", err, client.HasCSRF())
	}

	registered, err := client.Register(ctx, domain.Registration{
		Email:    "ada@example.com",
		Username: "ada",
		Password: "lovelace",
	})
	if err != nil || registered == nil || registered.Role != domain.RoleUser {
		t.Fatalf("Register() = %+v, %v", registered, err)
	}

	me, err := client.Me(ctx)
	if err != nil || me.ID != registered.ID {
		t.Fatalf("Me() = %+v, %v, want registered user", me, err)
	}

	if err := client.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	if _, err := client.Me(ctx); !domain.IsAPIErrorKind(err, domain.KindUnauthenticated) {
		t.Errorf("Me() after logout error = %v, want unauthenticated", err)
	}

	signedIn, err := client.Login(ctx, domain.Credentials{Email: "ada@example.com", Password: "lovelace"})
	if err != nil || signedIn == nil || signedIn.ID != registered.ID {
		t.Errorf("Login() = %+v, %v", signedIn, err)
	}
}

func TestHTTPTransport_Rejections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, factory := newServer(t)

	member := factory("tab-member")
	if _, err := member.Register(ctx, domain.Registration{Email: "m@example.com", Username: "m", Password: "pw"}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		call     func(c identityclient.Client) error
		wantKind domain.APIErrorKind
		wantMsg  string
	}{
		{
			name: "wrong password",
			call: func(c identityclient.Client) error {
				_, err := c.Login(ctx, domain.Credentials{Email: "m@example.com", Password: "nope"})

				return err
			},
			wantKind: domain.KindCredentialRejected,
			wantMsg:  "invalid email or password",
		},
		{
			name: "member on admin login",
			call: func(c identityclient.Client) error {
				_, err := c.AdminLogin(ctx, domain.Credentials{Email: "m@example.com", Password: "pw"})

				return err
			},
			wantKind: domain.KindCredentialRejected,
			wantMsg:  "administrator access required",
		},
		{
			name: "duplicate registration",
			call: func(c identityclient.Client) error {
				_, err := c.Register(ctx, domain.Registration{Email: "m@example.com", Username: "m2", Password: "pw"})

				return err
			},
			wantKind: domain.KindCredentialRejected,
		},
		{
			name: "oauth assertion",
			call: func(c identityclient.Client) error {
				_, err := c.Login(ctx, domain.Credentials{OAuthProvider: "google", OAuthAssertion: "x"})

				return err
			},
			wantKind: domain.KindCredentialRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.call(factory("tab-" + tt.name))
			if !domain.IsAPIErrorKind(err, tt.wantKind) {
				t.Fatalf("error = %v, want kind %s", err, tt.wantKind)
			}

			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %v, want message %q", err, tt.wantMsg)
			}
		})
	}

	admin := factory("tab-admin")

	root, err := admin.AdminLogin(ctx, domain.Credentials{Email: "root@example.com", Password: "rootpass"})
	if err != nil || !root.IsAdmin() {
		t.Errorf("AdminLogin() = %+v, %v", root, err)
	}
}

func TestHTTPTransport_LogoutRequiresCSRF(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, srv.URL+"/auth/logout", nil)
	if err != nil {
		t.Fatal(err)
	}

	req.AddCookie(&http.Cookie{Name: identitysvc.CSRFCookieName, Value: "cookie-token"})
	req.Header.Set(identitysvc.CSRFHeader, "other-token")

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}
