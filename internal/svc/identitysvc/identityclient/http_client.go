package identityclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/mkrupp/escrowgate/internal/domain"
	context_ "github.com/mkrupp/escrowgate/internal/infra/context"
	"github.com/mkrupp/escrowgate/internal/infra/logging"
	"github.com/mkrupp/escrowgate/internal/infra/metrics"
)

const (
	TraceIDHeader  = "X-Request-ID"
	CSRFHeader     = "X-CSRF-Token"
	CSRFCookieName = "csrf_token"

	maxBodySize = 1 << 20
)

// HTTPClientConfig holds configuration for the Identity API client.
type HTTPClientConfig struct {
	// BaseURL is the Identity API root, the /auth/* paths are appended to it
	BaseURL string `env:"BASE_URL" default:"http://localhost:8081"`

	Timeout time.Duration `env:"TIMEOUT" default:"10s"`
}

// HTTPClient implements Client over HTTP. Credentials travel only as cookies held
// in the client's private jar.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    *url.URL
	log        logging.Logger
	metrics    *metrics.Metrics

	mu        sync.Mutex
	csrfToken string
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPFactory returns a Factory creating one HTTPClient with its own cookie jar
// per tab. transport may be nil to use http.DefaultTransport.
func NewHTTPFactory(cfg HTTPClientConfig, transport http.RoundTripper, m *metrics.Metrics) (Factory, error) {
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	log := logging.GetLogger("svc.identitysvc.identityclient")

	return func(tabID string) Client {
		jar, _ := cookiejar.New(nil) // never fails with nil options

		//nolint:exhaustruct
		return &HTTPClient{
			httpClient: &http.Client{
				Transport: transport,
				Jar:       jar,
				Timeout:   cfg.Timeout,
			},
			baseURL: baseURL,
			log:     log.With(logging.Group("tab", "id", tabID)),
			metrics: m,
		}
	}, nil
}

// Me implements Client.Me via GET /auth/me.
func (c *HTTPClient) Me(ctx context.Context) (domain.User, error) {
	var user domain.User

	if err := c.do(ctx, "me", http.MethodGet, "/auth/me", nil, &user, false); err != nil {
		return domain.User{}, err
	}

	if user.ID == "" {
		return domain.User{}, &domain.APIError{Kind: domain.KindServerError, Message: "empty user payload", Status: http.StatusOK}
	}

	return user, nil
}

// Login implements Client.Login via POST /auth/login.
func (c *HTTPClient) Login(ctx context.Context, creds domain.Credentials) (*domain.User, error) {
	return c.signIn(ctx, "login", "/auth/login", creds)
}

// AdminLogin implements Client.AdminLogin via POST /auth/admin-login.
func (c *HTTPClient) AdminLogin(ctx context.Context, creds domain.Credentials) (*domain.User, error) {
	return c.signIn(ctx, "admin_login", "/auth/admin-login", creds)
}

// Register implements Client.Register via POST /auth/register.
func (c *HTTPClient) Register(ctx context.Context, reg domain.Registration) (*domain.User, error) {
	return c.signIn(ctx, "register", "/auth/register", reg)
}

func (c *HTTPClient) signIn(ctx context.Context, op, path string, body any) (*domain.User, error) {
	var resp domain.UserResponse

	if err := c.do(ctx, op, http.MethodPost, path, body, &resp, true); err != nil {
		return nil, err
	}

	return resp.User, nil
}

// Logout implements Client.Logout via POST /auth/logout.
func (c *HTTPClient) Logout(ctx context.Context) error {
	return c.do(ctx, "logout", http.MethodPost, "/auth/logout", nil, nil, false)
}

// CSRF implements Client.CSRF via GET /auth/csrf.
func (c *HTTPClient) CSRF(ctx context.Context) error {
	var resp struct {
		CSRFToken string `json:"csrfToken"`
	}

	if err := c.do(ctx, "csrf", http.MethodGet, "/auth/csrf", nil, &resp, false); err != nil {
		return err
	}

	c.mu.Lock()
	c.csrfToken = resp.CSRFToken
	c.mu.Unlock()

	return nil
}

// HasCSRF implements Client.HasCSRF.
func (c *HTTPClient) HasCSRF() bool {
	return c.currentCSRF() != ""
}

// currentCSRF prefers the cookie, which is what the server validates against.
func (c *HTTPClient) currentCSRF() string {
	for _, cookie := range c.httpClient.Jar.Cookies(c.baseURL) {
		if cookie.Name == CSRFCookieName && cookie.Value != "" {
			return cookie.Value
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.csrfToken
}

//nolint:cyclop
func (c *HTTPClient) do(
	ctx context.Context,
	op, method, path string,
	body, result any,
	credentialCall bool,
) (err error) {
	defer func() {
		outcome := "ok"

		var apiErr *domain.APIError
		if errors.As(err, &apiErr) {
			outcome = string(apiErr.Kind)
		}

		c.metrics.ObserveIdentityCall(op, outcome)

		if err != nil {
			c.log.DebugContext(ctx, "identity call failed", "op", op, "error", err)
		}
	}()

	var bodyReader io.Reader

	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &domain.APIError{Kind: domain.KindServerError, Message: "encode request", Err: err}
		}

		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), bodyReader)
	if err != nil {
		return &domain.APIError{Kind: domain.KindServerError, Message: "new request", Err: err}
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if method != http.MethodGet {
		if token := c.currentCSRF(); token != "" {
			req.Header.Set(CSRFHeader, token)
		}
	}

	if traceID, ok := context_.TraceIDFromContext(ctx); ok {
		req.Header.Set(TraceIDHeader, traceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.APIError{Kind: domain.KindNetworkError, Message: "identity api unreachable", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &domain.APIError{Kind: domain.KindNetworkError, Message: "read response", Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp domain.ErrorResponse
		_ = json.Unmarshal(raw, &errResp)

		return domain.NewAPIError(resp.StatusCode, errResp.Message, credentialCall)
	}

	if result == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, result); err != nil {
		return &domain.APIError{
			Kind:    domain.KindServerError,
			Message: "decode response",
			Status:  resp.StatusCode,
			Err:     err,
		}
	}

	return nil
}
