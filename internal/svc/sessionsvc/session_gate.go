package sessionsvc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mkrupp/escrowgate/internal/domain"
	"github.com/mkrupp/escrowgate/internal/infra/logging"
	"github.com/mkrupp/escrowgate/internal/repo/securestore"
	"github.com/mkrupp/escrowgate/internal/repo/usercache"
	"github.com/mkrupp/escrowgate/internal/svc/identitysvc/identityclient"
)

// ErrSuperseded is returned by Login and Register when a later operation (usually a
// logout) replaced the session before the call completed. The result was discarded.
var ErrSuperseded = errors.New("session operation superseded")

// secretOAuthProvider is the secure store key remembering the last OAuth provider.
const secretOAuthProvider = "oauth_provider"

// IdentityClients hands out the Identity API client of a tab.
type IdentityClients interface {
	Client(tabID string) identityclient.Client
	// Reset replaces the tab's client, discarding its cookies
	Reset(tabID string) identityclient.Client
	Forget(tabID string)
}

// Deps are the collaborators of a SessionGate.
type Deps struct {
	Identity IdentityClients
	Cache    usercache.Repository
	Secrets  securestore.Store
	Log      logging.Logger

	// Now defaults to time.Now
	Now func() time.Time
}

// SessionGate owns the authentication state of one browser tab. It reconciles the
// optimistic user cache with the authoritative Identity API answer.
//
// Every state-replacing operation takes a new sequence number. A completion whose
// number is no longer current is discarded, so the operation started last wins.
type SessionGate struct {
	tabID   string
	app     domain.AppContext
	deps    Deps
	log     logging.Logger
	refresh singleflight.Group

	// writeMu serializes state commits together with their cache writes so the
	// cache always holds the projection of the last committed user.
	writeMu sync.Mutex

	mu       sync.Mutex
	session  domain.Session
	identity identityclient.Client
	mount    *mount
	seq      uint64
}

type mount struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSessionGate creates an unmounted gate for the tab serving the given app.
func NewSessionGate(tabID string, app domain.AppContext, deps Deps) *SessionGate {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	if deps.Log == nil {
		deps.Log = logging.GetLogger("svc.sessionsvc.session_gate")
	}

	return &SessionGate{
		tabID:    tabID,
		app:      app,
		deps:     deps,
		log:      deps.Log.With(logging.Group("gate", "tab", tabID, "app", string(app))),
		identity: deps.Identity.Client(tabID),
		session:  domain.Session{IsLoading: true},
	}
}

// TabID returns the tab the gate belongs to.
func (g *SessionGate) TabID() string {
	return g.tabID
}

// App returns the app context the gate serves.
func (g *SessionGate) App() domain.AppContext {
	return g.app
}

// Snapshot returns a copy of the current session.
func (g *SessionGate) Snapshot() domain.Session {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.session
	if s.User != nil {
		u := *s.User
		s.User = &u
	}

	return s
}

// Mounted reports whether an initialization has been started and not unmounted.
func (g *SessionGate) Mounted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.mount != nil
}

// Mount runs the initialization protocol once for this mount. The cached projection
// is read synchronously; the CSRF seeding and the authoritative fetch run in the
// background. Calling Mount on a mounted gate does nothing.
func (g *SessionGate) Mount(ctx context.Context) {
	cached, hasCache := g.readCache(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.mount != nil {
		return
	}

	g.seq++
	token := g.seq

	g.session = domain.Session{IsLoading: true}

	if hasCache {
		u := cached.Expand(g.deps.Now())
		g.session.User = &u
		g.session.Optimistic = true
	}

	mctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m := &mount{cancel: cancel, done: make(chan struct{})}
	g.mount = m

	go g.initialize(mctx, m, token, g.identity, hasCache)
}

// Unmount cancels an in-flight initialization and waits for it to return. Its
// result is never applied.
func (g *SessionGate) Unmount() {
	<-g.detach()
}

// detach cancels the current mount without waiting for it. The returned channel is
// closed once its initialization returned.
func (g *SessionGate) detach() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	m := g.mount
	if m == nil {
		done := make(chan struct{})
		close(done)

		return done
	}

	m.cancel()
	g.mount = nil

	return m.done
}

// Wait blocks until the current mount's initialization settled or ctx is done.
func (g *SessionGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	m := g.mount
	g.mu.Unlock()

	if m == nil {
		return nil
	}

	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for session: %w", ctx.Err())
	}
}

func (g *SessionGate) readCache(ctx context.Context) (domain.CachedUser, bool) {
	cached, ok, err := g.deps.Cache.Get(ctx, g.tabID)
	if err != nil {
		g.log.WarnContext(ctx, "read user cache failed", "error", err)

		return domain.CachedUser{}, false
	}

	return cached, ok
}

func (g *SessionGate) initialize(ctx context.Context, m *mount, token uint64, identity identityclient.Client, hadCache bool) {
	defer close(m.done)
	defer m.cancel()

	if !identity.HasCSRF() {
		if err := identity.CSRF(ctx); err != nil {
			g.log.WarnContext(ctx, "seed csrf token failed", "error", err)
		}
	}

	if !hadCache && g.app == domain.AppLanding {
		g.commitInit(ctx, m, token, nil)
		g.log.DebugContext(ctx, "public visitor, authoritative fetch skipped")

		return
	}

	user, err := identity.Me(ctx)
	if ctx.Err() != nil {
		g.log.DebugContext(ctx, "unmounted before authoritative fetch settled")

		return
	}

	if err != nil {
		if !domain.IsAPIErrorKind(err, domain.KindUnauthenticated) {
			g.log.WarnContext(ctx, "authoritative fetch failed", "error", err)
		}

		g.commitInit(ctx, m, token, nil)

		return
	}

	g.commitInit(ctx, m, token, &user)
	g.log.DebugContext(ctx, "session confirmed", "user", user.ID)
}

// commitInit applies the initialization outcome if the mount and token are still
// current. A nil user clears the session and the cache.
func (g *SessionGate) commitInit(ctx context.Context, m *mount, token uint64, user *domain.User) {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	g.mu.Lock()

	if g.mount != m || g.seq != token {
		g.mu.Unlock()

		return
	}

	g.session = domain.Session{IsLoading: false, User: user}
	g.mu.Unlock()

	g.writeCache(ctx, user)
}

// commit installs user as the confirmed session if token is still current.
func (g *SessionGate) commit(ctx context.Context, token uint64, user *domain.User) bool {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	g.mu.Lock()

	if g.seq != token {
		g.mu.Unlock()

		return false
	}

	g.session = domain.Session{IsLoading: false, User: user}
	g.mu.Unlock()

	g.writeCache(ctx, user)

	return true
}

func (g *SessionGate) writeCache(ctx context.Context, user *domain.User) {
	var err error

	if user == nil {
		err = g.deps.Cache.Delete(ctx, g.tabID)
	} else {
		err = g.deps.Cache.Put(ctx, g.tabID, domain.ProjectUser(*user))
	}

	if err != nil {
		g.log.ErrorContext(ctx, "write user cache failed", "error", err)
	}
}

// begin starts a state-replacing operation and returns its token and the client to use.
func (g *SessionGate) begin() (uint64, identityclient.Client) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	g.session.IsLoading = true

	return g.seq, g.identity
}

// fail settles a failed sign-in. The cache and secure store are cleared; a user
// painted from the now deleted cache is dropped with it.
func (g *SessionGate) fail(ctx context.Context, token uint64) {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	g.mu.Lock()
	current := g.seq == token

	if current {
		g.session.IsLoading = false

		if g.session.Optimistic {
			g.session.User = nil
			g.session.Optimistic = false
		}
	}
	g.mu.Unlock()

	if !current {
		return
	}

	if err := g.deps.Cache.Delete(ctx, g.tabID); err != nil {
		g.log.ErrorContext(ctx, "clear user cache failed", "error", err)
	}

	if err := g.deps.Secrets.Clear(ctx, g.tabID); err != nil {
		g.log.ErrorContext(ctx, "clear secure store failed", "error", err)
	}
}

// Login signs in with credentials or an OAuth assertion. In admin context the
// admin-only endpoint is used. On success it returns where to navigate next; on
// failure it returns the identity client's *domain.APIError for the form layer.
func (g *SessionGate) Login(ctx context.Context, creds domain.Credentials) (_ domain.Navigation, err error) {
	defer func() {
		if err != nil {
			g.log.InfoContext(ctx, "login failed", "error", err)
		} else {
			g.log.DebugContext(ctx, "login successful")
		}
	}()

	token, identity := g.begin()

	signIn := identity.Login
	if g.app == domain.AppAdmin {
		signIn = identity.AdminLogin
	}

	user, err := signIn(ctx, creds)

	return g.finishSignIn(ctx, token, identity, user, err, creds.OAuthProvider)
}

// Register creates an account and signs it in, following the Login protocol.
func (g *SessionGate) Register(ctx context.Context, reg domain.Registration) (_ domain.Navigation, err error) {
	defer func() {
		if err != nil {
			g.log.InfoContext(ctx, "register failed", "error", err)
		} else {
			g.log.DebugContext(ctx, "registered")
		}
	}()

	token, identity := g.begin()
	user, err := identity.Register(ctx, reg)

	return g.finishSignIn(ctx, token, identity, user, err, "")
}

func (g *SessionGate) finishSignIn(
	ctx context.Context,
	token uint64,
	identity identityclient.Client,
	user *domain.User,
	err error,
	oauthProvider string,
) (domain.Navigation, error) {
	if err == nil && user == nil {
		var fetched domain.User

		fetched, err = identity.Me(ctx)
		user = &fetched
	}

	if err != nil {
		g.fail(ctx, token)

		return domain.NavigateNone, fmt.Errorf("sign in: %w", err)
	}

	if !g.commit(ctx, token, user) {
		return domain.NavigateNone, ErrSuperseded
	}

	if oauthProvider != "" {
		if err := g.deps.Secrets.Put(ctx, g.tabID, secretOAuthProvider, []byte(oauthProvider)); err != nil {
			g.log.WarnContext(ctx, "remember oauth provider failed", "error", err)
		}
	}

	return g.navigationAfterLogin(user), nil
}

func (g *SessionGate) navigationAfterLogin(user *domain.User) domain.Navigation {
	switch g.app {
	case domain.AppAdmin:
		return domain.NavigateAdmin
	case domain.AppDashboard:
		return domain.NavigateDashboard
	default:
		if user.IsAdmin() {
			return domain.NavigateAdmin
		}

		return domain.NavigateDashboard
	}
}

// Logout clears the session unconditionally. Local state, the cached projection and
// the secure store are cleared first; the Identity API is then notified on a
// best-effort basis and its failure is logged only. The tab's cookie jar is replaced
// so a session the server failed to revoke cannot be picked up again.
func (g *SessionGate) Logout(ctx context.Context) domain.Navigation {
	identity := g.clearLocal(ctx)

	if !identity.HasCSRF() {
		if err := identity.CSRF(ctx); err != nil {
			g.log.WarnContext(ctx, "seed csrf token failed", "error", err)
		}
	}

	if err := identity.Logout(ctx); err != nil {
		g.log.WarnContext(ctx, "logout notification failed", "error", err)
	}

	g.log.DebugContext(ctx, "logged out")

	if g.app == domain.AppLanding {
		return domain.NavigateNone
	}

	return domain.NavigateLanding
}

// clearLocal signs the gate out without talking to the Identity API and returns the
// client that still holds the old session.
func (g *SessionGate) clearLocal(ctx context.Context) identityclient.Client {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	g.mu.Lock()
	g.seq++
	identity := g.identity
	g.identity = g.deps.Identity.Reset(g.tabID)
	g.session = domain.Session{IsLoading: false}
	g.mu.Unlock()

	if err := g.deps.Cache.Delete(ctx, g.tabID); err != nil {
		g.log.ErrorContext(ctx, "clear user cache failed", "error", err)
	}

	if err := g.deps.Secrets.Clear(ctx, g.tabID); err != nil {
		g.log.ErrorContext(ctx, "clear secure store failed", "error", err)
	}

	return identity
}

// Refresh re-runs the authoritative fetch. On failure the session is left as it is
// and the error is only logged and returned for information. Concurrent calls share
// one fetch.
func (g *SessionGate) Refresh(ctx context.Context) error {
	_, err, _ := g.refresh.Do("refresh", func() (any, error) {
		g.mu.Lock()
		token := g.seq
		identity := g.identity
		g.mu.Unlock()

		user, err := identity.Me(ctx)
		if err != nil {
			g.log.InfoContext(ctx, "refresh failed", "error", err)

			return nil, fmt.Errorf("refresh: %w", err)
		}

		g.commit(ctx, token, &user)

		return nil, nil
	})

	//nolint:wrapcheck
	return err
}

// Update adopts a full user returned by another endpoint, such as a profile edit,
// without a round trip.
func (g *SessionGate) Update(ctx context.Context, user domain.User) {
	g.mu.Lock()
	g.seq++
	token := g.seq
	g.mu.Unlock()

	g.commit(ctx, token, &user)
}

// OAuthProvider returns the provider of the last OAuth sign-in of this tab.
func (g *SessionGate) OAuthProvider(ctx context.Context) string {
	raw, ok, err := g.deps.Secrets.Get(ctx, g.tabID, secretOAuthProvider)
	if err != nil || !ok {
		return ""
	}

	return string(raw)
}
