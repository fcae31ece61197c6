package sessionsvc_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mkrupp/escrowgate/internal/domain"
	"github.com/mkrupp/escrowgate/internal/infra/metrics"
	"github.com/mkrupp/escrowgate/internal/svc/sessionsvc"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func newRegistry(t *testing.T, f *fixture, ttl time.Duration) (*sessionsvc.Registry, *fakeClock, *metrics.Metrics) {
	t.Helper()

	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	m := metrics.New("test")

	deps := f.deps()
	deps.Now = clock.Now

	r := sessionsvc.NewRegistry(sessionsvc.RegistryConfig{IdleTTL: ttl}, deps, m)
	t.Cleanup(r.Close)

	return r, clock, m
}

func TestRegistry_AcquireReusesGatePerApp(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, _, _ := newRegistry(t, newFixture(), time.Minute)

	landing := r.Acquire(ctx, "tab-1", domain.AppLanding)
	if !landing.Mounted() {
		t.Fatal("acquired gate is not mounted")
	}

	if again := r.Acquire(ctx, "tab-1", domain.AppLanding); again != landing {
		t.Error("second Acquire() created a new gate for the same app")
	}

	dashboard := r.Acquire(ctx, "tab-1", domain.AppDashboard)
	if dashboard == landing || dashboard.App() != domain.AppDashboard {
		t.Errorf("Acquire() for another app = %v, want a fresh dashboard gate", dashboard.App())
	}

	if landing.Mounted() {
		t.Error("replaced gate is still mounted")
	}

	if other := r.Acquire(ctx, "tab-2", domain.AppDashboard); other == dashboard {
		t.Error("tabs share a gate")
	}

	if got, ok := r.Lookup("tab-1"); !ok || got != dashboard {
		t.Errorf("Lookup() = %v, %v", got, ok)
	}

	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestRegistry_NewAppContextStartsFromCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()
	release := make(chan struct{})

	f.identity.login = returnUser(alice)
	f.identity.me = func(context.Context) (domain.User, error) {
		<-release

		return alice, nil
	}

	r, _, _ := newRegistry(t, f, time.Minute)

	landing := r.Acquire(ctx, "tab-1", domain.AppLanding)
	waitSettled(t, landing)

	if _, err := landing.Login(ctx, domain.Credentials{Email: alice.Email, Password: "pw"}); err != nil {
		t.Fatal(err)
	}

	dashboard := r.Acquire(ctx, "tab-1", domain.AppDashboard)

	s := dashboard.Snapshot()
	if !s.IsLoading || !s.Optimistic || s.User == nil || s.User.ID != alice.ID {
		t.Errorf("dashboard session = %+v, want optimistic alice from cache", s)
	}

	close(release)

	if s := waitSettled(t, dashboard); s.Optimistic || s.User == nil {
		t.Errorf("dashboard session = %+v, want confirmed alice", s)
	}
}

func TestRegistry_SweepUnmountsIdleGates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, clock, m := newRegistry(t, newFixture(), time.Minute)

	idle := r.Acquire(ctx, "tab-idle", domain.AppLanding)
	r.Acquire(ctx, "tab-busy", domain.AppLanding)

	clock.Advance(45 * time.Second)
	r.Lookup("tab-busy")
	clock.Advance(30 * time.Second)

	if n := r.Sweep(ctx); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}

	if idle.Mounted() {
		t.Error("idle gate still mounted")
	}

	if _, ok := r.Lookup("tab-idle"); ok {
		t.Error("idle gate still registered")
	}

	if _, ok := r.Lookup("tab-busy"); !ok {
		t.Error("busy gate swept")
	}

	want := `
# HELP test_session_gates_active Mounted per-tab session gates.
# TYPE test_session_gates_active gauge
test_session_gates_active 1
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(want), "test_session_gates_active"); err != nil {
		t.Error(err)
	}
}

func TestRegistry_RunClosesOnShutdown(t *testing.T) {
	t.Parallel()

	f := newFixture()
	r := sessionsvc.NewRegistry(sessionsvc.RegistryConfig{IdleTTL: time.Minute, SweepInterval: time.Millisecond}, f.deps(), nil)
	gate := r.Acquire(context.Background(), "tab-1", domain.AppLanding)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- r.Run(ctx) }()

	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if gate.Mounted() || r.Len() != 0 {
		t.Error("Run() left gates mounted after shutdown")
	}
}

func TestRegistry_SweepPurgesTabState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()
	r, clock, _ := newRegistry(t, f, time.Minute)

	r.Acquire(ctx, "tab-1", domain.AppDashboard)

	if err := f.cache.Put(ctx, "tab-1", domain.ProjectUser(alice)); err != nil {
		t.Fatal(err)
	}

	if err := f.secrets.Put(ctx, "tab-1", "oauth_provider", []byte("google")); err != nil {
		t.Fatal(err)
	}

	clock.Advance(2 * time.Minute)

	if n := r.Sweep(ctx); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}

	if _, ok, _ := f.cache.Get(ctx, "tab-1"); ok {
		t.Error("cached user survived eviction")
	}

	if _, ok, _ := f.secrets.Get(ctx, "tab-1", "oauth_provider"); ok {
		t.Error("secure store survived eviction")
	}
}

func TestRegistry_ForgetPurgesTabState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()
	r, _, _ := newRegistry(t, f, time.Minute)

	gate := r.Acquire(ctx, "tab-1", domain.AppLanding)

	if err := f.cache.Put(ctx, "tab-1", domain.ProjectUser(alice)); err != nil {
		t.Fatal(err)
	}

	r.Forget(ctx, "tab-1")

	if gate.Mounted() || r.Len() != 0 {
		t.Error("Forget() left the gate mounted")
	}

	if _, ok, _ := f.cache.Get(ctx, "tab-1"); ok {
		t.Error("cached user survived Forget()")
	}
}

func TestRegistry_SlowLogoutDoesNotBlockOtherTabs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()
	meStarted := make(chan struct{})
	releaseMe := make(chan struct{})
	logoutStarted := make(chan struct{})
	releaseLogout := make(chan struct{})

	var once sync.Once

	f.identity.me = func(ctx context.Context) (domain.User, error) {
		once.Do(func() { close(meStarted) })

		select {
		case <-releaseMe:
			return domain.User{}, domain.NewAPIError(401, "", false)
		case <-ctx.Done():
			return domain.User{}, ctx.Err()
		}
	}
	f.identity.logout = func(context.Context) error {
		close(logoutStarted)
		<-releaseLogout

		return nil
	}

	defer close(releaseLogout)

	r, _, _ := newRegistry(t, f, time.Minute)

	dashboard := r.Acquire(ctx, "tab-1", domain.AppDashboard)
	r.Acquire(ctx, "tab-2", domain.AppLanding)
	<-meStarted

	logoutDone := make(chan domain.Navigation, 1)

	go func() { logoutDone <- dashboard.Logout(ctx) }()

	<-logoutStarted
	close(releaseMe)

	acquired := make(chan *sessionsvc.SessionGate, 1)

	go func() { acquired <- r.Acquire(ctx, "tab-1", domain.AppAdmin) }()

	select {
	case gate := <-acquired:
		if gate.App() != domain.AppAdmin {
			t.Errorf("Acquire() app = %q, want admin", gate.App())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Acquire() blocked behind a pending logout notification")
	}

	looked := make(chan bool, 1)

	go func() {
		_, ok := r.Lookup("tab-2")
		looked <- ok
	}()

	select {
	case ok := <-looked:
		if !ok {
			t.Error("Lookup() lost tab-2")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Lookup() blocked behind a pending logout notification")
	}

	if s := dashboard.Snapshot(); s.IsAuthenticated() || s.IsLoading {
		t.Errorf("session = %+v, want cleared before the server answered", s)
	}

	select {
	case <-logoutDone:
		t.Error("Logout() returned before the server answered")
	default:
	}
}
