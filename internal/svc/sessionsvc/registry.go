package sessionsvc

import (
	"context"
	"sync"
	"time"

	"github.com/mkrupp/escrowgate/internal/domain"
	"github.com/mkrupp/escrowgate/internal/infra/logging"
	"github.com/mkrupp/escrowgate/internal/infra/metrics"
)

// RegistryConfig configures the lifetime of per-tab gates.
type RegistryConfig struct {
	// IdleTTL unmounts gates of tabs that sent no request for this long
	IdleTTL time.Duration `env:"IDLE_TTL" default:"30m"`

	// SweepInterval is how often idle gates are looked for
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" default:"1m"`
}

// Registry holds the mounted session gate of every known tab. A tab has at most one
// gate; a request for another app context replaces it, the way a full page load
// into another app tears down the old provider and mounts a new one.
type Registry struct {
	cfg     RegistryConfig
	deps    Deps
	metrics *metrics.Metrics
	log     logging.Logger

	mu    sync.Mutex
	gates map[string]*registryEntry
}

type registryEntry struct {
	gate     *SessionGate
	lastSeen time.Time
}

func NewRegistry(cfg RegistryConfig, deps Deps, m *metrics.Metrics) *Registry {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Registry{
		cfg:     cfg,
		deps:    deps,
		metrics: m,
		log:     logging.GetLogger("svc.sessionsvc.registry"),
		gates:   make(map[string]*registryEntry),
	}
}

// Acquire returns the tab's mounted gate for app, creating and mounting it first
// when needed. A replaced gate is waited for outside the registry lock.
func (r *Registry) Acquire(ctx context.Context, tabID string, app domain.AppContext) *SessionGate {
	gate, replaced := r.acquire(ctx, tabID, app)
	if replaced != nil {
		<-replaced
	}

	return gate
}

func (r *Registry) acquire(ctx context.Context, tabID string, app domain.AppContext) (*SessionGate, <-chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.deps.Now()

	var replaced <-chan struct{}

	if entry, ok := r.gates[tabID]; ok {
		if entry.gate.App() == app {
			entry.lastSeen = now

			return entry.gate, nil
		}

		r.log.DebugContext(ctx, "tab changed app context", "from", string(entry.gate.App()), "to", string(app))
		replaced = r.detachLocked(tabID, entry)
	}

	gate := NewSessionGate(tabID, app, r.deps)
	gate.Mount(ctx)

	r.gates[tabID] = &registryEntry{gate: gate, lastSeen: now}
	r.metrics.GateMounted()

	return gate, replaced
}

// Lookup returns the tab's gate, if any, without creating one.
func (r *Registry) Lookup(tabID string) (*SessionGate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.gates[tabID]
	if !ok {
		return nil, false
	}

	entry.lastSeen = r.deps.Now()

	return entry.gate, true
}

// Forget unmounts and drops the tab's gate together with its Identity API client,
// cached projection and secure store entries.
func (r *Registry) Forget(ctx context.Context, tabID string) {
	r.mu.Lock()

	var done <-chan struct{}
	if entry, ok := r.gates[tabID]; ok {
		done = r.detachLocked(tabID, entry)
	}

	r.mu.Unlock()

	if done != nil {
		<-done
	}

	r.purge(ctx, tabID)
}

// Len returns the number of mounted gates.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.gates)
}

// Sweep unmounts every gate idle for longer than IdleTTL and returns how many went.
// The tab's Identity API cookies, cached projection and secrets go with it, so
// IdleTTL bounds the BFF session.
func (r *Registry) Sweep(ctx context.Context) int {
	if r.cfg.IdleTTL <= 0 {
		return 0
	}

	detached := r.detachIdle()

	for tabID, done := range detached {
		<-done
		r.purge(ctx, tabID)
	}

	return len(detached)
}

func (r *Registry) detachIdle() map[string]<-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.deps.Now().Add(-r.cfg.IdleTTL)
	detached := make(map[string]<-chan struct{})

	for tabID, entry := range r.gates {
		if entry.lastSeen.Before(cutoff) {
			detached[tabID] = r.detachLocked(tabID, entry)
		}
	}

	return detached
}

// purge drops everything kept for a tab whose gate is gone.
func (r *Registry) purge(ctx context.Context, tabID string) {
	r.deps.Identity.Forget(tabID)

	if err := r.deps.Cache.Delete(ctx, tabID); err != nil {
		r.log.ErrorContext(ctx, "clear user cache failed", "tab", tabID, "error", err)
	}

	if err := r.deps.Secrets.Clear(ctx, tabID); err != nil {
		r.log.ErrorContext(ctx, "clear secure store failed", "tab", tabID, "error", err)
	}
}

// Run sweeps idle gates every SweepInterval until ctx is done, then unmounts all.
func (r *Registry) Run(ctx context.Context) error {
	defer r.Close()

	if r.cfg.SweepInterval <= 0 {
		<-ctx.Done()

		return nil
	}

	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Sweep(ctx); n > 0 {
				r.log.DebugContext(ctx, "idle session gates unmounted", "count", n)
			}
		}
	}
}

// Close unmounts every gate. Cached projections survive so a restarted BFF can
// still paint optimistically.
func (r *Registry) Close() {
	r.mu.Lock()

	pending := make([]<-chan struct{}, 0, len(r.gates))
	for tabID, entry := range r.gates {
		pending = append(pending, r.detachLocked(tabID, entry))
	}

	r.mu.Unlock()

	for _, done := range pending {
		<-done
	}
}

func (r *Registry) detachLocked(tabID string, entry *registryEntry) <-chan struct{} {
	done := entry.gate.detach()
	delete(r.gates, tabID)
	r.metrics.GateUnmounted()

	return done
}
