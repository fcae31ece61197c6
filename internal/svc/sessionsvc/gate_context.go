package sessionsvc

import (
	"context"

	"github.com/mkrupp/escrowgate/internal/domain"
)

type gateContextKey struct{}

// WithGate returns a context carrying the tab's session gate.
func WithGate(ctx context.Context, gate *SessionGate) context.Context {
	return context.WithValue(ctx, gateContextKey{}, gate)
}

// GateFromContext extracts the session gate installed by WithGate.
func GateFromContext(ctx context.Context) (*SessionGate, bool) {
	gate, ok := ctx.Value(gateContextKey{}).(*SessionGate)

	return gate, ok && gate != nil
}

// MustGate is GateFromContext for consumers that cannot work without a gate. A
// missing gate is a wiring mistake and panics with domain.ErrNoSessionGate.
func MustGate(ctx context.Context) *SessionGate {
	gate, ok := GateFromContext(ctx)
	if !ok {
		panic(domain.ErrNoSessionGate)
	}

	return gate
}
