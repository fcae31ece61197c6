package context

import (
	"context"
)

const contextKeyTabID = contextKey("tabID")

// TabIDFromContext extracts the browser tab ID from the context.
func TabIDFromContext(ctx context.Context) (string, bool) {
	tabID, ok := ctx.Value(contextKeyTabID).(string)

	return tabID, ok && tabID != ""
}

// WithTabID returns a context carrying the tab ID that scopes the session gate,
// the user cache and the secure store.
func WithTabID(ctx context.Context, tabID string) context.Context {
	return context.WithValue(ctx, contextKeyTabID, tabID)
}
