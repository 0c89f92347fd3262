// Package requestcontext provides HTTP-independent access to the request-scoped
// clock.
//
// Everything that identifies the caller (actor, roles, request id) is passed
// explicitly through identity.Caller; only the time reference travels in the
// context, so that every timestamp written by one unit of work agrees.
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"
)

type requestTimeKey struct{}

// ContextKeyRequestTime is exported for tests that need context.WithValue.
var ContextKeyRequestTime = requestTimeKey{}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now().UTC()
}

// WithTime injects a specific time into a context.
// Useful for:
//   - Service unit tests that don't run the full HTTP middleware chain
//   - Workers that need consistent time within a batch operation
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t.UTC())
}
