package identity

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"fundops/internal/platform/metrics"
	"fundops/pkg/platform/httputil"
)

type contextKeyActor struct{}

// WithActor stores the resolved actor for the lifetime of one request.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, contextKeyActor{}, a)
}

// ActorFrom returns the request actor, if one was resolved.
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(contextKeyActor{}).(Actor)
	return a, ok
}

// CallerFrom builds the explicit caller handed to the engine.
func CallerFrom(r *http.Request) (Caller, bool) {
	a, ok := ActorFrom(r.Context())
	if !ok {
		return Caller{}, false
	}
	return Caller{Actor: a, RequestID: middleware.GetReqID(r.Context())}, true
}

// Middleware authenticates every request. trustedHeader is empty in
// production, so the header is never even read there.
func Middleware(resolver Resolver, trustedHeader string, logger *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			creds := Credentials{}
			if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				creds.BearerToken = strings.TrimSpace(token)
			}
			if trustedHeader != "" {
				creds.TrustedPayload = r.Header.Get(trustedHeader)
			}

			actor, err := resolver.Resolve(ctx, creds)
			if err != nil {
				m.IncUnauthenticated()
				logger.WarnContext(ctx, "unauthenticated request",
					"error", err,
					"request_id", middleware.GetReqID(ctx),
				)
				httputil.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(ctx, actor)))
		})
	}
}
