// Package requesttime pins one "now" per HTTP request so every timestamp a
// unit of work writes, audit rows included, agrees.
package requesttime

import (
	"net/http"
	"time"

	"fundops/pkg/requestcontext"
)

// Middleware pins the wall clock.
func Middleware(next http.Handler) http.Handler {
	return New(time.Now)(next)
}

// New pins whatever clock returns when the request arrives. Tests pass a
// fixed clock to get deterministic due dates and audit timestamps.
func New(clock func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestcontext.WithTime(r.Context(), clock())))
		})
	}
}
