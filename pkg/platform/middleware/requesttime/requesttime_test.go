package requesttime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fundops/pkg/requestcontext"
)

func TestMiddleware_PinsRequestTime(t *testing.T) {
	var first, second time.Time
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		first = requestcontext.Now(r.Context())
		time.Sleep(2 * time.Millisecond)
		second = requestcontext.Now(r.Context())
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.False(t, first.IsZero())
	assert.Equal(t, first, second, "time must be stable within one request")
	assert.Equal(t, time.UTC, first.Location())
}

func TestNew_UsesInjectedClock(t *testing.T) {
	fixed := time.Date(2025, 3, 31, 23, 30, 0, 0, time.FixedZone("CET", 3600))
	var got time.Time
	h := New(func() time.Time { return fixed })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = requestcontext.Now(r.Context())
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, fixed.Equal(got))
	assert.Equal(t, time.UTC, got.Location(), "stored in UTC")
}
