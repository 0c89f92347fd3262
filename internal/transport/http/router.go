// Package httptransport assembles the HTTP surface: probes, metrics, operator
// endpoints and the authenticated engine API behind one chi router.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fundops/internal/identity"
	"fundops/internal/lifecycle/handler"
	"fundops/internal/lifecycle/scheduler"
	"fundops/internal/platform/metrics"
	dErrors "fundops/pkg/domain-errors"
	"fundops/pkg/platform/httputil"
	"fundops/pkg/platform/middleware/admin"
	"fundops/pkg/platform/middleware/requesttime"
)

// Check is one readiness dependency.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Cycle runs one compliance cycle on demand.
type Cycle interface {
	RunOnce(ctx context.Context, now time.Time) (scheduler.CycleResult, bool, error)
}

// Flusher drains the audit outbox on demand.
type Flusher interface {
	Flush(ctx context.Context) (int, error)
}

type Config struct {
	Handler        *handler.Handler
	Resolver       identity.Resolver
	TrustedHeader  string
	RequestTimeout time.Duration
	AdminToken     string
	Gatherer       prometheus.Gatherer
	Checks         []Check
	// Cycle and Outbox back the /ops endpoints; either may be nil.
	Cycle  Cycle
	Outbox Flusher
}

func NewRouter(cfg Config, logger *slog.Logger, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger, m))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readiness(cfg.Checks, logger))
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	if cfg.AdminToken != "" {
		r.Route("/ops", func(r chi.Router) {
			r.Use(admin.RequireToken(cfg.AdminToken, logger))
			if cfg.Cycle != nil {
				r.Post("/compliance-cycle", runCycle(cfg.Cycle))
			}
			if cfg.Outbox != nil {
				r.Post("/outbox/flush", flushOutbox(cfg.Outbox))
			}
		})
	}

	r.Group(func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
		}
		r.Use(requesttime.Middleware)
		r.Use(identity.Middleware(cfg.Resolver, cfg.TrustedHeader, logger, m))
		cfg.Handler.Register(r)
	})
	return r
}

// requestLogger logs each request once it completes and records its
// duration under the matched route pattern.
func requestLogger(logger *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			m.ObserveHTTP(r.Method, route, status, start)

			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"route", route,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func readiness(checks []Check, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for _, c := range checks {
			if err := c.Probe(ctx); err != nil {
				logger.WarnContext(ctx, "readiness check failed", "check", c.Name, "error", err)
				results[c.Name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			results[c.Name] = "ok"
		}
		httputil.WriteJSON(w, status, results)
	}
}

func runCycle(c Cycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, ran, err := c.RunOnce(r.Context(), time.Now())
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		if !ran {
			httputil.WriteError(w, dErrors.NewWithReason(dErrors.CodeConflict, "cycle_in_progress",
				"another replica holds the compliance cycle"))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, res)
	}
}

func flushOutbox(f Flusher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := f.Flush(r.Context())
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]int{"published": n})
	}
}
