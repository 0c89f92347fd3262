package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	Unauthenticated     prometheus.Counter
	AuthorizationDenied *prometheus.CounterVec
	Transitions         *prometheus.CounterVec
	AlertsCreated       *prometheus.CounterVec
	AuditRecorded       prometheus.Counter
	AuditFailures       prometheus.Counter
	OutboxPublished     prometheus.Counter
	OutboxFailures      prometheus.Counter
	OperationDuration   *prometheus.HistogramVec
	ScanDuration        prometheus.Histogram
	HTTPDuration        *prometheus.HistogramVec
}

// New creates and registers all metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Unauthenticated: f.NewCounter(prometheus.CounterOpts{
			Name: "fundops_unauthenticated_total",
			Help: "Requests rejected because no identity could be established",
		}),
		AuthorizationDenied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fundops_authorization_denied_total",
			Help: "Access guard denials by reason",
		}, []string{"reason"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fundops_lifecycle_transitions_total",
			Help: "Committed lifecycle transitions by entity and target state",
		}, []string{"entity", "to"}),
		AlertsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fundops_alerts_created_total",
			Help: "Overdue alerts generated by severity",
		}, []string{"severity"}),
		AuditRecorded: f.NewCounter(prometheus.CounterOpts{
			Name: "fundops_audit_events_recorded_total",
			Help: "Audit events appended to the ledger",
		}),
		AuditFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "fundops_audit_write_failures_total",
			Help: "Audit writes that failed and rolled back their unit of work",
		}),
		OutboxPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "fundops_audit_outbox_published_total",
			Help: "Audit outbox rows relayed to Kafka",
		}),
		OutboxFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "fundops_audit_outbox_failures_total",
			Help: "Audit outbox relay batches that failed",
		}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fundops_operation_duration_seconds",
			Help:    "Duration of engine operations",
			Buckets: durationBuckets,
		}, []string{"operation"}),
		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fundops_alert_scan_duration_seconds",
			Help:    "Duration of overdue obligation scans",
			Buckets: durationBuckets,
		}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fundops_http_request_duration_seconds",
			Help:    "HTTP request duration by route pattern and status",
			Buckets: durationBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// NewUnregistered returns metrics bound to a throwaway registry, for tests.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) IncUnauthenticated() {
	if m != nil {
		m.Unauthenticated.Inc()
	}
}

func (m *Metrics) IncDenied(reason string) {
	if m != nil {
		m.AuthorizationDenied.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncTransition(entity, to string) {
	if m != nil {
		m.Transitions.WithLabelValues(entity, to).Inc()
	}
}

func (m *Metrics) IncAlertCreated(severity string) {
	if m != nil {
		m.AlertsCreated.WithLabelValues(severity).Inc()
	}
}

func (m *Metrics) IncAuditRecorded() {
	if m != nil {
		m.AuditRecorded.Inc()
	}
}

func (m *Metrics) IncAuditFailure() {
	if m != nil {
		m.AuditFailures.Inc()
	}
}

func (m *Metrics) AddOutboxPublished(n int) {
	if m != nil {
		m.OutboxPublished.Add(float64(n))
	}
}

func (m *Metrics) IncOutboxFailure() {
	if m != nil {
		m.OutboxFailures.Inc()
	}
}

// ObserveOperation records the duration of op. Call with time.Now() at the start.
func (m *Metrics) ObserveOperation(op string, start time.Time) {
	if m != nil {
		m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// ObserveScan records the duration of an alert scan.
func (m *Metrics) ObserveScan(start time.Time) {
	if m != nil {
		m.ScanDuration.Observe(time.Since(start).Seconds())
	}
}

// ObserveHTTP records one served request. route is the matched pattern, not
// the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, start time.Time) {
	if m != nil {
		m.HTTPDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	}
}
