// Package service is the lifecycle engine: every state-changing verb from
// deal intake to report publication, each authorized against the caller's
// fund scope and role, applied atomically and audited in the same unit of
// work.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fundops/internal/access"
	"fundops/internal/audit"
	"fundops/internal/identity"
	"fundops/internal/lifecycle/models"
	"fundops/internal/platform/metrics"
	"fundops/internal/scope"
	id "fundops/pkg/domain"
	dErrors "fundops/pkg/domain-errors"
	"fundops/pkg/platform/sentinel"
	"fundops/pkg/requestcontext"
)

// Service implements the lifecycle verbs.
type Service struct {
	tx       StoreTx
	stores   Stores
	audit    AuditRecorder
	guard    *access.Guard
	blobs    BlobStore
	search   SearchProvider
	sections []SectionComputer
	policy   scope.Policy
	severity models.SeverityPolicy
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithBlobStore(b BlobStore) Option {
	return func(s *Service) { s.blobs = b }
}

// WithSearchProvider replaces the store-backed evidence search.
func WithSearchProvider(p SearchProvider) Option {
	return func(s *Service) { s.search = p }
}

// WithSectionComputers sets the computers run by GenerateReportPack.
func WithSectionComputers(cs ...SectionComputer) Option {
	return func(s *Service) { s.sections = cs }
}

func WithScopePolicy(p scope.Policy) Option {
	return func(s *Service) { s.policy = p }
}

func WithSeverityPolicy(p models.SeverityPolicy) Option {
	return func(s *Service) { s.severity = p }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func New(tx StoreTx, stores Stores, recorder AuditRecorder, guard *access.Guard, opts ...Option) (*Service, error) {
	if tx == nil {
		return nil, errors.New("transaction runner is required")
	}
	if stores.Funds == nil || stores.Deals == nil || stores.Assets == nil || stores.Obligations == nil ||
		stores.Alerts == nil || stores.Actions == nil || stores.Evidence == nil || stores.Reports == nil {
		return nil, errors.New("all lifecycle stores are required")
	}
	if recorder == nil {
		return nil, errors.New("audit recorder is required")
	}
	if guard == nil {
		return nil, errors.New("access guard is required")
	}
	s := &Service{
		tx:       tx,
		stores:   stores,
		audit:    recorder,
		guard:    guard,
		policy:   scope.DefaultPolicy(),
		severity: models.DefaultSeverityPolicy(),
		logger:   slog.Default(),
		tracer:   otel.Tracer("fundops/lifecycle"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.search == nil {
		s.search = NewStoreSearch(stores.Evidence)
	}
	return s, nil
}

// begin opens the span for op and returns the function that closes it.
// Callers defer end(&err) with a named error result.
func (s *Service) begin(ctx context.Context, op Operation, fundID id.FundID) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "lifecycle."+string(op),
		trace.WithAttributes(attribute.String("fund_id", fundID.String())))
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, string(dErrors.CodeOf(*errp)))
		}
		span.End()
		s.metrics.ObserveOperation(string(op), start)
	}
}

// authorize checks fund scope then role for op. It runs before any store
// access so a denied caller learns nothing about the fund's contents.
func (s *Service) authorize(ctx context.Context, caller identity.Caller, fundID id.FundID, op Operation) error {
	d := s.guard.Decide(caller.Actor, fundID, RolesFor(op))
	if !d.Allowed {
		s.logger.WarnContext(ctx, "operation denied",
			"operation", string(op),
			"actor_id", caller.Actor.ID,
			"fund_id", fundID.String(),
			"reason", d.Reason,
			"request_id", caller.RequestID,
		)
		return d.Err()
	}
	return nil
}

func (s *Service) authorizeUnscoped(ctx context.Context, caller identity.Caller, op Operation) error {
	d := s.guard.DecideUnscoped(caller.Actor, RolesFor(op))
	if !d.Allowed {
		s.logger.WarnContext(ctx, "operation denied",
			"operation", string(op),
			"actor_id", caller.Actor.ID,
			"reason", d.Reason,
			"request_id", caller.RequestID,
		)
		return d.Err()
	}
	return nil
}

// requireFund turns an unknown fund into NotFound once scope has passed.
func (s *Service) requireFund(ctx context.Context, fundID id.FundID) (*models.Fund, error) {
	f, err := s.stores.Funds.GetFund(ctx, fundID)
	if err != nil {
		return nil, storeErr(err, "fund")
	}
	return f, nil
}

// change describes one audited mutation.
type change struct {
	fundID     id.FundID
	access     models.AccessLevel
	action     audit.Action
	entityType string
	entityID   string
	before     any
	after      any
}

// record appends the audit event for c inside the caller's unit of work.
func (s *Service) record(ctx context.Context, caller identity.Caller, c change) error {
	level := c.access
	if level == "" {
		level = models.AccessStandard
	}
	_, err := s.audit.Record(ctx, audit.Entry{
		FundID:      c.fundID,
		AccessLevel: string(level),
		ActorID:     caller.Actor.ID,
		ActorRoles:  caller.Actor.Roles.Strings(),
		Action:      c.action,
		EntityType:  c.entityType,
		EntityID:    c.entityID,
		Before:      c.before,
		After:       c.after,
		RequestID:   caller.RequestID,
	})
	return err
}

func now(ctx context.Context) time.Time {
	return requestcontext.Now(ctx)
}

func today(ctx context.Context) models.Date {
	return models.DateOf(requestcontext.Now(ctx))
}

// storeErr translates store sentinels into domain errors. Domain errors
// raised by validate callbacks pass through unchanged.
func storeErr(err error, entity string) error {
	if err == nil {
		return nil
	}
	if _, ok := dErrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, entity+" not found")
	case isConflict(err):
		return dErrors.Wrap(err, dErrors.CodeConflict, entity+" conflicts with a concurrent change")
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "operation timed out")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist "+entity)
	}
}
