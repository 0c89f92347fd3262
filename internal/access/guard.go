// Package access decides whether an actor may act on a fund.
//
// Two independent checks are applied: the fund-scope check and the role check.
// Both must pass and neither implies the other. The result is a typed Decision
// that transports consume before any handler logic and that the engine
// re-derives for every operation.
package access

import (
	"log/slog"

	"fundops/internal/identity"
	"fundops/internal/platform/metrics"
	id "fundops/pkg/domain"
	dErrors "fundops/pkg/domain-errors"
)

// Denial reasons surfaced on forbidden errors and metrics.
const (
	ReasonFundScope = "fund_scope"
	ReasonRole      = "role"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed  bool
	Reason   string
	ActorID  string
	FundID   id.FundID
	Required identity.Roles
	// Bypassed is set when the role check was skipped by configuration.
	Bypassed bool
}

// Err returns nil for an allowed decision and a forbidden error otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonFundScope:
		return dErrors.NewWithReason(dErrors.CodeForbidden, ReasonFundScope, "actor is not permitted on this fund")
	default:
		return dErrors.NewWithReason(dErrors.CodeForbidden, ReasonRole, "actor lacks a required role")
	}
}

// Guard applies the fund-scope and role checks.
type Guard struct {
	bypassRoles bool
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

type Option func(*Guard)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) { g.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// WithRoleBypass disables role checks. The caller must only pass true after
// config.Validate accepted it for a non-production environment.
func WithRoleBypass(enabled bool) Option {
	return func(g *Guard) { g.bypassRoles = enabled }
}

func NewGuard(opts ...Option) *Guard {
	g := &Guard{logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	if g.bypassRoles {
		g.logger.Error("AUTHORIZATION ROLE CHECKS ARE BYPASSED; this must never run in production",
			"bypass_authorization", true,
		)
	}
	return g
}

// AllowFund reports whether fundID is within the actor's permitted set.
// ADMIN is unrestricted. The bypass flag never affects this check.
func (g *Guard) AllowFund(actor identity.Actor, fundID id.FundID) bool {
	if actor.IsAdmin() {
		return true
	}
	if fundID.IsNil() {
		return false
	}
	return actor.HasFund(fundID)
}

// AllowRoles reports whether the actor holds ADMIN or any required role.
func (g *Guard) AllowRoles(actor identity.Actor, required identity.Roles) bool {
	if g.bypassRoles {
		return true
	}
	if actor.IsAdmin() {
		return true
	}
	return actor.Roles.Intersects(required)
}

// Decide combines both checks for an operation on fundID.
func (g *Guard) Decide(actor identity.Actor, fundID id.FundID, required identity.Roles) Decision {
	d := Decision{ActorID: actor.ID, FundID: fundID, Required: required, Bypassed: g.bypassRoles}
	switch {
	case !g.AllowFund(actor, fundID):
		d.Reason = ReasonFundScope
	case !g.AllowRoles(actor, required):
		d.Reason = ReasonRole
	default:
		d.Allowed = true
	}
	if !d.Allowed {
		g.metrics.IncDenied(d.Reason)
	}
	return d
}

// DecideUnscoped applies only the role check, for operations that do not
// name a fund (fund creation and listing). Results of such operations are
// still narrowed to the actor's funds by the store.
func (g *Guard) DecideUnscoped(actor identity.Actor, required identity.Roles) Decision {
	d := Decision{ActorID: actor.ID, Required: required, Bypassed: g.bypassRoles, Allowed: true}
	if !g.AllowRoles(actor, required) {
		d.Allowed = false
		d.Reason = ReasonRole
		g.metrics.IncDenied(d.Reason)
	}
	return d
}
