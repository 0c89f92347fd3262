// Package scheduler runs the periodic compliance cycle: recurring obligation
// generation followed by the overdue scan, for every fund.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"fundops/internal/identity"
	"fundops/internal/lifecycle/models"
	"fundops/internal/lifecycle/service"
	"fundops/internal/platform/metrics"
	id "fundops/pkg/domain"
	"fundops/pkg/requestcontext"
)

const leaseKey = "fundops:scheduler:compliance-cycle"

// Engine is the slice of the lifecycle service the cycle drives.
type Engine interface {
	ListFunds(ctx context.Context, caller identity.Caller) ([]*models.Fund, error)
	GenerateRecurringObligations(ctx context.Context, caller identity.Caller, fundID id.FundID, asOf models.Date) ([]*models.Obligation, error)
	ScanOverdueObligations(ctx context.Context, caller identity.Caller, fundID id.FundID, asOf models.Date) (*service.ScanResult, error)
}

// CycleResult summarizes one run across all funds.
type CycleResult struct {
	AsOf               models.Date `json:"as_of"`
	Funds              int         `json:"funds"`
	ObligationsCreated int         `json:"obligations_created"`
	AlertsCreated      int         `json:"alerts_created"`
	Failed             []id.FundID `json:"failed,omitempty"`
}

type Scheduler struct {
	engine   Engine
	lease    Lease
	interval time.Duration
	leaseTTL time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	caller   identity.Caller
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLeaseTTL bounds how long a crashed replica can block the cycle.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(s *Scheduler) { s.leaseTTL = ttl }
}

func New(engine Engine, lease Lease, interval time.Duration, opts ...Option) (*Scheduler, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if lease == nil {
		return nil, errors.New("lease is required")
	}
	if interval <= 0 {
		return nil, errors.New("scan interval must be positive")
	}
	s := &Scheduler{
		engine:   engine,
		lease:    lease,
		interval: interval,
		leaseTTL: interval,
		logger:   slog.Default(),
		caller:   identity.Caller{Actor: identity.SystemActor("scheduler")},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start runs a cycle every interval until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, _, err := s.RunOnce(ctx, time.Now()); err != nil {
				s.logger.ErrorContext(ctx, "compliance cycle failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce runs one cycle as of now. ran is false when another holder owns
// the lease. A failing fund does not stop the others; its ID is reported in
// the result.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) (res CycleResult, ran bool, err error) {
	acquired, err := s.lease.Acquire(ctx, leaseKey, s.leaseTTL)
	if err != nil || !acquired {
		return CycleResult{}, false, err
	}
	defer func() {
		if relErr := s.lease.Release(context.WithoutCancel(ctx), leaseKey); relErr != nil {
			s.logger.WarnContext(ctx, "lease release failed", "error", relErr)
		}
	}()

	start := time.Now()
	defer s.metrics.ObserveScan(start)

	ctx = requestcontext.WithTime(ctx, now)
	res.AsOf = models.DateOf(now)
	funds, err := s.engine.ListFunds(ctx, s.caller)
	if err != nil {
		return res, true, err
	}
	for _, fund := range funds {
		if ctx.Err() != nil {
			return res, true, ctx.Err()
		}
		res.Funds++
		created, alerts, err := s.runFund(ctx, fund.ID, res.AsOf)
		res.ObligationsCreated += created
		res.AlertsCreated += alerts
		if err != nil {
			res.Failed = append(res.Failed, fund.ID)
			s.logger.ErrorContext(ctx, "compliance cycle failed for fund",
				"fund_id", fund.ID.String(),
				"error", err,
			)
		}
	}
	s.logger.InfoContext(ctx, "compliance cycle complete",
		"as_of", res.AsOf.String(),
		"funds", res.Funds,
		"obligations_created", res.ObligationsCreated,
		"alerts_created", res.AlertsCreated,
		"failed", len(res.Failed),
	)
	return res, true, nil
}

func (s *Scheduler) runFund(ctx context.Context, fundID id.FundID, asOf models.Date) (created, alerts int, err error) {
	obligations, err := s.engine.GenerateRecurringObligations(ctx, s.caller, fundID, asOf)
	if err != nil {
		return 0, 0, err
	}
	scan, err := s.engine.ScanOverdueObligations(ctx, s.caller, fundID, asOf)
	if err != nil {
		return len(obligations), 0, err
	}
	return len(obligations), len(scan.AlertsCreated), nil
}
