package audit

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"fundops/internal/platform/metrics"
	id "fundops/pkg/domain"
	dErrors "fundops/pkg/domain-errors"
	"fundops/pkg/requestcontext"
)

// ErrNoTransaction is returned by stores asked to append outside a unit of
// work. An audit row is only ever written alongside the change it documents.
var ErrNoTransaction = errors.New("audit append requires an open transaction")

// Store persists events. Append must run inside the caller's transaction: it
// locks the fund's chain head, lets link stamp the event, inserts it and
// advances the head.
type Store interface {
	Append(ctx context.Context, fundID id.FundID, link func(head ChainHead) (*Event, error)) (*Event, error)
	List(ctx context.Context, fundID id.FundID, q Query) ([]Event, error)
}

// Ledger is the audit writer. Record is fail-closed: when it returns an error
// the caller's transaction must roll back.
type Ledger struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func validateEntry(e Entry) error {
	switch {
	case e.FundID.IsNil():
		return errors.New("audit entry requires FundID")
	case e.ActorID == "":
		return errors.New("audit entry requires ActorID")
	case e.Action == "":
		return errors.New("audit entry requires Action")
	case e.EntityType == "" || e.EntityID == "":
		return errors.New("audit entry requires EntityType and EntityID")
	}
	return nil
}

// Record appends one event for entry within the transaction carried by ctx.
func (l *Ledger) Record(ctx context.Context, entry Entry) (*Event, error) {
	ev, err := l.record(ctx, entry)
	if err != nil {
		l.metrics.IncAuditFailure()
		l.logger.ErrorContext(ctx, "CRITICAL: audit record failed",
			"action", string(entry.Action),
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID,
			"fund_id", entry.FundID.String(),
			"request_id", entry.RequestID,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "audit persistence failed")
	}
	l.metrics.IncAuditRecorded()
	return ev, nil
}

func (l *Ledger) record(ctx context.Context, entry Entry) (*Event, error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}
	before, err := Snapshot(entry.Before)
	if err != nil {
		return nil, err
	}
	after, err := Snapshot(entry.After)
	if err != nil {
		return nil, err
	}
	changed, err := ChangedFields(before, after)
	if err != nil {
		return nil, err
	}

	roles := slices.Clone(entry.ActorRoles)
	slices.Sort(roles)
	ev := &Event{
		ID:            id.NewAuditEventID(),
		FundID:        entry.FundID,
		Category:      entry.Action.Category(),
		AccessLevel:   entry.AccessLevel,
		ActorID:       entry.ActorID,
		ActorRoles:    roles,
		Action:        entry.Action,
		EntityType:    entry.EntityType,
		EntityID:      entry.EntityID,
		Before:        before,
		After:         after,
		ChangedFields: changed,
		RequestID:     entry.RequestID,
		// Storage keeps microseconds; hashing a finer value would not verify.
		OccurredAt: requestcontext.Now(ctx).UTC().Truncate(time.Microsecond),
	}
	return l.store.Append(ctx, entry.FundID, func(head ChainHead) (*Event, error) {
		if err := Link(head, ev); err != nil {
			return nil, err
		}
		return ev, nil
	})
}

// List returns a fund's events in sequence order.
func (l *Ledger) List(ctx context.Context, fundID id.FundID, q Query) ([]Event, error) {
	events, err := l.store.List(ctx, fundID, q)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit events")
	}
	return events, nil
}

// Verify walks the fund's full chain.
func (l *Ledger) Verify(ctx context.Context, fundID id.FundID) (Verification, error) {
	events, err := l.store.List(ctx, fundID, Query{})
	if err != nil {
		return Verification{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load audit chain")
	}
	v := VerifyChain(events)
	if !v.Valid {
		l.logger.ErrorContext(ctx, "audit chain verification failed",
			"fund_id", fundID.String(),
			"broken_at", v.BrokenAt,
			"problem", v.Problem,
		)
	}
	return v, nil
}
