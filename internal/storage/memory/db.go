// Package memory is the in-process backend: every lifecycle store, the audit
// chain and the audit outbox over one copy-on-write state.
//
// A unit of work takes the write lock, works on a private copy of the state
// and swaps it in on success, so a failed unit of work leaves nothing behind.
// Stored values are never modified in place.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"fundops/internal/audit"
	"fundops/internal/audit/outbox"
	"fundops/internal/lifecycle/models"
	id "fundops/pkg/domain"
	dErrors "fundops/pkg/domain-errors"
)

const defaultTxTimeout = 5 * time.Second

type sectionKey struct {
	pack id.ReportPackID
	key  models.SectionKey
}

type state struct {
	funds       map[id.FundID]models.Fund
	deals       map[id.DealID]models.Deal
	assets      map[id.AssetID]models.Asset
	investments map[id.AssetID]models.FundInvestment
	obligations map[id.ObligationID]models.Obligation
	alerts      map[id.AlertID]models.Alert
	actions     map[id.ActionID]models.Action
	evidence    map[id.EvidenceID]models.Evidence
	packs       map[id.ReportPackID]models.ReportPack
	sections    map[sectionKey]models.Section
	events      map[id.FundID][]audit.Event
	heads       map[id.FundID]audit.ChainHead
	outbox      []outbox.Message
	outboxSeq   int64
}

func newState() *state {
	return &state{
		funds:       map[id.FundID]models.Fund{},
		deals:       map[id.DealID]models.Deal{},
		assets:      map[id.AssetID]models.Asset{},
		investments: map[id.AssetID]models.FundInvestment{},
		obligations: map[id.ObligationID]models.Obligation{},
		alerts:      map[id.AlertID]models.Alert{},
		actions:     map[id.ActionID]models.Action{},
		evidence:    map[id.EvidenceID]models.Evidence{},
		packs:       map[id.ReportPackID]models.ReportPack{},
		sections:    map[sectionKey]models.Section{},
		events:      map[id.FundID][]audit.Event{},
		heads:       map[id.FundID]audit.ChainHead{},
	}
}

func (s *state) clone() *state {
	events := make(map[id.FundID][]audit.Event, len(s.events))
	for k, v := range s.events {
		events[k] = slices.Clip(v)
	}
	return &state{
		funds:       maps.Clone(s.funds),
		deals:       maps.Clone(s.deals),
		assets:      maps.Clone(s.assets),
		investments: maps.Clone(s.investments),
		obligations: maps.Clone(s.obligations),
		alerts:      maps.Clone(s.alerts),
		actions:     maps.Clone(s.actions),
		evidence:    maps.Clone(s.evidence),
		packs:       maps.Clone(s.packs),
		sections:    maps.Clone(s.sections),
		events:      events,
		heads:       maps.Clone(s.heads),
		outbox:      slices.Clip(s.outbox),
		outboxSeq:   s.outboxSeq,
	}
}

// assetInFund resolves subtype ownership through the owning asset.
func (s *state) assetInFund(fundID id.FundID, assetID id.AssetID) bool {
	a, ok := s.assets[assetID]
	return ok && a.FundID == fundID
}

// DB is the in-memory backend.
type DB struct {
	mu        sync.RWMutex
	committed *state
	timeout   time.Duration

	// Relay bookkeeping lives outside the transactional state.
	claimed   map[int64]bool
	published map[int64]bool
}

type Option func(*DB)

// WithTxTimeout bounds units of work started without a deadline.
func WithTxTimeout(d time.Duration) Option {
	return func(db *DB) { db.timeout = d }
}

func New(opts ...Option) *DB {
	db := &DB{
		committed: newState(),
		timeout:   defaultTxTimeout,
		claimed:   map[int64]bool{},
		published: map[int64]bool{},
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

type txKey struct{}

func txState(ctx context.Context) (*state, bool) {
	st, ok := ctx.Value(txKey{}).(*state)
	return st, ok
}

// RunInTx runs fn as one unit of work. A nested call joins the outer unit.
func (db *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txState(ctx); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && db.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, db.timeout)
		defer cancel()
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	work := db.committed.clone()
	if err := fn(context.WithValue(ctx, txKey{}, work)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted before commit")
	}
	db.committed = work
	return nil
}

// read runs fn against the unit of work in ctx, or the committed state.
func (db *DB) read(ctx context.Context, fn func(st *state) error) error {
	if st, ok := txState(ctx); ok {
		return fn(st)
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	return fn(db.committed)
}

// write runs fn in the unit of work in ctx, or in a unit of its own.
func (db *DB) write(ctx context.Context, fn func(st *state) error) error {
	return db.RunInTx(ctx, func(ctx context.Context) error {
		st, _ := txState(ctx)
		return fn(st)
	})
}

// execute loads key, checks ownership, validates, mutates and stores the
// result. The write lock held by the unit of work serializes it.
func execute[K comparable, V any](ctx context.Context, db *DB, table func(*state) map[K]V, key K,
	owned func(*state, V) bool, validate func(*V) error, mutate func(*V)) (*V, error) {
	var out *V
	err := db.write(ctx, func(st *state) error {
		m := table(st)
		cur, ok := m[key]
		if !ok || !owned(st, cur) {
			return errNotFound
		}
		if err := validate(&cur); err != nil {
			return err
		}
		mutate(&cur)
		m[key] = cur
		res := cur
		out = &res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func ptr[V any](v V) *V { return &v }
