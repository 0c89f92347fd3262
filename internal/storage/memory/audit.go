package memory

import (
	"context"

	"fundops/internal/audit"
	"fundops/internal/audit/outbox"
	id "fundops/pkg/domain"
)

// Append links and stores one audit event and queues its outbox row. It
// refuses to run outside a unit of work.
func (db *DB) Append(ctx context.Context, fundID id.FundID, link func(head audit.ChainHead) (*audit.Event, error)) (*audit.Event, error) {
	st, ok := txState(ctx)
	if !ok {
		return nil, audit.ErrNoTransaction
	}
	head, ok := st.heads[fundID]
	if !ok {
		head = audit.ChainHead{FundID: fundID, Hash: audit.GenesisHash}
	}
	ev, err := link(head)
	if err != nil {
		return nil, err
	}
	msg, err := outbox.FromEvent(st.outboxSeq+1, ev)
	if err != nil {
		return nil, err
	}
	st.events[fundID] = append(st.events[fundID], *ev)
	st.heads[fundID] = audit.ChainHead{FundID: fundID, Sequence: ev.Sequence, Hash: ev.Hash}
	st.outbox = append(st.outbox, msg)
	st.outboxSeq = msg.Seq
	return ev, nil
}

func (db *DB) List(ctx context.Context, fundID id.FundID, q audit.Query) ([]audit.Event, error) {
	var out []audit.Event
	err := db.read(ctx, func(st *state) error {
		for _, e := range st.events[fundID] {
			if !q.Matches(e) {
				continue
			}
			out = append(out, e)
			if q.Limit > 0 && len(out) == q.Limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// Claim hands out unpublished outbox rows in order. Rows claimed by another
// relay are skipped; rows whose publish fails are released.
func (db *DB) Claim(ctx context.Context, limit int, publish func(ctx context.Context, batch []outbox.Message) error) (int, error) {
	db.mu.Lock()
	var batch []outbox.Message
	for _, m := range db.committed.outbox {
		if len(batch) == limit {
			break
		}
		if db.published[m.Seq] || db.claimed[m.Seq] {
			continue
		}
		db.claimed[m.Seq] = true
		batch = append(batch, m)
	}
	db.mu.Unlock()
	if len(batch) == 0 {
		return 0, nil
	}

	err := publish(ctx, batch)

	db.mu.Lock()
	defer db.mu.Unlock()
	for _, m := range batch {
		delete(db.claimed, m.Seq)
		if err == nil {
			db.published[m.Seq] = true
		}
	}
	if err != nil {
		return 0, err
	}
	return len(batch), nil
}

// Pending counts outbox rows not yet published.
func (db *DB) Pending() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	n := 0
	for _, m := range db.committed.outbox {
		if !db.published[m.Seq] {
			n++
		}
	}
	return n
}
