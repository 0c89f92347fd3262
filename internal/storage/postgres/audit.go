package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"fundops/internal/audit"
	"fundops/internal/audit/outbox"
	id "fundops/pkg/domain"
	txcontext "fundops/pkg/platform/tx"
)

const auditColumns = `id, fund_id, sequence, category, access_level, actor_id, actor_roles, action,
	entity_type, entity_id, before, after, changed_fields, request_id, prev_hash, hash, occurred_at`

func scanAuditEvent(r rowScanner) (*audit.Event, error) {
	var e audit.Event
	var before, after []byte
	var roles, changed pq.StringArray
	err := r.Scan((*uuid.UUID)(&e.ID), (*uuid.UUID)(&e.FundID), &e.Sequence, &e.Category, &e.AccessLevel,
		&e.ActorID, &roles, &e.Action, &e.EntityType, &e.EntityID, &before, &after, &changed, &e.RequestID,
		&e.PrevHash, &e.Hash, &e.OccurredAt)
	if err != nil {
		return nil, err
	}
	e.ActorRoles = []string(roles)
	e.ChangedFields = []string(changed)
	if len(before) > 0 {
		e.Before = json.RawMessage(before)
	}
	if len(after) > 0 {
		e.After = json.RawMessage(after)
	}
	e.OccurredAt = e.OccurredAt.UTC()
	return &e, nil
}

func rawOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// Append serializes writers per fund on the chain head row. The head is
// created on first use; concurrent first appends meet at ON CONFLICT and
// then queue on the row lock.
func (d *DB) Append(ctx context.Context, fundID id.FundID, link func(head audit.ChainHead) (*audit.Event, error)) (*audit.Event, error) {
	tx, ok := txcontext.From(ctx)
	if !ok {
		return nil, audit.ErrNoTransaction
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO audit_chain_heads (fund_id, sequence, hash)
		VALUES ($1, 0, $2) ON CONFLICT (fund_id) DO NOTHING`, uuid.UUID(fundID), audit.GenesisHash); err != nil {
		return nil, mapErr(err, "init chain head")
	}
	head := audit.ChainHead{FundID: fundID}
	if err := tx.QueryRowContext(ctx, `SELECT sequence, hash FROM audit_chain_heads WHERE fund_id = $1 FOR UPDATE`,
		uuid.UUID(fundID)).Scan(&head.Sequence, &head.Hash); err != nil {
		return nil, mapErr(err, "lock chain head")
	}

	ev, err := link(head)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO audit_events (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		uuid.UUID(ev.ID), uuid.UUID(ev.FundID), ev.Sequence, ev.Category, ev.AccessLevel, ev.ActorID,
		pq.Array(nonNil(ev.ActorRoles)), ev.Action, ev.EntityType, ev.EntityID, rawOrNull(ev.Before),
		rawOrNull(ev.After), pq.Array(nonNil(ev.ChangedFields)), ev.RequestID, ev.PrevHash, ev.Hash,
		ev.OccurredAt); err != nil {
		return nil, mapErr(err, "insert audit event")
	}
	if _, err := tx.ExecContext(ctx, `UPDATE audit_chain_heads SET sequence = $2, hash = $3 WHERE fund_id = $1`,
		uuid.UUID(fundID), ev.Sequence, ev.Hash); err != nil {
		return nil, mapErr(err, "advance chain head")
	}

	msg, err := outbox.FromEvent(0, ev)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO audit_outbox (key, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4)`, msg.Key, msg.EventType, string(msg.Payload), msg.CreatedAt); err != nil {
		return nil, mapErr(err, "insert outbox message")
	}
	return ev, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (d *DB) List(ctx context.Context, fundID id.FundID, q audit.Query) ([]audit.Event, error) {
	c := newConditions()
	c.add("fund_id = $%d", uuid.UUID(fundID))
	if q.EntityType != "" {
		c.add("entity_type = $%d", q.EntityType)
	}
	if q.EntityID != "" {
		c.add("entity_id = $%d", q.EntityID)
	}
	if q.Action != "" {
		c.add("action = $%d", string(q.Action))
	}
	if q.AfterSequence > 0 {
		c.add("sequence > $%d", q.AfterSequence)
	}
	query := `SELECT ` + auditColumns + ` FROM audit_events` + c.where() + ` ORDER BY sequence`
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	rows, err := d.q(ctx).QueryContext(ctx, query, c.args...)
	if err != nil {
		return nil, mapErr(err, "list audit events")
	}
	defer rows.Close()
	var out []audit.Event
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, mapErr(err, "list audit events")
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Claim locks up to limit unpublished rows with SKIP LOCKED, so concurrent
// relays take disjoint batches. The rows stay locked while publish runs and
// are marked published in the same transaction.
func (d *DB) Claim(ctx context.Context, limit int, publish func(ctx context.Context, batch []outbox.Message) error) (int, error) {
	var n int
	err := d.RunInTx(ctx, func(ctx context.Context) error {
		q := d.q(ctx)
		rows, err := q.QueryContext(ctx, `SELECT seq, key, event_type, payload, created_at FROM audit_outbox
			WHERE published_at IS NULL ORDER BY seq LIMIT $1 FOR UPDATE SKIP LOCKED`, limit)
		if err != nil {
			return mapErr(err, "claim outbox")
		}
		batch, err := collect(rows, func(r rowScanner) (*outbox.Message, error) {
			var m outbox.Message
			if err := r.Scan(&m.Seq, &m.Key, &m.EventType, &m.Payload, &m.CreatedAt); err != nil {
				return nil, err
			}
			return &m, nil
		})
		if err != nil {
			return mapErr(err, "claim outbox")
		}
		if len(batch) == 0 {
			return nil
		}

		msgs := make([]outbox.Message, len(batch))
		seqs := make([]int64, len(batch))
		for i, m := range batch {
			msgs[i] = *m
			seqs[i] = m.Seq
		}
		if err := publish(ctx, msgs); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `UPDATE audit_outbox SET published_at = now() WHERE seq = ANY($1)`,
			pq.Array(seqs)); err != nil {
			return mapErr(err, "mark outbox published")
		}
		n = len(msgs)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Pending counts outbox rows not yet published.
func (d *DB) Pending(ctx context.Context) (int, error) {
	var n int
	if err := d.q(ctx).QueryRowContext(ctx, `SELECT count(*) FROM audit_outbox WHERE published_at IS NULL`).Scan(&n); err != nil {
		return 0, mapErr(err, "count outbox")
	}
	return n, nil
}
