package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"fundops/internal/lifecycle/models"
	id "fundops/pkg/domain"
	"fundops/pkg/platform/sentinel"
	txcontext "fundops/pkg/platform/tx"
)

// conditions accumulates AND-ed predicates with positional arguments. Each
// clause carries one %d verb for its argument's position.
type conditions struct {
	clauses []string
	args    []any
}

func newConditions(args ...any) *conditions {
	return &conditions{args: args}
}

func (c *conditions) add(clause string, arg any) {
	c.args = append(c.args, arg)
	c.clauses = append(c.clauses, fmt.Sprintf(clause, len(c.args)))
}

func (c *conditions) where() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

const obligationColumns = `o.id, o.asset_id, o.type, o.status, o.period_start, o.period_end, o.due_date,
	o.waiver, o.satisfied_at, o.created_at, o.updated_at`

func scanObligation(r rowScanner) (*models.Obligation, error) {
	var o models.Obligation
	var waiver []byte
	err := r.Scan((*uuid.UUID)(&o.ID), (*uuid.UUID)(&o.AssetID), &o.Type, &o.Status, &o.PeriodStart,
		&o.PeriodEnd, &o.DueDate, &waiver, &o.SatisfiedAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(waiver) > 0 {
		o.Waiver = &models.Waiver{}
		if err := json.Unmarshal(waiver, o.Waiver); err != nil {
			return nil, fmt.Errorf("decode waiver: %w", err)
		}
	}
	return &o, nil
}

func waiverJSON(w *models.Waiver) (any, error) {
	if w == nil {
		return nil, nil
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode waiver: %w", err)
	}
	return string(b), nil
}

// InsertObligationIfAbsent leans on the (asset, type, period start) unique key.
func (d *DB) InsertObligationIfAbsent(ctx context.Context, fundID id.FundID, o *models.Obligation) (bool, error) {
	var created bool
	err := d.RunInTx(ctx, func(ctx context.Context) error {
		if err := d.requireAsset(ctx, fundID, o.AssetID); err != nil {
			return err
		}
		waiver, err := waiverJSON(o.Waiver)
		if err != nil {
			return err
		}
		res, err := d.q(ctx).ExecContext(ctx, `INSERT INTO obligations (id, asset_id, type, status,
				period_start, period_end, due_date, waiver, satisfied_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (asset_id, type, period_start) DO NOTHING`,
			uuid.UUID(o.ID), uuid.UUID(o.AssetID), o.Type, o.Status, o.PeriodStart, o.PeriodEnd, o.DueDate,
			waiver, o.SatisfiedAt, o.CreatedAt, o.UpdatedAt)
		if err != nil {
			return mapErr(err, "insert obligation")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return mapErr(err, "insert obligation")
		}
		created = n == 1
		return nil
	})
	return created, err
}

func (d *DB) GetObligation(ctx context.Context, fundID id.FundID, obligationID id.ObligationID) (*models.Obligation, error) {
	o, err := scanObligation(d.q(ctx).QueryRowContext(ctx,
		`SELECT `+obligationColumns+` FROM obligations o `+inFund("o")+` WHERE o.id = $2`,
		uuid.UUID(fundID), uuid.UUID(obligationID)))
	if err != nil {
		return nil, mapErr(err, "get obligation")
	}
	return o, nil
}

func (d *DB) ListObligations(ctx context.Context, fundID id.FundID, filter models.ObligationFilter) ([]*models.Obligation, error) {
	c := newConditions(uuid.UUID(fundID))
	if filter.AssetID != nil {
		c.add("o.asset_id = $%d", uuid.UUID(*filter.AssetID))
	}
	if filter.Type != "" {
		c.add("o.type = $%d", string(filter.Type))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		c.add("o.status = ANY($%d)", pq.Array(statuses))
	}
	if !filter.DueBefore.IsZero() {
		c.add("o.due_date < $%d", filter.DueBefore)
	}
	rows, err := d.q(ctx).QueryContext(ctx, `SELECT `+obligationColumns+` FROM obligations o `+inFund("o")+
		c.where()+` ORDER BY o.due_date, o.id::text`, c.args...)
	if err != nil {
		return nil, mapErr(err, "list obligations")
	}
	return collect(rows, scanObligation)
}

func (d *DB) ExecuteObligation(ctx context.Context, fundID id.FundID, obligationID id.ObligationID,
	validate func(*models.Obligation) error, mutate func(*models.Obligation)) (*models.Obligation, error) {
	return execute(ctx, d, "execute obligation",
		func(ctx context.Context, q txcontext.Querier) (*models.Obligation, error) {
			return scanObligation(q.QueryRowContext(ctx, `SELECT `+obligationColumns+` FROM obligations o `+
				inFund("o")+` WHERE o.id = $2 FOR UPDATE OF o`, uuid.UUID(fundID), uuid.UUID(obligationID)))
		},
		validate, mutate,
		func(ctx context.Context, q txcontext.Querier, o *models.Obligation) error {
			waiver, err := waiverJSON(o.Waiver)
			if err != nil {
				return err
			}
			_, err = q.ExecContext(ctx, `UPDATE obligations SET status = $2, waiver = $3, satisfied_at = $4,
				updated_at = $5 WHERE id = $1`,
				uuid.UUID(o.ID), o.Status, waiver, o.SatisfiedAt, o.UpdatedAt)
			return err
		})
}

const alertColumns = `al.id, al.asset_id, al.obligation_id, al.type, al.severity, al.status, al.days_overdue,
	al.message, al.created_at, al.resolved_at`

func scanAlert(r rowScanner) (*models.Alert, error) {
	var a models.Alert
	var obligationID uuid.NullUUID
	err := r.Scan((*uuid.UUID)(&a.ID), (*uuid.UUID)(&a.AssetID), &obligationID, &a.Type, &a.Severity,
		&a.Status, &a.DaysOverdue, &a.Message, &a.CreatedAt, &a.ResolvedAt)
	if err != nil {
		return nil, err
	}
	a.ObligationID = fromNullID[id.ObligationID](obligationID)
	return &a, nil
}

// InsertAlert relies on the partial unique index over OPEN alerts.
func (d *DB) InsertAlert(ctx context.Context, fundID id.FundID, alert *models.Alert) error {
	return d.RunInTx(ctx, func(ctx context.Context) error {
		if err := d.requireAsset(ctx, fundID, alert.AssetID); err != nil {
			return err
		}
		_, err := d.q(ctx).ExecContext(ctx, `INSERT INTO alerts (id, asset_id, obligation_id, type, severity,
				status, days_overdue, message, created_at, resolved_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			uuid.UUID(alert.ID), uuid.UUID(alert.AssetID), nullID(alert.ObligationID), alert.Type,
			alert.Severity, alert.Status, alert.DaysOverdue, alert.Message, alert.CreatedAt, alert.ResolvedAt)
		return mapErr(err, "insert alert")
	})
}

func (d *DB) HasOpenAlert(ctx context.Context, fundID id.FundID, obligationID id.ObligationID) (bool, error) {
	var owned, open bool
	err := d.q(ctx).QueryRowContext(ctx, `SELECT
			EXISTS (SELECT 1 FROM obligations o `+inFund("o")+` WHERE o.id = $2),
			EXISTS (SELECT 1 FROM alerts WHERE obligation_id = $2 AND status = 'OPEN')`,
		uuid.UUID(fundID), uuid.UUID(obligationID)).Scan(&owned, &open)
	if err != nil {
		return false, mapErr(err, "lookup open alert")
	}
	if !owned {
		return false, sentinel.ErrNotFound
	}
	return open, nil
}

func (d *DB) ListAlerts(ctx context.Context, fundID id.FundID, filter models.AlertFilter) ([]*models.Alert, error) {
	c := newConditions(uuid.UUID(fundID))
	if filter.Status != "" {
		c.add("al.status = $%d", string(filter.Status))
	}
	if filter.AssetID != nil {
		c.add("al.asset_id = $%d", uuid.UUID(*filter.AssetID))
	}
	rows, err := d.q(ctx).QueryContext(ctx, `SELECT `+alertColumns+` FROM alerts al `+inFund("al")+
		c.where()+` ORDER BY al.created_at, al.id::text`, c.args...)
	if err != nil {
		return nil, mapErr(err, "list alerts")
	}
	return collect(rows, scanAlert)
}

func (d *DB) ExecuteAlert(ctx context.Context, fundID id.FundID, alertID id.AlertID,
	validate func(*models.Alert) error, mutate func(*models.Alert)) (*models.Alert, error) {
	return execute(ctx, d, "execute alert",
		func(ctx context.Context, q txcontext.Querier) (*models.Alert, error) {
			return scanAlert(q.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts al `+inFund("al")+
				` WHERE al.id = $2 FOR UPDATE OF al`, uuid.UUID(fundID), uuid.UUID(alertID)))
		},
		validate, mutate,
		func(ctx context.Context, q txcontext.Querier, a *models.Alert) error {
			_, err := q.ExecContext(ctx, `UPDATE alerts SET status = $2, severity = $3, days_overdue = $4,
				resolved_at = $5 WHERE id = $1`,
				uuid.UUID(a.ID), a.Status, a.Severity, a.DaysOverdue, a.ResolvedAt)
			return err
		})
}

const actionColumns = `ac.id, ac.asset_id, ac.alert_id, ac.title, ac.status, ac.evidence_required,
	ac.evidence_notes, ac.created_at, ac.updated_at, ac.closed_at, ac.closed_by`

func scanAction(r rowScanner) (*models.Action, error) {
	var a models.Action
	err := r.Scan((*uuid.UUID)(&a.ID), (*uuid.UUID)(&a.AssetID), (*uuid.UUID)(&a.AlertID), &a.Title,
		&a.Status, &a.EvidenceRequired, &a.EvidenceNotes, &a.CreatedAt, &a.UpdatedAt, &a.ClosedAt, &a.ClosedBy)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// InsertAction relies on the unique alert_id column for one action per alert.
func (d *DB) InsertAction(ctx context.Context, fundID id.FundID, action *models.Action) error {
	return d.RunInTx(ctx, func(ctx context.Context) error {
		if err := d.requireAsset(ctx, fundID, action.AssetID); err != nil {
			return err
		}
		_, err := d.q(ctx).ExecContext(ctx, `INSERT INTO actions (id, asset_id, alert_id, title, status,
				evidence_required, evidence_notes, created_at, updated_at, closed_at, closed_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			uuid.UUID(action.ID), uuid.UUID(action.AssetID), uuid.UUID(action.AlertID), action.Title,
			action.Status, action.EvidenceRequired, action.EvidenceNotes, action.CreatedAt, action.UpdatedAt,
			action.ClosedAt, action.ClosedBy)
		return mapErr(err, "insert action")
	})
}

func (d *DB) GetAction(ctx context.Context, fundID id.FundID, actionID id.ActionID) (*models.Action, error) {
	a, err := scanAction(d.q(ctx).QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM actions ac `+inFund("ac")+` WHERE ac.id = $2`,
		uuid.UUID(fundID), uuid.UUID(actionID)))
	if err != nil {
		return nil, mapErr(err, "get action")
	}
	return a, nil
}

func (d *DB) ListActions(ctx context.Context, fundID id.FundID, filter models.ActionFilter) ([]*models.Action, error) {
	c := newConditions(uuid.UUID(fundID))
	if filter.Status != "" {
		c.add("ac.status = $%d", string(filter.Status))
	}
	if filter.AssetID != nil {
		c.add("ac.asset_id = $%d", uuid.UUID(*filter.AssetID))
	}
	rows, err := d.q(ctx).QueryContext(ctx, `SELECT `+actionColumns+` FROM actions ac `+inFund("ac")+
		c.where()+` ORDER BY ac.created_at, ac.id::text`, c.args...)
	if err != nil {
		return nil, mapErr(err, "list actions")
	}
	return collect(rows, scanAction)
}

func (d *DB) ExecuteAction(ctx context.Context, fundID id.FundID, actionID id.ActionID,
	validate func(*models.Action) error, mutate func(*models.Action)) (*models.Action, error) {
	return execute(ctx, d, "execute action",
		func(ctx context.Context, q txcontext.Querier) (*models.Action, error) {
			return scanAction(q.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions ac `+inFund("ac")+
				` WHERE ac.id = $2 FOR UPDATE OF ac`, uuid.UUID(fundID), uuid.UUID(actionID)))
		},
		validate, mutate,
		func(ctx context.Context, q txcontext.Querier, a *models.Action) error {
			_, err := q.ExecContext(ctx, `UPDATE actions SET status = $2, evidence_required = $3,
				evidence_notes = $4, updated_at = $5, closed_at = $6, closed_by = $7 WHERE id = $1`,
				uuid.UUID(a.ID), a.Status, a.EvidenceRequired, a.EvidenceNotes, a.UpdatedAt, a.ClosedAt, a.ClosedBy)
			return err
		})
}

const evidenceColumns = `id, fund_id, deal_id, action_id, report_pack_id, folder, filename, storage_uri,
	uploaded_at, created_by, created_at`

func scanEvidence(r rowScanner) (*models.Evidence, error) {
	var e models.Evidence
	var dealID, actionID, packID uuid.NullUUID
	err := r.Scan((*uuid.UUID)(&e.ID), (*uuid.UUID)(&e.FundID), &dealID, &actionID, &packID, &e.Folder,
		&e.Filename, &e.StorageURI, &e.UploadedAt, &e.CreatedBy, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.DealID = fromNullID[id.DealID](dealID)
	e.ActionID = fromNullID[id.ActionID](actionID)
	e.ReportPackID = fromNullID[id.ReportPackID](packID)
	return &e, nil
}

func (d *DB) InsertEvidence(ctx context.Context, e *models.Evidence) error {
	if err := d.requireFund(ctx, e.FundID); err != nil {
		return err
	}
	_, err := d.q(ctx).ExecContext(ctx, `INSERT INTO evidence (`+evidenceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.UUID(e.ID), uuid.UUID(e.FundID), nullID(e.DealID), nullID(e.ActionID), nullID(e.ReportPackID),
		e.Folder, e.Filename, e.StorageURI, e.UploadedAt, e.CreatedBy, e.CreatedAt)
	return mapErr(err, "insert evidence")
}

func (d *DB) GetEvidence(ctx context.Context, fundID id.FundID, evidenceID id.EvidenceID) (*models.Evidence, error) {
	e, err := scanEvidence(d.q(ctx).QueryRowContext(ctx,
		`SELECT `+evidenceColumns+` FROM evidence WHERE id = $1 AND fund_id = $2`,
		uuid.UUID(evidenceID), uuid.UUID(fundID)))
	if err != nil {
		return nil, mapErr(err, "get evidence")
	}
	return e, nil
}

func (d *DB) ListEvidence(ctx context.Context, fundID id.FundID, filter models.EvidenceFilter) ([]*models.Evidence, error) {
	c := newConditions()
	c.add("fund_id = $%d", uuid.UUID(fundID))
	if filter.ActionID != nil {
		c.add("action_id = $%d", uuid.UUID(*filter.ActionID))
	}
	if filter.DealID != nil {
		c.add("deal_id = $%d", uuid.UUID(*filter.DealID))
	}
	if filter.ReportPackID != nil {
		c.add("report_pack_id = $%d", uuid.UUID(*filter.ReportPackID))
	}
	if filter.Text != "" {
		text := strings.ToLower(filter.Text)
		c.add("(strpos(lower(filename), $%[1]d) > 0 OR strpos(folder, $%[1]d) > 0)", text)
	}
	rows, err := d.q(ctx).QueryContext(ctx, `SELECT `+evidenceColumns+` FROM evidence`+c.where()+
		` ORDER BY created_at, id::text`, c.args...)
	if err != nil {
		return nil, mapErr(err, "list evidence")
	}
	return collect(rows, scanEvidence)
}

// CountCompletedEvidence counts confirmed uploads linked to the action.
func (d *DB) CountCompletedEvidence(ctx context.Context, fundID id.FundID, actionID id.ActionID) (int, error) {
	var n int
	err := d.q(ctx).QueryRowContext(ctx, `SELECT count(*) FROM evidence
		WHERE fund_id = $1 AND action_id = $2 AND uploaded_at IS NOT NULL`,
		uuid.UUID(fundID), uuid.UUID(actionID)).Scan(&n)
	if err != nil {
		return 0, mapErr(err, "count evidence")
	}
	return n, nil
}

func (d *DB) ExecuteEvidence(ctx context.Context, fundID id.FundID, evidenceID id.EvidenceID,
	validate func(*models.Evidence) error, mutate func(*models.Evidence)) (*models.Evidence, error) {
	return execute(ctx, d, "execute evidence",
		func(ctx context.Context, q txcontext.Querier) (*models.Evidence, error) {
			return scanEvidence(q.QueryRowContext(ctx, `SELECT `+evidenceColumns+` FROM evidence
				WHERE id = $1 AND fund_id = $2 FOR UPDATE`, uuid.UUID(evidenceID), uuid.UUID(fundID)))
		},
		validate, mutate,
		func(ctx context.Context, q txcontext.Querier, e *models.Evidence) error {
			_, err := q.ExecContext(ctx, `UPDATE evidence SET storage_uri = $2, uploaded_at = $3 WHERE id = $1`,
				uuid.UUID(e.ID), e.StorageURI, e.UploadedAt)
			return err
		})
}
