package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"fundops/internal/lifecycle/models"
	id "fundops/pkg/domain"
)

// InsertObligationIfAbsent enforces uniqueness of (asset, type, period start).
func (db *DB) InsertObligationIfAbsent(ctx context.Context, fundID id.FundID, o *models.Obligation) (bool, error) {
	var created bool
	err := db.write(ctx, func(st *state) error {
		if !st.assetInFund(fundID, o.AssetID) {
			return errNotFound
		}
		for _, e := range st.obligations {
			if e.AssetID == o.AssetID && e.Type == o.Type && e.PeriodStart.Equal(o.PeriodStart) {
				return nil
			}
		}
		st.obligations[o.ID] = *o
		created = true
		return nil
	})
	return created, err
}

func (db *DB) GetObligation(ctx context.Context, fundID id.FundID, obligationID id.ObligationID) (*models.Obligation, error) {
	var out *models.Obligation
	err := db.read(ctx, func(st *state) error {
		o, ok := st.obligations[obligationID]
		if !ok || !st.assetInFund(fundID, o.AssetID) {
			return errNotFound
		}
		out = ptr(o)
		return nil
	})
	return out, err
}

func matchObligation(o models.Obligation, f models.ObligationFilter) bool {
	if f.AssetID != nil && o.AssetID != *f.AssetID {
		return false
	}
	if f.Type != "" && o.Type != f.Type {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, o.Status) {
		return false
	}
	if !f.DueBefore.IsZero() && !o.DueDate.Before(f.DueBefore) {
		return false
	}
	return true
}

func (db *DB) ListObligations(ctx context.Context, fundID id.FundID, filter models.ObligationFilter) ([]*models.Obligation, error) {
	var out []*models.Obligation
	err := db.read(ctx, func(st *state) error {
		for _, o := range st.obligations {
			if st.assetInFund(fundID, o.AssetID) && matchObligation(o, filter) {
				out = append(out, ptr(o))
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *models.Obligation) int {
		return cmp.Or(a.DueDate.Time().Compare(b.DueDate.Time()), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	return out, err
}

func (db *DB) ExecuteObligation(ctx context.Context, fundID id.FundID, obligationID id.ObligationID,
	validate func(*models.Obligation) error, mutate func(*models.Obligation)) (*models.Obligation, error) {
	return execute(ctx, db, func(st *state) map[id.ObligationID]models.Obligation { return st.obligations }, obligationID,
		func(st *state, o models.Obligation) bool { return st.assetInFund(fundID, o.AssetID) }, validate, mutate)
}

func hasOpenAlert(st *state, obligationID id.ObligationID) bool {
	for _, a := range st.alerts {
		if a.Status == models.AlertOpen && a.ObligationID != nil && *a.ObligationID == obligationID {
			return true
		}
	}
	return false
}

// InsertAlert allows at most one OPEN alert per obligation.
func (db *DB) InsertAlert(ctx context.Context, fundID id.FundID, alert *models.Alert) error {
	return db.write(ctx, func(st *state) error {
		if !st.assetInFund(fundID, alert.AssetID) {
			return errNotFound
		}
		if alert.ObligationID != nil && alert.Status == models.AlertOpen && hasOpenAlert(st, *alert.ObligationID) {
			return errConflict
		}
		st.alerts[alert.ID] = *alert
		return nil
	})
}

func (db *DB) HasOpenAlert(ctx context.Context, fundID id.FundID, obligationID id.ObligationID) (bool, error) {
	var open bool
	err := db.read(ctx, func(st *state) error {
		o, ok := st.obligations[obligationID]
		if !ok || !st.assetInFund(fundID, o.AssetID) {
			return errNotFound
		}
		open = hasOpenAlert(st, obligationID)
		return nil
	})
	return open, err
}

func (db *DB) ListAlerts(ctx context.Context, fundID id.FundID, filter models.AlertFilter) ([]*models.Alert, error) {
	var out []*models.Alert
	err := db.read(ctx, func(st *state) error {
		for _, a := range st.alerts {
			if !st.assetInFund(fundID, a.AssetID) {
				continue
			}
			if (filter.Status != "" && a.Status != filter.Status) || (filter.AssetID != nil && a.AssetID != *filter.AssetID) {
				continue
			}
			out = append(out, ptr(a))
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *models.Alert) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	return out, err
}

func (db *DB) ExecuteAlert(ctx context.Context, fundID id.FundID, alertID id.AlertID,
	validate func(*models.Alert) error, mutate func(*models.Alert)) (*models.Alert, error) {
	return execute(ctx, db, func(st *state) map[id.AlertID]models.Alert { return st.alerts }, alertID,
		func(st *state, a models.Alert) bool { return st.assetInFund(fundID, a.AssetID) }, validate, mutate)
}

// InsertAction allows one action per alert.
func (db *DB) InsertAction(ctx context.Context, fundID id.FundID, action *models.Action) error {
	return db.write(ctx, func(st *state) error {
		if !st.assetInFund(fundID, action.AssetID) {
			return errNotFound
		}
		for _, a := range st.actions {
			if a.AlertID == action.AlertID {
				return errConflict
			}
		}
		st.actions[action.ID] = *action
		return nil
	})
}

func (db *DB) GetAction(ctx context.Context, fundID id.FundID, actionID id.ActionID) (*models.Action, error) {
	var out *models.Action
	err := db.read(ctx, func(st *state) error {
		a, ok := st.actions[actionID]
		if !ok || !st.assetInFund(fundID, a.AssetID) {
			return errNotFound
		}
		out = ptr(a)
		return nil
	})
	return out, err
}

func (db *DB) ListActions(ctx context.Context, fundID id.FundID, filter models.ActionFilter) ([]*models.Action, error) {
	var out []*models.Action
	err := db.read(ctx, func(st *state) error {
		for _, a := range st.actions {
			if !st.assetInFund(fundID, a.AssetID) {
				continue
			}
			if (filter.Status != "" && a.Status != filter.Status) || (filter.AssetID != nil && a.AssetID != *filter.AssetID) {
				continue
			}
			out = append(out, ptr(a))
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *models.Action) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	return out, err
}

func (db *DB) ExecuteAction(ctx context.Context, fundID id.FundID, actionID id.ActionID,
	validate func(*models.Action) error, mutate func(*models.Action)) (*models.Action, error) {
	return execute(ctx, db, func(st *state) map[id.ActionID]models.Action { return st.actions }, actionID,
		func(st *state, a models.Action) bool { return st.assetInFund(fundID, a.AssetID) }, validate, mutate)
}

func (db *DB) InsertEvidence(ctx context.Context, e *models.Evidence) error {
	return db.write(ctx, func(st *state) error {
		if _, ok := st.funds[e.FundID]; !ok {
			return errNotFound
		}
		if _, ok := st.evidence[e.ID]; ok {
			return errConflict
		}
		st.evidence[e.ID] = *e
		return nil
	})
}

func (db *DB) GetEvidence(ctx context.Context, fundID id.FundID, evidenceID id.EvidenceID) (*models.Evidence, error) {
	var out *models.Evidence
	err := db.read(ctx, func(st *state) error {
		e, ok := st.evidence[evidenceID]
		if !ok || e.FundID != fundID {
			return errNotFound
		}
		out = ptr(e)
		return nil
	})
	return out, err
}

func matchEvidence(e models.Evidence, f models.EvidenceFilter) bool {
	if f.ActionID != nil && (e.ActionID == nil || *e.ActionID != *f.ActionID) {
		return false
	}
	if f.DealID != nil && (e.DealID == nil || *e.DealID != *f.DealID) {
		return false
	}
	if f.ReportPackID != nil && (e.ReportPackID == nil || *e.ReportPackID != *f.ReportPackID) {
		return false
	}
	if f.Text != "" {
		text := strings.ToLower(f.Text)
		if !strings.Contains(strings.ToLower(e.Filename), text) && !strings.Contains(e.Folder, text) {
			return false
		}
	}
	return true
}

func (db *DB) ListEvidence(ctx context.Context, fundID id.FundID, filter models.EvidenceFilter) ([]*models.Evidence, error) {
	var out []*models.Evidence
	err := db.read(ctx, func(st *state) error {
		for _, e := range st.evidence {
			if e.FundID == fundID && matchEvidence(e, filter) {
				out = append(out, ptr(e))
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *models.Evidence) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	return out, err
}

// CountCompletedEvidence counts evidence linked to the action whose upload was
// confirmed.
func (db *DB) CountCompletedEvidence(ctx context.Context, fundID id.FundID, actionID id.ActionID) (int, error) {
	var n int
	err := db.read(ctx, func(st *state) error {
		for _, e := range st.evidence {
			if e.FundID == fundID && e.ActionID != nil && *e.ActionID == actionID && e.UploadComplete() {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (db *DB) ExecuteEvidence(ctx context.Context, fundID id.FundID, evidenceID id.EvidenceID,
	validate func(*models.Evidence) error, mutate func(*models.Evidence)) (*models.Evidence, error) {
	return execute(ctx, db, func(st *state) map[id.EvidenceID]models.Evidence { return st.evidence }, evidenceID,
		func(_ *state, e models.Evidence) bool { return e.FundID == fundID }, validate, mutate)
}
