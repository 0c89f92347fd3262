package service

import (
	"context"
	"errors"
	"time"

	"fundops/internal/audit"
	"fundops/internal/identity"
	"fundops/internal/lifecycle/models"
	id "fundops/pkg/domain"
)

// maxCatchUpPeriods bounds how many missed periods one generation run fills.
const maxCatchUpPeriods = 240

type UpdateObligationStatusRequest struct {
	Status       string `json:"status"`
	WaiverReason string `json:"waiver_reason"`
}

// ScanResult summarizes one overdue scan of a fund.
type ScanResult struct {
	FundID         id.FundID        `json:"fund_id"`
	AsOf           models.Date      `json:"as_of"`
	Scanned        int              `json:"scanned"`
	AlertsCreated  []*models.Alert  `json:"alerts_created"`
	ActionsCreated []*models.Action `json:"actions_created"`
	Skipped        int              `json:"skipped"`
}

func (s *Service) ListObligations(ctx context.Context, caller identity.Caller, fundID id.FundID,
	filter models.ObligationFilter) (_ []*models.Obligation, err error) {
	ctx, end := s.begin(ctx, OpListObligations, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpListObligations); err != nil {
		return nil, err
	}
	obligations, err := s.stores.Obligations.ListObligations(ctx, fundID, filter)
	if err != nil {
		return nil, storeErr(err, "obligation")
	}
	return obligations, nil
}

// UpdateObligationStatus applies a manual transition. Waiving needs
// COMPLIANCE or DIRECTOR and a reason.
func (s *Service) UpdateObligationStatus(ctx context.Context, caller identity.Caller, fundID id.FundID,
	obligationID id.ObligationID, req UpdateObligationStatusRequest) (_ *models.Obligation, err error) {
	ctx, end := s.begin(ctx, OpUpdateObligationStatus, fundID)
	defer end(&err)

	status, err := models.ParseObligationStatus(req.Status)
	if err != nil {
		if authErr := s.authorize(ctx, caller, fundID, OpUpdateObligationStatus); authErr != nil {
			return nil, authErr
		}
		return nil, err
	}
	op := OpUpdateObligationStatus
	if status == models.ObligationWaived {
		op = OpWaiveObligation
	}
	if err := s.authorize(ctx, caller, fundID, op); err != nil {
		return nil, err
	}

	chg := models.StatusChange{Status: status, WaiverReason: req.WaiverReason}
	at := now(ctx)
	day := today(ctx)

	var updated *models.Obligation
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var before models.Obligation
		o, err := s.stores.Obligations.ExecuteObligation(ctx, fundID, obligationID,
			func(o *models.Obligation) error {
				before = *o
				return o.CanTransition(chg, day)
			},
			func(o *models.Obligation) { o.ApplyTransition(chg, caller.Actor.ID, at) },
		)
		if err != nil {
			return storeErr(err, "obligation")
		}
		updated = o
		level, err := s.assetAccess(ctx, fundID, o.AssetID)
		if err != nil {
			return err
		}
		return s.record(ctx, caller, change{
			fundID:     fundID,
			access:     level,
			action:     audit.ActionObligationUpdated,
			entityType: "obligation",
			entityID:   o.ID.String(),
			before:     &before,
			after:      o,
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncTransition("obligation", string(updated.Status))
	return updated, nil
}

// GenerateRecurringObligations rolls every fund investment's NAV obligations
// forward to the period containing asOf. A zero asOf means today. Existing
// periods are left alone.
func (s *Service) GenerateRecurringObligations(ctx context.Context, caller identity.Caller, fundID id.FundID,
	asOf models.Date) (_ []*models.Obligation, err error) {
	ctx, end := s.begin(ctx, OpGenerateRecurringObligations, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpGenerateRecurringObligations); err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		asOf = today(ctx)
	}

	var created []*models.Obligation
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		created = nil
		if _, err := s.requireFund(ctx, fundID); err != nil {
			return err
		}
		investments, err := s.stores.Assets.ListFundInvestments(ctx, fundID)
		if err != nil {
			return storeErr(err, "fund investment")
		}
		for _, inv := range investments {
			asset, err := s.stores.Assets.GetAsset(ctx, fundID, inv.AssetID)
			if err != nil {
				return storeErr(err, "asset")
			}
			next, err := s.nextUnplannedPeriod(ctx, fundID, inv, asOf)
			if err != nil {
				return err
			}
			for i := 0; i < maxCatchUpPeriods && !next.After(asOf); i++ {
				o, isNew, err := s.ensureObligation(ctx, caller, fundID, asset, inv, next)
				if err != nil {
					return err
				}
				if isNew {
					created = append(created, o)
				}
				next, _ = inv.ReportingFrequency.NextPeriod(next)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "recurring obligations generated",
		"fund_id", fundID.String(),
		"as_of", asOf.String(),
		"created", len(created),
		"request_id", caller.RequestID,
	)
	return created, nil
}

// nextUnplannedPeriod is the period after the latest existing NAV obligation,
// or the period containing asOf when there is none.
func (s *Service) nextUnplannedPeriod(ctx context.Context, fundID id.FundID, inv *models.FundInvestment,
	asOf models.Date) (models.Date, error) {
	assetID := inv.AssetID
	existing, err := s.stores.Obligations.ListObligations(ctx, fundID, models.ObligationFilter{
		AssetID: &assetID,
		Type:    models.ObligationNAVReport,
	})
	if err != nil {
		return models.Date{}, storeErr(err, "obligation")
	}
	var latest models.Date
	for _, o := range existing {
		if latest.IsZero() || o.PeriodStart.After(latest) {
			latest = o.PeriodStart
		}
	}
	if latest.IsZero() {
		start, _ := inv.ReportingFrequency.PeriodContaining(asOf)
		return start, nil
	}
	next, _ := inv.ReportingFrequency.NextPeriod(latest)
	return next, nil
}

// ScanOverdueObligations raises an alert and a remediation action for each
// obligation past its due date that has no OPEN alert, and marks it OVERDUE.
// Each obligation is handled in its own unit of work under a row lock, so
// concurrent or repeated scans never duplicate an alert.
func (s *Service) ScanOverdueObligations(ctx context.Context, caller identity.Caller, fundID id.FundID,
	asOf models.Date) (_ *ScanResult, err error) {
	ctx, end := s.begin(ctx, OpScanOverdueObligations, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpScanOverdueObligations); err != nil {
		return nil, err
	}
	start := time.Now()
	defer s.metrics.ObserveScan(start)
	if asOf.IsZero() {
		asOf = today(ctx)
	}
	if _, err := s.requireFund(ctx, fundID); err != nil {
		return nil, err
	}

	candidates, err := s.stores.Obligations.ListObligations(ctx, fundID, models.ObligationFilter{
		Statuses:  []models.ObligationStatus{models.ObligationOpen, models.ObligationPendingEvidence, models.ObligationOverdue},
		DueBefore: asOf,
	})
	if err != nil {
		return nil, storeErr(err, "obligation")
	}

	result := &ScanResult{FundID: fundID, AsOf: asOf, AlertsCreated: []*models.Alert{}, ActionsCreated: []*models.Action{}}
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Scanned++
		alert, action, err := s.raiseOverdue(ctx, caller, fundID, candidate.ID, asOf)
		if errors.Is(err, errSkip) {
			result.Skipped++
			continue
		}
		if err != nil {
			return nil, err
		}
		result.AlertsCreated = append(result.AlertsCreated, alert)
		result.ActionsCreated = append(result.ActionsCreated, action)
		s.metrics.IncAlertCreated(string(alert.Severity))
	}

	s.logger.InfoContext(ctx, "overdue scan completed",
		"fund_id", fundID.String(),
		"as_of", asOf.String(),
		"scanned", result.Scanned,
		"alerts_created", len(result.AlertsCreated),
		"skipped", result.Skipped,
		"request_id", caller.RequestID,
	)
	return result, nil
}

// raiseOverdue handles one obligation. It returns errSkip when the obligation
// is no longer overdue or already has an OPEN alert.
func (s *Service) raiseOverdue(ctx context.Context, caller identity.Caller, fundID id.FundID,
	obligationID id.ObligationID, asOf models.Date) (*models.Alert, *models.Action, error) {
	at := now(ctx)
	var alert *models.Alert
	var action *models.Action

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var before models.Obligation
		o, err := s.stores.Obligations.ExecuteObligation(ctx, fundID, obligationID,
			func(o *models.Obligation) error {
				before = *o
				if !o.IsOverdueOn(asOf) {
					return errSkip
				}
				open, err := s.stores.Alerts.HasOpenAlert(ctx, fundID, o.ID)
				if err != nil {
					return err
				}
				if open {
					return errSkip
				}
				return nil
			},
			func(o *models.Obligation) {
				if o.Status != models.ObligationOverdue {
					o.Status = models.ObligationOverdue
					o.UpdatedAt = at
				}
			},
		)
		if errors.Is(err, errSkip) {
			return errSkip
		}
		if err != nil {
			return storeErr(err, "obligation")
		}
		level, err := s.assetAccess(ctx, fundID, o.AssetID)
		if err != nil {
			return err
		}

		if before.Status != o.Status {
			if err := s.record(ctx, caller, change{
				fundID:     fundID,
				access:     level,
				action:     audit.ActionObligationUpdated,
				entityType: "obligation",
				entityID:   o.ID.String(),
				before:     &before,
				after:      o,
			}); err != nil {
				return err
			}
		}

		alert = models.NewOverdueAlert(id.NewAlertID(), o, asOf, s.severity, at)
		if err := s.stores.Alerts.InsertAlert(ctx, fundID, alert); err != nil {
			if isConflict(err) {
				return errSkip
			}
			return storeErr(err, "alert")
		}
		if err := s.record(ctx, caller, change{
			fundID:     fundID,
			access:     level,
			action:     audit.ActionAlertCreated,
			entityType: "alert",
			entityID:   alert.ID.String(),
			after:      alert,
		}); err != nil {
			return err
		}

		action = models.NewRemediationAction(id.NewActionID(), alert, at)
		if err := s.stores.Actions.InsertAction(ctx, fundID, action); err != nil {
			return storeErr(err, "action")
		}
		return s.record(ctx, caller, change{
			fundID:     fundID,
			access:     level,
			action:     audit.ActionActionCreated,
			entityType: "action",
			entityID:   action.ID.String(),
			after:      action,
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return alert, action, nil
}

// assetAccess returns the access level inherited from the owning asset.
func (s *Service) assetAccess(ctx context.Context, fundID id.FundID, assetID id.AssetID) (models.AccessLevel, error) {
	asset, err := s.stores.Assets.GetAsset(ctx, fundID, assetID)
	if err != nil {
		return "", storeErr(err, "asset")
	}
	return asset.AccessLevel, nil
}
