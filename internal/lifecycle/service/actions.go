package service

import (
	"context"
	"errors"

	"fundops/internal/audit"
	"fundops/internal/identity"
	"fundops/internal/lifecycle/models"
	id "fundops/pkg/domain"
)

// UpdateActionRequest is a partial update; nil fields are left unchanged.
type UpdateActionRequest struct {
	Status           *string `json:"status"`
	EvidenceRequired *bool   `json:"evidence_required"`
	EvidenceNotes    *string `json:"evidence_notes"`
}

func (s *Service) ListAlerts(ctx context.Context, caller identity.Caller, fundID id.FundID,
	filter models.AlertFilter) (_ []*models.Alert, err error) {
	ctx, end := s.begin(ctx, OpListAlerts, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpListAlerts); err != nil {
		return nil, err
	}
	alerts, err := s.stores.Alerts.ListAlerts(ctx, fundID, filter)
	if err != nil {
		return nil, storeErr(err, "alert")
	}
	return alerts, nil
}

func (s *Service) ListActions(ctx context.Context, caller identity.Caller, fundID id.FundID,
	filter models.ActionFilter) (_ []*models.Action, err error) {
	ctx, end := s.begin(ctx, OpListActions, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpListActions); err != nil {
		return nil, err
	}
	actions, err := s.stores.Actions.ListActions(ctx, fundID, filter)
	if err != nil {
		return nil, storeErr(err, "action")
	}
	return actions, nil
}

// UpdateActionStatus moves a remediation action forward. Closing requires at
// least one uploaded evidence document unless evidence is not required, and
// resolves the originating alert in the same unit of work. Clearing the
// evidence requirement is a COMPLIANCE decision.
func (s *Service) UpdateActionStatus(ctx context.Context, caller identity.Caller, fundID id.FundID,
	actionID id.ActionID, req UpdateActionRequest) (_ *models.Action, err error) {
	ctx, end := s.begin(ctx, OpUpdateActionStatus, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpUpdateActionStatus); err != nil {
		return nil, err
	}
	if req.EvidenceRequired != nil && !*req.EvidenceRequired {
		if err := s.authorize(ctx, caller, fundID, OpWaiveActionEvidence); err != nil {
			return nil, err
		}
	}
	update := models.ActionUpdate{EvidenceRequired: req.EvidenceRequired, EvidenceNotes: req.EvidenceNotes}
	if req.Status != nil {
		status, err := models.ParseActionStatus(*req.Status)
		if err != nil {
			return nil, err
		}
		update.Status = &status
	}
	if update.Status == nil && update.EvidenceRequired == nil && update.EvidenceNotes == nil {
		return nil, invalidInput("action update is empty")
	}
	at := now(ctx)

	var updated *models.Action
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		completed, err := s.stores.Evidence.CountCompletedEvidence(ctx, fundID, actionID)
		if err != nil {
			return storeErr(err, "evidence")
		}
		var before models.Action
		a, err := s.stores.Actions.ExecuteAction(ctx, fundID, actionID,
			func(a *models.Action) error {
				before = *a
				return a.CanUpdate(update, completed)
			},
			func(a *models.Action) { a.ApplyUpdate(update, caller.Actor.ID, at) },
		)
		if err != nil {
			return storeErr(err, "action")
		}
		updated = a
		level, err := s.assetAccess(ctx, fundID, a.AssetID)
		if err != nil {
			return err
		}
		if err := s.record(ctx, caller, change{
			fundID:     fundID,
			access:     level,
			action:     audit.ActionActionUpdated,
			entityType: "action",
			entityID:   a.ID.String(),
			before:     &before,
			after:      a,
		}); err != nil {
			return err
		}
		if before.Status != models.ActionClosed && a.Status == models.ActionClosed {
			return s.resolveAlert(ctx, caller, fundID, a.AlertID, level)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if updated.Status != "" {
		s.metrics.IncTransition("action", string(updated.Status))
	}
	return updated, nil
}

// resolveAlert marks the alert RESOLVED. An alert that is already resolved is
// left untouched.
func (s *Service) resolveAlert(ctx context.Context, caller identity.Caller, fundID id.FundID, alertID id.AlertID,
	level models.AccessLevel) error {
	at := now(ctx)
	var before models.Alert
	alert, err := s.stores.Alerts.ExecuteAlert(ctx, fundID, alertID,
		func(a *models.Alert) error {
			before = *a
			if a.Status != models.AlertOpen {
				return errSkip
			}
			return nil
		},
		func(a *models.Alert) { a.Resolve(at) },
	)
	if errors.Is(err, errSkip) {
		return nil
	}
	if err != nil {
		return storeErr(err, "alert")
	}
	s.metrics.IncTransition("alert", string(alert.Status))
	return s.record(ctx, caller, change{
		fundID:     fundID,
		access:     level,
		action:     audit.ActionAlertResolved,
		entityType: "alert",
		entityID:   alert.ID.String(),
		before:     &before,
		after:      alert,
	})
}
