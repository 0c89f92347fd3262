package models

import (
	"fmt"
	"time"

	id "fundops/pkg/domain"
)

// Action is the remediation task spawned by an alert. Exactly one action
// exists per alert.
//
// Invariants:
//   - CLOSED requires EvidenceRequired == false or at least one linked
//     evidence document whose upload completed
//   - CLOSED is terminal
type Action struct {
	ID               id.ActionID  `json:"id"`
	AssetID          id.AssetID   `json:"asset_id"`
	AlertID          id.AlertID   `json:"alert_id"`
	Title            string       `json:"title"`
	Status           ActionStatus `json:"status"`
	EvidenceRequired bool         `json:"evidence_required"`
	EvidenceNotes    string       `json:"evidence_notes,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	ClosedAt         *time.Time   `json:"closed_at,omitempty"`
	ClosedBy         string       `json:"closed_by,omitempty"`
}

// NewRemediationAction builds the action for an alert. Evidence is required
// by default.
func NewRemediationAction(actionID id.ActionID, alert *Alert, now time.Time) *Action {
	return &Action{
		ID:               actionID,
		AssetID:          alert.AssetID,
		AlertID:          alert.ID,
		Title:            fmt.Sprintf("Remediate %s (%s)", alert.Type, alert.Severity),
		Status:           ActionOpen,
		EvidenceRequired: true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// ActionUpdate is a partial update. Nil fields are left unchanged.
type ActionUpdate struct {
	Status           *ActionStatus
	EvidenceRequired *bool
	EvidenceNotes    *string
}

// Target returns the status after applying u.
func (a *Action) Target(u ActionUpdate) ActionStatus {
	if u.Status != nil {
		return *u.Status
	}
	return a.Status
}

// CanUpdate validates u given the number of linked, completed evidence
// documents.
func (a *Action) CanUpdate(u ActionUpdate, completedEvidence int) error {
	if a.Status == ActionClosed {
		return validation(ReasonInvalidActionTransition, "action is already closed")
	}
	to := a.Target(u)
	if to != a.Status && !a.Status.CanTransitionTo(to) {
		return validation(ReasonInvalidActionTransition,
			"action cannot move from "+string(a.Status)+" to "+string(to))
	}
	required := a.EvidenceRequired
	if u.EvidenceRequired != nil {
		required = *u.EvidenceRequired
	}
	if to == ActionClosed && required && completedEvidence == 0 {
		return validation(ReasonEvidenceMissing, "action requires at least one uploaded evidence document before closing")
	}
	return nil
}

func (a *Action) ApplyUpdate(u ActionUpdate, actorID string, now time.Time) {
	if u.EvidenceRequired != nil {
		a.EvidenceRequired = *u.EvidenceRequired
	}
	if u.EvidenceNotes != nil {
		a.EvidenceNotes = *u.EvidenceNotes
	}
	to := a.Target(u)
	if to == ActionClosed && a.Status != ActionClosed {
		at := now
		a.ClosedAt = &at
		a.ClosedBy = actorID
	}
	a.Status = to
	a.UpdatedAt = now
}
