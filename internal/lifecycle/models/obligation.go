package models

import (
	"strings"
	"time"

	id "fundops/pkg/domain"
)

// Waiver records why an obligation no longer applies.
type Waiver struct {
	Reason   string    `json:"reason"`
	WaivedBy string    `json:"waived_by"`
	WaivedAt time.Time `json:"waived_at"`
}

// Obligation is a compliance or reporting duty tied to an asset. It carries
// no fund id; its fund is the owning asset's.
//
// Invariants:
//   - (AssetID, Type, PeriodStart) is unique
//   - SATISFIED and WAIVED are terminal
//   - WAIVED always carries a Waiver
type Obligation struct {
	ID          id.ObligationID  `json:"id"`
	AssetID     id.AssetID       `json:"asset_id"`
	Type        ObligationType   `json:"type"`
	Status      ObligationStatus `json:"status"`
	PeriodStart Date             `json:"period_start"`
	PeriodEnd   Date             `json:"period_end"`
	DueDate     Date             `json:"due_date"`
	Waiver      *Waiver          `json:"waiver,omitempty"`
	SatisfiedAt *time.Time       `json:"satisfied_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// NewNAVObligation builds the NAV report obligation for the period starting
// at periodStart. The due date is the period end plus the grace days.
func NewNAVObligation(obligationID id.ObligationID, inv *FundInvestment, periodStart Date, now time.Time) *Obligation {
	start, end := inv.ReportingFrequency.PeriodContaining(periodStart)
	return &Obligation{
		ID:          obligationID,
		AssetID:     inv.AssetID,
		Type:        ObligationNAVReport,
		Status:      ObligationOpen,
		PeriodStart: start,
		PeriodEnd:   end,
		DueDate:     end.AddDays(inv.NAVGraceDays),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsOverdueOn reports whether the obligation is unsatisfied past its due date.
func (o *Obligation) IsOverdueOn(today Date) bool {
	return !o.Status.IsTerminal() && o.DueDate.Before(today)
}

// DaysOverdue is zero until the due date has passed.
func (o *Obligation) DaysOverdue(today Date) int {
	return max(today.DaysSince(o.DueDate), 0)
}

// StatusChange is a requested obligation transition.
type StatusChange struct {
	Status       ObligationStatus
	WaiverReason string
}

func (o *Obligation) CanTransition(change StatusChange, today Date) error {
	if !o.Status.CanTransitionTo(change.Status) {
		return validation(ReasonInvalidObligationTransition,
			"obligation cannot move from "+string(o.Status)+" to "+string(change.Status))
	}
	if change.Status == ObligationOverdue && !o.DueDate.Before(today) {
		return validation(ReasonObligationNotYetDue, "obligation is not past its due date")
	}
	if change.Status == ObligationWaived && strings.TrimSpace(change.WaiverReason) == "" {
		return validation(ReasonWaiverReasonMissing, "waiving an obligation requires a reason")
	}
	return nil
}

func (o *Obligation) ApplyTransition(change StatusChange, actorID string, now time.Time) {
	o.Status = change.Status
	switch change.Status {
	case ObligationWaived:
		o.Waiver = &Waiver{Reason: strings.TrimSpace(change.WaiverReason), WaivedBy: actorID, WaivedAt: now}
	case ObligationSatisfied:
		at := now
		o.SatisfiedAt = &at
	}
	o.UpdatedAt = now
}
