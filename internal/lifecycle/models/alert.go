package models

import (
	"fmt"
	"sort"
	"time"

	id "fundops/pkg/domain"
	dErrors "fundops/pkg/domain-errors"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityLow: 1, SeverityMedium: 2, SeverityHigh: 3, SeverityCritical: 4,
}

// Rank orders severities; unknown severities rank zero.
func (s Severity) Rank() int { return severityRank[s] }

// SeverityThreshold assigns Severity from MinDaysOverdue onwards.
type SeverityThreshold struct {
	MinDaysOverdue int
	Severity       Severity
}

// SeverityPolicy maps days overdue to a severity. Severity never decreases as
// days overdue grow.
type SeverityPolicy struct {
	thresholds []SeverityThreshold
}

func NewSeverityPolicy(thresholds ...SeverityThreshold) (SeverityPolicy, error) {
	ts := append([]SeverityThreshold(nil), thresholds...)
	sort.SliceStable(ts, func(i, j int) bool { return ts[i].MinDaysOverdue < ts[j].MinDaysOverdue })
	if len(ts) == 0 || ts[0].MinDaysOverdue != 0 {
		return SeverityPolicy{}, dErrors.New(dErrors.CodeInvalidInput, "severity thresholds must start at 0 days")
	}
	for i, th := range ts {
		if th.Severity.Rank() == 0 {
			return SeverityPolicy{}, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown severity %q", th.Severity))
		}
		if i > 0 {
			if th.MinDaysOverdue == ts[i-1].MinDaysOverdue {
				return SeverityPolicy{}, dErrors.New(dErrors.CodeInvalidInput, "duplicate severity threshold")
			}
			if th.Severity.Rank() < ts[i-1].Severity.Rank() {
				return SeverityPolicy{}, dErrors.New(dErrors.CodeInvalidInput, "severity must not decrease as days overdue grow")
			}
		}
	}
	return SeverityPolicy{thresholds: ts}, nil
}

// DefaultSeverityPolicy escalates LOW, MEDIUM at 7 days, HIGH at 30, CRITICAL at 90.
func DefaultSeverityPolicy() SeverityPolicy {
	p, _ := NewSeverityPolicy(
		SeverityThreshold{0, SeverityLow},
		SeverityThreshold{7, SeverityMedium},
		SeverityThreshold{30, SeverityHigh},
		SeverityThreshold{90, SeverityCritical},
	)
	return p
}

// For returns the severity for an obligation days overdue.
func (p SeverityPolicy) For(daysOverdue int) Severity {
	if len(p.thresholds) == 0 {
		return DefaultSeverityPolicy().For(daysOverdue)
	}
	sev := p.thresholds[0].Severity
	for _, th := range p.thresholds {
		if daysOverdue >= th.MinDaysOverdue {
			sev = th.Severity
		}
	}
	return sev
}

// Alert is a generated signal that an obligation was missed. It carries no
// fund id; its fund is the owning asset's. At most one OPEN alert exists per
// obligation.
type Alert struct {
	ID           id.AlertID       `json:"id"`
	AssetID      id.AssetID       `json:"asset_id"`
	ObligationID *id.ObligationID `json:"obligation_id,omitempty"`
	Type         AlertType        `json:"type"`
	Severity     Severity         `json:"severity"`
	Status       AlertStatus      `json:"status"`
	DaysOverdue  int              `json:"days_overdue"`
	Message      string           `json:"message"`
	CreatedAt    time.Time        `json:"created_at"`
	ResolvedAt   *time.Time       `json:"resolved_at,omitempty"`
}

// NewOverdueAlert builds the OPEN alert for an overdue obligation.
func NewOverdueAlert(alertID id.AlertID, o *Obligation, today Date, policy SeverityPolicy, now time.Time) *Alert {
	obligationID := o.ID
	days := o.DaysOverdue(today)
	return &Alert{
		ID:           alertID,
		AssetID:      o.AssetID,
		ObligationID: &obligationID,
		Type:         AlertObligationOverdue,
		Severity:     policy.For(days),
		Status:       AlertOpen,
		DaysOverdue:  days,
		Message: fmt.Sprintf("%s for period %s to %s was due %s",
			o.Type, o.PeriodStart, o.PeriodEnd, o.DueDate),
		CreatedAt: now,
	}
}

func (a *Alert) Resolve(now time.Time) {
	a.Status = AlertResolved
	at := now
	a.ResolvedAt = &at
}
