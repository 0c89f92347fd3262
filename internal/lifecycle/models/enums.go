package models

import (
	"fmt"
	"strings"
	"time"

	dErrors "fundops/pkg/domain-errors"
)

func parseEnum[T ~string](kind, raw string, valid ...T) (T, error) {
	v := T(strings.ToUpper(strings.TrimSpace(raw)))
	for _, candidate := range valid {
		if v == candidate {
			return v, nil
		}
	}
	var zero T
	return zero, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown %s %q", kind, raw))
}

// AccessLevel is the sensitivity of a deal or asset. It is copied onto audit
// events about the entity.
type AccessLevel string

const (
	AccessStandard     AccessLevel = "STANDARD"
	AccessRestricted   AccessLevel = "RESTRICTED"
	AccessConfidential AccessLevel = "CONFIDENTIAL"
)

// ParseAccessLevel defaults to STANDARD when empty.
func ParseAccessLevel(s string) (AccessLevel, error) {
	if strings.TrimSpace(s) == "" {
		return AccessStandard, nil
	}
	return parseEnum("access level", s, AccessStandard, AccessRestricted, AccessConfidential)
}

// InvestmentType classifies deals and the assets they become.
type InvestmentType string

const (
	TypeFundInvestment   InvestmentType = "FUND_INVESTMENT"
	TypeDirectInvestment InvestmentType = "DIRECT_INVESTMENT"
	TypeCoInvestment     InvestmentType = "CO_INVESTMENT"
	TypeCredit           InvestmentType = "CREDIT"
	TypeRealAsset        InvestmentType = "REAL_ASSET"
)

func ParseInvestmentType(s string) (InvestmentType, error) {
	return parseEnum("investment type", s,
		TypeFundInvestment, TypeDirectInvestment, TypeCoInvestment, TypeCredit, TypeRealAsset)
}

// DealStage is a position in the deal review pipeline.
type DealStage string

const (
	StageIntake        DealStage = "INTAKE"
	StageQualification DealStage = "QUALIFICATION"
	StageDueDiligence  DealStage = "DUE_DILIGENCE"
	StageICReview      DealStage = "IC_REVIEW"
	StageApproved      DealStage = "APPROVED"
	StageConverted     DealStage = "CONVERTED_TO_ASSET"
	StageRejected      DealStage = "REJECTED"
)

var stageRank = map[DealStage]int{
	StageIntake:        1,
	StageQualification: 2,
	StageDueDiligence:  3,
	StageICReview:      4,
	StageApproved:      5,
	StageConverted:     6,
}

func ParseDealStage(s string) (DealStage, error) {
	return parseEnum("deal stage", s,
		StageIntake, StageQualification, StageDueDiligence, StageICReview,
		StageApproved, StageConverted, StageRejected)
}

func (s DealStage) IsTerminal() bool {
	return s == StageConverted || s == StageRejected
}

// CanDecideTo reports whether a decision may move a deal from s to target.
// Decisions only move forward (skipping is allowed), REJECTED is reachable
// from every non-terminal stage, and CONVERTED_TO_ASSET is reserved for
// conversion.
func (s DealStage) CanDecideTo(target DealStage) bool {
	if s.IsTerminal() || target == StageConverted {
		return false
	}
	if target == StageRejected {
		return true
	}
	to, ok := stageRank[target]
	return ok && to > stageRank[s]
}

// ReportingFrequency is the NAV reporting cadence of a fund investment.
type ReportingFrequency string

const (
	FrequencyMonthly    ReportingFrequency = "MONTHLY"
	FrequencyQuarterly  ReportingFrequency = "QUARTERLY"
	FrequencySemiAnnual ReportingFrequency = "SEMI_ANNUAL"
	FrequencyAnnual     ReportingFrequency = "ANNUAL"
)

func ParseReportingFrequency(s string) (ReportingFrequency, error) {
	return parseEnum("reporting frequency", s,
		FrequencyMonthly, FrequencyQuarterly, FrequencySemiAnnual, FrequencyAnnual)
}

// Months is the period length.
func (f ReportingFrequency) Months() int {
	switch f {
	case FrequencyMonthly:
		return 1
	case FrequencyQuarterly:
		return 3
	case FrequencySemiAnnual:
		return 6
	case FrequencyAnnual:
		return 12
	}
	return 0
}

// PeriodContaining returns the calendar-aligned reporting period holding d.
func (f ReportingFrequency) PeriodContaining(d Date) (start, end Date) {
	m := f.Months()
	if m == 0 {
		m = 1
	}
	startMonth := ((int(d.Month())-1)/m)*m + 1
	start = NewDate(d.Year(), time.Month(startMonth), 1)
	end = start.AddMonths(m).AddDays(-1)
	return start, end
}

// NextPeriod returns the period following the one starting at start.
func (f ReportingFrequency) NextPeriod(start Date) (Date, Date) {
	return f.PeriodContaining(start.AddMonths(max(f.Months(), 1)))
}

type ObligationType string

const (
	ObligationNAVReport ObligationType = "NAV_REPORT"
)

type ObligationStatus string

const (
	ObligationOpen            ObligationStatus = "OPEN"
	ObligationPendingEvidence ObligationStatus = "PENDING_EVIDENCE"
	ObligationOverdue         ObligationStatus = "OVERDUE"
	ObligationSatisfied       ObligationStatus = "SATISFIED"
	ObligationWaived          ObligationStatus = "WAIVED"
)

func ParseObligationStatus(s string) (ObligationStatus, error) {
	return parseEnum("obligation status", s,
		ObligationOpen, ObligationPendingEvidence, ObligationOverdue, ObligationSatisfied, ObligationWaived)
}

func (s ObligationStatus) IsTerminal() bool {
	return s == ObligationSatisfied || s == ObligationWaived
}

var obligationTransitions = map[ObligationStatus][]ObligationStatus{
	ObligationOpen:            {ObligationPendingEvidence, ObligationOverdue, ObligationWaived},
	ObligationPendingEvidence: {ObligationSatisfied, ObligationOverdue, ObligationWaived},
	ObligationOverdue:         {ObligationPendingEvidence, ObligationSatisfied, ObligationWaived},
}

func (s ObligationStatus) CanTransitionTo(to ObligationStatus) bool {
	for _, allowed := range obligationTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

type AlertType string

const (
	AlertObligationOverdue AlertType = "OBLIGATION_OVERDUE"
)

type AlertStatus string

const (
	AlertOpen     AlertStatus = "OPEN"
	AlertResolved AlertStatus = "RESOLVED"
)

func ParseAlertStatus(s string) (AlertStatus, error) {
	return parseEnum("alert status", s, AlertOpen, AlertResolved)
}

type ActionStatus string

const (
	ActionOpen       ActionStatus = "OPEN"
	ActionInProgress ActionStatus = "IN_PROGRESS"
	ActionClosed     ActionStatus = "CLOSED"
)

func ParseActionStatus(s string) (ActionStatus, error) {
	return parseEnum("action status", s, ActionOpen, ActionInProgress, ActionClosed)
}

var actionTransitions = map[ActionStatus][]ActionStatus{
	ActionOpen:       {ActionInProgress, ActionClosed},
	ActionInProgress: {ActionClosed},
}

func (s ActionStatus) CanTransitionTo(to ActionStatus) bool {
	for _, allowed := range actionTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

type ReportPackStatus string

const (
	PackDraft     ReportPackStatus = "DRAFT"
	PackGenerated ReportPackStatus = "GENERATED"
	PackPublished ReportPackStatus = "PUBLISHED"
	PackArchived  ReportPackStatus = "ARCHIVED"
)

func ParseReportPackStatus(s string) (ReportPackStatus, error) {
	return parseEnum("report pack status", s, PackDraft, PackGenerated, PackPublished, PackArchived)
}

// IsFrozen reports whether content may no longer change.
func (s ReportPackStatus) IsFrozen() bool {
	return s == PackPublished || s == PackArchived
}

// SectionKey names a report pack section.
type SectionKey string

const (
	SectionNAVSummary         SectionKey = "NAV_SUMMARY"
	SectionPortfolioExposure  SectionKey = "PORTFOLIO_EXPOSURE"
	SectionOverdueObligations SectionKey = "OVERDUE_OBLIGATIONS"
	SectionOpenActions        SectionKey = "OPEN_ACTIONS"
)

func ParseSectionKey(s string) (SectionKey, error) {
	return parseEnum("section key", s,
		SectionNAVSummary, SectionPortfolioExposure, SectionOverdueObligations, SectionOpenActions)
}
