package models

import (
	"slices"

	id "fundops/pkg/domain"
)

// FundScope is the set of funds a cross-fund query may touch. Stores apply it
// in the query itself; an empty, non-All scope matches nothing.
type FundScope struct {
	All     bool
	FundIDs []id.FundID
}

// Includes reports whether fundID is in scope.
func (s FundScope) Includes(fundID id.FundID) bool {
	return s.All || slices.Contains(s.FundIDs, fundID)
}

// Filters for list queries. Zero values match everything.

type DealFilter struct {
	Stage DealStage
}

type ObligationFilter struct {
	AssetID *id.AssetID
	Type    ObligationType
	// Statuses restricts to these statuses when non-empty.
	Statuses []ObligationStatus
	// DueBefore restricts to obligations due strictly before this date.
	DueBefore Date
}

type AlertFilter struct {
	Status  AlertStatus
	AssetID *id.AssetID
}

type ActionFilter struct {
	Status  ActionStatus
	AssetID *id.AssetID
}

type EvidenceFilter struct {
	ActionID     *id.ActionID
	DealID       *id.DealID
	ReportPackID *id.ReportPackID
	// Text matches filename or folder, case-insensitively.
	Text string
}

type ReportPackFilter struct {
	Statuses []ReportPackStatus
}
