// Package audit records an append-only, hash-chained trail of every state
// change (and every audited read) per fund.
package audit

import (
	"encoding/json"
	"time"

	id "fundops/pkg/domain"
)

// Category classifies events for retention and routing.
type Category string

const (
	// CategoryCompliance covers state changes with regulatory significance.
	CategoryCompliance Category = "compliance"
	// CategoryAccess covers audited reads such as investor report listings.
	CategoryAccess Category = "access"
)

// Action is the stable wire name of an audited action.
type Action string

const (
	ActionFundCreated            Action = "fund_created"
	ActionDealCreated            Action = "deal_created"
	ActionDealDecided            Action = "deal_decided"
	ActionDealConverted          Action = "deal_converted"
	ActionAssetCreated           Action = "asset_created"
	ActionFundInvestmentAttached Action = "fund_investment_attached"
	ActionObligationCreated      Action = "obligation_created"
	ActionObligationUpdated      Action = "obligation_status_updated"
	ActionAlertCreated           Action = "alert_created"
	ActionAlertResolved          Action = "alert_resolved"
	ActionActionCreated          Action = "action_created"
	ActionActionUpdated          Action = "action_status_updated"
	ActionEvidenceRegistered     Action = "evidence_registered"
	ActionEvidenceConfirmed      Action = "evidence_upload_confirmed"
	ActionReportPackCreated      Action = "report_pack_created"
	ActionReportPackGenerated    Action = "report_pack_generated"
	ActionReportSectionAnnotated Action = "report_section_annotated"
	ActionReportPackPublished    Action = "report_pack_published"
	ActionReportPackArchived     Action = "report_pack_archived"
	ActionPublishedPacksListed   Action = "published_report_packs_listed"
)

var readActions = map[Action]struct{}{
	ActionPublishedPacksListed: {},
}

// Category derives the category from the action.
func (a Action) Category() Category {
	if _, ok := readActions[a]; ok {
		return CategoryAccess
	}
	return CategoryCompliance
}

// Event is one immutable audit row.
type Event struct {
	ID            id.AuditEventID `json:"id"`
	FundID        id.FundID       `json:"fund_id"`
	Category      Category        `json:"category"`
	AccessLevel   string          `json:"access_level,omitempty"`
	ActorID       string          `json:"actor_id"`
	ActorRoles    []string        `json:"actor_roles"`
	Action        Action          `json:"action"`
	EntityType    string          `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	Before        json.RawMessage `json:"before,omitempty"`
	After         json.RawMessage `json:"after,omitempty"`
	ChangedFields []string        `json:"changed_fields"`
	RequestID     string          `json:"request_id,omitempty"`
	Sequence      int64           `json:"sequence"`
	PrevHash      string          `json:"prev_hash"`
	Hash          string          `json:"hash"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Entry is what callers hand to the ledger. Before and After are domain
// values; the ledger snapshots them canonically.
type Entry struct {
	FundID      id.FundID
	AccessLevel string
	ActorID     string
	ActorRoles  []string
	Action      Action
	EntityType  string
	EntityID    string
	Before      any
	After       any
	RequestID   string
}

// Query filters a fund's events. Zero values match everything.
type Query struct {
	EntityType    string
	EntityID      string
	Action        Action
	AfterSequence int64
	Limit         int
}

// Matches reports whether e satisfies q, ignoring Limit.
func (q Query) Matches(e Event) bool {
	if q.EntityType != "" && e.EntityType != q.EntityType {
		return false
	}
	if q.EntityID != "" && e.EntityID != q.EntityID {
		return false
	}
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	return e.Sequence > q.AfterSequence
}
