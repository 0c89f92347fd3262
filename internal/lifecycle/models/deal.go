package models

import (
	"strings"
	"time"

	id "fundops/pkg/domain"
	dErrors "fundops/pkg/domain-errors"
)

// Deal is a candidate investment moving through the review pipeline.
//
// Invariants:
//   - Deals are never deleted
//   - Stage only moves forward; REJECTED carries a code and notes
//   - AssetID is set exactly once, together with Stage CONVERTED_TO_ASSET
type Deal struct {
	ID             id.DealID      `json:"id"`
	FundID         id.FundID      `json:"fund_id"`
	Name           string         `json:"name"`
	Type           InvestmentType `json:"type"`
	Strategy       string         `json:"strategy,omitempty"`
	AccessLevel    AccessLevel    `json:"access_level"`
	Stage          DealStage      `json:"stage"`
	AssetID        *id.AssetID    `json:"asset_id,omitempty"`
	RejectionCode  string         `json:"rejection_code,omitempty"`
	RejectionNotes string         `json:"rejection_notes,omitempty"`
	CreatedBy      string         `json:"created_by"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func NewDeal(dealID id.DealID, fundID id.FundID, name string, typ InvestmentType, strategy string,
	access AccessLevel, createdBy string, now time.Time) (*Deal, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 200 {
		return nil, invalidInput("deal name must be 1-200 characters")
	}
	return &Deal{
		ID:          dealID,
		FundID:      fundID,
		Name:        name,
		Type:        typ,
		Strategy:    strings.TrimSpace(strategy),
		AccessLevel: access,
		Stage:       StageIntake,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Decision is a requested stage change.
type Decision struct {
	Stage          DealStage
	RejectionCode  string
	RejectionNotes string
}

// CanDecide validates a decision against the current stage.
func (d *Deal) CanDecide(dec Decision) error {
	if d.Stage == StageConverted || d.AssetID != nil {
		return dErrors.NewWithReason(dErrors.CodeConflict, ReasonDealAlreadyConverted, "deal has already been converted")
	}
	if !d.Stage.CanDecideTo(dec.Stage) {
		return validation(ReasonInvalidStageTransition,
			"deal cannot move from "+string(d.Stage)+" to "+string(dec.Stage))
	}
	if dec.Stage == StageRejected &&
		(strings.TrimSpace(dec.RejectionCode) == "" || strings.TrimSpace(dec.RejectionNotes) == "") {
		return validation(ReasonRejectionDetailsMissing, "rejection requires a code and notes")
	}
	return nil
}

func (d *Deal) ApplyDecision(dec Decision, now time.Time) {
	d.Stage = dec.Stage
	if dec.Stage == StageRejected {
		d.RejectionCode = strings.TrimSpace(dec.RejectionCode)
		d.RejectionNotes = strings.TrimSpace(dec.RejectionNotes)
	}
	d.UpdatedAt = now
}

// CanConvert allows conversion only from APPROVED and only once.
func (d *Deal) CanConvert() error {
	if d.AssetID != nil || d.Stage == StageConverted {
		return dErrors.NewWithReason(dErrors.CodeConflict, ReasonDealAlreadyConverted, "deal has already been converted")
	}
	if d.Stage != StageApproved {
		return validation(ReasonDealNotApproved, "only APPROVED deals can be converted")
	}
	return nil
}

func (d *Deal) ApplyConversion(assetID id.AssetID, now time.Time) {
	d.AssetID = &assetID
	d.Stage = StageConverted
	d.UpdatedAt = now
}
