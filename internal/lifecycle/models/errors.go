package models

import dErrors "fundops/pkg/domain-errors"

// Named reasons carried on validation and conflict errors. Clients branch on
// these, so they are part of the API.
const (
	ReasonInvalidStageTransition      = "invalid_stage_transition"
	ReasonRejectionDetailsMissing     = "rejection_details_missing"
	ReasonDealNotApproved             = "deal_not_approved"
	ReasonDealAlreadyConverted        = "deal_already_converted"
	ReasonAssetTypeMismatch           = "asset_type_mismatch"
	ReasonInvalidObligationTransition = "invalid_obligation_transition"
	ReasonObligationNotYetDue         = "obligation_not_yet_due"
	ReasonWaiverReasonMissing         = "waiver_reason_missing"
	ReasonEvidenceMissing             = "evidence_missing"
	ReasonInvalidActionTransition     = "invalid_action_transition"
	ReasonReportPackPublished         = "report_pack_published"
	ReasonReportPackNotGenerated      = "report_pack_not_generated"
	ReasonReportPackNotPublished      = "report_pack_not_published"
	ReasonEvidenceAlreadyUploaded     = "evidence_already_uploaded"
)

func validation(reason, msg string) error {
	return dErrors.NewWithReason(dErrors.CodeValidation, reason, msg)
}

func invalidInput(msg string) error {
	return dErrors.New(dErrors.CodeInvalidInput, msg)
}
