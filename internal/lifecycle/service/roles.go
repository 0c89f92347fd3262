package service

import "fundops/internal/identity"

// Operation names an engine verb for authorization, tracing and metrics.
type Operation string

const (
	OpCreateFund                   Operation = "CreateFund"
	OpListFunds                    Operation = "ListFunds"
	OpCreateDeal                   Operation = "CreateDeal"
	OpGetDeal                      Operation = "GetDeal"
	OpListDeals                    Operation = "ListDeals"
	OpDecideDeal                   Operation = "DecideDeal"
	OpConvertDeal                  Operation = "ConvertDeal"
	OpCreateAsset                  Operation = "CreateAsset"
	OpGetAsset                     Operation = "GetAsset"
	OpListAssets                   Operation = "ListAssets"
	OpAttachFundInvestment         Operation = "AttachFundInvestment"
	OpListObligations              Operation = "ListObligations"
	OpUpdateObligationStatus       Operation = "UpdateObligationStatus"
	OpWaiveObligation              Operation = "WaiveObligation"
	OpGenerateRecurringObligations Operation = "GenerateRecurringObligations"
	OpScanOverdueObligations       Operation = "ScanOverdueObligations"
	OpListAlerts                   Operation = "ListAlerts"
	OpListActions                  Operation = "ListActions"
	OpUpdateActionStatus           Operation = "UpdateActionStatus"
	OpWaiveActionEvidence          Operation = "WaiveActionEvidence"
	OpRegisterEvidence             Operation = "RegisterEvidence"
	OpConfirmEvidenceUpload        Operation = "ConfirmEvidenceUpload"
	OpSearchEvidence               Operation = "SearchEvidence"
	OpCreateReportPack             Operation = "CreateReportPack"
	OpGenerateReportPack           Operation = "GenerateReportPack"
	OpAnnotateReportSection        Operation = "AnnotateReportSection"
	OpPublishReportPack            Operation = "PublishReportPack"
	OpArchiveReportPack            Operation = "ArchiveReportPack"
	OpGetReportPack                Operation = "GetReportPack"
	OpListReportPacks              Operation = "ListReportPacks"
	OpListPublishedReportPacks     Operation = "ListPublishedReportPacks"
	OpListAuditEvents              Operation = "ListAuditEvents"
	OpVerifyAuditChain             Operation = "VerifyAuditChain"
)

var (
	dealWriters      = identity.NewRoles(identity.RoleGP, identity.RoleInvestmentTeam)
	internalReaders  = identity.NewRoles(identity.RoleGP, identity.RoleCompliance, identity.RoleDirector, identity.RoleAuditor, identity.RoleInvestmentTeam)
	complianceOps    = identity.NewRoles(identity.RoleGP, identity.RoleCompliance)
	packPublishers   = identity.NewRoles(identity.RoleGP, identity.RoleDirector)
	evidenceHandlers = identity.NewRoles(identity.RoleGP, identity.RoleCompliance, identity.RoleInvestmentTeam)
	auditReaders     = identity.NewRoles(identity.RoleAuditor, identity.RoleCompliance)
	anyRole          = identity.NewRoles(identity.RoleGP, identity.RoleCompliance, identity.RoleDirector,
		identity.RoleAuditor, identity.RoleInvestor, identity.RoleInvestmentTeam)
)

// roleTable is the single source of role requirements. ADMIN passes every
// check and is not listed.
var roleTable = map[Operation]identity.Roles{
	OpCreateFund: identity.NewRoles(identity.RoleAdmin),
	OpListFunds:  anyRole,

	OpCreateDeal:  dealWriters,
	OpDecideDeal:  dealWriters,
	OpConvertDeal: dealWriters,
	OpGetDeal:     internalReaders,
	OpListDeals:   internalReaders,

	OpCreateAsset:          dealWriters,
	OpAttachFundInvestment: dealWriters,
	OpGetAsset:             internalReaders,
	OpListAssets:           internalReaders,

	OpUpdateObligationStatus:       complianceOps,
	OpWaiveObligation:              identity.NewRoles(identity.RoleCompliance, identity.RoleDirector),
	OpGenerateRecurringObligations: identity.NewRoles(identity.RoleCompliance),
	OpScanOverdueObligations:       identity.NewRoles(identity.RoleCompliance),
	OpListObligations:              internalReaders,
	OpListAlerts:                   internalReaders,
	OpListActions:                  internalReaders,

	OpUpdateActionStatus:  complianceOps,
	OpWaiveActionEvidence: identity.NewRoles(identity.RoleCompliance),

	OpRegisterEvidence:      evidenceHandlers,
	OpConfirmEvidenceUpload: evidenceHandlers,
	// Investors pass the role check; the scope filter then gives them an
	// empty view rather than an error.
	OpSearchEvidence: append(identity.Roles{identity.RoleInvestor}, internalReaders...),

	OpCreateReportPack:         complianceOps,
	OpGenerateReportPack:       complianceOps,
	OpAnnotateReportSection:    complianceOps,
	OpPublishReportPack:        packPublishers,
	OpArchiveReportPack:        packPublishers,
	OpGetReportPack:            internalReaders,
	OpListReportPacks:          internalReaders,
	OpListPublishedReportPacks: identity.NewRoles(identity.RoleInvestor, identity.RoleGP, identity.RoleDirector, identity.RoleCompliance, identity.RoleAuditor),

	OpListAuditEvents:  auditReaders,
	OpVerifyAuditChain: auditReaders,
}

// RolesFor returns the roles that may perform op. Unknown operations require
// ADMIN.
func RolesFor(op Operation) identity.Roles {
	if roles, ok := roleTable[op]; ok {
		return roles
	}
	return identity.NewRoles(identity.RoleAdmin)
}

// Operations lists every operation in the role table.
func Operations() []Operation {
	ops := make([]Operation, 0, len(roleTable))
	for op := range roleTable {
		ops = append(ops, op)
	}
	return ops
}
