package service_test

import (
	"context"

	"fundops/internal/audit"
	"fundops/internal/identity"
	"fundops/internal/lifecycle/models"
	"fundops/internal/lifecycle/service"
	"fundops/internal/platform/logger"
	id "fundops/pkg/domain"
	dErrors "fundops/pkg/domain-errors"
	"fundops/pkg/testutil"
)

// TestCrossFundAccessIsForbidden drives every fund-scoped verb with an actor
// holding every non-admin role, but only in another fund.
func (s *ServiceSuite) TestCrossFundAccessIsForbidden() {
	asset, action, _ := s.overdueAction()
	deal := s.approvedDeal("Project Indus")
	pack := s.generatedPack()
	obligations, err := s.svc.ListObligations(s.ctx, s.compliance, s.fund.ID, models.ObligationFilter{})
	s.Require().NoError(err)
	s.Require().NotEmpty(obligations)
	obligationID := obligations[0].ID
	evidence, err := s.svc.RegisterEvidence(s.ctx, s.gp, s.fund.ID, service.RegisterEvidenceRequest{Folder: "compliance", Filename: "x.pdf"})
	s.Require().NoError(err)

	other, err := s.svc.CreateFund(s.ctx, s.admin, service.CreateFundRequest{Name: "Fund II", BaseCurrency: "USD"})
	s.Require().NoError(err)
	outsider := testutil.Caller(testutil.Actor(s.T(), "outsider", []identity.Role{
		identity.RoleGP, identity.RoleCompliance, identity.RoleDirector, identity.RoleAuditor,
		identity.RoleInvestor, identity.RoleInvestmentTeam,
	}, other.ID))

	ctx, f := s.ctx, s.fund.ID
	closed := "CLOSED"
	verbs := map[service.Operation]func() error{
		service.OpCreateDeal: func() error {
			_, err := s.svc.CreateDeal(ctx, outsider, f, service.CreateDealRequest{Name: "x", Type: "CREDIT"})
			return err
		},
		service.OpGetDeal: func() error { _, err := s.svc.GetDeal(ctx, outsider, f, deal.ID); return err },
		service.OpListDeals: func() error {
			_, err := s.svc.ListDeals(ctx, outsider, f, models.DealFilter{})
			return err
		},
		service.OpDecideDeal: func() error {
			_, err := s.svc.DecideDeal(ctx, outsider, f, deal.ID, service.DecideDealRequest{Stage: "REJECTED", RejectionCode: "c", RejectionNotes: "n"})
			return err
		},
		service.OpConvertDeal: func() error { _, err := s.svc.ConvertDeal(ctx, outsider, f, deal.ID); return err },
		service.OpCreateAsset: func() error {
			_, err := s.svc.CreateAsset(ctx, outsider, f, service.CreateAssetRequest{Name: "x", AssetType: "CREDIT"})
			return err
		},
		service.OpGetAsset:    func() error { _, err := s.svc.GetAsset(ctx, outsider, f, asset.ID); return err },
		service.OpListAssets:  func() error { _, err := s.svc.ListAssets(ctx, outsider, f); return err },
		service.OpAttachFundInvestment: func() error {
			_, err := s.svc.AttachFundInvestment(ctx, outsider, f, asset.ID, service.AttachFundInvestmentRequest{})
			return err
		},
		service.OpListObligations: func() error {
			_, err := s.svc.ListObligations(ctx, outsider, f, models.ObligationFilter{})
			return err
		},
		service.OpUpdateObligationStatus: func() error {
			_, err := s.svc.UpdateObligationStatus(ctx, outsider, f, obligationID, service.UpdateObligationStatusRequest{Status: "PENDING_EVIDENCE"})
			return err
		},
		service.OpWaiveObligation: func() error {
			_, err := s.svc.UpdateObligationStatus(ctx, outsider, f, obligationID, service.UpdateObligationStatusRequest{Status: "WAIVED", WaiverReason: "r"})
			return err
		},
		service.OpGenerateRecurringObligations: func() error {
			_, err := s.svc.GenerateRecurringObligations(ctx, outsider, f, models.Date{})
			return err
		},
		service.OpScanOverdueObligations: func() error {
			_, err := s.svc.ScanOverdueObligations(ctx, outsider, f, scanDay)
			return err
		},
		service.OpListAlerts: func() error {
			_, err := s.svc.ListAlerts(ctx, outsider, f, models.AlertFilter{})
			return err
		},
		service.OpListActions: func() error {
			_, err := s.svc.ListActions(ctx, outsider, f, models.ActionFilter{})
			return err
		},
		service.OpUpdateActionStatus: func() error {
			_, err := s.svc.UpdateActionStatus(ctx, outsider, f, action.ID, service.UpdateActionRequest{Status: &closed})
			return err
		},
		service.OpWaiveActionEvidence: func() error {
			_, err := s.svc.UpdateActionStatus(ctx, outsider, f, action.ID, service.UpdateActionRequest{EvidenceRequired: ptr(false)})
			return err
		},
		service.OpRegisterEvidence: func() error {
			_, err := s.svc.RegisterEvidence(ctx, outsider, f, service.RegisterEvidenceRequest{Folder: "deals", Filename: "y.pdf"})
			return err
		},
		service.OpConfirmEvidenceUpload: func() error {
			_, err := s.svc.ConfirmEvidenceUpload(ctx, outsider, f, evidence.ID)
			return err
		},
		service.OpSearchEvidence: func() error {
			_, err := s.svc.SearchEvidence(ctx, outsider, f, service.SearchEvidenceRequest{Query: "x"})
			return err
		},
		service.OpCreateReportPack: func() error {
			_, err := s.svc.CreateReportPack(ctx, outsider, f, service.CreateReportPackRequest{Period: juneReport})
			return err
		},
		service.OpGenerateReportPack: func() error { _, err := s.svc.GenerateReportPack(ctx, outsider, f, pack.ID); return err },
		service.OpAnnotateReportSection: func() error {
			_, err := s.svc.AnnotateReportSection(ctx, outsider, f, pack.ID, models.SectionNAVSummary, service.AnnotateSectionRequest{Commentary: "x"})
			return err
		},
		service.OpPublishReportPack: func() error { _, err := s.svc.PublishReportPack(ctx, outsider, f, pack.ID); return err },
		service.OpArchiveReportPack: func() error { _, err := s.svc.ArchiveReportPack(ctx, outsider, f, pack.ID); return err },
		service.OpGetReportPack:     func() error { _, err := s.svc.GetReportPack(ctx, outsider, f, pack.ID); return err },
		service.OpListReportPacks: func() error {
			_, err := s.svc.ListReportPacks(ctx, outsider, f, models.ReportPackFilter{})
			return err
		},
		service.OpListPublishedReportPacks: func() error { _, err := s.svc.ListPublishedReportPacks(ctx, outsider, f); return err },
		service.OpListAuditEvents: func() error {
			_, err := s.svc.ListAuditEvents(ctx, outsider, f, audit.Query{})
			return err
		},
		service.OpVerifyAuditChain: func() error { _, err := s.svc.VerifyAuditChain(ctx, outsider, f); return err },
	}

	unscoped := map[service.Operation]bool{service.OpCreateFund: true, service.OpListFunds: true}
	for _, op := range service.Operations() {
		if !unscoped[op] {
			s.Contains(verbs, op, "verb %s is not covered", op)
		}
	}

	before := s.eventCount()
	for op, call := range verbs {
		s.Run(string(op), func() {
			s.requireCode(call(), dErrors.CodeForbidden, "fund_scope")
		})
	}
	s.Equal(before, s.eventCount(), "denied calls leave no trace in the ledger")

	s.Run("unknown fund is forbidden, not missing", func() {
		_, err := s.svc.ListDeals(ctx, s.gp, id.NewFundID(), models.DealFilter{})
		s.requireCode(err, dErrors.CodeForbidden, "fund_scope")
	})
}

func (s *ServiceSuite) TestFunds() {
	s.Run("only admins create funds", func() {
		_, err := s.svc.CreateFund(s.ctx, s.gp, service.CreateFundRequest{Name: "Rogue", BaseCurrency: "USD"})
		s.requireCode(err, dErrors.CodeForbidden, "role")
	})

	s.Run("currency is validated", func() {
		_, err := s.svc.CreateFund(s.ctx, s.admin, service.CreateFundRequest{Name: "Fund X", BaseCurrency: "dollars"})
		s.requireCode(err, dErrors.CodeInvalidInput)
	})

	s.Run("list is scoped to the actor's funds", func() {
		other, err := s.svc.CreateFund(s.ctx, s.admin, service.CreateFundRequest{Name: "Fund III", BaseCurrency: "GBP"})
		s.Require().NoError(err)

		mine, err := s.svc.ListFunds(s.ctx, s.gp)
		s.Require().NoError(err)
		s.Require().Len(mine, 1)
		s.Equal(s.fund.ID, mine[0].ID)

		all, err := s.svc.ListFunds(s.ctx, s.admin)
		s.Require().NoError(err)
		ids := make([]id.FundID, 0, len(all))
		for _, fund := range all {
			ids = append(ids, fund.ID)
		}
		s.Contains(ids, other.ID)
		s.Contains(ids, s.fund.ID)
	})

	s.Run("admin passes every role check", func() {
		_, err := s.svc.ListAuditEvents(s.ctx, s.admin, s.fund.ID, audit.Query{})
		s.Require().NoError(err)
	})
}

func (s *ServiceSuite) TestVerifyAuditChain() {
	s.approvedDeal("Project Lyra")

	v, err := s.svc.VerifyAuditChain(s.ctx, s.auditor, s.fund.ID)
	s.Require().NoError(err)
	s.True(v.Valid)
	s.Equal(3, v.Checked, "fund, deal created, deal decided")

	edited := audit.NewLedger(rewrittenStore{Store: s.db, sequence: 2, edit: func(e *audit.Event) {
		e.ActorID = "someone-else"
	}}, audit.WithLogger(logger.Discard()))
	v, err = s.newService(edited).VerifyAuditChain(s.ctx, s.auditor, s.fund.ID)
	s.Require().NoError(err)
	s.False(v.Valid)
	s.Equal(int64(2), v.BrokenAt)

	_, err = s.svc.VerifyAuditChain(s.ctx, s.gp, s.fund.ID)
	s.requireCode(err, dErrors.CodeForbidden, "role")
}

// rewrittenStore serves one event altered after it was committed.
type rewrittenStore struct {
	audit.Store
	sequence int64
	edit     func(*audit.Event)
}

func (r rewrittenStore) List(ctx context.Context, fundID id.FundID, q audit.Query) ([]audit.Event, error) {
	events, err := r.Store.List(ctx, fundID, q)
	for i := range events {
		if events[i].Sequence == r.sequence {
			r.edit(&events[i])
		}
	}
	return events, err
}
