package service_test

import (
	"sync"

	"github.com/shopspring/decimal"

	"fundops/internal/audit"
	"fundops/internal/lifecycle/models"
	"fundops/internal/lifecycle/service"
	dErrors "fundops/pkg/domain-errors"
)

func (s *ServiceSuite) TestAttachFundInvestment() {
	s.Run("quarterly attach plans the current period once", func() {
		asset, res := s.fundInvestment()
		s.Require().True(res.ObligationCreated)
		s.Equal(models.NewDate(2025, 4, 1), res.Obligation.PeriodStart)
		s.Equal(models.NewDate(2025, 6, 30), res.Obligation.PeriodEnd)
		s.Equal(models.NewDate(2025, 8, 14), res.Obligation.DueDate)

		again, err := s.svc.AttachFundInvestment(s.ctx, s.gp, s.fund.ID, asset.ID, service.AttachFundInvestmentRequest{
			ManagerName:        "Manager LLP",
			Commitment:         decimal.RequireFromString("30000000"),
			Currency:           "EUR",
			ReportingFrequency: "QUARTERLY",
		})
		s.Require().NoError(err)
		s.False(again.ObligationCreated)
		s.Equal(res.Obligation.ID, again.Obligation.ID)

		assetID := asset.ID
		obligations, err := s.svc.ListObligations(s.ctx, s.compliance, s.fund.ID, models.ObligationFilter{AssetID: &assetID})
		s.Require().NoError(err)
		s.Len(obligations, 1)

		detail, err := s.svc.GetAsset(s.ctx, s.auditor, s.fund.ID, asset.ID)
		s.Require().NoError(err)
		s.Require().NotNil(detail.FundInvestment)
		s.True(detail.FundInvestment.Commitment.Equal(decimal.RequireFromString("30000000")))
	})

	s.Run("audit snapshots keep decimals and dates exact", func() {
		asset, res := s.fundInvestment()

		attached := s.events(audit.Query{EntityID: asset.ID.String(), Action: audit.ActionFundInvestmentAttached})
		s.Require().Len(attached, 1)
		inv, err := audit.Decode[models.FundInvestment](attached[0].After)
		s.Require().NoError(err)
		s.True(inv.Commitment.Equal(decimal.RequireFromString("25000000.50")), inv.Commitment.String())
		s.Equal("EUR", inv.Currency)

		created := s.events(audit.Query{EntityID: res.Obligation.ID.String(), Action: audit.ActionObligationCreated})
		s.Require().Len(created, 1)
		o, err := audit.Decode[models.Obligation](created[0].After)
		s.Require().NoError(err)
		s.True(o.DueDate.Equal(res.Obligation.DueDate))
		s.Contains(string(created[0].After), `"due_date":"2025-08-14"`)
	})

	s.Run("non fund-investment assets are rejected", func() {
		asset, err := s.svc.CreateAsset(s.ctx, s.gp, s.fund.ID, service.CreateAssetRequest{Name: "Direct Co", AssetType: "DIRECT_INVESTMENT"})
		s.Require().NoError(err)
		_, err = s.svc.AttachFundInvestment(s.ctx, s.gp, s.fund.ID, asset.ID, service.AttachFundInvestmentRequest{
			ManagerName: "M", Commitment: decimal.NewFromInt(1), Currency: "USD", ReportingFrequency: "ANNUAL",
		})
		s.requireCode(err, dErrors.CodeValidation, models.ReasonAssetTypeMismatch)
	})
}

func (s *ServiceSuite) TestGenerateRecurringObligations() {
	s.fundInvestment()

	created, err := s.svc.GenerateRecurringObligations(s.ctx, s.compliance, s.fund.ID, models.NewDate(2025, 12, 31))
	s.Require().NoError(err)
	s.Require().Len(created, 2)
	s.Equal(models.NewDate(2025, 7, 1), created[0].PeriodStart)
	s.Equal(models.NewDate(2025, 10, 1), created[1].PeriodStart)

	again, err := s.svc.GenerateRecurringObligations(s.ctx, s.compliance, s.fund.ID, models.NewDate(2025, 12, 31))
	s.Require().NoError(err)
	s.Empty(again, "generation is idempotent")

	_, err = s.svc.GenerateRecurringObligations(s.ctx, s.gp, s.fund.ID, models.Date{})
	s.requireCode(err, dErrors.CodeForbidden, "role")
}

func (s *ServiceSuite) TestScan_NothingOverdueOnTheDueDate() {
	s.fundInvestment()
	res, err := s.svc.ScanOverdueObligations(s.ctx, s.compliance, s.fund.ID, models.NewDate(2025, 8, 14))
	s.Require().NoError(err)
	s.Empty(res.AlertsCreated)
}

func (s *ServiceSuite) TestScan_RepeatedScansRaiseOneAlert() {
	asset, _ := s.fundInvestment()

	first, err := s.svc.ScanOverdueObligations(s.ctx, s.compliance, s.fund.ID, scanDay)
	s.Require().NoError(err)
	s.Require().Len(first.AlertsCreated, 1)
	s.Require().Len(first.ActionsCreated, 1)
	alert := first.AlertsCreated[0]
	s.Equal(models.SeverityMedium, alert.Severity)
	s.Equal(18, alert.DaysOverdue)
	s.Equal(alert.ID, first.ActionsCreated[0].AlertID)
	s.True(first.ActionsCreated[0].EvidenceRequired)

	second, err := s.svc.ScanOverdueObligations(s.ctx, s.compliance, s.fund.ID, scanDay)
	s.Require().NoError(err)
	s.Empty(second.AlertsCreated)
	s.Equal(1, second.Skipped)

	assetID := asset.ID
	alerts, err := s.svc.ListAlerts(s.ctx, s.auditor, s.fund.ID, models.AlertFilter{AssetID: &assetID})
	s.Require().NoError(err)
	s.Len(alerts, 1)
	actions, err := s.svc.ListActions(s.ctx, s.auditor, s.fund.ID, models.ActionFilter{AssetID: &assetID})
	s.Require().NoError(err)
	s.Len(actions, 1)

	obligations, err := s.svc.ListObligations(s.ctx, s.auditor, s.fund.ID, models.ObligationFilter{AssetID: &assetID})
	s.Require().NoError(err)
	s.Require().Len(obligations, 1)
	s.Equal(models.ObligationOverdue, obligations[0].Status)
}

func (s *ServiceSuite) TestScan_ConcurrentScansNeverDuplicate() {
	s.fundInvestment()

	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.svc.ScanOverdueObligations(s.ctx, s.compliance, s.fund.ID, scanDay)
		}()
	}
	wg.Wait()

	alerts, err := s.svc.ListAlerts(s.ctx, s.auditor, s.fund.ID, models.AlertFilter{})
	s.Require().NoError(err)
	s.Len(alerts, 1)
	s.Len(s.events(audit.Query{Action: audit.ActionAlertCreated}), 1)
}

func (s *ServiceSuite) TestScan_SkipsWaivedObligations() {
	_, res := s.fundInvestment()
	_, err := s.svc.UpdateObligationStatus(s.ctx, s.compliance, s.fund.ID, res.Obligation.ID,
		service.UpdateObligationStatusRequest{Status: "WAIVED", WaiverReason: "manager in wind-down"})
	s.Require().NoError(err)

	scan, err := s.svc.ScanOverdueObligations(s.ctx, s.compliance, s.fund.ID, scanDay)
	s.Require().NoError(err)
	s.Zero(scan.Scanned)
	s.Empty(scan.AlertsCreated)
}

func (s *ServiceSuite) TestWaiveObligation() {
	_, res := s.fundInvestment()
	obligationID := res.Obligation.ID

	s.Run("gp may not waive", func() {
		_, err := s.svc.UpdateObligationStatus(s.ctx, s.gp, s.fund.ID, obligationID,
			service.UpdateObligationStatusRequest{Status: "WAIVED", WaiverReason: "n/a"})
		s.requireCode(err, dErrors.CodeForbidden, "role")
	})

	s.Run("waiver needs a reason", func() {
		_, err := s.svc.UpdateObligationStatus(s.ctx, s.director, s.fund.ID, obligationID,
			service.UpdateObligationStatusRequest{Status: "WAIVED", WaiverReason: "  "})
		s.requireCode(err, dErrors.CodeValidation, models.ReasonWaiverReasonMissing)
	})

	s.Run("director waives with a reason", func() {
		o, err := s.svc.UpdateObligationStatus(s.ctx, s.director, s.fund.ID, obligationID,
			service.UpdateObligationStatusRequest{Status: "WAIVED", WaiverReason: "side letter exemption"})
		s.Require().NoError(err)
		s.Equal(models.ObligationWaived, o.Status)
		s.Require().NotNil(o.Waiver)
		s.Equal("director", o.Waiver.WaivedBy)
	})

	s.Run("waived is terminal", func() {
		_, err := s.svc.UpdateObligationStatus(s.ctx, s.compliance, s.fund.ID, obligationID,
			service.UpdateObligationStatusRequest{Status: "PENDING_EVIDENCE"})
		s.requireCode(err, dErrors.CodeValidation, models.ReasonInvalidObligationTransition)
	})
}

func (s *ServiceSuite) TestUpdateObligationStatus_OverdueBeforeDueDate() {
	_, res := s.fundInvestment()
	_, err := s.svc.UpdateObligationStatus(s.ctx, s.compliance, s.fund.ID, res.Obligation.ID,
		service.UpdateObligationStatusRequest{Status: "OVERDUE"})
	s.requireCode(err, dErrors.CodeValidation, models.ReasonObligationNotYetDue)
}
