package service_test

import (
	"errors"
	"sync"

	"go.uber.org/mock/gomock"

	"fundops/internal/audit"
	"fundops/internal/lifecycle/models"
	"fundops/internal/lifecycle/service"
	"fundops/internal/lifecycle/service/mocks"
	dErrors "fundops/pkg/domain-errors"
)

func (s *ServiceSuite) TestDealPipeline() {
	s.Run("create, approve and convert leaves one audit event per step", func() {
		deal := s.newDeal("Project Atlas")
		s.Equal(models.StageIntake, deal.Stage)

		deal, err := s.svc.DecideDeal(s.ctx, s.team, s.fund.ID, deal.ID, service.DecideDealRequest{Stage: "APPROVED"})
		s.Require().NoError(err)
		s.Equal(models.StageApproved, deal.Stage)

		res, err := s.svc.ConvertDeal(s.ctx, s.team, s.fund.ID, deal.ID)
		s.Require().NoError(err)
		s.Equal(models.StageConverted, res.Deal.Stage)
		s.Require().NotNil(res.Deal.AssetID)
		s.Equal(*res.Deal.AssetID, res.Asset.ID)
		s.Require().NotNil(res.Asset.SourceDealID)
		s.Equal(deal.ID, *res.Asset.SourceDealID)

		events := s.events(audit.Query{EntityType: "deal", EntityID: deal.ID.String()})
		s.Require().Len(events, 3)
		s.Equal(audit.ActionDealCreated, events[0].Action)
		s.Equal(audit.ActionDealDecided, events[1].Action)
		s.Equal(audit.ActionDealConverted, events[2].Action)
		s.Contains(events[1].ChangedFields, "stage")
		s.Equal("team", events[2].ActorID)

		after, err := audit.Decode[struct {
			Stage models.DealStage `json:"stage"`
			Asset *models.Asset    `json:"asset"`
		}](events[2].After)
		s.Require().NoError(err)
		s.Equal(models.StageConverted, after.Stage)
		s.Equal(res.Asset.ID, after.Asset.ID)
	})

	s.Run("rejection requires code and notes", func() {
		deal := s.newDeal("Project Borealis")
		_, err := s.svc.DecideDeal(s.ctx, s.gp, s.fund.ID, deal.ID, service.DecideDealRequest{Stage: "REJECTED"})
		s.requireCode(err, dErrors.CodeValidation, models.ReasonRejectionDetailsMissing)

		got, err := s.svc.GetDeal(s.ctx, s.gp, s.fund.ID, deal.ID)
		s.Require().NoError(err)
		s.Equal(models.StageIntake, got.Stage)
	})

	s.Run("stage never moves backward", func() {
		deal := s.approvedDeal("Project Cygnus")
		for _, stage := range []string{"QUALIFICATION", "INTAKE", "IC_REVIEW"} {
			_, err := s.svc.DecideDeal(s.ctx, s.gp, s.fund.ID, deal.ID, service.DecideDealRequest{Stage: stage})
			s.requireCode(err, dErrors.CodeValidation, models.ReasonInvalidStageTransition)
		}

		got, err := s.svc.GetDeal(s.ctx, s.gp, s.fund.ID, deal.ID)
		s.Require().NoError(err)
		s.Equal(models.StageApproved, got.Stage)
	})

	s.Run("unknown stage is invalid input", func() {
		deal := s.newDeal("Project Lyra")
		_, err := s.svc.DecideDeal(s.ctx, s.gp, s.fund.ID, deal.ID, service.DecideDealRequest{Stage: "SCREENING"})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput), err.Error())
	})

	s.Run("only approved deals convert", func() {
		deal := s.newDeal("Project Draco")
		_, err := s.svc.ConvertDeal(s.ctx, s.gp, s.fund.ID, deal.ID)
		s.requireCode(err, dErrors.CodeValidation, models.ReasonDealNotApproved)
	})

	s.Run("auditor reads but cannot write", func() {
		deal := s.newDeal("Project Eridanus")
		_, err := s.svc.GetDeal(s.ctx, s.auditor, s.fund.ID, deal.ID)
		s.Require().NoError(err)
		_, err = s.svc.DecideDeal(s.ctx, s.auditor, s.fund.ID, deal.ID, service.DecideDealRequest{Stage: "APPROVED"})
		s.requireCode(err, dErrors.CodeForbidden, "role")
	})
}

func (s *ServiceSuite) TestConvertDeal_Once() {
	s.Run("second conversion conflicts and keeps the first asset", func() {
		deal := s.approvedDeal("Project Fornax")
		first, err := s.svc.ConvertDeal(s.ctx, s.gp, s.fund.ID, deal.ID)
		s.Require().NoError(err)
		before := s.eventCount()

		_, err = s.svc.ConvertDeal(s.ctx, s.gp, s.fund.ID, deal.ID)
		s.requireCode(err, dErrors.CodeConflict, models.ReasonDealAlreadyConverted)

		got, err := s.svc.GetDeal(s.ctx, s.gp, s.fund.ID, deal.ID)
		s.Require().NoError(err)
		s.Equal(first.Asset.ID, *got.AssetID)
		s.Equal(before, s.eventCount(), "a failed conversion writes no audit event")

		assets, err := s.svc.ListAssets(s.ctx, s.gp, s.fund.ID)
		s.Require().NoError(err)
		s.Len(assets, 1)
	})

	s.Run("concurrent conversions produce exactly one asset", func() {
		deal := s.approvedDeal("Project Gemini")
		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			conflicts int
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.svc.ConvertDeal(s.ctx, s.gp, s.fund.ID, deal.ID)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					succeeded++
				case dErrors.HasCode(err, dErrors.CodeConflict):
					conflicts++
				}
			}()
		}
		wg.Wait()
		s.Equal(1, succeeded)
		s.Equal(workers-1, conflicts)

		converted := s.events(audit.Query{EntityID: deal.ID.String(), Action: audit.ActionDealConverted})
		s.Len(converted, 1)
	})
}

func (s *ServiceSuite) TestAuditFailureRollsBackTheChange() {
	ctrl := gomock.NewController(s.T())
	recorder := mocks.NewMockAuditRecorder(ctrl)
	recorder.EXPECT().
		Record(gomock.Any(), gomock.Any()).
		Return(nil, errors.New("ledger unavailable"))
	svc := s.newService(recorder)

	_, err := svc.CreateDeal(s.ctx, s.team, s.fund.ID, service.CreateDealRequest{Name: "Project Hydra", Type: "DIRECT_INVESTMENT"})
	s.Require().Error(err)

	deals, err := s.svc.ListDeals(s.ctx, s.gp, s.fund.ID, models.DealFilter{})
	s.Require().NoError(err)
	s.Empty(deals, "the deal must not survive a failed audit write")
}
