package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/mock/gomock"

	"fundops/internal/audit"
	"fundops/internal/lifecycle/models"
	"fundops/internal/lifecycle/service"
	"fundops/internal/lifecycle/service/mocks"
	dErrors "fundops/pkg/domain-errors"
)

var juneReport = models.NewDate(2025, 6, 10)

func (s *ServiceSuite) generatedPack() *service.PackDetail {
	s.T().Helper()
	pack, err := s.svc.CreateReportPack(s.ctx, s.gp, s.fund.ID, service.CreateReportPackRequest{Period: juneReport})
	s.Require().NoError(err)
	detail, err := s.svc.GenerateReportPack(s.ctx, s.gp, s.fund.ID, pack.ID)
	s.Require().NoError(err)
	return detail
}

func (s *ServiceSuite) TestReportPackLifecycle() {
	s.fundInvestment()
	detail := s.generatedPack()
	s.Equal(models.PackGenerated, detail.Status)
	s.Equal(models.NewDate(2025, 6, 1), detail.PeriodStart)
	s.Equal(models.NewDate(2025, 6, 30), detail.PeriodEnd)
	s.Equal(1, detail.Version)
	s.Require().Len(detail.Sections, 4)
	for _, sec := range detail.Sections {
		s.True(json.Valid(sec.Content), sec.Key)
	}

	s.Run("commentary survives regeneration", func() {
		_, err := s.svc.AnnotateReportSection(s.ctx, s.compliance, s.fund.ID, detail.ID, models.SectionNAVSummary,
			service.AnnotateSectionRequest{Commentary: "Two managers late on Q2 NAV."})
		s.Require().NoError(err)

		again, err := s.svc.GenerateReportPack(s.ctx, s.gp, s.fund.ID, detail.ID)
		s.Require().NoError(err)
		for _, sec := range again.Sections {
			if sec.Key == models.SectionNAVSummary {
				s.Equal("Two managers late on Q2 NAV.", sec.Commentary)
			}
		}
	})

	s.Run("annotating a missing section is not found", func() {
		_, err := s.svc.AnnotateReportSection(s.ctx, s.gp, s.fund.ID, detail.ID, models.SectionKey("FX_HEDGES"),
			service.AnnotateSectionRequest{Commentary: "n/a"})
		s.requireCode(err, dErrors.CodeNotFound)
	})

	s.Run("commentary is bounded", func() {
		_, err := s.svc.AnnotateReportSection(s.ctx, s.gp, s.fund.ID, detail.ID, models.SectionNAVSummary,
			service.AnnotateSectionRequest{Commentary: strings.Repeat("x", 10001)})
		s.requireCode(err, dErrors.CodeInvalidInput)
	})

	s.Run("compliance may not publish", func() {
		_, err := s.svc.PublishReportPack(s.ctx, s.compliance, s.fund.ID, detail.ID)
		s.requireCode(err, dErrors.CodeForbidden, "role")
	})

	s.Run("published content is frozen", func() {
		published, err := s.svc.PublishReportPack(s.ctx, s.director, s.fund.ID, detail.ID)
		s.Require().NoError(err)
		s.Equal(models.PackPublished, published.Status)
		s.Equal("director", published.PublishedBy)

		frozen, err := s.svc.GetReportPack(s.ctx, s.auditor, s.fund.ID, detail.ID)
		s.Require().NoError(err)
		events := s.eventCount()

		_, err = s.svc.GenerateReportPack(s.ctx, s.gp, s.fund.ID, detail.ID)
		s.requireCode(err, dErrors.CodeValidation, models.ReasonReportPackPublished)
		_, err = s.svc.AnnotateReportSection(s.ctx, s.gp, s.fund.ID, detail.ID, models.SectionNAVSummary,
			service.AnnotateSectionRequest{Commentary: "rewrite history"})
		s.requireCode(err, dErrors.CodeValidation, models.ReasonReportPackPublished)
		_, err = s.svc.PublishReportPack(s.ctx, s.gp, s.fund.ID, detail.ID)
		s.requireCode(err, dErrors.CodeValidation, models.ReasonReportPackPublished)

		after, err := s.svc.GetReportPack(s.ctx, s.auditor, s.fund.ID, detail.ID)
		s.Require().NoError(err)
		s.Equal(frozen.Sections, after.Sections)
		s.Equal(frozen.UpdatedAt, after.UpdatedAt)
		s.Equal(events, s.eventCount())
	})

	s.Run("a new pack for the same period gets the next version", func() {
		next, err := s.svc.CreateReportPack(s.ctx, s.gp, s.fund.ID, service.CreateReportPackRequest{Period: models.NewDate(2025, 6, 30)})
		s.Require().NoError(err)
		s.Equal(2, next.Version)
	})

	s.Run("archive only after publish", func() {
		archived, err := s.svc.ArchiveReportPack(s.ctx, s.gp, s.fund.ID, detail.ID)
		s.Require().NoError(err)
		s.Equal(models.PackArchived, archived.Status)

		draft, err := s.svc.CreateReportPack(s.ctx, s.gp, s.fund.ID, service.CreateReportPackRequest{Period: juneReport})
		s.Require().NoError(err)
		_, err = s.svc.ArchiveReportPack(s.ctx, s.gp, s.fund.ID, draft.ID)
		s.requireCode(err, dErrors.CodeValidation, models.ReasonReportPackNotPublished)
	})
}

func (s *ServiceSuite) TestPublishRequiresGeneration() {
	pack, err := s.svc.CreateReportPack(s.ctx, s.gp, s.fund.ID, service.CreateReportPackRequest{Period: juneReport})
	s.Require().NoError(err)
	_, err = s.svc.PublishReportPack(s.ctx, s.gp, s.fund.ID, pack.ID)
	s.requireCode(err, dErrors.CodeValidation, models.ReasonReportPackNotGenerated)
}

func (s *ServiceSuite) TestListPublishedReportPacks_AuditsTheRead() {
	detail := s.generatedPack()
	_, err := s.svc.CreateReportPack(s.ctx, s.gp, s.fund.ID, service.CreateReportPackRequest{Period: models.NewDate(2025, 5, 1)})
	s.Require().NoError(err)
	_, err = s.svc.PublishReportPack(s.ctx, s.gp, s.fund.ID, detail.ID)
	s.Require().NoError(err)

	packs, err := s.svc.ListPublishedReportPacks(s.ctx, s.investor, s.fund.ID)
	s.Require().NoError(err)
	s.Require().Len(packs, 1)
	s.Equal(detail.ID, packs[0].ID)

	reads := s.events(audit.Query{Action: audit.ActionPublishedPacksListed})
	s.Require().Len(reads, 1)
	s.Equal(audit.CategoryAccess, reads[0].Category)
	s.Equal("investor", reads[0].ActorID)
	s.Equal([]string{"INVESTOR"}, reads[0].ActorRoles)

	s.Run("investors cannot see drafts", func() {
		_, err := s.svc.ListReportPacks(s.ctx, s.investor, s.fund.ID, models.ReportPackFilter{})
		s.requireCode(err, dErrors.CodeForbidden, "role")
		_, err = s.svc.GetReportPack(s.ctx, s.investor, s.fund.ID, detail.ID)
		s.requireCode(err, dErrors.CodeForbidden, "role")
	})

	s.Run("no data without an audit record", func() {
		ctrl := gomock.NewController(s.T())
		recorder := mocks.NewMockAuditRecorder(ctrl)
		recorder.EXPECT().Record(gomock.Any(), gomock.Any()).Return(nil, errors.New("ledger unavailable"))
		svc := s.newService(recorder)

		packs, err := svc.ListPublishedReportPacks(s.ctx, s.investor, s.fund.ID)
		s.Require().Error(err)
		s.Nil(packs)
	})
}

func (s *ServiceSuite) TestGenerateReportPack_ComputerFailureLeavesDraft() {
	ctrl := gomock.NewController(s.T())
	broken := mocks.NewMockSectionComputer(ctrl)
	broken.EXPECT().Key().Return(models.SectionNAVSummary).AnyTimes()
	broken.EXPECT().
		Compute(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, in service.SectionInput) (json.RawMessage, error) {
			s.Equal(models.NewDate(2025, 6, 1), in.PeriodStart)
			return nil, errors.New("valuation feed down")
		})
	svc := s.newService(s.ledger, service.WithSectionComputers(broken))

	pack, err := svc.CreateReportPack(s.ctx, s.gp, s.fund.ID, service.CreateReportPackRequest{Period: juneReport})
	s.Require().NoError(err)
	_, err = svc.GenerateReportPack(s.ctx, s.gp, s.fund.ID, pack.ID)
	s.requireCode(err, dErrors.CodeInternal)

	detail, err := svc.GetReportPack(s.ctx, s.gp, s.fund.ID, pack.ID)
	s.Require().NoError(err)
	s.Equal(models.PackDraft, detail.Status)
	s.Empty(detail.Sections)
}

func (s *ServiceSuite) TestGenerateReportPack_DropsSectionsNoLongerComputed() {
	s.fundInvestment()
	detail := s.generatedPack()
	s.Require().Len(detail.Sections, 4)
	_, err := s.svc.AnnotateReportSection(s.ctx, s.compliance, s.fund.ID, detail.ID, models.SectionNAVSummary,
		service.AnnotateSectionRequest{Commentary: "Carried forward."})
	s.Require().NoError(err)

	ctrl := gomock.NewController(s.T())
	nav := mocks.NewMockSectionComputer(ctrl)
	nav.EXPECT().Key().Return(models.SectionNAVSummary).AnyTimes()
	nav.EXPECT().Compute(gomock.Any(), gomock.Any()).Return(json.RawMessage(`{"rows":[]}`), nil)
	svc := s.newService(s.ledger, service.WithSectionComputers(nav))

	regenerated, err := svc.GenerateReportPack(s.ctx, s.gp, s.fund.ID, detail.ID)
	s.Require().NoError(err)
	s.Require().Len(regenerated.Sections, 1)

	stored, err := svc.GetReportPack(s.ctx, s.gp, s.fund.ID, detail.ID)
	s.Require().NoError(err)
	s.Require().Len(stored.Sections, 1)
	s.Equal(models.SectionNAVSummary, stored.Sections[0].Key)
	s.Equal("Carried forward.", stored.Sections[0].Commentary)
	s.JSONEq(`{"rows":[]}`, string(stored.Sections[0].Content))
}
