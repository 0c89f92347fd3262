package service_test

import (
	"fmt"
	"strings"

	"go.uber.org/mock/gomock"

	"fundops/internal/audit"
	"fundops/internal/identity"
	"fundops/internal/lifecycle/models"
	"fundops/internal/lifecycle/service"
	"fundops/internal/lifecycle/service/mocks"
	id "fundops/pkg/domain"
	dErrors "fundops/pkg/domain-errors"
	"fundops/pkg/testutil"
)

func ptr[T any](v T) *T { return &v }

func (s *ServiceSuite) uploadEvidence(caller identity.Caller, folder, filename string, link func(*service.RegisterEvidenceRequest)) *models.Evidence {
	s.T().Helper()
	req := service.RegisterEvidenceRequest{Folder: folder, Filename: filename}
	if link != nil {
		link(&req)
	}
	ev, err := s.svc.RegisterEvidence(s.ctx, caller, s.fund.ID, req)
	s.Require().NoError(err)
	s.Require().NoError(s.blobs.Put(s.ctx, ev.StorageURI, strings.NewReader("%PDF-1.7")))
	ev, err = s.svc.ConfirmEvidenceUpload(s.ctx, caller, s.fund.ID, ev.ID)
	s.Require().NoError(err)
	return ev
}

func (s *ServiceSuite) TestCloseAction_EvidenceGate() {
	_, action, alert := s.overdueAction()
	closed := "CLOSED"

	_, err := s.svc.UpdateActionStatus(s.ctx, s.gp, s.fund.ID, action.ID, service.UpdateActionRequest{Status: &closed})
	s.requireCode(err, dErrors.CodeValidation, models.ReasonEvidenceMissing)

	actions, err := s.svc.ListActions(s.ctx, s.gp, s.fund.ID, models.ActionFilter{})
	s.Require().NoError(err)
	s.Require().Len(actions, 1)
	s.Equal(models.ActionOpen, actions[0].Status, "a refused close leaves the action untouched")

	// Registered but not uploaded does not count.
	pending, err := s.svc.RegisterEvidence(s.ctx, s.gp, s.fund.ID, service.RegisterEvidenceRequest{
		Folder: "compliance/nav", Filename: "q2-nav.pdf", ActionID: ptr(action.ID),
	})
	s.Require().NoError(err)
	s.Nil(pending.UploadedAt)
	_, err = s.svc.UpdateActionStatus(s.ctx, s.gp, s.fund.ID, action.ID, service.UpdateActionRequest{Status: &closed})
	s.requireCode(err, dErrors.CodeValidation, models.ReasonEvidenceMissing)

	s.uploadEvidence(s.gp, "compliance/nav", "q2-nav-final.pdf", func(r *service.RegisterEvidenceRequest) {
		r.ActionID = ptr(action.ID)
	})

	done, err := s.svc.UpdateActionStatus(s.ctx, s.gp, s.fund.ID, action.ID, service.UpdateActionRequest{Status: &closed})
	s.Require().NoError(err)
	s.Equal(models.ActionClosed, done.Status)
	s.Equal("gp", done.ClosedBy)

	alerts, err := s.svc.ListAlerts(s.ctx, s.gp, s.fund.ID, models.AlertFilter{Status: models.AlertResolved})
	s.Require().NoError(err)
	s.Require().Len(alerts, 1)
	s.Equal(alert.ID, alerts[0].ID)
	s.Len(s.events(audit.Query{Action: audit.ActionAlertResolved}), 1)

	_, err = s.svc.UpdateActionStatus(s.ctx, s.gp, s.fund.ID, action.ID, service.UpdateActionRequest{Status: ptr("IN_PROGRESS")})
	s.requireCode(err, dErrors.CodeValidation, models.ReasonInvalidActionTransition)

	_, err = s.svc.RegisterEvidence(s.ctx, s.gp, s.fund.ID, service.RegisterEvidenceRequest{
		Folder: "compliance/nav", Filename: "late.pdf", ActionID: ptr(action.ID),
	})
	s.requireCode(err, dErrors.CodeValidation, models.ReasonInvalidActionTransition)
}

func (s *ServiceSuite) TestWaiveActionEvidence() {
	_, action, _ := s.overdueAction()
	closed := "CLOSED"

	_, err := s.svc.UpdateActionStatus(s.ctx, s.gp, s.fund.ID, action.ID, service.UpdateActionRequest{
		Status: &closed, EvidenceRequired: ptr(false),
	})
	s.requireCode(err, dErrors.CodeForbidden, "role")

	done, err := s.svc.UpdateActionStatus(s.ctx, s.compliance, s.fund.ID, action.ID, service.UpdateActionRequest{
		Status: &closed, EvidenceRequired: ptr(false), EvidenceNotes: ptr("manager confirmed by phone"),
	})
	s.Require().NoError(err)
	s.Equal(models.ActionClosed, done.Status)
	s.False(done.EvidenceRequired)

	_, err = s.svc.UpdateActionStatus(s.ctx, s.compliance, s.fund.ID, action.ID, service.UpdateActionRequest{})
	s.requireCode(err, dErrors.CodeInvalidInput)
}

func (s *ServiceSuite) TestConfirmEvidenceUpload() {
	ev, err := s.svc.RegisterEvidence(s.ctx, s.team, s.fund.ID, service.RegisterEvidenceRequest{
		Folder: "Deals/Atlas", Filename: "ic-memo.pdf",
	})
	s.Require().NoError(err)
	s.Equal("deals/atlas", ev.Folder)

	_, err = s.svc.ConfirmEvidenceUpload(s.ctx, s.team, s.fund.ID, ev.ID)
	s.requireCode(err, dErrors.CodeValidation, service.ReasonEvidenceUploadMissing)

	s.Require().NoError(s.blobs.Put(s.ctx, ev.StorageURI, strings.NewReader("memo")))
	confirmed, err := s.svc.ConfirmEvidenceUpload(s.ctx, s.team, s.fund.ID, ev.ID)
	s.Require().NoError(err)
	s.NotNil(confirmed.UploadedAt)

	_, err = s.svc.ConfirmEvidenceUpload(s.ctx, s.team, s.fund.ID, ev.ID)
	s.requireCode(err, dErrors.CodeValidation, models.ReasonEvidenceAlreadyUploaded)
}

func (s *ServiceSuite) TestRegisterEvidence_Validation() {
	s.Run("traversal is rejected", func() {
		_, err := s.svc.RegisterEvidence(s.ctx, s.gp, s.fund.ID, service.RegisterEvidenceRequest{
			Folder: "deals/../../etc", Filename: "passwd",
		})
		s.requireCode(err, dErrors.CodeInvalidInput)
	})

	s.Run("links must live in the same fund", func() {
		other, err := s.svc.CreateFund(s.ctx, s.admin, service.CreateFundRequest{Name: "Fund II", BaseCurrency: "EUR"})
		s.Require().NoError(err)
		team := testutil.Caller(testutil.Actor(s.T(), "team-2", []identity.Role{identity.RoleInvestmentTeam}, other.ID))
		deal, err := s.svc.CreateDeal(s.ctx, team, other.ID, service.CreateDealRequest{Name: "Elsewhere", Type: "CREDIT"})
		s.Require().NoError(err)

		_, err = s.svc.RegisterEvidence(s.ctx, s.gp, s.fund.ID, service.RegisterEvidenceRequest{
			Folder: "deals/x", Filename: "a.pdf", DealID: ptr(deal.ID),
		})
		s.requireCode(err, dErrors.CodeNotFound)
	})

	s.Run("unknown action is not found", func() {
		_, err := s.svc.RegisterEvidence(s.ctx, s.gp, s.fund.ID, service.RegisterEvidenceRequest{
			Folder: "compliance", Filename: "a.pdf", ActionID: ptr(id.NewActionID()),
		})
		s.requireCode(err, dErrors.CodeNotFound)
	})
}

func (s *ServiceSuite) TestSearchEvidence_Scope() {
	s.uploadEvidence(s.team, "deals/atlas", "atlas-ic-memo.pdf", nil)
	s.uploadEvidence(s.gp, "compliance/kyc", "atlas-kyc.pdf", nil)
	s.uploadEvidence(s.gp, "board/2025-06", "atlas-board-pack.pdf", nil)

	search := func(caller identity.Caller, req service.SearchEvidenceRequest) ([]service.SearchHit, error) {
		req.Query = "atlas"
		return s.svc.SearchEvidence(s.ctx, caller, s.fund.ID, req)
	}
	partitions := func(hits []service.SearchHit) []string {
		out := make([]string, 0, len(hits))
		for _, h := range hits {
			out = append(out, h.Partition)
		}
		return out
	}

	s.Run("gp sees every partition", func() {
		hits, err := search(s.gp, service.SearchEvidenceRequest{Unrestricted: true})
		s.Require().NoError(err)
		s.ElementsMatch([]string{"deals", "compliance", "board"}, partitions(hits))
	})

	s.Run("auditor sees compliance and board only", func() {
		hits, err := search(s.auditor, service.SearchEvidenceRequest{})
		s.Require().NoError(err)
		s.ElementsMatch([]string{"compliance", "board"}, partitions(hits))
	})

	s.Run("investment team sees deals only", func() {
		hits, err := search(s.team, service.SearchEvidenceRequest{})
		s.Require().NoError(err)
		s.Equal([]string{"deals"}, partitions(hits))
	})

	s.Run("investor gets an empty result", func() {
		hits, err := search(s.investor, service.SearchEvidenceRequest{})
		s.Require().NoError(err)
		s.Empty(hits)
	})

	s.Run("scoped actor asking for more is refused", func() {
		_, err := search(s.auditor, service.SearchEvidenceRequest{Partitions: []string{"deals"}})
		s.requireCode(err, dErrors.CodeForbidden, "scope_restricted")
		_, err = search(s.director, service.SearchEvidenceRequest{Unrestricted: true})
		s.requireCode(err, dErrors.CodeForbidden, "scope_restricted")
	})
}

func (s *ServiceSuite) TestSearchEvidence_ProviderHitsAreFiltered() {
	ctrl := gomock.NewController(s.T())
	provider := mocks.NewMockSearchProvider(ctrl)
	provider.EXPECT().
		Search(gomock.Any(), s.fund.ID, "nav", []string{"board", "compliance", "investor-reports"}, 50).
		Return([]service.SearchHit{
			{EvidenceID: id.NewEvidenceID(), Filename: "nav.pdf", Folder: "compliance/nav", Partition: "compliance", Score: 2},
			{EvidenceID: id.NewEvidenceID(), Filename: "nav-model.xlsx", Folder: "deals/x", Partition: "deals", Score: 1},
		}, nil)
	svc := s.newService(s.ledger, service.WithSearchProvider(provider))

	hits, err := svc.SearchEvidence(s.ctx, s.auditor, s.fund.ID, service.SearchEvidenceRequest{Query: "nav"})
	s.Require().NoError(err)
	s.Require().Len(hits, 1)
	s.Equal("nav.pdf", hits[0].Filename)
}

func (s *ServiceSuite) TestSearchEvidence_LimitAppliesAfterScope() {
	for i := 1; i <= 3; i++ {
		s.uploadEvidence(s.gp, "compliance/nav", fmt.Sprintf("nav report %d.pdf", i), nil)
	}
	s.uploadEvidence(s.gp, "deals", "memo.pdf", nil)

	hits, err := s.svc.SearchEvidence(s.ctx, s.team, s.fund.ID,
		service.SearchEvidenceRequest{Query: "nav report memo", Limit: 2})
	s.Require().NoError(err)
	s.Require().Len(hits, 1, "higher-ranked hidden hits must not use up the limit")
	s.Equal("memo.pdf", hits[0].Filename)

	hits, err = s.svc.SearchEvidence(s.ctx, s.auditor, s.fund.ID,
		service.SearchEvidenceRequest{Query: "nav report memo", Limit: 2})
	s.Require().NoError(err)
	s.Len(hits, 2)
}

func (s *ServiceSuite) TestSearchEvidence_EmptyScopeSkipsProvider() {
	ctrl := gomock.NewController(s.T())
	provider := mocks.NewMockSearchProvider(ctrl)
	provider.EXPECT().Search(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	svc := s.newService(s.ledger, service.WithSearchProvider(provider))

	hits, err := svc.SearchEvidence(s.ctx, s.investor, s.fund.ID, service.SearchEvidenceRequest{Query: "nav"})
	s.Require().NoError(err)
	s.Empty(hits)
}
