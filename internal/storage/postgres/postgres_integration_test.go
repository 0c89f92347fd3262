//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"fundops/internal/access"
	"fundops/internal/audit"
	"fundops/internal/audit/outbox"
	"fundops/internal/identity"
	"fundops/internal/lifecycle/models"
	"fundops/internal/lifecycle/service"
	"fundops/internal/platform/logger"
	"fundops/internal/storage/postgres"
	id "fundops/pkg/domain"
	dErrors "fundops/pkg/domain-errors"
	"fundops/pkg/requestcontext"
	"fundops/pkg/testutil"
	"fundops/pkg/testutil/containers"
)

var attachedAt = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

type PostgresSuite struct {
	suite.Suite
	pg    *containers.Postgres
	db    *postgres.DB
	svc   *service.Service
	ctx   context.Context
	admin identity.Caller
}

func TestPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	s.pg = containers.NewPostgres(s.T())
	s.db = postgres.New(s.pg.DB, postgres.WithTxTimeout(10*time.Second))
	s.Require().NoError(s.db.Migrate(context.Background(), logger.Discard()))
	s.Require().NoError(s.db.Migrate(context.Background(), logger.Discard()), "migrations are idempotent")

	ledger := audit.NewLedger(s.db, audit.WithLogger(logger.Discard()))
	guard := access.NewGuard(access.WithLogger(logger.Discard()))
	svc, err := service.New(s.db, service.StoresOf(s.db), ledger, guard, service.WithLogger(logger.Discard()))
	s.Require().NoError(err)
	s.svc = svc
	s.admin = testutil.Caller(testutil.Actor(s.T(), "admin", []identity.Role{identity.RoleAdmin}))
}

func (s *PostgresSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), attachedAt)
	_, err := s.pg.DB.Exec(`TRUNCATE funds, deals, assets, fund_investments, obligations, alerts, actions,
		report_packs, report_sections, evidence, audit_chain_heads, audit_events, audit_outbox CASCADE`)
	s.Require().NoError(err)
}

func (s *PostgresSuite) newFund() *models.Fund {
	fund, err := s.svc.CreateFund(s.ctx, s.admin, service.CreateFundRequest{Name: "Fund I", BaseCurrency: "EUR"})
	s.Require().NoError(err)
	return fund
}

func (s *PostgresSuite) TestConcurrentConversionCreatesOneAsset() {
	fund := s.newFund()
	deal, err := s.svc.CreateDeal(s.ctx, s.admin, fund.ID, service.CreateDealRequest{
		Name: "Harbour Credit II", Type: "FUND_INVESTMENT",
	})
	s.Require().NoError(err)
	_, err = s.svc.DecideDeal(s.ctx, s.admin, fund.ID, deal.ID, service.DecideDealRequest{Stage: "APPROVED"})
	s.Require().NoError(err)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.svc.ConvertDeal(s.ctx, s.admin, fund.ID, deal.ID)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		s.True(dErrors.Is(err, dErrors.CodeConflict), "unexpected error: %v", err)
	}
	s.Equal(1, succeeded)

	assets, err := s.svc.ListAssets(s.ctx, s.admin, fund.ID)
	s.Require().NoError(err)
	s.Require().Len(assets, 1)
	s.Equal(deal.ID, *assets[0].SourceDealID)
}

func (s *PostgresSuite) TestConcurrentScansRaiseOneAlertPerObligation() {
	fund := s.newFund()
	asset, err := s.svc.CreateAsset(s.ctx, s.admin, fund.ID, service.CreateAssetRequest{
		Name: "Manager Fund IV", AssetType: "FUND_INVESTMENT",
	})
	s.Require().NoError(err)
	_, err = s.svc.AttachFundInvestment(s.ctx, s.admin, fund.ID, asset.ID, service.AttachFundInvestmentRequest{
		ManagerName:        "Manager LLP",
		Commitment:         decimal.RequireFromString("10000000"),
		Currency:           "EUR",
		ReportingFrequency: "QUARTERLY",
	})
	s.Require().NoError(err)

	asOf := models.NewDate(2025, time.December, 31)
	_, err = s.svc.GenerateRecurringObligations(s.ctx, s.admin, fund.ID, asOf)
	s.Require().NoError(err)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.ScanOverdueObligations(s.ctx, s.admin, fund.ID, asOf)
			s.NoError(err)
		}()
	}
	wg.Wait()

	alerts, err := s.svc.ListAlerts(s.ctx, s.admin, fund.ID, models.AlertFilter{Status: models.AlertOpen})
	s.Require().NoError(err)
	s.Len(alerts, 2)
	actions, err := s.svc.ListActions(s.ctx, s.admin, fund.ID, models.ActionFilter{})
	s.Require().NoError(err)
	s.Len(actions, 2, "one remediation action per alert")
}

func (s *PostgresSuite) TestAuditChainDetectsTampering() {
	fund := s.newFund()
	for _, name := range []string{"A", "B"} {
		_, err := s.svc.CreateDeal(s.ctx, s.admin, fund.ID, service.CreateDealRequest{Name: name, Type: "DIRECT_INVESTMENT"})
		s.Require().NoError(err)
	}

	v, err := s.svc.VerifyAuditChain(s.ctx, s.admin, fund.ID)
	s.Require().NoError(err)
	s.True(v.Valid)
	s.Equal(3, v.Checked)

	_, err = s.pg.DB.Exec(`UPDATE audit_events SET actor_id = 'mallory' WHERE sequence = 2`)
	s.Require().Error(err, "audit rows are append-only")

	_, err = s.pg.DB.Exec(`ALTER TABLE audit_events DISABLE TRIGGER audit_events_no_update`)
	s.Require().NoError(err)
	defer func() {
		_, _ = s.pg.DB.Exec(`ALTER TABLE audit_events ENABLE TRIGGER audit_events_no_update`)
	}()
	_, err = s.pg.DB.Exec(`UPDATE audit_events SET actor_id = 'mallory' WHERE sequence = 2`)
	s.Require().NoError(err)

	v, err = s.svc.VerifyAuditChain(s.ctx, s.admin, fund.ID)
	s.Require().NoError(err)
	s.False(v.Valid)
	s.Equal(int64(2), v.BrokenAt)
}

func (s *PostgresSuite) TestAppendOutsideUnitOfWork() {
	_, err := s.db.Append(context.Background(), id.NewFundID(), func(audit.ChainHead) (*audit.Event, error) {
		s.Fail("link must not run")
		return nil, nil
	})
	s.ErrorIs(err, audit.ErrNoTransaction)
}

func (s *PostgresSuite) TestOutboxClaimSkipsLockedRows() {
	fund := s.newFund()
	for _, name := range []string{"A", "B"} {
		_, err := s.svc.CreateDeal(s.ctx, s.admin, fund.ID, service.CreateDealRequest{Name: name, Type: "DIRECT_INVESTMENT"})
		s.Require().NoError(err)
	}
	pending, err := s.db.Pending(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(3, pending)

	claimed := make(chan []outbox.Message, 1)
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := s.db.Claim(context.Background(), 1, func(_ context.Context, batch []outbox.Message) error {
			claimed <- batch
			<-release
			return nil
		})
		done <- err
	}()

	first := <-claimed
	s.Require().Len(first, 1)

	n, err := s.db.Claim(context.Background(), 10, func(_ context.Context, batch []outbox.Message) error {
		for _, m := range batch {
			s.NotEqual(first[0].Seq, m.Seq, "locked row handed out twice")
			s.Equal(fund.ID.String(), m.Key)
		}
		return nil
	})
	s.Require().NoError(err)
	s.Equal(2, n)

	close(release)
	s.Require().NoError(<-done)
	pending, err = s.db.Pending(s.ctx)
	s.Require().NoError(err)
	s.Zero(pending)
}

func (s *PostgresSuite) TestFailedPublishLeavesRowsPending() {
	s.newFund()
	_, err := s.db.Claim(s.ctx, 10, func(context.Context, []outbox.Message) error {
		return context.DeadlineExceeded
	})
	s.Require().Error(err)
	pending, err := s.db.Pending(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, pending)
}

func (s *PostgresSuite) TestFundOwnershipIsEnforcedInQueries() {
	fund := s.newFund()
	other := s.newFund()
	asset, err := s.svc.CreateAsset(s.ctx, s.admin, fund.ID, service.CreateAssetRequest{
		Name: "Direct Co", AssetType: "DIRECT_INVESTMENT",
	})
	s.Require().NoError(err)

	_, err = s.db.GetAsset(s.ctx, other.ID, asset.ID)
	s.Error(err)
	assets, err := s.db.ListAssets(s.ctx, other.ID)
	s.Require().NoError(err)
	s.Empty(assets)
}
