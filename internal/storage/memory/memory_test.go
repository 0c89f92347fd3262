package memory

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"fundops/internal/audit"
	"fundops/internal/audit/outbox"
	"fundops/internal/lifecycle/models"
	id "fundops/pkg/domain"
	"fundops/pkg/platform/sentinel"
)

type StoreSuite struct {
	suite.Suite
	db   *DB
	ctx  context.Context
	now  time.Time
	fund *models.Fund
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.db = New()
	s.ctx = context.Background()
	s.now = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	s.fund = s.newFund("Fund I")
}

func (s *StoreSuite) newFund(name string) *models.Fund {
	f, err := models.NewFund(id.NewFundID(), name, "USD", s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.db.CreateFund(s.ctx, f))
	return f
}

func (s *StoreSuite) newAsset(fund *models.Fund, typ models.InvestmentType) *models.Asset {
	a, err := models.NewAsset(id.NewAssetID(), fund.ID, "Asset", typ, "", models.AccessStandard, "u1", s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.db.CreateAsset(s.ctx, a))
	return a
}

func (s *StoreSuite) newInvestment(asset *models.Asset) *models.FundInvestment {
	inv, err := models.NewFundInvestment(asset, models.FundInvestmentInput{
		ManagerName:        "Manager",
		Commitment:         decimal.RequireFromString("1000000"),
		Currency:           "USD",
		ReportingFrequency: models.FrequencyQuarterly,
	}, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.db.SaveFundInvestment(s.ctx, asset.FundID, inv))
	return inv
}

func (s *StoreSuite) TestFailedUnitOfWorkLeavesNothing() {
	deal, err := models.NewDeal(id.NewDealID(), s.fund.ID, "Deal", models.TypeDirectInvestment, "", models.AccessStandard, "u1", s.now)
	s.Require().NoError(err)

	boom := errors.New("boom")
	err = s.db.RunInTx(s.ctx, func(ctx context.Context) error {
		s.Require().NoError(s.db.CreateDeal(ctx, deal))
		_, err := s.db.GetDeal(ctx, s.fund.ID, deal.ID)
		s.Require().NoError(err, "visible inside the unit of work")
		return boom
	})
	s.Require().ErrorIs(err, boom)

	_, err = s.db.GetDeal(s.ctx, s.fund.ID, deal.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestNestedUnitOfWorkJoinsOuter() {
	deal, err := models.NewDeal(id.NewDealID(), s.fund.ID, "Deal", models.TypeDirectInvestment, "", models.AccessStandard, "u1", s.now)
	s.Require().NoError(err)

	err = s.db.RunInTx(s.ctx, func(ctx context.Context) error {
		s.Require().NoError(s.db.RunInTx(ctx, func(ctx context.Context) error {
			return s.db.CreateDeal(ctx, deal)
		}))
		return errors.New("outer fails")
	})
	s.Require().Error(err)

	_, err = s.db.GetDeal(s.ctx, s.fund.ID, deal.ID)
	s.ErrorIs(err, sentinel.ErrNotFound, "inner write rolled back with the outer unit")
}

func (s *StoreSuite) TestFundOwnership() {
	other := s.newFund("Fund II")
	asset := s.newAsset(s.fund, models.TypeFundInvestment)
	inv := s.newInvestment(asset)

	_, err := s.db.GetAsset(s.ctx, other.ID, asset.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.db.GetFundInvestment(s.ctx, other.ID, asset.ID)
	s.ErrorIs(err, sentinel.ErrNotFound, "subtype resolves its fund through the asset")

	o := models.NewNAVObligation(id.NewObligationID(), inv, models.NewDate(2025, 1, 1), s.now)
	_, err = s.db.InsertObligationIfAbsent(s.ctx, other.ID, o)
	s.ErrorIs(err, sentinel.ErrNotFound)

	created, err := s.db.InsertObligationIfAbsent(s.ctx, s.fund.ID, o)
	s.Require().NoError(err)
	s.True(created)

	list, err := s.db.ListObligations(s.ctx, other.ID, models.ObligationFilter{})
	s.Require().NoError(err)
	s.Empty(list)

	_, err = s.db.ExecuteObligation(s.ctx, other.ID, o.ID,
		func(*models.Obligation) error { return nil }, func(*models.Obligation) {})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestPruneSectionsKeepsListedKeys() {
	pack := models.NewReportPack(id.NewReportPackID(), s.fund.ID, models.NewDate(2025, 6, 1), 1, "u1", s.now)
	s.Require().NoError(s.db.InsertPack(s.ctx, pack))
	for _, key := range []models.SectionKey{models.SectionNAVSummary, models.SectionOpenActions} {
		s.Require().NoError(s.db.UpsertSection(s.ctx, s.fund.ID, &models.Section{
			PackID: pack.ID, Key: key, Content: []byte(`{}`), ComputedAt: s.now, UpdatedAt: s.now,
		}))
	}

	other := s.newFund("Fund II")
	s.ErrorIs(s.db.PruneSections(s.ctx, other.ID, pack.ID, nil), sentinel.ErrNotFound)

	s.Require().NoError(s.db.PruneSections(s.ctx, s.fund.ID, pack.ID, []models.SectionKey{models.SectionNAVSummary}))
	sections, err := s.db.ListSections(s.ctx, s.fund.ID, pack.ID)
	s.Require().NoError(err)
	s.Require().Len(sections, 1)
	s.Equal(models.SectionNAVSummary, sections[0].Key)
}

func (s *StoreSuite) TestUniqueness() {
	s.Run("one asset per source deal", func() {
		deal, err := models.NewDeal(id.NewDealID(), s.fund.ID, "Deal", models.TypeCredit, "", models.AccessStandard, "u1", s.now)
		s.Require().NoError(err)
		s.Require().NoError(s.db.CreateAsset(s.ctx, models.AssetFromDeal(deal, id.NewAssetID(), "u1", s.now)))
		err = s.db.CreateAsset(s.ctx, models.AssetFromDeal(deal, id.NewAssetID(), "u1", s.now))
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("obligation per asset, type and period", func() {
		inv := s.newInvestment(s.newAsset(s.fund, models.TypeFundInvestment))
		start := models.NewDate(2025, 4, 1)
		created, err := s.db.InsertObligationIfAbsent(s.ctx, s.fund.ID, models.NewNAVObligation(id.NewObligationID(), inv, start, s.now))
		s.Require().NoError(err)
		s.True(created)
		created, err = s.db.InsertObligationIfAbsent(s.ctx, s.fund.ID, models.NewNAVObligation(id.NewObligationID(), inv, start, s.now))
		s.Require().NoError(err)
		s.False(created)
	})

	s.Run("one open alert per obligation and one action per alert", func() {
		inv := s.newInvestment(s.newAsset(s.fund, models.TypeFundInvestment))
		o := models.NewNAVObligation(id.NewObligationID(), inv, models.NewDate(2024, 1, 1), s.now)
		_, err := s.db.InsertObligationIfAbsent(s.ctx, s.fund.ID, o)
		s.Require().NoError(err)

		today := models.NewDate(2025, 3, 10)
		first := models.NewOverdueAlert(id.NewAlertID(), o, today, models.DefaultSeverityPolicy(), s.now)
		s.Require().NoError(s.db.InsertAlert(s.ctx, s.fund.ID, first))
		err = s.db.InsertAlert(s.ctx, s.fund.ID, models.NewOverdueAlert(id.NewAlertID(), o, today, models.DefaultSeverityPolicy(), s.now))
		s.ErrorIs(err, sentinel.ErrConflict)

		s.Require().NoError(s.db.InsertAction(s.ctx, s.fund.ID, models.NewRemediationAction(id.NewActionID(), first, s.now)))
		err = s.db.InsertAction(s.ctx, s.fund.ID, models.NewRemediationAction(id.NewActionID(), first, s.now))
		s.ErrorIs(err, sentinel.ErrConflict)

		_, err = s.db.ExecuteAlert(s.ctx, s.fund.ID, first.ID,
			func(*models.Alert) error { return nil }, func(a *models.Alert) { a.Resolve(s.now) })
		s.Require().NoError(err)
		s.NoError(s.db.InsertAlert(s.ctx, s.fund.ID, models.NewOverdueAlert(id.NewAlertID(), o, today, models.DefaultSeverityPolicy(), s.now)),
			"a resolved alert does not block a new one")
	})

	s.Run("pack version per fund and period", func() {
		period := models.NewDate(2025, 2, 1)
		v, err := s.db.NextPackVersion(s.ctx, s.fund.ID, period)
		s.Require().NoError(err)
		s.Equal(1, v)
		s.Require().NoError(s.db.InsertPack(s.ctx, models.NewReportPack(id.NewReportPackID(), s.fund.ID, period, v, "u1", s.now)))
		err = s.db.InsertPack(s.ctx, models.NewReportPack(id.NewReportPackID(), s.fund.ID, period, v, "u1", s.now))
		s.ErrorIs(err, sentinel.ErrConflict)
		v, err = s.db.NextPackVersion(s.ctx, s.fund.ID, period)
		s.Require().NoError(err)
		s.Equal(2, v)
	})
}

func (s *StoreSuite) TestExecuteValidationKeepsState() {
	deal, err := models.NewDeal(id.NewDealID(), s.fund.ID, "Deal", models.TypeCredit, "", models.AccessStandard, "u1", s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.db.CreateDeal(s.ctx, deal))

	refused := errors.New("refused")
	_, err = s.db.ExecuteDeal(s.ctx, s.fund.ID, deal.ID,
		func(*models.Deal) error { return refused },
		func(d *models.Deal) { d.Stage = models.StageApproved })
	s.ErrorIs(err, refused)

	got, err := s.db.GetDeal(s.ctx, s.fund.ID, deal.ID)
	s.Require().NoError(err)
	s.Equal(models.StageIntake, got.Stage)
}

func (s *StoreSuite) TestAuditAppendRequiresUnitOfWork() {
	ledger := audit.NewLedger(s.db)
	entry := audit.Entry{
		FundID:     s.fund.ID,
		ActorID:    "u1",
		Action:     audit.ActionFundCreated,
		EntityType: "fund",
		EntityID:   s.fund.ID.String(),
		After:      s.fund,
	}
	_, err := ledger.Record(s.ctx, entry)
	s.Require().ErrorIs(err, audit.ErrNoTransaction)

	for range 3 {
		s.Require().NoError(s.db.RunInTx(s.ctx, func(ctx context.Context) error {
			_, err := ledger.Record(ctx, entry)
			return err
		}))
	}
	v, err := ledger.Verify(s.ctx, s.fund.ID)
	s.Require().NoError(err)
	s.True(v.Valid)
	s.Equal(3, v.Checked)

	s.rewriteCommitted(2, func(e *audit.Event) { e.ActorID = "someone-else" })
	v, err = ledger.Verify(s.ctx, s.fund.ID)
	s.Require().NoError(err)
	s.False(v.Valid)
	s.Equal(int64(2), v.BrokenAt)
}

// rewriteCommitted edits a committed event behind the ledger's back.
func (s *StoreSuite) rewriteCommitted(sequence int64, edit func(*audit.Event)) {
	s.T().Helper()
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	events := slices.Clone(s.db.committed.events[s.fund.ID])
	i := slices.IndexFunc(events, func(e audit.Event) bool { return e.Sequence == sequence })
	s.Require().GreaterOrEqual(i, 0, "no committed event %d", sequence)
	edit(&events[i])
	s.db.committed.events[s.fund.ID] = events
}

type producerFunc func(ctx context.Context, batch []outbox.Message) error

func (f producerFunc) Produce(ctx context.Context, batch []outbox.Message) error { return f(ctx, batch) }

func (s *StoreSuite) TestOutboxFollowsCommittedEvents() {
	ledger := audit.NewLedger(s.db)
	record := func(fail bool) {
		_ = s.db.RunInTx(s.ctx, func(ctx context.Context) error {
			if _, err := ledger.Record(ctx, audit.Entry{
				FundID: s.fund.ID, ActorID: "u1", Action: audit.ActionFundCreated,
				EntityType: "fund", EntityID: s.fund.ID.String(),
			}); err != nil {
				return err
			}
			if fail {
				return errors.New("rolled back")
			}
			return nil
		})
	}
	record(false)
	record(true)
	record(false)
	s.Equal(2, s.db.Pending(), "rolled back events never reach the outbox")

	var seen []outbox.Message
	failing := producerFunc(func(context.Context, []outbox.Message) error { return errors.New("broker down") })
	working := producerFunc(func(_ context.Context, batch []outbox.Message) error {
		seen = append(seen, batch...)
		return nil
	})

	_, err := outbox.NewRelay(s.db, failing).Flush(s.ctx)
	s.Require().Error(err)
	s.Equal(2, s.db.Pending())

	n, err := outbox.NewRelay(s.db, working, outbox.WithBatchSize(1)).Flush(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Equal(0, s.db.Pending())
	s.Require().Len(seen, 2)
	s.Less(seen[0].Seq, seen[1].Seq)
	s.Equal(s.fund.ID.String(), seen[0].Key)
	s.Equal(string(audit.ActionFundCreated), seen[0].EventType)
}
