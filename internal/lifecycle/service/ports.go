package service

import (
	"context"
	"encoding/json"

	"fundops/internal/audit"
	"fundops/internal/lifecycle/models"
	id "fundops/pkg/domain"
)

//go:generate mockgen -destination=mocks/mocks.go -package=mocks fundops/internal/lifecycle/service AuditRecorder,BlobStore,SearchProvider,SectionComputer

// StoreTx runs fn as one unit of work. Every store call and audit record made
// with the context passed to fn commits or rolls back together.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Every store method names the fund (or a FundScope); subtype stores resolve
// the fund through the owning asset.

type FundStore interface {
	CreateFund(ctx context.Context, fund *models.Fund) error
	GetFund(ctx context.Context, fundID id.FundID) (*models.Fund, error)
	ListFunds(ctx context.Context, scope models.FundScope) ([]*models.Fund, error)
}

type DealStore interface {
	CreateDeal(ctx context.Context, deal *models.Deal) error
	GetDeal(ctx context.Context, fundID id.FundID, dealID id.DealID) (*models.Deal, error)
	ListDeals(ctx context.Context, fundID id.FundID, filter models.DealFilter) ([]*models.Deal, error)
	// ExecuteDeal locks the deal, runs validate and, if it passes, mutate,
	// then persists the result.
	ExecuteDeal(ctx context.Context, fundID id.FundID, dealID id.DealID,
		validate func(*models.Deal) error, mutate func(*models.Deal)) (*models.Deal, error)
}

type AssetStore interface {
	// CreateAsset returns sentinel.ErrConflict when the source deal already
	// produced an asset.
	CreateAsset(ctx context.Context, asset *models.Asset) error
	GetAsset(ctx context.Context, fundID id.FundID, assetID id.AssetID) (*models.Asset, error)
	ListAssets(ctx context.Context, fundID id.FundID) ([]*models.Asset, error)
	GetFundInvestment(ctx context.Context, fundID id.FundID, assetID id.AssetID) (*models.FundInvestment, error)
	SaveFundInvestment(ctx context.Context, fundID id.FundID, inv *models.FundInvestment) error
	ListFundInvestments(ctx context.Context, fundID id.FundID) ([]*models.FundInvestment, error)
}

type ObligationStore interface {
	// InsertObligationIfAbsent reports false when (asset, type, period start)
	// already exists.
	InsertObligationIfAbsent(ctx context.Context, fundID id.FundID, o *models.Obligation) (bool, error)
	GetObligation(ctx context.Context, fundID id.FundID, obligationID id.ObligationID) (*models.Obligation, error)
	ListObligations(ctx context.Context, fundID id.FundID, filter models.ObligationFilter) ([]*models.Obligation, error)
	ExecuteObligation(ctx context.Context, fundID id.FundID, obligationID id.ObligationID,
		validate func(*models.Obligation) error, mutate func(*models.Obligation)) (*models.Obligation, error)
}

type AlertStore interface {
	// InsertAlert returns sentinel.ErrConflict when the obligation already has
	// an OPEN alert.
	InsertAlert(ctx context.Context, fundID id.FundID, alert *models.Alert) error
	HasOpenAlert(ctx context.Context, fundID id.FundID, obligationID id.ObligationID) (bool, error)
	ListAlerts(ctx context.Context, fundID id.FundID, filter models.AlertFilter) ([]*models.Alert, error)
	ExecuteAlert(ctx context.Context, fundID id.FundID, alertID id.AlertID,
		validate func(*models.Alert) error, mutate func(*models.Alert)) (*models.Alert, error)
}

type ActionStore interface {
	// InsertAction returns sentinel.ErrConflict when the alert already has an
	// action.
	InsertAction(ctx context.Context, fundID id.FundID, action *models.Action) error
	GetAction(ctx context.Context, fundID id.FundID, actionID id.ActionID) (*models.Action, error)
	ListActions(ctx context.Context, fundID id.FundID, filter models.ActionFilter) ([]*models.Action, error)
	ExecuteAction(ctx context.Context, fundID id.FundID, actionID id.ActionID,
		validate func(*models.Action) error, mutate func(*models.Action)) (*models.Action, error)
}

type EvidenceStore interface {
	InsertEvidence(ctx context.Context, e *models.Evidence) error
	GetEvidence(ctx context.Context, fundID id.FundID, evidenceID id.EvidenceID) (*models.Evidence, error)
	ListEvidence(ctx context.Context, fundID id.FundID, filter models.EvidenceFilter) ([]*models.Evidence, error)
	CountCompletedEvidence(ctx context.Context, fundID id.FundID, actionID id.ActionID) (int, error)
	ExecuteEvidence(ctx context.Context, fundID id.FundID, evidenceID id.EvidenceID,
		validate func(*models.Evidence) error, mutate func(*models.Evidence)) (*models.Evidence, error)
}

type ReportStore interface {
	// NextPackVersion is called inside the unit of work that inserts the
	// pack; a concurrent insert of the same version fails with
	// sentinel.ErrConflict.
	NextPackVersion(ctx context.Context, fundID id.FundID, periodStart models.Date) (int, error)
	InsertPack(ctx context.Context, pack *models.ReportPack) error
	GetPack(ctx context.Context, fundID id.FundID, packID id.ReportPackID) (*models.ReportPack, error)
	ListPacks(ctx context.Context, fundID id.FundID, filter models.ReportPackFilter) ([]*models.ReportPack, error)
	ExecutePack(ctx context.Context, fundID id.FundID, packID id.ReportPackID,
		validate func(*models.ReportPack) error, mutate func(*models.ReportPack)) (*models.ReportPack, error)
	UpsertSection(ctx context.Context, fundID id.FundID, section *models.Section) error
	// PruneSections deletes the pack's sections whose key is not in keep.
	PruneSections(ctx context.Context, fundID id.FundID, packID id.ReportPackID, keep []models.SectionKey) error
	ListSections(ctx context.Context, fundID id.FundID, packID id.ReportPackID) ([]*models.Section, error)
}

// Stores groups the persistence ports. One backend implements all of them.
type Stores struct {
	Funds       FundStore
	Deals       DealStore
	Assets      AssetStore
	Obligations ObligationStore
	Alerts      AlertStore
	Actions     ActionStore
	Evidence    EvidenceStore
	Reports     ReportStore
}

// AuditRecorder is the audit ledger as seen by the engine.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) (*audit.Event, error)
	List(ctx context.Context, fundID id.FundID, q audit.Query) ([]audit.Event, error)
	Verify(ctx context.Context, fundID id.FundID) (audit.Verification, error)
}

// BlobStore reserves storage locations for evidence uploads. Content never
// passes through the engine.
type BlobStore interface {
	ReserveURI(ctx context.Context, fundID id.FundID, evidenceID id.EvidenceID, folder, filename string) (string, error)
	Exists(ctx context.Context, uri string) (bool, error)
}

// SearchHit is one evidence search result with its partition key.
type SearchHit struct {
	EvidenceID id.EvidenceID `json:"evidence_id"`
	Filename   string        `json:"filename"`
	Folder     string        `json:"folder"`
	Partition  string        `json:"partition"`
	Score      float64       `json:"score"`
}

// SearchProvider returns ranked hits within one fund. A non-nil partitions
// restricts hits to those partitions before limit is applied; nil means every
// partition.
type SearchProvider interface {
	Search(ctx context.Context, fundID id.FundID, query string, partitions []string, limit int) ([]SearchHit, error)
}

// SectionInput is what a section computer sees.
type SectionInput struct {
	FundID      id.FundID
	PeriodStart models.Date
	PeriodEnd   models.Date
}

// SectionComputer produces one report pack section. The result is stored as
// a canonical JSON snapshot.
type SectionComputer interface {
	Key() models.SectionKey
	Compute(ctx context.Context, in SectionInput) (json.RawMessage, error)
}

// Backend is a persistence implementation providing every store and the unit
// of work.
type Backend interface {
	StoreTx
	FundStore
	DealStore
	AssetStore
	ObligationStore
	AlertStore
	ActionStore
	EvidenceStore
	ReportStore
}

// StoresOf exposes every store of b.
func StoresOf(b Backend) Stores {
	return Stores{
		Funds:       b,
		Deals:       b,
		Assets:      b,
		Obligations: b,
		Alerts:      b,
		Actions:     b,
		Evidence:    b,
		Reports:     b,
	}
}
