// Package sections holds the built-in report pack section computers.
package sections

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"

	"github.com/shopspring/decimal"

	"fundops/internal/lifecycle/models"
	"fundops/internal/lifecycle/service"
	id "fundops/pkg/domain"
)

// Reader is the read side the computers need.
type Reader interface {
	ListAssets(ctx context.Context, fundID id.FundID) ([]*models.Asset, error)
	ListFundInvestments(ctx context.Context, fundID id.FundID) ([]*models.FundInvestment, error)
	ListObligations(ctx context.Context, fundID id.FundID, filter models.ObligationFilter) ([]*models.Obligation, error)
	ListActions(ctx context.Context, fundID id.FundID, filter models.ActionFilter) ([]*models.Action, error)
}

// Defaults returns one computer per section key.
func Defaults(r Reader) []service.SectionComputer {
	return []service.SectionComputer{
		NAVSummary{r: r},
		PortfolioExposure{r: r},
		OverdueObligations{r: r},
		OpenActions{r: r},
	}
}

type currencyTotal struct {
	Currency string          `json:"currency"`
	Total    decimal.Decimal `json:"total"`
}

func sumByCurrency(invs []*models.FundInvestment) []currencyTotal {
	totals := map[string]decimal.Decimal{}
	for _, inv := range invs {
		totals[inv.Currency] = totals[inv.Currency].Add(inv.Commitment)
	}
	out := make([]currencyTotal, 0, len(totals))
	for c, t := range totals {
		out = append(out, currencyTotal{Currency: c, Total: t})
	}
	slices.SortFunc(out, func(a, b currencyTotal) int { return cmp.Compare(a.Currency, b.Currency) })
	return out
}

// NAVSummary reports commitments and the state of NAV reports for periods
// ending inside the pack period.
type NAVSummary struct{ r Reader }

func (NAVSummary) Key() models.SectionKey { return models.SectionNAVSummary }

type navReports struct {
	Due         int `json:"due"`
	Satisfied   int `json:"satisfied"`
	Waived      int `json:"waived"`
	Outstanding int `json:"outstanding"`
}

func (c NAVSummary) Compute(ctx context.Context, in service.SectionInput) (json.RawMessage, error) {
	invs, err := c.r.ListFundInvestments(ctx, in.FundID)
	if err != nil {
		return nil, err
	}
	obligations, err := c.r.ListObligations(ctx, in.FundID, models.ObligationFilter{Type: models.ObligationNAVReport})
	if err != nil {
		return nil, err
	}
	var reports navReports
	for _, o := range obligations {
		if o.PeriodEnd.Before(in.PeriodStart) || o.PeriodEnd.After(in.PeriodEnd) {
			continue
		}
		reports.Due++
		switch o.Status {
		case models.ObligationSatisfied:
			reports.Satisfied++
		case models.ObligationWaived:
			reports.Waived++
		default:
			reports.Outstanding++
		}
	}
	return json.Marshal(struct {
		PeriodStart models.Date     `json:"period_start"`
		PeriodEnd   models.Date     `json:"period_end"`
		Investments int             `json:"investments"`
		Commitments []currencyTotal `json:"commitments"`
		NAVReports  navReports      `json:"nav_reports"`
	}{in.PeriodStart, in.PeriodEnd, len(invs), sumByCurrency(invs), reports})
}

// PortfolioExposure groups assets by type.
type PortfolioExposure struct{ r Reader }

func (PortfolioExposure) Key() models.SectionKey { return models.SectionPortfolioExposure }

type exposure struct {
	AssetType   models.InvestmentType `json:"asset_type"`
	Assets      int                   `json:"assets"`
	Commitments []currencyTotal       `json:"commitments,omitempty"`
}

func (c PortfolioExposure) Compute(ctx context.Context, in service.SectionInput) (json.RawMessage, error) {
	assets, err := c.r.ListAssets(ctx, in.FundID)
	if err != nil {
		return nil, err
	}
	invs, err := c.r.ListFundInvestments(ctx, in.FundID)
	if err != nil {
		return nil, err
	}
	byAsset := make(map[id.AssetID]*models.FundInvestment, len(invs))
	for _, inv := range invs {
		byAsset[inv.AssetID] = inv
	}

	counts := map[models.InvestmentType]int{}
	committed := map[models.InvestmentType][]*models.FundInvestment{}
	for _, a := range assets {
		if a.CreatedAt.After(in.PeriodEnd.Time().AddDate(0, 0, 1)) {
			continue
		}
		counts[a.AssetType]++
		if inv, ok := byAsset[a.ID]; ok {
			committed[a.AssetType] = append(committed[a.AssetType], inv)
		}
	}
	out := make([]exposure, 0, len(counts))
	for typ, n := range counts {
		out = append(out, exposure{AssetType: typ, Assets: n, Commitments: sumByCurrency(committed[typ])})
	}
	slices.SortFunc(out, func(a, b exposure) int { return cmp.Compare(a.AssetType, b.AssetType) })
	return json.Marshal(struct {
		TotalAssets int        `json:"total_assets"`
		ByType      []exposure `json:"by_type"`
	}{len(assets), out})
}

// OverdueObligations lists unsatisfied obligations due by the period end.
type OverdueObligations struct{ r Reader }

func (OverdueObligations) Key() models.SectionKey { return models.SectionOverdueObligations }

type overdueItem struct {
	ObligationID id.ObligationID         `json:"obligation_id"`
	AssetID      id.AssetID              `json:"asset_id"`
	Type         models.ObligationType   `json:"type"`
	Status       models.ObligationStatus `json:"status"`
	PeriodStart  models.Date             `json:"period_start"`
	DueDate      models.Date             `json:"due_date"`
	DaysOverdue  int                     `json:"days_overdue"`
}

func (c OverdueObligations) Compute(ctx context.Context, in service.SectionInput) (json.RawMessage, error) {
	asOf := in.PeriodEnd.AddDays(1)
	obligations, err := c.r.ListObligations(ctx, in.FundID, models.ObligationFilter{
		Statuses:  []models.ObligationStatus{models.ObligationOpen, models.ObligationPendingEvidence, models.ObligationOverdue},
		DueBefore: asOf,
	})
	if err != nil {
		return nil, err
	}
	items := make([]overdueItem, 0, len(obligations))
	for _, o := range obligations {
		items = append(items, overdueItem{
			ObligationID: o.ID,
			AssetID:      o.AssetID,
			Type:         o.Type,
			Status:       o.Status,
			PeriodStart:  o.PeriodStart,
			DueDate:      o.DueDate,
			DaysOverdue:  o.DaysOverdue(in.PeriodEnd),
		})
	}
	return json.Marshal(struct {
		Count int           `json:"count"`
		Items []overdueItem `json:"items"`
	}{len(items), items})
}

// OpenActions lists remediation actions that are not closed.
type OpenActions struct{ r Reader }

func (OpenActions) Key() models.SectionKey { return models.SectionOpenActions }

type actionItem struct {
	ActionID         id.ActionID         `json:"action_id"`
	AssetID          id.AssetID          `json:"asset_id"`
	Title            string              `json:"title"`
	Status           models.ActionStatus `json:"status"`
	EvidenceRequired bool                `json:"evidence_required"`
}

func (c OpenActions) Compute(ctx context.Context, in service.SectionInput) (json.RawMessage, error) {
	actions, err := c.r.ListActions(ctx, in.FundID, models.ActionFilter{})
	if err != nil {
		return nil, err
	}
	items := make([]actionItem, 0, len(actions))
	for _, a := range actions {
		if a.Status == models.ActionClosed {
			continue
		}
		items = append(items, actionItem{
			ActionID:         a.ID,
			AssetID:          a.AssetID,
			Title:            a.Title,
			Status:           a.Status,
			EvidenceRequired: a.EvidenceRequired,
		})
	}
	return json.Marshal(struct {
		Count int          `json:"count"`
		Items []actionItem `json:"items"`
	}{len(items), items})
}
