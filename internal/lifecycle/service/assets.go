package service

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"fundops/internal/audit"
	"fundops/internal/identity"
	"fundops/internal/lifecycle/models"
	id "fundops/pkg/domain"
	"fundops/pkg/platform/sentinel"
)

type CreateAssetRequest struct {
	Name        string `json:"name"`
	AssetType   string `json:"asset_type"`
	Strategy    string `json:"strategy"`
	AccessLevel string `json:"access_level"`
}

type AttachFundInvestmentRequest struct {
	ManagerName        string          `json:"manager_name"`
	Commitment         decimal.Decimal `json:"commitment"`
	Currency           string          `json:"currency"`
	ReportingFrequency string          `json:"reporting_frequency"`
	VintageYear        int             `json:"vintage_year"`
	NAVGraceDays       *int            `json:"nav_grace_days"`
}

// AssetDetail is an asset with its fund-investment extension, if any.
type AssetDetail struct {
	*models.Asset
	FundInvestment *models.FundInvestment `json:"fund_investment,omitempty"`
}

// AttachResult reports the saved details and the obligation for the current
// reporting period. ObligationCreated is false when it already existed.
type AttachResult struct {
	FundInvestment    *models.FundInvestment `json:"fund_investment"`
	Obligation        *models.Obligation     `json:"obligation"`
	ObligationCreated bool                   `json:"obligation_created"`
}

func (s *Service) CreateAsset(ctx context.Context, caller identity.Caller, fundID id.FundID, req CreateAssetRequest) (_ *models.Asset, err error) {
	ctx, end := s.begin(ctx, OpCreateAsset, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpCreateAsset); err != nil {
		return nil, err
	}
	typ, err := models.ParseInvestmentType(req.AssetType)
	if err != nil {
		return nil, err
	}
	level, err := models.ParseAccessLevel(req.AccessLevel)
	if err != nil {
		return nil, err
	}
	asset, err := models.NewAsset(id.NewAssetID(), fundID, req.Name, typ, req.Strategy, level, caller.Actor.ID, now(ctx))
	if err != nil {
		return nil, err
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.requireFund(ctx, fundID); err != nil {
			return err
		}
		if err := s.stores.Assets.CreateAsset(ctx, asset); err != nil {
			return storeErr(err, "asset")
		}
		return s.record(ctx, caller, change{
			fundID:     fundID,
			access:     asset.AccessLevel,
			action:     audit.ActionAssetCreated,
			entityType: "asset",
			entityID:   asset.ID.String(),
			after:      asset,
		})
	})
	if err != nil {
		return nil, err
	}
	return asset, nil
}

func (s *Service) GetAsset(ctx context.Context, caller identity.Caller, fundID id.FundID, assetID id.AssetID) (_ *AssetDetail, err error) {
	ctx, end := s.begin(ctx, OpGetAsset, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpGetAsset); err != nil {
		return nil, err
	}
	asset, err := s.stores.Assets.GetAsset(ctx, fundID, assetID)
	if err != nil {
		return nil, storeErr(err, "asset")
	}
	inv, err := s.fundInvestment(ctx, fundID, assetID)
	if err != nil {
		return nil, err
	}
	return &AssetDetail{Asset: asset, FundInvestment: inv}, nil
}

func (s *Service) ListAssets(ctx context.Context, caller identity.Caller, fundID id.FundID) (_ []*models.Asset, err error) {
	ctx, end := s.begin(ctx, OpListAssets, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpListAssets); err != nil {
		return nil, err
	}
	assets, err := s.stores.Assets.ListAssets(ctx, fundID)
	if err != nil {
		return nil, storeErr(err, "asset")
	}
	return assets, nil
}

// fundInvestment returns nil when the asset has no fund-investment details.
func (s *Service) fundInvestment(ctx context.Context, fundID id.FundID, assetID id.AssetID) (*models.FundInvestment, error) {
	inv, err := s.stores.Assets.GetFundInvestment(ctx, fundID, assetID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err, "fund investment")
	}
	return inv, nil
}

// AttachFundInvestment saves fund-investment details on a FUND_INVESTMENT
// asset and creates the NAV obligation for the reporting period containing
// today. Repeating the call never duplicates the obligation.
func (s *Service) AttachFundInvestment(ctx context.Context, caller identity.Caller, fundID id.FundID, assetID id.AssetID,
	req AttachFundInvestmentRequest) (_ *AttachResult, err error) {
	ctx, end := s.begin(ctx, OpAttachFundInvestment, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpAttachFundInvestment); err != nil {
		return nil, err
	}
	freq, err := models.ParseReportingFrequency(req.ReportingFrequency)
	if err != nil {
		return nil, err
	}
	at := now(ctx)
	day := today(ctx)

	var result AttachResult
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		asset, err := s.stores.Assets.GetAsset(ctx, fundID, assetID)
		if err != nil {
			return storeErr(err, "asset")
		}
		before, err := s.fundInvestment(ctx, fundID, assetID)
		if err != nil {
			return err
		}
		inv, err := models.NewFundInvestment(asset, models.FundInvestmentInput{
			ManagerName:        req.ManagerName,
			Commitment:         req.Commitment,
			Currency:           req.Currency,
			ReportingFrequency: freq,
			VintageYear:        req.VintageYear,
			NAVGraceDays:       req.NAVGraceDays,
		}, at)
		if err != nil {
			return err
		}
		if err := s.stores.Assets.SaveFundInvestment(ctx, fundID, inv); err != nil {
			return storeErr(err, "fund investment")
		}
		if err := s.record(ctx, caller, change{
			fundID:     fundID,
			access:     asset.AccessLevel,
			action:     audit.ActionFundInvestmentAttached,
			entityType: "fund_investment",
			entityID:   asset.ID.String(),
			before:     before,
			after:      inv,
		}); err != nil {
			return err
		}

		start, _ := freq.PeriodContaining(day)
		o, created, err := s.ensureObligation(ctx, caller, fundID, asset, inv, start)
		if err != nil {
			return err
		}
		result = AttachResult{FundInvestment: inv, Obligation: o, ObligationCreated: created}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ensureObligation inserts the NAV obligation for the period starting at
// periodStart unless it exists, auditing only a real insert.
func (s *Service) ensureObligation(ctx context.Context, caller identity.Caller, fundID id.FundID,
	asset *models.Asset, inv *models.FundInvestment, periodStart models.Date) (*models.Obligation, bool, error) {
	o := models.NewNAVObligation(id.NewObligationID(), inv, periodStart, now(ctx))
	created, err := s.stores.Obligations.InsertObligationIfAbsent(ctx, fundID, o)
	if err != nil {
		return nil, false, storeErr(err, "obligation")
	}
	if !created {
		existing, err := s.stores.Obligations.ListObligations(ctx, fundID, models.ObligationFilter{
			AssetID: &o.AssetID,
			Type:    o.Type,
		})
		if err != nil {
			return nil, false, storeErr(err, "obligation")
		}
		for _, e := range existing {
			if e.PeriodStart.Equal(o.PeriodStart) {
				return e, false, nil
			}
		}
		return nil, false, storeErr(sentinel.ErrNotFound, "obligation")
	}
	if err := s.record(ctx, caller, change{
		fundID:     fundID,
		access:     asset.AccessLevel,
		action:     audit.ActionObligationCreated,
		entityType: "obligation",
		entityID:   o.ID.String(),
		after:      o,
	}); err != nil {
		return nil, false, err
	}
	return o, true, nil
}
