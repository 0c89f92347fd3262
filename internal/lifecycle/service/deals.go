package service

import (
	"context"

	"fundops/internal/audit"
	"fundops/internal/identity"
	"fundops/internal/lifecycle/models"
	id "fundops/pkg/domain"
)

type CreateDealRequest struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Strategy    string `json:"strategy"`
	AccessLevel string `json:"access_level"`
}

type DecideDealRequest struct {
	Stage          string `json:"stage"`
	RejectionCode  string `json:"rejection_code"`
	RejectionNotes string `json:"rejection_notes"`
}

// ConversionResult is the outcome of ConvertDeal.
type ConversionResult struct {
	Deal  *models.Deal  `json:"deal"`
	Asset *models.Asset `json:"asset"`
}

// conversionSnapshot is the after-state of a conversion: the deal plus the
// asset it produced.
type conversionSnapshot struct {
	*models.Deal
	Asset *models.Asset `json:"asset"`
}

func (s *Service) CreateDeal(ctx context.Context, caller identity.Caller, fundID id.FundID, req CreateDealRequest) (_ *models.Deal, err error) {
	ctx, end := s.begin(ctx, OpCreateDeal, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpCreateDeal); err != nil {
		return nil, err
	}
	typ, err := models.ParseInvestmentType(req.Type)
	if err != nil {
		return nil, err
	}
	level, err := models.ParseAccessLevel(req.AccessLevel)
	if err != nil {
		return nil, err
	}
	deal, err := models.NewDeal(id.NewDealID(), fundID, req.Name, typ, req.Strategy, level, caller.Actor.ID, now(ctx))
	if err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.requireFund(ctx, fundID); err != nil {
			return err
		}
		if err := s.stores.Deals.CreateDeal(ctx, deal); err != nil {
			return storeErr(err, "deal")
		}
		return s.record(ctx, caller, change{
			fundID:     fundID,
			access:     deal.AccessLevel,
			action:     audit.ActionDealCreated,
			entityType: "deal",
			entityID:   deal.ID.String(),
			after:      deal,
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncTransition("deal", string(deal.Stage))
	return deal, nil
}

func (s *Service) GetDeal(ctx context.Context, caller identity.Caller, fundID id.FundID, dealID id.DealID) (_ *models.Deal, err error) {
	ctx, end := s.begin(ctx, OpGetDeal, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpGetDeal); err != nil {
		return nil, err
	}
	deal, err := s.stores.Deals.GetDeal(ctx, fundID, dealID)
	if err != nil {
		return nil, storeErr(err, "deal")
	}
	return deal, nil
}

func (s *Service) ListDeals(ctx context.Context, caller identity.Caller, fundID id.FundID, filter models.DealFilter) (_ []*models.Deal, err error) {
	ctx, end := s.begin(ctx, OpListDeals, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpListDeals); err != nil {
		return nil, err
	}
	deals, err := s.stores.Deals.ListDeals(ctx, fundID, filter)
	if err != nil {
		return nil, storeErr(err, "deal")
	}
	return deals, nil
}

// DecideDeal moves a deal forward through review, or rejects it.
func (s *Service) DecideDeal(ctx context.Context, caller identity.Caller, fundID id.FundID, dealID id.DealID, req DecideDealRequest) (_ *models.Deal, err error) {
	ctx, end := s.begin(ctx, OpDecideDeal, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpDecideDeal); err != nil {
		return nil, err
	}
	stage, err := models.ParseDealStage(req.Stage)
	if err != nil {
		return nil, err
	}
	dec := models.Decision{Stage: stage, RejectionCode: req.RejectionCode, RejectionNotes: req.RejectionNotes}
	at := now(ctx)

	var updated *models.Deal
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var before models.Deal
		deal, err := s.stores.Deals.ExecuteDeal(ctx, fundID, dealID,
			func(d *models.Deal) error {
				before = *d
				return d.CanDecide(dec)
			},
			func(d *models.Deal) { d.ApplyDecision(dec, at) },
		)
		if err != nil {
			return storeErr(err, "deal")
		}
		updated = deal
		return s.record(ctx, caller, change{
			fundID:     fundID,
			access:     deal.AccessLevel,
			action:     audit.ActionDealDecided,
			entityType: "deal",
			entityID:   deal.ID.String(),
			before:     &before,
			after:      deal,
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncTransition("deal", string(updated.Stage))
	return updated, nil
}

// ConvertDeal turns an APPROVED deal into a portfolio asset. The deal row is
// locked for the whole unit of work and the asset insert is unique per source
// deal, so concurrent conversions produce exactly one asset.
func (s *Service) ConvertDeal(ctx context.Context, caller identity.Caller, fundID id.FundID, dealID id.DealID) (_ *ConversionResult, err error) {
	ctx, end := s.begin(ctx, OpConvertDeal, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpConvertDeal); err != nil {
		return nil, err
	}
	at := now(ctx)
	assetID := id.NewAssetID()

	var result ConversionResult
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var before models.Deal
		deal, err := s.stores.Deals.ExecuteDeal(ctx, fundID, dealID,
			func(d *models.Deal) error {
				before = *d
				return d.CanConvert()
			},
			func(d *models.Deal) { d.ApplyConversion(assetID, at) },
		)
		if err != nil {
			return storeErr(err, "deal")
		}
		asset := models.AssetFromDeal(deal, assetID, caller.Actor.ID, at)
		if err := s.stores.Assets.CreateAsset(ctx, asset); err != nil {
			if isConflict(err) {
				return alreadyConverted()
			}
			return storeErr(err, "asset")
		}
		result = ConversionResult{Deal: deal, Asset: asset}
		return s.record(ctx, caller, change{
			fundID:     fundID,
			access:     deal.AccessLevel,
			action:     audit.ActionDealConverted,
			entityType: "deal",
			entityID:   deal.ID.String(),
			before:     &before,
			after:      conversionSnapshot{Deal: deal, Asset: asset},
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncTransition("deal", string(result.Deal.Stage))
	s.logger.InfoContext(ctx, "deal converted",
		"fund_id", fundID.String(),
		"deal_id", dealID.String(),
		"asset_id", result.Asset.ID.String(),
		"request_id", caller.RequestID,
	)
	return &result, nil
}
