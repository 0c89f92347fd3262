package service

import (
	"context"

	"fundops/internal/audit"
	"fundops/internal/identity"
	"fundops/internal/lifecycle/models"
	id "fundops/pkg/domain"
)

type CreateFundRequest struct {
	Name         string `json:"name"`
	BaseCurrency string `json:"base_currency"`
}

// CreateFund is an ADMIN operation. The fund's own chain starts with its
// creation event.
func (s *Service) CreateFund(ctx context.Context, caller identity.Caller, req CreateFundRequest) (_ *models.Fund, err error) {
	fundID := id.NewFundID()
	ctx, end := s.begin(ctx, OpCreateFund, fundID)
	defer end(&err)

	if err := s.authorizeUnscoped(ctx, caller, OpCreateFund); err != nil {
		return nil, err
	}
	fund, err := models.NewFund(fundID, req.Name, req.BaseCurrency, now(ctx))
	if err != nil {
		return nil, err
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.stores.Funds.CreateFund(ctx, fund); err != nil {
			return storeErr(err, "fund")
		}
		return s.record(ctx, caller, change{
			fundID:     fund.ID,
			action:     audit.ActionFundCreated,
			entityType: "fund",
			entityID:   fund.ID.String(),
			after:      fund,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "fund created", "fund_id", fund.ID.String(), "request_id", caller.RequestID)
	return fund, nil
}

// ListFunds returns the funds visible to the caller. The fund scope is applied
// in the store query.
func (s *Service) ListFunds(ctx context.Context, caller identity.Caller) (_ []*models.Fund, err error) {
	ctx, end := s.begin(ctx, OpListFunds, id.FundID{})
	defer end(&err)

	if err := s.authorizeUnscoped(ctx, caller, OpListFunds); err != nil {
		return nil, err
	}
	fundScope := models.FundScope{All: caller.Actor.IsAdmin(), FundIDs: caller.Actor.FundIDs}
	funds, err := s.stores.Funds.ListFunds(ctx, fundScope)
	if err != nil {
		return nil, storeErr(err, "fund")
	}
	return funds, nil
}
