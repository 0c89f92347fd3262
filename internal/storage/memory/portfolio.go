package memory

import (
	"cmp"
	"context"
	"slices"

	"fundops/internal/lifecycle/models"
	id "fundops/pkg/domain"
	"fundops/pkg/platform/sentinel"
)

var (
	errNotFound = sentinel.ErrNotFound
	errConflict = sentinel.ErrConflict
)

func (db *DB) CreateFund(ctx context.Context, fund *models.Fund) error {
	return db.write(ctx, func(st *state) error {
		if _, ok := st.funds[fund.ID]; ok {
			return errConflict
		}
		st.funds[fund.ID] = *fund
		return nil
	})
}

func (db *DB) GetFund(ctx context.Context, fundID id.FundID) (*models.Fund, error) {
	var out *models.Fund
	err := db.read(ctx, func(st *state) error {
		f, ok := st.funds[fundID]
		if !ok {
			return errNotFound
		}
		out = ptr(f)
		return nil
	})
	return out, err
}

func (db *DB) ListFunds(ctx context.Context, scope models.FundScope) ([]*models.Fund, error) {
	var out []*models.Fund
	err := db.read(ctx, func(st *state) error {
		for _, f := range st.funds {
			if scope.Includes(f.ID) {
				out = append(out, ptr(f))
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *models.Fund) int { return cmp.Compare(a.Name, b.Name) })
	return out, err
}

func (db *DB) CreateDeal(ctx context.Context, deal *models.Deal) error {
	return db.write(ctx, func(st *state) error {
		if _, ok := st.funds[deal.FundID]; !ok {
			return errNotFound
		}
		if _, ok := st.deals[deal.ID]; ok {
			return errConflict
		}
		st.deals[deal.ID] = *deal
		return nil
	})
}

func (db *DB) GetDeal(ctx context.Context, fundID id.FundID, dealID id.DealID) (*models.Deal, error) {
	var out *models.Deal
	err := db.read(ctx, func(st *state) error {
		d, ok := st.deals[dealID]
		if !ok || d.FundID != fundID {
			return errNotFound
		}
		out = ptr(d)
		return nil
	})
	return out, err
}

func (db *DB) ListDeals(ctx context.Context, fundID id.FundID, filter models.DealFilter) ([]*models.Deal, error) {
	var out []*models.Deal
	err := db.read(ctx, func(st *state) error {
		for _, d := range st.deals {
			if d.FundID != fundID || (filter.Stage != "" && d.Stage != filter.Stage) {
				continue
			}
			out = append(out, ptr(d))
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *models.Deal) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	return out, err
}

func (db *DB) ExecuteDeal(ctx context.Context, fundID id.FundID, dealID id.DealID,
	validate func(*models.Deal) error, mutate func(*models.Deal)) (*models.Deal, error) {
	return execute(ctx, db, func(st *state) map[id.DealID]models.Deal { return st.deals }, dealID,
		func(_ *state, d models.Deal) bool { return d.FundID == fundID }, validate, mutate)
}

// CreateAsset enforces one asset per source deal.
func (db *DB) CreateAsset(ctx context.Context, asset *models.Asset) error {
	return db.write(ctx, func(st *state) error {
		if _, ok := st.funds[asset.FundID]; !ok {
			return errNotFound
		}
		if _, ok := st.assets[asset.ID]; ok {
			return errConflict
		}
		if asset.SourceDealID != nil {
			for _, a := range st.assets {
				if a.SourceDealID != nil && *a.SourceDealID == *asset.SourceDealID {
					return errConflict
				}
			}
		}
		st.assets[asset.ID] = *asset
		return nil
	})
}

func (db *DB) GetAsset(ctx context.Context, fundID id.FundID, assetID id.AssetID) (*models.Asset, error) {
	var out *models.Asset
	err := db.read(ctx, func(st *state) error {
		a, ok := st.assets[assetID]
		if !ok || a.FundID != fundID {
			return errNotFound
		}
		out = ptr(a)
		return nil
	})
	return out, err
}

func (db *DB) ListAssets(ctx context.Context, fundID id.FundID) ([]*models.Asset, error) {
	var out []*models.Asset
	err := db.read(ctx, func(st *state) error {
		for _, a := range st.assets {
			if a.FundID == fundID {
				out = append(out, ptr(a))
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *models.Asset) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	return out, err
}

func (db *DB) GetFundInvestment(ctx context.Context, fundID id.FundID, assetID id.AssetID) (*models.FundInvestment, error) {
	var out *models.FundInvestment
	err := db.read(ctx, func(st *state) error {
		inv, ok := st.investments[assetID]
		if !ok || !st.assetInFund(fundID, assetID) {
			return errNotFound
		}
		out = ptr(inv)
		return nil
	})
	return out, err
}

func (db *DB) SaveFundInvestment(ctx context.Context, fundID id.FundID, inv *models.FundInvestment) error {
	return db.write(ctx, func(st *state) error {
		if !st.assetInFund(fundID, inv.AssetID) {
			return errNotFound
		}
		st.investments[inv.AssetID] = *inv
		return nil
	})
}

func (db *DB) ListFundInvestments(ctx context.Context, fundID id.FundID) ([]*models.FundInvestment, error) {
	var out []*models.FundInvestment
	err := db.read(ctx, func(st *state) error {
		for _, inv := range st.investments {
			if st.assetInFund(fundID, inv.AssetID) {
				out = append(out, ptr(inv))
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *models.FundInvestment) int {
		return cmp.Compare(a.AssetID.String(), b.AssetID.String())
	})
	return out, err
}
