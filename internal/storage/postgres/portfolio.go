package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"fundops/internal/lifecycle/models"
	id "fundops/pkg/domain"
	"fundops/pkg/platform/sentinel"
	txcontext "fundops/pkg/platform/tx"
)

const fundColumns = `id, name, base_currency, created_at`

func scanFund(r rowScanner) (*models.Fund, error) {
	var f models.Fund
	if err := r.Scan((*uuid.UUID)(&f.ID), &f.Name, &f.BaseCurrency, &f.CreatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func (d *DB) CreateFund(ctx context.Context, fund *models.Fund) error {
	_, err := d.q(ctx).ExecContext(ctx,
		`INSERT INTO funds (`+fundColumns+`) VALUES ($1, $2, $3, $4)`,
		uuid.UUID(fund.ID), fund.Name, fund.BaseCurrency, fund.CreatedAt)
	return mapErr(err, "create fund")
}

func (d *DB) GetFund(ctx context.Context, fundID id.FundID) (*models.Fund, error) {
	f, err := scanFund(d.q(ctx).QueryRowContext(ctx,
		`SELECT `+fundColumns+` FROM funds WHERE id = $1`, uuid.UUID(fundID)))
	if err != nil {
		return nil, mapErr(err, "get fund")
	}
	return f, nil
}

// ListFunds applies the scope in the query; an empty scope matches nothing.
func (d *DB) ListFunds(ctx context.Context, scope models.FundScope) ([]*models.Fund, error) {
	query := `SELECT ` + fundColumns + ` FROM funds`
	var args []any
	if !scope.All {
		if len(scope.FundIDs) == 0 {
			return nil, nil
		}
		ids := make([]string, len(scope.FundIDs))
		for i, f := range scope.FundIDs {
			ids[i] = f.String()
		}
		query += ` WHERE id::text = ANY($1)`
		args = append(args, pq.Array(ids))
	}
	rows, err := d.q(ctx).QueryContext(ctx, query+` ORDER BY name`, args...)
	if err != nil {
		return nil, mapErr(err, "list funds")
	}
	return collect(rows, scanFund)
}

const dealColumns = `id, fund_id, name, type, strategy, access_level, stage, asset_id,
	rejection_code, rejection_notes, created_by, created_at, updated_at`

func scanDeal(r rowScanner) (*models.Deal, error) {
	var dl models.Deal
	var assetID uuid.NullUUID
	err := r.Scan((*uuid.UUID)(&dl.ID), (*uuid.UUID)(&dl.FundID), &dl.Name, &dl.Type, &dl.Strategy,
		&dl.AccessLevel, &dl.Stage, &assetID, &dl.RejectionCode, &dl.RejectionNotes,
		&dl.CreatedBy, &dl.CreatedAt, &dl.UpdatedAt)
	if err != nil {
		return nil, err
	}
	dl.AssetID = fromNullID[id.AssetID](assetID)
	return &dl, nil
}

func (d *DB) CreateDeal(ctx context.Context, deal *models.Deal) error {
	if err := d.requireFund(ctx, deal.FundID); err != nil {
		return err
	}
	_, err := d.q(ctx).ExecContext(ctx, `INSERT INTO deals (`+dealColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		uuid.UUID(deal.ID), uuid.UUID(deal.FundID), deal.Name, deal.Type, deal.Strategy,
		deal.AccessLevel, deal.Stage, nullID(deal.AssetID), deal.RejectionCode, deal.RejectionNotes,
		deal.CreatedBy, deal.CreatedAt, deal.UpdatedAt)
	return mapErr(err, "create deal")
}

func (d *DB) GetDeal(ctx context.Context, fundID id.FundID, dealID id.DealID) (*models.Deal, error) {
	dl, err := scanDeal(d.q(ctx).QueryRowContext(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE id = $1 AND fund_id = $2`,
		uuid.UUID(dealID), uuid.UUID(fundID)))
	if err != nil {
		return nil, mapErr(err, "get deal")
	}
	return dl, nil
}

func (d *DB) ListDeals(ctx context.Context, fundID id.FundID, filter models.DealFilter) ([]*models.Deal, error) {
	rows, err := d.q(ctx).QueryContext(ctx, `SELECT `+dealColumns+` FROM deals
		WHERE fund_id = $1 AND ($2 = '' OR stage = $2)
		ORDER BY created_at, id`,
		uuid.UUID(fundID), string(filter.Stage))
	if err != nil {
		return nil, mapErr(err, "list deals")
	}
	return collect(rows, scanDeal)
}

func (d *DB) ExecuteDeal(ctx context.Context, fundID id.FundID, dealID id.DealID,
	validate func(*models.Deal) error, mutate func(*models.Deal)) (*models.Deal, error) {
	return execute(ctx, d, "execute deal",
		func(ctx context.Context, q txcontext.Querier) (*models.Deal, error) {
			return scanDeal(q.QueryRowContext(ctx,
				`SELECT `+dealColumns+` FROM deals WHERE id = $1 AND fund_id = $2 FOR UPDATE`,
				uuid.UUID(dealID), uuid.UUID(fundID)))
		},
		validate, mutate,
		func(ctx context.Context, q txcontext.Querier, dl *models.Deal) error {
			_, err := q.ExecContext(ctx, `UPDATE deals SET stage = $2, asset_id = $3,
				rejection_code = $4, rejection_notes = $5, updated_at = $6 WHERE id = $1`,
				uuid.UUID(dl.ID), dl.Stage, nullID(dl.AssetID), dl.RejectionCode, dl.RejectionNotes, dl.UpdatedAt)
			return err
		})
}

const assetColumns = `id, fund_id, name, asset_type, strategy, access_level, source_deal_id, created_by, created_at`

func scanAsset(r rowScanner) (*models.Asset, error) {
	var a models.Asset
	var dealID uuid.NullUUID
	err := r.Scan((*uuid.UUID)(&a.ID), (*uuid.UUID)(&a.FundID), &a.Name, &a.AssetType, &a.Strategy,
		&a.AccessLevel, &dealID, &a.CreatedBy, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.SourceDealID = fromNullID[id.DealID](dealID)
	return &a, nil
}

// CreateAsset relies on the unique source_deal_id column for one asset per deal.
func (d *DB) CreateAsset(ctx context.Context, asset *models.Asset) error {
	if err := d.requireFund(ctx, asset.FundID); err != nil {
		return err
	}
	_, err := d.q(ctx).ExecContext(ctx, `INSERT INTO assets (`+assetColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.UUID(asset.ID), uuid.UUID(asset.FundID), asset.Name, asset.AssetType, asset.Strategy,
		asset.AccessLevel, nullID(asset.SourceDealID), asset.CreatedBy, asset.CreatedAt)
	return mapErr(err, "create asset")
}

func (d *DB) GetAsset(ctx context.Context, fundID id.FundID, assetID id.AssetID) (*models.Asset, error) {
	a, err := scanAsset(d.q(ctx).QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE id = $1 AND fund_id = $2`,
		uuid.UUID(assetID), uuid.UUID(fundID)))
	if err != nil {
		return nil, mapErr(err, "get asset")
	}
	return a, nil
}

func (d *DB) ListAssets(ctx context.Context, fundID id.FundID) ([]*models.Asset, error) {
	rows, err := d.q(ctx).QueryContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE fund_id = $1 ORDER BY created_at, id`, uuid.UUID(fundID))
	if err != nil {
		return nil, mapErr(err, "list assets")
	}
	return collect(rows, scanAsset)
}

const investmentColumns = `i.asset_id, i.manager_name, i.commitment, i.currency, i.reporting_frequency,
	i.vintage_year, i.nav_grace_days, i.updated_at`

func scanInvestment(r rowScanner) (*models.FundInvestment, error) {
	var inv models.FundInvestment
	err := r.Scan((*uuid.UUID)(&inv.AssetID), &inv.ManagerName, &inv.Commitment, &inv.Currency,
		&inv.ReportingFrequency, &inv.VintageYear, &inv.NAVGraceDays, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (d *DB) GetFundInvestment(ctx context.Context, fundID id.FundID, assetID id.AssetID) (*models.FundInvestment, error) {
	inv, err := scanInvestment(d.q(ctx).QueryRowContext(ctx,
		`SELECT `+investmentColumns+` FROM fund_investments i `+inFund("i")+` WHERE i.asset_id = $2`,
		uuid.UUID(fundID), uuid.UUID(assetID)))
	if err != nil {
		return nil, mapErr(err, "get fund investment")
	}
	return inv, nil
}

func (d *DB) SaveFundInvestment(ctx context.Context, fundID id.FundID, inv *models.FundInvestment) error {
	return d.RunInTx(ctx, func(ctx context.Context) error {
		if err := d.requireAsset(ctx, fundID, inv.AssetID); err != nil {
			return err
		}
		_, err := d.q(ctx).ExecContext(ctx, `INSERT INTO fund_investments (asset_id, manager_name, commitment,
				currency, reporting_frequency, vintage_year, nav_grace_days, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (asset_id) DO UPDATE SET manager_name = EXCLUDED.manager_name,
				commitment = EXCLUDED.commitment, currency = EXCLUDED.currency,
				reporting_frequency = EXCLUDED.reporting_frequency, vintage_year = EXCLUDED.vintage_year,
				nav_grace_days = EXCLUDED.nav_grace_days, updated_at = EXCLUDED.updated_at`,
			uuid.UUID(inv.AssetID), inv.ManagerName, inv.Commitment, inv.Currency, inv.ReportingFrequency,
			inv.VintageYear, inv.NAVGraceDays, inv.UpdatedAt)
		return mapErr(err, "save fund investment")
	})
}

func (d *DB) ListFundInvestments(ctx context.Context, fundID id.FundID) ([]*models.FundInvestment, error) {
	rows, err := d.q(ctx).QueryContext(ctx,
		`SELECT `+investmentColumns+` FROM fund_investments i `+inFund("i")+` ORDER BY i.asset_id::text`,
		uuid.UUID(fundID))
	if err != nil {
		return nil, mapErr(err, "list fund investments")
	}
	return collect(rows, scanInvestment)
}

// inFund is the single fund-scope join for tables owned through an asset.
// The fund id is always bound as $1.
func inFund(alias string) string {
	return `JOIN assets owner ON owner.id = ` + alias + `.asset_id AND owner.fund_id = $1`
}

func (d *DB) requireFund(ctx context.Context, fundID id.FundID) error {
	var exists bool
	err := d.q(ctx).QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM funds WHERE id = $1)`,
		uuid.UUID(fundID)).Scan(&exists)
	if err != nil {
		return mapErr(err, "lookup fund")
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return nil
}

func (d *DB) requireAsset(ctx context.Context, fundID id.FundID, assetID id.AssetID) error {
	var exists bool
	err := d.q(ctx).QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM assets WHERE id = $1 AND fund_id = $2)`,
		uuid.UUID(assetID), uuid.UUID(fundID)).Scan(&exists)
	if err != nil {
		return mapErr(err, "lookup asset")
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return nil
}
