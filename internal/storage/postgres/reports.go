package postgres

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"fundops/internal/lifecycle/models"
	id "fundops/pkg/domain"
	"fundops/pkg/platform/sentinel"
	txcontext "fundops/pkg/platform/tx"
)

const packColumns = `id, fund_id, period_start, period_end, version, status, created_by, created_at,
	updated_at, generated_at, published_at, published_by, archived_at`

func scanPack(r rowScanner) (*models.ReportPack, error) {
	var p models.ReportPack
	err := r.Scan((*uuid.UUID)(&p.ID), (*uuid.UUID)(&p.FundID), &p.PeriodStart, &p.PeriodEnd, &p.Version,
		&p.Status, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt, &p.GeneratedAt, &p.PublishedAt, &p.PublishedBy,
		&p.ArchivedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *DB) NextPackVersion(ctx context.Context, fundID id.FundID, periodStart models.Date) (int, error) {
	var next int
	err := d.q(ctx).QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM report_packs
		WHERE fund_id = $1 AND period_start = $2`, uuid.UUID(fundID), periodStart).Scan(&next)
	if err != nil {
		return 0, mapErr(err, "next pack version")
	}
	return next, nil
}

// InsertPack relies on the (fund, period start, version) unique key.
func (d *DB) InsertPack(ctx context.Context, p *models.ReportPack) error {
	if err := d.requireFund(ctx, p.FundID); err != nil {
		return err
	}
	_, err := d.q(ctx).ExecContext(ctx, `INSERT INTO report_packs (`+packColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		uuid.UUID(p.ID), uuid.UUID(p.FundID), p.PeriodStart, p.PeriodEnd, p.Version, p.Status, p.CreatedBy,
		p.CreatedAt, p.UpdatedAt, p.GeneratedAt, p.PublishedAt, p.PublishedBy, p.ArchivedAt)
	return mapErr(err, "insert report pack")
}

func (d *DB) GetPack(ctx context.Context, fundID id.FundID, packID id.ReportPackID) (*models.ReportPack, error) {
	p, err := scanPack(d.q(ctx).QueryRowContext(ctx,
		`SELECT `+packColumns+` FROM report_packs WHERE id = $1 AND fund_id = $2`,
		uuid.UUID(packID), uuid.UUID(fundID)))
	if err != nil {
		return nil, mapErr(err, "get report pack")
	}
	return p, nil
}

func (d *DB) ListPacks(ctx context.Context, fundID id.FundID, filter models.ReportPackFilter) ([]*models.ReportPack, error) {
	c := newConditions()
	c.add("fund_id = $%d", uuid.UUID(fundID))
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		c.add("status = ANY($%d)", pq.Array(statuses))
	}
	rows, err := d.q(ctx).QueryContext(ctx, `SELECT `+packColumns+` FROM report_packs`+c.where()+
		` ORDER BY period_start DESC, version DESC`, c.args...)
	if err != nil {
		return nil, mapErr(err, "list report packs")
	}
	return collect(rows, scanPack)
}

func (d *DB) ExecutePack(ctx context.Context, fundID id.FundID, packID id.ReportPackID,
	validate func(*models.ReportPack) error, mutate func(*models.ReportPack)) (*models.ReportPack, error) {
	return execute(ctx, d, "execute report pack",
		func(ctx context.Context, q txcontext.Querier) (*models.ReportPack, error) {
			return scanPack(q.QueryRowContext(ctx, `SELECT `+packColumns+` FROM report_packs
				WHERE id = $1 AND fund_id = $2 FOR UPDATE`, uuid.UUID(packID), uuid.UUID(fundID)))
		},
		validate, mutate,
		func(ctx context.Context, q txcontext.Querier, p *models.ReportPack) error {
			_, err := q.ExecContext(ctx, `UPDATE report_packs SET status = $2, updated_at = $3,
				generated_at = $4, published_at = $5, published_by = $6, archived_at = $7 WHERE id = $1`,
				uuid.UUID(p.ID), p.Status, p.UpdatedAt, p.GeneratedAt, p.PublishedAt, p.PublishedBy, p.ArchivedAt)
			return err
		})
}

const sectionColumns = `pack_id, key, content, commentary, computed_at, updated_at`

func scanSection(r rowScanner) (*models.Section, error) {
	var s models.Section
	var content []byte
	err := r.Scan((*uuid.UUID)(&s.PackID), &s.Key, &content, &s.Commentary, &s.ComputedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Content = json.RawMessage(content)
	return &s, nil
}

func (d *DB) requirePack(ctx context.Context, fundID id.FundID, packID id.ReportPackID) error {
	var exists bool
	err := d.q(ctx).QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM report_packs WHERE id = $1 AND fund_id = $2)`,
		uuid.UUID(packID), uuid.UUID(fundID)).Scan(&exists)
	if err != nil {
		return mapErr(err, "lookup report pack")
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return nil
}

func (d *DB) UpsertSection(ctx context.Context, fundID id.FundID, s *models.Section) error {
	return d.RunInTx(ctx, func(ctx context.Context) error {
		if err := d.requirePack(ctx, fundID, s.PackID); err != nil {
			return err
		}
		_, err := d.q(ctx).ExecContext(ctx, `INSERT INTO report_sections (`+sectionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (pack_id, key) DO UPDATE SET content = EXCLUDED.content,
				commentary = EXCLUDED.commentary, computed_at = EXCLUDED.computed_at,
				updated_at = EXCLUDED.updated_at`,
			uuid.UUID(s.PackID), s.Key, string(s.Content), s.Commentary, s.ComputedAt, s.UpdatedAt)
		return mapErr(err, "upsert section")
	})
}

func (d *DB) PruneSections(ctx context.Context, fundID id.FundID, packID id.ReportPackID, keep []models.SectionKey) error {
	return d.RunInTx(ctx, func(ctx context.Context) error {
		if err := d.requirePack(ctx, fundID, packID); err != nil {
			return err
		}
		keys := make([]string, len(keep))
		for i, k := range keep {
			keys[i] = string(k)
		}
		_, err := d.q(ctx).ExecContext(ctx, `DELETE FROM report_sections
			WHERE pack_id = $1 AND NOT (key = ANY($2))`, uuid.UUID(packID), pq.Array(keys))
		return mapErr(err, "prune sections")
	})
}

func (d *DB) ListSections(ctx context.Context, fundID id.FundID, packID id.ReportPackID) ([]*models.Section, error) {
	if err := d.requirePack(ctx, fundID, packID); err != nil {
		return nil, err
	}
	rows, err := d.q(ctx).QueryContext(ctx, `SELECT `+sectionColumns+` FROM report_sections
		WHERE pack_id = $1 ORDER BY key`, uuid.UUID(packID))
	if err != nil {
		return nil, mapErr(err, "list sections")
	}
	return collect(rows, scanSection)
}
