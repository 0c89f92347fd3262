package memory

import (
	"cmp"
	"context"
	"slices"

	"fundops/internal/lifecycle/models"
	id "fundops/pkg/domain"
)

func (db *DB) NextPackVersion(ctx context.Context, fundID id.FundID, periodStart models.Date) (int, error) {
	var next int
	err := db.read(ctx, func(st *state) error {
		for _, p := range st.packs {
			if p.FundID == fundID && p.PeriodStart.Equal(periodStart) && p.Version > next {
				next = p.Version
			}
		}
		return nil
	})
	return next + 1, err
}

// InsertPack enforces uniqueness of (fund, period start, version).
func (db *DB) InsertPack(ctx context.Context, pack *models.ReportPack) error {
	return db.write(ctx, func(st *state) error {
		if _, ok := st.funds[pack.FundID]; !ok {
			return errNotFound
		}
		for _, p := range st.packs {
			if p.ID == pack.ID ||
				(p.FundID == pack.FundID && p.PeriodStart.Equal(pack.PeriodStart) && p.Version == pack.Version) {
				return errConflict
			}
		}
		st.packs[pack.ID] = *pack
		return nil
	})
}

func (db *DB) GetPack(ctx context.Context, fundID id.FundID, packID id.ReportPackID) (*models.ReportPack, error) {
	var out *models.ReportPack
	err := db.read(ctx, func(st *state) error {
		p, ok := st.packs[packID]
		if !ok || p.FundID != fundID {
			return errNotFound
		}
		out = ptr(p)
		return nil
	})
	return out, err
}

func (db *DB) ListPacks(ctx context.Context, fundID id.FundID, filter models.ReportPackFilter) ([]*models.ReportPack, error) {
	var out []*models.ReportPack
	err := db.read(ctx, func(st *state) error {
		for _, p := range st.packs {
			if p.FundID != fundID || (len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, p.Status)) {
				continue
			}
			out = append(out, ptr(p))
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *models.ReportPack) int {
		return cmp.Or(b.PeriodStart.Time().Compare(a.PeriodStart.Time()), cmp.Compare(b.Version, a.Version))
	})
	return out, err
}

func (db *DB) ExecutePack(ctx context.Context, fundID id.FundID, packID id.ReportPackID,
	validate func(*models.ReportPack) error, mutate func(*models.ReportPack)) (*models.ReportPack, error) {
	return execute(ctx, db, func(st *state) map[id.ReportPackID]models.ReportPack { return st.packs }, packID,
		func(_ *state, p models.ReportPack) bool { return p.FundID == fundID }, validate, mutate)
}

func (db *DB) UpsertSection(ctx context.Context, fundID id.FundID, section *models.Section) error {
	return db.write(ctx, func(st *state) error {
		p, ok := st.packs[section.PackID]
		if !ok || p.FundID != fundID {
			return errNotFound
		}
		st.sections[sectionKey{pack: section.PackID, key: section.Key}] = *section
		return nil
	})
}

func (db *DB) PruneSections(ctx context.Context, fundID id.FundID, packID id.ReportPackID, keep []models.SectionKey) error {
	return db.write(ctx, func(st *state) error {
		p, ok := st.packs[packID]
		if !ok || p.FundID != fundID {
			return errNotFound
		}
		for k := range st.sections {
			if k.pack == packID && !slices.Contains(keep, k.key) {
				delete(st.sections, k)
			}
		}
		return nil
	})
}

func (db *DB) ListSections(ctx context.Context, fundID id.FundID, packID id.ReportPackID) ([]*models.Section, error) {
	var out []*models.Section
	err := db.read(ctx, func(st *state) error {
		p, ok := st.packs[packID]
		if !ok || p.FundID != fundID {
			return errNotFound
		}
		for k, sec := range st.sections {
			if k.pack == packID {
				out = append(out, ptr(sec))
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *models.Section) int { return cmp.Compare(a.Key, b.Key) })
	return out, err
}
