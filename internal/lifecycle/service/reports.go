package service

import (
	"context"
	"encoding/json"
	"sort"

	"golang.org/x/sync/errgroup"

	"fundops/internal/audit"
	"fundops/internal/identity"
	"fundops/internal/lifecycle/models"
	id "fundops/pkg/domain"
	dErrors "fundops/pkg/domain-errors"
)

type CreateReportPackRequest struct {
	// Period is any date inside the reported month.
	Period models.Date `json:"period"`
}

type AnnotateSectionRequest struct {
	Commentary string `json:"commentary"`
}

// PackDetail is a pack with its sections ordered by key.
type PackDetail struct {
	*models.ReportPack
	Sections []*models.Section `json:"sections"`
}

// packSnapshot is the audited state of a pack including section content.
type packSnapshot struct {
	*models.ReportPack
	Sections map[models.SectionKey]sectionState `json:"sections,omitempty"`
}

type sectionState struct {
	Content    json.RawMessage `json:"content"`
	Commentary string          `json:"commentary,omitempty"`
}

func snapshotPack(p *models.ReportPack, sections []*models.Section) packSnapshot {
	snap := packSnapshot{ReportPack: p}
	if len(sections) > 0 {
		snap.Sections = make(map[models.SectionKey]sectionState, len(sections))
		for _, sec := range sections {
			snap.Sections[sec.Key] = sectionState{Content: sec.Content, Commentary: sec.Commentary}
		}
	}
	return snap
}

func (s *Service) CreateReportPack(ctx context.Context, caller identity.Caller, fundID id.FundID,
	req CreateReportPackRequest) (_ *models.ReportPack, err error) {
	ctx, end := s.begin(ctx, OpCreateReportPack, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpCreateReportPack); err != nil {
		return nil, err
	}
	if req.Period.IsZero() {
		return nil, invalidInput("report period is required")
	}
	at := now(ctx)
	start, _ := models.MonthPeriod(req.Period)

	var pack *models.ReportPack
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.requireFund(ctx, fundID); err != nil {
			return err
		}
		version, err := s.stores.Reports.NextPackVersion(ctx, fundID, start)
		if err != nil {
			return storeErr(err, "report pack")
		}
		pack = models.NewReportPack(id.NewReportPackID(), fundID, start, version, caller.Actor.ID, at)
		if err := s.stores.Reports.InsertPack(ctx, pack); err != nil {
			return storeErr(err, "report pack")
		}
		return s.record(ctx, caller, change{
			fundID:     fundID,
			action:     audit.ActionReportPackCreated,
			entityType: "report_pack",
			entityID:   pack.ID.String(),
			after:      pack,
		})
	})
	if err != nil {
		return nil, err
	}
	return pack, nil
}

// GenerateReportPack computes every section and stores it on the pack. The
// computation runs outside the unit of work; publication is re-checked under
// the pack lock before anything is written, so a concurrently published pack
// is never overwritten. Existing commentary is kept.
func (s *Service) GenerateReportPack(ctx context.Context, caller identity.Caller, fundID id.FundID,
	packID id.ReportPackID) (_ *PackDetail, err error) {
	ctx, end := s.begin(ctx, OpGenerateReportPack, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpGenerateReportPack); err != nil {
		return nil, err
	}
	pack, err := s.stores.Reports.GetPack(ctx, fundID, packID)
	if err != nil {
		return nil, storeErr(err, "report pack")
	}
	if err := pack.CanGenerate(); err != nil {
		return nil, err
	}
	contents, err := s.computeSections(ctx, SectionInput{
		FundID:      fundID,
		PeriodStart: pack.PeriodStart,
		PeriodEnd:   pack.PeriodEnd,
	})
	if err != nil {
		return nil, err
	}
	at := now(ctx)

	var detail PackDetail
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var before models.ReportPack
		p, err := s.stores.Reports.ExecutePack(ctx, fundID, packID,
			func(p *models.ReportPack) error {
				before = *p
				return p.CanGenerate()
			},
			func(p *models.ReportPack) { p.ApplyGenerated(at) },
		)
		if err != nil {
			return storeErr(err, "report pack")
		}
		existing, err := s.stores.Reports.ListSections(ctx, fundID, packID)
		if err != nil {
			return storeErr(err, "report section")
		}
		commentary := make(map[models.SectionKey]string, len(existing))
		for _, sec := range existing {
			commentary[sec.Key] = sec.Commentary
		}

		keys := sortedKeys(contents)
		if err := s.stores.Reports.PruneSections(ctx, fundID, packID, keys); err != nil {
			return storeErr(err, "report section")
		}
		sections := make([]*models.Section, 0, len(contents))
		for _, key := range keys {
			sec := &models.Section{
				PackID:     packID,
				Key:        key,
				Content:    contents[key],
				Commentary: commentary[key],
				ComputedAt: at,
				UpdatedAt:  at,
			}
			if err := s.stores.Reports.UpsertSection(ctx, fundID, sec); err != nil {
				return storeErr(err, "report section")
			}
			sections = append(sections, sec)
		}
		detail = PackDetail{ReportPack: p, Sections: sections}
		return s.record(ctx, caller, change{
			fundID:     fundID,
			action:     audit.ActionReportPackGenerated,
			entityType: "report_pack",
			entityID:   p.ID.String(),
			before:     snapshotPack(&before, existing),
			after:      snapshotPack(p, sections),
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncTransition("report_pack", string(detail.Status))
	return &detail, nil
}

// computeSections runs the section computers concurrently and canonicalizes
// their output.
func (s *Service) computeSections(ctx context.Context, in SectionInput) (map[models.SectionKey]json.RawMessage, error) {
	results := make([]json.RawMessage, len(s.sections))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range s.sections {
		g.Go(func() error {
			raw, err := c.Compute(gctx, in)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to compute section "+string(c.Key()))
			}
			canonical, err := audit.Canonicalize(raw)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "section "+string(c.Key())+" produced invalid JSON")
			}
			results[i] = canonical
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[models.SectionKey]json.RawMessage, len(s.sections))
	for i, c := range s.sections {
		out[c.Key()] = results[i]
	}
	return out, nil
}

func sortedKeys(m map[models.SectionKey]json.RawMessage) []models.SectionKey {
	keys := make([]models.SectionKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// AnnotateReportSection sets the commentary on a generated section.
func (s *Service) AnnotateReportSection(ctx context.Context, caller identity.Caller, fundID id.FundID,
	packID id.ReportPackID, key models.SectionKey, req AnnotateSectionRequest) (_ *models.Section, err error) {
	ctx, end := s.begin(ctx, OpAnnotateReportSection, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpAnnotateReportSection); err != nil {
		return nil, err
	}
	if len(req.Commentary) > 10000 {
		return nil, invalidInput("commentary must be at most 10000 characters")
	}
	at := now(ctx)

	var updated *models.Section
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.stores.Reports.ExecutePack(ctx, fundID, packID,
			func(p *models.ReportPack) error { return p.CanAnnotate() },
			func(p *models.ReportPack) { p.UpdatedAt = at },
		); err != nil {
			return storeErr(err, "report pack")
		}
		sections, err := s.stores.Reports.ListSections(ctx, fundID, packID)
		if err != nil {
			return storeErr(err, "report section")
		}
		var current *models.Section
		for _, sec := range sections {
			if sec.Key == key {
				current = sec
			}
		}
		if current == nil {
			return dErrors.New(dErrors.CodeNotFound, "report section not found")
		}
		before := *current
		next := *current
		next.Commentary = req.Commentary
		next.UpdatedAt = at
		if err := s.stores.Reports.UpsertSection(ctx, fundID, &next); err != nil {
			return storeErr(err, "report section")
		}
		updated = &next
		return s.record(ctx, caller, change{
			fundID:     fundID,
			action:     audit.ActionReportSectionAnnotated,
			entityType: "report_section",
			entityID:   packID.String() + "/" + string(key),
			before:     &before,
			after:      &next,
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) PublishReportPack(ctx context.Context, caller identity.Caller, fundID id.FundID,
	packID id.ReportPackID) (_ *models.ReportPack, err error) {
	ctx, end := s.begin(ctx, OpPublishReportPack, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpPublishReportPack); err != nil {
		return nil, err
	}
	at := now(ctx)
	return s.transitionPack(ctx, caller, fundID, packID, audit.ActionReportPackPublished,
		(*models.ReportPack).CanPublish,
		func(p *models.ReportPack) { p.ApplyPublish(caller.Actor.ID, at) })
}

func (s *Service) ArchiveReportPack(ctx context.Context, caller identity.Caller, fundID id.FundID,
	packID id.ReportPackID) (_ *models.ReportPack, err error) {
	ctx, end := s.begin(ctx, OpArchiveReportPack, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpArchiveReportPack); err != nil {
		return nil, err
	}
	at := now(ctx)
	return s.transitionPack(ctx, caller, fundID, packID, audit.ActionReportPackArchived,
		(*models.ReportPack).CanArchive,
		func(p *models.ReportPack) { p.ApplyArchive(at) })
}

func (s *Service) transitionPack(ctx context.Context, caller identity.Caller, fundID id.FundID, packID id.ReportPackID,
	action audit.Action, validate func(*models.ReportPack) error, mutate func(*models.ReportPack)) (*models.ReportPack, error) {
	var updated *models.ReportPack
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var before models.ReportPack
		p, err := s.stores.Reports.ExecutePack(ctx, fundID, packID,
			func(p *models.ReportPack) error {
				before = *p
				return validate(p)
			},
			mutate,
		)
		if err != nil {
			return storeErr(err, "report pack")
		}
		updated = p
		return s.record(ctx, caller, change{
			fundID:     fundID,
			action:     action,
			entityType: "report_pack",
			entityID:   p.ID.String(),
			before:     &before,
			after:      p,
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncTransition("report_pack", string(updated.Status))
	return updated, nil
}

func (s *Service) GetReportPack(ctx context.Context, caller identity.Caller, fundID id.FundID,
	packID id.ReportPackID) (_ *PackDetail, err error) {
	ctx, end := s.begin(ctx, OpGetReportPack, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpGetReportPack); err != nil {
		return nil, err
	}
	pack, err := s.stores.Reports.GetPack(ctx, fundID, packID)
	if err != nil {
		return nil, storeErr(err, "report pack")
	}
	sections, err := s.stores.Reports.ListSections(ctx, fundID, packID)
	if err != nil {
		return nil, storeErr(err, "report section")
	}
	return &PackDetail{ReportPack: pack, Sections: sections}, nil
}

func (s *Service) ListReportPacks(ctx context.Context, caller identity.Caller, fundID id.FundID,
	filter models.ReportPackFilter) (_ []*models.ReportPack, err error) {
	ctx, end := s.begin(ctx, OpListReportPacks, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpListReportPacks); err != nil {
		return nil, err
	}
	packs, err := s.stores.Reports.ListPacks(ctx, fundID, filter)
	if err != nil {
		return nil, storeErr(err, "report pack")
	}
	return packs, nil
}

// publishedListing is the audited result of an investor listing.
type publishedListing struct {
	Count   int               `json:"count"`
	PackIDs []id.ReportPackID `json:"pack_ids"`
}

// ListPublishedReportPacks is the investor-facing listing. The read itself is
// audited; if the audit write fails the caller gets an error, not data.
func (s *Service) ListPublishedReportPacks(ctx context.Context, caller identity.Caller,
	fundID id.FundID) (_ []*models.ReportPack, err error) {
	ctx, end := s.begin(ctx, OpListPublishedReportPacks, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpListPublishedReportPacks); err != nil {
		return nil, err
	}
	var packs []*models.ReportPack
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		list, err := s.stores.Reports.ListPacks(ctx, fundID, models.ReportPackFilter{
			Statuses: []models.ReportPackStatus{models.PackPublished},
		})
		if err != nil {
			return storeErr(err, "report pack")
		}
		listing := publishedListing{Count: len(list), PackIDs: make([]id.ReportPackID, 0, len(list))}
		for _, p := range list {
			listing.PackIDs = append(listing.PackIDs, p.ID)
		}
		packs = list
		return s.record(ctx, caller, change{
			fundID:     fundID,
			action:     audit.ActionPublishedPacksListed,
			entityType: "report_pack_listing",
			entityID:   fundID.String(),
			after:      listing,
		})
	})
	if err != nil {
		return nil, err
	}
	return packs, nil
}
