package models

import (
	"encoding/json"
	"time"

	id "fundops/pkg/domain"
)

// ReportPack is a monthly report pack. Packs are versioned per period; a new
// pack for a period that already has one gets the next version.
//
// Invariants:
//   - DRAFT -> GENERATED -> PUBLISHED -> ARCHIVED
//   - Once PUBLISHED, section content and commentary never change
type ReportPack struct {
	ID          id.ReportPackID  `json:"id"`
	FundID      id.FundID        `json:"fund_id"`
	PeriodStart Date             `json:"period_start"`
	PeriodEnd   Date             `json:"period_end"`
	Version     int              `json:"version"`
	Status      ReportPackStatus `json:"status"`
	CreatedBy   string           `json:"created_by"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	GeneratedAt *time.Time       `json:"generated_at,omitempty"`
	PublishedAt *time.Time       `json:"published_at,omitempty"`
	PublishedBy string           `json:"published_by,omitempty"`
	ArchivedAt  *time.Time       `json:"archived_at,omitempty"`
}

// Section is one computed part of a pack.
type Section struct {
	PackID     id.ReportPackID `json:"pack_id"`
	Key        SectionKey      `json:"key"`
	Content    json.RawMessage `json:"content"`
	Commentary string          `json:"commentary,omitempty"`
	ComputedAt time.Time       `json:"computed_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// MonthPeriod returns the calendar month containing d.
func MonthPeriod(d Date) (Date, Date) {
	return FrequencyMonthly.PeriodContaining(d)
}

func NewReportPack(packID id.ReportPackID, fundID id.FundID, period Date, version int, createdBy string, now time.Time) *ReportPack {
	start, end := MonthPeriod(period)
	return &ReportPack{
		ID:          packID,
		FundID:      fundID,
		PeriodStart: start,
		PeriodEnd:   end,
		Version:     version,
		Status:      PackDraft,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (p *ReportPack) frozen() error {
	if p.Status.IsFrozen() {
		return validation(ReasonReportPackPublished, "report pack is "+string(p.Status)+" and can no longer change")
	}
	return nil
}

// CanGenerate allows regeneration while DRAFT or GENERATED.
func (p *ReportPack) CanGenerate() error { return p.frozen() }

func (p *ReportPack) ApplyGenerated(now time.Time) {
	at := now
	p.GeneratedAt = &at
	p.Status = PackGenerated
	p.UpdatedAt = now
}

// CanAnnotate allows commentary edits while DRAFT or GENERATED.
func (p *ReportPack) CanAnnotate() error { return p.frozen() }

func (p *ReportPack) CanPublish() error {
	if err := p.frozen(); err != nil {
		return err
	}
	if p.Status != PackGenerated {
		return validation(ReasonReportPackNotGenerated, "report pack must be generated before publishing")
	}
	return nil
}

func (p *ReportPack) ApplyPublish(actorID string, now time.Time) {
	at := now
	p.PublishedAt = &at
	p.PublishedBy = actorID
	p.Status = PackPublished
	p.UpdatedAt = now
}

func (p *ReportPack) CanArchive() error {
	if p.Status != PackPublished {
		return validation(ReasonReportPackNotPublished, "only PUBLISHED report packs can be archived")
	}
	return nil
}

func (p *ReportPack) ApplyArchive(now time.Time) {
	at := now
	p.ArchivedAt = &at
	p.Status = PackArchived
	p.UpdatedAt = now
}
