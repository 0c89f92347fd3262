package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	id "fundops/pkg/domain"
)

// Asset is a canonical, fund-owned portfolio record.
type Asset struct {
	ID           id.AssetID     `json:"id"`
	FundID       id.FundID      `json:"fund_id"`
	Name         string         `json:"name"`
	AssetType    InvestmentType `json:"asset_type"`
	Strategy     string         `json:"strategy,omitempty"`
	AccessLevel  AccessLevel    `json:"access_level"`
	SourceDealID *id.DealID     `json:"source_deal_id,omitempty"`
	CreatedBy    string         `json:"created_by"`
	CreatedAt    time.Time      `json:"created_at"`
}

func NewAsset(assetID id.AssetID, fundID id.FundID, name string, typ InvestmentType, strategy string,
	access AccessLevel, createdBy string, now time.Time) (*Asset, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 200 {
		return nil, invalidInput("asset name must be 1-200 characters")
	}
	return &Asset{
		ID:          assetID,
		FundID:      fundID,
		Name:        name,
		AssetType:   typ,
		Strategy:    strings.TrimSpace(strategy),
		AccessLevel: access,
		CreatedBy:   createdBy,
		CreatedAt:   now,
	}, nil
}

// AssetFromDeal builds the asset a converted deal becomes.
func AssetFromDeal(d *Deal, assetID id.AssetID, createdBy string, now time.Time) *Asset {
	dealID := d.ID
	return &Asset{
		ID:           assetID,
		FundID:       d.FundID,
		Name:         d.Name,
		AssetType:    d.Type,
		Strategy:     d.Strategy,
		AccessLevel:  d.AccessLevel,
		SourceDealID: &dealID,
		CreatedBy:    createdBy,
		CreatedAt:    now,
	}
}

// DefaultNAVGraceDays applies when an attach request leaves the grace unset.
const DefaultNAVGraceDays = 45

// FundInvestment is the fund-investment extension of an asset. It carries no
// fund id of its own; its fund is the owning asset's.
type FundInvestment struct {
	AssetID            id.AssetID         `json:"asset_id"`
	ManagerName        string             `json:"manager_name"`
	Commitment         decimal.Decimal    `json:"commitment"`
	Currency           string             `json:"currency"`
	ReportingFrequency ReportingFrequency `json:"reporting_frequency"`
	VintageYear        int                `json:"vintage_year,omitempty"`
	NAVGraceDays       int                `json:"nav_grace_days"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// FundInvestmentInput is the validated-on-construction attach payload.
type FundInvestmentInput struct {
	ManagerName        string
	Commitment         decimal.Decimal
	Currency           string
	ReportingFrequency ReportingFrequency
	VintageYear        int
	NAVGraceDays       *int
}

func NewFundInvestment(asset *Asset, in FundInvestmentInput, now time.Time) (*FundInvestment, error) {
	if asset.AssetType != TypeFundInvestment {
		return nil, validation(ReasonAssetTypeMismatch, "fund investment details require a FUND_INVESTMENT asset")
	}
	manager := strings.TrimSpace(in.ManagerName)
	if manager == "" {
		return nil, invalidInput("manager name is required")
	}
	if !in.Commitment.IsPositive() {
		return nil, invalidInput("commitment must be positive")
	}
	currency, err := ParseCurrency(in.Currency)
	if err != nil {
		return nil, err
	}
	if in.ReportingFrequency.Months() == 0 {
		return nil, invalidInput("reporting frequency is required")
	}
	if in.VintageYear != 0 && (in.VintageYear < 1900 || in.VintageYear > 2200) {
		return nil, invalidInput("vintage year is out of range")
	}
	grace := DefaultNAVGraceDays
	if in.NAVGraceDays != nil {
		grace = *in.NAVGraceDays
	}
	if grace < 0 || grace > 365 {
		return nil, invalidInput("nav grace days must be between 0 and 365")
	}
	return &FundInvestment{
		AssetID:            asset.ID,
		ManagerName:        manager,
		Commitment:         in.Commitment,
		Currency:           currency,
		ReportingFrequency: in.ReportingFrequency,
		VintageYear:        in.VintageYear,
		NAVGraceDays:       grace,
		UpdatedAt:          now,
	}, nil
}
