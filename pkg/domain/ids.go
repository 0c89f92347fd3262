// Package domain holds typed identifiers shared across modules.
//
// Each identifier wraps a UUID so that, for example, a DealID can never be
// passed where a FundID is expected. Parse functions are the trust boundary:
// they reject empty, malformed and nil UUIDs.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "fundops/pkg/domain-errors"
)

// maxIDLength bounds input before handing it to the UUID parser.
const maxIDLength = 64

func parseUUID(kind, s string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id is required")
	}
	if len(s) > maxIDLength {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind+" id")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind+" id")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id cannot be nil")
	}
	return u, nil
}

func unmarshalUUID(kind string, text []byte) (uuid.UUID, error) {
	if len(text) == 0 {
		return uuid.Nil, nil
	}
	return parseUUID(kind, string(text))
}

// FundID identifies a fund.
type FundID uuid.UUID

// NewFundID returns a fresh random FundID.
func NewFundID() FundID { return FundID(uuid.New()) }

// ParseFundID validates s and returns it as a FundID.
func ParseFundID(s string) (FundID, error) {
	u, err := parseUUID("fund", s)
	return FundID(u), err
}

func (i FundID) String() string { return uuid.UUID(i).String() }

// IsNil reports whether the id is the zero UUID.
func (i FundID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }

func (i FundID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

func (i *FundID) UnmarshalText(text []byte) error {
	u, err := unmarshalUUID("fund", text)
	if err != nil {
		return err
	}
	*i = FundID(u)
	return nil
}

// DealID identifies a deal.
type DealID uuid.UUID

// NewDealID returns a fresh random DealID.
func NewDealID() DealID { return DealID(uuid.New()) }

// ParseDealID validates s and returns it as a DealID.
func ParseDealID(s string) (DealID, error) {
	u, err := parseUUID("deal", s)
	return DealID(u), err
}

func (i DealID) String() string { return uuid.UUID(i).String() }

// IsNil reports whether the id is the zero UUID.
func (i DealID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }

func (i DealID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

func (i *DealID) UnmarshalText(text []byte) error {
	u, err := unmarshalUUID("deal", text)
	if err != nil {
		return err
	}
	*i = DealID(u)
	return nil
}

// AssetID identifies a asset.
type AssetID uuid.UUID

// NewAssetID returns a fresh random AssetID.
func NewAssetID() AssetID { return AssetID(uuid.New()) }

// ParseAssetID validates s and returns it as a AssetID.
func ParseAssetID(s string) (AssetID, error) {
	u, err := parseUUID("asset", s)
	return AssetID(u), err
}

func (i AssetID) String() string { return uuid.UUID(i).String() }

// IsNil reports whether the id is the zero UUID.
func (i AssetID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }

func (i AssetID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

func (i *AssetID) UnmarshalText(text []byte) error {
	u, err := unmarshalUUID("asset", text)
	if err != nil {
		return err
	}
	*i = AssetID(u)
	return nil
}

// ObligationID identifies a obligation.
type ObligationID uuid.UUID

// NewObligationID returns a fresh random ObligationID.
func NewObligationID() ObligationID { return ObligationID(uuid.New()) }

// ParseObligationID validates s and returns it as a ObligationID.
func ParseObligationID(s string) (ObligationID, error) {
	u, err := parseUUID("obligation", s)
	return ObligationID(u), err
}

func (i ObligationID) String() string { return uuid.UUID(i).String() }

// IsNil reports whether the id is the zero UUID.
func (i ObligationID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }

func (i ObligationID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

func (i *ObligationID) UnmarshalText(text []byte) error {
	u, err := unmarshalUUID("obligation", text)
	if err != nil {
		return err
	}
	*i = ObligationID(u)
	return nil
}

// AlertID identifies a alert.
type AlertID uuid.UUID

// NewAlertID returns a fresh random AlertID.
func NewAlertID() AlertID { return AlertID(uuid.New()) }

// ParseAlertID validates s and returns it as a AlertID.
func ParseAlertID(s string) (AlertID, error) {
	u, err := parseUUID("alert", s)
	return AlertID(u), err
}

func (i AlertID) String() string { return uuid.UUID(i).String() }

// IsNil reports whether the id is the zero UUID.
func (i AlertID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }

func (i AlertID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

func (i *AlertID) UnmarshalText(text []byte) error {
	u, err := unmarshalUUID("alert", text)
	if err != nil {
		return err
	}
	*i = AlertID(u)
	return nil
}

// ActionID identifies a action.
type ActionID uuid.UUID

// NewActionID returns a fresh random ActionID.
func NewActionID() ActionID { return ActionID(uuid.New()) }

// ParseActionID validates s and returns it as a ActionID.
func ParseActionID(s string) (ActionID, error) {
	u, err := parseUUID("action", s)
	return ActionID(u), err
}

func (i ActionID) String() string { return uuid.UUID(i).String() }

// IsNil reports whether the id is the zero UUID.
func (i ActionID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }

func (i ActionID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

func (i *ActionID) UnmarshalText(text []byte) error {
	u, err := unmarshalUUID("action", text)
	if err != nil {
		return err
	}
	*i = ActionID(u)
	return nil
}

// EvidenceID identifies a evidence.
type EvidenceID uuid.UUID

// NewEvidenceID returns a fresh random EvidenceID.
func NewEvidenceID() EvidenceID { return EvidenceID(uuid.New()) }

// ParseEvidenceID validates s and returns it as a EvidenceID.
func ParseEvidenceID(s string) (EvidenceID, error) {
	u, err := parseUUID("evidence", s)
	return EvidenceID(u), err
}

func (i EvidenceID) String() string { return uuid.UUID(i).String() }

// IsNil reports whether the id is the zero UUID.
func (i EvidenceID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }

func (i EvidenceID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

func (i *EvidenceID) UnmarshalText(text []byte) error {
	u, err := unmarshalUUID("evidence", text)
	if err != nil {
		return err
	}
	*i = EvidenceID(u)
	return nil
}

// ReportPackID identifies a report pack.
type ReportPackID uuid.UUID

// NewReportPackID returns a fresh random ReportPackID.
func NewReportPackID() ReportPackID { return ReportPackID(uuid.New()) }

// ParseReportPackID validates s and returns it as a ReportPackID.
func ParseReportPackID(s string) (ReportPackID, error) {
	u, err := parseUUID("report pack", s)
	return ReportPackID(u), err
}

func (i ReportPackID) String() string { return uuid.UUID(i).String() }

// IsNil reports whether the id is the zero UUID.
func (i ReportPackID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }

func (i ReportPackID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

func (i *ReportPackID) UnmarshalText(text []byte) error {
	u, err := unmarshalUUID("report pack", text)
	if err != nil {
		return err
	}
	*i = ReportPackID(u)
	return nil
}

// AuditEventID identifies a audit event.
type AuditEventID uuid.UUID

// NewAuditEventID returns a fresh random AuditEventID.
func NewAuditEventID() AuditEventID { return AuditEventID(uuid.New()) }

// ParseAuditEventID validates s and returns it as a AuditEventID.
func ParseAuditEventID(s string) (AuditEventID, error) {
	u, err := parseUUID("audit event", s)
	return AuditEventID(u), err
}

func (i AuditEventID) String() string { return uuid.UUID(i).String() }

// IsNil reports whether the id is the zero UUID.
func (i AuditEventID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }

func (i AuditEventID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

func (i *AuditEventID) UnmarshalText(text []byte) error {
	u, err := unmarshalUUID("audit event", text)
	if err != nil {
		return err
	}
	*i = AuditEventID(u)
	return nil
}
