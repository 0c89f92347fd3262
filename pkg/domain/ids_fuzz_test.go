package domain

import (
	"testing"

	"github.com/google/uuid"
)

// Path parameters reach these parsers straight from the URL.
func FuzzParseFundID(f *testing.F) {
	for _, seed := range []string{
		"",
		"550e8400-e29b-41d4-a716-446655440000",
		"00000000-0000-0000-0000-000000000000",
		"{550e8400-e29b-41d4-a716-446655440000}",
		"urn:uuid:550e8400-e29b-41d4-a716-446655440000",
		"' OR fund_id IS NOT NULL --",
		"550e8400-e29b-41d4-a716-446655440000/deals",
		string([]byte{0xff, 0xfe, 0x00}),
	} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, input string) {
		fid, err := ParseFundID(input)
		if err != nil {
			return
		}
		if fid.IsNil() {
			t.Fatalf("nil fund id accepted from %q", input)
		}
		again, err := ParseFundID(fid.String())
		if err != nil || again != fid {
			t.Fatalf("canonical form of %q does not parse back: %v", input, err)
		}
		if _, err := uuid.Parse(fid.String()); err != nil {
			t.Fatalf("String() is not a uuid: %v", err)
		}
	})
}

// Every typed id shares one parser, so acceptance must agree across kinds.
func FuzzParseIDsAgree(f *testing.F) {
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("")
	f.Add("deal-42")

	f.Fuzz(func(t *testing.T, input string) {
		_, want := ParseFundID(input)
		parsers := map[string]func(string) error{
			"deal":       func(s string) error { _, err := ParseDealID(s); return err },
			"asset":      func(s string) error { _, err := ParseAssetID(s); return err },
			"obligation": func(s string) error { _, err := ParseObligationID(s); return err },
			"alert":      func(s string) error { _, err := ParseAlertID(s); return err },
			"action":     func(s string) error { _, err := ParseActionID(s); return err },
			"evidence":   func(s string) error { _, err := ParseEvidenceID(s); return err },
			"pack":       func(s string) error { _, err := ParseReportPackID(s); return err },
		}
		for kind, parse := range parsers {
			if got := parse(input); (got == nil) != (want == nil) {
				t.Errorf("%s parser disagrees with fund parser on %q", kind, input)
			}
		}
	})
}
