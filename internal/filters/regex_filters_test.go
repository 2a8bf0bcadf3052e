package filters

import (
	"testing"

	"github.com/clinacta/phi-deidentifier/internal/dictionary"
	"github.com/clinacta/phi-deidentifier/internal/policy"
	"github.com/clinacta/phi-deidentifier/internal/span"
)

// emptyDict is a dictionary store with no entries, loaded once for every
// test in this package that needs a non-nil Store (filters never see a nil
// Store in production; the engine always attaches one at startup).
var emptyDict = dictionary.Load("/nonexistent-phi-filters-test-dictionary-dir", nil)

func testInput(text string) Input {
	return NewInput(text, policy.Default(), emptyDict, "session-salt")
}

func firstMatch(t *testing.T, spans []span.Span) span.Span {
	t.Helper()
	if len(spans) == 0 {
		t.Fatal("expected at least one span, got none")
	}
	return spans[0]
}

func TestSSNFilter(t *testing.T) {
	in := testInput("Patient SSN: 123-45-6789 on file.")
	spans := NewSSNFilter().Detect(in)
	got := firstMatch(t, spans)
	if got.Text != "123-45-6789" {
		t.Errorf("Text = %q, want 123-45-6789", got.Text)
	}
	if got.FilterType != span.SSN {
		t.Errorf("FilterType = %q, want SSN", got.FilterType)
	}
}

func TestPhoneFilter_PlainNumberDetected(t *testing.T) {
	in := testInput("Call the patient at (555) 123-4567 tomorrow.")
	spans := NewPhoneFilter().Detect(in)
	firstMatch(t, spans)
}

func TestFaxFilter_OnlyMatchesNearFaxKeyword(t *testing.T) {
	in := testInput("Fax: (555) 123-4567 for records; call (555) 987-6543 for questions.")
	faxSpans := NewFaxFilter().Detect(in)
	phoneSpans := NewPhoneFilter().Detect(in)
	if len(faxSpans) != 1 {
		t.Fatalf("expected exactly one fax span, got %d", len(faxSpans))
	}
	if faxSpans[0].Text != "(555) 123-4567" {
		t.Errorf("fax span = %q, want the number following Fax:", faxSpans[0].Text)
	}
	if len(phoneSpans) != 1 || phoneSpans[0].Text != "(555) 987-6543" {
		t.Errorf("expected phone filter to keep only the non-fax number, got %+v", phoneSpans)
	}
}

func TestEmailFilter(t *testing.T) {
	in := testInput("Contact: jane.doe@example.com for follow-up.")
	spans := NewEmailFilter().Detect(in)
	got := firstMatch(t, spans)
	if got.Text != "jane.doe@example.com" {
		t.Errorf("Text = %q", got.Text)
	}
}

func TestURLFilter(t *testing.T) {
	in := testInput("See https://portal.example.com/records/123 for details.")
	spans := NewURLFilter().Detect(in)
	got := firstMatch(t, spans)
	if got.Text != "https://portal.example.com/records/123" {
		t.Errorf("Text = %q", got.Text)
	}
}

func TestIPFilter_IPv4(t *testing.T) {
	in := testInput("Device connected from 192.168.1.100 at login.")
	spans := NewIPFilter().Detect(in)
	got := firstMatch(t, spans)
	if got.Text != "192.168.1.100" {
		t.Errorf("Text = %q", got.Text)
	}
}

func TestMACFilter(t *testing.T) {
	in := testInput("NIC address 00:1A:2B:3C:4D:5E registered.")
	spans := NewMACFilter().Detect(in)
	got := firstMatch(t, spans)
	if got.Text != "00:1A:2B:3C:4D:5E" {
		t.Errorf("Text = %q", got.Text)
	}
}

func TestCreditCardFilter_RejectsFailedLuhn(t *testing.T) {
	in := testInput("Card number 4532015112830367 on file.")
	spans := NewCreditCardFilter().Detect(in)
	if len(spans) != 0 {
		t.Errorf("expected a Luhn-invalid card number to be rejected, got %+v", spans)
	}
}

func TestCreditCardFilter_AcceptsValidLuhn(t *testing.T) {
	in := testInput("Card number 4532015112830366 on file.")
	spans := NewCreditCardFilter().Detect(in)
	firstMatch(t, spans)
}

func TestZipcodeFilter(t *testing.T) {
	in := testInput("Shipping to zip 90210 for the patient.")
	spans := NewZipcodeFilter().Detect(in)
	got := firstMatch(t, spans)
	if got.Text != "90210" {
		t.Errorf("Text = %q", got.Text)
	}
}

func TestVINFilter(t *testing.T) {
	in := testInput("Vehicle VIN 1HGCM82633A004352 registered to patient.")
	spans := NewVINFilter().Detect(in)
	firstMatch(t, spans)
}

func TestMRNFilter(t *testing.T) {
	in := testInput("MRN: A123456 assigned at intake.")
	spans := NewMRNFilter().Detect(in)
	got := firstMatch(t, spans)
	if got.FilterType != span.MRN {
		t.Errorf("FilterType = %q, want MRN", got.FilterType)
	}
}

func TestProviderIDFilter_NPIAndDEA(t *testing.T) {
	in := testInput("Provider NPI 1234567893 and DEA AB1234563 on the order.")
	spans := NewProviderIDFilter().Detect(in)
	if len(spans) != 2 {
		t.Fatalf("expected NPI and DEA spans, got %d: %+v", len(spans), spans)
	}
}

func TestProviderIDFilter_RejectsBadChecksums(t *testing.T) {
	in := testInput("Provider NPI 1234567890 noted.")
	spans := NewProviderIDFilter().Detect(in)
	if len(spans) != 0 {
		t.Errorf("expected a checksum-invalid NPI to be rejected, got %+v", spans)
	}
}

func TestHospitalFilter_DetectsHospitalKeywordPhrase(t *testing.T) {
	in := testInput("Admitted to St. Mary's Hospital yesterday.")
	spans := NewHospitalFilter().Detect(in)
	firstMatch(t, spans)
}

func TestStateFilter_RecognizesFullNameAndAbbreviation(t *testing.T) {
	in := testInput("The patient lives in California near Austin, TX.")
	spans := NewStateFilter().Detect(in)
	if len(spans) == 0 {
		t.Fatal("expected at least one state match")
	}
	found := map[string]bool{}
	for _, s := range spans {
		found[s.Text] = true
	}
	if !found["California"] || !found["TX"] {
		t.Errorf("expected both \"California\" and \"TX\" to be matched, got %+v", spans)
	}
}

func TestCityFilter_RequiresStateAbbreviationContext(t *testing.T) {
	in := testInput("The clinic is located in Austin, TX for follow-up.")
	spans := NewCityFilter().Detect(in)
	got := firstMatch(t, spans)
	if got.Text != "Austin" {
		t.Errorf("Text = %q, want Austin", got.Text)
	}
}

func TestCountyFilter(t *testing.T) {
	in := testInput("Resident of Travis County as of last visit.")
	spans := NewCountyFilter().Detect(in)
	firstMatch(t, spans)
}

func TestAddressFilter(t *testing.T) {
	in := testInput("Patient resides at 123 Main Street in town.")
	spans := NewAddressFilter().Detect(in)
	firstMatch(t, spans)
}

func TestAllFilters_NonOverlappingOutputPerFilter(t *testing.T) {
	in := testInput("Call 555-123-4567 or email jane@example.com, SSN 123-45-6789.")
	for _, f := range All() {
		spans := f.Detect(in)
		for i := 1; i < len(spans); i++ {
			if spans[i-1].Overlaps(spans[i]) {
				t.Errorf("filter %s produced overlapping spans: %v, %v", f.Type(), spans[i-1], spans[i])
			}
			if spans[i-1].Start > spans[i].Start {
				t.Errorf("filter %s produced unsorted spans", f.Type())
			}
		}
	}
}

func TestAllFilters_SpansStayWithinTextBounds(t *testing.T) {
	in := testInput("Call 555-123-4567 or email jane@example.com, SSN 123-45-6789.")
	textLen := len(in.Runes)
	for _, f := range All() {
		for _, s := range f.Detect(in) {
			if s.Start < 0 || s.End > textLen || s.Start >= s.End {
				t.Errorf("filter %s produced an out-of-bounds span: %+v", f.Type(), s)
			}
		}
	}
}
