package filters

import (
	"regexp"
	"strings"

	"github.com/clinacta/phi-deidentifier/internal/span"
)

// NewSSNFilter detects US Social Security Numbers (spec.md §4.2).
func NewSSNFilter() Filter {
	return newRegexFilter(span.SSN, "ssn", 0.9, nil,
		`\b\d{3}-\d{2}-\d{4}\b`,
		`\b\d{9}\b`,
	)
}

var phoneRe = regexp.MustCompile(`(?:\+?1[\-.\s]?)?\(?\d{3}\)?[\-.\s]\d{3}[\-.\s]\d{4}\b`)

// phoneFilter detects PHONE/FAX numbers. The two share the exact same
// regex grammar; the FAX variant only keeps a match preceded closely by the
// word "fax" (spec.md §4.2's "format whitelist for phone groupings").
type phoneFilter struct {
	faxOnly bool
}

// NewPhoneFilter detects telephone numbers not preceded by a fax keyword.
func NewPhoneFilter() Filter { return &phoneFilter{faxOnly: false} }

// NewFaxFilter detects telephone numbers preceded by a fax keyword.
func NewFaxFilter() Filter { return &phoneFilter{faxOnly: true} }

func (f *phoneFilter) Type() span.Type {
	if f.faxOnly {
		return span.Fax
	}
	return span.Phone
}

func (f *phoneFilter) Detect(in Input) []span.Span {
	t := f.Type()
	var out []span.Span
	for _, loc := range phoneRe.FindAllStringIndex(in.Text, -1) {
		match := in.Text[loc[0]:loc[1]]
		precededByFax := hasFaxContext(in.Text, loc[0])
		if f.faxOnly != precededByFax {
			continue
		}
		start, end := byteRangeToRuneRange(in.Text, loc[0], loc[1])
		out = append(out, span.Span{
			Start: start, End: end, Text: match, FilterType: t,
			Confidence: 0.75, Priority: span.Priority[t], Pattern: "phone_format",
		})
	}
	return sortSpans(out)
}

func hasFaxContext(text string, matchByteStart int) bool {
	lookback := matchByteStart - 20
	if lookback < 0 {
		lookback = 0
	}
	return strings.Contains(strings.ToLower(text[lookback:matchByteStart]), "fax")
}

// NewEmailFilter detects email addresses.
func NewEmailFilter() Filter {
	return newRegexFilter(span.Email, "email", 0.95, nil,
		`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`,
	)
}

// NewURLFilter detects http(s) URLs.
func NewURLFilter() Filter {
	return newRegexFilter(span.URL, "url", 0.9, nil,
		`\bhttps?://[^\s<>"']+`,
	)
}

// NewIPFilter detects IPv4 and IPv6 addresses.
func NewIPFilter() Filter {
	return newRegexFilter(span.IP, "ip_address", 0.85, nil,
		`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`,
		`(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}`+
			`|(?:[0-9a-fA-F]{1,4}:){1,7}:`+
			`|(?:[0-9a-fA-F]{1,4}:){1,6}:[0-9a-fA-F]{1,4}`,
	)
}

// NewMACFilter detects IEEE 802 MAC addresses.
func NewMACFilter() Filter {
	return newRegexFilter(span.MACAddress, "mac_address", 0.9, nil,
		`\b(?:[0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}\b`,
		`\b(?:[0-9A-Fa-f]{2}-){5}[0-9A-Fa-f]{2}\b`,
	)
}

// NewCreditCardFilter detects credit card numbers, Luhn-validated.
func NewCreditCardFilter() Filter {
	return newRegexFilter(span.CreditCard, "credit_card", 0.9, luhnCheck,
		`\b(?:\d[ -]?){13,19}\b`,
	)
}

// NewIBANFilter detects International Bank Account Numbers.
func NewIBANFilter() Filter {
	return newRegexFilter(span.IBAN, "iban", 0.9, ibanCheck,
		`\b[A-Z]{2}\d{2}[A-Z0-9]{10,30}\b`,
	)
}

// ibanCheck validates the mod-97 checksum (ISO 7064).
func ibanCheck(s string) bool {
	s = strings.ToUpper(strings.ReplaceAll(s, " ", ""))
	if len(s) < 15 || len(s) > 34 {
		return false
	}
	rearranged := s[4:] + s[:4]
	var numeric strings.Builder
	for _, ch := range rearranged {
		switch {
		case ch >= '0' && ch <= '9':
			numeric.WriteRune(ch)
		case ch >= 'A' && ch <= 'Z':
			numeric.WriteString(intToString(int(ch-'A') + 10))
		default:
			return false
		}
	}
	remainder := 0
	for _, ch := range numeric.String() {
		remainder = (remainder*10 + int(ch-'0')) % 97
	}
	return remainder == 1
}

func intToString(n int) string {
	if n < 10 {
		return string(rune('0' + n))
	}
	return string(rune('0'+n/10)) + string(rune('0'+n%10))
}

// NewBitcoinFilter detects Bitcoin addresses (legacy, P2SH, and bech32).
func NewBitcoinFilter() Filter {
	return newRegexFilter(span.Bitcoin, "bitcoin_address", 0.85, nil,
		`\b[13][a-km-zA-HJ-NP-Z1-9]{25,34}\b`,
		`\bbc1[a-z0-9]{25,59}\b`,
	)
}

// NewZipcodeFilter detects US ZIP and ZIP+4 codes. The whole code becomes the
// span; no three-digit-prefix or area-population rule is applied, here or
// downstream, whatever the policy's zipcode.strictSafeHarbor setting.
func NewZipcodeFilter() Filter {
	return newRegexFilter(span.Zipcode, "zipcode", 0.4, nil,
		`\b\d{5}(?:-\d{4})?\b`,
	)
}

// NewVINFilter detects 17-character Vehicle Identification Numbers (no I, O, Q).
func NewVINFilter() Filter {
	return newRegexFilter(span.Vehicle, "vin", 0.85, nil,
		`\b[A-HJ-NPR-Z0-9]{17}\b`,
	)
}

// NewMRNFilter detects Medical Record Numbers: a keyword-anchored
// alphanumeric identifier, since MRN formats are institution-specific and
// carry no universal checksum.
func NewMRNFilter() Filter {
	return newRegexFilter(span.MRN, "mrn", 0.85, nil,
		`(?i)\bMRN[:#\s]*([A-Z0-9]{5,12})\b`,
	)
}

// NewProviderIDFilter detects DEA and NPI provider identifiers. Both are
// reported with FilterType span.MRN, since the enumeration in spec.md §3 has
// no separate DEA/NPI category, and carry their own pattern identifier for
// provenance.
func NewProviderIDFilter() Filter {
	return &providerIDFilter{}
}

type providerIDFilter struct{}

var (
	npiRe = regexp.MustCompile(`\b\d{10}\b`)
	deaRe = regexp.MustCompile(`\b[A-Z]{2}\d{7}\b`)
)

func (f *providerIDFilter) Type() span.Type { return span.MRN }

func (f *providerIDFilter) Detect(in Input) []span.Span {
	var out []span.Span
	for _, loc := range npiRe.FindAllStringIndex(in.Text, -1) {
		match := in.Text[loc[0]:loc[1]]
		if !npiCheck(match) {
			continue
		}
		start, end := byteRangeToRuneRange(in.Text, loc[0], loc[1])
		out = append(out, span.Span{
			Start: start, End: end, Text: match, FilterType: span.MRN,
			Confidence: 0.88, Priority: span.Priority[span.MRN], Pattern: "npi",
		})
	}
	for _, loc := range deaRe.FindAllStringIndex(in.Text, -1) {
		match := in.Text[loc[0]:loc[1]]
		if !deaCheck(match) {
			continue
		}
		start, end := byteRangeToRuneRange(in.Text, loc[0], loc[1])
		out = append(out, span.Span{
			Start: start, End: end, Text: match, FilterType: span.MRN,
			Confidence: 0.88, Priority: span.Priority[span.MRN], Pattern: "dea",
		})
	}
	return sortSpans(dropOverlapping(out))
}

// NewAccountFilter detects bank/financial account numbers: a keyword anchor
// plus a long digit run. No universal checksum applies across account
// numbering schemes, so confidence rests on the keyword anchor alone.
func NewAccountFilter() Filter {
	return newRegexFilter(span.Account, "account_number", 0.7, nil,
		`(?i)\bacc(?:ount|t)?[.:#\s]*(?:no\.?|number)?[:#\s]*\d{6,17}\b`,
	)
}

// NewDeviceIDFilter detects device/serial identifiers anchored by a keyword.
func NewDeviceIDFilter() Filter {
	return newRegexFilter(span.Device, "device_id", 0.75, nil,
		`(?i)\b(?:device|serial)[\s#:]*(?:id|no\.?|number)?[:#\s]*[A-Z0-9][A-Z0-9\-]{5,20}\b`,
	)
}

// NewLicensePlateFilter detects license-plate-shaped tokens anchored by context.
func NewLicensePlateFilter() Filter {
	return newRegexFilter(span.License, "license_plate", 0.7, nil,
		`(?i)\b(?:license plate|plate (?:no|number|#))[:#\s]*[A-Z0-9]{2,8}\b`,
	)
}

// NewPassportFilter detects passport numbers anchored by a keyword.
func NewPassportFilter() Filter {
	return newRegexFilter(span.Passport, "passport", 0.8, nil,
		`(?i)\bpassport[\s#:]*(?:no\.?|number)?[:#\s]*[A-Z0-9]{6,9}\b`,
	)
}

// NewHealthPlanFilter detects health plan beneficiary numbers anchored by a keyword.
func NewHealthPlanFilter() Filter {
	return newRegexFilter(span.HealthPlan, "health_plan_id", 0.75, nil,
		`(?i)\b(?:health plan|member|beneficiary)[\s#:]*(?:id|no\.?|number)?[:#\s]*[A-Z0-9]{6,15}\b`,
	)
}
