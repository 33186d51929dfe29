// Package phone canonicalises phone numbers so calls and contacts can be matched
// when the CRM has no explicit association between them.
package phone

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

var extension = regexp.MustCompile(`(?i)(\s*(ext\.?|extension|x|#)\s*\d+)$`)

// Normalize reduces raw to E.164 digits without the plus, e.g.
// "+1 (555) 010-2030" -> "15550102030". An explicit "+" or "00" country code is
// kept as given; a national number is read in the region of defaultCountryCode.
// The second result is false for anything that is not a possible full-length
// number there, and such numbers never take part in matching.
func Normalize(raw, defaultCountryCode string) (string, bool) {
	s := strings.TrimSpace(extension.ReplaceAllString(strings.TrimSpace(raw), ""))
	if s == "" {
		return "", false
	}
	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	}

	num, err := phonenumbers.Parse(s, regionFor(defaultCountryCode))
	if err != nil {
		return "", false
	}
	// local-only numbers lack an area code and stay ambiguous
	if phonenumbers.IsPossibleNumberWithReason(num) != phonenumbers.IS_POSSIBLE {
		return "", false
	}
	return strings.TrimPrefix(phonenumbers.Format(num, phonenumbers.E164), "+"), true
}

// regionFor maps a calling code to its main region; unknown codes yield "ZZ",
// which only parses numbers carrying their own country code.
func regionFor(countryCode string) string {
	cc, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(countryCode), "+"))
	if err != nil {
		return "ZZ"
	}
	return phonenumbers.GetRegionCodeForCountryCode(cc)
}
