package matcher

import (
	"regexp"
	"strings"
)

var nonDigitRe = regexp.MustCompile(`\D+`)

// ExtractSiret parses a registry-id field into a 14-digit siret, or ""
// when the value cannot be one. Excel tends to turn long ids into
// numbers and drop leading zeros, so a purely numeric value shorter
// than 14 digits is left-padded with zeros.
func ExtractSiret(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	// Numeric cells may arrive with a float tail ("12345678901234.0").
	if i := strings.IndexByte(s, '.'); i >= 0 && isAllDigits(s[:i]) && isAllZeroOrDigits(s[i+1:]) {
		s = s[:i]
	}

	digits := nonDigitRe.ReplaceAllString(s, "")
	switch {
	case len(digits) == 14:
		return digits
	case len(digits) > 0 && len(digits) < 14 && isAllDigits(s):
		return strings.Repeat("0", 14-len(digits)) + digits
	default:
		return ""
	}
}

var vatSirenRe = regexp.MustCompile(`^FR\d{2}(\d{9})`)

// SirenFromVAT extracts the 9-digit siren embedded in a French VAT
// number (FRkk + siren). It is recorded for debugging; a siren alone
// does not identify an establishment, so matching proceeds regardless.
func SirenFromVAT(raw string) string {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), " ", ""))
	if m := vatSirenRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	if strings.HasPrefix(s, "FR") {
		digits := nonDigitRe.ReplaceAllString(s, "")
		if len(digits) >= 9 {
			return digits[len(digits)-9:]
		}
	}
	return ""
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isAllZeroOrDigits(s string) bool {
	return s == "" || isAllDigits(s)
}
