package oracle

import (
	"context"
	"regexp"
	"strings"

	"github.com/groupe-vauban/sirene-cli/internal/model"
)

// legalSuffixes lists the legal entity suffixes stripped during name
// cleaning. The search token must never be one of these.
var legalSuffixes = []string{
	"SASU",
	"SAS",
	"SARL",
	"EURL",
	"SA",
	"SCI",
	"SNC",
	"SC",
	"SCA",
	"SCOP",
	"SELARL",
	"SELAFA",
	"GIE",
	"ASSOCIATION",
}

var legalSuffixSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(legalSuffixes))
	for _, s := range legalSuffixes {
		m[s] = struct{}{}
	}
	return m
}()

var (
	multiSpaceRe = regexp.MustCompile(`\s+`)
	alnumTokenRe = regexp.MustCompile(`[A-Z0-9]+`)
	postalRe     = regexp.MustCompile(`\b(\d{5})\b`)
	suffixRes    = func() []*regexp.Regexp {
		out := make([]*regexp.Regexp, len(legalSuffixes))
		for i, s := range legalSuffixes {
			out[i] = regexp.MustCompile(`(?i)\b` + s + `\b`)
		}
		return out
	}()
)

// NormalizeSpaces trims and collapses runs of whitespace.
func NormalizeSpaces(s string) string {
	return multiSpaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
}

// NormalizeUpper uppercases and collapses whitespace. Accents are kept;
// both the registry and the similarity metrics handle UTF-8.
func NormalizeUpper(s string) string {
	return strings.ToUpper(NormalizeSpaces(s))
}

// StripLegalSuffixes removes legal-form words from a company name.
func StripLegalSuffixes(name string) string {
	s := " " + name + " "
	for _, re := range suffixRes {
		s = re.ReplaceAllString(s, " ")
	}
	return NormalizeSpaces(s)
}

// ExtractPostal finds the first plausible 5-digit postal code in text.
// "00000" is rejected.
func ExtractPostal(text string) string {
	m := postalRe.FindStringSubmatch(text)
	if m == nil || m[1] == "00000" {
		return ""
	}
	return m[1]
}

// Offline is the deterministic local oracle used when no API credential
// is configured, and the fallback when the remote oracle fails.
type Offline struct {
	cleanMemo     map[string]model.CleanedSupplier
	arbitrateMemo map[string]Choice
}

// NewOffline creates an offline oracle with empty memoization maps.
func NewOffline() *Offline {
	return &Offline{
		cleanMemo:     make(map[string]model.CleanedSupplier),
		arbitrateMemo: make(map[string]Choice),
	}
}

// Clean derives the cleaned supplier from local rules only.
func (o *Offline) Clean(_ context.Context, raw model.Raw) (model.CleanedSupplier, error) {
	key := cleanKey(raw)
	if c, ok := o.cleanMemo[key]; ok {
		return c, nil
	}

	nameRaw := raw.String(model.ColName)
	if nameRaw == "" {
		nameRaw = raw.String("name")
	}
	addrRaw := raw.String(model.ColAddress1)
	if addrRaw == "" {
		addrRaw = raw.String("address")
	}
	cityRaw := raw.String(model.ColCity)
	if cityRaw == "" {
		cityRaw = raw.String("city")
	}
	postalRaw := raw.String(model.ColPostal)
	if postalRaw == "" {
		postalRaw = raw.String("cp")
	}

	cleanName := NormalizeUpper(StripLegalSuffixes(nameRaw))

	c := model.CleanedSupplier{
		CleanName:   cleanName,
		SearchToken: searchToken(cleanName),
		CleanPostal: cleanPostal(postalRaw, addrRaw),
	}
	if strings.TrimSpace(cityRaw) != "" {
		c.CleanCity = NormalizeUpper(cityRaw)
	}

	o.cleanMemo[key] = c
	return c, nil
}

// searchToken picks the most distinctive token: the longest
// alphanumeric token of the cleaned name that is not a legal suffix,
// falling back to a truncation of the name.
func searchToken(cleanName string) string {
	var best string
	for _, tok := range alnumTokenRe.FindAllString(cleanName, -1) {
		if _, legal := legalSuffixSet[tok]; legal {
			continue
		}
		if len(tok) > len(best) {
			best = tok
		}
	}
	if best != "" {
		return best
	}
	if len(cleanName) > 20 {
		return cleanName[:20]
	}
	if cleanName != "" {
		return cleanName
	}
	return "UNKNOWN"
}

// cleanPostal normalizes the postal field, falling back to scanning the
// first address line. Values that parse as bare integers are padded to
// five digits (Excel drops leading zeros).
func cleanPostal(postalRaw, addrRaw string) string {
	s := strings.TrimSpace(postalRaw)
	if s != "" && len(s) <= 5 && isDigits(s) {
		padded := strings.Repeat("0", 5-len(s)) + s
		if padded != "00000" {
			return padded
		}
		return ""
	}
	if cp := ExtractPostal(s); cp != "" {
		return cp
	}
	return ExtractPostal(addrRaw)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Arbitrate picks between two candidates with deterministic rules:
// prefer the head office, then the candidate whose address shares more
// tokens with the question, then A.
func (o *Offline) Arbitrate(_ context.Context, question string, a, b model.Establishment) (Choice, error) {
	key := arbitrateKey(question, a, b)
	if c, ok := o.arbitrateMemo[key]; ok {
		return c, nil
	}

	choice := ChoiceA
	switch {
	case a.IsHeadOffice != b.IsHeadOffice:
		if b.IsHeadOffice {
			choice = ChoiceB
		}
	default:
		aAddr := NormalizeUpper(a.Address)
		bAddr := NormalizeUpper(b.Address)
		var aHits, bHits int
		for _, tok := range alnumTokenRe.FindAllString(NormalizeUpper(question), -1) {
			if strings.Contains(aAddr, tok) {
				aHits++
			}
			if strings.Contains(bAddr, tok) {
				bHits++
			}
		}
		if bHits > aHits {
			choice = ChoiceB
		}
	}

	o.arbitrateMemo[key] = choice
	return choice, nil
}
