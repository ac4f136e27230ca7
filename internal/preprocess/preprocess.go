// Package preprocess classifies supplier rows by country and splits
// the table into the domestic file fed to the matcher and the foreign
// file fed to the web-search branch.
package preprocess

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/groupe-vauban/sirene-cli/internal/model"
)

// foldTransformer strips diacritics so "Genève" and "GENEVE" classify
// the same way.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold uppercases and removes accents.
func Fold(s string) string {
	out, _, err := transform.String(foldTransformer, s)
	if err != nil {
		out = s
	}
	return strings.ToUpper(strings.TrimSpace(out))
}

// countryNames maps folded country spellings to a canonical label.
// "FRANCE" and its aliases classify as domestic.
var countryNames = map[string]string{
	"FRANCE":         "FRANCE",
	"FR":             "FRANCE",
	"FRA":            "FRANCE",
	"ALLEMAGNE":      "ALLEMAGNE",
	"GERMANY":        "ALLEMAGNE",
	"DEUTSCHLAND":    "ALLEMAGNE",
	"BELGIQUE":       "BELGIQUE",
	"BELGIUM":        "BELGIQUE",
	"ITALIE":         "ITALIE",
	"ITALY":          "ITALIE",
	"ITALIA":         "ITALIE",
	"ESPAGNE":        "ESPAGNE",
	"SPAIN":          "ESPAGNE",
	"ESPANA":         "ESPAGNE",
	"SUISSE":         "SUISSE",
	"SWITZERLAND":    "SUISSE",
	"SCHWEIZ":        "SUISSE",
	"LUXEMBOURG":     "LUXEMBOURG",
	"ROYAUME-UNI":    "ROYAUME-UNI",
	"ROYAUME UNI":    "ROYAUME-UNI",
	"UNITED KINGDOM": "ROYAUME-UNI",
	"UK":             "ROYAUME-UNI",
	"PAYS-BAS":       "PAYS-BAS",
	"PAYS BAS":       "PAYS-BAS",
	"NETHERLANDS":    "PAYS-BAS",
	"PORTUGAL":       "PORTUGAL",
	"ETATS-UNIS":     "ETATS-UNIS",
	"ETATS UNIS":     "ETATS-UNIS",
	"USA":            "ETATS-UNIS",
	"UNITED STATES":  "ETATS-UNIS",
	"AUTRICHE":       "AUTRICHE",
	"IRLANDE":        "IRLANDE",
	"POLOGNE":        "POLOGNE",
	"CHINE":          "CHINE",
	"CHINA":          "CHINE",
	"MAROC":          "MAROC",
	"TUNISIE":        "TUNISIE",
	"MONACO":         "MONACO",
	"DANEMARK":       "DANEMARK",
	"SUEDE":          "SUEDE",
	"NORVEGE":        "NORVEGE",
	"JAPON":          "JAPON",
	"CANADA":         "CANADA",
}

// foreignCities maps well-known foreign cities to their country, for
// rows that carry a city but no usable country or postal code.
var foreignCities = map[string]string{
	"GENEVE":     "SUISSE",
	"ZURICH":     "SUISSE",
	"LAUSANNE":   "SUISSE",
	"BRUXELLES":  "BELGIQUE",
	"ANVERS":     "BELGIQUE",
	"LIEGE":      "BELGIQUE",
	"LONDRES":    "ROYAUME-UNI",
	"LONDON":     "ROYAUME-UNI",
	"MILAN":      "ITALIE",
	"MILANO":     "ITALIE",
	"ROME":       "ITALIE",
	"TORINO":     "ITALIE",
	"BARCELONE":  "ESPAGNE",
	"BARCELONA":  "ESPAGNE",
	"MADRID":     "ESPAGNE",
	"LISBONNE":   "PORTUGAL",
	"LISBOA":     "PORTUGAL",
	"AMSTERDAM":  "PAYS-BAS",
	"ROTTERDAM":  "PAYS-BAS",
	"FRANCFORT":  "ALLEMAGNE",
	"FRANKFURT":  "ALLEMAGNE",
	"MUNICH":     "ALLEMAGNE",
	"BERLIN":     "ALLEMAGNE",
	"HAMBOURG":   "ALLEMAGNE",
	"VIENNE":     "AUTRICHE",
	"DUBLIN":     "IRLANDE",
	"NEW YORK":   "ETATS-UNIS",
	"MONACO":     "MONACO",
	"CASABLANCA": "MAROC",
	"TUNIS":      "TUNISIE",
}

var frenchPostalRe = regexp.MustCompile(`^\d{5}$`)

// InferCountry classifies one row. Priority: explicit country column,
// then a French-looking postal code, then the known-city list. Rows
// with no signal default to FRANCE; the matcher's location gate deals
// with them.
func InferCountry(raw model.Raw) string {
	if c := Fold(raw.String(model.ColCountry)); c != "" {
		if canon, ok := countryNames[c]; ok {
			return canon
		}
		return c
	}

	postal := strings.TrimSpace(raw.String(model.ColPostal))
	if frenchPostalRe.MatchString(postal) && postal != "00000" {
		// Monaco shares the French postal format.
		if strings.HasPrefix(postal, "980") {
			return "MONACO"
		}
		return "FRANCE"
	}

	if c := Fold(raw.String(model.ColCity)); c != "" {
		if country, ok := foreignCities[c]; ok {
			return country
		}
	}

	return "FRANCE"
}

// SplitResult is the outcome of one preprocessing pass.
type SplitResult struct {
	French           []model.Raw
	Foreign          []model.Raw
	FilteredInactive int
	ByCountry        map[string]int
}

// Split partitions rows into domestic and foreign. When filterInactive
// is set, rows without a last-movement date are dropped first.
func Split(rows []model.Raw, filterInactive bool) *SplitResult {
	res := &SplitResult{ByCountry: make(map[string]int)}
	for _, row := range rows {
		if filterInactive && row.String(model.ColLastMovement) == "" {
			res.FilteredInactive++
			continue
		}
		country := InferCountry(row)
		res.ByCountry[country]++
		if country == "FRANCE" {
			res.French = append(res.French, row)
		} else {
			row[model.ColCountry] = country
			res.Foreign = append(res.Foreign, row)
		}
	}

	zap.L().Info("supplier split",
		zap.Int("french", len(res.French)),
		zap.Int("foreign", len(res.Foreign)),
		zap.Int("filtered_inactive", res.FilteredInactive),
		zap.Int("countries", len(res.ByCountry)))
	return res
}

// WriteSplit persists both halves as CSV under dir and returns their
// paths. Columns are the sorted union of the keys seen.
func WriteSplit(dir string, res *SplitResult) (frenchPath, foreignPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", eris.Wrap(err, "preprocess: create output dir")
	}
	frenchPath = filepath.Join(dir, "suppliers_fr.csv")
	foreignPath = filepath.Join(dir, "suppliers_foreign.csv")
	if err := writeCSV(frenchPath, res.French); err != nil {
		return "", "", err
	}
	if err := writeCSV(foreignPath, res.Foreign); err != nil {
		return "", "", err
	}
	return frenchPath, foreignPath, nil
}

func writeCSV(path string, rows []model.Raw) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "preprocess: create csv")
	}
	defer f.Close()

	cols := map[string]struct{}{}
	for _, r := range rows {
		for k := range r {
			cols[k] = struct{}{}
		}
	}
	header := make([]string, 0, len(cols))
	for k := range cols {
		header = append(header, k)
	}
	sort.Strings(header)

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return eris.Wrap(err, "preprocess: write header")
	}
	rec := make([]string, len(header))
	for _, r := range rows {
		for i, col := range header {
			rec[i] = r.String(col)
		}
		if err := w.Write(rec); err != nil {
			return eris.Wrap(err, "preprocess: write row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrap(err, "preprocess: flush csv")
	}
	return nil
}
