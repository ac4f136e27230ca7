package model

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Raw is one supplier row as loaded from the input file: an open mapping
// from column name to scalar. Values must be JSON-safe before a row
// crosses a worker boundary; Sanitize enforces that.
type Raw map[string]any

// Recognized supplier columns. Identifier and postal columns are always
// loaded as strings so leading zeros survive.
const (
	ColAuxiliaire   = "Auxiliaire"
	ColCodeTiers    = "Code tiers"
	ColName         = "Nom"
	ColAddress1     = "Adresse 1"
	ColAddress2     = "Adresse 2"
	ColAddress3     = "Adresse 3"
	ColPostal       = "Postal"
	ColCity         = "Ville"
	ColCountry      = "Pays"
	ColSiret        = "Code SIRET"
	ColNIF          = "Code NIF"
	ColNAF          = "Code NAF"
	ColLastMovement = "Date dern. Mouvt"

	// ColIndex carries the source row index, used as the identifier of
	// last resort.
	ColIndex = "index"
)

// StringColumns are the columns the loaders must force to string dtype.
var StringColumns = []string{
	ColAuxiliaire, ColCodeTiers, ColPostal, ColSiret, ColNIF, ColNAF,
}

// InputID derives the stable identifier for a row: external id, then
// secondary id, then the source row index.
func (r Raw) InputID() string {
	for _, col := range []string{ColAuxiliaire, ColCodeTiers, ColIndex} {
		if s := r.String(col); s != "" {
			return s
		}
	}
	return ""
}

// String returns the value of a column rendered as a trimmed string,
// or "" when the column is absent or nil.
func (r Raw) String(col string) string {
	v, ok := r[col]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return formatFloat(t)
	case float32:
		return formatFloat(float64(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return ""
	}
}

func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ""
	}
	// Excel and parquet hand back integer ids as floats; render them
	// without the trailing ".0" so they stay usable as identifiers.
	if f == math.Trunc(f) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Sanitize returns a copy of the row holding only JSON-safe scalars:
// date values become ISO-8601 strings, NaN and infinite floats become
// explicit absence (nil), everything else is kept as-is. Rows are
// sanitized once by the loader so workers can assume the invariant.
func (r Raw) Sanitize() Raw {
	out := make(Raw, len(r))
	for k, v := range r {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return t.Format(time.RFC3339)
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return t
	case float32:
		return sanitizeValue(float64(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sanitizeValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = sanitizeValue(e)
		}
		return out
	default:
		return v
	}
}

// CleanedSupplier is the cleaning oracle's output for one raw row.
type CleanedSupplier struct {
	CleanName   string `json:"clean_name"`
	SearchToken string `json:"search_token"`
	CleanPostal string `json:"clean_cp,omitempty"`
	CleanCity   string `json:"clean_city,omitempty"`
}

// RegionPrefix returns the partition key derived from the cleaned
// postal code, or "" when no postal code is known.
func (c CleanedSupplier) RegionPrefix() string {
	if len(c.CleanPostal) < 2 {
		return ""
	}
	return c.CleanPostal[:2]
}
