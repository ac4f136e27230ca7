// Package matcher resolves one raw supplier row against the national
// registry. The resolution is an ordered sequence of guarded rules;
// the first rule that emits a result wins:
//
//	S0 direct identifier lookup        -> DIRECT_ID
//	S1 clean via the oracle
//	S2 strict local (postal + name)    -> STRICT_LOCAL
//	S3 location gate                   -> NOT_FOUND (NO_LOCATION)
//	S4 full-text candidates
//	S5 secondary city/address filter   -> NOT_FOUND
//	S6 weighted scoring
//	S7 decide                          -> CALCULATED | NOT_FOUND | ARBITER
package matcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/rotisserie/eris"

	"github.com/groupe-vauban/sirene-cli/internal/model"
	"github.com/groupe-vauban/sirene-cli/internal/oracle"
)

// Secondary filter thresholds (strict Levenshtein distances).
const (
	maxCityDistance = 3  // candidate city vs supplier city, exclusive
	maxAddrDistance = 10 // candidate address vs supplier address, exclusive

	ftsLimit        = 20
	maxAlternatives = 5
)

// Registry is the narrow read surface of the registry store the
// matcher consumes.
type Registry interface {
	DirectLookup(ctx context.Context, siret string) (*model.Establishment, error)
	StrictLocalLookup(ctx context.Context, postal, cleanName string) ([]model.Establishment, error)
	FTSCandidates(ctx context.Context, token string, limit int) ([]model.FTSCandidate, error)
	// FetchBySirens reads one region partition when regionPrefix is
	// non-empty, otherwise scans the full archive.
	FetchBySirens(ctx context.Context, regionPrefix string, sirens []string) ([]model.Establishment, error)
}

// Matcher resolves supplier rows using a registry handle and an oracle.
// It holds no mutable state of its own; one instance per worker.
type Matcher struct {
	registry Registry
	oracle   oracle.Oracle
}

// New creates a matcher over the given registry and oracle.
func New(registry Registry, orc oracle.Oracle) *Matcher {
	return &Matcher{registry: registry, oracle: orc}
}

func normalizeUpper(s string) string { return oracle.NormalizeUpper(s) }

// Match runs the resolution state machine for one raw row.
func (m *Matcher) Match(ctx context.Context, raw model.Raw) (model.MatchResult, error) {
	inputID := raw.InputID()
	debug := map[string]any{"input_id": inputID}

	// S0: direct identifier verification.
	if siret := ExtractSiret(raw.String(model.ColSiret)); siret != "" {
		hit, err := m.registry.DirectLookup(ctx, siret)
		if err != nil {
			return model.MatchResult{}, eris.Wrap(err, "matcher: direct lookup")
		}
		if hit != nil {
			debug["step"] = model.MethodDirectID
			return model.MatchResult{
				InputID:       inputID,
				ResolvedSiret: hit.Siret,
				OfficialName:  hit.OfficialName,
				Confidence:    1.0,
				Method:        model.MethodDirectID,
				Alternatives:  []string{},
				Debug:         debug,
			}, nil
		}
	}

	// A VAT-derived siren is not unique per establishment; record it
	// and keep searching.
	if siren := SirenFromVAT(raw.String(model.ColNIF)); siren != "" {
		debug["siren_from_nif"] = siren
	}

	// S1: cleaning.
	cleaned, err := m.oracle.Clean(ctx, raw)
	if err != nil {
		return model.MatchResult{}, eris.Wrap(err, "matcher: clean")
	}
	debug["cleaned"] = cleaned

	supplierCity := cleaned.CleanCity
	if supplierCity == "" {
		supplierCity = normalizeUpper(raw.String(model.ColCity))
	}
	supplierAddress := composeAddress(raw)

	// S2: strict local.
	if cleaned.CleanPostal != "" {
		hits, err := m.registry.StrictLocalLookup(ctx, cleaned.CleanPostal, cleaned.CleanName)
		if err != nil {
			return model.MatchResult{}, eris.Wrap(err, "matcher: strict local lookup")
		}
		debug["strict_hits_n"] = len(hits)
		if len(hits) == 1 {
			h := hits[0]
			debug["step"] = model.MethodStrictLocal
			return model.MatchResult{
				InputID:       inputID,
				ResolvedSiret: h.Siret,
				OfficialName:  h.OfficialName,
				Confidence:    0.95,
				Method:        model.MethodStrictLocal,
				Alternatives:  []string{},
				Debug:         debug,
			}, nil
		}
	}

	// S3: broad search gate. Without any location signal a name-only
	// match is unreliable; stop before touching the FTS index.
	if cleaned.CleanPostal == "" && supplierCity == "" {
		return model.NotFound(inputID, model.StepNoLocation, debug), nil
	}

	// S4: full-text candidates.
	fts, err := m.registry.FTSCandidates(ctx, cleaned.SearchToken, ftsLimit)
	if err != nil {
		return model.MatchResult{}, eris.Wrap(err, "matcher: fts candidates")
	}
	debug["fts_n"] = len(fts)

	sirens := make([]string, 0, len(fts))
	for _, c := range fts {
		sirens = append(sirens, c.Siren)
	}

	region := cleaned.RegionPrefix()
	if region != "" {
		debug["search_scope"] = "department_" + region
	} else {
		debug["search_scope"] = "nationwide"
	}

	estabs, err := m.registry.FetchBySirens(ctx, region, sirens)
	if err != nil {
		return model.MatchResult{}, eris.Wrap(err, "matcher: fetch establishments")
	}
	debug["estabs_n"] = len(estabs)

	// S5: secondary filter on city and address proximity.
	filtered := make([]model.Establishment, 0, len(estabs))
	for _, c := range estabs {
		if supplierCity != "" && levenshtein.ComputeDistance(normalizeUpper(c.City), supplierCity) >= maxCityDistance {
			continue
		}
		if supplierAddress != "" && levenshtein.ComputeDistance(normalizeUpper(c.Address), supplierAddress) >= maxAddrDistance {
			continue
		}
		filtered = append(filtered, c)
	}
	debug["filtered_n"] = len(filtered)

	if len(filtered) == 0 {
		return model.NotFound(inputID, model.MethodNotFound, debug), nil
	}

	// S6: weighted scoring.
	scored := scoreCandidates(cleaned.CleanName, supplierCity, supplierAddress, filtered)

	topScores := make([]int, 0, maxAlternatives)
	for i := 0; i < len(scored) && i < maxAlternatives; i++ {
		topScores = append(topScores, scored[i].Score100)
	}
	debug["top_scores"] = topScores

	// S7: decide.
	top := scored[0]
	alternatives := make([]string, 0, maxAlternatives)
	for i := 1; i < len(scored) && len(alternatives) < maxAlternatives; i++ {
		alternatives = append(alternatives, scored[i].Siret)
	}

	if top.Score100 > acceptScore {
		debug["step"] = model.MethodCalculated
		return m.calculated(inputID, top, alternatives, debug), nil
	}

	if top.Score100 < rejectScore {
		nf := model.NotFound(inputID, model.StepLowScore, debug)
		nf.Alternatives = alternatives
		return nf, nil
	}

	if len(scored) >= 2 && abs(scored[0].Score100-scored[1].Score100) <= tieTolerance {
		question := fmt.Sprintf("Which address best matches '%s'?", supplierAddress)
		choice, err := m.oracle.Arbitrate(ctx, question, scored[0].Establishment, scored[1].Establishment)
		if err != nil {
			return model.MatchResult{}, eris.Wrap(err, "matcher: arbitrate")
		}
		pick := scored[0]
		if choice == oracle.ChoiceB {
			pick = scored[1]
		}
		debug["step"] = model.MethodArbiter
		debug["choice"] = string(choice)
		return model.MatchResult{
			InputID:       inputID,
			ResolvedSiret: pick.Siret,
			OfficialName:  pick.OfficialName,
			Confidence:    confidence(pick.Score100),
			Method:        model.MethodArbiter,
			Alternatives:  withoutSiret(alternatives, pick.Siret),
			Debug:         debug,
		}, nil
	}

	debug["step"] = model.StepCalculatedFallback
	return m.calculated(inputID, top, alternatives, debug), nil
}

func (m *Matcher) calculated(inputID string, top scoredCandidate, alternatives []string, debug map[string]any) model.MatchResult {
	return model.MatchResult{
		InputID:       inputID,
		ResolvedSiret: top.Siret,
		OfficialName:  top.OfficialName,
		Confidence:    confidence(top.Score100),
		Method:        model.MethodCalculated,
		Alternatives:  alternatives,
		Debug:         debug,
	}
}

// composeAddress joins the supplier address lines into one uppercased,
// space-collapsed string.
func composeAddress(raw model.Raw) string {
	parts := make([]string, 0, 3)
	for _, col := range []string{model.ColAddress1, model.ColAddress2, model.ColAddress3} {
		if s := raw.String(col); s != "" {
			parts = append(parts, s)
		}
	}
	return normalizeUpper(strings.Join(parts, " "))
}

// withoutSiret drops the resolved siret from the alternatives list, so
// the invariant that alternatives never contain the resolution holds
// for the arbiter branch too.
func withoutSiret(alternatives []string, siret string) []string {
	out := make([]string, 0, len(alternatives))
	for _, a := range alternatives {
		if a != siret {
			out = append(out, a)
		}
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
