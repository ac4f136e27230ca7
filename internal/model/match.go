package model

// Match methods, in the order the matcher's rules fire.
const (
	MethodDirectID    = "DIRECT_ID"
	MethodStrictLocal = "STRICT_LOCAL"
	MethodCalculated  = "CALCULATED"
	MethodArbiter     = "ARBITER"
	MethodNotFound    = "NOT_FOUND"
	MethodWebSearch   = "WEB_SEARCH"
)

// Debug step labels recorded in MatchResult.Debug["step"].
const (
	StepNoLocation         = "NO_LOCATION"
	StepLowScore           = "LOW_SCORE"
	StepCalculatedFallback = "CALCULATED_FALLBACK"
)

// MatchResult is the matcher's verdict for one supplier row.
//
// Invariants: NOT_FOUND rows carry no siret and confidence 0;
// DIRECT_ID rows carry confidence 1; Alternatives never contains
// ResolvedSiret.
type MatchResult struct {
	InputID       string         `json:"input_id"`
	ResolvedSiret string         `json:"resolved_siret,omitempty"`
	OfficialName  string         `json:"official_name,omitempty"`
	Confidence    float64        `json:"confidence_score"`
	Method        string         `json:"match_method"`
	Alternatives  []string       `json:"alternatives"`
	Debug         map[string]any `json:"debug,omitempty"`
}

// NotFound builds a NOT_FOUND result with the given debug step.
func NotFound(inputID, step string, debug map[string]any) MatchResult {
	d := map[string]any{"step": step}
	for k, v := range debug {
		if k != "step" {
			d[k] = v
		}
	}
	return MatchResult{
		InputID:      inputID,
		Confidence:   0,
		Method:       MethodNotFound,
		Alternatives: []string{},
		Debug:        d,
	}
}
