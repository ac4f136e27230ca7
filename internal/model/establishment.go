package model

// Establishment is one active SIRENE establishment, as stored in the
// registry partition tree and joined with its company denomination.
type Establishment struct {
	Siret        string `json:"siret"`
	Siren        string `json:"siren"`
	OfficialName string `json:"official_name"`
	City         string `json:"city"`
	Address      string `json:"address"`
	IsHeadOffice bool   `json:"is_siege"`
	RegionPrefix string `json:"region_prefix,omitempty"`
}

// Company is one active legal unit from the registry's companies table.
type Company struct {
	Siren               string
	Denomination        string
	PrincipalActivity   string
	AdministrativeState string
}

// FTSCandidate is one hit from the full-text index over company
// denominations. Score follows the BM25 lower-is-better convention.
type FTSCandidate struct {
	Siren        string
	Denomination string
	Score        float64
}
