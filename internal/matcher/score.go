package matcher

import (
	"sort"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"github.com/groupe-vauban/sirene-cli/internal/model"
)

// Score weights, on a 0..100 scale.
const (
	weightName       = 40
	weightCity       = 30
	weightAddress    = 20
	weightHeadOffice = 10

	nameSimThreshold = 0.9
	addrSimThreshold = 0.8

	acceptScore  = 80 // above: CALCULATED
	rejectScore  = 50 // below: NOT_FOUND
	tieTolerance = 2  // at most: ARBITER
)

// scoredCandidate pairs an establishment with its similarity features.
type scoredCandidate struct {
	model.Establishment
	NameSim  float64
	AddrSim  float64
	Score100 int
}

// scoreCandidates computes the weighted score for each candidate and
// returns them sorted by score descending. The sort is stable so ties
// keep storage order.
func scoreCandidates(cleanName, supplierCity, supplierAddress string, candidates []model.Establishment) []scoredCandidate {
	scored := make([]scoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		sc := scoredCandidate{Establishment: c}
		sc.NameSim = float64(fuzzy.TokenSortRatio(cleanName, c.OfficialName)) / 100.0
		sc.AddrSim = float64(fuzzy.TokenSetRatio(supplierAddress, c.Address)) / 100.0
		cityMatch := supplierCity != "" && supplierCity == normalizeUpper(c.City)

		if sc.NameSim > nameSimThreshold {
			sc.Score100 += weightName
		}
		if cityMatch {
			sc.Score100 += weightCity
		}
		if sc.AddrSim > addrSimThreshold {
			sc.Score100 += weightAddress
		}
		if c.IsHeadOffice {
			sc.Score100 += weightHeadOffice
		}
		scored = append(scored, sc)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score100 > scored[j].Score100
	})
	return scored
}

// confidence maps a 0..100 score onto the 0..1 confidence scale.
func confidence(score100 int) float64 {
	c := float64(score100) / 100.0
	if c > 1.0 {
		return 1.0
	}
	return c
}
