// Package oracle provides the cleaning oracle the matcher consults:
// it normalizes raw supplier fields and breaks ties between two
// near-equal candidates. Two implementations exist, a deterministic
// offline heuristic and a Claude-backed remote that degrades to the
// heuristic on any failure. Oracles memoize per instance; instances
// are not shared across workers.
package oracle

import (
	"context"
	"strings"

	"github.com/groupe-vauban/sirene-cli/internal/model"
)

// Choice identifies the candidate picked by Arbitrate.
type Choice string

const (
	ChoiceA Choice = "A"
	ChoiceB Choice = "B"
)

// Oracle cleans supplier rows and arbitrates between near-tied
// candidates.
type Oracle interface {
	Clean(ctx context.Context, raw model.Raw) (model.CleanedSupplier, error)
	Arbitrate(ctx context.Context, question string, a, b model.Establishment) (Choice, error)
}

// cleanKey is the canonical memoization fingerprint for a raw row.
func cleanKey(raw model.Raw) string {
	return strings.Join([]string{
		raw.String(model.ColName),
		raw.String(model.ColAddress1),
		raw.String(model.ColPostal),
		raw.String(model.ColCity),
	}, "|")
}

// arbitrateKey memoizes arbitration per question and candidate pair.
func arbitrateKey(question string, a, b model.Establishment) string {
	return question + "|" + a.Siret + "|" + b.Siret
}
