package matcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupe-vauban/sirene-cli/internal/model"
	"github.com/groupe-vauban/sirene-cli/internal/oracle"
)

type fakeRegistry struct {
	direct map[string]*model.Establishment
	strict []model.Establishment
	fts    []model.FTSCandidate
	estabs []model.Establishment

	ftsCalled  bool
	lastRegion string
}

func (f *fakeRegistry) DirectLookup(_ context.Context, siret string) (*model.Establishment, error) {
	return f.direct[siret], nil
}

func (f *fakeRegistry) StrictLocalLookup(_ context.Context, _, _ string) ([]model.Establishment, error) {
	return f.strict, nil
}

func (f *fakeRegistry) FTSCandidates(_ context.Context, _ string, _ int) ([]model.FTSCandidate, error) {
	f.ftsCalled = true
	return f.fts, nil
}

func (f *fakeRegistry) FetchBySirens(_ context.Context, region string, _ []string) ([]model.Establishment, error) {
	f.lastRegion = region
	return f.estabs, nil
}

type fakeOracle struct {
	cleaned model.CleanedSupplier
	choice  oracle.Choice
}

func (f *fakeOracle) Clean(context.Context, model.Raw) (model.CleanedSupplier, error) {
	return f.cleaned, nil
}

func (f *fakeOracle) Arbitrate(context.Context, string, model.Establishment, model.Establishment) (oracle.Choice, error) {
	return f.choice, nil
}

func ftsFor(estabs []model.Establishment) []model.FTSCandidate {
	out := make([]model.FTSCandidate, len(estabs))
	for i, e := range estabs {
		out[i] = model.FTSCandidate{Siren: e.Siren, Denomination: e.OfficialName, Score: -1}
	}
	return out
}

func TestMatchDirectID(t *testing.T) {
	reg := &fakeRegistry{direct: map[string]*model.Establishment{
		"12345678901234": {Siret: "12345678901234", Siren: "123456789", OfficialName: "ACME"},
	}}
	m := New(reg, &fakeOracle{})

	res, err := m.Match(context.Background(), model.Raw{
		model.ColAuxiliaire: "A1",
		model.ColSiret:      "123 456 789 01234",
	})
	require.NoError(t, err)

	assert.Equal(t, model.MethodDirectID, res.Method)
	assert.Equal(t, "12345678901234", res.ResolvedSiret)
	assert.Equal(t, "ACME", res.OfficialName)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Empty(t, res.Alternatives)
	assert.False(t, reg.ftsCalled, "direct hit must short-circuit")
}

func TestMatchStrictLocalSingleHit(t *testing.T) {
	reg := &fakeRegistry{strict: []model.Establishment{
		{Siret: "99999999900011", OfficialName: "ATELIER MARTIN"},
	}}
	orc := &fakeOracle{cleaned: model.CleanedSupplier{
		CleanName: "ATELIER MARTIN", SearchToken: "ATELIER", CleanPostal: "69003",
	}}
	m := New(reg, orc)

	res, err := m.Match(context.Background(), model.Raw{model.ColAuxiliaire: "A2"})
	require.NoError(t, err)

	assert.Equal(t, model.MethodStrictLocal, res.Method)
	assert.Equal(t, "99999999900011", res.ResolvedSiret)
	assert.Equal(t, 0.95, res.Confidence)
	assert.False(t, reg.ftsCalled)
}

func TestMatchStrictLocalAmbiguousFallsThrough(t *testing.T) {
	reg := &fakeRegistry{strict: []model.Establishment{
		{Siret: "1"}, {Siret: "2"},
	}}
	orc := &fakeOracle{cleaned: model.CleanedSupplier{
		CleanName: "X", SearchToken: "X", CleanPostal: "75001",
	}}
	m := New(reg, orc)

	res, err := m.Match(context.Background(), model.Raw{model.ColAuxiliaire: "A3"})
	require.NoError(t, err)

	assert.True(t, reg.ftsCalled, "two strict hits must not resolve")
	assert.Equal(t, model.MethodNotFound, res.Method)
}

func TestMatchNoLocationGate(t *testing.T) {
	reg := &fakeRegistry{}
	orc := &fakeOracle{cleaned: model.CleanedSupplier{CleanName: "ACME", SearchToken: "ACME"}}
	m := New(reg, orc)

	res, err := m.Match(context.Background(), model.Raw{model.ColAuxiliaire: "A4"})
	require.NoError(t, err)

	assert.Equal(t, model.MethodNotFound, res.Method)
	assert.Equal(t, model.StepNoLocation, res.Debug["step"])
	assert.Equal(t, 0.0, res.Confidence)
	assert.False(t, reg.ftsCalled, "gate fires before the index")
}

func TestMatchCalculated(t *testing.T) {
	estabs := []model.Establishment{
		{Siret: "11111111100001", Siren: "111111111", OfficialName: "CARREFOUR MARKET",
			City: "PARIS", Address: "10 RUE DE RIVOLI", IsHeadOffice: true},
		{Siret: "22222222200002", Siren: "222222222", OfficialName: "CARREFOUR EXPRESS",
			City: "PARIS", Address: "12 RUE DE RIVOLI"},
	}
	reg := &fakeRegistry{fts: ftsFor(estabs), estabs: estabs}
	orc := &fakeOracle{cleaned: model.CleanedSupplier{
		CleanName: "CARREFOUR MARKET", SearchToken: "CARREFOUR",
		CleanPostal: "75001", CleanCity: "PARIS",
	}}
	m := New(reg, orc)

	res, err := m.Match(context.Background(), model.Raw{
		model.ColAuxiliaire: "A5",
		model.ColAddress1:   "10 rue de Rivoli",
	})
	require.NoError(t, err)

	assert.Equal(t, model.MethodCalculated, res.Method)
	assert.Equal(t, "11111111100001", res.ResolvedSiret)
	assert.Equal(t, 1.0, res.Confidence, "40+30+20+10 caps at 1.0")
	assert.Equal(t, []string{"22222222200002"}, res.Alternatives)
	assert.Equal(t, "department_75", res.Debug["search_scope"])
	assert.Equal(t, "75", reg.lastRegion)
}

func TestMatchLowScoreNotFound(t *testing.T) {
	estabs := []model.Establishment{
		{Siret: "33333333300003", Siren: "333333333", OfficialName: "TOTALLY DIFFERENT",
			City: "LYON", Address: "1 RUE X"},
	}
	reg := &fakeRegistry{fts: ftsFor(estabs), estabs: estabs}
	orc := &fakeOracle{cleaned: model.CleanedSupplier{
		CleanName: "CARREFOUR", SearchToken: "CARREFOUR",
		CleanPostal: "69003", CleanCity: "LYON",
	}}
	m := New(reg, orc)

	res, err := m.Match(context.Background(), model.Raw{model.ColAuxiliaire: "A6"})
	require.NoError(t, err)

	assert.Equal(t, model.MethodNotFound, res.Method)
	assert.Equal(t, model.StepLowScore, res.Debug["step"])
}

func TestMatchTieGoesToArbiter(t *testing.T) {
	// Both candidates score 70 (name 40 + city 30); the oracle picks B.
	estabs := []model.Establishment{
		{Siret: "44444444400004", Siren: "444444444", OfficialName: "ACME", City: "PARIS"},
		{Siret: "55555555500005", Siren: "555555555", OfficialName: "ACME", City: "PARIS"},
	}
	reg := &fakeRegistry{fts: ftsFor(estabs), estabs: estabs}
	orc := &fakeOracle{
		cleaned: model.CleanedSupplier{
			CleanName: "ACME", SearchToken: "ACME",
			CleanPostal: "75001", CleanCity: "PARIS",
		},
		choice: oracle.ChoiceB,
	}
	m := New(reg, orc)

	res, err := m.Match(context.Background(), model.Raw{model.ColAuxiliaire: "A7"})
	require.NoError(t, err)

	assert.Equal(t, model.MethodArbiter, res.Method)
	assert.Equal(t, "55555555500005", res.ResolvedSiret)
	assert.InDelta(t, 0.70, res.Confidence, 0.001)
	assert.NotContains(t, res.Alternatives, res.ResolvedSiret)
}

func TestMatchSecondaryFilterDropsFarCities(t *testing.T) {
	estabs := []model.Establishment{
		{Siret: "66666666600006", Siren: "666666666", OfficialName: "ACME", City: "MARSEILLE"},
	}
	reg := &fakeRegistry{fts: ftsFor(estabs), estabs: estabs}
	orc := &fakeOracle{cleaned: model.CleanedSupplier{
		CleanName: "ACME", SearchToken: "ACME",
		CleanPostal: "75001", CleanCity: "PARIS",
	}}
	m := New(reg, orc)

	res, err := m.Match(context.Background(), model.Raw{model.ColAuxiliaire: "A8"})
	require.NoError(t, err)

	assert.Equal(t, model.MethodNotFound, res.Method)
	assert.Equal(t, 0, res.Debug["filtered_n"])
}
