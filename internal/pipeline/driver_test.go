package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupe-vauban/sirene-cli/internal/checkpoint"
	"github.com/groupe-vauban/sirene-cli/internal/config"
	"github.com/groupe-vauban/sirene-cli/internal/model"
	"github.com/groupe-vauban/sirene-cli/internal/report"
	"github.com/groupe-vauban/sirene-cli/internal/sirene"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "suppliers.csv")
	require.NoError(t, os.WriteFile(input,
		[]byte("Auxiliaire,Nom,Postal\nA1,Un,75001\nA2,Deux,75002\nA3,Trois,75003\nA4,Quatre,75004\n"), 0o644))
	return &config.Config{
		Pipeline: config.PipelineConfig{
			SupplierFile:   input,
			CheckpointPath: filepath.Join(dir, "state.sqlite"),
			OutputCSV:      filepath.Join(dir, "out.csv"),
			BatchSize:      2,
			GraceSecs:      1,
		},
	}
}

func seedCheckpoint(t *testing.T, path string) {
	t.Helper()
	ck, err := checkpoint.Open(path)
	require.NoError(t, err)
	require.NoError(t, ck.UpsertResult(model.MatchResult{
		InputID: "A1", ResolvedSiret: "111", Method: model.MethodCalculated, Confidence: 0.9,
	}))
	require.NoError(t, ck.UpsertError("A2", "boom"))
	require.NoError(t, ck.Commit())
	require.NoError(t, ck.Close())
}

func TestPrepareSkipsProcessedRows(t *testing.T) {
	cfg := testConfig(t)
	seedCheckpoint(t, cfg.Pipeline.CheckpointPath)

	ck, residual, err := prepare(context.Background(), cfg)
	require.NoError(t, err)
	defer ck.Close()

	ids := make([]string, len(residual))
	for i, r := range residual {
		ids[i] = r.InputID()
	}
	assert.Equal(t, []string{"A3", "A4"}, ids,
		"error rows count as processed unless retries are requested")
}

func TestPrepareRetryErrorsAndLimit(t *testing.T) {
	cfg := testConfig(t)
	seedCheckpoint(t, cfg.Pipeline.CheckpointPath)
	cfg.Pipeline.RetryErrors = true
	cfg.Pipeline.LimitRows = 1

	ck, residual, err := prepare(context.Background(), cfg)
	require.NoError(t, err)
	defer ck.Close()

	// The limit applies to the residual, and the errored row is back.
	require.Len(t, residual, 1)
	assert.Equal(t, "A2", residual[0].InputID())
}

func TestIntegrateCommitsAndExports(t *testing.T) {
	cfg := testConfig(t)
	ck, err := checkpoint.Open(cfg.Pipeline.CheckpointPath)
	require.NoError(t, err)
	defer ck.Close()

	outcomes := make(chan Outcome, 4)
	outcomes <- Outcome{InputID: "A1", Result: model.MatchResult{
		InputID: "A1", ResolvedSiret: "111", Method: model.MethodCalculated, Confidence: 0.85,
		Alternatives: []string{},
	}}
	outcomes <- Outcome{InputID: "A2", Err: eris.New("oracle failed")}
	outcomes <- Outcome{InputID: "A3", Result: model.MatchResult{
		InputID: "A3", Method: model.MethodNotFound, Alternatives: []string{},
	}}
	// Cancellation noise is not an outcome.
	outcomes <- Outcome{InputID: "A4", Err: context.Canceled}
	close(outcomes)

	stats := integrate(context.Background(), cfg, ck, "testrun", 3, outcomes)

	assert.Equal(t, 3, stats.Done)
	assert.Equal(t, 1, stats.Failed)
	assert.False(t, stats.Interrupted)

	recs, err := report.Read(cfg.Pipeline.OutputCSV)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	byID := map[string]report.Record{}
	for _, r := range recs {
		byID[r.InputID] = r
	}
	assert.Equal(t, "111", byID["A1"].ResolvedSiret)
	assert.Equal(t, "oracle failed", byID["A2"].Error)
	assert.Equal(t, model.MethodNotFound, byID["A3"].MatchMethod)
}

// Archive row shapes matching the SIRENE source column names, for
// building a registry fixture through the public builder.
type legalUnitFixture struct {
	Siren        string `parquet:"siren"`
	Denomination string `parquet:"denominationUniteLegale,optional"`
	State        string `parquet:"etatAdministratifUniteLegale,optional"`
}

type establishmentFixture struct {
	Siren        string `parquet:"siren"`
	Siret        string `parquet:"siret"`
	State        string `parquet:"etatAdministratifEtablissement,optional"`
	IsSiege      string `parquet:"etablissementSiege,optional"`
	StreetNumber string `parquet:"numeroVoieEtablissement,optional"`
	StreetType   string `parquet:"typeVoieEtablissement,optional"`
	StreetName   string `parquet:"libelleVoieEtablissement,optional"`
	Postal       string `parquet:"codePostalEtablissement,optional"`
	City         string `parquet:"libelleCommuneEtablissement,optional"`
}

func writeFixtureArchive[T any](t *testing.T, path string, rows []T) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	w := parquet.NewGenericWriter[T](f)
	_, err = w.Write(rows)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

func buildFixtureRegistry(t *testing.T) config.RegistryConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.RegistryConfig{
		SQLitePath:     filepath.Join(dir, "sirene.db"),
		CompanyParquet: filepath.Join(dir, "companies.parquet"),
		EstabParquet:   filepath.Join(dir, "estabs.parquet"),
		PartitionsDir:  filepath.Join(dir, "partitions"),
	}
	writeFixtureArchive(t, cfg.CompanyParquet, []legalUnitFixture{
		{Siren: "111111111", Denomination: "Carrefour Market", State: "A"},
		{Siren: "444444444", Denomination: "Atelier Martin", State: "A"},
	})
	writeFixtureArchive(t, cfg.EstabParquet, []establishmentFixture{
		{Siren: "111111111", Siret: "11111111100001", State: "A", IsSiege: "true",
			StreetNumber: "10", StreetType: "RUE", StreetName: "DE RIVOLI",
			Postal: "75001", City: "Paris"},
		{Siren: "444444444", Siret: "44444444400001", State: "A",
			StreetNumber: "5", StreetType: "AVENUE", StreetName: "BERTHELOT",
			Postal: "69003", City: "Lyon"},
	})
	_, err := sirene.Build(context.Background(), cfg, false)
	require.NoError(t, err)
	return cfg
}

// The resolved set must not depend on how the rows were spread over
// workers: same ids, same sirets, same methods at any pool size.
func TestRunResultsIndependentOfWorkerCount(t *testing.T) {
	registry := buildFixtureRegistry(t)

	supplierCSV := "Auxiliaire,Nom,Postal,Ville,Code SIRET\n" +
		"B1,Peu Importe,,,11111111100001\n" +
		"B2,Atelier Martin SARL,69003,Lyon,\n" +
		"B3,Carrefour Market,75001,Paris,\n" +
		"B4,Unknown Widgets,75001,Paris,\n" +
		"B5,Someone,,,\n"

	run := func(workers int) map[string][2]string {
		dir := t.TempDir()
		input := filepath.Join(dir, "suppliers.csv")
		require.NoError(t, os.WriteFile(input, []byte(supplierCSV), 0o644))
		cfg := &config.Config{
			Registry: registry,
			Pipeline: config.PipelineConfig{
				SupplierFile:   input,
				CheckpointPath: filepath.Join(dir, "state.sqlite"),
				OutputCSV:      filepath.Join(dir, "out.csv"),
				BatchSize:      2,
				GraceSecs:      1,
				Workers:        workers,
			},
			Oracle: config.OracleConfig{TimeoutSecs: 5},
		}

		stats, err := Run(context.Background(), cfg)
		require.NoError(t, err)
		require.Equal(t, 5, stats.Done)
		assert.Zero(t, stats.Failed)

		recs, err := report.Read(cfg.Pipeline.OutputCSV)
		require.NoError(t, err)
		out := make(map[string][2]string, len(recs))
		for _, r := range recs {
			out[r.InputID] = [2]string{r.ResolvedSiret, r.MatchMethod}
		}
		return out
	}

	single := run(1)
	pooled := run(4)
	assert.Equal(t, single, pooled)

	assert.Equal(t, [2]string{"11111111100001", model.MethodDirectID}, single["B1"])
	assert.Equal(t, [2]string{"44444444400001", model.MethodStrictLocal}, single["B2"])
}
