package sirene

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupe-vauban/sirene-cli/internal/config"
)

func TestQuoteFTS(t *testing.T) {
	assert.Equal(t, `"CARREFOUR"`, quoteFTS("CARREFOUR"))
	assert.Equal(t, `"A""B"`, quoteFTS(`A"B`))
	assert.Equal(t, `"NEAR OR"`, quoteFTS("NEAR OR"), "query syntax is neutralized")
}

func TestRegionPrefix(t *testing.T) {
	assert.Equal(t, "75", regionPrefix("75001"))
	assert.Equal(t, "69", regionPrefix(" 69003 "))
	assert.Equal(t, "", regionPrefix(""))
	assert.Equal(t, "", regionPrefix("X1000"))
}

func writeArchive[T any](t *testing.T, path string, rows []T) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	w := parquet.NewGenericWriter[T](f)
	_, err = w.Write(rows)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

func testRegistry(t *testing.T) config.RegistryConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.RegistryConfig{
		SQLitePath:     filepath.Join(dir, "sirene.db"),
		CompanyParquet: filepath.Join(dir, "companies.parquet"),
		EstabParquet:   filepath.Join(dir, "estabs.parquet"),
		PartitionsDir:  filepath.Join(dir, "partitions"),
	}

	writeArchive(t, cfg.CompanyParquet, []companyRow{
		{Siren: "111111111", Denomination: "Carrefour Market", Activity: "4711D", State: "A"},
		{Siren: "222222222", Denomination: "", State: "A"},
		{Siren: "333333333", Denomination: "Closed Corp", State: "C"},
		{Siren: "444444444", Denomination: "Atelier Martin", Activity: "9524Z", State: "A"},
	})
	writeArchive(t, cfg.EstabParquet, []establishmentRow{
		{Siren: "111111111", Siret: "11111111100001", State: "A", IsSiege: "true",
			StreetNumber: "10", StreetType: "Rue", StreetName: "de Rivoli",
			Complement: "Batiment B", Distribution: "CEDEX 01",
			Postal: "75001", City: "Paris"},
		{Siren: "111111111", Siret: "11111111100002", State: "F",
			Postal: "75002", City: "Paris"},
		{Siren: "444444444", Siret: "44444444400001", State: "A",
			StreetNumber: "5", StreetType: "AVENUE", StreetName: "BERTHELOT",
			Postal: "69003", City: "Lyon"},
		{Siren: "333333333", Siret: "33333333300001", State: "A",
			Postal: "13001", City: "Marseille"},
	})
	return cfg
}

func TestBuildAndQuery(t *testing.T) {
	ctx := context.Background()
	cfg := testRegistry(t)

	res, err := Build(ctx, cfg, false)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 2, res.Companies, "blank denominations and inactive units are dropped")
	assert.Equal(t, 2, res.Establishments, "inactive and denomination-less rows are dropped")
	assert.Equal(t, 2, res.Partitions)

	// Idempotent without force.
	res, err = Build(ctx, cfg, false)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	store, err := Open(cfg)
	require.NoError(t, err)
	defer store.Close()

	t.Run("direct lookup", func(t *testing.T) {
		hit, err := store.DirectLookup(ctx, "11111111100001")
		require.NoError(t, err)
		require.NotNil(t, hit)
		assert.Equal(t, "CARREFOUR MARKET", hit.OfficialName)
		assert.Equal(t, "10 RUE DE RIVOLI BATIMENT B CEDEX 01", hit.Address,
			"complement and distribution join the line, uppercased")
		assert.True(t, hit.IsHeadOffice)
		assert.Equal(t, "75", hit.RegionPrefix)
	})

	t.Run("direct lookup skips inactive establishments", func(t *testing.T) {
		hit, err := store.DirectLookup(ctx, "11111111100002")
		require.NoError(t, err)
		assert.Nil(t, hit)
	})

	t.Run("direct lookup requires an active legal unit", func(t *testing.T) {
		hit, err := store.DirectLookup(ctx, "33333333300001")
		require.NoError(t, err)
		assert.Nil(t, hit)
	})

	t.Run("strict local", func(t *testing.T) {
		hits, err := store.StrictLocalLookup(ctx, "69003", "ATELIER MARTIN")
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "44444444400001", hits[0].Siret)

		// One typo stays within the edit-distance bound.
		hits, err = store.StrictLocalLookup(ctx, "69003", "ATELIER MARTAN")
		require.NoError(t, err)
		assert.Len(t, hits, 1)

		hits, err = store.StrictLocalLookup(ctx, "69003", "SOMETHING ELSE")
		require.NoError(t, err)
		assert.Empty(t, hits)

		hits, err = store.StrictLocalLookup(ctx, "75001", "ATELIER MARTIN")
		require.NoError(t, err)
		assert.Empty(t, hits, "wrong partition")
	})

	t.Run("fts candidates ranked ascending", func(t *testing.T) {
		cands, err := store.FTSCandidates(ctx, "CARREFOUR", 20)
		require.NoError(t, err)
		require.Len(t, cands, 1)
		assert.Equal(t, "111111111", cands[0].Siren)
		assert.Less(t, cands[0].Score, 0.0, "bm25 is negative, lower is better")
	})

	t.Run("fetch by sirens within region", func(t *testing.T) {
		out, err := store.FetchBySirens(ctx, "75", []string{"111111111"})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "11111111100001", out[0].Siret)
	})

	t.Run("fetch by sirens nationwide", func(t *testing.T) {
		out, err := store.FetchBySirens(ctx, "", []string{"111111111", "444444444"})
		require.NoError(t, err)
		assert.Len(t, out, 2)
	})

	t.Run("fetch with no sirens", func(t *testing.T) {
		out, err := store.FetchBySirens(ctx, "75", nil)
		require.NoError(t, err)
		assert.Empty(t, out)
	})
}

func TestBuildSampleRowGroups(t *testing.T) {
	ctx := context.Background()
	cfg := testRegistry(t)
	cfg.SampleRowGroups = 1

	res, err := Build(ctx, cfg, false)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	// A single writer call produces one row group holding every test
	// row, so the sample covers the full fixture.
	assert.Equal(t, 2, res.Establishments)
	assert.Equal(t, 2, res.Companies)

	meta, err := readMeta(cfg.PartitionsDir)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.SampleRowGroups)
	assert.NotZero(t, meta.CreatedAtEpoch)
}

// Establishments without a two-digit numeric postal prefix stay out of
// the partition tree entirely; there is no catch-all bucket for them.
func TestBuildSkipsUnpartitionablePostals(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.RegistryConfig{
		SQLitePath:     filepath.Join(dir, "sirene.db"),
		CompanyParquet: filepath.Join(dir, "companies.parquet"),
		EstabParquet:   filepath.Join(dir, "estabs.parquet"),
		PartitionsDir:  filepath.Join(dir, "partitions"),
	}
	writeArchive(t, cfg.CompanyParquet, []companyRow{
		{Siren: "111111111", Denomination: "Carrefour Market", State: "A"},
	})
	writeArchive(t, cfg.EstabParquet, []establishmentRow{
		{Siren: "111111111", Siret: "11111111100001", State: "A", Postal: "75001", City: "Paris"},
		{Siren: "111111111", Siret: "11111111100002", State: "A", Postal: "", City: "Paris"},
		{Siren: "111111111", Siret: "11111111100003", State: "A", Postal: "X1000", City: "Paris"},
	})

	res, err := Build(ctx, cfg, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Establishments)
	assert.Equal(t, 1, res.Partitions)

	_, err = os.Stat(filepath.Join(cfg.PartitionsDir, "etablissements", "region_prefix=00"))
	assert.True(t, os.IsNotExist(err), "no catch-all partition directory")
	_, err = os.Stat(filepath.Join(cfg.PartitionsDir, "etablissements", "region_prefix=75"))
	assert.NoError(t, err)
}
