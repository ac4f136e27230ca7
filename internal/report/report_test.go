package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupe-vauban/sirene-cli/internal/checkpoint"
)

func TestFromCheckpoint(t *testing.T) {
	rows := []checkpoint.Row{
		{
			InputID:       "A1",
			ResolvedSiret: "12345678901234",
			OfficialName:  "ACME",
			Confidence:    0.95,
			Method:        "STRICT_LOCAL",
			Alternatives:  []string{"99999999900011"},
		},
		{InputID: "A2", Error: "registry unavailable"},
		{InputID: "A3", Method: "NOT_FOUND", Alternatives: nil},
	}

	recs := FromCheckpoint(rows)
	require.Len(t, recs, 3)

	assert.Equal(t, "0.95", recs[0].Confidence)
	assert.Equal(t, `["99999999900011"]`, recs[0].Alternatives)
	assert.Empty(t, recs[0].FoundWebsite, "web-search columns stay empty for matcher rows")
	assert.Empty(t, recs[0].Error)

	assert.Equal(t, "registry unavailable", recs[1].Error)
	assert.Empty(t, recs[1].ResolvedSiret)
	assert.Empty(t, recs[1].MatchMethod)

	assert.Equal(t, "[]", recs[2].Alternatives, "nil alternatives encode as empty array")
}

func TestWriteHeaderOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, Write(path, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	header := strings.SplitN(string(data), "\n", 2)[0]
	assert.Equal(t,
		"input_id,resolved_siret,official_name,confidence_score,match_method,alternatives,"+
			"found_website,found_address,found_phone,found_email,country,city,postal_code,search_method,error",
		strings.TrimRight(header, "\r"))
}

func TestWriteReadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	in := []Record{
		{InputID: "A1", ResolvedSiret: "111", MatchMethod: "CALCULATED", Confidence: "0.9", Alternatives: "[]"},
		{InputID: "B1", MatchMethod: "WEB_SEARCH", FoundWebsite: "https://example.ch", Country: "SUISSE"},
	}
	require.NoError(t, Write(path, in))

	out, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestMergeSkipsMissingInputs(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.csv")
	out := filepath.Join(dir, "merged.csv")
	require.NoError(t, Write(a, []Record{{InputID: "A1"}, {InputID: "A2"}}))

	n, err := Merge(out, a, filepath.Join(dir, "missing.csv"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recs, err := Read(out)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}
