package fetcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/groupe-vauban/sirene-cli/internal/model"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "suppliers.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCSV(t *testing.T) {
	path := writeCSV(t, "Auxiliaire,Nom,Postal,Ville\nA1,Carrefour SAS,75001,Paris\nA2,Atelier Martin,69003,Lyon\n")

	rows, err := Load(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "A1", rows[0].InputID())
	assert.Equal(t, "Carrefour SAS", rows[0].String(model.ColName))
	assert.Equal(t, "75001", rows[0].String(model.ColPostal))
	assert.Equal(t, "0", rows[0].String(model.ColIndex))
	assert.Equal(t, "1", rows[1].String(model.ColIndex))
}

func TestLoadCSVIndexFallback(t *testing.T) {
	path := writeCSV(t, "Nom,Ville\nSans Identifiant,Paris\n")

	rows, err := Load(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "0", rows[0].InputID(), "row index is the id of last resort")
}

func TestLoadXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suppliers.xlsx")

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Feuil1")
	require.NoError(t, err)
	header := sheet.AddRow()
	for _, h := range []string{"Auxiliaire", "Nom", "Postal"} {
		header.AddCell().SetString(h)
	}
	row := sheet.AddRow()
	row.AddCell().SetString("A1")
	row.AddCell().SetString("Boulangerie Petit")
	row.AddCell().SetInt(7500)
	require.NoError(t, f.Save(path))

	rows, err := Load(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, "A1", rows[0].InputID())
	assert.Equal(t, "Boulangerie Petit", rows[0].String(model.ColName))
	// Forced string column: numeric cell comes back as text.
	assert.Equal(t, "7500", rows[0].String(model.ColPostal))
}

func TestLoadUnsupportedExtension(t *testing.T) {
	_, err := Load("suppliers.json")
	assert.Error(t, err)
}
