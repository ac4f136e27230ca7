package sirene

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/rotisserie/eris"
)

// companyRow mirrors the columns we consume from the legal-unit source
// archive (StockUniteLegale). Most columns are nullable in the source.
type companyRow struct {
	Siren        string `parquet:"siren"`
	Denomination string `parquet:"denominationUniteLegale,optional"`
	Activity     string `parquet:"activitePrincipaleUniteLegale,optional"`
	State        string `parquet:"etatAdministratifUniteLegale,optional"`
}

// establishmentRow mirrors the columns we consume from the
// establishment source archive (StockEtablissement).
type establishmentRow struct {
	Siren        string `parquet:"siren"`
	Siret        string `parquet:"siret"`
	State        string `parquet:"etatAdministratifEtablissement,optional"`
	IsSiege      string `parquet:"etablissementSiege,optional"`
	StreetNumber string `parquet:"numeroVoieEtablissement,optional"`
	StreetType   string `parquet:"typeVoieEtablissement,optional"`
	StreetName   string `parquet:"libelleVoieEtablissement,optional"`
	Complement   string `parquet:"complementAdresseEtablissement,optional"`
	Distribution string `parquet:"distributionSpecialeEtablissement,optional"`
	Postal       string `parquet:"codePostalEtablissement,optional"`
	City         string `parquet:"libelleCommuneEtablissement,optional"`
}

const activeState = "A"

func (r *companyRow) active() bool {
	return r.State == activeState && strings.TrimSpace(r.Denomination) != ""
}

func (r *establishmentRow) active() bool {
	return r.State == activeState
}

// headOffice parses the source's stringly boolean.
func (r *establishmentRow) headOffice() bool {
	return strings.EqualFold(strings.TrimSpace(r.IsSiege), "true")
}

// address joins the address components into one uppercased line, in
// source order: number, way type, way name, complement, distribution.
func (r *establishmentRow) address() string {
	parts := make([]string, 0, 5)
	for _, p := range []string{r.StreetNumber, r.StreetType, r.StreetName, r.Complement, r.Distribution} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.ToUpper(strings.Join(parts, " "))
}

// partitionRow is the on-disk schema of the establishment partition
// tree. Denomination is pre-joined so partition scans need no lookups.
type partitionRow struct {
	Siret        string `parquet:"siret,zstd"`
	Siren        string `parquet:"siren,zstd"`
	OfficialName string `parquet:"official_name,zstd"`
	Address      string `parquet:"address,zstd"`
	Postal       string `parquet:"postal_code,zstd"`
	City         string `parquet:"city,zstd"`
	IsHeadOffice bool   `parquet:"is_siege"`
}

// errStopScan aborts a scan early without signalling failure.
var errStopScan = errors.New("stop scan")

const scanBatch = 1024

// scanParquet streams the rows of one parquet file through fn, reading
// at most the first sampleRowGroups row groups when that is positive.
// fn may return errStopScan to end the scan successfully.
func scanParquet[T any](ctx context.Context, path string, sampleRowGroups int, fn func(*T) error) error {
	f, err := os.Open(path)
	if err != nil {
		return eris.Wrap(err, "sirene: open parquet")
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return eris.Wrap(err, "sirene: stat parquet")
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return eris.Wrap(err, "sirene: read parquet footer")
	}

	groups := pf.RowGroups()
	if sampleRowGroups > 0 && sampleRowGroups < len(groups) {
		groups = groups[:sampleRowGroups]
	}

	buf := make([]T, scanBatch)
	for _, rg := range groups {
		r := parquet.NewGenericRowGroupReader[T](rg)
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := r.Read(buf)
			for i := 0; i < n; i++ {
				if ferr := fn(&buf[i]); ferr != nil {
					if errors.Is(ferr, errStopScan) {
						return nil
					}
					return ferr
				}
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return eris.Wrap(err, "sirene: read parquet rows")
			}
		}
	}
	return nil
}
