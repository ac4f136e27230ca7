// Package fetcher loads supplier tables from xlsx, csv, or parquet
// into sanitized rows. Identifier columns are forced to strings so
// Excel's numeric coercion cannot strip leading zeros.
package fetcher

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/groupe-vauban/sirene-cli/internal/model"
)

// Load reads the supplier table at path, dispatching on the file
// extension. Every returned row is sanitized and carries its source
// index under the "index" column.
func Load(path string) ([]model.Raw, error) {
	var (
		rows []model.Raw
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err = loadXLSX(path)
	case ".csv":
		rows, err = loadCSV(path)
	case ".parquet":
		rows, err = loadParquet(path)
	default:
		return nil, eris.New("fetcher: unsupported input format " + filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	for i, r := range rows {
		forceStrings(r)
		if _, ok := r[model.ColIndex]; !ok {
			r[model.ColIndex] = strconv.Itoa(i)
		}
		rows[i] = r.Sanitize()
	}
	zap.L().Info("supplier table loaded", zap.String("path", path), zap.Int("rows", len(rows)))
	return rows, nil
}

func forceStrings(r model.Raw) {
	for _, col := range model.StringColumns {
		if v, ok := r[col]; ok && v != nil {
			r[col] = r.String(col)
		}
	}
}

func loadXLSX(path string) ([]model.Raw, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("fetcher: xlsx has no sheets")
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, nil
	}

	header := make([]string, 0, len(sheet.Rows[0].Cells))
	for _, c := range sheet.Rows[0].Cells {
		header = append(header, strings.TrimSpace(c.String()))
	}

	out := make([]model.Raw, 0, len(sheet.Rows)-1)
	for _, row := range sheet.Rows[1:] {
		r := make(model.Raw, len(header))
		empty := true
		for i, col := range header {
			if col == "" || i >= len(row.Cells) {
				continue
			}
			v := strings.TrimSpace(row.Cells[i].String())
			if v != "" {
				empty = false
			}
			r[col] = v
		}
		if !empty {
			out = append(out, r)
		}
	}
	return out, nil
}

func loadCSV(path string) ([]model.Raw, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: open csv")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "fetcher: read csv header")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var out []model.Raw
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: read csv record")
		}
		r := make(model.Raw, len(header))
		for i, col := range header {
			if col == "" || i >= len(rec) {
				continue
			}
			r[col] = strings.TrimSpace(rec[i])
		}
		out = append(out, r)
	}
	return out, nil
}

// loadParquet reads a parquet table of unknown schema by converting
// leaf values through the file's column index.
func loadParquet(path string) ([]model.Raw, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: open parquet")
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: stat parquet")
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: read parquet footer")
	}

	cols := pf.Schema().Columns()
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col[len(col)-1]
	}

	var out []model.Raw
	buf := make([]parquet.Row, 256)
	for _, rg := range pf.RowGroups() {
		rows := rg.Rows()
		for {
			n, err := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				r := make(model.Raw, len(names))
				for _, v := range row {
					r[names[v.Column()]] = valueToAny(v)
				}
				out = append(out, r)
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				rows.Close()
				return nil, eris.Wrap(err, "fetcher: read parquet rows")
			}
		}
		if err := rows.Close(); err != nil {
			return nil, eris.Wrap(err, "fetcher: close parquet rows")
		}
	}
	return out, nil
}

func valueToAny(v parquet.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return int64(v.Int32())
	case parquet.Int64:
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	default:
		return v.String()
	}
}
