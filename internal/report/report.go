// Package report renders resolution outcomes onto the unified CSV
// schema shared by the matcher and web-search branches.
package report

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"strconv"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/groupe-vauban/sirene-cli/internal/checkpoint"
)

// Record is one output row. Field order fixes the column order; both
// pipeline branches write this schema so their outputs concatenate.
type Record struct {
	InputID       string `csv:"input_id"`
	ResolvedSiret string `csv:"resolved_siret"`
	OfficialName  string `csv:"official_name"`
	Confidence    string `csv:"confidence_score"`
	MatchMethod   string `csv:"match_method"`
	Alternatives  string `csv:"alternatives"`
	FoundWebsite  string `csv:"found_website"`
	FoundAddress  string `csv:"found_address"`
	FoundPhone    string `csv:"found_phone"`
	FoundEmail    string `csv:"found_email"`
	Country       string `csv:"country"`
	City          string `csv:"city"`
	PostalCode    string `csv:"postal_code"`
	SearchMethod  string `csv:"search_method"`
	Error         string `csv:"error"`
}

// FromCheckpoint converts persisted matcher outcomes into records. The
// web-search columns stay empty; error rows carry only the id and the
// error text.
func FromCheckpoint(rows []checkpoint.Row) []Record {
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		rec := Record{InputID: r.InputID}
		if r.Error != "" {
			rec.Error = r.Error
			out = append(out, rec)
			continue
		}
		rec.ResolvedSiret = r.ResolvedSiret
		rec.OfficialName = r.OfficialName
		rec.Confidence = strconv.FormatFloat(r.Confidence, 'f', -1, 64)
		rec.MatchMethod = r.Method
		rec.Alternatives = marshalAlternatives(r.Alternatives)
		out = append(out, rec)
	}
	return out
}

func marshalAlternatives(alts []string) string {
	if alts == nil {
		alts = []string{}
	}
	b, _ := json.Marshal(alts)
	return string(b)
}

// Write encodes records to path, header included even when empty.
func Write(path string, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "report: create output")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	enc := csvutil.NewEncoder(w)
	if len(records) == 0 {
		if err := enc.EncodeHeader(Record{}); err != nil {
			return eris.Wrap(err, "report: encode header")
		}
	}
	for i := range records {
		if err := enc.Encode(records[i]); err != nil {
			return eris.Wrap(err, "report: encode record")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrap(err, "report: flush output")
	}
	return nil
}

// Read decodes a previously written report.
func Read(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "report: open input")
	}
	defer f.Close()

	dec, err := csvutil.NewDecoder(csv.NewReader(f))
	if err != nil {
		return nil, eris.Wrap(err, "report: decode header")
	}
	var out []Record
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return nil, eris.Wrap(err, "report: decode record")
		}
		out = append(out, rec)
	}
	return out, nil
}

// Merge concatenates the records of several reports into one file,
// preserving input order. Missing inputs are skipped so a unified run
// with a disabled branch still merges.
func Merge(outPath string, inputs ...string) (int, error) {
	var all []Record
	for _, in := range inputs {
		if _, err := os.Stat(in); err != nil {
			continue
		}
		recs, err := Read(in)
		if err != nil {
			return 0, err
		}
		all = append(all, recs...)
	}
	if err := Write(outPath, all); err != nil {
		return 0, err
	}
	return len(all), nil
}
