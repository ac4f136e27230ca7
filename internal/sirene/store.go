// Package sirene builds and serves the national registry store: a
// sqlite companies table with a full-text index over denominations,
// plus an establishment partition tree keyed by the two-digit postal
// prefix. The store is read-only; the builder writes the artifacts.
package sirene

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/groupe-vauban/sirene-cli/internal/config"
	"github.com/groupe-vauban/sirene-cli/internal/model"
)

// strictNameDistance is the inclusive Levenshtein bound for the strict
// local lookup.
const strictNameDistance = 3

// Store is a read-only handle over the registry artifacts. Handles are
// cheap; open one per worker rather than sharing.
type Store struct {
	db   *sql.DB
	cfg  config.RegistryConfig
	meta Meta
}

// Open opens the registry read-only. The meta sidecar is optional; when
// missing, archive paths fall back to the configured ones.
func Open(cfg config.RegistryConfig) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(30000)", cfg.SQLitePath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sirene: open registry db")
	}

	meta, err := readMeta(cfg.PartitionsDir)
	if err != nil {
		meta = Meta{
			CompanyArchive:       cfg.CompanyParquet,
			EstablishmentArchive: cfg.EstabParquet,
			PartitionRoot:        cfg.PartitionsDir,
			SampleRowGroups:      cfg.SampleRowGroups,
		}
	}

	return &Store{db: db, cfg: cfg, meta: meta}, nil
}

// Close releases the sqlite handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DirectLookup verifies a 14-digit siret against the establishment
// source archive. It returns the first active establishment carrying
// the siret whose legal unit is present in companies_active, or nil.
func (s *Store) DirectLookup(ctx context.Context, siret string) (*model.Establishment, error) {
	var hit *establishmentRow
	err := scanParquet(ctx, s.meta.EstablishmentArchive, s.meta.SampleRowGroups, func(r *establishmentRow) error {
		if r.Siret == siret && r.active() {
			cp := *r
			hit = &cp
			return errStopScan
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "sirene: direct lookup scan")
	}
	if hit == nil {
		return nil, nil
	}

	var denomination string
	row := s.db.QueryRowContext(ctx,
		`SELECT denomination FROM companies_active WHERE siren = ?`, hit.Siren)
	if err := row.Scan(&denomination); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sirene: direct lookup denomination")
	}

	return &model.Establishment{
		Siret:        hit.Siret,
		Siren:        hit.Siren,
		OfficialName: denomination,
		City:         hit.City,
		Address:      hit.address(),
		IsHeadOffice: hit.headOffice(),
		RegionPrefix: regionPrefix(hit.Postal),
	}, nil
}

// StrictLocalLookup returns the establishments of the postal code's
// region partition whose postal code matches exactly and whose
// denomination is within a small edit distance of the cleaned name.
func (s *Store) StrictLocalLookup(ctx context.Context, postal, cleanName string) ([]model.Establishment, error) {
	if len(postal) < 2 {
		return nil, nil
	}
	name := normUpper(cleanName)

	var out []model.Establishment
	err := s.scanPartition(ctx, postal[:2], func(p *partitionRow) error {
		if p.Postal != postal {
			return nil
		}
		if levenshtein.ComputeDistance(normUpper(p.OfficialName), name) > strictNameDistance {
			return nil
		}
		out = append(out, toEstablishment(p))
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "sirene: strict local scan")
	}
	return out, nil
}

// FTSCandidates queries the denomination full-text index. BM25 scores
// are negative and ascending order puts the best match first.
func (s *Store) FTSCandidates(ctx context.Context, token string, limit int) ([]model.FTSCandidate, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT siren, denomination, bm25(companies_fts) AS score
		 FROM companies_fts
		 WHERE companies_fts MATCH ?
		 ORDER BY score ASC
		 LIMIT ?`, quoteFTS(token), limit)
	if err != nil {
		return nil, eris.Wrap(err, "sirene: fts query")
	}
	defer rows.Close()

	var out []model.FTSCandidate
	for rows.Next() {
		var c model.FTSCandidate
		if err := rows.Scan(&c.Siren, &c.Denomination, &c.Score); err != nil {
			return nil, eris.Wrap(err, "sirene: fts scan")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sirene: fts rows")
	}
	return out, nil
}

// FetchBySirens loads the establishments of the given legal units,
// from one region partition when region is non-empty, otherwise from
// the full source archive.
func (s *Store) FetchBySirens(ctx context.Context, region string, sirens []string) ([]model.Establishment, error) {
	if len(sirens) == 0 {
		return nil, nil
	}
	want := make(map[string]struct{}, len(sirens))
	for _, s := range sirens {
		want[s] = struct{}{}
	}

	if region != "" {
		var out []model.Establishment
		err := s.scanPartition(ctx, region, func(p *partitionRow) error {
			if _, ok := want[p.Siren]; ok {
				out = append(out, toEstablishment(p))
			}
			return nil
		})
		if err != nil {
			return nil, eris.Wrap(err, "sirene: partition fetch")
		}
		return out, nil
	}

	// Nationwide: the archive carries no denominations, so join them
	// from companies_active afterwards.
	var hits []establishmentRow
	err := scanParquet(ctx, s.meta.EstablishmentArchive, s.meta.SampleRowGroups, func(r *establishmentRow) error {
		if _, ok := want[r.Siren]; ok && r.active() {
			hits = append(hits, *r)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "sirene: archive fetch")
	}
	if len(hits) == 0 {
		return nil, nil
	}

	names, err := s.denominations(ctx, sirens)
	if err != nil {
		return nil, err
	}

	out := make([]model.Establishment, 0, len(hits))
	for _, h := range hits {
		name, ok := names[h.Siren]
		if !ok {
			continue
		}
		out = append(out, model.Establishment{
			Siret:        h.Siret,
			Siren:        h.Siren,
			OfficialName: name,
			City:         h.City,
			Address:      h.address(),
			IsHeadOffice: h.headOffice(),
			RegionPrefix: regionPrefix(h.Postal),
		})
	}
	return out, nil
}

func (s *Store) denominations(ctx context.Context, sirens []string) (map[string]string, error) {
	placeholders := strings.Repeat("?,", len(sirens))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(sirens))
	for i, v := range sirens {
		args[i] = v
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT siren, denomination FROM companies_active WHERE siren IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sirene: denominations query")
	}
	defer rows.Close()

	out := make(map[string]string, len(sirens))
	for rows.Next() {
		var siren, denom string
		if err := rows.Scan(&siren, &denom); err != nil {
			return nil, eris.Wrap(err, "sirene: denominations scan")
		}
		out[siren] = denom
	}
	return out, rows.Err()
}

// scanPartition streams every parquet file of one region partition.
func (s *Store) scanPartition(ctx context.Context, prefix string, fn func(*partitionRow) error) error {
	pattern := filepath.Join(s.meta.PartitionRoot, "etablissements", "region_prefix="+prefix, "*.parquet")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return eris.Wrap(err, "sirene: glob partition")
	}
	for _, f := range files {
		if err := scanParquet(ctx, f, 0, fn); err != nil {
			return err
		}
	}
	return nil
}

func toEstablishment(p *partitionRow) model.Establishment {
	return model.Establishment{
		Siret:        p.Siret,
		Siren:        p.Siren,
		OfficialName: p.OfficialName,
		City:         p.City,
		Address:      p.Address,
		IsHeadOffice: p.IsHeadOffice,
		RegionPrefix: regionPrefix(p.Postal),
	}
}

// quoteFTS wraps the token in FTS5 string-literal quotes so user input
// cannot inject query syntax.
func quoteFTS(token string) string {
	return `"` + strings.ReplaceAll(token, `"`, `""`) + `"`
}

// regionPrefix derives the partition key from a raw postal code. The
// empty result marks a postal code that cannot be partitioned; such
// establishments are excluded from the tree.
func regionPrefix(postal string) string {
	p := strings.TrimSpace(postal)
	if len(p) >= 2 && isDigits(p[:2]) {
		return p[:2]
	}
	return ""
}

func normUpper(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
