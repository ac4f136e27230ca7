package sirene

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/groupe-vauban/sirene-cli/internal/config"
)

const insertBatch = 5000

// BuildResult summarizes one registry build.
type BuildResult struct {
	Companies      int
	Establishments int
	Partitions     int
	Skipped        bool
}

// Build materializes the registry artifacts from the source archives:
// the companies_active table and its full-text index in sqlite, the
// establishment partition tree, and the meta sidecar. Existing
// artifacts are kept unless force is set.
func Build(ctx context.Context, cfg config.RegistryConfig, force bool) (*BuildResult, error) {
	if !force && artifactsExist(cfg) {
		zap.L().Info("registry artifacts present, skipping build",
			zap.String("sqlite", cfg.SQLitePath),
			zap.String("partitions", cfg.PartitionsDir))
		return &BuildResult{Skipped: true}, nil
	}
	if force {
		if err := os.Remove(cfg.SQLitePath); err != nil && !os.IsNotExist(err) {
			return nil, eris.Wrap(err, "sirene: remove old db")
		}
		if err := os.RemoveAll(cfg.PartitionsDir); err != nil {
			return nil, eris.Wrap(err, "sirene: remove old partitions")
		}
	}
	if err := os.MkdirAll(cfg.PartitionsDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "sirene: create partitions dir")
	}

	db, err := openBuildDB(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	res := &BuildResult{}
	started := time.Now()

	// In sample mode the establishment sample decides which legal
	// units the company table keeps, so it is read first.
	var sampleSirens map[string]struct{}
	var sampleRows []establishmentRow
	if cfg.SampleRowGroups > 0 {
		sampleSirens = make(map[string]struct{})
		err := scanParquet(ctx, cfg.EstabParquet, cfg.SampleRowGroups, func(r *establishmentRow) error {
			if !r.active() {
				return nil
			}
			sampleSirens[r.Siren] = struct{}{}
			sampleRows = append(sampleRows, *r)
			return nil
		})
		if err != nil {
			return nil, eris.Wrap(err, "sirene: sample establishments")
		}
		zap.L().Info("establishment sample loaded",
			zap.Int("rows", len(sampleRows)),
			zap.Int("sirens", len(sampleSirens)))
	}

	denominations, nCompanies, err := buildCompanies(ctx, db, cfg, sampleSirens)
	if err != nil {
		return nil, err
	}
	res.Companies = nCompanies

	nEstabs, nParts, err := buildPartitions(ctx, cfg, denominations, sampleRows)
	if err != nil {
		return nil, err
	}
	res.Establishments = nEstabs
	res.Partitions = nParts

	companyAbs, _ := filepath.Abs(cfg.CompanyParquet)
	estabAbs, _ := filepath.Abs(cfg.EstabParquet)
	rootAbs, _ := filepath.Abs(cfg.PartitionsDir)
	if err := writeMeta(cfg.PartitionsDir, Meta{
		CompanyArchive:       companyAbs,
		EstablishmentArchive: estabAbs,
		PartitionRoot:        rootAbs,
		CreatedAtEpoch:       time.Now().Unix(),
		SampleRowGroups:      cfg.SampleRowGroups,
	}); err != nil {
		return nil, err
	}

	zap.L().Info("registry build complete",
		zap.Int("companies", res.Companies),
		zap.Int("establishments", res.Establishments),
		zap.Int("partitions", res.Partitions),
		zap.Duration("elapsed", time.Since(started)))
	return res, nil
}

func artifactsExist(cfg config.RegistryConfig) bool {
	if _, err := os.Stat(cfg.SQLitePath); err != nil {
		return false
	}
	if _, err := os.Stat(metaPath(cfg.PartitionsDir)); err != nil {
		return false
	}
	return true
}

func openBuildDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(30000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sirene: open build db")
	}
	schema := `
CREATE TABLE IF NOT EXISTS companies_active (
    siren                TEXT PRIMARY KEY,
    denomination         TEXT NOT NULL,
    principal_activity   TEXT,
    administrative_state TEXT
);
CREATE VIRTUAL TABLE IF NOT EXISTS companies_fts USING fts5(
    denomination,
    siren UNINDEXED
);
DELETE FROM companies_active;
DELETE FROM companies_fts;`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sirene: create schema")
	}
	return db, nil
}

// buildCompanies streams the legal-unit archive into companies_active,
// keeping active units with a non-blank denomination, uppercased. The
// returned map joins denominations during partition emission.
func buildCompanies(ctx context.Context, db *sql.DB, cfg config.RegistryConfig, sampleSirens map[string]struct{}) (map[string]string, int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sirene: begin companies tx")
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO companies_active (siren, denomination, principal_activity, administrative_state)
		 VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return nil, 0, eris.Wrap(err, "sirene: prepare companies insert")
	}

	denominations := make(map[string]string)
	n := 0
	err = scanParquet(ctx, cfg.CompanyParquet, cfg.SampleRowGroups, func(r *companyRow) error {
		if !r.active() {
			return nil
		}
		if sampleSirens != nil {
			if _, ok := sampleSirens[r.Siren]; !ok {
				return nil
			}
		}
		denom := strings.ToUpper(strings.TrimSpace(r.Denomination))
		if _, err := stmt.ExecContext(ctx, r.Siren, denom, r.Activity, r.State); err != nil {
			return eris.Wrap(err, "sirene: insert company")
		}
		denominations[r.Siren] = denom
		n++
		if n%insertBatch == 0 {
			if err := tx.Commit(); err != nil {
				return eris.Wrap(err, "sirene: commit companies batch")
			}
			if tx, err = db.BeginTx(ctx, nil); err != nil {
				return eris.Wrap(err, "sirene: begin companies tx")
			}
			if stmt, err = tx.PrepareContext(ctx,
				`INSERT OR REPLACE INTO companies_active (siren, denomination, principal_activity, administrative_state)
				 VALUES (?, ?, ?, ?)`); err != nil {
				return eris.Wrap(err, "sirene: prepare companies insert")
			}
		}
		return nil
	})
	if err != nil {
		tx.Rollback()
		return nil, 0, err
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, eris.Wrap(err, "sirene: commit companies")
	}

	if _, err := db.ExecContext(ctx,
		`INSERT INTO companies_fts (denomination, siren)
		 SELECT denomination, siren FROM companies_active`); err != nil {
		return nil, 0, eris.Wrap(err, "sirene: populate fts")
	}

	zap.L().Info("companies table built", zap.Int("rows", n))
	return denominations, n, nil
}

// partWriter wraps one open partition file.
type partWriter struct {
	f *os.File
	w *parquet.GenericWriter[partitionRow]
}

// buildPartitions emits the establishment partition tree. Rows whose
// legal unit is not in companies_active are dropped; they could never
// match, having no denomination to score against. Rows whose postal
// code lacks a two-digit numeric prefix are dropped too.
func buildPartitions(ctx context.Context, cfg config.RegistryConfig, denominations map[string]string, sampleRows []establishmentRow) (int, int, error) {
	writers := make(map[string]*partWriter)
	n := 0

	emit := func(r *establishmentRow) error {
		if !r.active() {
			return nil
		}
		denom, ok := denominations[r.Siren]
		if !ok {
			return nil
		}
		prefix := regionPrefix(r.Postal)
		if prefix == "" {
			return nil
		}
		pw, ok := writers[prefix]
		if !ok {
			dir := filepath.Join(cfg.PartitionsDir, "etablissements", "region_prefix="+prefix)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return eris.Wrap(err, "sirene: create partition dir")
			}
			f, err := os.Create(filepath.Join(dir, "part-0.parquet"))
			if err != nil {
				return eris.Wrap(err, "sirene: create partition file")
			}
			pw = &partWriter{f: f, w: parquet.NewGenericWriter[partitionRow](f)}
			writers[prefix] = pw
		}
		if _, err := pw.w.Write([]partitionRow{{
			Siret:        r.Siret,
			Siren:        r.Siren,
			OfficialName: denom,
			Address:      r.address(),
			Postal:       strings.TrimSpace(r.Postal),
			City:         strings.ToUpper(strings.TrimSpace(r.City)),
			IsHeadOffice: r.headOffice(),
		}}); err != nil {
			return eris.Wrap(err, "sirene: write partition row")
		}
		n++
		return nil
	}

	var err error
	if sampleRows != nil {
		for i := range sampleRows {
			if err = ctx.Err(); err != nil {
				break
			}
			if err = emit(&sampleRows[i]); err != nil {
				break
			}
		}
	} else {
		err = scanParquet(ctx, cfg.EstabParquet, 0, emit)
	}

	for _, pw := range writers {
		if cerr := pw.w.Close(); cerr != nil && err == nil {
			err = eris.Wrap(cerr, "sirene: close partition writer")
		}
		if cerr := pw.f.Close(); cerr != nil && err == nil {
			err = eris.Wrap(cerr, "sirene: close partition file")
		}
	}
	if err != nil {
		return 0, 0, err
	}

	zap.L().Info("partition tree built",
		zap.Int("rows", n), zap.Int("partitions", len(writers)))
	return n, len(writers), nil
}
