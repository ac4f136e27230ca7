// Package checkpoint persists per-row resolution outcomes so an
// interrupted run resumes where it stopped. One sqlite row per input
// id; a success is never demoted by a later error.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/groupe-vauban/sirene-cli/internal/model"
)

const (
	commitRetries      = 6
	commitBackoffStep  = 500 * time.Millisecond
	busyTimeoutSeconds = 30
)

// Row is one persisted outcome.
type Row struct {
	InputID       string
	ResolvedSiret string
	OfficialName  string
	Confidence    float64
	Method        string
	Alternatives  []string
	Error         string
	UpdatedAt     int64
}

// pendingWrite is one buffered upsert. Writes accumulate in memory
// until Commit so a contended commit can be retried, or replayed onto
// a relocated store, without losing the batch.
type pendingWrite struct {
	inputID          string
	result           bool
	siret            string
	name             string
	confidence       float64
	method           string
	alternativesJSON string
	errMsg           string
}

// Store wraps the checkpoint database. The store is not safe for
// concurrent use and belongs to the driver goroutine only.
type Store struct {
	db      *sql.DB
	path    string
	pending []pendingWrite
}

const schema = `
CREATE TABLE IF NOT EXISTS results (
    input_id          TEXT PRIMARY KEY,
    resolved_siret    TEXT,
    official_name     TEXT,
    confidence_score  REAL,
    match_method      TEXT,
    alternatives_json TEXT,
    error             TEXT,
    updated_at_epoch  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_error ON results(error);`

// Open opens (or creates) the checkpoint at path. When the file is held
// by an exclusive lock that does not clear within the busy timeout, the
// store relocates to a fresh file under the temp directory rather than
// failing the run.
func Open(path string) (*Store, error) {
	s, err := open(path)
	if err == nil {
		return s, nil
	}
	if !isLocked(err) {
		return nil, err
	}

	alt := tempPath()
	zap.L().Warn("checkpoint locked, relocating",
		zap.String("path", path), zap.String("fallback", alt), zap.Error(err))
	return open(alt)
}

func open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, busyTimeoutSeconds*1000)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: open db")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "checkpoint: create schema")
	}
	return &Store{db: db, path: path}, nil
}

func tempPath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("sirene_checkpoint_%s.sqlite", uuid.NewString()[:8]))
}

func isLocked(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// Path returns the actual database location, which may differ from the
// configured one after a lock relocation.
func (s *Store) Path() string { return s.path }

// Close flushes pending writes and closes the database.
func (s *Store) Close() error {
	if err := s.Commit(); err != nil {
		zap.L().Error("checkpoint flush on close failed", zap.Error(err))
	}
	return s.db.Close()
}

// ProcessedIDs returns the input ids already resolved. When
// includeErrors is false, rows holding an error are left out so they
// get retried.
func (s *Store) ProcessedIDs(ctx context.Context, includeErrors bool) (map[string]struct{}, error) {
	q := `SELECT input_id FROM results`
	if !includeErrors {
		q += ` WHERE error IS NULL`
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: query processed ids")
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "checkpoint: scan processed id")
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// UpsertResult buffers a successful resolution; any previous error for
// the id is cleared when the batch commits.
func (s *Store) UpsertResult(res model.MatchResult) error {
	alts, err := json.Marshal(res.Alternatives)
	if err != nil {
		return eris.Wrap(err, "checkpoint: marshal alternatives")
	}
	s.pending = append(s.pending, pendingWrite{
		inputID:          res.InputID,
		result:           true,
		siret:            res.ResolvedSiret,
		name:             res.OfficialName,
		confidence:       res.Confidence,
		method:           res.Method,
		alternativesJSON: string(alts),
	})
	return nil
}

// UpsertError buffers a failed resolution. At commit time the
// conditional update keeps an earlier success intact: only rows
// already in error state are overwritten.
func (s *Store) UpsertError(inputID, msg string) error {
	s.pending = append(s.pending, pendingWrite{inputID: inputID, errMsg: msg})
	return nil
}

// Commit applies the buffered writes in one transaction. Each retry
// attempt opens a fresh transaction; sql.Tx is spent after its first
// Commit call whatever the result, so the old one can never be
// re-committed. On persistent contention the store relocates to a
// temp-dir file and replays the batch there.
func (s *Store) Commit() error {
	if len(s.pending) == 0 {
		return nil
	}
	var err error
	for attempt := 1; attempt <= commitRetries; attempt++ {
		err = s.applyPending()
		if err == nil {
			s.pending = s.pending[:0]
			return nil
		}
		if !isLocked(err) {
			return eris.Wrap(err, "checkpoint: commit")
		}
		zap.L().Warn("checkpoint commit contention",
			zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(commitBackoffStep * time.Duration(attempt))
	}

	alt := tempPath()
	zap.L().Warn("checkpoint commit retries exhausted, relocating",
		zap.String("path", s.path), zap.String("fallback", alt), zap.Error(err))
	ns, openErr := open(alt)
	if openErr != nil {
		return eris.Wrap(err, "checkpoint: commit")
	}
	s.db.Close()
	s.db = ns.db
	s.path = ns.path
	if err := s.applyPending(); err != nil {
		return eris.Wrap(err, "checkpoint: commit on relocated store")
	}
	s.pending = s.pending[:0]
	return nil
}

// applyPending writes the whole buffer inside one fresh transaction.
// The buffer is left intact on failure so the caller can retry.
func (s *Store) applyPending() error {
	tx, err := s.db.Begin()
	if err != nil {
		return eris.Wrap(err, "checkpoint: begin tx")
	}
	now := time.Now().Unix()
	for _, p := range s.pending {
		if p.result {
			_, err = tx.Exec(`
INSERT INTO results (input_id, resolved_siret, official_name, confidence_score,
                     match_method, alternatives_json, error, updated_at_epoch)
VALUES (?, ?, ?, ?, ?, ?, NULL, ?)
ON CONFLICT(input_id) DO UPDATE SET
    resolved_siret    = excluded.resolved_siret,
    official_name     = excluded.official_name,
    confidence_score  = excluded.confidence_score,
    match_method      = excluded.match_method,
    alternatives_json = excluded.alternatives_json,
    error             = NULL,
    updated_at_epoch  = excluded.updated_at_epoch`,
				p.inputID, p.siret, p.name, p.confidence, p.method, p.alternativesJSON, now)
		} else {
			_, err = tx.Exec(`
INSERT INTO results (input_id, error, updated_at_epoch)
VALUES (?, ?, ?)
ON CONFLICT(input_id) DO UPDATE SET
    error            = excluded.error,
    updated_at_epoch = excluded.updated_at_epoch
WHERE results.error IS NOT NULL`,
				p.inputID, p.errMsg, now)
		}
		if err != nil {
			tx.Rollback()
			return eris.Wrap(err, "checkpoint: apply write")
		}
	}
	return tx.Commit()
}

// Rows returns every persisted outcome, error rows included, ordered
// by input id for stable exports.
func (s *Store) Rows(ctx context.Context) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT input_id, resolved_siret, official_name, confidence_score,
       match_method, alternatives_json, error, updated_at_epoch
FROM results ORDER BY input_id`)
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: query rows")
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var siret, name, method, alts, errMsg sql.NullString
		var conf sql.NullFloat64
		if err := rows.Scan(&r.InputID, &siret, &name, &conf, &method, &alts, &errMsg, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "checkpoint: scan row")
		}
		r.ResolvedSiret = siret.String
		r.OfficialName = name.String
		r.Confidence = conf.Float64
		r.Method = method.String
		r.Error = errMsg.String
		if alts.Valid && alts.String != "" {
			if err := json.Unmarshal([]byte(alts.String), &r.Alternatives); err != nil {
				return nil, eris.Wrap(err, "checkpoint: decode alternatives")
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
