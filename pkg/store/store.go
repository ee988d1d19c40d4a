// Package store is the run ledger: one SQLite database recording every
// rebuild, the dangling posts and actors it found, and the anomalies it
// skipped. The ledger is a report; batch files stay the source of truth
// for the log itself.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/daviddao/skylog/pkg/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// insertChunk bounds the rows written per transaction.
const insertChunk = 5000

// Store manages all SQLite operations with WAL mode, so `report` can read
// while a rebuild writes.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database and initializes the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		started_at  TEXT NOT NULL,
		finished_at TEXT,
		status      TEXT NOT NULL,
		error       TEXT,
		config      TEXT,
		summary     TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS dangling_posts (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		uri    TEXT NOT NULL,
		actor  TEXT NOT NULL,
		ts     INTEGER,
		placed INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, uri)
	);
	CREATE INDEX IF NOT EXISTS idx_dangling_posts_ts ON dangling_posts(run_id, ts);

	CREATE TABLE IF NOT EXISTS dangling_actors (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		actor  TEXT NOT NULL,
		PRIMARY KEY (run_id, actor)
	);

	CREATE TABLE IF NOT EXISTS anomalies (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id  TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		kind    TEXT NOT NULL,
		source  TEXT,
		detail  TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_anomalies_run_kind ON anomalies(run_id, kind);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

// BeginRun records a new run in the running state.
func (s *Store) BeginRun(id string, startedAt time.Time, config string) error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO runs (id, started_at, status, config) VALUES (?, ?, ?, ?)`,
			id, startedAt.UTC().Format(time.RFC3339Nano), string(model.RunRunning), config,
		)
		return err
	})
}

// FinishRun closes a run. A nil runErr marks it ok, otherwise failed.
func (s *Store) FinishRun(id string, finishedAt time.Time, summary string, runErr error) error {
	status, msg := model.RunOK, ""
	if runErr != nil {
		status, msg = model.RunFailed, runErr.Error()
	}
	return retryOnContention(func() error {
		res, err := s.db.Exec(
			`UPDATE runs SET finished_at = ?, status = ?, error = ?, summary = ? WHERE id = ?`,
			finishedAt.UTC().Format(time.RFC3339Nano), string(status), msg, summary, id,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

const runColumns = `id, started_at, COALESCE(finished_at,''), status, COALESCE(error,''), COALESCE(config,''), COALESCE(summary,'')`

// GetRun retrieves a run by ID.
func (s *Store) GetRun(id string) (*model.Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun() (*model.Run, error) {
	row := s.db.QueryRow(`SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id DESC LIMIT 1`)
	return scanRun(row)
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run and everything recorded for it.
func (s *Store) DeleteRun(id string) error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
		return err
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.Run, error) {
	var r model.Run
	var startStr, finishStr, status string
	if err := row.Scan(&r.ID, &startStr, &finishStr, &status, &r.Error, &r.Config, &r.Summary); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.Status = model.RunStatus(status)
	var parseErr error
	r.StartedAt, parseErr = time.Parse(time.RFC3339Nano, startStr)
	if parseErr != nil {
		return nil, fmt.Errorf("parse started_at for run %s: %w", r.ID, parseErr)
	}
	if finishStr != "" {
		r.FinishedAt, parseErr = time.Parse(time.RFC3339Nano, finishStr)
		if parseErr != nil {
			return nil, fmt.Errorf("parse finished_at for run %s: %w", r.ID, parseErr)
		}
	}
	return &r, nil
}

// ---------------------------------------------------------------------------
// Dangling references
// ---------------------------------------------------------------------------

// InsertDanglingPosts records dangling posts for a run. Duplicates are
// ignored.
func (s *Store) InsertDanglingPosts(runID string, posts []model.DanglingPost) error {
	return s.insertChunked(len(posts),
		`INSERT OR IGNORE INTO dangling_posts (run_id, uri, actor, ts, placed) VALUES (?, ?, ?, ?, ?)`,
		func(i int) []any {
			p := posts[i]
			var ts any
			if p.Placed {
				ts = p.TS
			}
			return []any{runID, p.URI, p.Actor, ts, boolToInt(p.Placed)}
		})
}

// InsertDanglingActors records dangling actors for a run.
func (s *Store) InsertDanglingActors(runID string, actors []string) error {
	return s.insertChunked(len(actors),
		`INSERT OR IGNORE INTO dangling_actors (run_id, actor) VALUES (?, ?)`,
		func(i int) []any { return []any{runID, actors[i]} })
}

// ListDanglingPosts returns dangling posts of a run ordered by placement
// time; unplaceable posts come last.
func (s *Store) ListDanglingPosts(runID string, limit int) ([]model.DanglingPost, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT uri, actor, COALESCE(ts, 0), placed FROM dangling_posts
		 WHERE run_id = ? ORDER BY placed DESC, ts ASC, uri ASC LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.DanglingPost
	for rows.Next() {
		var p model.DanglingPost
		var placed int
		if err := rows.Scan(&p.URI, &p.Actor, &p.TS, &placed); err != nil {
			return nil, err
		}
		p.Placed = placed != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListDanglingActors returns dangling actors of a run in lexical order.
func (s *Store) ListDanglingActors(runID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT actor FROM dangling_actors WHERE run_id = ? ORDER BY actor LIMIT ?`, runID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountDangling returns the number of dangling posts and actors of a run.
func (s *Store) CountDangling(runID string) (posts, actors int64, err error) {
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM dangling_posts WHERE run_id = ?`, runID).Scan(&posts); err != nil {
		return 0, 0, err
	}
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM dangling_actors WHERE run_id = ?`, runID).Scan(&actors); err != nil {
		return 0, 0, err
	}
	return posts, actors, nil
}

// ---------------------------------------------------------------------------
// Anomalies
// ---------------------------------------------------------------------------

// InsertAnomalies records skipped inputs for a run.
func (s *Store) InsertAnomalies(runID string, anomalies []*model.Anomaly) error {
	return s.insertChunked(len(anomalies),
		`INSERT INTO anomalies (run_id, kind, source, detail) VALUES (?, ?, ?, ?)`,
		func(i int) []any {
			a := anomalies[i]
			detail := a.Detail
			if a.Err != nil {
				detail += ": " + a.Err.Error()
			}
			return []any{runID, model.KindName(a), a.Source, detail}
		})
}

// CountAnomalies returns stored anomaly counts per kind for a run.
func (s *Store) CountAnomalies(runID string) (map[string]int64, error) {
	rows, err := s.db.Query(
		`SELECT kind, COUNT(*) FROM anomalies WHERE run_id = ? GROUP BY kind ORDER BY kind`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// ListAnomalies returns stored anomalies of a run in insertion order. An
// empty kind matches all kinds.
func (s *Store) ListAnomalies(runID, kind string, limit int) ([]model.AnomalyRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, kind, COALESCE(source,''), COALESCE(detail,'') FROM anomalies
		 WHERE run_id = ? AND (? = '' OR kind = ?) ORDER BY id ASC LIMIT ?`,
		runID, kind, kind, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AnomalyRecord
	for rows.Next() {
		var a model.AnomalyRecord
		if err := rows.Scan(&a.ID, &a.Kind, &a.Source, &a.Detail); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// insertChunked runs stmt for rows [0, n) in transactions of insertChunk
// rows each.
func (s *Store) insertChunked(n int, stmt string, args func(i int) []any) error {
	for start := 0; start < n; start += insertChunk {
		end := min(start+insertChunk, n)
		err := retryOnContention(func() error {
			return s.inTx(func(tx *sql.Tx) error {
				ps, err := tx.Prepare(stmt)
				if err != nil {
					return err
				}
				defer ps.Close()
				for i := start; i < end; i++ {
					if _, err := ps.Exec(args(i)...); err != nil {
						return err
					}
				}
				return nil
			})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
