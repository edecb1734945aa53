package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/pagecheck/dbopen"
)

// ErrNotFound is returned by GetRun for an unknown run ID.
var ErrNotFound = errors.New("report: run not found")

// Schema creates the run history tables. Pass it to dbopen.WithSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    id           TEXT PRIMARY KEY,
    target_url   TEXT NOT NULL,
    started_at   INTEGER NOT NULL,
    finished_at  INTEGER NOT NULL,
    passed       INTEGER NOT NULL,
    artifact_dir TEXT NOT NULL DEFAULT '',
    bundle_path  TEXT NOT NULL DEFAULT '',
    error        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

CREATE TABLE IF NOT EXISTS steps (
    run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    seq           INTEGER NOT NULL,
    name          TEXT NOT NULL,
    passed        INTEGER NOT NULL,
    artifact_path TEXT NOT NULL DEFAULT '',
    detail        TEXT NOT NULL DEFAULT '',
    duration_ns   INTEGER NOT NULL,
    PRIMARY KEY (run_id, seq)
);
`

// Store persists runs and their steps in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the run database at path. A busyTimeout of
// zero keeps the dbopen default.
func OpenStore(path string, busyTimeout time.Duration) (*Store, error) {
	opts := []dbopen.Option{dbopen.WithMkdirAll(), dbopen.WithSchema(Schema)}
	if busyTimeout > 0 {
		opts = append(opts, dbopen.WithBusyTimeout(int(busyTimeout.Milliseconds())))
	}
	db, err := dbopen.Open(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("report: open store: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an already opened database. The schema must be applied.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// SaveRun inserts or replaces a run and all its steps atomically.
func (s *Store) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return fmt.Errorf("report: save run: empty id")
	}
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM steps WHERE run_id = ?`, run.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, target_url, started_at, finished_at, passed, artifact_dir, bundle_path, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				target_url = excluded.target_url,
				started_at = excluded.started_at,
				finished_at = excluded.finished_at,
				passed = excluded.passed,
				artifact_dir = excluded.artifact_dir,
				bundle_path = excluded.bundle_path,
				error = excluded.error`,
			run.ID, run.TargetURL, toMillis(run.StartedAt), toMillis(run.FinishedAt),
			boolInt(run.Passed), run.ArtifactDir, run.BundlePath, run.Error)
		if err != nil {
			return err
		}
		for i, st := range run.Steps {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO steps (run_id, seq, name, passed, artifact_path, detail, duration_ns)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				run.ID, i, st.Name, boolInt(st.Passed), st.ArtifactPath, st.Detail, int64(st.Duration))
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("report: save run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun loads a run with its steps.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, target_url, started_at, finished_at, passed, artifact_dir, bundle_path, error
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("report: get run %s: %w", id, err)
	}
	run.Steps, err = s.Steps(ctx, id)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs first, without steps. A limit of
// zero or less means 20.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, target_url, started_at, finished_at, passed, artifact_dir, bundle_path, error
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("report: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("report: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Steps returns the steps of a run in execution order.
func (s *Store) Steps(ctx context.Context, runID string) ([]StepResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, passed, artifact_path, detail, duration_ns
		FROM steps WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("report: steps %s: %w", runID, err)
	}
	defer rows.Close()

	var steps []StepResult
	for rows.Next() {
		var st StepResult
		var passed int
		var dur int64
		if err := rows.Scan(&st.Name, &passed, &st.ArtifactPath, &st.Detail, &dur); err != nil {
			return nil, fmt.Errorf("report: scan step: %w", err)
		}
		st.Passed = passed != 0
		st.Duration = time.Duration(dur)
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var run Run
	var started, finished int64
	var passed int
	err := sc.Scan(&run.ID, &run.TargetURL, &started, &finished, &passed,
		&run.ArtifactDir, &run.BundlePath, &run.Error)
	if err != nil {
		return nil, err
	}
	run.StartedAt = fromMillis(started)
	run.FinishedAt = fromMillis(finished)
	run.Passed = passed != 0
	return &run, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
