package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/rollout-eval/internal/eval"
	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
	"github.com/danielpatrickdp/rollout-eval/internal/report"
	"github.com/danielpatrickdp/rollout-eval/internal/trajectory"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	policy_id     TEXT NOT NULL,
	puzzles       INTEGER NOT NULL,
	tf_accuracy   REAL,
	success_rate  REAL,
	gap           REAL,
	created_at    TEXT NOT NULL,
	report_json   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS outcomes (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id          TEXT NOT NULL,
	puzzle_id       TEXT NOT NULL,
	outcome         TEXT NOT NULL,
	invalid_kind    TEXT,
	steps           INTEGER NOT NULL,
	trajectory_json TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS outcomes_by_run ON outcomes(run_id, outcome);

CREATE TABLE IF NOT EXISTS run_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	event       TEXT NOT NULL,
	detail      TEXT,
	created_at  TEXT NOT NULL
);
`

// #endregion schema

// #region store-struct
// Store persists evaluation runs in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion store-struct

// #region save-run
// NewRunRecord derives the stored row from a finished report.
func NewRunRecord(r report.Report) (RunRecord, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return RunRecord{}, fmt.Errorf("marshal report: %w", err)
	}
	return RunRecord{
		RunID:       r.RunID,
		PolicyID:    r.PolicyID,
		Puzzles:     r.Puzzles,
		TFAccuracy:  r.TeacherForcingAccuracy,
		SuccessRate: r.SuccessRate,
		Gap:         r.Gap,
		CreatedAt:   time.Now().UTC(),
		ReportJSON:  string(data),
	}, nil
}

// SaveRun writes the run row and one outcome row per trajectory atomically.
func (s *Store) SaveRun(rec RunRecord, batch []*trajectory.Trajectory) error {
	if rec.RunID == "" {
		return fmt.Errorf("save run: empty run id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runs (run_id, policy_id, puzzles, tf_accuracy, success_rate, gap, created_at, report_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.PolicyID, rec.Puzzles,
		rec.TFAccuracy.Ptr(), rec.SuccessRate.Ptr(), rec.Gap.Ptr(),
		rec.CreatedAt.Format(time.RFC3339Nano), rec.ReportJSON,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO outcomes (run_id, puzzle_id, outcome, invalid_kind, steps, trajectory_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare outcome: %w", err)
	}
	defer stmt.Close()

	for _, t := range batch {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal trajectory %s: %w", t.PuzzleID(), err)
		}
		var kind any
		if st, ok := t.FirstInvalid(); ok {
			kind = string(st.InvalidKind)
		}
		if _, err := stmt.Exec(rec.RunID, t.PuzzleID(), t.Outcome().String(), kind, t.Len(), string(data)); err != nil {
			return fmt.Errorf("insert outcome %s: %w", t.PuzzleID(), err)
		}
	}

	return tx.Commit()
}

// #endregion save-run

// #region get-run
const runColumns = `run_id, policy_id, puzzles, tf_accuracy, success_rate, gap, created_at, report_json`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var rec RunRecord
	var tf, success, gap sql.NullFloat64
	var createdStr string
	if err := row.Scan(&rec.RunID, &rec.PolicyID, &rec.Puzzles, &tf, &success, &gap, &createdStr, &rec.ReportJSON); err != nil {
		return RunRecord{}, err
	}
	rec.TFAccuracy = measure(tf)
	rec.SuccessRate = measure(success)
	rec.Gap = measure(gap)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, nil
}

func measure(v sql.NullFloat64) eval.Measure {
	if !v.Valid {
		return eval.Undefined()
	}
	return eval.Known(v.Float64)
}

// GetRun retrieves a run by id.
func (s *Store) GetRun(id string) (RunRecord, error) {
	rec, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("get run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return rec, nil
}

// ListRuns returns the most recent runs, optionally for one policy.
func (s *Store) ListRuns(policyID string, limit int) ([]RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	args := []any{}
	if policyID != "" {
		query += ` WHERE policy_id = ?`
		args = append(args, policyID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// #endregion get-run

// #region outcomes
// ListOutcomes returns a run's outcome rows in insertion order, optionally
// filtered to one outcome kind (zero means all).
func (s *Store) ListOutcomes(runID string, only trajectory.Outcome) ([]OutcomeRecord, error) {
	query := `SELECT run_id, puzzle_id, outcome, invalid_kind, steps, trajectory_json FROM outcomes WHERE run_id = ?`
	args := []any{runID}
	if only != 0 {
		query += ` AND outcome = ?`
		args = append(args, only.String())
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var records []OutcomeRecord
	for rows.Next() {
		var rec OutcomeRecord
		var outcome string
		var kind sql.NullString
		if err := rows.Scan(&rec.RunID, &rec.PuzzleID, &outcome, &kind, &rec.Steps, &rec.TrajectoryJSON); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		if rec.Outcome, err = trajectory.ParseOutcome(outcome); err != nil {
			return nil, fmt.Errorf("outcome row %s: %w", rec.PuzzleID, err)
		}
		if kind.Valid {
			rec.InvalidKind = puzzle.InvalidKind(kind.String)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// #endregion outcomes

// #region run-log
// LogEvent appends a lifecycle entry for a run.
func (s *Store) LogEvent(ev RunEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO run_log (run_id, event, detail, created_at) VALUES (?, ?, ?, ?)`,
		ev.RunID, ev.Event, nullIfEmpty(ev.Detail), ev.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// ListEvents returns a run's lifecycle entries, oldest first.
func (s *Store) ListEvents(runID string) ([]RunEvent, error) {
	rows, err := s.db.Query(
		`SELECT run_id, event, detail, created_at FROM run_log WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var ev RunEvent
		var detail sql.NullString
		var createdStr string
		if err := rows.Scan(&ev.RunID, &ev.Event, &detail, &createdStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Detail = detail.String
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// #endregion run-log

// #region helpers
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
