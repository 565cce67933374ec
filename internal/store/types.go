package store

import (
	"errors"
	"time"

	"github.com/danielpatrickdp/rollout-eval/internal/eval"
	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
	"github.com/danielpatrickdp/rollout-eval/internal/trajectory"
)

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = errors.New("run not found")

// #region run-record
// RunRecord is one evaluated policy batch. The full report is kept as JSON;
// the headline rates are columns so runs can be listed and compared.
type RunRecord struct {
	RunID       string
	PolicyID    string
	Puzzles     int
	TFAccuracy  eval.Measure
	SuccessRate eval.Measure
	Gap         eval.Measure
	CreatedAt   time.Time
	ReportJSON  string
}

// #endregion run-record

// #region outcome-record
// OutcomeRecord is the sealed result of one puzzle attempt within a run.
type OutcomeRecord struct {
	RunID          string
	PuzzleID       string
	Outcome        trajectory.Outcome
	InvalidKind    puzzle.InvalidKind // first illegal move, empty if none
	Steps          int
	TrajectoryJSON string
}

// #endregion outcome-record

// #region run-event
// Event kinds written to run_log.
const (
	EventStarted  = "started"
	EventFinished = "finished"
	EventAborted  = "aborted"
)

// RunEvent is a single row in the run_log table.
type RunEvent struct {
	RunID     string
	Event     string
	Detail    string
	CreatedAt time.Time
}

// #endregion run-event
