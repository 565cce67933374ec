package runner

import (
	"errors"

	"github.com/danielpatrickdp/rollout-eval/internal/detect"
	"github.com/danielpatrickdp/rollout-eval/internal/eval"
	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
	"github.com/danielpatrickdp/rollout-eval/internal/report"
	"github.com/danielpatrickdp/rollout-eval/internal/trajectory"
)

// ErrEmptyPolicyID is returned when a batch carries no policy identifier.
var ErrEmptyPolicyID = errors.New("batch needs a policy id")

// #region config
// Config controls how a batch is fanned out and summarized.
type Config struct {
	Workers  int // concurrent rollouts; values below 1 mean 1
	Eval     eval.Config
	Report   report.Config
	StopBias detect.StopBiasConfig
}

// DefaultConfig runs four rollouts at a time with default evaluator,
// report and STOP bias settings.
func DefaultConfig() Config {
	return Config{
		Workers:  4,
		Eval:     eval.DefaultConfig(),
		Report:   report.DefaultConfig(),
		StopBias: detect.DefaultStopBiasConfig(),
	}
}

// #endregion config

// #region batch
// Batch is one policy evaluated on a set of puzzles. Examples drive the
// teacher-forcing pass and may be empty.
type Batch struct {
	PolicyID string
	Puzzles  []puzzle.Puzzle
	Examples []eval.Example
}

// Result is everything a finished batch produced. Trajectories are in
// puzzle order; the report's failure examples are in arrival order.
type Result struct {
	Report       report.Report
	Forcing      eval.Result
	Trajectories []*trajectory.Trajectory
}

// #endregion batch
