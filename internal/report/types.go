package report

import (
	"errors"

	"github.com/danielpatrickdp/rollout-eval/internal/detect"
	"github.com/danielpatrickdp/rollout-eval/internal/eval"
	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
	"github.com/danielpatrickdp/rollout-eval/internal/trajectory"
)

// ErrOpenTrajectory is returned when adding a trajectory that was never sealed.
var ErrOpenTrajectory = errors.New("trajectory not sealed")

// #region config
// Config bounds what a report retains.
type Config struct {
	ExamplesPerKind int // failing trajectories kept per outcome kind
}

// DefaultConfig keeps five examples per failure kind.
func DefaultConfig() Config {
	return Config{ExamplesPerKind: 5}
}

// #endregion config

// #region report
// Report is the per-policy result of one evaluation run. It is derived from
// a finished batch and holds no state of its own.
type Report struct {
	RunID    string `json:"run_id,omitempty"`
	PolicyID string `json:"policy_id"`
	Puzzles  int    `json:"puzzles"`

	ForcingExamples        int          `json:"forcing_examples"`
	TeacherForcingAccuracy eval.Measure `json:"teacher_forcing_accuracy"`
	SuccessRate            eval.Measure `json:"autoregressive_success_rate"`
	Gap                    eval.Measure `json:"gap"`

	OutcomeHistogram map[trajectory.Outcome]int                      `json:"outcome_histogram"`
	InvalidHistogram map[puzzle.InvalidKind]int                      `json:"invalid_histogram"`
	FailureExamples  map[trajectory.Outcome][]*trajectory.Trajectory `json:"failure_examples"`

	StopBias        *detect.StopBiasResult `json:"stop_bias,omitempty"`
	RolloutStopRate eval.Measure           `json:"rollout_stop_rate"`
	MeanSteps       eval.Measure           `json:"mean_steps"`
}

// Count returns the histogram entry for o.
func (r Report) Count(o trajectory.Outcome) int { return r.OutcomeHistogram[o] }

// #endregion report
