package detect

import (
	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
	"github.com/danielpatrickdp/rollout-eval/internal/trajectory"
)

// #region mode-collapse
// ModeCollapse reports whether the last k moves of the stream are identical.
// STOP actions are ignored. Fewer than k moves never fire; k <= 0 disables it.
func ModeCollapse(actions []puzzle.Action, k int) bool {
	if k <= 0 {
		return false
	}
	moves := make([]puzzle.Action, 0, len(actions))
	for _, a := range actions {
		if a.IsMove() {
			moves = append(moves, a)
		}
	}
	if len(moves) < k {
		return false
	}
	tail := moves[len(moves)-k:]
	for _, a := range tail[1:] {
		if !a.Equal(tail[0]) {
			return false
		}
	}
	return true
}

// ModeCollapseIn runs ModeCollapse over the trajectory's move history.
func ModeCollapseIn(t *trajectory.Trajectory, k int) bool {
	if k <= 0 {
		return false
	}
	return ModeCollapse(t.RecentMoves(k), k)
}

// #endregion mode-collapse

// #region oscillation
// Oscillation reports whether any state occurs at least repeats times among
// the last window states. It catches 2- and 3-cycles regardless of phase.
func Oscillation(states []puzzle.State, window, repeats int) bool {
	if window <= 0 || repeats <= 0 {
		return false
	}
	if len(states) > window {
		states = states[len(states)-window:]
	}
	counts := make(map[string]int, len(states))
	for _, s := range states {
		counts[s.Key()]++
		if counts[s.Key()] >= repeats {
			return true
		}
	}
	return false
}

// OscillationIn runs Oscillation over the trajectory's visited states.
func OscillationIn(t *trajectory.Trajectory, window, repeats int) bool {
	if window <= 0 {
		return false
	}
	return Oscillation(t.RecentStates(window), window, repeats)
}

// #endregion oscillation

// #region stop-bias
// StopBias measures the STOP rate of a prediction stream against the
// configured threshold. An empty stream is undefined and never fires.
func StopBias(predictions []puzzle.Action, cfg StopBiasConfig) StopBiasResult {
	res := StopBiasResult{
		Predictions: len(predictions),
		Expected:    cfg.ExpectedRate,
		Threshold:   cfg.Threshold(),
	}
	if len(predictions) == 0 {
		return res
	}
	for _, a := range predictions {
		if a.IsStop() {
			res.Stops++
		}
	}
	res.Defined = true
	res.Observed = float64(res.Stops) / float64(res.Predictions)
	res.Fired = res.Observed > res.Threshold
	return res
}

// #endregion stop-bias

// #region invalid-action
// ClassifyInvalid extracts the illegal-move subtype from a validation error.
// Legality itself is decided by the puzzle package.
func ClassifyInvalid(err error) (puzzle.InvalidKind, bool) {
	return puzzle.InvalidKindOf(err)
}

// #endregion invalid-action

// #region premature-termination
// PrematureTermination fires when STOP is emitted away from the goal.
func PrematureTermination(a puzzle.Action, current, goal puzzle.State) bool {
	return a.IsStop() && !current.Equal(goal)
}

// #endregion premature-termination

// #region resolve
// Resolve picks the winning outcome among the conditions that hold on a
// step, following Precedence. It returns false when none hold.
func Resolve(fired ...trajectory.Outcome) (trajectory.Outcome, bool) {
	if len(fired) == 0 {
		return 0, false
	}
	for _, o := range Precedence {
		for _, f := range fired {
			if f == o {
				return o, true
			}
		}
	}
	return 0, false
}

// FlagFor maps a failure outcome to the step flag recording it.
func FlagFor(o trajectory.Outcome) (trajectory.Flag, bool) {
	switch o {
	case trajectory.FailedInvalidAction:
		return trajectory.FlagInvalidAction, true
	case trajectory.FailedModeCollapse:
		return trajectory.FlagModeCollapse, true
	case trajectory.FailedOscillation:
		return trajectory.FlagOscillation, true
	case trajectory.FailedPrematureStop:
		return trajectory.FlagPrematureStop, true
	default:
		return "", false
	}
}

// #endregion resolve
