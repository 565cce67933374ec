package trajectory

import (
	"encoding/json"
	"fmt"

	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
)

// #region trajectory
// Trajectory is the append-only log of one puzzle attempt. It is owned by a
// single rollout while open and is immutable once sealed.
type Trajectory struct {
	puzzleID string
	start    puzzle.State
	steps    []Step
	outcome  Outcome
}

// New opens an empty trajectory for a puzzle attempt starting at start.
func New(puzzleID string, start puzzle.State) *Trajectory {
	return &Trajectory{puzzleID: puzzleID, start: start}
}

func (t *Trajectory) PuzzleID() string    { return t.puzzleID }
func (t *Trajectory) Start() puzzle.State { return t.start }
func (t *Trajectory) Len() int            { return len(t.steps) }
func (t *Trajectory) Outcome() Outcome    { return t.outcome }
func (t *Trajectory) Sealed() bool        { return t.outcome != 0 }

// Steps returns a copy of the recorded steps.
func (t *Trajectory) Steps() []Step {
	out := make([]Step, len(t.steps))
	for i, s := range t.steps {
		s.Flags = append([]Flag(nil), s.Flags...)
		out[i] = s
	}
	return out
}

// Step returns step i.
func (t *Trajectory) Step(i int) Step { return t.Steps()[i] }

// Last returns the most recent step, or false if none exist.
func (t *Trajectory) Last() (Step, bool) {
	if len(t.steps) == 0 {
		return Step{}, false
	}
	s := t.steps[len(t.steps)-1]
	s.Flags = append([]Flag(nil), s.Flags...)
	return s, true
}

// Append records a step. Index is assigned from the current length.
func (t *Trajectory) Append(s Step) error {
	if t.Sealed() {
		return fmt.Errorf("append to %s: %w", t.puzzleID, ErrSealed)
	}
	s.Index = len(t.steps)
	s.Flags = append([]Flag(nil), s.Flags...)
	t.steps = append(t.steps, s)
	return nil
}

// FlagLast attaches flags to the most recent step.
func (t *Trajectory) FlagLast(flags ...Flag) error {
	if t.Sealed() {
		return fmt.Errorf("flag %s: %w", t.puzzleID, ErrSealed)
	}
	if len(t.steps) == 0 || len(flags) == 0 {
		return nil
	}
	last := &t.steps[len(t.steps)-1]
	for _, f := range flags {
		if !last.HasFlag(f) {
			last.Flags = append(last.Flags, f)
		}
	}
	return nil
}

// Seal assigns the outcome. It may be called exactly once.
func (t *Trajectory) Seal(o Outcome) error {
	if t.Sealed() {
		return fmt.Errorf("seal %s as %s: %w (already %s)", t.puzzleID, o, ErrSealed, t.outcome)
	}
	if !o.Valid() {
		return fmt.Errorf("seal %s: %w", t.puzzleID, ErrNoOutcome)
	}
	t.outcome = o
	return nil
}

// #endregion trajectory

// #region views
// RecentMoves returns up to n of the latest Move actions, oldest first.
// STOP actions are skipped.
func (t *Trajectory) RecentMoves(n int) []puzzle.Action {
	var rev []puzzle.Action
	for i := len(t.steps) - 1; i >= 0 && len(rev) < n; i-- {
		if a := t.steps[i].Action; a.IsMove() {
			rev = append(rev, a)
		}
	}
	return reverse(rev)
}

// RecentStates returns up to n of the latest visited states, oldest first.
// Visited states are the start plus every state entered by a legal move.
func (t *Trajectory) RecentStates(n int) []puzzle.State {
	var rev []puzzle.State
	for i := len(t.steps) - 1; i >= 0 && len(rev) < n; i-- {
		s := t.steps[i]
		if s.Valid && s.Action.IsMove() && s.After != nil {
			rev = append(rev, *s.After)
		}
	}
	if len(rev) < n {
		rev = append(rev, t.start)
	}
	return reverse(rev)
}

// Predictions returns every action the policy emitted, in order.
func (t *Trajectory) Predictions() []puzzle.Action {
	out := make([]puzzle.Action, len(t.steps))
	for i, s := range t.steps {
		out[i] = s.Action
	}
	return out
}

// FirstInvalid returns the first illegal step, if any.
func (t *Trajectory) FirstInvalid() (Step, bool) {
	for _, s := range t.steps {
		if !s.Valid {
			return s, true
		}
	}
	return Step{}, false
}

func reverse[T any](xs []T) []T {
	for i, j := 0, len(xs)-1; i < j; i, j = i+1, j-1 {
		xs[i], xs[j] = xs[j], xs[i]
	}
	return xs
}

// #endregion views

// #region json
type trajectoryJSON struct {
	PuzzleID string       `json:"puzzle_id"`
	Start    puzzle.State `json:"start_state"`
	Outcome  *Outcome     `json:"outcome"`
	Steps    []Step       `json:"steps"`
}

// MarshalJSON encodes the trajectory; an open trajectory has a null outcome.
func (t *Trajectory) MarshalJSON() ([]byte, error) {
	view := trajectoryJSON{PuzzleID: t.puzzleID, Start: t.start, Steps: t.steps}
	if view.Steps == nil {
		view.Steps = []Step{}
	}
	if t.Sealed() {
		o := t.outcome
		view.Outcome = &o
	}
	return json.Marshal(view)
}

// #endregion json
