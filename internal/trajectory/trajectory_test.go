package trajectory

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
)

func s(pegs ...[]puzzle.Block) puzzle.State { return puzzle.NewState(pegs...) }

func validStep(before, after puzzle.State, a puzzle.Action) Step {
	return Step{Before: before, Action: a, After: &after, Valid: true}
}

// #region append-seal-tests
func TestAppend_AssignsIndices(t *testing.T) {
	s0 := s([]puzzle.Block{"A"}, nil)
	s1 := s(nil, []puzzle.Block{"A"})
	tr := New("p", s0)

	if err := tr.Append(validStep(s0, s1, puzzle.Move("A", 0, 1))); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := tr.Append(Step{Index: 99, Before: s1, Action: puzzle.Stop(), After: &s1, Valid: true}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	for i, st := range tr.Steps() {
		if st.Index != i {
			t.Errorf("step %d has index %d", i, st.Index)
		}
	}
}

func TestSeal_Once(t *testing.T) {
	tr := New("p", s(nil))
	if tr.Sealed() {
		t.Fatal("new trajectory must be open")
	}
	if err := tr.Seal(FailedTimeout); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if err := tr.Seal(Solved); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed, got %v", err)
	}
	if tr.Outcome() != FailedTimeout {
		t.Fatalf("outcome revised to %s", tr.Outcome())
	}
	if err := tr.Append(Step{}); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed on append, got %v", err)
	}
	if err := tr.FlagLast(FlagOscillation); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed on flag, got %v", err)
	}
}

func TestSeal_RejectsZeroOutcome(t *testing.T) {
	tr := New("p", s(nil))
	if err := tr.Seal(0); !errors.Is(err, ErrNoOutcome) {
		t.Fatalf("expected ErrNoOutcome, got %v", err)
	}
}

func TestFlagLast_Dedupes(t *testing.T) {
	s0 := s([]puzzle.Block{"A"}, nil)
	tr := New("p", s0)
	tr.Append(Step{Before: s0, Action: puzzle.Move("A", 0, 0), InvalidKind: puzzle.InvalidPeg})
	tr.FlagLast(FlagInvalidAction, FlagInvalidAction, FlagModeCollapse)

	last, ok := tr.Last()
	if !ok {
		t.Fatal("expected a last step")
	}
	if len(last.Flags) != 2 {
		t.Fatalf("expected 2 flags, got %v", last.Flags)
	}
}

func TestSteps_ReturnsCopy(t *testing.T) {
	s0 := s([]puzzle.Block{"A"}, nil)
	tr := New("p", s0)
	tr.Append(Step{Before: s0, Action: puzzle.Stop(), Flags: []Flag{FlagPrematureStop}})

	steps := tr.Steps()
	steps[0].Flags[0] = FlagOscillation
	if tr.Step(0).Flags[0] != FlagPrematureStop {
		t.Fatal("Steps() leaked internal flag storage")
	}
}

// #endregion append-seal-tests

// #region view-tests
func TestRecentMoves_SkipsStop(t *testing.T) {
	s0 := s([]puzzle.Block{"A"}, nil)
	s1 := s(nil, []puzzle.Block{"A"})
	tr := New("p", s0)
	tr.Append(validStep(s0, s1, puzzle.Move("A", 0, 1)))
	tr.Append(Step{Before: s1, Action: puzzle.Stop(), Valid: true, After: &s1})

	moves := tr.RecentMoves(5)
	if len(moves) != 1 || !moves[0].Equal(puzzle.Move("A", 0, 1)) {
		t.Fatalf("unexpected moves %v", moves)
	}
}

func TestRecentStates_IncludesStartAndSkipsInvalid(t *testing.T) {
	s0 := s([]puzzle.Block{"A"}, nil)
	s1 := s(nil, []puzzle.Block{"A"})
	tr := New("p", s0)
	tr.Append(validStep(s0, s1, puzzle.Move("A", 0, 1)))
	tr.Append(Step{Before: s1, Action: puzzle.Move("A", 0, 1), InvalidKind: puzzle.EmptySource})

	states := tr.RecentStates(6)
	if len(states) != 2 {
		t.Fatalf("expected start + one entered state, got %d", len(states))
	}
	if !states[0].Equal(s0) || !states[1].Equal(s1) {
		t.Fatalf("unexpected order %v", states)
	}

	tail := tr.RecentStates(1)
	if len(tail) != 1 || !tail[0].Equal(s1) {
		t.Fatalf("expected only the latest state, got %v", tail)
	}
}

func TestFirstInvalid(t *testing.T) {
	s0 := s([]puzzle.Block{"A"}, nil)
	tr := New("p", s0)
	if _, ok := tr.FirstInvalid(); ok {
		t.Fatal("expected no invalid step")
	}
	tr.Append(Step{Before: s0, Action: puzzle.Move("B", 0, 1), InvalidKind: puzzle.WrongBlock})
	st, ok := tr.FirstInvalid()
	if !ok || st.InvalidKind != puzzle.WrongBlock {
		t.Fatalf("expected WRONG_BLOCK step, got %+v", st)
	}
}

// #endregion view-tests

// #region outcome-tests
func TestOutcome_TextRoundTrip(t *testing.T) {
	for _, o := range Outcomes() {
		text, err := o.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%d): %v", o, err)
		}
		var back Outcome
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%s): %v", text, err)
		}
		if back != o {
			t.Errorf("expected %s, got %s", o, back)
		}
	}
	if _, err := Outcome(0).MarshalText(); err == nil {
		t.Error("expected error marshaling an open outcome")
	}
}

func TestOutcome_IsFailure(t *testing.T) {
	if Solved.IsFailure() {
		t.Error("SOLVED is not a failure")
	}
	for _, o := range Outcomes()[1:] {
		if !o.IsFailure() {
			t.Errorf("%s should be a failure", o)
		}
	}
}

func TestTrajectory_MarshalJSON(t *testing.T) {
	s0 := s([]puzzle.Block{"A"}, nil)
	tr := New("p1", s0)
	tr.Append(Step{Before: s0, Action: puzzle.Stop(), Valid: true, After: &s0, Flags: []Flag{FlagPrematureStop}})
	tr.Seal(FailedPrematureStop)

	data, err := json.Marshal(tr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"puzzle_id":"p1"`, `"outcome":"FAILED_PREMATURE_STOP"`, `"flags":["premature_stop"]`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("expected %s in %s", want, data)
		}
	}
}

// #endregion outcome-tests
