package rollout

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/danielpatrickdp/rollout-eval/internal/policy"
	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
	"github.com/danielpatrickdp/rollout-eval/internal/trajectory"
)

// helper: start [[A,B,C],[],[]], goal [[],[],[A,B,C]].
func abc(t *testing.T, rule puzzle.Rule) puzzle.Puzzle {
	t.Helper()
	p, err := puzzle.New("abc",
		puzzle.NewState([]puzzle.Block{"A", "B", "C"}, nil, nil),
		puzzle.NewState(nil, nil, []puzzle.Block{"A", "B", "C"}),
		rule,
	)
	if err != nil {
		t.Fatalf("puzzle.New: %v", err)
	}
	return p
}

func engine(t *testing.T, mutate func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func run(t *testing.T, e *Engine, pol policy.Policy, p puzzle.Puzzle) *trajectory.Trajectory {
	t.Helper()
	tr, err := e.Run(context.Background(), pol, p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !tr.Sealed() {
		t.Fatal("trajectory must be sealed")
	}
	return tr
}

// six legal moves through distinct states to the goal.
func sixMovePlan() []puzzle.Action {
	return []puzzle.Action{
		puzzle.Move("C", 0, 1),
		puzzle.Move("B", 0, 1),
		puzzle.Move("A", 0, 2),
		puzzle.Move("B", 1, 0),
		puzzle.Move("B", 0, 2),
		puzzle.Move("C", 1, 2),
		puzzle.Stop(),
	}
}

// #region scenario-tests
// 1. Correct plan then STOP → SOLVED, length 7.
func TestRun_ScenarioA_Solved(t *testing.T) {
	p := abc(t, nil)
	tr := run(t, engine(t, nil), policy.NewScripted(false, sixMovePlan()...), p)

	if tr.Outcome() != trajectory.Solved {
		t.Fatalf("expected SOLVED, got %s", tr.Outcome())
	}
	if tr.Len() != 7 {
		t.Fatalf("expected 7 steps, got %d", tr.Len())
	}
	for _, st := range tr.Steps() {
		if !st.Valid || len(st.Flags) != 0 {
			t.Errorf("step %d: expected clean valid step, got %+v", st.Index, st)
		}
	}
}

// 2. Hanoi oracle: 7 optimal moves + STOP → SOLVED, length 8.
func TestRun_ScenarioA_HanoiOracle(t *testing.T) {
	p := abc(t, puzzle.RankedBySequence("A", "B", "C"))
	tr := run(t, engine(t, nil), policy.Oracle(p, 0), p)

	if tr.Outcome() != trajectory.Solved {
		t.Fatalf("expected SOLVED, got %s", tr.Outcome())
	}
	if tr.Len() != 8 {
		t.Fatalf("expected 8 steps, got %d", tr.Len())
	}
}

// 3. Repeated Move(C,0,1), strict mode: the second copy is already illegal.
func TestRun_ScenarioB_StrictIsInvalid(t *testing.T) {
	p := abc(t, nil)
	tr := run(t, engine(t, nil), policy.Constant(puzzle.Move("C", 0, 1)), p)

	if tr.Outcome() != trajectory.FailedInvalidAction {
		t.Fatalf("expected FAILED_INVALID_ACTION, got %s", tr.Outcome())
	}
	if tr.Len() != 2 {
		t.Fatalf("expected 2 steps, got %d", tr.Len())
	}
	if kind := tr.Step(1).InvalidKind; kind != puzzle.WrongBlock {
		t.Fatalf("expected WRONG_BLOCK, got %s", kind)
	}
}

// 4. Repeated Move(C,0,1), hold mode: mode collapse fires on the fifth prediction.
func TestRun_ScenarioB_HoldIsModeCollapse(t *testing.T) {
	p := abc(t, nil)
	e := engine(t, func(c *Config) { c.InvalidMode = InvalidHold })
	tr := run(t, e, policy.Constant(puzzle.Move("C", 0, 1)), p)

	if tr.Outcome() != trajectory.FailedModeCollapse {
		t.Fatalf("expected FAILED_MODE_COLLAPSE, got %s", tr.Outcome())
	}
	if tr.Len() != 5 {
		t.Fatalf("expected 5 steps, got %d", tr.Len())
	}
	last, _ := tr.Last()
	if !last.HasFlag(trajectory.FlagModeCollapse) || !last.HasFlag(trajectory.FlagInvalidAction) {
		t.Fatalf("expected mode_collapse and invalid_action flags, got %v", last.Flags)
	}
	for _, st := range tr.Steps()[1:] {
		if st.Valid || st.After != nil {
			t.Errorf("step %d: held moves must be invalid with no next state", st.Index)
		}
	}
}

// 5. A↔B shuttle → FAILED_OSCILLATION when the start appears a third time.
func TestRun_ScenarioC_Oscillation(t *testing.T) {
	p, err := puzzle.New("shuttle",
		puzzle.NewState([]puzzle.Block{"B", "A"}, nil, []puzzle.Block{"C"}),
		puzzle.NewState(nil, nil, []puzzle.Block{"C", "B", "A"}),
		nil,
	)
	if err != nil {
		t.Fatalf("puzzle.New: %v", err)
	}
	pol := policy.NewScripted(true, puzzle.Move("A", 0, 1), puzzle.Move("A", 1, 0))
	tr := run(t, engine(t, nil), pol, p)

	if tr.Outcome() != trajectory.FailedOscillation {
		t.Fatalf("expected FAILED_OSCILLATION, got %s", tr.Outcome())
	}
	// start, s1, start, s1, start
	if tr.Len() != 4 {
		t.Fatalf("expected 4 steps, got %d", tr.Len())
	}
	last, _ := tr.Last()
	if !last.After.Equal(p.Start()) {
		t.Fatalf("expected to end back at start, got %s", last.After)
	}
}

// 6. Move from an empty peg → FAILED_INVALID_ACTION/EMPTY_SOURCE on step 1.
func TestRun_ScenarioD_EmptySource(t *testing.T) {
	p, err := puzzle.New("d",
		puzzle.NewState(nil, []puzzle.Block{"A"}, []puzzle.Block{"B"}),
		puzzle.NewState([]puzzle.Block{"A", "B"}, nil, nil),
		nil,
	)
	if err != nil {
		t.Fatalf("puzzle.New: %v", err)
	}
	tr := run(t, engine(t, nil), policy.Constant(puzzle.Move("A", 0, 1)), p)

	if tr.Outcome() != trajectory.FailedInvalidAction {
		t.Fatalf("expected FAILED_INVALID_ACTION, got %s", tr.Outcome())
	}
	st := tr.Step(0)
	if st.InvalidKind != puzzle.EmptySource || st.Valid || st.After != nil {
		t.Fatalf("unexpected step %+v", st)
	}
}

// 7. Immediate STOP away from the goal → FAILED_PREMATURE_STOP, length 1.
func TestRun_ScenarioE_PrematureStop(t *testing.T) {
	p := abc(t, nil)
	tr := run(t, engine(t, nil), policy.Constant(puzzle.Stop()), p)

	if tr.Outcome() != trajectory.FailedPrematureStop {
		t.Fatalf("expected FAILED_PREMATURE_STOP, got %s", tr.Outcome())
	}
	if tr.Len() != 1 || !tr.Step(0).HasFlag(trajectory.FlagPrematureStop) {
		t.Fatalf("expected one flagged step, got %+v", tr.Steps())
	}
}

// #endregion scenario-tests

// #region engine-tests
// 8. Budget exhausted while running → FAILED_TIMEOUT.
func TestRun_Timeout(t *testing.T) {
	p := abc(t, nil)
	e := engine(t, func(c *Config) { c.MaxSteps = 3 })
	tr := run(t, e, policy.NewScripted(false, sixMovePlan()...), p)

	if tr.Outcome() != trajectory.FailedTimeout {
		t.Fatalf("expected FAILED_TIMEOUT, got %s", tr.Outcome())
	}
	if tr.Len() != 3 {
		t.Fatalf("expected 3 steps, got %d", tr.Len())
	}
}

// 9. Invalid and mode collapse on the same step: invalid wins, both flags kept.
func TestRun_InvalidBeatsModeCollapse(t *testing.T) {
	p := abc(t, nil)
	e := engine(t, func(c *Config) { c.Detect.ModeCollapseK = 2 })
	tr := run(t, e, policy.Constant(puzzle.Move("C", 0, 1)), p)

	if tr.Outcome() != trajectory.FailedInvalidAction {
		t.Fatalf("expected FAILED_INVALID_ACTION, got %s", tr.Outcome())
	}
	last, _ := tr.Last()
	if !last.HasFlag(trajectory.FlagModeCollapse) {
		t.Fatalf("expected the losing detector to stay flagged, got %v", last.Flags)
	}
}

// 10. Hold mode recovers: one illegal prediction then the plan → SOLVED.
func TestRun_HoldRecovers(t *testing.T) {
	p := abc(t, nil)
	e := engine(t, func(c *Config) { c.InvalidMode = InvalidHold })
	script := append([]puzzle.Action{puzzle.Move("A", 0, 1)}, sixMovePlan()...)
	tr := run(t, e, policy.NewScripted(false, script...), p)

	if tr.Outcome() != trajectory.Solved {
		t.Fatalf("expected SOLVED, got %s", tr.Outcome())
	}
	if tr.Len() != 8 {
		t.Fatalf("expected 8 steps, got %d", tr.Len())
	}
	if st, ok := tr.FirstInvalid(); !ok || st.InvalidKind != puzzle.NotOnTop {
		t.Fatalf("expected a NOT_ON_TOP step, got %+v", st)
	}
}

// 11. Same policy behavior → byte-identical trajectory.
func TestRun_Deterministic(t *testing.T) {
	p := abc(t, nil)
	e := engine(t, nil)
	var encoded [2][]byte
	for i := range encoded {
		tr := run(t, e, policy.NewRandom(p, 7, 0.05), p)
		data, err := json.Marshal(tr)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		encoded[i] = data
	}
	if string(encoded[0]) != string(encoded[1]) {
		t.Fatal("expected identical trajectories for identical policy behavior")
	}
}

// 12. Random legal-move policy never produces an invalid outcome.
func TestRun_RandomNeverInvalid(t *testing.T) {
	p := abc(t, puzzle.RankedBySequence("A", "B", "C"))
	e := engine(t, nil)
	for seed := int64(0); seed < 20; seed++ {
		tr := run(t, e, policy.NewRandom(p, seed, 0.02), p)
		if tr.Outcome() == trajectory.FailedInvalidAction {
			t.Fatalf("seed %d: random legal policy produced an invalid action", seed)
		}
		if _, ok := tr.FirstInvalid(); ok {
			t.Fatalf("seed %d: unexpected invalid step", seed)
		}
	}
}

// #endregion engine-tests

// #region contract-tests
func TestRun_PolicyErrorIsReturned(t *testing.T) {
	p := abc(t, nil)
	_, err := engine(t, nil).Run(context.Background(), policy.NewScripted(false, puzzle.Move("C", 0, 1)), p)
	if !errors.Is(err, ErrPolicy) || !errors.Is(err, policy.ErrScriptExhausted) {
		t.Fatalf("expected wrapped policy error, got %v", err)
	}
}

func TestRun_MalformedActionIsReturned(t *testing.T) {
	p := abc(t, nil)
	_, err := engine(t, nil).Run(context.Background(), policy.Constant(puzzle.Action{}), p)
	if !errors.Is(err, puzzle.ErrMalformedAction) {
		t.Fatalf("expected ErrMalformedAction, got %v", err)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	p := abc(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine(t, nil).Run(ctx, policy.Constant(puzzle.Stop()), p)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewEngine_RejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSteps = 0
	if _, err := NewEngine(cfg); !errors.Is(err, ErrBadConfig) {
		t.Fatalf("expected ErrBadConfig, got %v", err)
	}
	cfg = DefaultConfig()
	cfg.InvalidMode = "skip"
	if _, err := NewEngine(cfg); !errors.Is(err, ErrBadConfig) {
		t.Fatalf("expected ErrBadConfig, got %v", err)
	}
}

// #endregion contract-tests
