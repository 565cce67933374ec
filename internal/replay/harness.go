package replay

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/rollout-eval/internal/policy"
	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
	"github.com/danielpatrickdp/rollout-eval/internal/rollout"
	"github.com/danielpatrickdp/rollout-eval/internal/trajectory"
)

// #region types
// Case is a recorded action stream to feed through the rollout engine. With
// Loop set the stream repeats, which detector scenarios need.
type Case struct {
	ID      string
	Puzzle  puzzle.Puzzle
	Actions []puzzle.Action
	Loop    bool
	Mode    rollout.InvalidMode // empty uses the harness config
	Expect  Expectation
}

// Expectation is what the replayed trajectory must look like. Zero Steps
// and an empty InvalidKind are not checked.
type Expectation struct {
	Outcome     trajectory.Outcome
	Steps       int
	InvalidKind puzzle.InvalidKind
}

// Result captures one replayed case.
type Result struct {
	CaseID      string
	Outcome     trajectory.Outcome
	Steps       int
	InvalidKind puzzle.InvalidKind
	Pass        bool
	Reason      string // first mismatch, empty when Pass

	Trajectory *trajectory.Trajectory
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	Total     int
	Passed    int
	Failed    int
	ByOutcome map[trajectory.Outcome]int
}

// #endregion types

// #region replay
// Replay runs every case through a fresh engine and compares the sealed
// trajectory with the case's expectation. An error means a case could not
// be replayed at all, e.g. its script ran out while the rollout was still
// running.
func Replay(ctx context.Context, config rollout.Config, cases []Case) ([]Result, error) {
	results := make([]Result, 0, len(cases))

	for _, c := range cases {
		cfg := config
		if c.Mode != "" {
			cfg.InvalidMode = c.Mode
		}
		engine, err := rollout.NewEngine(cfg)
		if err != nil {
			return nil, fmt.Errorf("case %s: %w", c.ID, err)
		}

		// 1. Rollout
		tr, err := engine.Run(ctx, policy.NewScripted(c.Loop, c.Actions...), c.Puzzle)
		if err != nil {
			return nil, fmt.Errorf("case %s: %w", c.ID, err)
		}

		// 2. Compare
		r := Result{
			CaseID:     c.ID,
			Outcome:    tr.Outcome(),
			Steps:      tr.Len(),
			Trajectory: tr,
		}
		if st, ok := tr.FirstInvalid(); ok {
			r.InvalidKind = st.InvalidKind
		}
		r.Reason = mismatch(c.Expect, r)
		r.Pass = r.Reason == ""
		results = append(results, r)
	}

	return results, nil
}

func mismatch(want Expectation, got Result) string {
	switch {
	case want.Outcome != got.Outcome:
		return fmt.Sprintf("outcome %s, want %s", got.Outcome, want.Outcome)
	case want.Steps != 0 && want.Steps != got.Steps:
		return fmt.Sprintf("%d steps, want %d", got.Steps, want.Steps)
	case want.InvalidKind != "" && want.InvalidKind != got.InvalidKind:
		return fmt.Sprintf("invalid kind %q, want %s", got.InvalidKind, want.InvalidKind)
	}
	return ""
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []Result) Summary {
	s := Summary{
		Total:     len(results),
		ByOutcome: make(map[trajectory.Outcome]int),
	}
	for _, r := range results {
		s.ByOutcome[r.Outcome]++
		if r.Pass {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	return s
}

// #endregion replay
