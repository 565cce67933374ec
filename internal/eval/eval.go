package eval

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielpatrickdp/rollout-eval/internal/policy"
	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
)

// ErrPredict wraps policy failures during a teacher-forcing pass.
var ErrPredict = errors.New("prediction failed")

// #region evaluator
// Evaluator measures single-step accuracy against ground-truth states. It
// runs no state machine and no detectors.
type Evaluator struct {
	config Config
}

// NewEvaluator creates an evaluator with the given configuration.
func NewEvaluator(config Config) *Evaluator {
	return &Evaluator{config: config}
}

// Evaluate asks pol for every example's state and compares exactly.
func (e *Evaluator) Evaluate(ctx context.Context, pol policy.Policy, examples []Example) (Result, error) {
	return e.EvaluateWith(ctx, func(puzzle.Puzzle) (policy.Policy, error) { return pol, nil }, examples)
}

// EvaluateWith builds one policy per puzzle from factory, so puzzle-bound
// policies such as the oracle can be forced too.
func (e *Evaluator) EvaluateWith(ctx context.Context, factory policy.Factory, examples []Example) (Result, error) {
	res := Result{Total: len(examples), Predictions: make([]puzzle.Action, 0, len(examples))}
	byPuzzle := make(map[string]policy.Policy)

	var moveRight, moveTotal, stopRight, stopTotal, stops int
	for i, ex := range examples {
		pol, ok := byPuzzle[ex.Puzzle.ID()]
		if !ok {
			var err error
			if pol, err = factory(ex.Puzzle); err != nil {
				return Result{}, fmt.Errorf("policy for %s: %w", ex.Puzzle.ID(), err)
			}
			byPuzzle[ex.Puzzle.ID()] = pol
		}

		// 1. Predict
		a, err := pol.Predict(ctx, ex.State)
		if err != nil {
			return Result{}, fmt.Errorf("example %d (%s): %w: %w", i, ex.Puzzle.ID(), ErrPredict, err)
		}
		if err := a.WellFormed(); err != nil {
			return Result{}, fmt.Errorf("example %d (%s): %w", i, ex.Puzzle.ID(), err)
		}
		res.Predictions = append(res.Predictions, a)
		if a.IsStop() {
			stops++
		}

		// 2. Compare
		right := a.Equal(ex.Expected)
		if ex.Expected.IsStop() {
			stopTotal++
			if right {
				stopRight++
			}
		} else {
			moveTotal++
			if right {
				moveRight++
			}
		}
		if right {
			res.Correct++
			continue
		}
		if len(res.Mismatches) < e.config.MaxMismatches {
			res.Mismatches = append(res.Mismatches, Mismatch{
				PuzzleID:  ex.Puzzle.ID(),
				State:     ex.State,
				Expected:  ex.Expected,
				Predicted: a,
			})
		}
	}

	res.Accuracy = Ratio(res.Correct, res.Total)
	res.Metrics = []Metric{
		{Name: "move_accuracy", Value: Ratio(moveRight, moveTotal)},
		{Name: "stop_accuracy", Value: Ratio(stopRight, stopTotal)},
		{Name: "predicted_stop_rate", Value: Ratio(stops, res.Total)},
	}
	return res, nil
}

// #endregion evaluator

// #region examples
// ExamplesFromPlan replays plan from the puzzle's start and pairs every
// state with the action taken in it. The plan must be legal.
func ExamplesFromPlan(p puzzle.Puzzle, plan []puzzle.Action) ([]Example, error) {
	out := make([]Example, 0, len(plan))
	s := p.Start()
	for i, a := range plan {
		out = append(out, Example{Puzzle: p, State: s, Expected: a})
		next, terminal, err := p.Apply(s, a)
		if err != nil {
			return nil, fmt.Errorf("plan step %d for %s: %w", i, p.ID(), err)
		}
		if terminal {
			break
		}
		s = next
	}
	return out, nil
}

// OptimalExamples derives examples from a shortest plan found by the solver.
func OptimalExamples(p puzzle.Puzzle, limit int) ([]Example, error) {
	plan, err := p.Solve(p.Start(), limit)
	if err != nil {
		return nil, err
	}
	return ExamplesFromPlan(p, plan)
}

// #endregion examples
