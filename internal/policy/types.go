package policy

import (
	"context"
	"errors"

	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
)

// #region errors
var (
	// ErrScriptExhausted is returned by a non-looping Scripted policy once its
	// actions run out.
	ErrScriptExhausted = errors.New("script exhausted")

	// ErrNoPlan is returned by the oracle when the solver finds no path to the goal.
	ErrNoPlan = errors.New("no plan to goal")
)

// #endregion errors

// #region interfaces
// Policy predicts one action for a state. Implementations may be remote,
// stateful, or random; the engine treats them as black boxes.
type Policy interface {
	Predict(ctx context.Context, s puzzle.State) (puzzle.Action, error)
}

// Concurrency is implemented by policies that declare whether Predict may be
// called from several rollouts at once. Policies that do not implement it are
// assumed unsafe.
type Concurrency interface {
	ConcurrencySafe() bool
}

// Factory builds the policy instance used for one puzzle attempt.
type Factory func(p puzzle.Puzzle) (Policy, error)

// #endregion interfaces

// #region func
// Func adapts a plain function to the Policy interface. It is declared safe:
// the caller owns any state the closure captures.
type Func func(ctx context.Context, s puzzle.State) (puzzle.Action, error)

func (f Func) Predict(ctx context.Context, s puzzle.State) (puzzle.Action, error) {
	return f(ctx, s)
}

func (f Func) ConcurrencySafe() bool { return true }

// #endregion func
