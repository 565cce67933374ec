package rollout

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/rollout-eval/internal/detect"
	"github.com/danielpatrickdp/rollout-eval/internal/policy"
	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
	"github.com/danielpatrickdp/rollout-eval/internal/trajectory"
)

// #region engine
// Engine drives one puzzle from its start state to a terminal outcome by
// feeding the policy its own consequences. An Engine holds no per-run state
// and may be shared across goroutines.
type Engine struct {
	config Config
}

// NewEngine validates config and returns an engine.
func NewEngine(config Config) (*Engine, error) {
	if config.InvalidMode == "" {
		config.InvalidMode = InvalidTerminate
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Engine{config: config}, nil
}

// Config returns the engine's settings.
func (e *Engine) Config() Config { return e.config }

// Run plays p against pol and returns the sealed trajectory. Puzzle-attempt
// failures are recorded as outcomes; a non-nil error means the evaluation
// itself broke (policy error, malformed action, cancelled context) and no
// trajectory is returned.
func (e *Engine) Run(ctx context.Context, pol policy.Policy, p puzzle.Puzzle) (*trajectory.Trajectory, error) {
	tr := trajectory.New(p.ID(), p.Start())
	current := p.Start()

	for step := 0; step < e.config.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("rollout %s step %d: %w", p.ID(), step, err)
		}

		// 1. Query the policy
		a, err := pol.Predict(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("rollout %s step %d: %w: %w", p.ID(), step, ErrPolicy, err)
		}

		// 2. Validity
		if err := p.Check(current, a); err != nil {
			kind, illegal := detect.ClassifyInvalid(err)
			if !illegal {
				return nil, fmt.Errorf("rollout %s step %d: %w", p.ID(), step, err)
			}
			if done, err := e.invalid(tr, current, a, kind); done || err != nil {
				return sealed(tr, err)
			}
			continue
		}

		// 3. STOP
		if a.IsStop() {
			return sealed(tr, e.stop(tr, p, current, a))
		}

		// 4. Move, then the continuous detectors
		next, _, err := p.Apply(current, a)
		if err != nil {
			return nil, fmt.Errorf("rollout %s step %d: %w", p.ID(), step, err)
		}
		if err := tr.Append(trajectory.Step{Before: current, Action: a, After: &next, Valid: true}); err != nil {
			return nil, err
		}
		if done, err := e.resolve(tr, e.continuous(tr)); done || err != nil {
			return sealed(tr, err)
		}

		// 5. Advance
		current = next
	}

	if err := tr.Seal(trajectory.FailedTimeout); err != nil {
		return nil, err
	}
	return tr, nil
}

// #endregion engine

// #region step-handlers
// invalid records an illegal move. In terminate mode it always ends the run;
// in hold mode only a firing mode-collapse detector does.
func (e *Engine) invalid(tr *trajectory.Trajectory, current puzzle.State, a puzzle.Action, kind puzzle.InvalidKind) (bool, error) {
	err := tr.Append(trajectory.Step{
		Before:      current,
		Action:      a,
		InvalidKind: kind,
		Flags:       []trajectory.Flag{trajectory.FlagInvalidAction},
	})
	if err != nil {
		return true, err
	}

	var fired []trajectory.Outcome
	if e.config.InvalidMode == InvalidTerminate {
		fired = append(fired, trajectory.FailedInvalidAction)
	}
	if detect.ModeCollapseIn(tr, e.config.Detect.ModeCollapseK) {
		fired = append(fired, trajectory.FailedModeCollapse)
	}
	return e.resolve(tr, fired)
}

func (e *Engine) stop(tr *trajectory.Trajectory, p puzzle.Puzzle, current puzzle.State, a puzzle.Action) error {
	at := current
	st := trajectory.Step{Before: current, Action: a, After: &at, Valid: true}
	outcome := trajectory.Solved
	if detect.PrematureTermination(a, current, p.Goal()) {
		st.Flags = []trajectory.Flag{trajectory.FlagPrematureStop}
		outcome = trajectory.FailedPrematureStop
	}
	if err := tr.Append(st); err != nil {
		return err
	}
	return tr.Seal(outcome)
}

// continuous runs mode collapse over the move history and oscillation over
// the visited states, returning every detector that fired.
func (e *Engine) continuous(tr *trajectory.Trajectory) []trajectory.Outcome {
	var fired []trajectory.Outcome
	cfg := e.config.Detect
	if detect.ModeCollapseIn(tr, cfg.ModeCollapseK) {
		fired = append(fired, trajectory.FailedModeCollapse)
	}
	if detect.OscillationIn(tr, cfg.OscillationWindow, cfg.OscillationRepeats) {
		fired = append(fired, trajectory.FailedOscillation)
	}
	return fired
}

// resolve flags the last step with every fired detector and seals the
// trajectory with the winner by precedence.
func (e *Engine) resolve(tr *trajectory.Trajectory, fired []trajectory.Outcome) (bool, error) {
	winner, ok := detect.Resolve(fired...)
	if !ok {
		return false, nil
	}
	flags := make([]trajectory.Flag, 0, len(fired))
	for _, o := range fired {
		if f, ok := detect.FlagFor(o); ok {
			flags = append(flags, f)
		}
	}
	if err := tr.FlagLast(flags...); err != nil {
		return true, err
	}
	return true, tr.Seal(winner)
}

func sealed(tr *trajectory.Trajectory, err error) (*trajectory.Trajectory, error) {
	if err != nil {
		return nil, err
	}
	return tr, nil
}

// #endregion step-handlers
