package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/rollout-eval/internal/detect"
	"github.com/danielpatrickdp/rollout-eval/internal/eval"
	"github.com/danielpatrickdp/rollout-eval/internal/logging"
	"github.com/danielpatrickdp/rollout-eval/internal/metrics"
	"github.com/danielpatrickdp/rollout-eval/internal/policy"
	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
	"github.com/danielpatrickdp/rollout-eval/internal/report"
	"github.com/danielpatrickdp/rollout-eval/internal/rollout"
	"github.com/danielpatrickdp/rollout-eval/internal/store"
	"github.com/danielpatrickdp/rollout-eval/internal/trajectory"
)

// #region runner
// Runner evaluates one policy per call: a teacher-forcing pass over the
// batch's examples, then one autoregressive rollout per puzzle.
type Runner struct {
	engine    *rollout.Engine
	evaluator *eval.Evaluator
	config    Config

	logger  *slog.Logger
	metrics *metrics.Metrics
	store   *store.Store
	newID   func() string
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. Nil means discard.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = logging.OrDiscard(l) }
}

// WithMetrics records rollout and run metrics. Nil disables them.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithStore persists every finished or aborted run.
func WithStore(s *store.Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithRunIDs replaces the run id generator.
func WithRunIDs(next func() string) Option {
	return func(r *Runner) { r.newID = next }
}

// New creates a Runner around engine.
func New(engine *rollout.Engine, config Config, opts ...Option) *Runner {
	if config.Workers < 1 {
		config.Workers = 1
	}
	r := &Runner{
		engine:    engine,
		evaluator: eval.NewEvaluator(config.Eval),
		config:    config,
		logger:    logging.Discard(),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// #endregion runner

// #region run
// Run evaluates the batch with policies from factory. Any contract
// violation (policy error, malformed action, factory failure) cancels the
// remaining rollouts and is returned; puzzle failures are outcomes.
func (r *Runner) Run(ctx context.Context, factory policy.Factory, batch Batch) (Result, error) {
	if batch.PolicyID == "" {
		return Result{}, ErrEmptyPolicyID
	}
	runID := r.newID()
	log := r.logger.With("run_id", runID, "policy", batch.PolicyID)
	r.event(log, runID, store.EventStarted, fmt.Sprintf("%d puzzles, %d examples", len(batch.Puzzles), len(batch.Examples)))

	res, err := r.run(ctx, factory, batch, log)
	if err != nil {
		log.Error("evaluation aborted", "error", err)
		r.event(log, runID, store.EventAborted, err.Error())
		return Result{}, err
	}
	res.Report.RunID = runID

	r.metrics.ObserveRun(batch.PolicyID, res.Report.TeacherForcingAccuracy, res.Report.SuccessRate, res.Report.Gap)
	if err := r.persist(res); err != nil {
		log.Error("persist run", "error", err)
		r.event(log, runID, store.EventAborted, err.Error())
		return Result{}, err
	}

	log.Info("evaluation finished",
		"puzzles", res.Report.Puzzles,
		"solved", res.Report.Count(trajectory.Solved),
		"teacher_forcing", res.Report.TeacherForcingAccuracy.String(),
		"success", res.Report.SuccessRate.String(),
		"gap", res.Report.Gap.String(),
	)
	r.event(log, runID, store.EventFinished, "")
	return res, nil
}

func (r *Runner) run(ctx context.Context, factory policy.Factory, batch Batch, log *slog.Logger) (Result, error) {
	// 1. Teacher forcing
	forcing, err := r.evaluator.EvaluateWith(ctx, factory, batch.Examples)
	if err != nil {
		r.metrics.PolicyError(batch.PolicyID, "forcing")
		return Result{}, fmt.Errorf("teacher forcing: %w", err)
	}
	var stopBias *detect.StopBiasResult
	if forcing.Total > 0 {
		sb := detect.StopBias(forcing.Predictions, r.config.StopBias)
		stopBias = &sb
		if sb.Fired {
			log.Warn("stop bias", "observed", sb.Observed, "threshold", sb.Threshold)
		}
	}

	// 2. Rollouts
	trajectories, agg, err := r.rollouts(ctx, factory, batch, log)
	if err != nil {
		return Result{}, err
	}

	// 3. Report
	rep := agg.Build(batch.PolicyID, forcing.Accuracy, stopBias)
	rep.ForcingExamples = forcing.Total
	return Result{Report: rep, Forcing: forcing, Trajectories: trajectories}, nil
}

func (r *Runner) rollouts(ctx context.Context, factory policy.Factory, batch Batch, log *slog.Logger) ([]*trajectory.Trajectory, *report.Aggregator, error) {
	agg := report.NewAggregator(r.config.Report)
	out := make([]*trajectory.Trajectory, len(batch.Puzzles))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Workers)
	for i, p := range batch.Puzzles {
		i, p := i, p
		g.Go(func() error {
			t, err := r.rollout(gctx, factory, p)
			if err != nil {
				r.metrics.PolicyError(batch.PolicyID, "rollout")
				return err
			}
			if err := agg.Add(t); err != nil {
				return fmt.Errorf("puzzle %s: %w", p.ID(), err)
			}
			out[i] = t
			r.metrics.ObserveRollout(batch.PolicyID, t)
			log.Debug("rollout finished", logging.Rollout(t))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return out, agg, nil
}

func (r *Runner) rollout(ctx context.Context, factory policy.Factory, p puzzle.Puzzle) (*trajectory.Trajectory, error) {
	pol, err := factory(p)
	if err != nil {
		return nil, fmt.Errorf("policy for %s: %w", p.ID(), err)
	}
	t, err := r.engine.Run(ctx, pol, p)
	if err != nil {
		return nil, fmt.Errorf("puzzle %s: %w", p.ID(), err)
	}
	return t, nil
}

// #endregion run

// #region persistence
func (r *Runner) persist(res Result) error {
	if r.store == nil {
		return nil
	}
	rec, err := store.NewRunRecord(res.Report)
	if err != nil {
		return err
	}
	return r.store.SaveRun(rec, res.Trajectories)
}

func (r *Runner) event(log *slog.Logger, runID, event, detail string) {
	if r.store == nil {
		return
	}
	if err := r.store.LogEvent(store.RunEvent{RunID: runID, Event: event, Detail: detail}); err != nil {
		log.Warn("run log", "event", event, "error", err)
	}
}

// #endregion persistence
