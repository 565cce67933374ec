package report

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"text/tabwriter"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/rollout-eval/internal/detect"
	"github.com/danielpatrickdp/rollout-eval/internal/eval"
	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
	"github.com/danielpatrickdp/rollout-eval/internal/trajectory"
)

// #region aggregator
// Aggregator is the sink finished rollouts are handed to. Add may be called
// from many goroutines.
type Aggregator struct {
	mu     sync.Mutex
	config Config
	done   []*trajectory.Trajectory
}

// NewAggregator creates an empty sink.
func NewAggregator(config Config) *Aggregator {
	return &Aggregator{config: config}
}

// Add records a sealed trajectory.
func (a *Aggregator) Add(t *trajectory.Trajectory) error {
	if t == nil || !t.Sealed() {
		return ErrOpenTrajectory
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.done = append(a.done, t)
	return nil
}

// Len returns how many trajectories were added.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.done)
}

// Trajectories returns the recorded trajectories in arrival order.
func (a *Aggregator) Trajectories() []*trajectory.Trajectory {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*trajectory.Trajectory(nil), a.done...)
}

// Build reduces the batch into a report. forcing is the teacher-forcing
// accuracy of the same policy; stopBias may be nil. Trajectories are taken in
// puzzle id order, so the kept failure examples do not depend on which
// rollout finished first.
func (a *Aggregator) Build(policyID string, forcing eval.Measure, stopBias *detect.StopBiasResult) Report {
	batch := a.Trajectories()
	slices.SortStableFunc(batch, func(x, y *trajectory.Trajectory) int {
		return strings.Compare(x.PuzzleID(), y.PuzzleID())
	})
	return Summarize(a.config, policyID, batch, forcing, stopBias)
}

// #endregion aggregator

// #region summarize
// Summarize is the deterministic reduction behind Build. Failure examples
// are kept in batch order.
func Summarize(config Config, policyID string, batch []*trajectory.Trajectory, forcing eval.Measure, stopBias *detect.StopBiasResult) Report {
	r := Report{
		PolicyID:               policyID,
		Puzzles:                len(batch),
		TeacherForcingAccuracy: forcing,
		OutcomeHistogram:       make(map[trajectory.Outcome]int, 6),
		InvalidHistogram:       make(map[puzzle.InvalidKind]int),
		FailureExamples:        make(map[trajectory.Outcome][]*trajectory.Trajectory, 5),
		StopBias:               stopBias,
	}
	for _, o := range trajectory.Outcomes() {
		r.OutcomeHistogram[o] = 0
		if o.IsFailure() {
			r.FailureExamples[o] = []*trajectory.Trajectory{}
		}
	}
	for _, k := range puzzle.InvalidKinds() {
		r.InvalidHistogram[k] = 0
	}

	var steps, stops int
	for _, t := range batch {
		o := t.Outcome()
		r.OutcomeHistogram[o]++
		steps += t.Len()
		for _, st := range t.Steps() {
			if st.Action.IsStop() {
				stops++
			}
			if !st.Valid && st.InvalidKind != "" {
				r.InvalidHistogram[st.InvalidKind]++
			}
		}
		if o.IsFailure() && len(r.FailureExamples[o]) < config.ExamplesPerKind {
			r.FailureExamples[o] = append(r.FailureExamples[o], t)
		}
	}

	r.SuccessRate = eval.Ratio(r.OutcomeHistogram[trajectory.Solved], len(batch))
	r.Gap = forcing.Sub(r.SuccessRate)
	r.RolloutStopRate = eval.Ratio(stops, steps)
	r.MeanSteps = eval.Ratio(steps, len(batch))
	return r
}

// #endregion summarize

// #region export
// ToStruct renders the report as nested key/value data.
func (r Report) ToStruct() (*structpb.Struct, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return structpb.NewStruct(m)
}

// WriteTable prints a human-readable summary.
func (r Report) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "policy\t%s\n", r.PolicyID)
	if r.RunID != "" {
		fmt.Fprintf(tw, "run\t%s\n", r.RunID)
	}
	fmt.Fprintf(tw, "puzzles\t%d\n", r.Puzzles)
	fmt.Fprintf(tw, "teacher forcing accuracy\t%s\t(%d examples)\n", r.TeacherForcingAccuracy, r.ForcingExamples)
	fmt.Fprintf(tw, "autoregressive success\t%s\n", r.SuccessRate)
	fmt.Fprintf(tw, "gap\t%s\n", r.Gap)
	fmt.Fprintf(tw, "mean steps\t%s\n", r.MeanSteps)
	if r.StopBias != nil && r.StopBias.Defined {
		fmt.Fprintf(tw, "stop bias\t%.4f\t(threshold %.4f, fired=%t)\n", r.StopBias.Observed, r.StopBias.Threshold, r.StopBias.Fired)
	}
	fmt.Fprintln(tw, "\noutcome\tcount")
	for _, o := range trajectory.Outcomes() {
		fmt.Fprintf(tw, "%s\t%d\n", o, r.OutcomeHistogram[o])
	}
	fmt.Fprintln(tw, "\ninvalid kind\tcount")
	for _, k := range puzzle.InvalidKinds() {
		fmt.Fprintf(tw, "%s\t%d\n", k, r.InvalidHistogram[k])
	}
	return tw.Flush()
}

// #endregion export
