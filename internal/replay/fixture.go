package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/rollout-eval/internal/config"
	"github.com/danielpatrickdp/rollout-eval/internal/dataset"
	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
	"github.com/danielpatrickdp/rollout-eval/internal/rollout"
	"github.com/danielpatrickdp/rollout-eval/internal/store"
	"github.com/danielpatrickdp/rollout-eval/internal/trajectory"
)

// #region fixture-types

// Fixture is the top-level structure of a replay fixture.
type Fixture struct {
	Description string               `yaml:"description" json:"description"`
	Rollout     config.RolloutConfig `yaml:"rollout" json:"rollout"`
	Cases       []FixtureCase        `yaml:"cases" json:"cases"`
}

// FixtureCase is one scripted rollout with its expected result.
type FixtureCase struct {
	ID          string                  `yaml:"id" json:"id"`
	Puzzle      dataset.FixturePuzzle   `yaml:"puzzle" json:"puzzle"`
	Actions     []dataset.FixtureAction `yaml:"actions" json:"actions"`
	Loop        bool                    `yaml:"loop,omitempty" json:"loop,omitempty"`
	InvalidMode string                  `yaml:"invalid_mode,omitempty" json:"invalid_mode,omitempty"`
	Expect      FixtureExpect           `yaml:"expect" json:"expect"`
}

// FixtureExpect mirrors Expectation with text fields.
type FixtureExpect struct {
	Outcome     string `yaml:"outcome" json:"outcome"`
	Steps       int    `yaml:"steps,omitempty" json:"steps,omitempty"`
	InvalidKind string `yaml:"invalid_kind,omitempty" json:"invalid_kind,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads a YAML or JSON (by extension) replay fixture. Rollout
// settings missing from the file keep their defaults.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	f := Fixture{Rollout: config.Default().Rollout}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &f)
	} else {
		err = yaml.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// EngineConfig validates and converts the fixture's rollout settings.
func (f *Fixture) EngineConfig() (rollout.Config, error) {
	c := config.Default()
	c.Rollout = f.Rollout
	if err := c.Validate(); err != nil {
		return rollout.Config{}, err
	}
	return c.RolloutEngine(), nil
}

// ToCases converts every fixture case.
func (f *Fixture) ToCases() ([]Case, error) {
	cases := make([]Case, 0, len(f.Cases))
	for i := range f.Cases {
		c, err := f.Cases[i].ToCase()
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, nil
}

// ToCase converts a FixtureCase to a domain Case.
func (fc *FixtureCase) ToCase() (Case, error) {
	p, err := fc.Puzzle.ToPuzzle()
	if err != nil {
		return Case{}, fmt.Errorf("case %s: %w", fc.ID, err)
	}
	actions := make([]puzzle.Action, len(fc.Actions))
	for i, fa := range fc.Actions {
		if actions[i], err = puzzle.ParseAction(fa.Kind, puzzle.Block(fa.Block), fa.From, fa.To); err != nil {
			return Case{}, fmt.Errorf("case %s action %d: %w", fc.ID, i, err)
		}
	}
	outcome, err := trajectory.ParseOutcome(fc.Expect.Outcome)
	if err != nil {
		return Case{}, fmt.Errorf("case %s: %w", fc.ID, err)
	}
	return Case{
		ID:      fc.ID,
		Puzzle:  p,
		Actions: actions,
		Loop:    fc.Loop,
		Mode:    rollout.InvalidMode(fc.InvalidMode),
		Expect: Expectation{
			Outcome:     outcome,
			Steps:       fc.Expect.Steps,
			InvalidKind: puzzle.InvalidKind(fc.Expect.InvalidKind),
		},
	}, nil
}

// SaveFixture writes f as YAML, or JSON when path ends in .json.
func SaveFixture(path string, f *Fixture) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(f, "", "  ")
	} else {
		data, err = yaml.Marshal(f)
	}
	if err != nil {
		return fmt.Errorf("encode fixture: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// #endregion fixture-loader

// #region fixture-export

// NewFixture renders cases back into fixture form. Puzzles keep their
// variant and block sizes so the fixture loads to the same rules.
func NewFixture(description string, settings config.RolloutConfig, cases []Case) *Fixture {
	f := &Fixture{Description: description, Rollout: settings}
	for _, c := range cases {
		rendered := dataset.FromDataset("", []puzzle.Puzzle{c.Puzzle}, nil)
		fc := FixtureCase{
			ID:          c.ID,
			Puzzle:      rendered.Puzzles[0],
			Actions:     make([]dataset.FixtureAction, len(c.Actions)),
			Loop:        c.Loop,
			InvalidMode: string(c.Mode),
			Expect: FixtureExpect{
				Outcome:     c.Expect.Outcome.String(),
				Steps:       c.Expect.Steps,
				InvalidKind: string(c.Expect.InvalidKind),
			},
		}
		for i, a := range c.Actions {
			fc.Actions[i] = dataset.FromAction(a)
		}
		f.Cases = append(f.Cases, fc)
	}
	return f
}

// #endregion fixture-export

// #region recorded-runs

type recordedTrajectory struct {
	PuzzleID string `json:"puzzle_id"`
	Steps    []struct {
		Action puzzle.Action `json:"action"`
	} `json:"steps"`
}

// FromRun turns the stored attempts of a run back into cases that expect the
// recorded outcome, so a run can be checked for reproducibility under the
// current engine. puzzles must contain every puzzle the run attempted.
func FromRun(puzzles []puzzle.Puzzle, outcomes []store.OutcomeRecord) ([]Case, error) {
	byID := make(map[string]puzzle.Puzzle, len(puzzles))
	for _, p := range puzzles {
		byID[p.ID()] = p
	}

	cases := make([]Case, 0, len(outcomes))
	for _, o := range outcomes {
		p, ok := byID[o.PuzzleID]
		if !ok {
			return nil, fmt.Errorf("run %s: puzzle %s not in fixture", o.RunID, o.PuzzleID)
		}
		var rec recordedTrajectory
		if err := json.Unmarshal([]byte(o.TrajectoryJSON), &rec); err != nil {
			return nil, fmt.Errorf("run %s puzzle %s: decode trajectory: %w", o.RunID, o.PuzzleID, err)
		}
		actions := make([]puzzle.Action, len(rec.Steps))
		for i, st := range rec.Steps {
			actions[i] = st.Action
		}
		cases = append(cases, Case{
			ID:      o.RunID + "/" + o.PuzzleID,
			Puzzle:  p,
			Actions: actions,
			Expect: Expectation{
				Outcome:     o.Outcome,
				Steps:       o.Steps,
				InvalidKind: o.InvalidKind,
			},
		})
	}
	return cases, nil
}

// #endregion recorded-runs
