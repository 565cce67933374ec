package dataset

import (
	"errors"

	"github.com/danielpatrickdp/rollout-eval/internal/eval"
	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
)

// ErrBadFixture marks a fixture that cannot be turned into puzzles.
var ErrBadFixture = errors.New("bad fixture")

// Variant names accepted in fixtures.
const (
	VariantBlocksworld = "blocksworld"
	VariantHanoi       = "hanoi"
)

// #region fixture-types
// Fixture is the on-disk description of a puzzle suite, in YAML or JSON.
type Fixture struct {
	Description    string          `yaml:"description" json:"description"`
	DeriveExamples bool            `yaml:"derive_examples" json:"derive_examples"`
	Puzzles        []FixturePuzzle `yaml:"puzzles" json:"puzzles"`
}

// FixturePuzzle is one puzzle instance. Pegs list blocks bottom to top.
// Hanoi sizes default to tower order when every block starts or ends on a
// single peg (bottom is largest).
type FixturePuzzle struct {
	ID       string           `yaml:"id" json:"id"`
	Variant  string           `yaml:"variant" json:"variant"`
	Sizes    map[string]int   `yaml:"sizes,omitempty" json:"sizes,omitempty"`
	Start    [][]string       `yaml:"start" json:"start"`
	Goal     [][]string       `yaml:"goal" json:"goal"`
	Examples []FixtureExample `yaml:"examples,omitempty" json:"examples,omitempty"`
}

// FixtureExample is one explicit teacher-forcing pair.
type FixtureExample struct {
	State  [][]string    `yaml:"state" json:"state"`
	Action FixtureAction `yaml:"action" json:"action"`
}

// FixtureAction mirrors the action wire format.
type FixtureAction struct {
	Kind  string `yaml:"kind" json:"kind"`
	Block string `yaml:"block,omitempty" json:"block,omitempty"`
	From  *int   `yaml:"from,omitempty" json:"from,omitempty"`
	To    *int   `yaml:"to,omitempty" json:"to,omitempty"`
}

// #endregion fixture-types

// #region source
// Source produces the puzzles of a batch. Order carries no meaning.
type Source interface {
	Puzzles() ([]puzzle.Puzzle, error)
}

// Dataset is a loaded suite: puzzles plus teacher-forcing examples.
type Dataset struct {
	Description string
	puzzles     []puzzle.Puzzle
	examples    []eval.Example
}

// Puzzles returns a copy of the puzzle list.
func (d *Dataset) Puzzles() ([]puzzle.Puzzle, error) {
	return append([]puzzle.Puzzle(nil), d.puzzles...), nil
}

// Examples returns a copy of the teacher-forcing examples.
func (d *Dataset) Examples() []eval.Example {
	return append([]eval.Example(nil), d.examples...)
}

type static []puzzle.Puzzle

// Static wraps an in-memory puzzle list.
func Static(puzzles ...puzzle.Puzzle) Source { return static(puzzles) }

func (s static) Puzzles() ([]puzzle.Puzzle, error) {
	return append([]puzzle.Puzzle(nil), s...), nil
}

// #endregion source
