package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/rollout-eval/internal/eval"
	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
)

// #region fixture-loader
// LoadFixture reads a fixture file. .json files are parsed as JSON, anything
// else as YAML.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
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

// Load reads a fixture and builds its dataset.
func Load(path string, solveLimit int) (*Dataset, error) {
	f, err := LoadFixture(path)
	if err != nil {
		return nil, err
	}
	d, err := f.Build(solveLimit)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	return d, nil
}

// SaveFixture writes f as YAML, or JSON for .json paths.
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

// #region build
// Build converts the fixture into puzzles and examples. Explicit examples
// are kept; with DeriveExamples set, puzzles without explicit examples get
// examples from a shortest plan.
func (f *Fixture) Build(solveLimit int) (*Dataset, error) {
	d := &Dataset{Description: f.Description}
	seen := make(map[string]bool, len(f.Puzzles))

	for i := range f.Puzzles {
		fp := &f.Puzzles[i]
		if seen[fp.ID] {
			return nil, fmt.Errorf("%w: duplicate puzzle id %q", ErrBadFixture, fp.ID)
		}
		seen[fp.ID] = true

		p, err := fp.ToPuzzle()
		if err != nil {
			return nil, err
		}
		d.puzzles = append(d.puzzles, p)

		switch {
		case len(fp.Examples) > 0:
			for j, fe := range fp.Examples {
				ex, err := fe.toExample(p)
				if err != nil {
					return nil, fmt.Errorf("%w: puzzle %s example %d: %w", ErrBadFixture, fp.ID, j, err)
				}
				d.examples = append(d.examples, ex)
			}
		case f.DeriveExamples:
			examples, err := eval.OptimalExamples(p, solveLimit)
			if err != nil {
				return nil, fmt.Errorf("derive examples for %s: %w", fp.ID, err)
			}
			d.examples = append(d.examples, examples...)
		}
	}
	return d, nil
}

// ToPuzzle validates and converts one fixture puzzle.
func (fp *FixturePuzzle) ToPuzzle() (puzzle.Puzzle, error) {
	start, goal := toState(fp.Start), toState(fp.Goal)

	var rule puzzle.Rule
	switch strings.ToLower(fp.Variant) {
	case "", VariantBlocksworld:
	case VariantHanoi:
		sizes, err := fp.sizes()
		if err != nil {
			return puzzle.Puzzle{}, err
		}
		rule = puzzle.SizeOrdered(sizes)
	default:
		return puzzle.Puzzle{}, fmt.Errorf("%w: puzzle %s: unknown variant %q", ErrBadFixture, fp.ID, fp.Variant)
	}

	p, err := puzzle.New(fp.ID, start, goal, rule)
	if err != nil {
		return puzzle.Puzzle{}, fmt.Errorf("%w: %w", ErrBadFixture, err)
	}
	return p, nil
}

func (fp *FixturePuzzle) sizes() (map[puzzle.Block]int, error) {
	if len(fp.Sizes) > 0 {
		out := make(map[puzzle.Block]int, len(fp.Sizes))
		for b, n := range fp.Sizes {
			out[puzzle.Block(b)] = n
		}
		return out, nil
	}
	for _, pegs := range [][][]string{fp.Start, fp.Goal} {
		if tower := singleTower(pegs); tower != nil {
			out := make(map[puzzle.Block]int, len(tower))
			for i, b := range tower {
				out[puzzle.Block(b)] = len(tower) - i
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: hanoi puzzle %s needs sizes unless start or goal is a single tower", ErrBadFixture, fp.ID)
}

func singleTower(pegs [][]string) []string {
	var tower []string
	for _, p := range pegs {
		if len(p) == 0 {
			continue
		}
		if tower != nil {
			return nil
		}
		tower = p
	}
	return tower
}

func (fe FixtureExample) toExample(p puzzle.Puzzle) (eval.Example, error) {
	a, err := puzzle.ParseAction(fe.Action.Kind, puzzle.Block(fe.Action.Block), fe.Action.From, fe.Action.To)
	if err != nil {
		return eval.Example{}, err
	}
	s := toState(fe.State)
	if err := p.ValidState(s); err != nil {
		return eval.Example{}, err
	}
	return eval.Example{Puzzle: p, State: s, Expected: a}, nil
}

func toState(pegs [][]string) puzzle.State {
	out := make([][]puzzle.Block, len(pegs))
	for i, p := range pegs {
		out[i] = make([]puzzle.Block, len(p))
		for j, b := range p {
			out[i][j] = puzzle.Block(b)
		}
	}
	return puzzle.NewState(out...)
}

// #endregion build

// #region export
// FromDataset renders puzzles and examples back into fixture form, e.g. to
// freeze derived examples.
func FromDataset(description string, puzzles []puzzle.Puzzle, examples []eval.Example) *Fixture {
	f := &Fixture{Description: description}
	index := make(map[string]int, len(puzzles))
	for _, p := range puzzles {
		fp := FixturePuzzle{
			ID:      p.ID(),
			Variant: p.Variant(),
			Start:   fromState(p.Start()),
			Goal:    fromState(p.Goal()),
		}
		if sized, ok := p.Rule().(interface{ Size(puzzle.Block) int }); ok {
			fp.Sizes = make(map[string]int, p.NumBlocks())
			for _, peg := range p.Start().Pegs() {
				for _, b := range peg {
					fp.Sizes[string(b)] = sized.Size(b)
				}
			}
		}
		index[p.ID()] = len(f.Puzzles)
		f.Puzzles = append(f.Puzzles, fp)
	}
	for _, ex := range examples {
		i, ok := index[ex.Puzzle.ID()]
		if !ok {
			continue
		}
		f.Puzzles[i].Examples = append(f.Puzzles[i].Examples, FixtureExample{
			State:  fromState(ex.State),
			Action: FromAction(ex.Expected),
		})
	}
	return f
}

func fromState(s puzzle.State) [][]string {
	out := make([][]string, s.NumPegs())
	for i, peg := range s.Pegs() {
		out[i] = make([]string, len(peg))
		for j, b := range peg {
			out[i][j] = string(b)
		}
	}
	return out
}

// FromAction renders an action in fixture form.
func FromAction(a puzzle.Action) FixtureAction {
	if a.IsStop() {
		return FixtureAction{Kind: "stop"}
	}
	from, to := a.From, a.To
	return FixtureAction{Kind: "move", Block: string(a.Block), From: &from, To: &to}
}

// #endregion export
