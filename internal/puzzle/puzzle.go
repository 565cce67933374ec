package puzzle

import (
	"errors"
	"fmt"
)

// #region puzzle
// Puzzle is an immutable puzzle instance: start and goal states over the
// same P pegs and N blocks, plus an optional stacking rule.
type Puzzle struct {
	id    string
	start State
	goal  State
	rule  Rule
}

// New validates start and goal and returns the puzzle. A nil rule means any
// placement is allowed (block-world).
func New(id string, start, goal State, rule Rule) (Puzzle, error) {
	if id == "" {
		return Puzzle{}, fmt.Errorf("%w: empty id", ErrMalformedPuzzle)
	}
	if start.NumPegs() == 0 {
		return Puzzle{}, fmt.Errorf("%w: %s: no pegs", ErrMalformedPuzzle, id)
	}
	if start.NumPegs() != goal.NumPegs() {
		return Puzzle{}, fmt.Errorf("%w: %s: start has %d pegs, goal has %d",
			ErrMalformedPuzzle, id, start.NumPegs(), goal.NumPegs())
	}
	if err := start.checkPartition(); err != nil {
		return Puzzle{}, fmt.Errorf("%s start: %w", id, err)
	}
	if err := goal.checkPartition(); err != nil {
		return Puzzle{}, fmt.Errorf("%s goal: %w", id, err)
	}
	startSet, goalSet := start.blockSet(), goal.blockSet()
	if len(startSet) != len(goalSet) {
		return Puzzle{}, fmt.Errorf("%w: %s: start has %d blocks, goal has %d",
			ErrMalformedPuzzle, id, len(startSet), len(goalSet))
	}
	for b := range startSet {
		if _, ok := goalSet[b]; !ok {
			return Puzzle{}, fmt.Errorf("%w: %s: block %s missing from goal", ErrMalformedPuzzle, id, b)
		}
	}
	p := Puzzle{id: id, start: start, goal: goal, rule: rule}
	if rule != nil {
		for _, s := range []State{start, goal} {
			if err := p.checkStacks(s); err != nil {
				return Puzzle{}, err
			}
		}
	}
	return p, nil
}

// MustNew is New for fixtures known to be valid. It panics on error.
func MustNew(id string, start, goal State, rule Rule) Puzzle {
	p, err := New(id, start, goal, rule)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Puzzle) ID() string     { return p.id }
func (p Puzzle) Start() State   { return p.start }
func (p Puzzle) Goal() State    { return p.goal }
func (p Puzzle) NumPegs() int   { return p.start.NumPegs() }
func (p Puzzle) NumBlocks() int { return p.start.NumBlocks() }
func (p Puzzle) Rule() Rule     { return p.rule }

// Variant names the stacking rule, "blocksworld" when unconstrained.
func (p Puzzle) Variant() string {
	if p.rule == nil {
		return "blocksworld"
	}
	return p.rule.Name()
}

// IsGoal reports whether s equals the goal state.
func (p Puzzle) IsGoal(s State) bool { return s.Equal(p.goal) }

func (p Puzzle) checkStacks(s State) error {
	for i := 0; i < s.NumPegs(); i++ {
		peg := s.pegs[i]
		for j := 1; j < len(peg); j++ {
			if !p.rule.Allows(peg[j], peg[j-1]) {
				return fmt.Errorf("%w: %s: %s on %s violates %s rule",
					ErrMalformedPuzzle, p.id, peg[j], peg[j-1], p.rule.Name())
			}
		}
	}
	return nil
}

// ValidState reports whether s could occur in p: same peg count, every
// block of the puzzle exactly once and no other, and the stacking rule holds.
func (p Puzzle) ValidState(s State) error {
	if s.NumPegs() != p.NumPegs() {
		return fmt.Errorf("%w: %s: state has %d pegs, puzzle has %d",
			ErrMalformedState, p.id, s.NumPegs(), p.NumPegs())
	}
	if err := s.checkPartition(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedState, p.id, err)
	}
	set := s.blockSet()
	if len(set) != p.NumBlocks() {
		return fmt.Errorf("%w: %s: state has %d blocks, puzzle has %d",
			ErrMalformedState, p.id, len(set), p.NumBlocks())
	}
	for b := range set {
		if _, _, ok := p.start.Locate(b); !ok {
			return fmt.Errorf("%w: %s: unknown block %s", ErrMalformedState, p.id, b)
		}
	}
	if p.rule != nil {
		if err := p.checkStacks(s); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedState, err)
		}
	}
	return nil
}

// #endregion puzzle

// #region legality
// Check validates a against s. It returns nil when legal, an *ActionError
// when the action is well-formed but illegal, and an ErrMalformedAction
// error when the action or state is unusable.
func (p Puzzle) Check(s State, a Action) error {
	if err := a.WellFormed(); err != nil {
		return err
	}
	if s.NumPegs() != p.NumPegs() {
		return fmt.Errorf("%w: state has %d pegs, puzzle %s has %d",
			ErrMalformedAction, s.NumPegs(), p.id, p.NumPegs())
	}
	if a.IsStop() {
		return nil
	}

	n := s.NumPegs()
	if a.From < 0 || a.From >= n || a.To < 0 || a.To >= n {
		return &ActionError{Kind: InvalidPeg, Action: a, Reason: fmt.Sprintf("pegs must be in [0,%d)", n)}
	}
	if a.From == a.To {
		return &ActionError{Kind: InvalidPeg, Action: a, Reason: "source and target are the same peg"}
	}

	top, ok := s.Top(a.From)
	if !ok {
		return &ActionError{Kind: EmptySource, Action: a, Reason: fmt.Sprintf("peg %d is empty", a.From)}
	}
	if top != a.Block {
		for _, b := range s.pegs[a.From] {
			if b == a.Block {
				return &ActionError{Kind: NotOnTop, Action: a,
					Reason: fmt.Sprintf("%s is under %s on peg %d", a.Block, top, a.From)}
			}
		}
		return &ActionError{Kind: WrongBlock, Action: a,
			Reason: fmt.Sprintf("%s is not on peg %d", a.Block, a.From)}
	}

	if p.rule != nil {
		if onto, ok := s.Top(a.To); ok && !p.rule.Allows(a.Block, onto) {
			return &ActionError{Kind: StackingViolation, Action: a,
				Reason: fmt.Sprintf("%s cannot be placed on %s (%s rule)", a.Block, onto, p.rule.Name())}
		}
	}
	return nil
}

// IsLegal reports whether a may be applied to s.
func (p Puzzle) IsLegal(s State, a Action) bool {
	return p.Check(s, a) == nil
}

// Apply returns the state after a. STOP returns s unchanged with terminal
// set. The input state is never modified: the moved block's source peg is
// re-sliced with a clipped capacity and only the target peg is reallocated.
func (p Puzzle) Apply(s State, a Action) (next State, terminal bool, err error) {
	if err := p.Check(s, a); err != nil {
		return State{}, false, err
	}
	if a.IsStop() {
		return s, true, nil
	}

	pegs := make([][]Block, len(s.pegs))
	copy(pegs, s.pegs)

	src := s.pegs[a.From]
	pegs[a.From] = src[: len(src)-1 : len(src)-1]

	dst := s.pegs[a.To]
	grown := make([]Block, len(dst)+1)
	copy(grown, dst)
	grown[len(dst)] = a.Block
	pegs[a.To] = grown

	return newState(pegs), false, nil
}

// LegalMoves enumerates the legal moves from s in (from, to) order.
func (p Puzzle) LegalMoves(s State) []Action {
	var moves []Action
	for from := 0; from < s.NumPegs(); from++ {
		top, ok := s.Top(from)
		if !ok {
			continue
		}
		for to := 0; to < s.NumPegs(); to++ {
			m := Move(top, from, to)
			if p.Check(s, m) == nil {
				moves = append(moves, m)
			}
		}
	}
	return moves
}

// InvalidKindOf extracts the subtype from an error returned by Check or Apply.
func InvalidKindOf(err error) (InvalidKind, bool) {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}

// #endregion legality
