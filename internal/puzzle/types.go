package puzzle

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// #region errors
var (
	// ErrMalformedPuzzle marks a puzzle whose start or goal breaks the state invariants.
	ErrMalformedPuzzle = errors.New("malformed puzzle")

	// ErrMalformedAction marks an action that has no meaning at all (not merely illegal).
	ErrMalformedAction = errors.New("malformed action")

	// ErrIllegalMove is the sentinel every *ActionError unwraps to.
	ErrIllegalMove = errors.New("illegal move")

	// ErrMalformedState marks a state that cannot occur in its puzzle.
	ErrMalformedState = errors.New("malformed state")
)

// #endregion errors

// #region block
// Block identifies a single puzzle piece. IDs are unique within a puzzle.
type Block string

// #endregion block

// #region state
// State is an immutable configuration of P pegs, each a stack of blocks
// listed bottom to top. Pegs that a transition does not touch share their
// backing storage with the predecessor state.
type State struct {
	pegs [][]Block
	key  string
}

// NewState builds a state from peg contents. The input slices are copied.
func NewState(pegs ...[]Block) State {
	cp := make([][]Block, len(pegs))
	for i, p := range pegs {
		cp[i] = append([]Block(nil), p...)
	}
	return newState(cp)
}

func newState(pegs [][]Block) State {
	return State{pegs: pegs, key: encodeKey(pegs)}
}

// NumPegs returns P.
func (s State) NumPegs() int { return len(s.pegs) }

// NumBlocks returns the total number of blocks across all pegs.
func (s State) NumBlocks() int {
	n := 0
	for _, p := range s.pegs {
		n += len(p)
	}
	return n
}

// Peg returns a copy of peg i, bottom to top.
func (s State) Peg(i int) []Block {
	return append([]Block(nil), s.pegs[i]...)
}

// Pegs returns a deep copy of all pegs.
func (s State) Pegs() [][]Block {
	out := make([][]Block, len(s.pegs))
	for i := range s.pegs {
		out[i] = s.Peg(i)
	}
	return out
}

// Height returns the number of blocks on peg i.
func (s State) Height(i int) int { return len(s.pegs[i]) }

// Top returns the top block of peg i, or false if the peg is empty.
func (s State) Top(i int) (Block, bool) {
	p := s.pegs[i]
	if len(p) == 0 {
		return "", false
	}
	return p[len(p)-1], true
}

// Locate returns the peg index and height position of b.
func (s State) Locate(b Block) (peg, pos int, ok bool) {
	for i, p := range s.pegs {
		for j, x := range p {
			if x == b {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

// Equal reports whether both states have identical ordered peg contents.
func (s State) Equal(o State) bool {
	return len(s.pegs) == len(o.pegs) && s.key == o.key
}

// Key is a canonical encoding of the state, suitable as a map key.
func (s State) Key() string { return s.key }

// String renders the state as [[A,B],[],[C]].
func (s State) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, p := range s.pegs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('[')
		for j, x := range p {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(string(x))
		}
		b.WriteByte(']')
	}
	b.WriteByte(']')
	return b.String()
}

// MarshalJSON encodes the state as a list of pegs.
func (s State) MarshalJSON() ([]byte, error) {
	pegs := s.pegs
	if pegs == nil {
		pegs = [][]Block{}
	}
	out := make([][]Block, len(pegs))
	for i, p := range pegs {
		if p == nil {
			p = []Block{}
		}
		out[i] = p
	}
	return json.Marshal(out)
}

// checkPartition verifies that no block is empty, reserved, or repeated.
func (s State) checkPartition() error {
	seen := make(map[Block]int, s.NumBlocks())
	for i, p := range s.pegs {
		for _, b := range p {
			if b == "" {
				return fmt.Errorf("%w: empty block id on peg %d", ErrMalformedPuzzle, i)
			}
			if strings.ContainsAny(string(b), ",|") {
				return fmt.Errorf("%w: block id %q contains a reserved character", ErrMalformedPuzzle, b)
			}
			if prev, dup := seen[b]; dup {
				return fmt.Errorf("%w: block %s appears on peg %d and peg %d", ErrMalformedPuzzle, b, prev, i)
			}
			seen[b] = i
		}
	}
	return nil
}

func (s State) blockSet() map[Block]struct{} {
	set := make(map[Block]struct{}, s.NumBlocks())
	for _, p := range s.pegs {
		for _, b := range p {
			set[b] = struct{}{}
		}
	}
	return set
}

func encodeKey(pegs [][]Block) string {
	var b strings.Builder
	for i, p := range pegs {
		if i > 0 {
			b.WriteByte('|')
		}
		for j, x := range p {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(string(x))
		}
	}
	return b.String()
}

// #endregion state

// #region action
// ActionKind distinguishes moves from the STOP sentinel. The zero value is malformed.
type ActionKind uint8

const (
	KindMove ActionKind = iota + 1
	KindStop
)

// Action is either Move(block, from, to) or STOP.
type Action struct {
	Kind  ActionKind
	Block Block
	From  int
	To    int
}

// Move builds a move action. Legality is checked against a state separately.
func Move(b Block, from, to int) Action {
	return Action{Kind: KindMove, Block: b, From: from, To: to}
}

// Stop builds the STOP sentinel.
func Stop() Action {
	return Action{Kind: KindStop}
}

func (a Action) IsStop() bool { return a.Kind == KindStop }
func (a Action) IsMove() bool { return a.Kind == KindMove }

// Equal is exact structural equality: same block and peg pair, or both STOP.
func (a Action) Equal(o Action) bool {
	if a.Kind != o.Kind {
		return false
	}
	if a.Kind == KindStop {
		return true
	}
	return a.Block == o.Block && a.From == o.From && a.To == o.To
}

// WellFormed rejects actions with no meaning at all.
func (a Action) WellFormed() error {
	switch a.Kind {
	case KindStop:
		return nil
	case KindMove:
		if a.Block == "" {
			return fmt.Errorf("%w: move without a block", ErrMalformedAction)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrMalformedAction, a.Kind)
	}
}

func (a Action) String() string {
	switch a.Kind {
	case KindStop:
		return "STOP"
	case KindMove:
		return fmt.Sprintf("Move(%s, %d, %d)", a.Block, a.From, a.To)
	default:
		return fmt.Sprintf("Action(kind=%d)", a.Kind)
	}
}

type actionJSON struct {
	Kind  string `json:"kind"`
	Block Block  `json:"block,omitempty"`
	From  *int   `json:"from,omitempty"`
	To    *int   `json:"to,omitempty"`
}

// MarshalJSON encodes {"kind":"move","block":"A","from":0,"to":1} or {"kind":"stop"}.
func (a Action) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case KindStop:
		return json.Marshal(actionJSON{Kind: "stop"})
	case KindMove:
		from, to := a.From, a.To
		return json.Marshal(actionJSON{Kind: "move", Block: a.Block, From: &from, To: &to})
	default:
		return nil, a.WellFormed()
	}
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (a *Action) UnmarshalJSON(data []byte) error {
	var raw actionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseAction(raw.Kind, raw.Block, raw.From, raw.To)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAction builds an action from its loosely-typed wire fields.
func ParseAction(kind string, block Block, from, to *int) (Action, error) {
	switch strings.ToLower(kind) {
	case "stop":
		return Stop(), nil
	case "move":
		if from == nil || to == nil {
			return Action{}, fmt.Errorf("%w: move needs from and to", ErrMalformedAction)
		}
		a := Move(block, *from, *to)
		if err := a.WellFormed(); err != nil {
			return Action{}, err
		}
		return a, nil
	default:
		return Action{}, fmt.Errorf("%w: unknown kind %q", ErrMalformedAction, kind)
	}
}

// #endregion action

// #region action-error
// InvalidKind classifies why a well-formed move is illegal in a state.
type InvalidKind string

const (
	InvalidPeg        InvalidKind = "INVALID_PEG"
	EmptySource       InvalidKind = "EMPTY_SOURCE"
	NotOnTop          InvalidKind = "NOT_ON_TOP"
	WrongBlock        InvalidKind = "WRONG_BLOCK"
	StackingViolation InvalidKind = "STACKING_VIOLATION"
)

// InvalidKinds lists every subtype in reporting order.
func InvalidKinds() []InvalidKind {
	return []InvalidKind{InvalidPeg, EmptySource, NotOnTop, WrongBlock, StackingViolation}
}

// ActionError reports an illegal move. It unwraps to ErrIllegalMove.
type ActionError struct {
	Kind   InvalidKind
	Action Action
	Reason string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("illegal %s: %s: %s", e.Action, e.Kind, e.Reason)
}

func (e *ActionError) Unwrap() error { return ErrIllegalMove }

// #endregion action-error
