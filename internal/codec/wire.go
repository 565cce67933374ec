package codec

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
)

// ErrBadMessage is returned for wire messages that do not have the expected shape.
var ErrBadMessage = errors.New("bad policy message")

// #region state
// EncodeState renders a prediction request:
// {"puzzle_id": "...", "pegs": [["A","B"], [], ...]}.
func EncodeState(puzzleID string, s puzzle.State) (*structpb.Struct, error) {
	pegs := make([]any, s.NumPegs())
	for i, peg := range s.Pegs() {
		blocks := make([]any, len(peg))
		for j, b := range peg {
			blocks[j] = string(b)
		}
		pegs[i] = blocks
	}
	return structpb.NewStruct(map[string]any{
		"puzzle_id": puzzleID,
		"pegs":      pegs,
	})
}

// DecodeState parses a prediction request. The state's partition is not
// checked against any puzzle here.
func DecodeState(msg *structpb.Struct) (string, puzzle.State, error) {
	id := msg.GetFields()["puzzle_id"].GetStringValue()
	if id == "" {
		return "", puzzle.State{}, fmt.Errorf("%w: missing puzzle_id", ErrBadMessage)
	}
	list := msg.GetFields()["pegs"].GetListValue()
	if list == nil {
		return "", puzzle.State{}, fmt.Errorf("%w: missing pegs", ErrBadMessage)
	}
	pegs := make([][]puzzle.Block, len(list.GetValues()))
	for i, v := range list.GetValues() {
		peg := v.GetListValue()
		if peg == nil {
			return "", puzzle.State{}, fmt.Errorf("%w: peg %d is not a list", ErrBadMessage, i)
		}
		for j, b := range peg.GetValues() {
			name, ok := b.GetKind().(*structpb.Value_StringValue)
			if !ok || name.StringValue == "" {
				return "", puzzle.State{}, fmt.Errorf("%w: peg %d position %d is not a block name", ErrBadMessage, i, j)
			}
			pegs[i] = append(pegs[i], puzzle.Block(name.StringValue))
		}
	}
	return id, puzzle.NewState(pegs...), nil
}

// #endregion state

// #region action
// EncodeAction renders {"kind":"move","block":"A","from":0,"to":1} or {"kind":"stop"}.
func EncodeAction(a puzzle.Action) (*structpb.Struct, error) {
	if err := a.WellFormed(); err != nil {
		return nil, err
	}
	if a.IsStop() {
		return structpb.NewStruct(map[string]any{"kind": "stop"})
	}
	return structpb.NewStruct(map[string]any{
		"kind":  "move",
		"block": string(a.Block),
		"from":  a.From,
		"to":    a.To,
	})
}

// DecodeAction parses a prediction response. Shape problems wrap both
// ErrBadMessage and puzzle.ErrMalformedAction.
func DecodeAction(msg *structpb.Struct) (puzzle.Action, error) {
	fields := msg.GetFields()
	from, err := index(fields, "from")
	if err != nil {
		return puzzle.Action{}, err
	}
	to, err := index(fields, "to")
	if err != nil {
		return puzzle.Action{}, err
	}
	a, err := puzzle.ParseAction(
		fields["kind"].GetStringValue(),
		puzzle.Block(fields["block"].GetStringValue()),
		from, to,
	)
	if err != nil {
		return puzzle.Action{}, fmt.Errorf("%w: %w", ErrBadMessage, err)
	}
	return a, nil
}

func index(fields map[string]*structpb.Value, key string) (*int, error) {
	v, ok := fields[key]
	if !ok {
		return nil, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) {
		return nil, fmt.Errorf("%w: %w: %s is not an integer", ErrBadMessage, puzzle.ErrMalformedAction, key)
	}
	if n.NumberValue < math.MinInt32 || n.NumberValue > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %w: %s out of range", ErrBadMessage, puzzle.ErrMalformedAction, key)
	}
	i := int(n.NumberValue)
	return &i, nil
}

// #endregion action
