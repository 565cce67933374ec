package eval

import (
	"encoding/json"
	"fmt"

	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
)

// #region measure
// Measure is a rate that may be undefined, e.g. accuracy over zero examples.
// Undefined measures encode as JSON null and never compare as 0.
type Measure struct {
	Value   float64
	Defined bool
}

// Known wraps a defined value.
func Known(v float64) Measure { return Measure{Value: v, Defined: true} }

// Undefined returns the undefined measure.
func Undefined() Measure { return Measure{} }

// Ratio returns num/den, undefined when den is 0.
func Ratio(num, den int) Measure {
	if den == 0 {
		return Undefined()
	}
	return Known(float64(num) / float64(den))
}

// Sub returns m - o exactly, undefined if either side is.
func (m Measure) Sub(o Measure) Measure {
	if !m.Defined || !o.Defined {
		return Undefined()
	}
	return Known(m.Value - o.Value)
}

// Ptr returns nil for undefined measures, for nullable storage columns.
func (m Measure) Ptr() *float64 {
	if !m.Defined {
		return nil
	}
	v := m.Value
	return &v
}

func (m Measure) String() string {
	if !m.Defined {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", m.Value)
}

func (m Measure) MarshalJSON() ([]byte, error) {
	if !m.Defined {
		return []byte("null"), nil
	}
	return json.Marshal(m.Value)
}

func (m *Measure) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = Undefined()
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = Known(v)
	return nil
}

// #endregion measure

// #region config
// Config holds teacher-forcing evaluation settings.
type Config struct {
	MaxMismatches int // wrong predictions retained for inspection
}

// DefaultConfig keeps five mismatches.
func DefaultConfig() Config {
	return Config{MaxMismatches: 5}
}

// #endregion config

// #region example
// Example is one ground-truth (state, expected action) pair. Examples are
// independent: no example depends on another's prediction.
type Example struct {
	Puzzle   puzzle.Puzzle
	State    puzzle.State
	Expected puzzle.Action
}

// Mismatch records a wrong single-step prediction.
type Mismatch struct {
	PuzzleID  string        `json:"puzzle_id"`
	State     puzzle.State  `json:"state"`
	Expected  puzzle.Action `json:"expected"`
	Predicted puzzle.Action `json:"predicted"`
}

// #endregion example

// #region result
// Metric is one named breakdown of the evaluation.
type Metric struct {
	Name  string  `json:"name"`
	Value Measure `json:"value"`
}

// Result is the outcome of a teacher-forcing pass.
type Result struct {
	Correct     int             `json:"correct"`
	Total       int             `json:"total"`
	Accuracy    Measure         `json:"accuracy"`
	Metrics     []Metric        `json:"metrics"`
	Predictions []puzzle.Action `json:"-"`
	Mismatches  []Mismatch      `json:"mismatches"`
}

// #endregion result
