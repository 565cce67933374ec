package trajectory

import (
	"errors"
	"fmt"

	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
)

// #region errors
var (
	// ErrSealed is returned when appending to or re-sealing a finished trajectory.
	ErrSealed = errors.New("trajectory already sealed")

	// ErrNoOutcome is returned when sealing with the zero Outcome.
	ErrNoOutcome = errors.New("outcome not set")
)

// #endregion errors

// #region outcome
// Outcome is the terminal classification of a trajectory. The zero value
// means the trajectory is still open.
type Outcome uint8

const (
	Solved Outcome = iota + 1
	FailedInvalidAction
	FailedModeCollapse
	FailedOscillation
	FailedPrematureStop
	FailedTimeout
)

// Outcomes lists the six kinds in reporting order.
func Outcomes() []Outcome {
	return []Outcome{Solved, FailedInvalidAction, FailedModeCollapse, FailedOscillation, FailedPrematureStop, FailedTimeout}
}

func (o Outcome) String() string {
	switch o {
	case Solved:
		return "SOLVED"
	case FailedInvalidAction:
		return "FAILED_INVALID_ACTION"
	case FailedModeCollapse:
		return "FAILED_MODE_COLLAPSE"
	case FailedOscillation:
		return "FAILED_OSCILLATION"
	case FailedPrematureStop:
		return "FAILED_PREMATURE_STOP"
	case FailedTimeout:
		return "FAILED_TIMEOUT"
	case 0:
		return "RUNNING"
	default:
		return fmt.Sprintf("Outcome(%d)", uint8(o))
	}
}

// Valid reports whether o is one of the six terminal kinds.
func (o Outcome) Valid() bool { return o >= Solved && o <= FailedTimeout }

// IsFailure reports whether o is a FAILED_* kind.
func (o Outcome) IsFailure() bool { return o.Valid() && o != Solved }

// MarshalText makes Outcome usable as a JSON value and map key.
func (o Outcome) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("marshal outcome: %w", ErrNoOutcome)
	}
	return []byte(o.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (o *Outcome) UnmarshalText(text []byte) error {
	parsed, err := ParseOutcome(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// ParseOutcome maps the canonical name back to an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	for _, o := range Outcomes() {
		if o.String() == s {
			return o, nil
		}
	}
	return 0, fmt.Errorf("unknown outcome %q", s)
}

// #endregion outcome

// #region flag
// Flag marks a detector firing on a step. A step may carry flags for
// detectors that fired but lost on precedence.
type Flag string

const (
	FlagInvalidAction Flag = "invalid_action"
	FlagModeCollapse  Flag = "mode_collapse"
	FlagOscillation   Flag = "oscillation"
	FlagPrematureStop Flag = "premature_stop"
)

// #endregion flag

// #region step
// Step is one (state, action, next state) record. After is nil when the
// action was illegal.
type Step struct {
	Index       int                `json:"index"`
	Before      puzzle.State       `json:"state_before"`
	Action      puzzle.Action      `json:"action"`
	After       *puzzle.State      `json:"state_after"`
	Valid       bool               `json:"valid"`
	InvalidKind puzzle.InvalidKind `json:"invalid_kind,omitempty"`
	Flags       []Flag             `json:"flags,omitempty"`
}

// HasFlag reports whether f was attached to the step.
func (s Step) HasFlag(f Flag) bool {
	for _, x := range s.Flags {
		if x == f {
			return true
		}
	}
	return false
}

// #endregion step
