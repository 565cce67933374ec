package rollout

import (
	"errors"
	"fmt"

	"github.com/danielpatrickdp/rollout-eval/internal/detect"
)

// #region errors
var (
	// ErrPolicy wraps any error returned by a policy's Predict call.
	ErrPolicy = errors.New("policy failed")

	// ErrBadConfig is returned by NewEngine for unusable settings.
	ErrBadConfig = errors.New("invalid rollout config")
)

// #endregion errors

// #region config
// InvalidMode selects what an illegal move does to a running trajectory.
type InvalidMode string

const (
	// InvalidTerminate ends the run with FAILED_INVALID_ACTION on the first illegal move.
	InvalidTerminate InvalidMode = "terminate"

	// InvalidHold records the illegal move, keeps the current state and
	// continues. The step still counts toward MaxSteps.
	InvalidHold InvalidMode = "hold"
)

// Config bounds a rollout and parameterizes the per-trajectory detectors.
type Config struct {
	MaxSteps    int
	Detect      detect.Config
	InvalidMode InvalidMode
}

// DefaultConfig returns a 100-step budget, default detector thresholds and
// strict invalid-action handling.
func DefaultConfig() Config {
	return Config{
		MaxSteps:    100,
		Detect:      detect.DefaultConfig(),
		InvalidMode: InvalidTerminate,
	}
}

func (c Config) validate() error {
	if c.MaxSteps <= 0 {
		return fmt.Errorf("%w: max steps %d", ErrBadConfig, c.MaxSteps)
	}
	switch c.InvalidMode {
	case InvalidTerminate, InvalidHold:
	default:
		return fmt.Errorf("%w: invalid mode %q", ErrBadConfig, c.InvalidMode)
	}
	return nil
}

// #endregion config
