package detect

import "github.com/danielpatrickdp/rollout-eval/internal/trajectory"

// #region config
// Config holds the thresholds of the per-trajectory detectors.
type Config struct {
	ModeCollapseK      int // identical trailing moves needed to fire
	OscillationWindow  int // trailing visited states examined
	OscillationRepeats int // occurrences of one state within the window needed to fire
}

// DefaultConfig returns K=5, W=6, 3 repeats.
func DefaultConfig() Config {
	return Config{
		ModeCollapseK:      5,
		OscillationWindow:  6,
		OscillationRepeats: 3,
	}
}

// #endregion config

// #region stop-bias-config
// StopBiasConfig sets the expected STOP frequency and the tolerance above it.
// When Margin is positive the threshold is additive (expected + margin);
// otherwise it is multiplicative (expected * multiplier).
type StopBiasConfig struct {
	ExpectedRate float64
	Multiplier   float64
	Margin       float64
}

// DefaultStopBiasConfig flags a policy whose STOP rate exceeds twice the 10% base rate.
func DefaultStopBiasConfig() StopBiasConfig {
	return StopBiasConfig{
		ExpectedRate: 0.10,
		Multiplier:   2.0,
	}
}

// Threshold is the observed rate above which STOP bias fires.
func (c StopBiasConfig) Threshold() float64 {
	if c.Margin > 0 {
		return c.ExpectedRate + c.Margin
	}
	return c.ExpectedRate * c.Multiplier
}

// #endregion stop-bias-config

// #region stop-bias-result
// StopBiasResult is the batch-level STOP bias signal.
type StopBiasResult struct {
	Predictions int     `json:"predictions"`
	Stops       int     `json:"stops"`
	Observed    float64 `json:"observed_rate"`
	Expected    float64 `json:"expected_rate"`
	Threshold   float64 `json:"threshold"`
	Defined     bool    `json:"defined"`
	Fired       bool    `json:"fired"`
}

// #endregion stop-bias-result

// #region precedence
// Precedence orders outcomes from most to least specific diagnosis. When
// several conditions hold on the same step, the earliest listed wins.
var Precedence = []trajectory.Outcome{
	trajectory.FailedInvalidAction,
	trajectory.FailedModeCollapse,
	trajectory.FailedOscillation,
	trajectory.FailedPrematureStop,
	trajectory.FailedTimeout,
	trajectory.Solved,
}

// #endregion precedence
