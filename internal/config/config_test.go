package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/rollout-eval/internal/detect"
	"github.com/danielpatrickdp/rollout-eval/internal/rollout"
	"github.com/danielpatrickdp/rollout-eval/internal/runner"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rolleval.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestDefault_MatchesPackageDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, rollout.DefaultConfig(), cfg.RolloutEngine())
	assert.Equal(t, runner.DefaultConfig(), cfg.BatchRunner())
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeFile(t, `
rollout:
  max_steps: 40
  invalid_mode: hold
stop_bias:
  margin: 0.05
log:
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 40, cfg.Rollout.MaxSteps)
	assert.Equal(t, rollout.InvalidHold, cfg.RolloutEngine().InvalidMode)
	assert.Equal(t, 5, cfg.Rollout.ModeCollapseK, "unset keys keep defaults")
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.InDelta(t, 0.15, cfg.BatchRunner().StopBias.Threshold(), 1e-9)
}

func TestLoad_EmptyFileIsDefault(t *testing.T) {
	cfg, err := Load(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeFile(t, "rollout:\n  max_stepz: 3\n"))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"zero max steps":     func(c *Config) { c.Rollout.MaxSteps = 0 },
		"unknown mode":       func(c *Config) { c.Rollout.InvalidMode = "ignore" },
		"rate above one":     func(c *Config) { c.StopBias.ExpectedRate = 1.5 },
		"no workers":         func(c *Config) { c.Runner.Workers = 0 },
		"unknown log level":  func(c *Config) { c.Log.Level = "trace" },
		"bad metrics addr":   func(c *Config) { c.Metrics.Addr = "not an address" },
		"negative oscillate": func(c *Config) { c.Rollout.OscillationWindow = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}

	ok := Default()
	ok.Metrics.Addr = "localhost:9090"
	assert.NoError(t, ok.Validate())
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnvFrom(env(map[string]string{
		EnvMaxSteps:     "25",
		EnvWorkers:      "2",
		EnvInvalidMode:  "hold",
		EnvExpectedStop: "0.2",
		EnvStorePath:    "/tmp/runs.db",
		EnvLogLevel:     "debug",
		EnvMetricsAddr:  "",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 25, cfg.Rollout.MaxSteps)
	assert.Equal(t, 2, cfg.Runner.Workers)
	assert.Equal(t, "hold", cfg.Rollout.InvalidMode)
	assert.Equal(t, 0.2, cfg.StopBias.ExpectedRate)
	assert.Equal(t, "/tmp/runs.db", cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Logging("rolleval").Level)
	assert.Empty(t, cfg.Metrics.Addr, "empty variables are ignored")
}

func TestApplyEnv_BadNumber(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnvFrom(env(map[string]string{EnvWorkers: "many"}))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestBatchRunner_StopBiasDefaults(t *testing.T) {
	assert.Equal(t, detect.DefaultStopBiasConfig(), Default().BatchRunner().StopBias)
}

func TestResolve_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, `
rollout:
  max_steps: 40
  invalid_mode: terminate
`)
	cfg, err := Resolve(path, env(map[string]string{EnvInvalidMode: "hold"}))
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Rollout.MaxSteps)
	assert.Equal(t, "hold", cfg.Rollout.InvalidMode)
	assert.Equal(t, rollout.InvalidHold, cfg.RolloutEngine().InvalidMode)
}

func TestResolve_EnvWithoutFile(t *testing.T) {
	cfg, err := Resolve("", env(map[string]string{EnvMaxSteps: "12"}))
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Rollout.MaxSteps)
	assert.Equal(t, Default().Rollout.InvalidMode, cfg.Rollout.InvalidMode)

	_, err = Resolve("", env(map[string]string{EnvMaxSteps: "many"}))
	assert.Error(t, err)
}

func TestResolve_MissingFile(t *testing.T) {
	_, err := Resolve(filepath.Join(t.TempDir(), "nope.yaml"), env(nil))
	assert.Error(t, err)
}
