// Package config loads evaluator settings from YAML with environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/rollout-eval/internal/detect"
	"github.com/danielpatrickdp/rollout-eval/internal/eval"
	"github.com/danielpatrickdp/rollout-eval/internal/logging"
	"github.com/danielpatrickdp/rollout-eval/internal/report"
	"github.com/danielpatrickdp/rollout-eval/internal/rollout"
	"github.com/danielpatrickdp/rollout-eval/internal/runner"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

var validate = validator.New()

// #region types
// Config is the complete evaluator configuration.
type Config struct {
	Rollout  RolloutConfig  `yaml:"rollout" json:"rollout"`
	StopBias StopBiasConfig `yaml:"stop_bias" json:"stop_bias"`
	Report   ReportConfig   `yaml:"report" json:"report"`
	Runner   RunnerConfig   `yaml:"runner" json:"runner"`
	Store    StoreConfig    `yaml:"store" json:"store"`
	Log      LogConfig      `yaml:"log" json:"log"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
}

// RolloutConfig bounds each rollout and tunes the per-trajectory detectors.
// A detector threshold of 0 disables that detector.
type RolloutConfig struct {
	MaxSteps           int    `yaml:"max_steps" json:"max_steps" validate:"gte=1,lte=100000"`
	ModeCollapseK      int    `yaml:"mode_collapse_k" json:"mode_collapse_k" validate:"gte=0"`
	OscillationWindow  int    `yaml:"oscillation_window" json:"oscillation_window" validate:"gte=0"`
	OscillationRepeats int    `yaml:"oscillation_repeats" json:"oscillation_repeats" validate:"gte=0"`
	InvalidMode        string `yaml:"invalid_mode" json:"invalid_mode" validate:"oneof=terminate hold"`
}

// StopBiasConfig sets the expected STOP rate and the tolerance above it.
type StopBiasConfig struct {
	ExpectedRate float64 `yaml:"expected_rate" json:"expected_rate" validate:"gte=0,lte=1"`
	Multiplier   float64 `yaml:"multiplier" json:"multiplier" validate:"gte=0"`
	Margin       float64 `yaml:"margin" json:"margin" validate:"gte=0,lte=1"`
}

// ReportConfig bounds what reports keep.
type ReportConfig struct {
	ExamplesPerKind int `yaml:"examples_per_kind" json:"examples_per_kind" validate:"gte=0"`
	MaxMismatches   int `yaml:"max_mismatches" json:"max_mismatches" validate:"gte=0"`
}

type RunnerConfig struct {
	Workers int `yaml:"workers" json:"workers" validate:"gte=1,lte=1024"`
}

type StoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" json:"addr" validate:"omitempty,hostname_port"`
}

// #endregion types

// #region defaults
// Default mirrors the package defaults of rollout, detect, report and runner.
func Default() Config {
	d := detect.DefaultConfig()
	sb := detect.DefaultStopBiasConfig()
	return Config{
		Rollout: RolloutConfig{
			MaxSteps:           rollout.DefaultConfig().MaxSteps,
			ModeCollapseK:      d.ModeCollapseK,
			OscillationWindow:  d.OscillationWindow,
			OscillationRepeats: d.OscillationRepeats,
			InvalidMode:        string(rollout.InvalidTerminate),
		},
		StopBias: StopBiasConfig{ExpectedRate: sb.ExpectedRate, Multiplier: sb.Multiplier},
		Report: ReportConfig{
			ExamplesPerKind: report.DefaultConfig().ExamplesPerKind,
			MaxMismatches:   eval.DefaultConfig().MaxMismatches,
		},
		Runner: RunnerConfig{Workers: runner.DefaultConfig().Workers},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// #endregion defaults

// #region load
// Load reads a YAML file over Default(). Unknown keys are rejected. The
// result is not validated; call ApplyEnv and Validate afterwards.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve builds the effective config the way every binary does: the file at
// path over Default() (defaults alone when path is empty), then the ROLLEVAL_*
// overrides from lookup. The result is not validated.
func Resolve(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnvFrom(lookup); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads the first .env found in the working directory or up to
// two levels above it. Variables already set in the process win.
func LoadDotEnv() {
	for _, envFile := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(envFile); err == nil {
			return
		}
	}
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// #endregion load

// #region env
// Environment variables read by ApplyEnv.
const (
	EnvMaxSteps     = "ROLLEVAL_MAX_STEPS"
	EnvInvalidMode  = "ROLLEVAL_INVALID_MODE"
	EnvExpectedStop = "ROLLEVAL_STOP_EXPECTED_RATE"
	EnvWorkers      = "ROLLEVAL_WORKERS"
	EnvStorePath    = "ROLLEVAL_DB"
	EnvLogLevel     = "ROLLEVAL_LOG_LEVEL"
	EnvLogFormat    = "ROLLEVAL_LOG_FORMAT"
	EnvMetricsAddr  = "ROLLEVAL_METRICS_ADDR"
)

// ApplyEnv overrides fields from ROLLEVAL_* variables of the process.
func (c *Config) ApplyEnv() error {
	return c.ApplyEnvFrom(os.LookupEnv)
}

// ApplyEnvFrom overrides fields from lookup.
func (c *Config) ApplyEnvFrom(lookup func(string) (string, bool)) error {
	ints := map[string]*int{
		EnvMaxSteps: &c.Rollout.MaxSteps,
		EnvWorkers:  &c.Runner.Workers,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %s=%q: %w", ErrInvalid, key, v, err)
			}
			*dst = n
		}
	}
	if v, ok := lookup(EnvExpectedStop); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %w", ErrInvalid, EnvExpectedStop, v, err)
		}
		c.StopBias.ExpectedRate = f
	}

	strs := map[string]*string{
		EnvInvalidMode: &c.Rollout.InvalidMode,
		EnvStorePath:   &c.Store.Path,
		EnvLogLevel:    &c.Log.Level,
		EnvLogFormat:   &c.Log.Format,
		EnvMetricsAddr: &c.Metrics.Addr,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	return nil
}

// #endregion env

// #region conversions
// RolloutEngine returns the engine settings.
func (c Config) RolloutEngine() rollout.Config {
	return rollout.Config{
		MaxSteps: c.Rollout.MaxSteps,
		Detect: detect.Config{
			ModeCollapseK:      c.Rollout.ModeCollapseK,
			OscillationWindow:  c.Rollout.OscillationWindow,
			OscillationRepeats: c.Rollout.OscillationRepeats,
		},
		InvalidMode: rollout.InvalidMode(c.Rollout.InvalidMode),
	}
}

// BatchRunner returns the runner settings.
func (c Config) BatchRunner() runner.Config {
	return runner.Config{
		Workers: c.Runner.Workers,
		Eval:    eval.Config{MaxMismatches: c.Report.MaxMismatches},
		Report:  report.Config{ExamplesPerKind: c.Report.ExamplesPerKind},
		StopBias: detect.StopBiasConfig{
			ExpectedRate: c.StopBias.ExpectedRate,
			Multiplier:   c.StopBias.Multiplier,
			Margin:       c.StopBias.Margin,
		},
	}
}

// Logging returns the logger settings for service.
func (c Config) Logging(service string) logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format, Service: service}
}

// #endregion conversions
