package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/rollout-eval/internal/config"
	"github.com/danielpatrickdp/rollout-eval/internal/logging"
	"github.com/danielpatrickdp/rollout-eval/internal/policy"
	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
)

// #region config
// loadConfig reads --config, then the environment, then validates.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Resolve(path, os.LookupEnv)
}

func newLogger(cfg config.Config, service string) (*slog.Logger, error) {
	logger, err := logging.New(cfg.Logging(service), os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return logger, nil
}

// #endregion config

// #region policies
// Built-in policies selectable by name.
const (
	policyOracle     = "oracle"
	policyRandom     = "random"
	policyAlwaysStop = "always-stop"
	policyRemote     = "remote"
)

type policyFlags struct {
	name     string
	seed     int64
	stopRate float64
	limit    int
}

func (f *policyFlags) register(cmd *cobra.Command, names string) {
	cmd.Flags().StringVar(&f.name, "policy", policyOracle, "policy to evaluate: "+names)
	cmd.Flags().Int64Var(&f.seed, "seed", 1, "base seed for the random policy")
	cmd.Flags().Float64Var(&f.stopRate, "stop-rate", 0.05, "STOP probability of the random policy")
	cmd.Flags().IntVar(&f.limit, "solve-limit", puzzle.DefaultSolveLimit, "state budget of the oracle's search")
}

// local builds the factory of an in-process policy.
func (f *policyFlags) local() (policy.Factory, error) {
	switch f.name {
	case policyOracle:
		return policy.OracleFactory(f.limit), nil
	case policyRandom:
		if f.stopRate < 0 || f.stopRate > 1 {
			return nil, fmt.Errorf("--stop-rate %v outside [0,1]", f.stopRate)
		}
		return policy.RandomFactory(f.seed, f.stopRate), nil
	case policyAlwaysStop:
		return policy.Shared(policy.Constant(puzzle.Stop())), nil
	default:
		return nil, fmt.Errorf("unknown policy %q", f.name)
	}
}

// #endregion policies
