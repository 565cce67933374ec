package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/rollout-eval/internal/codec"
	"github.com/danielpatrickdp/rollout-eval/internal/dataset"
	"github.com/danielpatrickdp/rollout-eval/internal/metrics"
	"github.com/danielpatrickdp/rollout-eval/internal/policy"
	"github.com/danielpatrickdp/rollout-eval/internal/rollout"
	"github.com/danielpatrickdp/rollout-eval/internal/runner"
	"github.com/danielpatrickdp/rollout-eval/internal/store"
)

// #region command
type runOptions struct {
	fixture     string
	policy      policyFlags
	policyID    string
	addr        string
	db          string
	out         string
	format      string
	metricsAddr string
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate one policy on a fixture and print its report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEvaluation(cmd, &opts)
		},
	}
	cmd.Flags().StringVar(&opts.fixture, "fixture", "", "YAML or JSON puzzle fixture (required)")
	opts.policy.register(cmd, "oracle, random, always-stop, remote")
	cmd.Flags().StringVar(&opts.policyID, "policy-id", "", "name recorded in the report (defaults to --policy)")
	cmd.Flags().StringVar(&opts.addr, "addr", "localhost:50051", "policy server address for --policy remote")
	cmd.Flags().StringVar(&opts.db, "db", "", "SQLite database to record the run in (overrides store.path)")
	cmd.Flags().StringVar(&opts.out, "out", "", "write the JSON report to this path")
	cmd.Flags().StringVar(&opts.format, "format", "table", "stdout format: table or json")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides metrics.addr)")
	_ = cmd.MarkFlagRequired("fixture")
	return cmd
}

// #endregion command

// #region run
func runEvaluation(cmd *cobra.Command, opts *runOptions) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if opts.db != "" {
		cfg.Store.Path = opts.db
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if opts.format != "table" && opts.format != "json" {
		return fmt.Errorf("unknown --format %q", opts.format)
	}
	logger, err := newLogger(cfg, "rolleval")
	if err != nil {
		return err
	}

	// 1. Puzzles and examples
	ds, err := dataset.Load(opts.fixture, opts.policy.limit)
	if err != nil {
		return err
	}
	puzzles, err := ds.Puzzles()
	if err != nil {
		return err
	}

	// 2. Policy
	factory, closePolicy, err := opts.factory()
	if err != nil {
		return err
	}
	defer closePolicy()
	policyID := opts.policyID
	if policyID == "" {
		policyID = opts.policy.name
	}

	// 3. Metrics, store, engine
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.Addr != "" {
		stopMetrics := serveMetrics(cfg.Metrics.Addr, reg, logger)
		defer stopMetrics()
	}

	runnerOpts := []runner.Option{runner.WithLogger(logger), runner.WithMetrics(m)}
	if cfg.Store.Path != "" {
		st, err := store.NewStore(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		runnerOpts = append(runnerOpts, runner.WithStore(st))
	}

	engine, err := rollout.NewEngine(cfg.RolloutEngine())
	if err != nil {
		return err
	}

	// 4. Evaluate
	res, err := runner.New(engine, cfg.BatchRunner(), runnerOpts...).Run(ctx, factory, runner.Batch{
		PolicyID: policyID,
		Puzzles:  puzzles,
		Examples: ds.Examples(),
	})
	if err != nil {
		return err
	}

	// 5. Output
	if opts.out != "" {
		data, err := json.MarshalIndent(res.Report, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		if err := os.WriteFile(opts.out, data, 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res.Report)
	}
	return res.Report.WriteTable(cmd.OutOrStdout())
}

func (o *runOptions) factory() (policy.Factory, func(), error) {
	if o.policy.name != policyRemote {
		f, err := o.policy.local()
		return f, func() {}, err
	}
	client, err := codec.NewPolicyClient(o.addr)
	if err != nil {
		return nil, nil, err
	}
	return client.Factory(), func() { client.Close() }, nil
}

// #endregion run

// #region metrics-endpoint
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

// #endregion metrics-endpoint
