package main

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/rollout-eval/internal/codec"
	"github.com/danielpatrickdp/rollout-eval/internal/dataset"
)

// #region command
func newServeCmd() *cobra.Command {
	var (
		fixture string
		listen  string
		pf      policyFlags
	)
	cmd := &cobra.Command{
		Use:   "serve-policy",
		Short: "Serve a built-in policy over gRPC for the puzzles of a fixture",
		Long: `Serves rolleval.v1.PolicyService/Predict. Useful as a reference
server for remote policies and for exercising "run --policy remote".`,
		Aliases: []string{"serve-oracle"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := newLogger(cfg, "policy-server")
			if err != nil {
				return err
			}

			ds, err := dataset.Load(fixture, pf.limit)
			if err != nil {
				return err
			}
			puzzles, err := ds.Puzzles()
			if err != nil {
				return err
			}
			factory, err := pf.local()
			if err != nil {
				return err
			}
			srv, err := codec.NewServer(puzzles, factory, logger)
			if err != nil {
				return err
			}

			lis, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("listen %s: %w", listen, err)
			}
			gs := grpc.NewServer()
			codec.RegisterPolicyServer(gs, srv)

			errc := make(chan error, 1)
			go func() { errc <- gs.Serve(lis) }()
			logger.Info("policy server listening", "addr", lis.Addr().String(), "policy", pf.name, "puzzles", len(puzzles))

			select {
			case <-cmd.Context().Done():
				logger.Info("shutting down")
				gs.GracefulStop()
				return nil
			case err := <-errc:
				return err
			}
		},
	}
	cmd.Flags().StringVar(&fixture, "fixture", "", "YAML or JSON puzzle fixture (required)")
	cmd.Flags().StringVar(&listen, "listen", ":50051", "gRPC listen address")
	pf.register(cmd, "oracle, random, always-stop")
	_ = cmd.MarkFlagRequired("fixture")
	return cmd
}

// #endregion command
