package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/rollout-eval/internal/dataset"
	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
)

// #region command
func newSolveCmd() *cobra.Command {
	var (
		fixture string
		out     string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Print shortest plans and optionally freeze them as teacher-forcing examples",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := dataset.LoadFixture(fixture)
			if err != nil {
				return err
			}
			f.DeriveExamples = true
			ds, err := f.Build(limit)
			if err != nil {
				return err
			}
			puzzles, err := ds.Puzzles()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PUZZLE\tVARIANT\tMOVES\tPLAN")
			for _, p := range puzzles {
				plan, err := p.Solve(p.Start(), limit)
				if err != nil {
					return fmt.Errorf("solve %s: %w", p.ID(), err)
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", p.ID(), p.Variant(), len(plan)-1, planString(plan))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if out == "" {
				return nil
			}
			frozen := dataset.FromDataset(f.Description, puzzles, ds.Examples())
			if err := dataset.SaveFixture(out, frozen); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d examples to %s\n", len(ds.Examples()), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&fixture, "fixture", "", "YAML or JSON puzzle fixture (required)")
	cmd.Flags().StringVar(&out, "out", "", "write a fixture with explicit optimal examples here")
	cmd.Flags().IntVar(&limit, "solve-limit", puzzle.DefaultSolveLimit, "state budget of the search")
	_ = cmd.MarkFlagRequired("fixture")
	return cmd
}

func planString(plan []puzzle.Action) string {
	s := ""
	for i, a := range plan {
		if i > 0 {
			s += " "
		}
		s += a.String()
	}
	return s
}

// #endregion command
