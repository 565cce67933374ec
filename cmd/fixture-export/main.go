package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/rollout-eval/internal/config"
	"github.com/danielpatrickdp/rollout-eval/internal/dataset"
	"github.com/danielpatrickdp/rollout-eval/internal/replay"
	"github.com/danielpatrickdp/rollout-eval/internal/store"
	"github.com/danielpatrickdp/rollout-eval/internal/trajectory"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to the rolleval database")
	runID := flag.String("run", "", "run to export")
	puzzlesPath := flag.String("puzzles", "", "puzzle fixture the run was evaluated on")
	configPath := flag.String("config", "", "YAML config the run used (defaults when empty)")
	only := flag.String("outcome", "", "export only attempts with this outcome, e.g. FAILED_OSCILLATION")
	outPath := flag.String("out", "", "output fixture path (.yaml or .json)")
	flag.Parse()
	config.LoadDotEnv()

	if *dbPath == "" || *runID == "" || *puzzlesPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --db path/to/rolleval.db --run id --puzzles fixture.yaml --out scenarios.yaml [--config rolleval.yaml] [--outcome KIND]")
		os.Exit(2)
	}

	if err := run(*dbPath, *runID, *puzzlesPath, *configPath, *only, *outPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region extract

func run(dbPath, runID, puzzlesPath, configPath, only, outPath string) error {
	cfg, err := config.Resolve(configPath, os.LookupEnv)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var filter trajectory.Outcome
	if only != "" {
		if filter, err = trajectory.ParseOutcome(only); err != nil {
			return err
		}
	}

	st, err := store.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer st.Close()

	rec, err := st.GetRun(runID)
	if err != nil {
		return err
	}
	outcomes, err := st.ListOutcomes(runID, filter)
	if err != nil {
		return fmt.Errorf("list outcomes: %w", err)
	}
	if len(outcomes) == 0 {
		return fmt.Errorf("run %s has no matching attempts", runID)
	}

	ds, err := dataset.Load(puzzlesPath, 0)
	if err != nil {
		return fmt.Errorf("load puzzles: %w", err)
	}
	puzzles, err := ds.Puzzles()
	if err != nil {
		return fmt.Errorf("load puzzles: %w", err)
	}
	cases, err := replay.FromRun(puzzles, outcomes)
	if err != nil {
		return err
	}

	fmt.Printf("Found %d recorded attempts\n", len(cases))

	description := fmt.Sprintf("recorded attempts of run %s (policy %s)", rec.RunID, rec.PolicyID)
	if err := replay.SaveFixture(outPath, replay.NewFixture(description, cfg.Rollout, cases)); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", outPath)
	return nil
}

// #endregion extract
