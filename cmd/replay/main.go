package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/rollout-eval/internal/config"
	"github.com/danielpatrickdp/rollout-eval/internal/dataset"
	"github.com/danielpatrickdp/rollout-eval/internal/replay"
	"github.com/danielpatrickdp/rollout-eval/internal/store"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to the rolleval database (DB mode)")
	runID := flag.String("run", "", "run to replay (DB mode)")
	puzzlesPath := flag.String("puzzles", "", "puzzle fixture the run was evaluated on (DB mode)")
	configPath := flag.String("config", "", "YAML config the run used (DB mode, defaults when empty)")
	fixturePath := flag.String("fixture", "", "path to replay fixture (fixture mode)")
	flag.Parse()
	config.LoadDotEnv()

	dbMode := *dbPath != "" || *runID != "" || *puzzlesPath != ""
	if dbMode == (*fixturePath != "") || (dbMode && (*dbPath == "" || *runID == "" || *puzzlesPath == "")) {
		fmt.Fprintln(os.Stderr, "usage: replay --db path/to/rolleval.db --run id --puzzles fixture.yaml [--config rolleval.yaml]")
		fmt.Fprintln(os.Stderr, "       replay --fixture path/to/scenarios.yaml")
		os.Exit(2)
	}

	var exitCode int
	if *fixturePath != "" {
		exitCode = runFixtureMode(*fixturePath)
	} else {
		exitCode = runDBMode(*dbPath, *runID, *puzzlesPath, *configPath)
	}
	os.Exit(exitCode)
}

// #endregion main

// #region db-mode

func runDBMode(dbPath, runID, puzzlesPath, configPath string) int {
	cfg, err := config.Resolve(configPath, os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}

	st, err := store.NewStore(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		return 2
	}
	defer st.Close()

	if _, err := st.GetRun(runID); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}
	outcomes, err := st.ListOutcomes(runID, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list outcomes: %v\n", err)
		return 2
	}
	if len(outcomes) == 0 {
		fmt.Fprintf(os.Stderr, "run %s has no recorded attempts\n", runID)
		return 2
	}

	ds, err := dataset.Load(puzzlesPath, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load puzzles: %v\n", err)
		return 2
	}
	puzzles, err := ds.Puzzles()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load puzzles: %v\n", err)
		return 2
	}

	cases, err := replay.FromRun(puzzles, outcomes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}
	results, err := replay.Replay(context.Background(), cfg.RolloutEngine(), cases)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		return 2
	}
	return printComparison(cases, results)
}

// #endregion db-mode

// #region fixture-mode

func runFixtureMode(path string) int {
	f, err := replay.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}
	engineConfig, err := f.EngineConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fixture config: %v\n", err)
		return 2
	}
	cases, err := f.ToCases()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fixture cases: %v\n", err)
		return 2
	}

	results, err := replay.Replay(context.Background(), engineConfig, cases)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		return 2
	}
	return printComparison(cases, results)
}

// #endregion fixture-mode

// #region output

// printComparison outputs a comparison table and returns exit code.
func printComparison(cases []replay.Case, results []replay.Result) int {
	fmt.Printf("%-24s| %-24s| %-24s| %s\n", "Case", "Expected", "Replayed", "Match")
	fmt.Printf("%-24s+%-25s+%-25s+%s\n",
		"------------------------", "-------------------------", "-------------------------", "------")

	for i, r := range results {
		match := "OK"
		if !r.Pass {
			match = "DIFF " + r.Reason
		}
		fmt.Printf("%-24s| %-24s| %-24s| %s\n", r.CaseID, cases[i].Expect.Outcome, r.Outcome, match)
	}

	s := replay.Summarize(results)
	fmt.Printf("\nSummary: %d total, %d match, %d diverge\n", s.Total, s.Passed, s.Failed)

	if s.Failed > 0 {
		return 1
	}
	return 0
}

// #endregion output
