package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/rollout-eval/internal/store"
	"github.com/danielpatrickdp/rollout-eval/internal/trajectory"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to the rolleval SQLite database")
	last := flag.Int("last", 20, "show N most recent runs")
	policyID := flag.String("policy", "", "only list runs of this policy")
	runID := flag.String("run", "", "show single run detail")
	outcome := flag.String("outcome", "", "in detail mode, only list attempts with this outcome (e.g. FAILED_OSCILLATION)")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/rolleval.db [--last N] [--policy id] [--run id [--outcome KIND]] [--json]")
		os.Exit(2)
	}

	st, err := store.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if *runID != "" {
		err = runDetailMode(st, *runID, *outcome, *jsonOut)
	} else {
		err = runListMode(st, *policyID, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		st.Close()
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	RunID       string   `json:"run_id"`
	PolicyID    string   `json:"policy_id"`
	Puzzles     int      `json:"puzzles"`
	TFAccuracy  *float64 `json:"teacher_forcing_accuracy"`
	SuccessRate *float64 `json:"success_rate"`
	Gap         *float64 `json:"gap"`
	CreatedAt   string   `json:"created_at"`
}

func runListMode(st *store.Store, policyID string, last int, jsonOut bool) error {
	runs, err := st.ListRuns(policyID, last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}

	// store returns newest first, reverse for chronological
	rows := make([]listRow, len(runs))
	for i, rec := range runs {
		rows[len(runs)-1-i] = listRow{
			RunID:       rec.RunID,
			PolicyID:    rec.PolicyID,
			Puzzles:     rec.Puzzles,
			TFAccuracy:  rec.TFAccuracy.Ptr(),
			SuccessRate: rec.SuccessRate.Ptr(),
			Gap:         rec.Gap.Ptr(),
			CreatedAt:   rec.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-10s  %-14s  %7s  %8s  %8s  %8s  %s\n",
		"Run", "Policy", "Puzzles", "TF Acc", "Success", "Gap", "Time")
	fmt.Printf("%-10s+-%-14s+-%7s+-%8s+-%8s+-%8s+-%s\n",
		"----------", "--------------", "-------", "--------", "--------", "--------", "--------------------")
	for _, r := range rows {
		fmt.Printf("%-10s  %-14s  %7d  %8s  %8s  %8s  %s\n",
			shortID(r.RunID), r.PolicyID, r.Puzzles, rate(r.TFAccuracy), rate(r.SuccessRate), rate(r.Gap), r.CreatedAt)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	Run      json.RawMessage `json:"report"`
	Attempts []attemptRow    `json:"attempts"`
	Events   []eventRow      `json:"events"`
}

type attemptRow struct {
	PuzzleID    string `json:"puzzle_id"`
	Outcome     string `json:"outcome"`
	InvalidKind string `json:"invalid_kind,omitempty"`
	Steps       int    `json:"steps"`
}

type eventRow struct {
	Event     string `json:"event"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt string `json:"created_at"`
}

func runDetailMode(st *store.Store, runID, outcomeFilter string, jsonOut bool) error {
	rec, err := st.GetRun(runID)
	if err != nil {
		return err
	}

	var only trajectory.Outcome
	if outcomeFilter != "" {
		if only, err = trajectory.ParseOutcome(outcomeFilter); err != nil {
			return err
		}
	}
	outcomes, err := st.ListOutcomes(runID, only)
	if err != nil {
		return err
	}
	events, err := st.ListEvents(runID)
	if err != nil {
		return err
	}

	out := detailOutput{Run: json.RawMessage(rec.ReportJSON)}
	for _, o := range outcomes {
		out.Attempts = append(out.Attempts, attemptRow{
			PuzzleID:    o.PuzzleID,
			Outcome:     o.Outcome.String(),
			InvalidKind: string(o.InvalidKind),
			Steps:       o.Steps,
		})
	}
	for _, ev := range events {
		out.Events = append(out.Events, eventRow{
			Event:     ev.Event,
			Detail:    ev.Detail,
			CreatedAt: ev.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}

	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Run:       %s\n", rec.RunID)
	fmt.Printf("Policy:    %s\n", rec.PolicyID)
	fmt.Printf("Created:   %s\n", rec.CreatedAt.Format("2006-01-02T15:04:05Z"))
	fmt.Printf("Puzzles:   %d\n", rec.Puzzles)
	fmt.Printf("TF Acc:    %s\n", rec.TFAccuracy)
	fmt.Printf("Success:   %s\n", rec.SuccessRate)
	fmt.Printf("Gap:       %s\n", rec.Gap)

	fmt.Printf("\nAttempts:\n")
	for _, a := range out.Attempts {
		fmt.Printf("  %-16s %-24s %4d  %s\n", a.PuzzleID, a.Outcome, a.Steps, a.InvalidKind)
	}

	fmt.Printf("\nEvents:\n")
	for _, ev := range out.Events {
		fmt.Printf("  %s  %-9s %s\n", ev.CreatedAt, ev.Event, ev.Detail)
	}
	return nil
}

// #endregion detail-mode

// #region output

func rate(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", *v)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
