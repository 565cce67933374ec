package store

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielpatrickdp/rollout-eval/internal/eval"
	"github.com/danielpatrickdp/rollout-eval/internal/puzzle"
	"github.com/danielpatrickdp/rollout-eval/internal/report"
	"github.com/danielpatrickdp/rollout-eval/internal/trajectory"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sealed(t *testing.T, id string, o trajectory.Outcome, kind puzzle.InvalidKind) *trajectory.Trajectory {
	t.Helper()
	s0 := puzzle.NewState([]puzzle.Block{"A"}, nil)
	tr := trajectory.New(id, s0)
	if kind != "" {
		tr.Append(trajectory.Step{Before: s0, Action: puzzle.Move("A", 1, 0), InvalidKind: kind})
	} else {
		tr.Append(trajectory.Step{Before: s0, Action: puzzle.Stop(), Valid: true, After: &s0})
	}
	if err := tr.Seal(o); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return tr
}

func TestSaveAndGetRun(t *testing.T) {
	s := tempDB(t)
	batch := []*trajectory.Trajectory{
		sealed(t, "p1", trajectory.FailedPrematureStop, ""),
		sealed(t, "p2", trajectory.FailedInvalidAction, puzzle.EmptySource),
	}
	r := report.Summarize(report.DefaultConfig(), "always-stop", batch, eval.Known(0.25), nil)
	r.RunID = "run-1"

	rec, err := NewRunRecord(r)
	if err != nil {
		t.Fatalf("NewRunRecord: %v", err)
	}
	if err := s.SaveRun(rec, batch); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := s.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.PolicyID != "always-stop" || got.Puzzles != 2 {
		t.Fatalf("unexpected run %+v", got)
	}
	if got.SuccessRate != eval.Known(0) || got.Gap != eval.Known(0.25) || got.TFAccuracy != eval.Known(0.25) {
		t.Fatalf("unexpected rates tf=%s success=%s gap=%s", got.TFAccuracy, got.SuccessRate, got.Gap)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(got.ReportJSON), &decoded); err != nil {
		t.Fatalf("report json: %v", err)
	}
	if decoded["run_id"] != "run-1" {
		t.Fatalf("expected run_id in stored report, got %v", decoded["run_id"])
	}
}

func TestGetRun_NotFound(t *testing.T) {
	s := tempDB(t)
	if _, err := s.GetRun("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestSaveRun_UndefinedRatesAreNull(t *testing.T) {
	s := tempDB(t)
	rec := RunRecord{RunID: "empty", PolicyID: "x", ReportJSON: "{}"}
	if err := s.SaveRun(rec, nil); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	var n int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM runs WHERE gap IS NULL AND success_rate IS NULL`).Scan(&n); err != nil {
		t.Fatalf("query: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected NULL rates, got %d matching rows", n)
	}

	got, err := s.GetRun("empty")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Gap.Defined || got.SuccessRate.Defined {
		t.Fatal("NULL must read back as undefined")
	}
}

func TestSaveRun_DuplicateIsAtomic(t *testing.T) {
	s := tempDB(t)
	batch := []*trajectory.Trajectory{sealed(t, "p1", trajectory.Solved, "")}
	rec := RunRecord{RunID: "dup", PolicyID: "x", ReportJSON: "{}"}
	if err := s.SaveRun(rec, batch); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := s.SaveRun(rec, batch); err == nil {
		t.Fatal("expected duplicate run id to fail")
	}
	outcomes, err := s.ListOutcomes("dup", 0)
	if err != nil {
		t.Fatalf("ListOutcomes: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("failed save must not leave outcome rows, got %d", len(outcomes))
	}
}

func TestListOutcomes_Filter(t *testing.T) {
	s := tempDB(t)
	batch := []*trajectory.Trajectory{
		sealed(t, "p1", trajectory.Solved, ""),
		sealed(t, "p2", trajectory.FailedInvalidAction, puzzle.WrongBlock),
		sealed(t, "p3", trajectory.FailedInvalidAction, puzzle.InvalidPeg),
	}
	if err := s.SaveRun(RunRecord{RunID: "r", PolicyID: "x", ReportJSON: "{}"}, batch); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	all, err := s.ListOutcomes("r", 0)
	if err != nil {
		t.Fatalf("ListOutcomes: %v", err)
	}
	if len(all) != 3 || all[0].PuzzleID != "p1" || all[0].InvalidKind != "" {
		t.Fatalf("unexpected rows %+v", all)
	}

	invalid, err := s.ListOutcomes("r", trajectory.FailedInvalidAction)
	if err != nil {
		t.Fatalf("ListOutcomes: %v", err)
	}
	if len(invalid) != 2 || invalid[1].InvalidKind != puzzle.InvalidPeg {
		t.Fatalf("unexpected filtered rows %+v", invalid)
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := tempDB(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		rec := RunRecord{RunID: id, PolicyID: "oracle", ReportJSON: "{}", CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if id == "mid" {
			rec.PolicyID = "random"
		}
		if err := s.SaveRun(rec, nil); err != nil {
			t.Fatalf("SaveRun %s: %v", id, err)
		}
	}

	runs, err := s.ListRuns("", 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "new" || runs[1].RunID != "mid" {
		t.Fatalf("unexpected order %+v", runs)
	}

	oracle, err := s.ListRuns("oracle", 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(oracle) != 2 {
		t.Fatalf("expected 2 oracle runs, got %d", len(oracle))
	}
}

func TestRunLog(t *testing.T) {
	s := tempDB(t)
	if err := s.LogEvent(RunEvent{RunID: "r", Event: EventStarted}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	if err := s.LogEvent(RunEvent{RunID: "r", Event: EventAborted, Detail: "policy failed"}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	events, err := s.ListEvents("r")
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 || events[0].Event != EventStarted || events[1].Detail != "policy failed" {
		t.Fatalf("unexpected events %+v", events)
	}
	if events[0].Detail != "" {
		t.Fatalf("expected empty detail, got %q", events[0].Detail)
	}
}
