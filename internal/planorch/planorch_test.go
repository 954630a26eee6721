package planorch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pvt-x/pvtx/internal/discovery"
	"github.com/pvt-x/pvtx/internal/protocol"
	"github.com/pvt-x/pvtx/internal/reporter"
	"github.com/pvt-x/pvtx/internal/runfolder"
	"github.com/pvt-x/pvtx/internal/suiteorch"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSuiteRunner returns a pre-scripted suiteorch.Result per suite
// identity, so a plan's suite loop can be exercised without the real Suite
// Orchestrator or any Case Runner.
type fakeSuiteRunner struct {
	mu      sync.Mutex
	results map[string]suiteorch.Result
	calls   []string
}

func newFakeSuiteRunner(results map[string]suiteorch.Result) *fakeSuiteRunner {
	return &fakeSuiteRunner{results: results}
}

func (f *fakeSuiteRunner) Run(_ context.Context, in suiteorch.Input) (suiteorch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in.Suite.Identity().String())
	return f.results[in.Suite.Identity().String()], nil
}

func suiteFixture(id string) (protocol.Identity, discovery.SuiteEntry) {
	identity := protocol.Identity{ID: id, Version: "1.0.0"}
	return identity, discovery.SuiteEntry{
		Dir: filepath.Join("suites", id),
		Manifest: protocol.TestSuiteManifest{
			ID:      id,
			Version: "1.0.0",
			TestCases: []protocol.SuiteNode{
				{NodeID: "case@1.0.0", Ref: "case"},
			},
		},
	}
}

func suitesMap(ids ...string) map[protocol.Identity]discovery.SuiteEntry {
	m := make(map[protocol.Identity]discovery.SuiteEntry, len(ids))
	for _, id := range ids {
		identity, entry := suiteFixture(id)
		m[identity] = entry
	}
	return m
}

func planOf(suiteIDs ...string) protocol.TestPlanManifest {
	entries := make([]protocol.PlanSuiteEntry, len(suiteIDs))
	for i, id := range suiteIDs {
		entries[i] = protocol.PlanSuiteEntry{NodeID: id + "@1.0.0", Ref: id}
	}
	return protocol.TestPlanManifest{ID: "Plan", Version: "1.0.0", TestSuites: entries}
}

func baseInput(t *testing.T, plan protocol.TestPlanManifest, suites map[protocol.Identity]discovery.SuiteEntry) Input {
	t.Helper()
	return Input{
		Plan:   plan,
		Roots:  protocol.Roots{RunsRoot: t.TempDir(), CasesRoot: t.TempDir()},
		Suites: suites,
		RunRequest: protocol.RunRequest{
			Plan: &protocol.PlanRunRequest{Identity: plan.Identity().String()},
		},
	}
}

func passedResult(runID string) suiteorch.Result {
	return suiteorch.Result{
		RunID: runID,
		Result: protocol.GroupResult{
			Status: protocol.StatusPassed, StartTime: protocol.NowISO(), EndTime: protocol.NowISO(),
		},
	}
}

// A three-suite plan runs every entry in declaration order and aggregates
// Passed when every suite passes.
func TestRun_RunsEveryDeclaredSuiteInOrder(t *testing.T) {
	plan := planOf("A", "B", "C")
	runner := newFakeSuiteRunner(map[string]suiteorch.Result{
		"A@1.0.0": passedResult("S-a"),
		"B@1.0.0": passedResult("S-b"),
		"C@1.0.0": passedResult("S-c"),
	})
	rec := reporter.NewRecorder()
	orch := New(runner, rec, testLogger())

	in := baseInput(t, plan, suitesMap("A", "B", "C"))
	res, err := orch.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Result.Status != protocol.StatusPassed {
		t.Fatalf("Status = %v, want Passed", res.Result.Status)
	}

	if got := runner.calls; len(got) != 3 || got[0] != "A@1.0.0" || got[1] != "B@1.0.0" || got[2] != "C@1.0.0" {
		t.Errorf("suite call order = %v, want [A@1.0.0 B@1.0.0 C@1.0.0]", got)
	}

	dir := filepath.Join(in.Roots.RunsRoot, res.RunID)
	children, err := runfolder.ReadChildren(dir)
	if err != nil {
		t.Fatalf("ReadChildren() error = %v", err)
	}
	if len(children) != 3 {
		t.Fatalf("children = %+v, want 3 entries", children)
	}

	if got := rec.PlannedNodes(); len(got) != 3 {
		t.Errorf("PlannedNodes() = %v, want 3 declared suites", got)
	}
	if rec.FinalStatus() != string(protocol.StatusPassed) {
		t.Errorf("FinalStatus() = %q, want Passed", rec.FinalStatus())
	}
}

// A plan has no continueOnFailure of its own: a failing suite in the
// middle does not stop later suites from running, unlike a suite's own
// node loop.
func TestRun_DoesNotStopOnSuiteFailure(t *testing.T) {
	plan := planOf("A", "B", "C")
	failed := passedResult("S-b")
	failed.Result.Status = protocol.StatusFailed

	runner := newFakeSuiteRunner(map[string]suiteorch.Result{
		"A@1.0.0": passedResult("S-a"),
		"B@1.0.0": failed,
		"C@1.0.0": passedResult("S-c"),
	})
	orch := New(runner, reporter.New(), testLogger())

	in := baseInput(t, plan, suitesMap("A", "B", "C"))
	res, err := orch.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Result.Status != protocol.StatusFailed {
		t.Fatalf("Status = %v, want Failed", res.Result.Status)
	}
	if len(runner.calls) != 3 {
		t.Fatalf("suite calls = %v, want all 3 suites invoked despite B failing", runner.calls)
	}
}

// An entry naming a suite identity absent from the discovery index degrades
// to an Error child rather than aborting the whole plan run.
func TestRun_UnresolvableSuiteDegradesToError(t *testing.T) {
	plan := planOf("A", "Missing")
	runner := newFakeSuiteRunner(map[string]suiteorch.Result{
		"A@1.0.0": passedResult("S-a"),
	})
	orch := New(runner, reporter.New(), testLogger())

	in := baseInput(t, plan, suitesMap("A"))
	res, err := orch.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Result.Status != protocol.StatusError {
		t.Fatalf("Status = %v, want Error", res.Result.Status)
	}
	if len(runner.calls) != 1 {
		t.Errorf("suite calls = %v, want only A@1.0.0 invoked", runner.calls)
	}
}

// A suite that requests a reboot mid-plan suspends the whole plan: a
// plan-level session.json links to the suite's own run-id, no result.json
// is written, and the next declared suite never runs.
func TestRun_SuspendsOnRebootMidPlan(t *testing.T) {
	plan := planOf("A", "B", "C")
	rebooting := suiteorch.Result{RunID: "S-b", Reboot: &protocol.RebootInfo{NextPhase: 1, Reason: "driver install"}}

	runner := newFakeSuiteRunner(map[string]suiteorch.Result{
		"A@1.0.0": passedResult("S-a"),
		"B@1.0.0": rebooting,
		"C@1.0.0": passedResult("S-c"),
	})
	orch := New(runner, reporter.New(), testLogger())

	in := baseInput(t, plan, suitesMap("A", "B", "C"))
	res, err := orch.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Reboot == nil {
		t.Fatalf("Reboot = nil, want non-nil")
	}
	if len(runner.calls) != 2 {
		t.Fatalf("suite calls = %v, want only A and B invoked before suspend", runner.calls)
	}

	dir := filepath.Join(in.Roots.RunsRoot, res.RunID)
	if _, err := os.Stat(filepath.Join(dir, "result.json")); !os.IsNotExist(err) {
		t.Errorf("result.json should not exist yet, stat err = %v", err)
	}

	session, err := runfolder.ReadSession(dir)
	if err != nil {
		t.Fatalf("ReadSession() error = %v", err)
	}
	if session.ChildSessionRunID != "S-b" {
		t.Errorf("ChildSessionRunID = %q, want S-b", session.ChildSessionRunID)
	}
	if session.CurrentNodeIndex != 1 {
		t.Errorf("CurrentNodeIndex = %d, want 1", session.CurrentNodeIndex)
	}
}

// A plan request carrying nodeOverrides is rejected outright: no run folder
// is ever created.
func TestRun_RejectsNodeOverrides(t *testing.T) {
	plan := planOf("A")
	orch := New(newFakeSuiteRunner(nil), reporter.New(), testLogger())

	in := baseInput(t, plan, suitesMap("A"))
	in.RunRequest.Plan.NodeOverrides = map[string]protocol.NodeOverride{
		"A@1.0.0": {Inputs: map[string]json.RawMessage{"X": json.RawMessage(`"1"`)}},
	}

	_, err := orch.Run(context.Background(), in)
	if err == nil {
		t.Fatal("Run() error = nil, want CodeRunRequestPlanInputOverride")
	}

	entries, readErr := os.ReadDir(in.Roots.RunsRoot)
	if readErr != nil {
		t.Fatalf("ReadDir(runsRoot) error = %v", readErr)
	}
	if len(entries) != 0 {
		t.Errorf("runsRoot entries = %v, want no run folder created", entries)
	}
}

// The plan's environment.env layer and any top-level EnvironmentOverrides
// are merged into the plan group folder's environment.json.
func TestRun_WritesEnvironmentLayeredFromPlanAndOverrides(t *testing.T) {
	plan := planOf("A")
	plan.Environment = &protocol.PlanEnvironmentBlock{Env: map[string]string{"STAGE": "plan"}}

	runner := newFakeSuiteRunner(map[string]suiteorch.Result{"A@1.0.0": passedResult("S-a")})
	orch := New(runner, reporter.New(), testLogger())

	in := baseInput(t, plan, suitesMap("A"))
	in.RunRequest.EnvironmentOverrides = protocol.EnvOverride{Env: map[string]string{"STAGE": "override"}}

	res, err := orch.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	dir := filepath.Join(in.Roots.RunsRoot, res.RunID)
	data, err := os.ReadFile(filepath.Join(dir, "environment.json"))
	if err != nil {
		t.Fatalf("ReadFile(environment.json) error = %v", err)
	}
	var env map[string]string
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal environment.json: %v", err)
	}
	if env["STAGE"] != "override" {
		t.Errorf("STAGE = %q, want %q (override beats plan env)", env["STAGE"], "override")
	}
}

// A resumed plan run picks back up at the saved suite index instead of
// restarting from suite 0, and threads the saved suite-level resume state
// into the resumed suite's own Input.Resume.
func TestRun_ResumeSkipsEarlierSuitesAndThreadsSuiteResume(t *testing.T) {
	plan := planOf("A", "B", "C")
	rebooting := suiteorch.Result{RunID: "S-b", Reboot: &protocol.RebootInfo{NextPhase: 1, Reason: "driver install"}}

	runner := newFakeSuiteRunner(map[string]suiteorch.Result{
		"A@1.0.0": passedResult("S-a"),
		"B@1.0.0": rebooting,
		"C@1.0.0": passedResult("S-c"),
	})
	orch := New(runner, reporter.New(), testLogger())

	in := baseInput(t, plan, suitesMap("A", "B", "C"))
	first, err := orch.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if first.Reboot == nil {
		t.Fatalf("first Run() Reboot = nil, want non-nil")
	}

	var gotResume *suiteorch.ResumeState
	resumedRunner := &resumeCapturingSuiteRunner{
		fakeSuiteRunner: newFakeSuiteRunner(map[string]suiteorch.Result{
			"B@1.0.0": passedResult("S-b-2"),
			"C@1.0.0": passedResult("S-c"),
		}),
		onRun: func(in suiteorch.Input) {
			if in.Suite.Identity().String() == "B@1.0.0" {
				gotResume = in.Resume
			}
		},
	}
	resumedOrch := New(resumedRunner, reporter.New(), testLogger())

	suiteResume := &suiteorch.ResumeState{RunID: "S-b", Iteration: 0, NodeIndex: 0, Phase: 1}
	resumeIn := in
	resumeIn.Resume = &ResumeState{RunID: first.RunID, NodeIndex: 1, SuiteResume: suiteResume}
	second, err := resumedOrch.Run(context.Background(), resumeIn)
	if err != nil {
		t.Fatalf("resumed Run() error = %v", err)
	}
	if second.Result.Status != protocol.StatusPassed {
		t.Fatalf("resumed Status = %v, want Passed", second.Result.Status)
	}
	if second.RunID != first.RunID {
		t.Errorf("resumed RunID = %q, want same run folder %q", second.RunID, first.RunID)
	}
	if gotResume != suiteResume {
		t.Errorf("suite B did not receive the expected Resume state: got %+v", gotResume)
	}
	if got := resumedRunner.calls; len(got) != 2 || got[0] != "B@1.0.0" || got[1] != "C@1.0.0" {
		t.Errorf("suite call order on resume = %v, want [B@1.0.0 C@1.0.0] (A skipped)", got)
	}

	dir := filepath.Join(in.Roots.RunsRoot, first.RunID)
	children, err := runfolder.ReadChildren(dir)
	if err != nil {
		t.Fatalf("ReadChildren() error = %v", err)
	}
	if len(children) != 3 {
		t.Fatalf("children = %+v, want 3 entries (A from the first run, B and C from the resume)", children)
	}
}

// resumeCapturingSuiteRunner wraps fakeSuiteRunner to let a test observe the
// suiteorch.Input a resumed suite run actually received.
type resumeCapturingSuiteRunner struct {
	*fakeSuiteRunner
	onRun func(in suiteorch.Input)
}

func (r *resumeCapturingSuiteRunner) Run(ctx context.Context, in suiteorch.Input) (suiteorch.Result, error) {
	r.onRun(in)
	return r.fakeSuiteRunner.Run(ctx, in)
}

// An empty plan (zero declared suites) trivially aggregates to Passed.
func TestRun_EmptyPlanAggregatesPassed(t *testing.T) {
	plan := protocol.TestPlanManifest{ID: "Empty", Version: "1.0.0", TestSuites: nil}
	orch := New(newFakeSuiteRunner(nil), reporter.New(), testLogger())

	in := baseInput(t, plan, nil)
	res, err := orch.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Result.Status != protocol.StatusPassed {
		t.Errorf("Status = %v, want Passed", res.Result.Status)
	}
	if res.Result.Counts.Total != 0 {
		t.Errorf("Counts.Total = %d, want 0", res.Result.Counts.Total)
	}
}
