// Package engine is the top-level dispatcher the CLI calls into: it
// discovers assets, resolves a RunRequest's target to the right
// orchestrator (or, for a standalone TestCase request, a synthetic
// single-node suite run that reuses the Suite Orchestrator's resolution/
// retry machinery instead of duplicating it), and wires the platform
// Adapter into a reboot-aware run.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/pvt-x/pvtx/internal/caserunner"
	"github.com/pvt-x/pvtx/internal/discovery"
	"github.com/pvt-x/pvtx/internal/planorch"
	"github.com/pvt-x/pvtx/internal/platform"
	"github.com/pvt-x/pvtx/internal/protocol"
	"github.com/pvt-x/pvtx/internal/reboot"
	"github.com/pvt-x/pvtx/internal/reporter"
	"github.com/pvt-x/pvtx/internal/runfolder"
	"github.com/pvt-x/pvtx/internal/suiteorch"
)

// syntheticSuiteVersion marks a suite manifest this package constructed
// in-memory for a standalone testCase run; it is never discovered on disk
// and never collides with a real suite identity because no real manifest
// may declare this version string for a case's own id.
const syntheticSuiteVersion = "__pvtx-standalone-case__"

// Engine owns one discovery pass and dispatches run requests against it.
type Engine struct {
	roots    protocol.Roots
	index    *discovery.Index
	reporter reporter.Reporter
	adapter  platform.Adapter
	logger   *slog.Logger

	suites *suiteorch.Orchestrator
	plans  *planorch.Orchestrator
	runner *caserunner.Runner
}

// New discovers roots and wires a suite/plan orchestrator pair over a
// shared Case Runner, ready to dispatch RunRequests.
func New(roots protocol.Roots, rep reporter.Reporter, adapter platform.Adapter, logger *slog.Logger) (*Engine, error) {
	index, err := discovery.Discover(roots)
	if err != nil {
		return nil, fmt.Errorf("engine: discover: %w", err)
	}

	runner := caserunner.New(logger)
	suites := suiteorch.New(runner, rep, logger)
	plans := planorch.New(suites, rep, logger)

	return &Engine{
		roots:    roots,
		index:    index,
		reporter: rep,
		adapter:  adapter,
		logger:   logger,
		suites:   suites,
		plans:    plans,
		runner:   runner,
	}, nil
}

// Outcome is what Run returns regardless of which orchestrator actually
// ran: a completed suite/plan GroupResult, a standalone case's own
// CaseResult, or reboot info if the run suspended. Exactly one of
// Result/Case is meaningful for a non-reboot outcome, per which dispatch
// path produced it.
type Outcome struct {
	RunID  string
	Result protocol.GroupResult
	Case   *protocol.CaseResult
	Reboot *protocol.RebootInfo
}

// Run dispatches req to the suite, plan, or synthetic-suite-wrapped case
// orchestrator per its Kind, and — if the run suspends for a reboot —
// arms the autostart task and reboots via e.adapter before returning.
func (e *Engine) Run(ctx context.Context, req protocol.RunRequest) (Outcome, error) {
	if err := req.Validate(); err != nil {
		return Outcome{}, err
	}

	var out Outcome
	var err error
	switch req.Kind() {
	case "plan":
		out, err = e.runPlan(ctx, req)
	case "suite":
		out, err = e.runSuite(ctx, req)
	case "testCase":
		out, err = e.runStandaloneCase(ctx, req)
	default:
		return Outcome{}, protocol.NewValidationError(protocol.CodeRunRequestUnknownNodeId, map[string]any{
			"reason": "unreachable: RunRequest.Validate should have rejected this",
		})
	}
	if err != nil {
		return Outcome{}, err
	}

	return out, e.suspendIfRebooting(out)
}

// Resume validates a resume request's token against the target run's
// persisted session.json and, if it passes, re-enters the suite or plan
// orchestrator at the saved iteration/node/phase instead of rerunning the
// whole suite or plan from the start (§4.10).
func (e *Engine) Resume(ctx context.Context, runID, token string) (Outcome, error) {
	session, err := reboot.Resume(e.roots.RunsRoot, runID, token)
	if err != nil {
		return Outcome{}, err
	}
	dir := runDirOf(e.roots, runID)

	var out Outcome
	switch session.EntityType {
	case protocol.EntityTestCase:
		result, err := e.resumeStandaloneCase(ctx, session)
		if err != nil {
			return Outcome{}, err
		}
		out = result
	case protocol.EntityTestSuite:
		runReq, err := runfolder.ReadRunRequest(dir)
		if err != nil {
			return Outcome{}, fmt.Errorf("engine: resume: read runRequest.json: %w", err)
		}
		var manifest protocol.TestSuiteManifest
		if err := runfolder.ReadManifest(dir, &manifest); err != nil {
			return Outcome{}, fmt.Errorf("engine: resume: read manifest.json: %w", err)
		}
		result, err := e.suites.Run(ctx, suiteorch.Input{
			Suite:      manifest,
			Roots:      e.roots,
			Cases:      e.index.Cases,
			RunRequest: runReq,
			Resume:     reboot.SuiteResumeState(session),
		})
		if err != nil {
			return Outcome{}, err
		}
		out = Outcome{RunID: result.RunID, Result: result.Result, Reboot: result.Reboot}
	case protocol.EntityTestPlan:
		runReq, err := runfolder.ReadRunRequest(dir)
		if err != nil {
			return Outcome{}, fmt.Errorf("engine: resume: read runRequest.json: %w", err)
		}
		var manifest protocol.TestPlanManifest
		if err := runfolder.ReadManifest(dir, &manifest); err != nil {
			return Outcome{}, fmt.Errorf("engine: resume: read manifest.json: %w", err)
		}
		planResume, err := reboot.PlanResumeState(e.roots.RunsRoot, session)
		if err != nil {
			return Outcome{}, fmt.Errorf("engine: resume: %w", err)
		}
		result, err := e.plans.Run(ctx, planorch.Input{
			Plan:       manifest,
			Roots:      e.roots,
			Suites:     e.index.Suites,
			Cases:      e.index.Cases,
			RunRequest: runReq,
			Resume:     planResume,
		})
		if err != nil {
			return Outcome{}, err
		}
		out = Outcome{RunID: result.RunID, Result: result.Result, Reboot: result.Reboot}
	default:
		return Outcome{}, fmt.Errorf("engine: resume: unsupported session entity type %q", session.EntityType)
	}

	return out, e.suspendIfRebooting(out)
}

// resumeStandaloneCase re-enters a suspended standalone testCase run
// directly through the Case Runner, bypassing suiteorch/runNode entirely:
// a resumed standalone case is a single direct re-entry at session.NextPhase,
// not a fresh retry sequence, and no synthetic suite manifest was ever
// persisted for suiteorch to read back (§4.10, §6, §8 invariant 9).
func (e *Engine) resumeStandaloneCase(ctx context.Context, session protocol.SessionState) (Outcome, error) {
	cr := session.CaseResume
	if cr == nil {
		return Outcome{}, fmt.Errorf("engine: resume: session.json missing caseResume for standalone case run %s", session.RunID)
	}

	env := make(map[string]string, len(cr.EffectiveEnvironment)+1)
	for k, v := range cr.EffectiveEnvironment {
		env[k] = v
	}
	for k, v := range reboot.PhaseEnv(session) {
		env[k] = v
	}

	rc := protocol.RunContext{
		RunID:                session.RunID,
		Phase:                session.NextPhase,
		Entity:               protocol.EntityTestCase,
		ResolvedManifest:     cr.ResolvedManifest,
		ResolvedRef:          cr.ResolvedRef,
		ResolvedCasePath:     cr.ResolvedCasePath,
		EffectiveInputs:      cr.EffectiveInputs,
		InputTemplates:       cr.InputTemplates,
		EffectiveEnvironment: env,
		SecretInputs:         cr.SecretInputs,
		SecretEnv:            cr.SecretEnv,
		WorkingDir:           cr.WorkingDir,
		TimeoutSec:           cr.TimeoutSec,
		Roots:                e.roots,
	}

	result, err := e.runner.Run(ctx, rc)
	if err != nil {
		return Outcome{}, fmt.Errorf("engine: resume: run standalone case: %w", err)
	}

	dir := runDirOf(e.roots, session.RunID)

	if result.Status == protocol.StatusRebootRequired {
		next := protocol.SessionState{
			RunID:      session.RunID,
			EntityType: protocol.EntityTestCase,
			State:      protocol.SessionStatePendingResume,
			NextPhase:  result.Reboot.NextPhase,
			Roots:      e.roots,
			CaseResume: &protocol.CaseResumeContext{
				RunID:                rc.RunID,
				ResolvedManifest:     rc.ResolvedManifest,
				ResolvedRef:          rc.ResolvedRef,
				ResolvedCasePath:     rc.ResolvedCasePath,
				EffectiveInputs:      rc.EffectiveInputs,
				InputTemplates:       rc.InputTemplates,
				EffectiveEnvironment: rc.EffectiveEnvironment,
				SecretInputs:         rc.SecretInputs,
				SecretEnv:            rc.SecretEnv,
				WorkingDir:           rc.WorkingDir,
				TimeoutSec:           rc.TimeoutSec,
			},
		}
		if err := runfolder.WriteSession(dir, next); err != nil {
			return Outcome{}, fmt.Errorf("engine: resume: write standalone session.json: %w", err)
		}
		return Outcome{RunID: session.RunID, Reboot: result.Reboot}, nil
	}

	if err := runfolder.AppendIndex(e.roots.RunsRoot, protocol.IndexEntry{
		RunID: session.RunID, RunType: "case", TestID: cr.ResolvedManifest.ID, TestVersion: cr.ResolvedManifest.Version,
		StartTime: result.StartTime, EndTime: result.EndTime, Status: result.Status,
	}); err != nil {
		e.logger.Warn("failed to append resumed case index entry", "runId", session.RunID, "error", err)
	}

	return Outcome{RunID: session.RunID, Case: &result}, nil
}

// suspendIfRebooting arms the autostart task and reboots via e.adapter when
// out carries reboot info, a no-op otherwise.
func (e *Engine) suspendIfRebooting(out Outcome) error {
	if out.Reboot == nil {
		return nil
	}
	dir := runDirOf(e.roots, out.RunID)
	if err := reboot.Suspend(e.adapter, reboot.SuspendRequest{
		RunsRoot: e.roots.RunsRoot,
		Dir:      dir,
		RunID:    out.RunID,
		DelaySec: out.Reboot.DelaySec,
	}); err != nil {
		return fmt.Errorf("engine: suspend for reboot: %w", err)
	}
	return nil
}

func (e *Engine) runPlan(ctx context.Context, req protocol.RunRequest) (Outcome, error) {
	identity, err := protocol.ParseIdentity(req.Plan.Identity)
	if err != nil {
		return Outcome{}, err
	}
	entry, ok := e.index.Plans[identity]
	if !ok {
		return Outcome{}, protocol.NewValidationError(protocol.CodeRunRequestUnknownNodeId, map[string]any{
			"identity": req.Plan.Identity,
		})
	}

	result, err := e.plans.Run(ctx, planorch.Input{
		Plan:       entry.Manifest,
		Roots:      e.roots,
		Suites:     e.index.Suites,
		Cases:      e.index.Cases,
		RunRequest: req,
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{RunID: result.RunID, Result: result.Result, Reboot: result.Reboot}, nil
}

func (e *Engine) runSuite(ctx context.Context, req protocol.RunRequest) (Outcome, error) {
	identity, err := protocol.ParseIdentity(req.Suite.Identity)
	if err != nil {
		return Outcome{}, err
	}
	entry, ok := e.index.Suites[identity]
	if !ok {
		return Outcome{}, protocol.NewValidationError(protocol.CodeRunRequestUnknownNodeId, map[string]any{
			"identity": req.Suite.Identity,
		})
	}

	result, err := e.suites.Run(ctx, suiteorch.Input{
		Suite:      entry.Manifest,
		Roots:      e.roots,
		Cases:      e.index.Cases,
		RunRequest: req,
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{RunID: result.RunID, Result: result.Result, Reboot: result.Reboot}, nil
}

// runStandaloneCase wraps req.TestCase as a one-node synthetic suite and
// hands it to the Suite Orchestrator, so a lone case run gets the exact
// same input/environment resolution, retry, and reboot handling a suite
// node gets rather than a second, parallel implementation of all three.
func (e *Engine) runStandaloneCase(ctx context.Context, req protocol.RunRequest) (Outcome, error) {
	identity, err := protocol.ParseIdentity(req.TestCase.Identity)
	if err != nil {
		return Outcome{}, err
	}
	if _, ok := e.index.Cases[identity]; !ok {
		return Outcome{}, protocol.NewValidationError(protocol.CodeRunRequestUnknownNodeId, map[string]any{
			"identity": req.TestCase.Identity,
		})
	}

	// NodeID is the case's own identity string: resolveNode tries parsing
	// a node id as an identity before ever falling back to ref
	// resolution, so this node resolves straight out of e.index.Cases and
	// Ref only has to satisfy the manifest's "required" tag.
	nodeID := req.TestCase.Identity
	synthetic := protocol.TestSuiteManifest{
		ID:      identity.ID,
		Version: syntheticSuiteVersion,
		TestCases: []protocol.SuiteNode{
			{NodeID: nodeID, Ref: req.TestCase.Identity},
		},
	}

	nestedReq := protocol.RunRequest{
		Suite: &protocol.SuiteRunRequest{
			Identity:      req.TestCase.Identity,
			NodeOverrides: map[string]protocol.NodeOverride{nodeID: {Inputs: req.TestCase.CaseInputs}},
		},
		EnvironmentOverrides: req.EnvironmentOverrides,
	}

	result, err := e.suites.Run(ctx, suiteorch.Input{
		Suite:      synthetic,
		Roots:      e.roots,
		Cases:      e.index.Cases,
		RunRequest: nestedReq,
		Standalone: true,
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{RunID: result.RunID, Case: result.Case, Reboot: result.Reboot}, nil
}

// runDirOf derives a group run folder's path from its run-id: runfolder
// names every group folder "<runsRoot>/<runID>" verbatim.
func runDirOf(roots protocol.Roots, runID string) string {
	return filepath.Join(roots.RunsRoot, runID)
}
