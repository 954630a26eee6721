// Package suiteorch implements the Suite Orchestrator (§4.7): the node
// loop that resolves, runs (with retry), and aggregates a suite's declared
// test cases, reporting progress through a Reporter and persisting every
// group- and case-level artifact the run folder layout requires.
package suiteorch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/pvt-x/pvtx/internal/discovery"
	"github.com/pvt-x/pvtx/internal/envresolver"
	"github.com/pvt-x/pvtx/internal/inputresolver"
	"github.com/pvt-x/pvtx/internal/protocol"
	"github.com/pvt-x/pvtx/internal/refresolver"
	"github.com/pvt-x/pvtx/internal/reporter"
	"github.com/pvt-x/pvtx/internal/runfolder"
)

// CaseRunner is the Case Runner collaborator interface (§4.6). Accepting it
// here rather than a concrete *caserunner.Runner lets tests substitute a
// fake that returns canned CaseResults without spawning real processes.
type CaseRunner interface {
	Run(ctx context.Context, rc protocol.RunContext) (protocol.CaseResult, error)
}

// nodeIDSuffix matches the optional "_<digits>" suffix a suite uses to
// declare the same case more than once under distinct node ids.
var nodeIDSuffix = regexp.MustCompile(`_\d+$`)

// Orchestrator runs one suite to completion (or reboot/abort).
type Orchestrator struct {
	runner   CaseRunner
	reporter reporter.Reporter
	logger   *slog.Logger
}

// New constructs an Orchestrator. rep may be reporter.New() (the null
// object) when no live consumer is attached.
func New(runner CaseRunner, rep reporter.Reporter, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{runner: runner, reporter: rep, logger: logger}
}

// Input is everything a suite run needs beyond the Orchestrator itself.
type Input struct {
	Suite protocol.TestSuiteManifest
	Roots protocol.Roots
	Cases map[protocol.Identity]discovery.CaseEntry

	// RunRequest is the top-level request; Suite-triggered case overrides
	// and environment overrides are read from it. Its Suite field may be
	// nil when this run is plan-triggered (a plan may never supply
	// nodeOverrides/caseInputs, only an env-only override threaded via
	// PlanEnv/EnvOverrides below).
	RunRequest protocol.RunRequest

	// ControlOverride is the plan-level controls override (§4.7), nil for
	// a standalone suite run.
	ControlOverride *protocol.Controls

	// PlanEnv is the plan manifest's environment.env layer, nil unless
	// this suite run is plan-triggered.
	PlanEnv map[string]string

	PlanID      string
	PlanVersion string
	ParentRunID string

	// Standalone marks a run built from engine.runStandaloneCase's one-node
	// synthetic suite wrapper: Run skips every suite/group-level artifact
	// (no group run folder, no suite-level index.jsonl entry) and the one
	// node it runs gets no nodeId/suiteId/planId/parentRunId stamped into
	// its own result.json or index.jsonl line (§6, §8 invariant 9).
	Standalone bool

	// Resume, when non-nil, re-enters this suite's already-persisted run
	// folder at a saved iteration/node/phase instead of starting a fresh
	// run folder at iteration 0, node 0 (§4.10). Built from the suite's
	// own session.json by internal/reboot's caller.
	Resume *ResumeState
}

// ResumeState is the suite-level slice of a protocol.SessionState needed
// to re-enter Run after a reboot: which run folder to continue writing
// into, and where in the iteration×node loop to pick back up.
type ResumeState struct {
	RunID     string
	Iteration int
	NodeIndex int
	Phase     int
}

// Result is everything the caller (a top-level CLI command, or the Plan
// Orchestrator) needs after a suite run returns.
type Result struct {
	RunID string
	// Result is the suite's GroupResult; zero value for a Standalone run.
	Result protocol.GroupResult
	// Case is the standalone case's own CaseResult; nil for a real suite
	// run. Exactly one of Result/Case is meaningful, per Input.Standalone.
	Case *protocol.CaseResult
	// Reboot is non-nil iff the run suspended for a reboot rather than
	// completing; Result/Case are the zero value in that case.
	Reboot *protocol.RebootInfo
}

// resolvedCase pairs a resolved test-case folder with its manifest,
// regardless of whether it was found by identity lookup or by ref.
type resolvedCase struct {
	dir      string
	manifest protocol.TestCaseManifest
}

// Run executes in.Suite's node loop to completion, reboot, or abort, and
// returns the suite's GroupResult (or reboot info). A Standalone run skips
// straight to runStandalone instead.
func (o *Orchestrator) Run(ctx context.Context, in Input) (Result, error) {
	if in.Standalone {
		return o.runStandalone(ctx, in)
	}

	now := protocol.NowISO()
	var runID, dir string
	if in.Resume != nil {
		runID = in.Resume.RunID
		dir = filepath.Join(in.Roots.RunsRoot, runID)
	} else {
		var err error
		runID, dir, err = runfolder.CreateGroupFolder(in.Roots.RunsRoot, protocol.EntityTestSuite, now)
		if err != nil {
			return Result{}, fmt.Errorf("suiteorch: create suite run folder: %w", err)
		}
	}

	controls := protocol.MergePlanOverride(in.Suite.EffectiveControls(), in.ControlOverride).Normalize()
	if controls.MaxParallel > 1 {
		if err := runfolder.AppendEvent(dir, protocol.EventRecord{
			Timestamp: protocol.NowISO(),
			Code:      protocol.CodeControlsMaxParallelIgnored,
			Level:     protocol.EventLevelWarning,
			Message:   "maxParallel > 1 is not supported; executing sequentially",
			Location:  "suite.manifest.json",
		}); err != nil {
			o.logger.Warn("failed to append maxParallel warning event", "runId", runID, "error", err)
		}
	}

	if err := runfolder.WriteManifest(dir, in.Suite); err != nil {
		return Result{}, fmt.Errorf("suiteorch: write manifest.json: %w", err)
	}
	if err := runfolder.WriteControls(dir, controls); err != nil {
		return Result{}, fmt.Errorf("suiteorch: write controls.json: %w", err)
	}
	if err := runfolder.WriteRunRequest(dir, in.RunRequest); err != nil {
		return Result{}, fmt.Errorf("suiteorch: write runRequest.json: %w", err)
	}

	var suiteEnv map[string]string
	if in.Suite.Environment != nil {
		suiteEnv = in.Suite.Environment.Env
	}
	envLayers := envresolver.Layers{
		OSEnv:     os.Environ(),
		SuiteEnv:  suiteEnv,
		PlanEnv:   in.PlanEnv,
		Overrides: in.RunRequest.EnvironmentOverrides.Env,
	}
	groupEnv, err := envresolver.MergeLayers(envLayers)
	if err != nil {
		return Result{}, fmt.Errorf("suiteorch: merge suite environment: %w", err)
	}
	if err := runfolder.WriteEnvironment(dir, groupEnv); err != nil {
		return Result{}, fmt.Errorf("suiteorch: write environment.json: %w", err)
	}

	plannedNodes := make([]string, len(in.Suite.TestCases))
	for i, node := range in.Suite.TestCases {
		plannedNodes[i] = node.NodeID
	}
	o.reporter.OnRunPlanned(runID, "suite", plannedNodes)

	var statuses []protocol.Status
	var childIDs []string
	userAbort := false

	startIteration, startNodeIndex := 0, 0
	if in.Resume != nil {
		startIteration, startNodeIndex = in.Resume.Iteration, in.Resume.NodeIndex
	}

iterations:
	for iteration := startIteration; iteration < controls.Repeat; iteration++ {
		for nodeIdx, node := range in.Suite.TestCases {
			if iteration == startIteration && nodeIdx < startNodeIndex {
				continue
			}
			if ctx.Err() != nil {
				userAbort = true
				break iterations
			}

			o.reporter.OnNodeStarted(runID, node.NodeID)
			start := protocol.NowISO()
			// Persisted alongside the push-only reporter call so a resumed
			// run can recover the node's original start time from
			// events.jsonl (§4.10) rather than restarting its duration
			// clock from the resume point.
			if err := runfolder.AppendEvent(dir, protocol.EventRecord{
				Timestamp: start,
				Code:      "TestCase.Started",
				Level:     protocol.EventLevelInfo,
				Payload:   map[string]any{"nodeId": node.NodeID},
			}); err != nil {
				o.logger.Warn("failed to append node-started event", "runId", runID, "error", err)
			}

			resumePhase := 0
			if in.Resume != nil && iteration == in.Resume.Iteration && nodeIdx == in.Resume.NodeIndex {
				resumePhase = in.Resume.Phase
			}
			outcome, runErr := o.runNode(ctx, dir, runID, in, envLayers, controls, node, resumePhase)
			if runErr != nil {
				o.reporter.OnNodeFinished(runID, reporter.NodeResult{
					NodeID: node.NodeID, Status: string(protocol.StatusError),
					StartTime: start, EndTime: protocol.NowISO(), Message: runErr.Error(),
				})
				return Result{}, runErr
			}

			if outcome.reboot != nil {
				if err := runfolder.AppendEvent(dir, protocol.EventRecord{
					Timestamp: protocol.NowISO(),
					Code:      "TestCase.RebootRequested",
					Level:     protocol.EventLevelInfo,
					Message:   outcome.reboot.Reason,
					Payload:   map[string]any{"nodeId": node.NodeID, "childRunId": outcome.lastChildRunID},
				}); err != nil {
					o.logger.Warn("failed to append reboot event", "runId", runID, "error", err)
				}
				session := protocol.SessionState{
					RunID:             runID,
					EntityType:        protocol.EntityTestSuite,
					State:             protocol.SessionStatePendingResume,
					NextPhase:         outcome.reboot.NextPhase,
					CurrentNodeIndex:  nodeIdx,
					CurrentChildRunID: outcome.lastChildRunID,
					CurrentIteration:  iteration,
					Roots:             in.Roots,
				}
				if err := runfolder.WriteSession(dir, session); err != nil {
					return Result{}, fmt.Errorf("suiteorch: write session.json: %w", err)
				}
				o.reporter.OnNodeFinished(runID, reporter.NodeResult{
					NodeID: node.NodeID, Status: string(protocol.StatusRebootRequired),
					StartTime: start, EndTime: protocol.NowISO(), RetryCount: outcome.retryCount,
				})
				return Result{RunID: runID, Reboot: outcome.reboot}, nil
			}

			end := protocol.NowISO()
			statuses = append(statuses, outcome.status)
			childIDs = append(childIDs, outcome.lastChildRunID)

			if err := runfolder.AppendChild(dir, protocol.ChildEntry{
				ChildRunID: outcome.lastChildRunID,
				NodeID:     node.NodeID,
				Status:     outcome.status,
				StartTime:  start,
				EndTime:    end,
				RetryCount: outcome.retryCount,
				Message:    outcome.message,
			}); err != nil {
				o.logger.Warn("failed to append child entry", "runId", runID, "error", err)
			}
			o.reporter.OnNodeFinished(runID, reporter.NodeResult{
				NodeID: node.NodeID, Status: string(outcome.status),
				StartTime: start, EndTime: end, Message: outcome.message, RetryCount: outcome.retryCount,
			})

			if !controls.ContinueOnFailure && outcome.status != protocol.StatusPassed {
				break iterations
			}
		}
	}

	finalStatus := protocol.Aggregate(statuses, userAbort)

	counts := protocol.Counts{}
	for _, s := range statuses {
		counts.Add(s)
	}

	result := protocol.GroupResult{
		SchemaVersion: protocol.SchemaVersion,
		RunType:       "suite",
		SuiteID:       in.Suite.ID,
		SuiteVersion:  in.Suite.Version,
		PlanID:        in.PlanID,
		PlanVersion:   in.PlanVersion,
		Status:        finalStatus,
		StartTime:     now,
		EndTime:       protocol.NowISO(),
		Counts:        counts,
		ChildRunIDs:   childIDs,
	}
	if err := runfolder.WriteResult(dir, result); err != nil {
		o.logger.Warn("failed to write suite result.json", "runId", runID, "error", err)
	}
	if err := runfolder.AppendIndex(in.Roots.RunsRoot, protocol.IndexEntry{
		RunID: runID, RunType: "suite", SuiteID: in.Suite.ID, SuiteVersion: in.Suite.Version,
		PlanID: in.PlanID, PlanVersion: in.PlanVersion, ParentRunID: in.ParentRunID,
		StartTime: now, EndTime: result.EndTime, Status: finalStatus,
	}); err != nil {
		o.logger.Warn("failed to append suite index entry", "runId", runID, "error", err)
	}

	o.reporter.OnRunFinished(runID, string(finalStatus))
	return Result{RunID: runID, Result: result}, nil
}

// runStandalone runs in.Suite's single synthetic node directly: no group
// run folder is created, and no suite-level result.json/index.jsonl entry
// is ever written — only the one node's own case run folder and index
// entry exist on disk, exactly as a standalone testCase run is defined
// (§6, §8 invariant 9). Node resolution, retry, and reboot handling are
// identical to the suite path; only the group-level bookkeeping is skipped.
func (o *Orchestrator) runStandalone(ctx context.Context, in Input) (Result, error) {
	node := in.Suite.TestCases[0]

	var suiteEnv map[string]string
	if in.Suite.Environment != nil {
		suiteEnv = in.Suite.Environment.Env
	}
	envLayers := envresolver.Layers{
		OSEnv:     os.Environ(),
		SuiteEnv:  suiteEnv,
		PlanEnv:   in.PlanEnv,
		Overrides: in.RunRequest.EnvironmentOverrides.Env,
	}
	controls := protocol.MergePlanOverride(in.Suite.EffectiveControls(), in.ControlOverride).Normalize()

	resumePhase := 0
	if in.Resume != nil {
		resumePhase = in.Resume.Phase
	}

	outcome, err := o.runNode(ctx, "", "", in, envLayers, controls, node, resumePhase)
	if err != nil {
		return Result{}, err
	}

	caseDir := filepath.Join(in.Roots.RunsRoot, outcome.lastChildRunID)

	// Planned/started are reported alongside finished, all under the case's
	// own run-id, since that id is only generated inside runNode.
	o.reporter.OnRunPlanned(outcome.lastChildRunID, "testCase", []string{node.NodeID})
	o.reporter.OnNodeStarted(outcome.lastChildRunID, node.NodeID)

	if outcome.reboot != nil {
		session := protocol.SessionState{
			RunID:      outcome.lastChildRunID,
			EntityType: protocol.EntityTestCase,
			State:      protocol.SessionStatePendingResume,
			NextPhase:  outcome.reboot.NextPhase,
			Roots:      in.Roots,
			CaseResume: &protocol.CaseResumeContext{
				RunID:                outcome.rc.RunID,
				ResolvedManifest:     outcome.rc.ResolvedManifest,
				ResolvedRef:          outcome.rc.ResolvedRef,
				ResolvedCasePath:     outcome.rc.ResolvedCasePath,
				EffectiveInputs:      outcome.rc.EffectiveInputs,
				InputTemplates:       outcome.rc.InputTemplates,
				EffectiveEnvironment: outcome.rc.EffectiveEnvironment,
				SecretInputs:         outcome.rc.SecretInputs,
				SecretEnv:            outcome.rc.SecretEnv,
				WorkingDir:           outcome.rc.WorkingDir,
				TimeoutSec:           outcome.rc.TimeoutSec,
			},
		}
		if err := runfolder.WriteSession(caseDir, session); err != nil {
			return Result{}, fmt.Errorf("suiteorch: write standalone session.json: %w", err)
		}
		o.reporter.OnNodeFinished(outcome.lastChildRunID, reporter.NodeResult{
			NodeID: node.NodeID, Status: string(protocol.StatusRebootRequired),
			StartTime: outcome.result.StartTime, EndTime: protocol.NowISO(), RetryCount: outcome.retryCount,
		})
		return Result{RunID: outcome.lastChildRunID, Reboot: outcome.reboot}, nil
	}

	o.reporter.OnNodeFinished(outcome.lastChildRunID, reporter.NodeResult{
		NodeID: node.NodeID, Status: string(outcome.status),
		StartTime: outcome.result.StartTime, EndTime: outcome.result.EndTime,
		Message: outcome.message, RetryCount: outcome.retryCount,
	})
	o.reporter.OnRunFinished(outcome.lastChildRunID, string(outcome.status))

	result := outcome.result
	return Result{RunID: outcome.lastChildRunID, Case: &result}, nil
}

// nodeOutcome is runNode's internal result: the node's final status after
// every retry attempt, the run-id of the last attempt (the one recorded as
// the child), how many retries occurred, and reboot info if the node
// suspended instead of finishing. result/rc are the last attempt's own
// CaseResult and RunContext, used by runStandalone to return/persist a
// standalone case's outcome without a wrapping GroupResult.
type nodeOutcome struct {
	status         protocol.Status
	lastChildRunID string
	retryCount     int
	message        string
	reboot         *protocol.RebootInfo
	result         protocol.CaseResult
	rc             protocol.RunContext
}

// runNode resolves node's case, resolves its effective inputs/environment,
// and runs it up to 1+controls.RetryOnError times, retrying only on Error
// or Timeout (§4.7 item 3, §8 invariant 7). resumePhase, when non-zero,
// carries a node into its first attempt at a later phase than 0 (§4.10);
// every retry attempt after that still starts the node fresh at phase 0.
func (o *Orchestrator) runNode(ctx context.Context, groupDir, groupRunID string, in Input, envLayers envresolver.Layers, controls protocol.Controls, node protocol.SuiteNode, resumePhase int) (nodeOutcome, error) {
	resolved, err := resolveNode(in.Cases, in.Roots.CasesRoot, node)
	if err != nil {
		return nodeOutcome{status: protocol.StatusError, message: err.Error()}, nil
	}

	var nodeOverride protocol.NodeOverride
	if in.RunRequest.Suite != nil {
		nodeOverride = in.RunRequest.Suite.NodeOverrides[node.NodeID]
	}
	defaultsRaw := make(map[string]json.RawMessage, len(resolved.manifest.Parameters))
	for _, p := range resolved.manifest.Parameters {
		if len(p.Default) > 0 {
			defaultsRaw[p.Name] = p.Default
		}
	}
	templates := inputresolver.MergeTemplates(defaultsRaw, node.Inputs, nodeOverride.Inputs)

	if err := inputresolver.ValidateStatic(resolved.manifest.Parameters, templates); err != nil {
		return nodeOutcome{status: protocol.StatusError, message: err.Error()}, nil
	}

	attempts := 1 + controls.RetryOnError
	var last protocol.CaseResult
	var lastRunID string
	var lastRC protocol.RunContext
	retryCount := 0

	for attempt := 0; attempt < attempts; attempt++ {
		runID, caseErr := runfolder.NewCaseRunID(time.Now())
		if caseErr != nil {
			return nodeOutcome{}, fmt.Errorf("suiteorch: generate case run id: %w", caseErr)
		}
		lastRunID = runID
		attemptStart := protocol.NowISO()
		caseRunFolder := filepath.Join(in.Roots.RunsRoot, runID)

		phase := 0
		if attempt == 0 {
			phase = resumePhase
		}

		// The case folder must exist before ValidatePreNodePaths can resolve
		// it as a symlink-containment root, even though the Case Runner (not
		// this package) owns populating it with artifacts/control/manifest
		// once Run is actually invoked (§4.6 item 1).
		if err := os.MkdirAll(caseRunFolder, 0700); err != nil {
			return nodeOutcome{}, fmt.Errorf("suiteorch: create case run folder: %w", err)
		}

		predefined := envresolver.Predefined{
			TestCasePath: resolved.dir,
			TestCaseName: resolved.manifest.ID,
			TestCaseID:   resolved.manifest.ID,
			TestCaseVer:  resolved.manifest.Version,
			CasesRoot:    in.Roots.CasesRoot,
			RunID:        runID,
			Phase:        fmt.Sprintf("%d", phase),
			ControlDir:   filepath.Join(caseRunFolder, "control"),
		}
		env, err := envresolver.Merge(envLayers, predefined)
		if err != nil {
			last = protocol.CaseResult{Status: protocol.StatusError, Message: err.Error(), StartTime: attemptStart, EndTime: protocol.NowISO()}
			o.recordCaseAttempt(in, groupRunID, runID, node, resolved, last)
			break
		}

		materialized, err := inputresolver.Materialize(resolved.manifest.Parameters, templates, env)
		if err != nil {
			last = protocol.CaseResult{Status: protocol.StatusError, Message: err.Error(), StartTime: attemptStart, EndTime: protocol.NowISO()}
			o.recordCaseAttempt(in, groupRunID, runID, node, resolved, last)
			break
		}

		if err := inputresolver.ValidatePreNodePaths(resolved.manifest.Parameters, materialized.EffectiveInputs, resolved.dir, caseRunFolder); err != nil {
			last = protocol.CaseResult{Status: protocol.StatusError, Message: err.Error(), StartTime: attemptStart, EndTime: protocol.NowISO()}
			o.recordCaseAttempt(in, groupRunID, runID, node, resolved, last)
			break
		}

		for _, w := range inputresolver.SecretOnCommandLineWarnings(materialized.SecretInputs) {
			if groupDir == "" {
				// Standalone: no group run folder exists to log this into.
				continue
			}
			if err := runfolder.AppendEvent(groupDir, protocol.EventRecord{
				Timestamp: protocol.NowISO(), Code: w.Code, Level: protocol.EventLevelWarning,
				Message: w.Message, Payload: w.Payload,
			}); err != nil {
				o.logger.Warn("failed to append warning event", "runId", groupRunID, "error", err)
			}
		}

		rc := protocol.RunContext{
			RunID:                runID,
			Phase:                phase,
			Entity:               protocol.EntityTestCase,
			ResolvedManifest:     resolved.manifest,
			ResolvedRef:          node.Ref,
			ResolvedCasePath:     resolved.dir,
			EffectiveInputs:      materialized.EffectiveInputs,
			InputTemplates:       templatesToAny(materialized.InputTemplates),
			EffectiveEnvironment: env,
			SecretInputs:         materialized.SecretInputs,
			WorkingDir:           resolved.dir,
			TimeoutSec:           resolved.manifest.TimeoutSec,
			Roots:                in.Roots,
		}
		if !in.Standalone {
			rc.NodeID = node.NodeID
			rc.SuiteID = in.Suite.ID
			rc.SuiteVersion = in.Suite.Version
			rc.PlanID = in.PlanID
			rc.PlanVersion = in.PlanVersion
			rc.ParentRunID = groupRunID
		}
		lastRC = rc

		result, err := o.runner.Run(ctx, rc)
		if err != nil {
			return nodeOutcome{}, fmt.Errorf("suiteorch: run case %s: %w", node.NodeID, err)
		}
		last = result
		o.recordCaseAttempt(in, groupRunID, runID, node, resolved, result)

		if result.Status == protocol.StatusRebootRequired {
			return nodeOutcome{lastChildRunID: runID, retryCount: retryCount, reboot: result.Reboot, result: result, rc: rc}, nil
		}

		if result.Status != protocol.StatusError && result.Status != protocol.StatusTimeout {
			break
		}
		retryCount = attempt + 1
		if retryCount >= attempts {
			break
		}
	}

	return nodeOutcome{
		status:         last.Status,
		lastChildRunID: lastRunID,
		retryCount:     retryCount,
		message:        last.Message,
		result:         last,
		rc:             lastRC,
	}, nil
}

// recordCaseAttempt appends one index.jsonl line for a single case-run
// attempt (§6: every attempt, including retries, gets its own line),
// regardless of whether the attempt got far enough to invoke the Case
// Runner. A Standalone attempt's entry carries only runId/runType/testId/
// testVersion/startTime/endTime/status — nodeId/suiteId/planId/parentRunId
// are left absent (§8 invariant 9).
func (o *Orchestrator) recordCaseAttempt(in Input, groupRunID, runID string, node protocol.SuiteNode, resolved resolvedCase, result protocol.CaseResult) {
	entry := protocol.IndexEntry{
		RunID: runID, RunType: "case", TestID: resolved.manifest.ID, TestVersion: resolved.manifest.Version,
		StartTime: result.StartTime, EndTime: result.EndTime, Status: result.Status,
	}
	if !in.Standalone {
		entry.NodeID = node.NodeID
		entry.SuiteID = in.Suite.ID
		entry.SuiteVersion = in.Suite.Version
		entry.PlanID = in.PlanID
		entry.PlanVersion = in.PlanVersion
		entry.ParentRunID = groupRunID
	}
	if err := runfolder.AppendIndex(in.Roots.RunsRoot, entry); err != nil {
		o.logger.Warn("failed to append case index entry", "runId", groupRunID, "error", err)
	}
}

// resolveNode resolves a suite node to its case folder + manifest: first by
// stripping an optional "_<digits>" suffix from nodeId and looking the
// resulting identity up in the discovery index, falling back to ref
// resolution when the identity lookup fails (§4.7 item 1).
func resolveNode(cases map[protocol.Identity]discovery.CaseEntry, casesRoot string, node protocol.SuiteNode) (resolvedCase, error) {
	stripped := nodeIDSuffix.ReplaceAllString(node.NodeID, "")
	if identity, err := protocol.ParseIdentity(stripped); err == nil {
		if entry, ok := cases[identity]; ok {
			return resolvedCase{dir: entry.Dir, manifest: entry.Manifest}, nil
		}
	}
	r, err := refresolver.Resolve(casesRoot, node.Ref)
	if err != nil {
		return resolvedCase{}, err
	}
	return resolvedCase{dir: r.Dir, manifest: r.Manifest}, nil
}

// templatesToAny decodes a Templates map's raw JSON values into a generic
// map, the shape RunContext.InputTemplates and the case manifest snapshot
// both persist verbatim. A value that fails to decode is skipped rather
// than failing the whole conversion — it already passed ValidateStatic and
// Materialize by this point, so this is defense against an unexpected
// shape, not an expected path.
func templatesToAny(templates inputresolver.Templates) map[string]any {
	out := make(map[string]any, len(templates))
	for name, raw := range templates {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		out[name] = v
	}
	return out
}
