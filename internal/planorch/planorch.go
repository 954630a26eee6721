// Package planorch implements the Plan Orchestrator (§4.8): the state
// machine over an ordered list of suite entries that rejects input
// overrides, threads an env-only override down into each suite run, and
// aggregates the plan's children with the same status precedence a suite
// uses, plus a reboot-aware short-circuit one layer up.
package planorch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pvt-x/pvtx/internal/discovery"
	"github.com/pvt-x/pvtx/internal/envresolver"
	"github.com/pvt-x/pvtx/internal/protocol"
	"github.com/pvt-x/pvtx/internal/reporter"
	"github.com/pvt-x/pvtx/internal/runfolder"
	"github.com/pvt-x/pvtx/internal/suiteorch"
)

// SuiteRunner is the Suite Orchestrator collaborator interface. A
// *suiteorch.Orchestrator satisfies this directly; tests substitute a fake
// that returns canned suiteorch.Results without exercising a real node loop.
type SuiteRunner interface {
	Run(ctx context.Context, in suiteorch.Input) (suiteorch.Result, error)
}

// Orchestrator runs one plan to completion (or reboot/abort).
type Orchestrator struct {
	suites   SuiteRunner
	reporter reporter.Reporter
	logger   *slog.Logger
}

// New constructs an Orchestrator. rep may be reporter.New() (the null
// object) when no live consumer is attached.
func New(suites SuiteRunner, rep reporter.Reporter, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{suites: suites, reporter: rep, logger: logger}
}

// Input is everything a plan run needs beyond the Orchestrator itself.
type Input struct {
	Plan  protocol.TestPlanManifest
	Roots protocol.Roots

	Suites map[protocol.Identity]discovery.SuiteEntry
	Cases  map[protocol.Identity]discovery.CaseEntry

	// RunRequest is the top-level request. Its Plan field's NodeOverrides
	// and CaseInputs must already be empty by the time Run is called —
	// RunRequest.Validate rejects a populated plan override before any
	// orchestrator runs — so only EnvironmentOverrides is ever read here.
	RunRequest protocol.RunRequest

	ParentRunID string

	// Resume, when non-nil, re-enters this plan's already-persisted run
	// folder at a saved suite index instead of starting a fresh run folder
	// at suite 0 (§4.10). Built from the plan's session.json plus the
	// suspended suite's own session.json by internal/reboot's caller.
	Resume *ResumeState
}

// ResumeState is the plan-level slice of a protocol.SessionState (plus its
// suspended child suite's own session.json) needed to re-enter Run after a
// reboot.
type ResumeState struct {
	RunID       string
	NodeIndex   int
	SuiteResume *suiteorch.ResumeState
}

// Result is everything the caller (a top-level CLI command) needs after a
// plan run returns.
type Result struct {
	RunID  string
	Result protocol.GroupResult
	// Reboot is non-nil iff the run suspended for a reboot rather than
	// completing; Result is the zero value in that case.
	Reboot *protocol.RebootInfo
}

// Run executes in.Plan's suite loop to completion, reboot, or abort, and
// returns the plan's GroupResult (or reboot info).
func (o *Orchestrator) Run(ctx context.Context, in Input) (Result, error) {
	if err := in.RunRequest.Validate(); err != nil {
		return Result{}, err
	}

	now := protocol.NowISO()
	var runID, dir string
	if in.Resume != nil {
		runID = in.Resume.RunID
		dir = filepath.Join(in.Roots.RunsRoot, runID)
	} else {
		var err error
		runID, dir, err = runfolder.CreateGroupFolder(in.Roots.RunsRoot, protocol.EntityTestPlan, now)
		if err != nil {
			return Result{}, fmt.Errorf("planorch: create plan run folder: %w", err)
		}
	}

	if err := runfolder.WriteManifest(dir, in.Plan); err != nil {
		return Result{}, fmt.Errorf("planorch: write manifest.json: %w", err)
	}
	if err := runfolder.WriteRunRequest(dir, in.RunRequest); err != nil {
		return Result{}, fmt.Errorf("planorch: write runRequest.json: %w", err)
	}

	var planEnv map[string]string
	if in.Plan.Environment != nil {
		planEnv = in.Plan.Environment.Env
	}
	groupEnv, err := envresolver.MergeLayers(envresolver.Layers{
		OSEnv:     os.Environ(),
		PlanEnv:   planEnv,
		Overrides: in.RunRequest.EnvironmentOverrides.Env,
	})
	if err != nil {
		return Result{}, fmt.Errorf("planorch: merge plan environment: %w", err)
	}
	if err := runfolder.WriteEnvironment(dir, groupEnv); err != nil {
		return Result{}, fmt.Errorf("planorch: write environment.json: %w", err)
	}

	plannedNodes := make([]string, len(in.Plan.TestSuites))
	for i, entry := range in.Plan.TestSuites {
		plannedNodes[i] = entry.NodeID
	}
	o.reporter.OnRunPlanned(runID, "plan", plannedNodes)

	var statuses []protocol.Status
	var childIDs []string
	userAbort := false

	startIndex := 0
	if in.Resume != nil {
		startIndex = in.Resume.NodeIndex
	}

	for idx, entry := range in.Plan.TestSuites {
		if idx < startIndex {
			continue
		}
		if ctx.Err() != nil {
			userAbort = true
			break
		}

		o.reporter.OnNodeStarted(runID, entry.NodeID)
		start := protocol.NowISO()
		if err := runfolder.AppendEvent(dir, protocol.EventRecord{
			Timestamp: start,
			Code:      "TestSuite.Started",
			Level:     protocol.EventLevelInfo,
			Payload:   map[string]any{"nodeId": entry.NodeID},
		}); err != nil {
			o.logger.Warn("failed to append node-started event", "runId", runID, "error", err)
		}

		var suiteResume *suiteorch.ResumeState
		if in.Resume != nil && idx == in.Resume.NodeIndex {
			suiteResume = in.Resume.SuiteResume
		}
		outcome, err := o.runSuite(ctx, dir, runID, in, planEnv, entry, suiteResume)
		if err != nil {
			o.reporter.OnNodeFinished(runID, reporter.NodeResult{
				NodeID: entry.NodeID, Status: string(protocol.StatusError),
				StartTime: start, EndTime: protocol.NowISO(), Message: err.Error(),
			})
			return Result{}, err
		}

		if outcome.reboot != nil {
			if err := runfolder.AppendEvent(dir, protocol.EventRecord{
				Timestamp: protocol.NowISO(),
				Code:      "TestSuite.RebootRequested",
				Level:     protocol.EventLevelInfo,
				Message:   outcome.reboot.Reason,
				Payload:   map[string]any{"nodeId": entry.NodeID, "childRunId": outcome.childRunID},
			}); err != nil {
				o.logger.Warn("failed to append reboot event", "runId", runID, "error", err)
			}
			session := protocol.SessionState{
				RunID:             runID,
				EntityType:        protocol.EntityTestPlan,
				State:             protocol.SessionStatePendingResume,
				NextPhase:         outcome.reboot.NextPhase,
				CurrentNodeIndex:  idx,
				ChildSessionRunID: outcome.childRunID,
				Roots:             in.Roots,
			}
			if err := runfolder.WriteSession(dir, session); err != nil {
				return Result{}, fmt.Errorf("planorch: write session.json: %w", err)
			}
			o.reporter.OnNodeFinished(runID, reporter.NodeResult{
				NodeID: entry.NodeID, Status: string(protocol.StatusRebootRequired),
				StartTime: start, EndTime: protocol.NowISO(),
			})
			return Result{RunID: runID, Reboot: outcome.reboot}, nil
		}

		end := protocol.NowISO()
		statuses = append(statuses, outcome.status)
		childIDs = append(childIDs, outcome.childRunID)

		if err := runfolder.AppendChild(dir, protocol.ChildEntry{
			ChildRunID: outcome.childRunID,
			NodeID:     entry.NodeID,
			Status:     outcome.status,
			StartTime:  start,
			EndTime:    end,
			Message:    outcome.message,
		}); err != nil {
			o.logger.Warn("failed to append child entry", "runId", runID, "error", err)
		}
		o.reporter.OnNodeFinished(runID, reporter.NodeResult{
			NodeID: entry.NodeID, Status: string(outcome.status),
			StartTime: start, EndTime: end, Message: outcome.message,
		})

		// Unlike a suite's node loop, a plan does not carry its own
		// continueOnFailure: §4.8 never names one, so every declared suite
		// runs regardless of an earlier one's outcome. Only a reboot or
		// cancellation short-circuits the loop.
	}

	finalStatus := protocol.Aggregate(statuses, userAbort)

	counts := protocol.Counts{}
	for _, s := range statuses {
		counts.Add(s)
	}

	result := protocol.GroupResult{
		SchemaVersion: protocol.SchemaVersion,
		RunType:       "plan",
		PlanID:        in.Plan.ID,
		PlanVersion:   in.Plan.Version,
		Status:        finalStatus,
		StartTime:     now,
		EndTime:       protocol.NowISO(),
		Counts:        counts,
		ChildRunIDs:   childIDs,
	}
	if err := runfolder.WriteResult(dir, result); err != nil {
		o.logger.Warn("failed to write plan result.json", "runId", runID, "error", err)
	}
	if err := runfolder.AppendIndex(in.Roots.RunsRoot, protocol.IndexEntry{
		RunID: runID, RunType: "plan", PlanID: in.Plan.ID, PlanVersion: in.Plan.Version,
		ParentRunID: in.ParentRunID, StartTime: now, EndTime: result.EndTime, Status: finalStatus,
	}); err != nil {
		o.logger.Warn("failed to append plan index entry", "runId", runID, "error", err)
	}

	o.reporter.OnRunFinished(runID, string(finalStatus))
	return Result{RunID: runID, Result: result}, nil
}

// suiteOutcome is runSuite's internal result: the suite's final status, the
// run-id of its group folder (recorded as the plan's child), and reboot
// info if the suite suspended instead of finishing.
type suiteOutcome struct {
	status     protocol.Status
	childRunID string
	message    string
	reboot     *protocol.RebootInfo
}

// runSuite resolves entry's suite by identity and runs it to completion via
// the Suite Orchestrator, threading the plan id/version and env-only
// override down (§4.8).
func (o *Orchestrator) runSuite(ctx context.Context, planDir, planRunID string, in Input, planEnv map[string]string, entry protocol.PlanSuiteEntry, resume *suiteorch.ResumeState) (suiteOutcome, error) {
	suite, err := resolveSuite(in.Suites, entry.NodeID)
	if err != nil {
		return suiteOutcome{status: protocol.StatusError, message: err.Error()}, nil
	}

	nestedReq := protocol.RunRequest{
		Suite:                &protocol.SuiteRunRequest{Identity: entry.NodeID},
		EnvironmentOverrides: in.RunRequest.EnvironmentOverrides,
	}

	result, err := o.suites.Run(ctx, suiteorch.Input{
		Suite:           suite.Manifest,
		Roots:           in.Roots,
		Cases:           in.Cases,
		RunRequest:      nestedReq,
		ControlOverride: entry.Controls,
		PlanEnv:         planEnv,
		PlanID:          in.Plan.ID,
		PlanVersion:     in.Plan.Version,
		ParentRunID:     planRunID,
		Resume:          resume,
	})
	if err != nil {
		return suiteOutcome{}, fmt.Errorf("planorch: run suite %s: %w", entry.NodeID, err)
	}

	if result.Reboot != nil {
		return suiteOutcome{childRunID: result.RunID, reboot: result.Reboot}, nil
	}
	return suiteOutcome{
		status:     result.Result.Status,
		childRunID: result.RunID,
		message:    result.Result.Message,
	}, nil
}

// resolveSuite looks nodeId up in the discovery index by identity. A plan
// suite entry's ref (unlike a suite node's) is descriptive only — there is
// no ref-resolution mechanism for suites, so identity lookup is the sole
// path.
func resolveSuite(suites map[protocol.Identity]discovery.SuiteEntry, nodeID string) (discovery.SuiteEntry, error) {
	identity, err := protocol.ParseIdentity(nodeID)
	if err != nil {
		return discovery.SuiteEntry{}, err
	}
	entry, ok := suites[identity]
	if !ok {
		return discovery.SuiteEntry{}, protocol.NewValidationError(protocol.CodeRunRequestUnknownNodeId, map[string]any{
			"nodeId": nodeID,
		})
	}
	return entry, nil
}
