// Package reboot implements the §4.10 Reboot/Resume subsystem: arming the
// one-shot autostart task and initiating the OS reboot when an
// orchestrator suspends, and validating + replaying a run's session.json
// when the resumed process comes back up. Detection (scanning
// control/reboot.json) lives in the case runner; persistence of the
// session itself (writing session.json with its NextPhase/ChildSessionRunID)
// lives in suiteorch/planorch. This package owns only the token lifecycle
// and the handoff to internal/platform.
package reboot

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pvt-x/pvtx/internal/ndjson"
	"github.com/pvt-x/pvtx/internal/platform"
	"github.com/pvt-x/pvtx/internal/protocol"
	"github.com/pvt-x/pvtx/internal/runfolder"
)

// PhaseEnvVar is the environment variable a resumed process reads to learn
// which phase of its own orchestration to re-enter (§4.10 Resume).
const PhaseEnvVar = "PVTX_PHASE"

// SuspendRequest is everything Suspend needs to arm the resume task and
// reboot. Dir is the run folder that already holds a session.json written
// by the orchestrator (suiteorch/planorch) immediately before calling
// Suspend.
type SuspendRequest struct {
	RunsRoot string
	Dir      string
	RunID    string
	DelaySec int
}

// Suspend enriches the run's already-persisted session.json with a fresh
// resume token, then arms the autostart task and reboots, in that order
// (§4.10: the task must be armed before the reboot, or a crash between the
// two calls strands the run with no way to resume).
func Suspend(adapter platform.Adapter, req SuspendRequest) error {
	session, err := runfolder.ReadSession(req.Dir)
	if err != nil {
		return fmt.Errorf("reboot: suspend: %w", err)
	}

	token := uuid.New().String()
	session.ResumeToken = token
	session.State = protocol.SessionStatePendingResume
	if err := runfolder.WriteSession(req.Dir, session); err != nil {
		return fmt.Errorf("reboot: suspend: write session.json with token: %w", err)
	}

	if err := adapter.ScheduleResume(platform.ResumeCommand{
		RunID:    req.RunID,
		Token:    token,
		RunsRoot: req.RunsRoot,
		DelaySec: req.DelaySec,
	}); err != nil {
		return fmt.Errorf("reboot: suspend: schedule resume: %w", err)
	}

	if err := adapter.Reboot(); err != nil {
		return fmt.Errorf("reboot: suspend: reboot: %w", err)
	}
	return nil
}

// Resume validates a `--resume --runId <id> --token <token>` request
// against the run's persisted session.json and returns the state to
// re-enter the suspended orchestrator with. It rejects a token mismatch
// (CodeResumeTokenMismatch) and a second resume attempt on the same run
// (CodeResumeLoopDetected) — §4.10 allows at most one reboot per run.
func Resume(runsRoot, runID, token string) (protocol.SessionState, error) {
	dir := filepath.Join(runsRoot, runID)
	session, err := runfolder.ReadSession(dir)
	if err != nil {
		return protocol.SessionState{}, fmt.Errorf("reboot: resume: %w", err)
	}

	if session.State == protocol.SessionStateFinalized {
		return session, protocol.NewValidationError(protocol.CodeResumeLoopDetected, map[string]any{
			"runId": runID,
		})
	}

	if session.ResumeToken == "" || session.ResumeToken != token {
		return protocol.SessionState{}, protocol.NewValidationError(protocol.CodeResumeTokenMismatch, map[string]any{
			"runId": runID,
		})
	}

	session.ResumeCount++
	if session.ResumeCount > 1 {
		session.State = protocol.SessionStateFinalized
		if err := runfolder.WriteSession(dir, session); err != nil {
			return session, fmt.Errorf("reboot: resume: finalize after loop detection: %w", err)
		}
		return session, protocol.NewValidationError(protocol.CodeResumeLoopDetected, map[string]any{
			"runId": runID,
		})
	}

	if err := runfolder.WriteSession(dir, session); err != nil {
		return session, fmt.Errorf("reboot: resume: persist resume count: %w", err)
	}
	return session, nil
}

// PhaseEnv renders the PVTX_PHASE environment variable a resumed process's
// orchestrator reads to know which phase to re-enter.
func PhaseEnv(session protocol.SessionState) map[string]string {
	return map[string]string{PhaseEnvVar: fmt.Sprintf("%d", session.NextPhase)}
}

// OriginStartTime scans dir's events.jsonl for the most recent record with
// the given code and a "nodeId" payload entry equal to nodeID, returning
// its timestamp. A resumed orchestrator uses this to recover the node's
// true start time instead of restarting its duration clock from the resume
// point (§4.10). found is false if no matching record exists (the node
// never started before the reboot, or dir has no events.jsonl yet).
func OriginStartTime(dir, code, nodeID string) (startTime time.Time, found bool, err error) {
	path := filepath.Join(dir, "events.jsonl")
	file, err := openEventsLog(path)
	if err != nil {
		return time.Time{}, false, err
	}
	if file == nil {
		return time.Time{}, false, nil
	}
	defer file.Close()

	decoder := ndjson.NewDecoder(file, discardLogger)
	err = ndjson.ReadAll(decoder, func() any { return &protocol.EventRecord{} }, func(item any) error {
		record := *item.(*protocol.EventRecord)
		if record.Code != code {
			return nil
		}
		if record.Payload["nodeId"] != nodeID {
			return nil
		}
		startTime = record.Timestamp
		found = true
		return nil
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reboot: decode events.jsonl: %w", err)
	}
	return startTime, found, nil
}
