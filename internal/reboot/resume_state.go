package reboot

import (
	"fmt"
	"path/filepath"

	"github.com/pvt-x/pvtx/internal/planorch"
	"github.com/pvt-x/pvtx/internal/protocol"
	"github.com/pvt-x/pvtx/internal/runfolder"
	"github.com/pvt-x/pvtx/internal/suiteorch"
)

// SuiteResumeState rebuilds a suiteorch.ResumeState from a suite's own
// validated session.json (as returned by Resume), ready to hand to
// suiteorch.Input.Resume so Run re-enters at the saved iteration/node/phase
// instead of iteration 0, node 0.
func SuiteResumeState(session protocol.SessionState) *suiteorch.ResumeState {
	return &suiteorch.ResumeState{
		RunID:     session.RunID,
		Iteration: session.CurrentIteration,
		NodeIndex: session.CurrentNodeIndex,
		Phase:     session.NextPhase,
	}
}

// PlanResumeState rebuilds a planorch.ResumeState from a plan's own
// validated session.json plus its suspended child suite's session.json
// (read from runsRoot/<ChildSessionRunID>/session.json), ready to hand to
// planorch.Input.Resume.
func PlanResumeState(runsRoot string, session protocol.SessionState) (*planorch.ResumeState, error) {
	if session.ChildSessionRunID == "" {
		return nil, fmt.Errorf("reboot: plan session %s has no childSessionRunId to resume into", session.RunID)
	}
	childDir := filepath.Join(runsRoot, session.ChildSessionRunID)
	childSession, err := runfolder.ReadSession(childDir)
	if err != nil {
		return nil, fmt.Errorf("reboot: read suspended suite session %s: %w", session.ChildSessionRunID, err)
	}
	return &planorch.ResumeState{
		RunID:       session.RunID,
		NodeIndex:   session.CurrentNodeIndex,
		SuiteResume: SuiteResumeState(childSession),
	}, nil
}
