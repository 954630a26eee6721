// Package reporter defines the push-based progress interface orchestrators
// report through (§4.9), collapsing the teacher's separate EventLogger and
// TranscriptFormatter sinks into one collaborator interface plus a null
// object, so an orchestrator never has to nil-check before reporting.
package reporter

import "time"

// NodeResult is the payload OnNodeFinished delivers: everything a consumer
// needs to render or aggregate one node's outcome without reaching back
// into a result.json.
type NodeResult struct {
	NodeID       string
	Status       string
	StartTime    time.Time
	EndTime      time.Time
	Message      string
	RetryCount   int
	ParentNodeID string
}

// Reporter is the push-based progress sink an orchestrator reports every
// run through. Sequence guarantees (§4.9):
//
//  1. OnRunPlanned fires exactly once, before any OnNodeStarted.
//  2. OnNodeStarted/OnNodeFinished are paired per node; OnNodeFinished
//     fires exactly once per node even if the orchestrator errors mid-node.
//  3. OnRunFinished fires exactly once for the top-level run.
//
// Implementations must not block the orchestrator thread for long; Reporter
// events are emitted synchronously from the orchestrator and are totally
// ordered for a single run (§5).
type Reporter interface {
	OnRunPlanned(runID, runType string, plannedNodes []string)
	OnNodeStarted(runID, nodeID string)
	OnNodeFinished(runID string, result NodeResult)
	OnRunFinished(runID, finalStatus string)
}

// Null is a Reporter that does nothing, accepted in lieu of a live consumer
// per §4.9's "a null implementation must be accepted" requirement.
type Null struct{}

// New returns a Reporter that discards every call.
func New() Reporter { return Null{} }

func (Null) OnRunPlanned(string, string, []string) {}
func (Null) OnNodeStarted(string, string)          {}
func (Null) OnNodeFinished(string, NodeResult)     {}
func (Null) OnRunFinished(string, string)          {}
