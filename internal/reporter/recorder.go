package reporter

import "sync"

// call is one recorded Reporter invocation, tagged by method name so a test
// can assert both the sequence and the arguments without one struct field
// per method.
type call struct {
	method       string
	runID        string
	runType      string
	nodeID       string
	plannedNodes []string
	result       NodeResult
	finalStatus  string
}

// Recorder is an in-memory Reporter test double: it records every call in
// order and exposes them for assertion, in place of a mock framework the
// example pack does not use for this kind of collaborator.
type Recorder struct {
	mu    sync.Mutex
	calls []call
}

// NewRecorder constructs an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) OnRunPlanned(runID, runType string, plannedNodes []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{method: "OnRunPlanned", runID: runID, runType: runType, plannedNodes: append([]string{}, plannedNodes...)})
}

func (r *Recorder) OnNodeStarted(runID, nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{method: "OnNodeStarted", runID: runID, nodeID: nodeID})
}

func (r *Recorder) OnNodeFinished(runID string, result NodeResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{method: "OnNodeFinished", runID: runID, nodeID: result.NodeID, result: result})
}

func (r *Recorder) OnRunFinished(runID, finalStatus string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{method: "OnRunFinished", runID: runID, finalStatus: finalStatus})
}

// Methods returns the recorded method names in call order, e.g.
// ["OnRunPlanned", "OnNodeStarted", "OnNodeFinished", "OnRunFinished"].
func (r *Recorder) Methods() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.method
	}
	return out
}

// NodeResults returns every OnNodeFinished result recorded for nodeID, in
// call order (a retried node reports more than one).
func (r *Recorder) NodeResults(nodeID string) []NodeResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []NodeResult
	for _, c := range r.calls {
		if c.method == "OnNodeFinished" && c.nodeID == nodeID {
			out = append(out, c.result)
		}
	}
	return out
}

// PlannedNodes returns the plannedNodes argument of the recorded
// OnRunPlanned call, or nil if it was never called.
func (r *Recorder) PlannedNodes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.method == "OnRunPlanned" {
			return c.plannedNodes
		}
	}
	return nil
}

// FinalStatus returns the finalStatus argument of the recorded
// OnRunFinished call, or "" if it was never called.
func (r *Recorder) FinalStatus() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.method == "OnRunFinished" {
			return c.finalStatus
		}
	}
	return ""
}
