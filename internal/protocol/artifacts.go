package protocol

import (
	"encoding/json"
	"time"
)

// SchemaVersion is the current result.json/index entry schema generation.
const SchemaVersion = 1

// CaseManifestSnapshot is a case run folder's manifest.json (§4.6 item 8):
// a full record of what was resolved and executed, sufficient to explain
// the run without consulting any other file.
type CaseManifestSnapshot struct {
	SchemaVersion        int                `json:"schemaVersion"`
	SourceManifest       TestCaseManifest   `json:"sourceManifest"`
	ResolvedRef          string             `json:"resolvedRef"`
	ResolvedIdentity     string             `json:"resolvedIdentity"`
	ManifestHash         string             `json:"manifestHash"`
	EffectiveEnvironment map[string]string  `json:"effectiveEnvironment"`
	EffectiveInputs      map[string]any     `json:"effectiveInputs"`
	InputTemplates       map[string]any     `json:"inputTemplates,omitempty"`
	ResolvedAt           time.Time          `json:"resolvedAt"`
	EngineVersion        string             `json:"engineVersion"`
	Artifacts            []ArtifactMetadata `json:"artifacts,omitempty"`
}

// ArtifactMetadata records one produced file's content-addressed checksum
// and size, folded into a case run folder's manifest.json once the script
// has finished producing it (params.json up front; stdout.log/stderr.log
// once streaming completes).
type ArtifactMetadata struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// RebootInfo is the `reboot` field present on a case result.json iff its
// status is RebootRequired, and on a group result.json when a descendant
// requested one.
type RebootInfo struct {
	NextPhase    int    `json:"nextPhase"`
	Reason       string `json:"reason"`
	OriginTestID string `json:"originTestId,omitempty"`
	DelaySec     int    `json:"delaySec,omitempty"`
}

// RunnerInfo is the env.json / result.json.runner snapshot of the host the
// case executed on.
type RunnerInfo struct {
	OSVersion            string `json:"osVersion,omitempty"`
	RunnerVersion        string `json:"runnerVersion,omitempty"`
	ScriptRuntimeVersion string `json:"scriptRuntimeVersion,omitempty"`
	Elevated             bool   `json:"elevated"`
}

// CaseResult is the case run folder's result.json (§6).
type CaseResult struct {
	SchemaVersion int    `json:"schemaVersion"`
	RunType       string `json:"runType"`

	NodeID       string `json:"nodeId,omitempty"`
	TestID       string `json:"testId"`
	TestVersion  string `json:"testVersion"`
	SuiteID      string `json:"suiteId,omitempty"`
	SuiteVersion string `json:"suiteVersion,omitempty"`
	PlanID       string `json:"planId,omitempty"`
	PlanVersion  string `json:"planVersion,omitempty"`

	Status    Status    `json:"status"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`

	Metrics         map[string]any `json:"metrics,omitempty"`
	Message         string         `json:"message,omitempty"`
	ExitCode        *int           `json:"exitCode,omitempty"`
	EffectiveInputs map[string]any `json:"effectiveInputs"`
	Error           *ErrorInfo     `json:"error,omitempty"`
	Runner          *RunnerInfo    `json:"runner,omitempty"`
	Reboot          *RebootInfo    `json:"reboot,omitempty"`
}

// Counts tallies per-status child outcomes within a group result.json.
type Counts struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Error   int `json:"error"`
	Timeout int `json:"timeout"`
	Aborted int `json:"aborted"`
}

// Add records one child's terminal status into the tally.
func (c *Counts) Add(s Status) {
	c.Total++
	switch s {
	case StatusPassed:
		c.Passed++
	case StatusFailed:
		c.Failed++
	case StatusError:
		c.Error++
	case StatusTimeout:
		c.Timeout++
	case StatusAborted:
		c.Aborted++
	}
}

// GroupResult is a suite/plan run folder's result.json (§6).
type GroupResult struct {
	SchemaVersion int    `json:"schemaVersion"`
	RunType       string `json:"runType"`

	SuiteID      string `json:"suiteId,omitempty"`
	SuiteVersion string `json:"suiteVersion,omitempty"`
	PlanID       string `json:"planId,omitempty"`
	PlanVersion  string `json:"planVersion,omitempty"`

	Status    Status    `json:"status"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`

	Counts      Counts      `json:"counts"`
	ChildRunIDs []string    `json:"childRunIds"`
	Message     string      `json:"message,omitempty"`
	Reboot      *RebootInfo `json:"reboot,omitempty"`
}

// IndexEntry is one line of the runs-root index.jsonl (§6).
type IndexEntry struct {
	RunID        string    `json:"runId"`
	RunType      string    `json:"runType"`
	NodeID       string    `json:"nodeId,omitempty"`
	TestID       string    `json:"testId,omitempty"`
	TestVersion  string    `json:"testVersion,omitempty"`
	SuiteID      string    `json:"suiteId,omitempty"`
	SuiteVersion string    `json:"suiteVersion,omitempty"`
	PlanID       string    `json:"planId,omitempty"`
	PlanVersion  string    `json:"planVersion,omitempty"`
	ParentRunID  string    `json:"parentRunId,omitempty"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
	Status       Status    `json:"status"`
}

// ChildEntry is one line of a group run folder's children.jsonl.
type ChildEntry struct {
	ChildRunID   string    `json:"childRunId"`
	NodeID       string    `json:"nodeId"`
	Status       Status    `json:"status"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
	RetryCount   int       `json:"retryCount"`
	Message      string    `json:"message,omitempty"`
	ParentNodeID string    `json:"parentNodeId,omitempty"`
}

// EventLevel is the severity of an events.jsonl record.
type EventLevel string

const (
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// EventRecord is one line of a run folder's events.jsonl.
type EventRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	Code      string         `json:"code"`
	Level     EventLevel     `json:"level"`
	Message   string         `json:"message,omitempty"`
	Location  string         `json:"location,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// RebootControlType is the required `type` value in control/reboot.json.
const RebootControlType = "control.reboot_required"

// RebootDelay is the inner `reboot` object of the control file; it accepts
// only `delaySec`.
type RebootDelay struct {
	DelaySec int `json:"delaySec"`
}

// RebootControlFile is the script-written control/reboot.json (§4.6). The
// root object accepts only type/nextPhase/reason/reboot; the inner `reboot`
// object accepts only delaySec — any other key in either object is a
// validation error, enforced by ParseRebootControlFile rather than by
// `json:"-"` struct tags, since encoding/json does not reject unknown
// fields by default.
type RebootControlFile struct {
	Type      string       `json:"type"`
	NextPhase int          `json:"nextPhase"`
	Reason    string       `json:"reason"`
	Reboot    *RebootDelay `json:"reboot,omitempty"`
}

var rebootRootKeys = map[string]bool{"type": true, "nextPhase": true, "reason": true, "reboot": true}
var rebootInnerKeys = map[string]bool{"delaySec": true}

// ParseRebootControlFile parses and strictly validates a control/reboot.json
// payload per §4.6: root accepts only {type, nextPhase, reason, reboot};
// inner reboot accepts only {delaySec}; nextPhase must be >= 1; reason must
// be non-empty.
func ParseRebootControlFile(data []byte) (*RebootControlFile, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, NewValidationError(CodeRebootControlInvalid, map[string]any{"reason": "not a JSON object"})
	}
	for k := range raw {
		if !rebootRootKeys[k] {
			return nil, NewValidationError(CodeRebootControlInvalid, map[string]any{"reason": "unknown key", "key": k})
		}
	}
	if rebootRaw, ok := raw["reboot"]; ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(rebootRaw, &inner); err != nil {
			return nil, NewValidationError(CodeRebootControlInvalid, map[string]any{"reason": "reboot must be an object"})
		}
		for k := range inner {
			if !rebootInnerKeys[k] {
				return nil, NewValidationError(CodeRebootControlInvalid, map[string]any{"reason": "unknown reboot key", "key": k})
			}
		}
	}

	var parsed RebootControlFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, NewValidationError(CodeRebootControlInvalid, map[string]any{"reason": "malformed payload"})
	}
	if parsed.Type != RebootControlType {
		return nil, NewValidationError(CodeRebootControlInvalid, map[string]any{"reason": "type must be " + RebootControlType})
	}
	if parsed.NextPhase < 1 {
		return nil, NewValidationError(CodeRebootControlInvalid, map[string]any{"reason": "nextPhase must be >= 1"})
	}
	if trimmedEmpty(parsed.Reason) {
		return nil, NewValidationError(CodeRebootControlInvalid, map[string]any{"reason": "reason must be non-empty"})
	}
	return &parsed, nil
}
