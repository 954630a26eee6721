package protocol

import "encoding/json"

// ParamType enumerates the parameter type lattice. Arrays are deliberately
// not a member — structured values travel as JSON-typed parameters (a JSON
// string), never as native arrays.
type ParamType string

const (
	ParamInt     ParamType = "int"
	ParamDouble  ParamType = "double"
	ParamString  ParamType = "string"
	ParamBoolean ParamType = "boolean"
	ParamPath    ParamType = "path"
	ParamFile    ParamType = "file"
	ParamFolder  ParamType = "folder"
	ParamEnum    ParamType = "enum"
	ParamJSON    ParamType = "json"
)

// ParameterDef declares one named input a TestCaseManifest accepts.
type ParameterDef struct {
	Name       string          `json:"name" validate:"required"`
	Type       ParamType       `json:"type" validate:"required,oneof=int double string boolean path file folder enum json"`
	Min        *float64        `json:"min,omitempty"`
	Max        *float64        `json:"max,omitempty"`
	EnumValues []string        `json:"enumValues,omitempty"`
	Pattern    string          `json:"pattern,omitempty"`
	Default    json.RawMessage `json:"default,omitempty"`
	Required   bool            `json:"required,omitempty"`
	Help       string          `json:"help,omitempty"`
}

// EnvRef is a value source resolved from an OS environment variable at
// pre-execution time rather than supplied literally.
type EnvRef struct {
	Env      string `json:"$env" validate:"required"`
	Default  string `json:"default,omitempty"`
	HasDefault bool `json:"-"`
	Required bool   `json:"required,omitempty"`
	Secret   bool   `json:"secret,omitempty"`
}

// UnmarshalJSON tracks whether "default" was present so an explicit empty
// string default can be told apart from "no default at all" (§4.3: empty
// means null or "").
func (e *EnvRef) UnmarshalJSON(data []byte) error {
	type alias EnvRef
	var raw struct {
		alias
		Default *string `json:"default"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = EnvRef(raw.alias)
	if raw.Default != nil {
		e.Default = *raw.Default
		e.HasDefault = true
	}
	return nil
}

// IsEnvRef reports whether a raw JSON input value is an EnvRef object (has
// a "$env" key) rather than a literal.
func IsEnvRef(raw json.RawMessage) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	_, ok := probe["$env"]
	return ok
}

// ScriptEntry describes the opaque script subprocess entry point.
type ScriptEntry struct {
	Path string   `json:"path" validate:"required"`
	Args []string `json:"args,omitempty"`
}

// TestCaseManifest is test.manifest.json: identity + parameters + privilege
// + timeout + script entry descriptor. It must not declare environment
// blocks — any present in the raw file are ignored by the discovery parser.
type TestCaseManifest struct {
	ID         string         `json:"id" validate:"required"`
	Version    string         `json:"version" validate:"required"`
	Privilege  string         `json:"privilege,omitempty"`
	TimeoutSec int            `json:"timeoutSec" validate:"min=0"`
	Script     ScriptEntry    `json:"script" validate:"required"`
	Parameters []ParameterDef `json:"parameters,omitempty" validate:"dive"`
}

// Identity returns the manifest's identity pair.
func (m TestCaseManifest) Identity() Identity {
	return Identity{ID: m.ID, Version: m.Version}
}

// Parameter looks up a declared parameter by name.
func (m TestCaseManifest) Parameter(name string) (ParameterDef, bool) {
	for _, p := range m.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterDef{}, false
}

// Controls are the suite/plan-level scheduling knobs (§3, §4.7).
type Controls struct {
	Repeat            int    `json:"repeat"`
	MaxParallel       int    `json:"maxParallel"`
	ContinueOnFailure bool   `json:"continueOnFailure"`
	RetryOnError      int    `json:"retryOnError" validate:"min=0"`
	TimeoutPolicy     string `json:"timeoutPolicy,omitempty"`
}

// DefaultTimeoutPolicy is the controls.timeoutPolicy default string.
const DefaultTimeoutPolicy = "AbortOnTimeout"

// DefaultControls returns the manifest-declared default control values.
func DefaultControls() Controls {
	return Controls{
		Repeat:            1,
		MaxParallel:       1,
		ContinueOnFailure: false,
		RetryOnError:      0,
		TimeoutPolicy:     DefaultTimeoutPolicy,
	}
}

// Normalize clamps repeat=0 to 1 (§8 boundary behavior) and fills in a
// missing timeout policy. It must be called once, after parsing, before the
// controls are used by an orchestrator.
func (c Controls) Normalize() Controls {
	if c.Repeat < 1 {
		c.Repeat = 1
	}
	if c.TimeoutPolicy == "" {
		c.TimeoutPolicy = DefaultTimeoutPolicy
	}
	return c
}

// MergePlanOverride merges plan-level control overrides onto suite defaults
// using "override wins when non-default" (§4.7).
func MergePlanOverride(suite Controls, override *Controls) Controls {
	if override == nil {
		return suite
	}
	merged := suite
	if override.Repeat != 0 && override.Repeat != 1 {
		merged.Repeat = override.Repeat
	}
	if override.MaxParallel != 0 && override.MaxParallel != 1 {
		merged.MaxParallel = override.MaxParallel
	}
	merged.ContinueOnFailure = suite.ContinueOnFailure || override.ContinueOnFailure
	if override.RetryOnError != 0 {
		merged.RetryOnError = override.RetryOnError
	}
	if override.TimeoutPolicy != "" && override.TimeoutPolicy != DefaultTimeoutPolicy {
		merged.TimeoutPolicy = override.TimeoutPolicy
	}
	return merged
}

// EnvironmentBlock is the suite-level `environment` manifest section.
type EnvironmentBlock struct {
	Env         map[string]string `json:"env,omitempty"`
	WorkingDir  string            `json:"workingDir,omitempty"`
	RunnerHints map[string]string `json:"runnerHints,omitempty"`
}

// PlanEnvironmentBlock is the plan-level `environment` section, restricted
// to `env` only (§3: "any other key is a fatal validation error").
type PlanEnvironmentBlock struct {
	Env map[string]string `json:"env,omitempty"`
}

// SuiteNode is one entry of TestSuiteManifest.TestCases.
type SuiteNode struct {
	NodeID string                     `json:"nodeId" validate:"required"`
	Ref    string                     `json:"ref" validate:"required"`
	Inputs map[string]json.RawMessage `json:"inputs,omitempty"`
}

// TestSuiteManifest is suite.manifest.json.
type TestSuiteManifest struct {
	ID          string             `json:"id" validate:"required"`
	Version     string             `json:"version" validate:"required"`
	TestCases   []SuiteNode        `json:"testCases" validate:"required,dive"`
	Controls    *Controls          `json:"controls,omitempty"`
	Environment *EnvironmentBlock  `json:"environment,omitempty"`
}

// Identity returns the manifest's identity pair.
func (m TestSuiteManifest) Identity() Identity {
	return Identity{ID: m.ID, Version: m.Version}
}

// EffectiveControls returns the manifest's controls normalized with
// defaults filled in.
func (m TestSuiteManifest) EffectiveControls() Controls {
	if m.Controls == nil {
		return DefaultControls()
	}
	c := *m.Controls
	if c.MaxParallel == 0 {
		c.MaxParallel = 1
	}
	if c.TimeoutPolicy == "" {
		c.TimeoutPolicy = DefaultTimeoutPolicy
	}
	return c.Normalize()
}

// PlanSuiteEntry is one entry of TestPlanManifest.TestSuites.
type PlanSuiteEntry struct {
	NodeID   string    `json:"nodeId" validate:"required"`
	Ref      string    `json:"ref,omitempty"`
	Controls *Controls `json:"controls,omitempty"`
}

// TestPlanManifest is plan.manifest.json.
type TestPlanManifest struct {
	ID          string                `json:"id" validate:"required"`
	Version     string                `json:"version" validate:"required"`
	TestSuites  []PlanSuiteEntry      `json:"testSuites" validate:"required,dive"`
	Environment *PlanEnvironmentBlock `json:"environment,omitempty"`
}

// Identity returns the manifest's identity pair.
func (m TestPlanManifest) Identity() Identity {
	return Identity{ID: m.ID, Version: m.Version}
}
