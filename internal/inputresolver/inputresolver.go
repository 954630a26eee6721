// Package inputresolver computes a case's effective inputs from the
// precedence ladder (§4.3), validates them against the declared parameter
// schema in two stages (static, then pre-node path resolution), and
// materializes EnvRef values into typed literals.
package inputresolver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pvt-x/pvtx/internal/protocol"
)

// Warning is a non-fatal finding surfaced during resolution (§4.3's
// EnvRef.SecretOnCommandLine, for instance). Callers stamp it into an
// protocol.EventRecord with a timestamp when appending to events.jsonl.
type Warning struct {
	Code    string
	Message string
	Payload map[string]any
}

// Templates is the ladder-merged, pre-EnvRef-materialization input map:
// one raw JSON value per declared parameter name, after precedence but
// before EnvRef resolution. It is persisted verbatim as a case manifest's
// inputTemplates.
type Templates map[string]json.RawMessage

// MergeTemplates applies the §4.3 precedence ladder (last wins): defaults
// are lowest, nodeInputs (absent for a standalone case run) next, overrides
// (RunRequest.nodeOverrides[nodeId].inputs or RunRequest.caseInputs)
// highest.
func MergeTemplates(defaults, nodeInputs, overrides map[string]json.RawMessage) Templates {
	merged := make(Templates, len(defaults)+len(nodeInputs)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range nodeInputs {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// ValidateStatic enforces the static validation stage of §4.3: every
// declared parameter with no value supplied and required=true is rejected,
// every supplied name must be declared, an EnvRef-shaped value must have a
// non-empty $env name, and a literal value must match its declared type
// (including enum membership).
func ValidateStatic(params []protocol.ParameterDef, templates Templates) error {
	byName := make(map[string]protocol.ParameterDef, len(params))
	for _, p := range params {
		byName[p.Name] = p
	}

	for name := range templates {
		if _, ok := byName[name]; !ok {
			return protocol.NewValidationError(protocol.CodeSchemaInvalid, map[string]any{
				"field":  "inputs." + name,
				"reason": "unknown input name",
			})
		}
	}

	for _, p := range params {
		raw, supplied := templates[p.Name]
		if !supplied || len(raw) == 0 || string(raw) == "null" {
			if p.Required {
				return protocol.NewValidationError(protocol.CodeSchemaInvalid, map[string]any{
					"field":  "inputs." + p.Name,
					"reason": "required input has no value",
				})
			}
			continue
		}

		if protocol.IsEnvRef(raw) {
			var ref protocol.EnvRef
			if err := json.Unmarshal(raw, &ref); err != nil {
				return protocol.NewValidationError(protocol.CodeSchemaInvalid, map[string]any{
					"field":  "inputs." + p.Name,
					"reason": "malformed $env reference",
				})
			}
			if strings.TrimSpace(ref.Env) == "" {
				return protocol.NewValidationError(protocol.CodeSchemaInvalid, map[string]any{
					"field":  "inputs." + p.Name,
					"reason": "$env reference missing variable name",
				})
			}
			continue
		}

		if err := validateLiteralShape(p, raw); err != nil {
			return err
		}
	}

	return nil
}

func validateLiteralShape(p protocol.ParameterDef, raw json.RawMessage) error {
	switch p.Type {
	case protocol.ParamEnum:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return schemaErr(p.Name, "enum value must be a string")
		}
		for _, allowed := range p.EnumValues {
			if s == allowed {
				return nil
			}
		}
		return schemaErr(p.Name, fmt.Sprintf("%q is not one of the declared enumValues", s))
	case protocol.ParamInt:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return schemaErr(p.Name, "expected an int")
		}
	case protocol.ParamDouble:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return schemaErr(p.Name, "expected a double")
		}
	case protocol.ParamBoolean:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return schemaErr(p.Name, "expected a boolean")
		}
	case protocol.ParamString, protocol.ParamPath, protocol.ParamFile, protocol.ParamFolder, protocol.ParamJSON:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return schemaErr(p.Name, "expected a string")
		}
	}
	return nil
}

func schemaErr(field, reason string) error {
	return protocol.NewValidationError(protocol.CodeSchemaInvalid, map[string]any{
		"field":  "inputs." + field,
		"reason": reason,
	})
}

// Resolved is the §4.3 output contract.
type Resolved struct {
	EffectiveInputs map[string]any
	InputTemplates  Templates
	SecretInputs    map[string]bool
}

// Materialize resolves every EnvRef in templates against env (the merged
// effective environment, computed first per §4.3), coercing the result to
// each parameter's declared type under invariant culture, and tracks which
// names came from a secret-flagged EnvRef. A required EnvRef that resolves
// empty with no default fails with CodeEnvRefResolveFailed.
func Materialize(params []protocol.ParameterDef, templates Templates, env map[string]string) (Resolved, error) {
	byName := make(map[string]protocol.ParameterDef, len(params))
	for _, p := range params {
		byName[p.Name] = p
	}

	result := Resolved{
		EffectiveInputs: make(map[string]any, len(templates)),
		InputTemplates:  templates,
		SecretInputs:    make(map[string]bool),
	}

	for name, raw := range templates {
		p, ok := byName[name]
		if !ok {
			continue
		}
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}

		if protocol.IsEnvRef(raw) {
			var ref protocol.EnvRef
			if err := json.Unmarshal(raw, &ref); err != nil {
				return Resolved{}, schemaErr(name, "malformed $env reference")
			}
			literal, ok := env[ref.Env]
			if !ok || literal == "" {
				if ref.Required && !ref.HasDefault {
					return Resolved{}, protocol.NewValidationError(protocol.CodeEnvRefResolveFailed, map[string]any{
						"field": "inputs." + name,
						"env":   ref.Env,
					})
				}
				literal = ref.Default
			}
			value, err := coerce(p, literal)
			if err != nil {
				return Resolved{}, err
			}
			result.EffectiveInputs[name] = value
			if ref.Secret {
				result.SecretInputs[name] = true
			}
			continue
		}

		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return Resolved{}, schemaErr(name, "malformed input value")
		}
		result.EffectiveInputs[name] = generic
	}

	return result, nil
}

// coerce converts a string (an EnvRef's resolved literal) into the Go value
// matching p's declared type, using invariant (period-decimal,
// locale-independent) parsing throughout.
func coerce(p protocol.ParameterDef, literal string) (any, error) {
	switch p.Type {
	case protocol.ParamInt:
		n, err := strconv.Atoi(strings.TrimSpace(literal))
		if err != nil {
			return nil, schemaErr(p.Name, fmt.Sprintf("cannot coerce %q to int", literal))
		}
		return n, nil
	case protocol.ParamDouble:
		f, err := strconv.ParseFloat(strings.TrimSpace(literal), 64)
		if err != nil {
			return nil, schemaErr(p.Name, fmt.Sprintf("cannot coerce %q to double", literal))
		}
		return f, nil
	case protocol.ParamBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(literal))
		if err != nil {
			return nil, schemaErr(p.Name, fmt.Sprintf("cannot coerce %q to boolean", literal))
		}
		return b, nil
	case protocol.ParamEnum:
		for _, allowed := range p.EnumValues {
			if literal == allowed {
				return literal, nil
			}
		}
		return nil, schemaErr(p.Name, fmt.Sprintf("%q is not one of the declared enumValues", literal))
	default:
		return literal, nil
	}
}

// ValidatePreNodePaths runs the §4.3 pre-node stage: for every path/file/
// folder-typed effective input, resolves it against workingDir and verifies
// the canonical result stays inside caseRunFolder. file and folder inputs
// must exist; path may be absent. Returns nil if no path-typed inputs are
// present.
func ValidatePreNodePaths(params []protocol.ParameterDef, effectiveInputs map[string]any, workingDir, caseRunFolder string) error {
	rootCanon, err := filepath.EvalSymlinks(caseRunFolder)
	if err != nil {
		return fmt.Errorf("inputresolver: resolve case run folder %s: %w", caseRunFolder, err)
	}

	for _, p := range params {
		if p.Type != protocol.ParamPath && p.Type != protocol.ParamFile && p.Type != protocol.ParamFolder {
			continue
		}
		raw, ok := effectiveInputs[p.Name]
		if !ok {
			continue
		}
		s, ok := raw.(string)
		if !ok || s == "" {
			if p.Type == protocol.ParamPath {
				continue
			}
			return schemaErr(p.Name, fmt.Sprintf("%s input must be a non-empty path", p.Type))
		}

		candidate := s
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(workingDir, candidate)
		}
		candidate = filepath.Clean(candidate)

		info, statErr := os.Stat(candidate)
		switch {
		case os.IsNotExist(statErr):
			if p.Type == protocol.ParamPath {
				continue
			}
			return schemaErr(p.Name, fmt.Sprintf("%s %q does not exist", p.Type, s))
		case statErr != nil:
			return fmt.Errorf("inputresolver: stat %s: %w", candidate, statErr)
		}

		if p.Type == protocol.ParamFile && info.IsDir() {
			return schemaErr(p.Name, fmt.Sprintf("file input %q is a directory", s))
		}
		if p.Type == protocol.ParamFolder && !info.IsDir() {
			return schemaErr(p.Name, fmt.Sprintf("folder input %q is not a directory", s))
		}

		canon, err := filepath.EvalSymlinks(candidate)
		if err != nil {
			return fmt.Errorf("inputresolver: resolve symlinks for %s: %w", candidate, err)
		}
		rel, err := filepath.Rel(rootCanon, canon)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return schemaErr(p.Name, fmt.Sprintf("%s %q resolves outside the case run folder", p.Type, s))
		}
	}
	return nil
}

// SecretOnCommandLineWarnings returns one Warning per secret-flagged input
// name that will be passed as a command-line argument (every effective
// input is, per §4.6's named-argument vector), so the case runner can emit
// EnvRef.SecretOnCommandLine before launching the subprocess.
func SecretOnCommandLineWarnings(secretInputs map[string]bool) []Warning {
	warnings := make([]Warning, 0, len(secretInputs))
	for name, secret := range secretInputs {
		if !secret {
			continue
		}
		warnings = append(warnings, Warning{
			Code:    protocol.CodeEnvRefSecretOnCommandLine,
			Message: fmt.Sprintf("input %q resolved from a secret EnvRef will be passed as a command-line argument", name),
			Payload: map[string]any{"input": name},
		})
	}
	return warnings
}
