package inputresolver

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pvt-x/pvtx/internal/protocol"
)

func raw(v string) json.RawMessage { return json.RawMessage(v) }

func TestMergeTemplatesPrecedence(t *testing.T) {
	defaults := map[string]json.RawMessage{"threads": raw("1"), "mode": raw(`"fast"`)}
	nodeInputs := map[string]json.RawMessage{"threads": raw("4")}
	overrides := map[string]json.RawMessage{"threads": raw("8")}

	merged := MergeTemplates(defaults, nodeInputs, overrides)
	if string(merged["threads"]) != "8" {
		t.Errorf("threads = %s, want override 8 to win", merged["threads"])
	}
	if string(merged["mode"]) != `"fast"` {
		t.Errorf("mode = %s, want default to survive untouched", merged["mode"])
	}
}

func TestMergeTemplatesStandaloneHasNoNodeLayer(t *testing.T) {
	defaults := map[string]json.RawMessage{"threads": raw("1")}
	overrides := map[string]json.RawMessage{"threads": raw("8")}

	merged := MergeTemplates(defaults, nil, overrides)
	if string(merged["threads"]) != "8" {
		t.Errorf("threads = %s, want override 8", merged["threads"])
	}
}

func intParam(name string, required bool) protocol.ParameterDef {
	return protocol.ParameterDef{Name: name, Type: protocol.ParamInt, Required: required}
}

func TestValidateStaticRejectsUnknownName(t *testing.T) {
	params := []protocol.ParameterDef{intParam("threads", false)}
	templates := Templates{"bogus": raw("1")}

	err := ValidateStatic(params, templates)
	assertSchemaInvalid(t, err)
}

func TestValidateStaticRejectsMissingRequired(t *testing.T) {
	params := []protocol.ParameterDef{intParam("threads", true)}
	templates := Templates{}

	err := ValidateStatic(params, templates)
	assertSchemaInvalid(t, err)
}

func TestValidateStaticAcceptsEnvRefShape(t *testing.T) {
	params := []protocol.ParameterDef{intParam("threads", true)}
	templates := Templates{"threads": raw(`{"$env":"THREADS","default":"4"}`)}

	if err := ValidateStatic(params, templates); err != nil {
		t.Fatalf("ValidateStatic() error = %v", err)
	}
}

func TestValidateStaticRejectsMalformedEnvRef(t *testing.T) {
	params := []protocol.ParameterDef{intParam("threads", false)}
	templates := Templates{"threads": raw(`{"$env":""}`)}

	err := ValidateStatic(params, templates)
	assertSchemaInvalid(t, err)
}

func TestValidateStaticEnumMembership(t *testing.T) {
	params := []protocol.ParameterDef{{Name: "mode", Type: protocol.ParamEnum, EnumValues: []string{"fast", "slow"}}}

	if err := ValidateStatic(params, Templates{"mode": raw(`"fast"`)}); err != nil {
		t.Errorf("ValidateStatic() error for valid enum = %v", err)
	}
	if err := ValidateStatic(params, Templates{"mode": raw(`"turbo"`)}); err == nil {
		t.Error("expected error for enum value not in enumValues")
	}
}

func TestMaterializeLiteral(t *testing.T) {
	params := []protocol.ParameterDef{intParam("threads", false)}
	templates := Templates{"threads": raw("4")}

	resolved, err := Materialize(params, templates, nil)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if resolved.EffectiveInputs["threads"] != float64(4) {
		t.Errorf("threads = %v, want 4", resolved.EffectiveInputs["threads"])
	}
	if len(resolved.SecretInputs) != 0 {
		t.Errorf("expected no secrets, got %v", resolved.SecretInputs)
	}
}

func TestMaterializeEnvRefLiteral(t *testing.T) {
	params := []protocol.ParameterDef{intParam("threads", false)}
	templates := Templates{"threads": raw(`{"$env":"THREADS"}`)}
	env := map[string]string{"THREADS": "16"}

	resolved, err := Materialize(params, templates, env)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if resolved.EffectiveInputs["threads"] != 16 {
		t.Errorf("threads = %v, want 16", resolved.EffectiveInputs["threads"])
	}
}

func TestMaterializeEnvRefDefault(t *testing.T) {
	params := []protocol.ParameterDef{intParam("threads", false)}
	templates := Templates{"threads": raw(`{"$env":"MISSING","default":"2"}`)}

	resolved, err := Materialize(params, templates, map[string]string{})
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if resolved.EffectiveInputs["threads"] != 2 {
		t.Errorf("threads = %v, want default 2", resolved.EffectiveInputs["threads"])
	}
}

func TestMaterializeEnvRefRequiredWithoutDefaultFails(t *testing.T) {
	params := []protocol.ParameterDef{intParam("threads", false)}
	templates := Templates{"threads": raw(`{"$env":"MISSING","required":true}`)}

	_, err := Materialize(params, templates, map[string]string{})
	if err == nil {
		t.Fatal("expected EnvRef.ResolveFailed error")
	}
	ve, ok := err.(*protocol.ValidationError)
	if !ok {
		t.Fatalf("expected *protocol.ValidationError, got %T", err)
	}
	if ve.Code != protocol.CodeEnvRefResolveFailed {
		t.Errorf("Code = %s, want %s", ve.Code, protocol.CodeEnvRefResolveFailed)
	}
}

func TestMaterializeEnvRefSecretTracked(t *testing.T) {
	params := []protocol.ParameterDef{{Name: "apiKey", Type: protocol.ParamString}}
	templates := Templates{"apiKey": raw(`{"$env":"API_KEY","secret":true}`)}
	env := map[string]string{"API_KEY": "shhh"}

	resolved, err := Materialize(params, templates, env)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if !resolved.SecretInputs["apiKey"] {
		t.Error("expected apiKey to be tracked as secret")
	}
}

func TestSecretOnCommandLineWarnings(t *testing.T) {
	warnings := SecretOnCommandLineWarnings(map[string]bool{"apiKey": true, "threads": false})
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(warnings))
	}
	if warnings[0].Code != protocol.CodeEnvRefSecretOnCommandLine {
		t.Errorf("Code = %s, want %s", warnings[0].Code, protocol.CodeEnvRefSecretOnCommandLine)
	}
	if warnings[0].Payload["input"] != "apiKey" {
		t.Errorf("Payload[input] = %v, want apiKey", warnings[0].Payload["input"])
	}
}

func TestValidatePreNodePathsFileMustExist(t *testing.T) {
	caseFolder := t.TempDir()
	params := []protocol.ParameterDef{{Name: "configFile", Type: protocol.ParamFile}}

	err := ValidatePreNodePaths(params, map[string]any{"configFile": "missing.json"}, caseFolder, caseFolder)
	if err == nil {
		t.Fatal("expected error for nonexistent file input")
	}
}

func TestValidatePreNodePathsFolderMustExist(t *testing.T) {
	caseFolder := t.TempDir()
	sub := filepath.Join(caseFolder, "artifacts")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	params := []protocol.ParameterDef{{Name: "outDir", Type: protocol.ParamFolder}}
	err := ValidatePreNodePaths(params, map[string]any{"outDir": "artifacts"}, caseFolder, caseFolder)
	if err != nil {
		t.Fatalf("ValidatePreNodePaths() error = %v", err)
	}
}

func TestValidatePreNodePathsPathMayBeAbsent(t *testing.T) {
	caseFolder := t.TempDir()
	params := []protocol.ParameterDef{{Name: "maybeFile", Type: protocol.ParamPath}}

	err := ValidatePreNodePaths(params, map[string]any{"maybeFile": "does-not-exist.txt"}, caseFolder, caseFolder)
	if err != nil {
		t.Fatalf("ValidatePreNodePaths() error = %v, want nil (path may be absent)", err)
	}
}

func TestValidatePreNodePathsRejectsEscape(t *testing.T) {
	tmp := t.TempDir()
	caseFolder := filepath.Join(tmp, "case")
	if err := os.MkdirAll(caseFolder, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	outsideFile := filepath.Join(tmp, "outside.json")
	if err := os.WriteFile(outsideFile, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	params := []protocol.ParameterDef{{Name: "configFile", Type: protocol.ParamFile}}
	err := ValidatePreNodePaths(params, map[string]any{"configFile": "../outside.json"}, caseFolder, caseFolder)
	if err == nil {
		t.Fatal("expected error for path escaping the case run folder")
	}
}

func assertSchemaInvalid(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	ve, ok := err.(*protocol.ValidationError)
	if !ok {
		t.Fatalf("expected *protocol.ValidationError, got %T: %v", err, err)
	}
	if ve.Code != protocol.CodeSchemaInvalid {
		t.Errorf("Code = %s, want %s", ve.Code, protocol.CodeSchemaInvalid)
	}
}
