// Package envresolver computes the effective environment map a case
// subprocess runs with: an OS-env base, layered manifest/request overrides,
// and a final pass of predefined PVTX_* variables the engine always injects
// (§4.4).
package envresolver

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pvt-x/pvtx/internal/protocol"
)

// psModulePathVar is the PowerShell module search path environment variable
// name, identical across Windows/Linux/macOS for PowerShell Core.
const psModulePathVar = "PSModulePath"

// Layers holds the environment sources to merge, low to high precedence.
// Suite and Plan are nil when not applicable to the run kind (§4.4's table):
// a standalone case run only ever supplies Overrides on top of the OS env.
type Layers struct {
	OSEnv     []string
	SuiteEnv  map[string]string
	PlanEnv   map[string]string
	Overrides map[string]string
}

// Predefined carries the values the engine injects after merging, one field
// per PVTX_* variable §4.4 names.
type Predefined struct {
	TestCasePath string
	TestCaseName string
	TestCaseID   string
	TestCaseVer  string
	CasesRoot    string
	RunID        string
	Phase        string
	ControlDir   string
}

// Merge layers the environment sources (OS env lowest, Overrides highest),
// rejecting any override/manifest key that is empty or whitespace-only, then
// injects the Predefined variables, overwriting any collision, and prepends
// PVTX_MODULES_ROOT to PSModulePath. It returns the effective environment as
// a map, ready for EnvRef materialization and for conversion to a KEY=VALUE
// slice via ToSlice.
func Merge(layers Layers, pre Predefined) (map[string]string, error) {
	env, err := MergeLayers(layers)
	if err != nil {
		return nil, err
	}

	assetsRoot := filepath.Dir(pre.CasesRoot)
	modulesRoot := filepath.Join(assetsRoot, "PowerShell", "Modules")

	env["PVTX_TESTCASE_PATH"] = pre.TestCasePath
	env["PVTX_TESTCASE_NAME"] = pre.TestCaseName
	env["PVTX_TESTCASE_ID"] = pre.TestCaseID
	env["PVTX_TESTCASE_VER"] = pre.TestCaseVer
	env["PVTX_ASSETS_ROOT"] = assetsRoot
	env["PVTX_MODULES_ROOT"] = modulesRoot
	env["PVTX_RUN_ID"] = pre.RunID
	env["PVTX_PHASE"] = pre.Phase
	env["PVTX_CONTROL_DIR"] = pre.ControlDir

	env[psModulePathVar] = prependModulePath(env[psModulePathVar], modulesRoot)

	return env, nil
}

// MergeLayers performs just the layered OS-env/Suite/Plan/Overrides merge,
// with no PVTX_* predefined-variable injection. A suite/plan group folder's
// environment.json records this: the effective environment at the group
// level, before the per-case PVTX_* layer Merge adds on top for each node.
func MergeLayers(layers Layers) (map[string]string, error) {
	env := envToMap(layers.OSEnv)
	for _, layer := range []map[string]string{layers.SuiteEnv, layers.PlanEnv, layers.Overrides} {
		if err := applyLayer(env, layer); err != nil {
			return nil, err
		}
	}
	return env, nil
}

// applyLayer overlays layer onto env in place, rejecting empty/whitespace
// keys before any value is applied.
func applyLayer(env map[string]string, layer map[string]string) error {
	for k, v := range layer {
		if strings.TrimSpace(k) == "" {
			return protocol.NewValidationError(protocol.CodeSchemaInvalid, map[string]any{
				"field":  "environment.env",
				"reason": "empty or whitespace-only key",
			})
		}
		env[k] = v
	}
	return nil
}

// prependModulePath prepends modulesRoot to an existing module search path,
// de-duplicating if it is already the head entry.
func prependModulePath(existing, modulesRoot string) string {
	if existing == "" {
		return modulesRoot
	}
	entries := strings.Split(existing, string(filepath.ListSeparator))
	if len(entries) > 0 && entries[0] == modulesRoot {
		return existing
	}
	return modulesRoot + string(filepath.ListSeparator) + existing
}

// envToMap parses a "KEY=VALUE" slice (the shape os.Environ() and
// exec.Cmd.Env use) into a map, last entry wins on duplicate keys.
func envToMap(pairs []string) map[string]string {
	m := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		m[k] = v
	}
	return m
}

// ToSlice converts an effective environment map back into the "KEY=VALUE"
// slice shape exec.Cmd.Env expects.
func ToSlice(env map[string]string) []string {
	pairs := make([]string, 0, len(env))
	for k, v := range env {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, v))
	}
	return pairs
}
