package discovery

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pvt-x/pvtx/internal/protocol"
)

func mustWrite(t *testing.T, root, relPath, contents string) {
	t.Helper()
	full := filepath.Join(root, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(full), err)
	}
	if err := os.WriteFile(full, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", full, err)
	}
}

func TestDiscoverFindsTestCases(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()

	mustWrite(t, tmpDir, "cases/CpuStress/test.manifest.json", `{
		"id": "CpuStress", "version": "1.0.0", "timeoutSec": 300,
		"script": {"path": "run.ps1"}
	}`)
	mustWrite(t, tmpDir, "cases/MemStress/test.manifest.json", `{
		"id": "MemStress", "version": "2.1.0", "timeoutSec": 120,
		"script": {"path": "run.ps1"}
	}`)

	idx, err := Discover(protocol.Roots{CasesRoot: filepath.Join(tmpDir, "cases")})
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	if len(idx.Cases) != 2 {
		t.Fatalf("expected 2 cases, got %d", len(idx.Cases))
	}
	cpu, ok := idx.Cases[protocol.Identity{ID: "CpuStress", Version: "1.0.0"}]
	if !ok {
		t.Fatalf("expected CpuStress@1.0.0 to be indexed")
	}
	if cpu.Manifest.TimeoutSec != 300 {
		t.Errorf("TimeoutSec = %d, want 300", cpu.Manifest.TimeoutSec)
	}
}

func TestDiscoverDetectsIdentityDuplicate(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()

	mustWrite(t, tmpDir, "cases/a/test.manifest.json", `{"id":"Dup","version":"1.0.0","script":{"path":"run.ps1"}}`)
	mustWrite(t, tmpDir, "cases/b/test.manifest.json", `{"id":"Dup","version":"1.0.0","script":{"path":"run.ps1"}}`)

	_, err := Discover(protocol.Roots{CasesRoot: filepath.Join(tmpDir, "cases")})
	if err == nil {
		t.Fatal("expected Identity.Duplicate error")
	}
	ve, ok := err.(*protocol.ValidationError)
	if !ok {
		t.Fatalf("expected *protocol.ValidationError, got %T: %v", err, err)
	}
	if ve.Code != protocol.CodeIdentityDuplicate {
		t.Errorf("Code = %s, want %s", ve.Code, protocol.CodeIdentityDuplicate)
	}
	paths, ok := ve.Payload["conflictPaths"].([]string)
	if !ok || len(paths) != 2 {
		t.Errorf("expected two conflictPaths, got %v", ve.Payload["conflictPaths"])
	}
}

func TestDiscoverDetectsCrossKindIdentityDuplicate(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()

	mustWrite(t, tmpDir, "cases/Dup/test.manifest.json", `{"id":"Dup","version":"1.0.0","script":{"path":"run.ps1"}}`)
	mustWrite(t, tmpDir, "suites/Dup/suite.manifest.json", `{"id":"Dup","version":"1.0.0","testCases":[{"nodeId":"n1","ref":"Dup"}]}`)

	_, err := Discover(protocol.Roots{
		CasesRoot:  filepath.Join(tmpDir, "cases"),
		SuitesRoot: filepath.Join(tmpDir, "suites"),
	})
	if err == nil {
		t.Fatal("expected Identity.Duplicate error for a TestCase/TestSuite sharing id@version")
	}
	ve, ok := err.(*protocol.ValidationError)
	if !ok {
		t.Fatalf("expected *protocol.ValidationError, got %T: %v", err, err)
	}
	if ve.Code != protocol.CodeIdentityDuplicate {
		t.Errorf("Code = %s, want %s", ve.Code, protocol.CodeIdentityDuplicate)
	}
}

func TestDiscoverIgnoresHiddenDirectories(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()

	mustWrite(t, tmpDir, "cases/Visible/test.manifest.json", `{"id":"Visible","version":"1.0.0","script":{"path":"run.ps1"}}`)
	mustWrite(t, tmpDir, "cases/.hidden/test.manifest.json", `{"id":"Hidden","version":"1.0.0","script":{"path":"run.ps1"}}`)

	idx, err := Discover(protocol.Roots{CasesRoot: filepath.Join(tmpDir, "cases")})
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(idx.Cases) != 1 {
		t.Fatalf("expected 1 case (hidden dir skipped), got %d", len(idx.Cases))
	}
}

func TestDiscoverMissingRootIsNotAnError(t *testing.T) {
	t.Parallel()

	idx, err := Discover(protocol.Roots{CasesRoot: filepath.Join(t.TempDir(), "does-not-exist")})
	if err != nil {
		t.Fatalf("Discover() error = %v, want nil (missing root is empty, not fatal)", err)
	}
	if len(idx.Cases) != 0 {
		t.Errorf("expected zero cases from a missing root, got %d", len(idx.Cases))
	}
}

func TestDiscoverFindsSuitesAndPlans(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()

	mustWrite(t, tmpDir, "suites/Nightly/suite.manifest.json", `{
		"id": "Nightly", "version": "1.0.0",
		"testCases": [{"nodeId": "n1", "ref": "CpuStress"}]
	}`)
	mustWrite(t, tmpDir, "plans/Release/plan.manifest.json", `{
		"id": "Release", "version": "1.0.0",
		"testSuites": [{"nodeId": "s1", "ref": "Nightly@1.0.0"}]
	}`)

	idx, err := Discover(protocol.Roots{
		SuitesRoot: filepath.Join(tmpDir, "suites"),
		PlansRoot:  filepath.Join(tmpDir, "plans"),
	})
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	if _, ok := idx.Suites[protocol.Identity{ID: "Nightly", Version: "1.0.0"}]; !ok {
		t.Error("expected Nightly@1.0.0 suite to be indexed")
	}
	if _, ok := idx.Plans[protocol.Identity{ID: "Release", Version: "1.0.0"}]; !ok {
		t.Error("expected Release@1.0.0 plan to be indexed")
	}
}

func TestDiscoverRejectsInvalidManifest(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()

	mustWrite(t, tmpDir, "cases/Broken/test.manifest.json", `{"id":"","version":"1.0.0","script":{"path":"run.ps1"}}`)

	_, err := Discover(protocol.Roots{CasesRoot: filepath.Join(tmpDir, "cases")})
	if err == nil {
		t.Fatal("expected validation error for manifest missing id")
	}
	if !strings.Contains(err.Error(), "validate") {
		t.Errorf("expected wrapped validation error, got: %v", err)
	}
}

func TestDiscoverIsDeterministicAcrossRepeatedCalls(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()

	mustWrite(t, tmpDir, "cases/A/test.manifest.json", `{"id":"A","version":"1.0.0","script":{"path":"run.ps1"}}`)
	mustWrite(t, tmpDir, "cases/B/test.manifest.json", `{"id":"B","version":"1.0.0","script":{"path":"run.ps1"}}`)

	roots := protocol.Roots{CasesRoot: filepath.Join(tmpDir, "cases")}

	idx1, err := Discover(roots)
	if err != nil {
		t.Fatalf("first Discover() error = %v", err)
	}
	idx2, err := Discover(roots)
	if err != nil {
		t.Fatalf("second Discover() error = %v", err)
	}

	if len(idx1.Cases) != len(idx2.Cases) {
		t.Fatalf("discovery result changed across calls: %d vs %d", len(idx1.Cases), len(idx2.Cases))
	}
}
