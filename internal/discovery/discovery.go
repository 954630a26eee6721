// Package discovery implements read-only, idempotent discovery of
// TestCase/TestSuite/TestPlan manifests under the three resolved asset
// roots. Given a protocol.Roots, it walks casesRoot, suitesRoot, and
// plansRoot deterministically (entries visited in sorted name order),
// parses every test.manifest.json/suite.manifest.json/plan.manifest.json
// it finds, and indexes each by identity. A second manifest claiming an
// identity already seen is a fatal Identity.Duplicate error, not a silent
// overwrite — the resolved roots are immutable for the lifetime of a run,
// so this indexing only ever happens once per run.
package discovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pvt-x/pvtx/internal/protocol"
)

const (
	testCaseManifestFile  = "test.manifest.json"
	testSuiteManifestFile = "suite.manifest.json"
	testPlanManifestFile  = "plan.manifest.json"
)

// CaseEntry pairs a parsed TestCaseManifest with the folder it was found in.
type CaseEntry struct {
	Manifest protocol.TestCaseManifest
	Dir      string
}

// SuiteEntry pairs a parsed TestSuiteManifest with the folder it was found in.
type SuiteEntry struct {
	Manifest protocol.TestSuiteManifest
	Dir      string
}

// PlanEntry pairs a parsed TestPlanManifest with the folder it was found in.
type PlanEntry struct {
	Manifest protocol.TestPlanManifest
	Dir      string
}

// Index is the result of a full discovery pass: every TestCase, TestSuite,
// and TestPlan manifest found under the resolved roots, keyed by identity.
type Index struct {
	Cases  map[protocol.Identity]CaseEntry
	Suites map[protocol.Identity]SuiteEntry
	Plans  map[protocol.Identity]PlanEntry
}

// seenIdentity records which entity kind and folder first claimed an
// identity, so a later claim of the same id@version — whether by the same
// kind or a different one — can be reported against it.
type seenIdentity struct {
	entityType protocol.EntityType
	dir        string
}

// Discover walks roots.CasesRoot, roots.SuitesRoot, and roots.PlansRoot and
// returns the resulting Index. Discovery is read-only: it never writes to
// the roots it walks. TestCase, TestSuite, and TestPlan identities share a
// single namespace (spec §3), so every walk checks and updates the same
// seen map rather than three independent per-kind maps.
func Discover(roots protocol.Roots) (*Index, error) {
	idx := &Index{
		Cases:  make(map[protocol.Identity]CaseEntry),
		Suites: make(map[protocol.Identity]SuiteEntry),
		Plans:  make(map[protocol.Identity]PlanEntry),
	}
	seen := make(map[protocol.Identity]seenIdentity)

	if err := walkManifests(roots.CasesRoot, testCaseManifestFile, func(dir string, data []byte) error {
		var m protocol.TestCaseManifest
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("discovery: parse %s: %w", filepath.Join(dir, testCaseManifestFile), err)
		}
		if err := m.Validate(); err != nil {
			return fmt.Errorf("discovery: validate %s: %w", filepath.Join(dir, testCaseManifestFile), err)
		}
		id := m.Identity()
		if existing, dup := seen[id]; dup {
			return dupErr(existing.entityType, protocol.EntityTestCase, id, existing.dir, dir)
		}
		seen[id] = seenIdentity{entityType: protocol.EntityTestCase, dir: dir}
		idx.Cases[id] = CaseEntry{Manifest: m, Dir: dir}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := walkManifests(roots.SuitesRoot, testSuiteManifestFile, func(dir string, data []byte) error {
		var m protocol.TestSuiteManifest
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("discovery: parse %s: %w", filepath.Join(dir, testSuiteManifestFile), err)
		}
		if err := m.Validate(); err != nil {
			return fmt.Errorf("discovery: validate %s: %w", filepath.Join(dir, testSuiteManifestFile), err)
		}
		id := m.Identity()
		if existing, dup := seen[id]; dup {
			return dupErr(existing.entityType, protocol.EntityTestSuite, id, existing.dir, dir)
		}
		seen[id] = seenIdentity{entityType: protocol.EntityTestSuite, dir: dir}
		idx.Suites[id] = SuiteEntry{Manifest: m, Dir: dir}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := walkManifests(roots.PlansRoot, testPlanManifestFile, func(dir string, data []byte) error {
		var m protocol.TestPlanManifest
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("discovery: parse %s: %w", filepath.Join(dir, testPlanManifestFile), err)
		}
		if err := m.Validate(); err != nil {
			return fmt.Errorf("discovery: validate %s: %w", filepath.Join(dir, testPlanManifestFile), err)
		}
		var rawPlan struct {
			Environment map[string]json.RawMessage `json:"environment"`
		}
		if err := json.Unmarshal(data, &rawPlan); err == nil {
			for k := range rawPlan.Environment {
				if k != "env" {
					return fmt.Errorf("discovery: validate %s: %w", filepath.Join(dir, testPlanManifestFile),
						protocol.NewValidationError(protocol.CodeSchemaInvalid, map[string]any{"field": "environment." + k, "reason": "plan environment accepts only env"}))
				}
			}
		}
		id := m.Identity()
		if existing, dup := seen[id]; dup {
			return dupErr(existing.entityType, protocol.EntityTestPlan, id, existing.dir, dir)
		}
		seen[id] = seenIdentity{entityType: protocol.EntityTestPlan, dir: dir}
		idx.Plans[id] = PlanEntry{Manifest: m, Dir: dir}
		return nil
	}); err != nil {
		return nil, err
	}

	return idx, nil
}

func dupErr(firstType, secondType protocol.EntityType, id protocol.Identity, firstDir, secondDir string) error {
	return protocol.NewValidationError(protocol.CodeIdentityDuplicate, map[string]any{
		"entityType":    firstType,
		"conflictType":  secondType,
		"id":            id.ID,
		"version":       id.Version,
		"conflictPaths": []string{firstDir, secondDir},
	})
}

// walkManifests recursively visits root in sorted directory-entry order,
// invoking fn(dir, fileBytes) for every folder directly containing
// manifestName. Hidden (dot-prefixed) entries are skipped.
func walkManifests(root, manifestName string, fn func(dir string, data []byte) error) error {
	if strings.TrimSpace(root) == "" {
		return nil
	}
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}

	manifestPath := filepath.Join(root, manifestName)
	if data, err := os.ReadFile(manifestPath); err == nil {
		if err := fn(root, data); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("discovery: read %s: %w", manifestPath, err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("discovery: read dir %s: %w", root, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if err := walkManifests(filepath.Join(root, entry.Name()), manifestName, fn); err != nil {
			return err
		}
	}
	return nil
}
