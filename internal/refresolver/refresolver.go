// Package refresolver resolves a suite node's ref to a test-case folder
// under the cases root, with symlink-safe containment checks. It never
// trusts a ref to stay inside the cases root on its own: a ref containing
// ".." or a symlink pointing outside the root is a fatal resolution
// failure, not a silently-allowed escape.
package refresolver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pvt-x/pvtx/internal/protocol"
)

const testCaseManifestFile = "test.manifest.json"

// Resolved is the outcome of a successful ref resolution: the canonical
// case folder and its parsed, validated manifest.
type Resolved struct {
	Dir      string
	Manifest protocol.TestCaseManifest
}

// Resolve resolves ref (a suite node's TestCases[i].Ref) against casesRoot.
// ref is normalized as a path relative to casesRoot; the candidate folder is
// <casesRoot>/<ref>, and its manifest must be <casesRoot>/<ref>/test.manifest.json.
// Both the normalized path and, if the folder exists, its symlink-resolved
// canonical form must stay inside the canonical cases root.
//
// On failure, err is a *protocol.ValidationError with Code
// CodeSuiteTestCaseRefInvalid and a Payload reason of OutOfRoot, NotFound,
// or MissingManifest (§4.2).
func Resolve(casesRoot, ref string) (Resolved, error) {
	rootAbs, err := filepath.Abs(casesRoot)
	if err != nil {
		return Resolved{}, fmt.Errorf("refresolver: resolve cases root %s: %w", casesRoot, err)
	}
	rootCanon, err := canonicalizeExisting(rootAbs)
	if err != nil {
		return Resolved{}, fmt.Errorf("refresolver: cases root %s does not exist or is inaccessible: %w", casesRoot, err)
	}

	if filepath.IsAbs(ref) {
		return Resolved{}, refInvalid(ref, protocol.RefReasonOutOfRoot)
	}

	joined := filepath.Join(rootAbs, ref)
	cleanPath := filepath.Clean(joined)

	relPath, err := filepath.Rel(rootCanon, cleanPath)
	if err != nil || relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return Resolved{}, refInvalid(ref, protocol.RefReasonOutOfRoot)
	}

	info, err := os.Stat(cleanPath)
	if os.IsNotExist(err) {
		return Resolved{}, refInvalid(ref, protocol.RefReasonNotFound)
	}
	if err != nil {
		return Resolved{}, fmt.Errorf("refresolver: stat %s: %w", cleanPath, err)
	}
	if !info.IsDir() {
		return Resolved{}, refInvalid(ref, protocol.RefReasonNotFound)
	}

	// The folder exists: resolve symlinks/junctions and re-verify containment
	// against the canonical root, catching a reparse point that escapes after
	// the textual join above looked fine.
	dirCanon, err := filepath.EvalSymlinks(cleanPath)
	if err != nil {
		return Resolved{}, fmt.Errorf("refresolver: resolve symlinks for %s: %w", cleanPath, err)
	}
	dirRel, err := filepath.Rel(rootCanon, dirCanon)
	if err != nil || dirRel == ".." || strings.HasPrefix(dirRel, ".."+string(filepath.Separator)) {
		return Resolved{}, refInvalid(ref, protocol.RefReasonOutOfRoot)
	}

	manifestPath := filepath.Join(dirCanon, testCaseManifestFile)
	data, err := os.ReadFile(manifestPath)
	if os.IsNotExist(err) {
		return Resolved{}, refInvalid(ref, protocol.RefReasonMissingManifest)
	}
	if err != nil {
		return Resolved{}, fmt.Errorf("refresolver: read %s: %w", manifestPath, err)
	}

	var m protocol.TestCaseManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Resolved{}, fmt.Errorf("refresolver: parse %s: %w", manifestPath, err)
	}
	if err := m.Validate(); err != nil {
		return Resolved{}, fmt.Errorf("refresolver: validate %s: %w", manifestPath, err)
	}

	return Resolved{Dir: dirCanon, Manifest: m}, nil
}

// canonicalizeExisting resolves symlinks in an already-existing path.
func canonicalizeExisting(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(path)
}

func refInvalid(ref, reason string) error {
	return protocol.NewValidationError(protocol.CodeSuiteTestCaseRefInvalid, map[string]any{
		"ref":    ref,
		"reason": reason,
	})
}
