// Package runfolder is the exclusive writer for suite/plan group run
// folders and the runs-root index.jsonl (§4.5). It owns group-folder
// creation (collision-safe naming), the top-level JSON files a group folder
// holds, the append-only children.jsonl/events.jsonl logs, and the
// process-wide index.jsonl append lock.
package runfolder

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pvt-x/pvtx/internal/fsutil"
	"github.com/pvt-x/pvtx/internal/ndjson"
	"github.com/pvt-x/pvtx/internal/protocol"
)

// discardLogger backs the ndjson.Decoder used to replay children.jsonl: a
// malformed line is surfaced as an error return, not a log line, so the
// decoder's own internal logging is silenced rather than wired to the
// caller's logger.
var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// indexMu serializes every index.jsonl write across the process, per §4.5's
// "index.jsonl appends are additionally serialized by a process-wide mutex
// to tolerate concurrent runs".
var indexMu sync.Mutex

// groupPrefix returns the run-id prefix for an entity kind: "S" for a
// suite-level group folder, "P" for a plan-level one.
func groupPrefix(entity protocol.EntityType) (string, error) {
	switch entity {
	case protocol.EntityTestSuite:
		return "S", nil
	case protocol.EntityTestPlan:
		return "P", nil
	default:
		return "", fmt.Errorf("runfolder: %s is not a group entity kind", entity)
	}
}

// CreateGroupFolder creates a fresh group run folder under runsRoot, named
// "<prefix>-<timestamp>-<randtail>" with prefix S/P per entity kind. A name
// collision appends "_1", "_2", ... until os.Mkdir succeeds against an
// unused path.
func CreateGroupFolder(runsRoot string, entity protocol.EntityType, now time.Time) (runID, dir string, err error) {
	prefix, err := groupPrefix(entity)
	if err != nil {
		return "", "", err
	}

	base, err := newGroupID(prefix, now)
	if err != nil {
		return "", "", err
	}
	return createGroupFolderWithID(runsRoot, base)
}

// createGroupFolderWithID does the collision-retry directory creation for a
// fully-formed base run-id, split out from CreateGroupFolder so the
// collision-suffix behavior can be exercised deterministically in tests
// without forcing a random-tail collision.
func createGroupFolderWithID(runsRoot, base string) (runID, dir string, err error) {
	for attempt := 0; ; attempt++ {
		candidate := base
		if attempt > 0 {
			candidate = fmt.Sprintf("%s_%d", base, attempt)
		}
		dir := filepath.Join(runsRoot, candidate)
		if err := os.Mkdir(dir, 0700); err != nil {
			if os.IsExist(err) {
				continue
			}
			if os.IsNotExist(err) {
				if mkErr := os.MkdirAll(runsRoot, 0700); mkErr != nil {
					return "", "", fmt.Errorf("runfolder: create runs root %s: %w", runsRoot, mkErr)
				}
				continue
			}
			return "", "", fmt.Errorf("runfolder: create group folder %s: %w", dir, err)
		}
		return candidate, dir, nil
	}
}

// NewCaseRunID generates a random, timestamp-prefixed case run-id
// ("C-...") for the Case Runner's own {RunId}/ folder. runfolder never
// creates this folder itself (the case runner does, per §4.6 item 1); it
// only hands out the id so suite/plan orchestrators and the case runner
// agree on the same naming scheme as group folders.
func NewCaseRunID(now time.Time) (string, error) {
	return newGroupID("C", now)
}

func newGroupID(prefix string, now time.Time) (string, error) {
	randBytes := make([]byte, 4)
	if _, err := rand.Read(randBytes); err != nil {
		return "", fmt.Errorf("runfolder: generate run-id tail: %w", err)
	}
	return fmt.Sprintf("%s-%s-%s", prefix, now.UTC().Format("20060102-150405"), hex.EncodeToString(randBytes)), nil
}

// WriteManifest writes a group folder's manifest.json snapshot.
func WriteManifest(dir string, manifest any) error {
	return fsutil.AtomicWriteJSON(filepath.Join(dir, "manifest.json"), manifest)
}

// WriteControls writes a suite group folder's controls.json (suite only:
// a plan group folder has no controls.json of its own).
func WriteControls(dir string, controls protocol.Controls) error {
	return fsutil.AtomicWriteJSON(filepath.Join(dir, "controls.json"), controls)
}

// WriteEnvironment writes a group folder's environment.json (the effective
// environment map at the group level, before per-case layering).
func WriteEnvironment(dir string, env map[string]string) error {
	return fsutil.AtomicWriteJSON(filepath.Join(dir, "environment.json"), env)
}

// WriteRunRequest writes a group folder's runRequest.json.
func WriteRunRequest(dir string, req protocol.RunRequest) error {
	return fsutil.AtomicWriteJSON(filepath.Join(dir, "runRequest.json"), req)
}

// WriteResult writes a group folder's result.json.
func WriteResult(dir string, result protocol.GroupResult) error {
	return fsutil.AtomicWriteJSON(filepath.Join(dir, "result.json"), result)
}

// WriteSession writes a group folder's session.json, persisted immediately
// before a reboot.
func WriteSession(dir string, session protocol.SessionState) error {
	return fsutil.AtomicWriteJSON(filepath.Join(dir, "session.json"), session)
}

// ReadManifest loads a group folder's manifest.json back into v (a
// *protocol.TestSuiteManifest or *protocol.TestPlanManifest), for resume.
func ReadManifest(dir string, v any) error {
	return readJSONFile(filepath.Join(dir, "manifest.json"), v)
}

// ReadRunRequest loads a group folder's runRequest.json, for resume.
func ReadRunRequest(dir string) (protocol.RunRequest, error) {
	var req protocol.RunRequest
	err := readJSONFile(filepath.Join(dir, "runRequest.json"), &req)
	return req, err
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("runfolder: read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("runfolder: parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadSession loads a group folder's session.json, for resume.
func ReadSession(dir string) (protocol.SessionState, error) {
	var session protocol.SessionState
	data, err := os.ReadFile(filepath.Join(dir, "session.json"))
	if err != nil {
		return protocol.SessionState{}, fmt.Errorf("runfolder: read session.json: %w", err)
	}
	if err := json.Unmarshal(data, &session); err != nil {
		return protocol.SessionState{}, fmt.Errorf("runfolder: parse session.json: %w", err)
	}
	return session, nil
}

// AppendChild appends one entry to a group folder's children.jsonl.
func AppendChild(dir string, entry protocol.ChildEntry) error {
	return appendJSONLine(filepath.Join(dir, "children.jsonl"), entry)
}

// AppendEvent appends one entry to a group or case folder's events.jsonl.
func AppendEvent(dir string, entry protocol.EventRecord) error {
	return appendJSONLine(filepath.Join(dir, "events.jsonl"), entry)
}

// AppendIndex appends one entry to the runs-root index.jsonl. This is the
// one append site serialized by a process-wide mutex in addition to the
// per-file retry every append gets, per §4.5.
func AppendIndex(runsRoot string, entry protocol.IndexEntry) error {
	indexMu.Lock()
	defer indexMu.Unlock()
	return appendJSONLine(filepath.Join(runsRoot, "index.jsonl"), entry)
}

func appendJSONLine(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("runfolder: marshal %s entry: %w", filepath.Base(path), err)
	}
	return fsutil.AppendLineWithRetry(path, data)
}

// ReadChildren replays a group folder's children.jsonl, keeping only the
// latest entry per child run-id (a retried or resumed node appends more
// than one line for the same child) and dropping any entry whose status is
// RebootRequired, per §4.5's resume-reconstruction rule.
func ReadChildren(dir string) ([]protocol.ChildEntry, error) {
	path := filepath.Join(dir, "children.jsonl")
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("runfolder: open children.jsonl: %w", err)
	}
	defer file.Close()

	decoder := ndjson.NewDecoder(file, discardLogger)
	latest := make(map[string]protocol.ChildEntry)
	var order []string

	err = ndjson.ReadAll(decoder, func() any { return &protocol.ChildEntry{} }, func(item any) error {
		entry := *item.(*protocol.ChildEntry)
		if _, seen := latest[entry.ChildRunID]; !seen {
			order = append(order, entry.ChildRunID)
		}
		latest[entry.ChildRunID] = entry
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("runfolder: decode children.jsonl: %w", err)
	}

	result := make([]protocol.ChildEntry, 0, len(order))
	for _, id := range order {
		entry := latest[id]
		if entry.Status == protocol.StatusRebootRequired {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}
