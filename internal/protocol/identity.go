// Package protocol defines the wire and runtime data model shared by every
// engine component: identity, manifests, run requests, run context, status,
// and the artifacts (result.json, index.jsonl, children.jsonl, events.jsonl)
// persisted under a run folder.
package protocol

import (
	"fmt"
	"regexp"
	"strings"
)

// EntityType distinguishes the three manifest kinds that share one identity
// namespace.
type EntityType string

const (
	EntityTestCase  EntityType = "TestCase"
	EntityTestSuite EntityType = "TestSuite"
	EntityTestPlan  EntityType = "TestPlan"
)

var identityIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Identity is the `id@version` pair used to address a TestCase, TestSuite,
// or TestPlan. Exactly one '@' separates id from version; id matches
// [A-Za-z0-9._-]+; version is an opaque, manifest-declared string.
type Identity struct {
	ID      string
	Version string
}

// ParseIdentity parses "id@version" into an Identity, trimming whitespace
// around the whole string first. It rejects zero or multiple '@' separators,
// empty id/version, and an id that does not match [A-Za-z0-9._-]+.
func ParseIdentity(s string) (Identity, error) {
	trimmed := strings.TrimSpace(s)
	parts := strings.Split(trimmed, "@")
	if len(parts) != 2 {
		return Identity{}, &ValidationError{
			Code:    CodeIdentityMalformed,
			Payload: map[string]any{"value": s},
		}
	}
	id, version := parts[0], parts[1]
	if id == "" || version == "" {
		return Identity{}, &ValidationError{
			Code:    CodeIdentityMalformed,
			Payload: map[string]any{"value": s},
		}
	}
	if !identityIDPattern.MatchString(id) {
		return Identity{}, &ValidationError{
			Code:    CodeIdentityMalformed,
			Payload: map[string]any{"value": s, "reason": "id must match [A-Za-z0-9._-]+"},
		}
	}
	return Identity{ID: id, Version: version}, nil
}

// String re-formats the identity as "id@version". Round-tripping
// ParseIdentity(s).String() reproduces s byte-for-byte for any well-formed s
// without surrounding whitespace; whitespace trimmed by ParseIdentity is not
// restored.
func (i Identity) String() string {
	return fmt.Sprintf("%s@%s", i.ID, i.Version)
}

// IsZero reports whether the identity has never been populated.
func (i Identity) IsZero() bool {
	return i.ID == "" && i.Version == ""
}

// MarshalText lets Identity be used directly as a map key or struct field
// serialized by encoding/json.
func (i Identity) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText parses the identity from its "id@version" text form.
func (i *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
