package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalJSON converts a value to deterministic JSON by recursively sorting map keys
// This ensures that logically equivalent data structures always produce the same JSON
func CanonicalJSON(v interface{}) ([]byte, error) {
	// Normalize the value first to ensure all maps are sorted
	normalized, err := normalizeValue(v)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}

	// Marshal without extra whitespace
	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return data, nil
}

// normalizeValue recursively converts maps to sorted representations
func normalizeValue(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		return normalizeSortedMap(val)

	case []interface{}:
		// Process array elements but preserve order
		normalized := make([]interface{}, len(val))
		for i, item := range val {
			n, err := normalizeValue(item)
			if err != nil {
				return nil, err
			}
			normalized[i] = n
		}
		return normalized, nil

	default:
		// Primitives and other types pass through
		return v, nil
	}
}

// sortedMap is a JSON-marshalable type that maintains key ordering
type sortedMap struct {
	keys   []string
	values map[string]interface{}
}

func (sm *sortedMap) MarshalJSON() ([]byte, error) {
	// Build JSON manually with sorted keys
	if len(sm.keys) == 0 {
		return []byte("{}"), nil
	}

	result := "{"
	for i, key := range sm.keys {
		if i > 0 {
			result += ","
		}

		// Marshal key
		keyJSON, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}

		// Marshal value
		valJSON, err := json.Marshal(sm.values[key])
		if err != nil {
			return nil, err
		}

		result += string(keyJSON) + ":" + string(valJSON)
	}
	result += "}"

	return []byte(result), nil
}

func normalizeSortedMap(m map[string]interface{}) (*sortedMap, error) {
	// Extract and sort keys
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Normalize values
	normalized := make(map[string]interface{}, len(m))
	for _, k := range keys {
		n, err := normalizeValue(m[k])
		if err != nil {
			return nil, err
		}
		normalized[k] = n
	}

	return &sortedMap{
		keys:   keys,
		values: normalized,
	}, nil
}

func canonicalHash(prefix string, v interface{}) (string, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize %s: %w", prefix, err)
	}
	hash := sha256.Sum256(data)
	return prefix + ":" + hex.EncodeToString(hash[:]), nil
}

// ManifestFingerprint hashes a parsed manifest's canonical JSON form. Two
// manifests with identical fields (in any key order) produce the same
// fingerprint; the case runner stamps it into a case run folder's
// manifest.json as manifestHash.
func ManifestFingerprint(manifest interface{}) (string, error) {
	generic, err := toGenericJSON(manifest)
	if err != nil {
		return "", err
	}
	return canonicalHash("manifest", generic)
}

// ContextFingerprint hashes an effective-inputs/effective-environment pair.
// Identical pairs (in any key order) produce the same fingerprint, and a
// changed value, such as an EnvRef that resolved differently, changes it.
// No orchestrator or resume path stores or compares this fingerprint, and
// nothing emits CodeResumeContextDrift.
func ContextFingerprint(effectiveInputs map[string]any, effectiveEnvironment map[string]string) (string, error) {
	payload := map[string]interface{}{
		"inputs": effectiveInputs,
		"env":    effectiveEnvironment,
	}
	return canonicalHash("ctx", payload)
}

// toGenericJSON round-trips v through encoding/json into map[string]any /
// []any / primitives so CanonicalJSON's normalizer (which only recognizes
// those concrete types) can sort nested maps regardless of v's static type.
func toGenericJSON(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return generic, nil
}
