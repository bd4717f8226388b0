package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint is a deterministic cache key derived from a tool name, its
// canonicalized arguments, and a coarse workspace state token.
type Fingerprint string

// ComputeFingerprint hashes the tool name, canonicalized arguments, and state
// token into a Fingerprint. Argument maps are key-sorted recursively before
// hashing so semantically identical calls collide regardless of key order in
// the request.
func ComputeFingerprint(toolName string, args json.RawMessage, stateToken string) (Fingerprint, error) {
	canonical, err := CanonicalizeJSON(args)
	if err != nil {
		return "", fmt.Errorf("canonicalize arguments: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write([]byte(canonical))
	h.Write([]byte{0})
	h.Write([]byte(stateToken))
	return Fingerprint(hex.EncodeToString(h.Sum(nil))), nil
}

// CanonicalizeJSON re-encodes a JSON document with all object keys sorted at
// every nesting level. Empty input canonicalizes to "null".
func CanonicalizeJSON(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "null", nil
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := writeCanonical(&sb, value); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func writeCanonical(sb *strings.Builder, value any) error {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return err
			}
			sb.Write(keyJSON)
			sb.WriteByte(':')
			if err := writeCanonical(sb, v[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
		return nil
	case []any:
		sb.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeCanonical(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
		return nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return err
		}
		sb.Write(encoded)
		return nil
	}
}
