package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

const hashPrefix = "sha256:"

// CanonicalJSON encodes v with object keys sorted at every level.
func CanonicalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// SumObject hashes the canonical JSON form of v.
func SumObject(v any) (string, []byte, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return "", nil, err
	}
	return SumBytes(b), b, nil
}

func SumBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hashPrefix + hex.EncodeToString(sum[:])
}

// HexDigest strips the algorithm prefix from a hash string.
func HexDigest(hash string) string {
	return strings.TrimPrefix(hash, hashPrefix)
}

// ActionContentHash binds the identity and executable content of an action.
func ActionContentHash(actionID, runID, target string, inv ToolInvocation) (string, error) {
	args, err := inv.RawArguments()
	if err != nil {
		return "", err
	}
	hash, _, err := SumObject(map[string]any{
		"action_id": actionID,
		"run_id":    runID,
		"tool":      string(inv.Tool),
		"target":    target,
		"arguments": args,
	})
	return hash, err
}
