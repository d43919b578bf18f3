package config

import (
	"encoding/json"
	"hash/fnv"
)

// hashBytes is the fingerprint used for change suppression. Empty
// input hashes to 0, which callers treat as "no fingerprint".
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// canonicalHashJSON hashes a JSON blob after a decode/encode round trip
// so whitespace and key-order edits don't register as changes. Invalid
// JSON falls back to the raw bytes.
func canonicalHashJSON(raw json.RawMessage) uint64 {
	if len(raw) == 0 {
		return 0
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return hashBytes(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return hashBytes(raw)
	}
	return hashBytes(b)
}
