package plugin

import (
	"encoding/json"
	"hash/fnv"
)

// configHash hashes a raw plugin config after canonicalizing the JSON,
// so whitespace and key-order churn from config rewrites does not count
// as a change. Invalid JSON falls back to hashing the raw bytes.
func configHash(raw json.RawMessage) uint64 {
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

func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
