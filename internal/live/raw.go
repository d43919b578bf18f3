package live

import (
	"encoding/json"
	"strconv"
	"strings"
)

// RawEvent is the unvalidated payload as received from the gateway.
//
// The upstream SDK does not guarantee stable field names across versions
// (message vs comment, likeCount vs count, ...), so all access goes through
// the First* helpers, which take an explicit, ordered list of candidate
// keys. First non-empty candidate wins.
type RawEvent map[string]any

// FirstString resolves the first key whose value is a non-empty string
// (or a number, which is rendered as its decimal form).
func (r RawEvent) FirstString(keys ...string) (string, bool) {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if strings.TrimSpace(t) != "" {
				return t, true
			}
		case json.Number:
			return t.String(), true
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64), true
		case int64:
			return strconv.FormatInt(t, 10), true
		case int:
			return strconv.Itoa(t), true
		}
	}
	return "", false
}

// FirstInt resolves the first key holding a usable integer. JSON decoding
// yields float64 for all numbers; numeric strings are accepted too since
// the gateway has been observed sending both.
func (r RawEvent) FirstInt(keys ...string) (int64, bool) {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case float64:
			return int64(t), true
		case int64:
			return t, true
		case int:
			return int64(t), true
		case json.Number:
			if n, err := t.Int64(); err == nil {
				return n, true
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// FirstBool resolves the first key holding a bool (or 0/1 numeric).
func (r RawEvent) FirstBool(keys ...string) (bool, bool) {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case bool:
			return t, true
		case float64:
			return t != 0, true
		case int:
			return t != 0, true
		}
	}
	return false, false
}

// Without returns a shallow copy of r with the listed keys removed.
// Used to build the residual bag after normalization consumed its fields.
func (r RawEvent) Without(keys ...string) RawEvent {
	if len(r) == 0 {
		return nil
	}
	out := make(RawEvent, len(r))
	for k, v := range r {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
