package protocol

import (
	"strings"
)

// PayloadMatches reports whether a response payload satisfies a match spec:
//
//   - nil or false: any payload is acceptable
//   - true: the payload must be present
//   - a map: structural pattern match via Matches
//   - anything else: exact (numeric-tolerant) equality
func PayloadMatches(spec, payload any) bool {
	switch s := spec.(type) {
	case nil:
		return true
	case bool:
		if !s {
			return true
		}
		return payload != nil
	case map[string]any:
		candidate, ok := payload.(map[string]any)
		if !ok {
			return false
		}
		return Matches(s, candidate)
	default:
		return equalValue(spec, payload)
	}
}

// Matches structurally compares a pattern object against a candidate. Every
// key in the pattern must be present in the candidate; nested pattern maps
// recurse, and a candidate array satisfies a sub-pattern when any of its
// elements does. Extra candidate keys are ignored.
func Matches(pattern, candidate map[string]any) bool {
	for key, sub := range pattern {
		value, ok := candidate[key]
		if !ok {
			return false
		}
		if arr, isArr := value.([]any); isArr {
			if !anyElementMatches(sub, arr) {
				return false
			}
			continue
		}
		if !valueMatches(sub, value) {
			return false
		}
	}
	return true
}

func anyElementMatches(sub any, arr []any) bool {
	for _, el := range arr {
		if valueMatches(sub, el) {
			return true
		}
	}
	return false
}

func valueMatches(sub, value any) bool {
	if subMap, ok := sub.(map[string]any); ok {
		valueMap, ok := value.(map[string]any)
		if !ok {
			return false
		}
		return Matches(subMap, valueMap)
	}
	return equalValue(sub, value)
}

// equalValue compares scalars, normalizing numeric types so hand-written
// patterns (ints) compare equal to JSON-decoded candidates (float64).
func equalValue(a, b any) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return 0, false
}

// SetPath writes a value into a nested map by dot-path, creating
// intermediate maps as needed. An existing non-map value along the path is
// replaced by a map.
func SetPath(m map[string]any, path string, value any) {
	keys := strings.Split(path, ".")
	cur := m
	for _, key := range keys[:len(keys)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[key] = next
		}
		cur = next
	}
	cur[keys[len(keys)-1]] = value
}

// GetPath reads a value from a nested map by dot-path.
func GetPath(m map[string]any, path string) (any, bool) {
	keys := strings.Split(path, ".")
	var cur any = m
	for _, key := range keys {
		cm, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = cm[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
