package storage

import (
	"path"
	"strings"
)

// MatchMetadata reports whether metadata satisfies every filter. Filter keys
// may be dotted paths into nested maps. String expectations containing '*'
// match as glob patterns. A list expectation matches when the actual value
// contains any expected element; list-vs-list matches on a non-empty
// intersection.
func MatchMetadata(metadata, filters map[string]any) bool {
	for key, expected := range filters {
		actual, ok := lookupPath(metadata, key)
		if !ok {
			return false
		}
		if !matchValue(actual, expected) {
			return false
		}
	}
	return true
}

func lookupPath(metadata map[string]any, dotted string) (any, bool) {
	parts := strings.Split(dotted, ".")
	var cur any = metadata
	for _, part := range parts {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func matchValue(actual, expected any) bool {
	if expList, ok := toList(expected); ok {
		if actList, ok := toList(actual); ok {
			return intersects(actList, expList)
		}
		return containsValue(expList, actual)
	}
	if actList, ok := toList(actual); ok {
		return containsValue(actList, expected)
	}
	if expStr, ok := expected.(string); ok && strings.Contains(expStr, "*") {
		actStr, ok := actual.(string)
		if !ok {
			return false
		}
		matched, err := path.Match(expStr, actStr)
		return err == nil && matched
	}
	return scalarEqual(actual, expected)
}

func toList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if scalarEqual(item, v) {
			return true
		}
	}
	return false
}

func intersects(a, b []any) bool {
	for _, item := range a {
		if containsValue(b, item) {
			return true
		}
	}
	return false
}

// scalarEqual compares leaf values, treating all numeric types as float64 so
// JSON round-trips do not break equality.
func scalarEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
