// Package template substitutes {name} and {a.b.c} placeholders in prompt
// strings from explicit node inputs and the workflow state, inputs shadowing
// state. Braces that do not wrap a valid placeholder name are literal.
package template

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	werrors "weave/internal/errors"
)

var placeholderPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Source supplies dotted lookups into the second-tier value store, normally
// the workflow state.
type Source interface {
	Lookup(path []string) (any, bool)
	TopLevelKeys() []string
}

// MapSource adapts a plain nested map to a Source.
type MapSource map[string]any

// Lookup walks the dotted path through nested maps.
func (m MapSource) Lookup(path []string) (any, bool) {
	var cur any = map[string]any(m)
	for _, part := range path {
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

// TopLevelKeys lists the first-level field names for error reporting.
func (m MapSource) TopLevelKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Resolve replaces each placeholder with the string form of its value.
// Explicit inputs are consulted before the state source. A name that resolves
// nowhere produces a TemplateResolutionError listing candidates and, when one
// is within edit distance 2, a suggestion.
func Resolve(tmpl string, inputs map[string]any, state Source) (string, error) {
	var out strings.Builder
	out.Grow(len(tmpl))

	for i := 0; i < len(tmpl); {
		ch := tmpl[i]
		if ch != '{' {
			out.WriteByte(ch)
			i++
			continue
		}
		end := strings.IndexByte(tmpl[i:], '}')
		if end < 0 {
			out.WriteByte(ch)
			i++
			continue
		}
		name := tmpl[i+1 : i+end]
		if !placeholderPattern.MatchString(name) {
			// Literal braces: emit as-is and keep scanning after the '{' so
			// nested placeholders like "{{x}" still resolve.
			out.WriteByte(ch)
			i++
			continue
		}

		value, err := resolveName(name, inputs, state)
		if err != nil {
			return "", err
		}
		out.WriteString(Stringify(value))
		i += end + 1
	}

	return out.String(), nil
}

func resolveName(name string, inputs map[string]any, state Source) (any, error) {
	if inputs != nil {
		if v, ok := inputs[name]; ok {
			return v, nil
		}
	}
	path := strings.Split(name, ".")
	if state != nil {
		if v, ok := state.Lookup(path); ok {
			return v, nil
		}
	}

	available := make([]string, 0, len(inputs))
	for k := range inputs {
		available = append(available, k)
	}
	sort.Strings(available)
	if state != nil {
		available = append(available, state.TopLevelKeys()...)
	}

	return nil, &werrors.TemplateResolutionError{
		Name:       name,
		Available:  available,
		Suggestion: closestCandidate(name, available),
	}
}

// closestCandidate returns the candidate within edit distance 2 of name, the
// nearest one winning. Empty when nothing is close enough.
func closestCandidate(name string, candidates []string) string {
	best, bestDist := "", 3
	for _, cand := range candidates {
		if d := editDistance(name, cand); d < bestDist {
			best, bestDist = cand, d
		}
	}
	return best
}

func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, min(cur[j-1]+1, prev[j-1]+cost))
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// Stringify renders a resolved value in its canonical textual form.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case float32:
		return Stringify(float64(v))
	default:
		return fmt.Sprintf("%v", v)
	}
}
