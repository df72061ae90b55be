// Package state turns a workflow's declared state schema into a constructor
// for typed, mergeable state instances. Instances own their data for the
// duration of one execution and change only through node-result merges.
package state

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"weave/internal/config"
	werrors "weave/internal/errors"
)

// LoopIterationPrefix is the reserved key prefix for per-node loop counters.
const LoopIterationPrefix = "_loop_iteration_"

// TracePrefix is the reserved key prefix for tracker-provided tags.
const TracePrefix = "_trace_"

// Schema is the compiled form of a declared state schema.
type Schema struct {
	fields map[string]fieldDef
}

type fieldDef struct {
	spec     config.TypeSpec
	required bool
	def      any
	hasDef   bool
}

// NewSchema compiles the declared field specs.
func NewSchema(declared map[string]config.FieldSpec) (*Schema, error) {
	fields := make(map[string]fieldDef, len(declared))
	for name, fs := range declared {
		if isReservedKey(name) {
			return nil, &werrors.StateInitializationError{Field: name, Reason: "reserved key prefix"}
		}
		spec, err := config.ParseType(fs.Type)
		if err != nil {
			return nil, &werrors.StateInitializationError{Field: name, Reason: err.Error()}
		}
		def := fieldDef{spec: spec, required: fs.Required}
		if fs.Default != nil {
			if !spec.Check(normalize(fs.Default)) {
				return nil, &werrors.StateInitializationError{
					Field:  name,
					Reason: fmt.Sprintf("default %v does not match type %s", fs.Default, spec),
				}
			}
			def.def = normalize(fs.Default)
			def.hasDef = true
		} else if !fs.Required {
			// Optional fields without an explicit default start at the type's
			// zero value so templates and conditions can reference them.
			def.def = zeroValue(spec)
			def.hasDef = true
		}
		fields[name] = def
	}
	return &Schema{fields: fields}, nil
}

// FieldNames returns the declared field names, sorted.
func (s *Schema) FieldNames() []string {
	names := make([]string, 0, len(s.fields))
	for name := range s.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New constructs a state instance from the given inputs: required fields must
// be present and well-typed, defaults fill the rest, unknown non-reserved
// keys are rejected.
func (s *Schema) New(inputs map[string]any) (*State, error) {
	data := make(map[string]any, len(s.fields))

	for name, def := range s.fields {
		if def.hasDef {
			data[name] = def.def
		}
	}
	for name, value := range inputs {
		if err := s.checkKey(name, value); err != nil {
			return nil, err
		}
		data[name] = normalize(value)
	}
	for name, def := range s.fields {
		if def.required {
			if _, ok := data[name]; !ok {
				return nil, &werrors.StateInitializationError{Field: name, Reason: "required field missing"}
			}
		}
	}

	return &State{schema: s, data: data}, nil
}

func (s *Schema) checkKey(name string, value any) error {
	if isReservedKey(name) {
		return nil
	}
	def, ok := s.fields[name]
	if !ok {
		return &werrors.StateInitializationError{Field: name, Reason: "unknown state field"}
	}
	if !def.spec.Check(normalize(value)) {
		return &werrors.StateInitializationError{
			Field:  name,
			Reason: fmt.Sprintf("value %v does not match type %s", value, def.spec),
		}
	}
	return nil
}

func isReservedKey(name string) bool {
	return strings.HasPrefix(name, LoopIterationPrefix) || strings.HasPrefix(name, TracePrefix)
}

// State is one execution's mutable state. Safe for concurrent reads and
// writes; fork siblings receive snapshots instead of sharing it directly.
type State struct {
	schema *Schema
	mu     sync.RWMutex
	data   map[string]any
}

// Get returns the value of a field.
func (st *State) Get(name string) (any, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	v, ok := st.data[name]
	return v, ok
}

// Merge applies a node's output patch. Every key is type-checked against the
// schema; reserved keys bypass schema checks.
func (st *State) Merge(patch map[string]any) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	for name, value := range patch {
		if err := st.schema.checkKey(name, value); err != nil {
			return err
		}
	}
	for name, value := range patch {
		st.data[name] = normalize(value)
	}
	return nil
}

// IncrementLoopCounter bumps the reserved loop counter for a node and returns
// the new count. Counters start at zero before the first visit.
func (st *State) IncrementLoopCounter(nodeID string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	key := LoopIterationPrefix + nodeID
	count := 0
	if v, ok := st.data[key]; ok {
		count, _ = v.(int)
	}
	count++
	st.data[key] = count
	return count
}

// LoopCounter reads the loop counter for a node without modifying it.
func (st *State) LoopCounter(nodeID string) int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if v, ok := st.data[st.schemaKey(nodeID)]; ok {
		if count, ok := v.(int); ok {
			return count
		}
	}
	return 0
}

func (st *State) schemaKey(nodeID string) string { return LoopIterationPrefix + nodeID }

// Snapshot returns a shallow copy of the current state data. Fork siblings
// observe snapshots so their patches stay pure.
func (st *State) Snapshot() map[string]any {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make(map[string]any, len(st.data))
	for k, v := range st.data {
		out[k] = v
	}
	return out
}

// Lookup implements template.Source: dotted paths descend into nested maps.
func (st *State) Lookup(path []string) (any, bool) {
	st.mu.RLock()
	cur, ok := st.data[path[0]]
	st.mu.RUnlock()
	if !ok {
		return nil, false
	}
	for _, part := range path[1:] {
		obj, isMap := cur.(map[string]any)
		if !isMap {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// TopLevelKeys implements template.Source for error reporting; reserved keys
// are omitted.
func (st *State) TopLevelKeys() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	keys := make([]string, 0, len(st.data))
	for k := range st.data {
		if !isReservedKey(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// normalize converts decoded values into the canonical in-memory forms the
// type checker expects (e.g. yaml map[any]any to map[string]any).
func normalize(value any) any {
	switch v := value.(type) {
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[fmt.Sprintf("%v", k)] = normalize(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalize(item)
		}
		return out
	default:
		return value
	}
}

func zeroValue(spec config.TypeSpec) any {
	switch spec.Kind {
	case config.TypeStr:
		return ""
	case config.TypeInt:
		return 0
	case config.TypeFloat:
		return 0.0
	case config.TypeBool:
		return false
	case config.TypeList:
		return []any{}
	case config.TypeDict:
		return map[string]any{}
	default:
		return nil
	}
}
