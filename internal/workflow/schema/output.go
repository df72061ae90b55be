// Package schema builds validators for node output contracts. A node's
// output schema is either a simple type, wrapped as {result: value}, or a
// flat record of typed fields; nested objects are rejected at build time.
package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"weave/internal/config"
	werrors "weave/internal/errors"
)

// ResultKey is the field name simple outputs are wrapped under.
const ResultKey = "result"

// OutputModel validates and normalizes a node's output.
type OutputModel struct {
	nodeID string
	simple *config.TypeSpec
	fields []outputField
}

type outputField struct {
	name string
	spec config.TypeSpec
}

// NewOutputModel compiles an output schema for a node.
func NewOutputModel(nodeID string, decl config.OutputSchema) (*OutputModel, error) {
	model := &OutputModel{nodeID: nodeID}

	if decl.Type == "object" {
		if len(decl.Fields) == 0 {
			return nil, &werrors.OutputBuilderError{Model: model.Name(), Reason: "object schema declares no fields"}
		}
		seen := make(map[string]bool, len(decl.Fields))
		for _, f := range decl.Fields {
			if f.Type == "object" {
				return nil, &werrors.OutputBuilderError{
					Model:  model.Name(),
					Reason: fmt.Sprintf("field %q: nested objects are not supported", f.Name),
				}
			}
			spec, err := config.ParseType(f.Type)
			if err != nil {
				return nil, &werrors.OutputBuilderError{Model: model.Name(), Reason: fmt.Sprintf("field %q: %v", f.Name, err)}
			}
			if seen[f.Name] {
				return nil, &werrors.OutputBuilderError{Model: model.Name(), Reason: fmt.Sprintf("duplicate field %q", f.Name)}
			}
			seen[f.Name] = true
			model.fields = append(model.fields, outputField{name: f.Name, spec: spec})
		}
		return model, nil
	}

	spec, err := config.ParseType(decl.Type)
	if err != nil {
		return nil, &werrors.OutputBuilderError{Model: model.Name(), Reason: err.Error()}
	}
	model.simple = &spec
	return model, nil
}

// Name returns the diagnostic model name, Output_<node_id>.
func (m *OutputModel) Name() string {
	return "Output_" + m.nodeID
}

// IsObject reports whether the schema is a record of named fields.
func (m *OutputModel) IsObject() bool { return m.simple == nil }

// FieldNames lists the record field names in declaration order.
func (m *OutputModel) FieldNames() []string {
	names := make([]string, 0, len(m.fields))
	for _, f := range m.fields {
		names = append(names, f.name)
	}
	return names
}

// Validate enforces the contract on an already-decoded value and returns the
// canonical map form: {result: v} for simple schemas, the named fields for
// object schemas. Extra keys on object outputs are dropped.
func (m *OutputModel) Validate(value any) (map[string]any, error) {
	if m.simple != nil {
		// Accept the raw value or a pre-wrapped {result: v}.
		if obj, ok := value.(map[string]any); ok {
			if inner, ok := obj[ResultKey]; ok && len(obj) == 1 {
				value = inner
			}
		}
		if !m.simple.Check(value) {
			return nil, &werrors.OutputBuilderError{
				Model:  m.Name(),
				Reason: fmt.Sprintf("value %v does not match type %s", value, m.simple),
			}
		}
		return map[string]any{ResultKey: value}, nil
	}

	obj, ok := value.(map[string]any)
	if !ok {
		return nil, &werrors.OutputBuilderError{Model: m.Name(), Reason: fmt.Sprintf("expected an object, got %T", value)}
	}
	out := make(map[string]any, len(m.fields))
	for _, f := range m.fields {
		v, present := obj[f.name]
		if !present {
			return nil, &werrors.OutputBuilderError{Model: m.Name(), Reason: fmt.Sprintf("missing field %q", f.name)}
		}
		if !f.spec.Check(v) {
			return nil, &werrors.OutputBuilderError{
				Model:  m.Name(),
				Reason: fmt.Sprintf("field %q: value %v does not match type %s", f.name, v, f.spec),
			}
		}
		out[f.name] = v
	}
	return out, nil
}

// ParseText decodes raw model output and validates it. JSON is tried first,
// with jsonrepair as a fallback for the usual LLM formatting slop (code
// fences, trailing commas, single quotes); simple schemas additionally accept
// bare literals.
func (m *OutputModel) ParseText(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(stripCodeFence(raw))

	if m.simple != nil {
		if v, ok := parseSimpleLiteral(trimmed, *m.simple); ok {
			return m.Validate(v)
		}
	}

	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(trimmed)
		if repairErr != nil {
			if m.simple != nil && m.simple.Kind == config.TypeStr {
				return m.Validate(trimmed)
			}
			return nil, &werrors.OutputBuilderError{
				Model:  m.Name(),
				Reason: fmt.Sprintf("output is not valid JSON: %v", err),
			}
		}
		if err := json.Unmarshal([]byte(repaired), &decoded); err != nil {
			return nil, &werrors.OutputBuilderError{Model: m.Name(), Reason: fmt.Sprintf("repaired output is not valid JSON: %v", err)}
		}
	}
	return m.Validate(decoded)
}

// Serialize renders a validated output back to JSON. Validate(Serialize(o))
// round-trips to o.
func (m *OutputModel) Serialize(out map[string]any) ([]byte, error) {
	data, err := json.Marshal(out)
	if err != nil {
		return nil, &werrors.OutputBuilderError{Model: m.Name(), Reason: err.Error()}
	}
	return data, nil
}

// parseSimpleLiteral interprets bare (non-JSON-object) model output for
// simple schemas: numbers, booleans, and plain strings.
func parseSimpleLiteral(raw string, spec config.TypeSpec) (any, bool) {
	switch spec.Kind {
	case config.TypeStr:
		if !strings.HasPrefix(raw, "{") && !strings.HasPrefix(raw, "[") {
			if unquoted, err := strconv.Unquote(raw); err == nil {
				return unquoted, true
			}
			return raw, true
		}
	case config.TypeInt:
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return int(v), true
		}
	case config.TypeFloat:
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v, true
		}
	case config.TypeBool:
		if v, err := strconv.ParseBool(raw); err == nil {
			return v, true
		}
	}
	return nil, false
}

func stripCodeFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return raw
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
}
