package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Virtual terminal ids used in edge definitions. Neither is a real node.
const (
	StartNode = "START"
	EndNode   = "END"
)

// DefaultRouteLogic is the reserved condition that always matches.
const DefaultRouteLogic = "default"

// Workflow is the immutable, declarative description of a workflow. It is
// built once at load time and shared read-only afterwards.
type Workflow struct {
	SchemaVersion string               `yaml:"schema_version"`
	Flow          Flow                 `yaml:"flow"`
	State         map[string]FieldSpec `yaml:"state"`
	Nodes         []Node               `yaml:"nodes"`
	Edges         []Edge               `yaml:"edges"`
	LLM           *LLMSettings         `yaml:"llm,omitempty"`
	Gates         []GateSpec           `yaml:"quality_gates,omitempty"`
	GatePolicy    string               `yaml:"gate_policy,omitempty"`
}

// Flow identifies the workflow.
type Flow struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version,omitempty"`
}

// FieldSpec declares one field of the workflow state schema.
type FieldSpec struct {
	Type        string `yaml:"type"`
	Required    bool   `yaml:"required,omitempty"`
	Default     any    `yaml:"default,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// Node declares one executable step of the workflow.
type Node struct {
	ID           string            `yaml:"id"`
	Prompt       string            `yaml:"prompt,omitempty"`
	Inputs       map[string]string `yaml:"inputs,omitempty"`
	OutputSchema OutputSchema      `yaml:"output_schema"`
	Outputs      []string          `yaml:"outputs"`
	Tools        []string          `yaml:"tools,omitempty"`
	Code         string            `yaml:"code,omitempty"`
	Sandbox      *SandboxSpec      `yaml:"sandbox,omitempty"`
	LLM          *LLMSettings      `yaml:"llm,omitempty"`
}

// OutputSchema declares the shape a node's output must satisfy: either a
// simple type (wrapped as {result: value}) or an object of typed fields.
type OutputSchema struct {
	Type   string        `yaml:"type"`
	Fields []OutputField `yaml:"fields,omitempty"`
}

// OutputField declares one required field of an object output schema.
type OutputField struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description,omitempty"`
}

// SandboxSpec bounds a code node's execution.
type SandboxSpec struct {
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
	MemoryMB       int    `yaml:"memory_mb,omitempty"`
	Network        bool   `yaml:"network,omitempty"`
	Preset         string `yaml:"preset,omitempty"`
}

// LLMSettings carries the provider override for a workflow or single node.
type LLMSettings struct {
	Provider    string  `yaml:"provider,omitempty"`
	Model       string  `yaml:"model,omitempty"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
	MaxRetries  int     `yaml:"max_retries,omitempty"`
}

// GateSpec declares one post-run quality gate.
type GateSpec struct {
	Metric string   `yaml:"metric"`
	Min    *float64 `yaml:"min,omitempty"`
	Max    *float64 `yaml:"max,omitempty"`
}

// EdgeKind discriminates the four edge shapes.
type EdgeKind string

const (
	EdgeLinear      EdgeKind = "linear"
	EdgeFork        EdgeKind = "fork"
	EdgeConditional EdgeKind = "conditional"
	EdgeLoop        EdgeKind = "loop"
)

// Edge connects nodes. Exactly one of To / Routes / Loop is set; To with a
// single target is a linear edge, with several targets a fork.
type Edge struct {
	From   string     `yaml:"from"`
	To     TargetList `yaml:"to,omitempty"`
	Routes []Route    `yaml:"routes,omitempty"`
	Loop   *LoopSpec  `yaml:"loop,omitempty"`
}

// Kind reports which of the four edge shapes this edge takes.
func (e Edge) Kind() EdgeKind {
	switch {
	case e.Loop != nil:
		return EdgeLoop
	case len(e.Routes) > 0:
		return EdgeConditional
	case len(e.To) > 1:
		return EdgeFork
	default:
		return EdgeLinear
	}
}

// Route is one branch of a conditional edge. Logic "default" marks the
// fallback branch taken when no other route matches.
type Route struct {
	Condition ConditionSpec `yaml:"condition"`
	To        string        `yaml:"to"`
}

// ConditionSpec wraps the condition DSL expression of a route.
type ConditionSpec struct {
	Logic string `yaml:"logic"`
}

// IsDefault reports whether this route is the reserved fallback.
func (r Route) IsDefault() bool {
	return r.Condition.Logic == DefaultRouteLogic
}

// LoopSpec declares a bounded iteration edge: iterate the origin node while
// the condition field is falsy and the iteration cap is not reached.
type LoopSpec struct {
	ConditionField string `yaml:"condition_field"`
	ExitTo         string `yaml:"exit_to"`
	MaxIterations  int    `yaml:"max_iterations"`
}

// TargetList accepts either a scalar node id or a sequence of ids in YAML.
type TargetList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *TargetList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		*t = TargetList{single}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := value.Decode(&many); err != nil {
			return err
		}
		*t = TargetList(many)
		return nil
	default:
		return fmt.Errorf("edge target must be a node id or a list of node ids")
	}
}

// NodeByID returns the node with the given id.
func (w *Workflow) NodeByID(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// OutgoingEdge returns the edge originating at the given node id.
func (w *Workflow) OutgoingEdge(from string) (Edge, bool) {
	for _, e := range w.Edges {
		if e.From == from {
			return e, true
		}
	}
	return Edge{}, false
}

// OutputFields returns the union of every node's declared output fields, in
// first-seen order. These are the values surfaced as workflow outputs.
func (w *Workflow) OutputFields() []string {
	seen := make(map[string]bool)
	var fields []string
	for _, n := range w.Nodes {
		for _, out := range n.Outputs {
			if !seen[out] {
				seen[out] = true
				fields = append(fields, out)
			}
		}
	}
	return fields
}
