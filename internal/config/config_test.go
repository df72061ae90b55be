package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	werrors "weave/internal/errors"
)

const linearWorkflowYAML = `
schema_version: "1"
flow:
  name: summarize
  version: "0.1"
state:
  topic:
    type: str
    required: true
  summary:
    type: str
    default: ""
nodes:
  - id: a
    prompt: "Summarize {topic}"
    output_schema:
      type: str
    outputs: [summary]
  - id: b
    prompt: "Capitalize {summary}"
    output_schema:
      type: str
    outputs: [summary]
edges:
  - from: START
    to: a
  - from: a
    to: b
  - from: b
    to: END
`

func TestParseWorkflowLinear(t *testing.T) {
	wf, err := ParseWorkflow([]byte(linearWorkflowYAML), "test.yaml")
	require.NoError(t, err)

	assert.Equal(t, "summarize", wf.Flow.Name)
	assert.Len(t, wf.Nodes, 2)
	require.Len(t, wf.Edges, 3)
	assert.Equal(t, EdgeLinear, wf.Edges[0].Kind())
	assert.Equal(t, []string{"summary"}, wf.OutputFields())

	edge, ok := wf.OutgoingEdge("a")
	require.True(t, ok)
	assert.Equal(t, TargetList{"b"}, edge.To)
}

func TestParseWorkflowEdgeShapes(t *testing.T) {
	yaml := `
schema_version: "1"
flow: {name: shapes}
state:
  done: {type: bool, default: false}
  score: {type: float, required: true}
  out: {type: str, default: ""}
nodes:
  - id: fan
    prompt: "p"
    output_schema: {type: str}
    outputs: [out]
  - id: left
    prompt: "p"
    output_schema: {type: str}
    outputs: [out]
  - id: right
    prompt: "p"
    output_schema: {type: str}
    outputs: [out]
  - id: gate
    prompt: "p"
    output_schema: {type: str}
    outputs: [out]
  - id: looper
    prompt: "p"
    output_schema: {type: str}
    outputs: [out]
edges:
  - from: START
    to: fan
  - from: fan
    to: [left, right]
  - from: left
    to: gate
  - from: right
    to: gate
  - from: gate
    routes:
      - condition: {logic: "state.score > 0.5"}
        to: looper
      - condition: {logic: "default"}
        to: looper
  - from: looper
    loop:
      condition_field: done
      exit_to: END
      max_iterations: 3
`
	// left and right both target gate: the fork-join barrier case, which is
	// the one shape allowed to have two incoming edges but still only one
	// outgoing edge each.
	wf, err := ParseWorkflow([]byte(yaml), "shapes.yaml")
	require.NoError(t, err)

	fan, _ := wf.OutgoingEdge("fan")
	assert.Equal(t, EdgeFork, fan.Kind())
	gate, _ := wf.OutgoingEdge("gate")
	assert.Equal(t, EdgeConditional, gate.Kind())
	loop, _ := wf.OutgoingEdge("looper")
	assert.Equal(t, EdgeLoop, loop.Kind())
	assert.Equal(t, 3, loop.Loop.MaxIterations)
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Workflow)
		problem string
	}{
		{"missing schema version", func(w *Workflow) { w.SchemaVersion = "" }, "schema_version"},
		{"missing flow name", func(w *Workflow) { w.Flow.Name = "" }, "flow.name"},
		{"no start edge", func(w *Workflow) { w.Edges[0].From = "a" }, "START edge"},
		{"unknown output", func(w *Workflow) { w.Nodes[0].Outputs = []string{"nope"} }, "not a state field"},
		{"unknown edge target", func(w *Workflow) { w.Edges[1].To = TargetList{"ghost"} }, "unknown node"},
		{"duplicate node", func(w *Workflow) { w.Nodes[1].ID = "a" }, "duplicate"},
		{"bad state type", func(w *Workflow) {
			w.State["topic"] = FieldSpec{Type: "quaternion"}
		}, "unknown type"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wf, err := ParseWorkflow([]byte(linearWorkflowYAML), "test.yaml")
			require.NoError(t, err)
			tc.mutate(wf)
			err = wf.Validate()
			require.Error(t, err)
			var vErr *werrors.ConfigValidationError
			require.True(t, errors.As(err, &vErr))
			assert.Contains(t, err.Error(), tc.problem)
		})
	}
}

func TestValidateConditionalNeedsExactlyOneDefault(t *testing.T) {
	wf, err := ParseWorkflow([]byte(linearWorkflowYAML), "test.yaml")
	require.NoError(t, err)
	wf.Edges[1] = Edge{
		From: "a",
		Routes: []Route{
			{Condition: ConditionSpec{Logic: "state.topic == \"x\""}, To: "b"},
			{Condition: ConditionSpec{Logic: "state.topic == \"y\""}, To: "b"},
		},
	}
	err = wf.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one default route")
}

func TestValidateDetectsUnreachableNodes(t *testing.T) {
	wf, err := ParseWorkflow([]byte(linearWorkflowYAML), "test.yaml")
	require.NoError(t, err)
	// Drop a→b so b dangles.
	wf.Edges = []Edge{
		{From: StartNode, To: TargetList{"a"}},
		{From: "a", To: TargetList{EndNode}},
	}
	err = wf.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `node "b" is not reachable`)
}

func TestLoadWorkflowMissingFile(t *testing.T) {
	_, err := LoadWorkflow(filepath.Join(t.TempDir(), "missing.yaml"))
	var loadErr *werrors.ConfigLoadError
	require.True(t, errors.As(err, &loadErr))
}

func TestLoadWorkflowFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(linearWorkflowYAML), 0o644))
	wf, err := LoadWorkflow(path)
	require.NoError(t, err)
	assert.Equal(t, "summarize", wf.Flow.Name)
}

func TestParseType(t *testing.T) {
	spec, err := ParseType("dict[str,list[int]]")
	require.NoError(t, err)
	assert.Equal(t, TypeDict, spec.Kind)
	assert.Equal(t, TypeList, spec.Val.Kind)
	assert.Equal(t, "dict[str,list[int]]", spec.String())

	_, err = ParseType("tuple[int]")
	require.Error(t, err)
}

func TestTypeSpecCheck(t *testing.T) {
	intSpec := TypeSpec{Kind: TypeInt}
	assert.True(t, intSpec.Check(3))
	assert.True(t, intSpec.Check(float64(3))) // JSON numbers
	assert.False(t, intSpec.Check(3.5))
	assert.False(t, intSpec.Check("3"))

	listStr, err := ParseType("list[str]")
	require.NoError(t, err)
	assert.True(t, listStr.Check([]any{"a", "b"}))
	assert.False(t, listStr.Check([]any{"a", 1}))

	anySpec := TypeSpec{Kind: TypeAny}
	assert.True(t, anySpec.Check(nil))
	assert.True(t, anySpec.Check(map[string]any{"k": 1}))
}

func TestLoadServiceDefaults(t *testing.T) {
	svc, err := LoadService("")
	require.NoError(t, err)
	assert.Equal(t, 8500, svc.Registry.Port)
	assert.Equal(t, 5, svc.Orchestrator.MaxParallelExecutions)
	assert.Equal(t, 60, svc.Agent.TTLSeconds)
}
