package config

import (
	"fmt"

	werrors "weave/internal/errors"
)

var validGatePolicies = map[string]bool{"": true, "warn": true, "fail": true, "block_deploy": true}

// Validate checks the workflow for structural problems: identity, schema
// types, node/edge wiring, and graph reachability. It returns a
// ConfigValidationError listing every problem found.
func (w *Workflow) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if w.SchemaVersion == "" {
		add("schema_version is required")
	}
	if w.Flow.Name == "" {
		add("flow.name is required")
	}
	if len(w.Nodes) == 0 {
		add("at least one node is required")
	}
	if len(w.Edges) == 0 {
		add("at least one edge is required")
	}
	if !validGatePolicies[w.GatePolicy] {
		add("gate_policy %q is not one of warn, fail, block_deploy", w.GatePolicy)
	}

	for name, field := range w.State {
		if _, err := ParseType(field.Type); err != nil {
			add("state field %q: %v", name, err)
		}
	}

	nodeIDs := make(map[string]bool, len(w.Nodes))
	for _, n := range w.Nodes {
		w.validateNode(n, nodeIDs, add)
	}

	w.validateEdges(nodeIDs, add)

	if len(problems) > 0 {
		return &werrors.ConfigValidationError{Workflow: w.Flow.Name, Problems: problems}
	}
	return nil
}

func (w *Workflow) validateNode(n Node, nodeIDs map[string]bool, add func(string, ...any)) {
	if n.ID == "" {
		add("node with empty id")
		return
	}
	if n.ID == StartNode || n.ID == EndNode {
		add("node id %q is reserved", n.ID)
		return
	}
	if nodeIDs[n.ID] {
		add("duplicate node id %q", n.ID)
		return
	}
	nodeIDs[n.ID] = true

	if n.Prompt == "" && n.Code == "" {
		add("node %q needs a prompt or code", n.ID)
	}
	if len(n.Outputs) == 0 {
		add("node %q declares no outputs", n.ID)
	}
	for _, out := range n.Outputs {
		if _, ok := w.State[out]; !ok {
			add("node %q output %q is not a state field", n.ID, out)
		}
	}

	switch n.OutputSchema.Type {
	case "":
		add("node %q is missing output_schema.type", n.ID)
	case "object":
		if len(n.OutputSchema.Fields) == 0 {
			add("node %q object output schema declares no fields", n.ID)
		}
		fieldNames := make(map[string]bool, len(n.OutputSchema.Fields))
		for _, f := range n.OutputSchema.Fields {
			if f.Type == "object" {
				add("node %q field %q: nested objects are not supported", n.ID, f.Name)
				continue
			}
			if _, err := ParseType(f.Type); err != nil {
				add("node %q field %q: %v", n.ID, f.Name, err)
			}
			fieldNames[f.Name] = true
		}
		for _, out := range n.Outputs {
			if !fieldNames[out] {
				add("node %q output %q has no matching output schema field", n.ID, out)
			}
		}
	default:
		if _, err := ParseType(n.OutputSchema.Type); err != nil {
			add("node %q output schema: %v", n.ID, err)
		}
		if len(n.Outputs) > 1 {
			add("node %q has a simple output schema but %d outputs", n.ID, len(n.Outputs))
		}
	}
}

func (w *Workflow) validateEdges(nodeIDs map[string]bool, add func(string, ...any)) {
	startEdges := 0
	seenFrom := make(map[string]bool)
	knownTarget := func(id string) bool {
		return id == EndNode || nodeIDs[id]
	}

	for _, e := range w.Edges {
		if e.From == StartNode {
			startEdges++
		} else if !nodeIDs[e.From] {
			add("edge from unknown node %q", e.From)
			continue
		}
		if seenFrom[e.From] {
			add("node %q has more than one outgoing edge", e.From)
			continue
		}
		seenFrom[e.From] = true

		switch e.Kind() {
		case EdgeLinear, EdgeFork:
			if len(e.To) == 0 {
				add("edge from %q has no target", e.From)
			}
			for _, to := range e.To {
				if !knownTarget(to) {
					add("edge from %q targets unknown node %q", e.From, to)
				}
			}
		case EdgeConditional:
			defaults := 0
			for _, r := range e.Routes {
				if r.IsDefault() {
					defaults++
				} else if r.Condition.Logic == "" {
					add("conditional edge from %q has a route without logic", e.From)
				}
				if !knownTarget(r.To) {
					add("conditional edge from %q routes to unknown node %q", e.From, r.To)
				}
			}
			if defaults != 1 {
				add("conditional edge from %q needs exactly one default route, has %d", e.From, defaults)
			}
		case EdgeLoop:
			if _, ok := w.State[e.Loop.ConditionField]; !ok {
				add("loop edge from %q: condition field %q is not a state field", e.From, e.Loop.ConditionField)
			}
			if !knownTarget(e.Loop.ExitTo) {
				add("loop edge from %q exits to unknown node %q", e.From, e.Loop.ExitTo)
			}
			if e.Loop.MaxIterations < 1 {
				add("loop edge from %q needs max_iterations >= 1", e.From)
			}
		}
	}

	if startEdges != 1 {
		add("exactly one START edge is required, found %d", startEdges)
		return
	}
	if len(nodeIDs) == 0 {
		return
	}
	w.checkReachability(nodeIDs, add)
}

// successors returns the nodes an edge can hand control to, loop-back included.
func (e Edge) successors() []string {
	switch e.Kind() {
	case EdgeConditional:
		targets := make([]string, 0, len(e.Routes))
		for _, r := range e.Routes {
			targets = append(targets, r.To)
		}
		return targets
	case EdgeLoop:
		return []string{e.From, e.Loop.ExitTo}
	default:
		return []string(e.To)
	}
}

func (w *Workflow) checkReachability(nodeIDs map[string]bool, add func(string, ...any)) {
	forward := make(map[string][]string)
	for _, e := range w.Edges {
		forward[e.From] = append(forward[e.From], e.successors()...)
	}

	reachable := map[string]bool{}
	stack := []string{StartNode}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reachable[cur] {
			continue
		}
		reachable[cur] = true
		stack = append(stack, forward[cur]...)
	}

	reverse := make(map[string][]string)
	for from, targets := range forward {
		for _, to := range targets {
			reverse[to] = append(reverse[to], from)
		}
	}
	reachesEnd := map[string]bool{}
	stack = []string{EndNode}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reachesEnd[cur] {
			continue
		}
		reachesEnd[cur] = true
		stack = append(stack, reverse[cur]...)
	}

	for id := range nodeIDs {
		if !reachable[id] {
			add("node %q is not reachable from START", id)
		}
		if !reachesEnd[id] {
			add("node %q has no path to END", id)
		}
	}
}
