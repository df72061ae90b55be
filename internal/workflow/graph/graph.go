// Package graph compiles a workflow config into an executable graph and
// drives it with a deterministic scheduler. Conditional and loop edges become
// router nodes; fork groups join at barrier nodes counted by static
// in-degree. For a fixed config and inputs the final state is deterministic
// even when fork siblings run in parallel.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"weave/internal/config"
	werrors "weave/internal/errors"
	"weave/internal/llm"
	"weave/internal/logging"
	"weave/internal/tracker"
	"weave/internal/workflow/condition"
	"weave/internal/workflow/node"
	"weave/internal/workflow/state"
)

// ErrCancelled reports that execution stopped because the context was
// cancelled; completed node patches remain applied.
var ErrCancelled = errors.New("workflow execution cancelled")

// maxRounds caps scheduler rounds as a guard against routing bugs; real
// workflows bound loops with max_iterations long before this.
const maxRounds = 10000

// TaskFunc produces a state patch from an observed state snapshot.
type TaskFunc func(ctx context.Context, st *state.State, run tracker.Run) (*node.Result, error)

// NodeHook observes each completed node; the runtime uses it for state
// snapshots and profiling.
type NodeHook func(nodeID string, st *state.State, elapsed time.Duration)

// Graph is a compiled, executable workflow.
type Graph struct {
	cfg    *config.Workflow
	tasks  map[string]TaskFunc
	edges  map[string]config.Edge
	// joinDegree counts guaranteed in-edges (linear and fork targets) per
	// node; nodes with degree > 1 are fork-join barriers.
	joinDegree map[string]int
	start      []string
	logger     logging.Logger
	hook       NodeHook
}

// Option configures graph compilation.
type Option func(*Graph)

// WithNodeHook installs the per-node completion hook.
func WithNodeHook(hook NodeHook) Option {
	return func(g *Graph) { g.hook = hook }
}

// WithLogger overrides the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(g *Graph) { g.logger = logging.OrNop(logger) }
}

// Compile validates the workflow and builds its executable graph. Each node
// becomes a task wrapping the executor; loop origins additionally bump their
// iteration counter per visit.
func Compile(cfg *config.Workflow, exec *node.Executor, opts ...Option) (*Graph, error) {
	// The config validator runs at load time; re-check the structural
	// invariants the scheduler depends on.
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Graph{
		cfg:        cfg,
		tasks:      make(map[string]TaskFunc, len(cfg.Nodes)),
		edges:      make(map[string]config.Edge, len(cfg.Edges)),
		joinDegree: make(map[string]int),
		logger:     logging.NewComponentLogger("Graph"),
	}
	for _, opt := range opts {
		opt(g)
	}

	for _, n := range cfg.Nodes {
		nodeCfg := n
		g.tasks[n.ID] = func(ctx context.Context, st *state.State, run tracker.Run) (*node.Result, error) {
			return exec.Execute(ctx, nodeCfg, st, run)
		}
	}

	for _, e := range cfg.Edges {
		g.edges[e.From] = e
		if e.From == config.StartNode {
			g.start = append(g.start, e.To...)
		}
		switch e.Kind() {
		case config.EdgeLinear, config.EdgeFork:
			for _, to := range e.To {
				if to != config.EndNode {
					g.joinDegree[to]++
				}
			}
		}
	}

	return g, nil
}

// Result summarizes one graph execution.
type Result struct {
	TotalUsage llm.Usage
	NodeVisits map[string]int
}

// taskOutcome pairs a completed task with its patch for deterministic merge.
type taskOutcome struct {
	id     string
	result *node.Result
	err    error
}

// Run executes the graph against the shared state. The scheduler runs in
// rounds: every ready task executes against a snapshot, patches merge in
// ascending node-id order, then each task's outgoing edge decides what runs
// next. Cancellation lets in-flight tasks finish but schedules nothing new.
func (g *Graph) Run(ctx context.Context, st *state.State, run tracker.Run) (*Result, error) {
	run = ensureRun(run)
	g.logger.Debug("Executing workflow %s", g.cfg.Flow.Name)
	result := &Result{NodeVisits: make(map[string]int)}

	ready := append([]string(nil), g.start...)
	joinProgress := make(map[string]int)
	endReached := false

	for round := 0; len(ready) > 0; round++ {
		if round >= maxRounds {
			return result, fmt.Errorf("scheduler exceeded %d rounds; routing loop suspected", maxRounds)
		}
		if err := ctx.Err(); err != nil {
			g.logger.Warn("Execution cancelled after %d rounds", round)
			return result, ErrCancelled
		}

		group := dedupeSorted(ready)
		ready = nil

		outcomes, err := g.runGroup(ctx, group, st, run)
		if err != nil {
			if ctx.Err() != nil {
				return result, ErrCancelled
			}
			return result, err
		}

		// Merge patches deterministically by task id, then route.
		for _, out := range outcomes {
			if out.result != nil && out.result.Patch != nil {
				if err := st.Merge(out.result.Patch); err != nil {
					return result, werrors.WrapNode(out.id, err)
				}
			}
			result.NodeVisits[out.id]++
			if out.result != nil {
				result.TotalUsage.PromptTokens += out.result.Usage.PromptTokens
				result.TotalUsage.CompletionTokens += out.result.Usage.CompletionTokens
				result.TotalUsage.TotalTokens += out.result.Usage.TotalTokens
			}
			if g.isLoopOrigin(out.id) {
				st.IncrementLoopCounter(out.id)
			}
		}

		for _, out := range outcomes {
			next, err := g.route(out.id, st)
			if err != nil {
				return result, err
			}
			for _, target := range next {
				if target == config.EndNode {
					endReached = true
					continue
				}
				if degree := g.joinDegree[target]; degree > 1 {
					joinProgress[target]++
					if joinProgress[target] < degree {
						continue
					}
					joinProgress[target] = 0
				}
				ready = append(ready, target)
			}
		}
	}

	for nodeID, pending := range joinProgress {
		if pending > 0 {
			return result, fmt.Errorf("join barrier at %q still waiting on %d branches at termination", nodeID, g.joinDegree[nodeID]-pending)
		}
	}
	if !endReached {
		return result, fmt.Errorf("scheduler drained without reaching END")
	}
	return result, nil
}

// runGroup executes one round's tasks, in parallel when the round holds more
// than one. Each task observes a snapshot so patches are pure; outcomes come
// back sorted by id.
func (g *Graph) runGroup(ctx context.Context, group []string, st *state.State, run tracker.Run) ([]taskOutcome, error) {
	outcomes := make([]taskOutcome, len(group))

	execOne := func(ctx context.Context, idx int, id string) error {
		task, ok := g.tasks[id]
		if !ok {
			return fmt.Errorf("task %q enqueued but not compiled", id)
		}
		child := run.StartChild(id)
		started := time.Now()
		res, err := task(ctx, st, child)
		elapsed := time.Since(started)
		if err != nil {
			child.End(tracker.StatusFailed)
			outcomes[idx] = taskOutcome{id: id, err: err}
			return err
		}
		child.LogMetric("duration_seconds", elapsed.Seconds())
		child.End(tracker.StatusCompleted)
		outcomes[idx] = taskOutcome{id: id, result: res}
		if g.hook != nil {
			g.hook(id, st, elapsed)
		}
		return nil
	}

	if len(group) == 1 {
		if err := execOne(ctx, 0, group[0]); err != nil {
			return nil, err
		}
		return outcomes, nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for i, id := range group {
		idx, taskID := i, id
		eg.Go(func() error { return execOne(egCtx, idx, taskID) })
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// route consults a completed task's outgoing edge and returns its successors.
func (g *Graph) route(id string, st *state.State) ([]string, error) {
	edge, ok := g.edges[id]
	if !ok {
		// Terminal node without an explicit edge; validation normally
		// guarantees one, treat as END.
		return []string{config.EndNode}, nil
	}

	switch edge.Kind() {
	case config.EdgeLinear, config.EdgeFork:
		return edge.To, nil
	case config.EdgeConditional:
		return g.routeConditional(edge, st)
	case config.EdgeLoop:
		return g.routeLoop(edge, st), nil
	default:
		return nil, fmt.Errorf("edge from %q has unknown kind", id)
	}
}

// routeConditional picks the first matching non-default route, falling back
// to the default. Routes whose condition fails to evaluate are skipped.
func (g *Graph) routeConditional(edge config.Edge, st *state.State) ([]string, error) {
	snapshot := st.Snapshot()
	var fallback *config.Route
	for i := range edge.Routes {
		route := edge.Routes[i]
		if route.IsDefault() {
			if fallback == nil {
				fallback = &route
			}
			continue
		}
		matched, err := condition.Evaluate(route.Condition.Logic, snapshot)
		if err != nil {
			g.logger.Warn("Skipping route %q -> %q: %v", edge.From, route.To, err)
			continue
		}
		if matched {
			return []string{route.To}, nil
		}
	}
	if fallback != nil {
		return []string{fallback.To}, nil
	}
	return nil, &werrors.ControlFlowError{
		Expression: fmt.Sprintf("conditional edge from %q", edge.From),
		Reason:     "no route matched and no default is present",
	}
}

// routeLoop iterates the origin while the condition field is falsy and the
// cap allows; the cap is strict even when the condition never turns true.
func (g *Graph) routeLoop(edge config.Edge, st *state.State) []string {
	iteration := st.LoopCounter(edge.From)
	value, _ := st.Get(edge.Loop.ConditionField)
	if condition.Truthy(value) || iteration >= edge.Loop.MaxIterations {
		return []string{edge.Loop.ExitTo}
	}
	return []string{edge.From}
}

func (g *Graph) isLoopOrigin(id string) bool {
	edge, ok := g.edges[id]
	return ok && edge.Kind() == config.EdgeLoop
}

func dedupeSorted(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func ensureRun(run tracker.Run) tracker.Run {
	if run == nil {
		return tracker.Nop().StartRun("", nil)
	}
	return run
}
