// Package runtime is the workflow entry point: it loads a config, builds the
// initial state, compiles and runs the graph, and records the execution row
// and tracker run around it.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"weave/internal/config"
	werrors "weave/internal/errors"
	"weave/internal/llm"
	"weave/internal/logging"
	"weave/internal/quality"
	"weave/internal/storage"
	"weave/internal/tracker"
	"weave/internal/workflow/graph"
	"weave/internal/workflow/node"
	"weave/internal/workflow/state"
)

// Result is the outcome of one workflow run.
type Result struct {
	ExecutionID     string         `json:"execution_id"`
	Status          string         `json:"status"`
	Outputs         map[string]any `json:"outputs"`
	DurationSeconds float64        `json:"duration_seconds"`
	TotalTokens     int            `json:"total_tokens"`
}

// Runner drives workflow executions.
type Runner struct {
	client     llm.Client
	codeExec   node.CodeExecutor
	executions storage.ExecutionRepository
	states     storage.StateRepository
	track      tracker.Tracker
	retry      *werrors.RetryConfig
	logger     logging.Logger
	tracer     trace.Tracer
}

// Option configures a Runner.
type Option func(*Runner)

// WithExecutionRepository persists execution rows.
func WithExecutionRepository(repo storage.ExecutionRepository) Option {
	return func(r *Runner) { r.executions = repo }
}

// WithStateRepository persists a state snapshot after every node.
func WithStateRepository(repo storage.StateRepository) Option {
	return func(r *Runner) { r.states = repo }
}

// WithTracker sets the observability sink.
func WithTracker(t tracker.Tracker) Option {
	return func(r *Runner) { r.track = tracker.OrNop(t) }
}

// WithCodeExecutor installs the code-node backend.
func WithCodeExecutor(ce node.CodeExecutor) Option {
	return func(r *Runner) { r.codeExec = ce }
}

// WithRetryConfig overrides the node executor retry policy.
func WithRetryConfig(cfg werrors.RetryConfig) Option {
	return func(r *Runner) { r.retry = &cfg }
}

// WithLogger overrides the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Runner) { r.logger = logging.OrNop(logger) }
}

// NewRunner builds a runner over the given LLM client.
func NewRunner(client llm.Client, opts ...Option) (*Runner, error) {
	if client == nil {
		return nil, fmt.Errorf("llm client required")
	}
	r := &Runner{
		client: client,
		track:  tracker.Nop(),
		logger: logging.NewComponentLogger("Runtime"),
		tracer: otel.Tracer("weave/workflow/runtime"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RunFile loads a workflow config from disk and runs it.
func (r *Runner) RunFile(ctx context.Context, path string, inputs map[string]any) (*Result, error) {
	wf, err := config.LoadWorkflow(path)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, wf, inputs)
}

// Run executes the workflow to completion and returns its outputs: the final
// values of every state field some node declared in its outputs.
func (r *Runner) Run(ctx context.Context, wf *config.Workflow, inputs map[string]any) (*Result, error) {
	executionID := uuid.NewString()
	return r.execute(ctx, executionID, wf, inputs)
}

// RunDetached starts the execution in the background and returns its id
// immediately. The detached run outlives the caller's context.
func (r *Runner) RunDetached(ctx context.Context, wf *config.Workflow, inputs map[string]any) string {
	executionID := uuid.NewString()
	detached := context.WithoutCancel(ctx)
	go func() {
		if _, err := r.execute(detached, executionID, wf, inputs); err != nil {
			r.logger.Error("Detached execution %s failed: %v", executionID, err)
		}
	}()
	return executionID
}

func (r *Runner) execute(ctx context.Context, executionID string, wf *config.Workflow, inputs map[string]any) (*Result, error) {
	ctx, span := r.tracer.Start(ctx, "weave.workflow.run",
		trace.WithAttributes(
			attribute.String("workflow.name", wf.Flow.Name),
			attribute.String("execution.id", executionID)))
	defer span.End()

	schema, err := state.NewSchema(wf.State)
	if err != nil {
		return nil, err
	}
	st, err := schema.New(inputs)
	if err != nil {
		return nil, err
	}

	profiler := quality.NewProfiler()
	executor := r.newExecutor(wf)
	g, err := graph.Compile(wf, executor,
		graph.WithLogger(r.logger),
		graph.WithNodeHook(func(nodeID string, st *state.State, elapsed time.Duration) {
			profiler.Record(nodeID, elapsed)
			r.snapshotState(ctx, executionID, nodeID, st)
		}))
	if err != nil {
		return nil, err
	}

	r.recordStart(ctx, executionID, wf, inputs)
	run := r.track.StartRun(wf.Flow.Name, inputs)
	run.LogParams(map[string]any{"workflow": wf.Flow.Name, "execution_id": executionID})

	started := time.Now()
	graphResult, runErr := g.Run(ctx, st, run)
	elapsed := time.Since(started)

	result := &Result{
		ExecutionID:     executionID,
		DurationSeconds: elapsed.Seconds(),
	}
	if graphResult != nil {
		result.TotalTokens = graphResult.TotalUsage.TotalTokens
	}

	if runErr != nil {
		result.Status = storage.StatusFailed
		if errors.Is(runErr, graph.ErrCancelled) {
			result.Status = storage.StatusCancelled
		}
		r.recordEnd(ctx, executionID, result, profiler, runErr)
		run.End(trackerStatus(result.Status))
		span.RecordError(runErr)
		return result, runErr
	}

	result.Status = storage.StatusCompleted
	result.Outputs = collectOutputs(wf, st)
	run.LogMetric("duration_seconds", result.DurationSeconds)
	run.LogMetric("total_tokens", float64(result.TotalTokens))
	run.LogArtifact("outputs", result.Outputs)
	r.recordEnd(ctx, executionID, result, profiler, nil)
	run.End(tracker.StatusCompleted)

	if err := r.applyGates(wf, result, profiler); err != nil {
		return result, err
	}
	return result, nil
}

func (r *Runner) newExecutor(wf *config.Workflow) *node.Executor {
	opts := []node.Option{node.WithLogger(r.logger)}
	if r.codeExec != nil {
		opts = append(opts, node.WithCodeExecutor(r.codeExec))
	}
	if r.retry != nil {
		opts = append(opts, node.WithRetryConfig(*r.retry))
	}
	return node.NewExecutor(r.client, opts...)
}

// applyGates checks configured quality gates against post-run metrics. A
// "fail" policy surfaces the aggregated error; the execution row itself stays
// completed since the workflow did finish.
func (r *Runner) applyGates(wf *config.Workflow, result *Result, profiler *quality.Profiler) error {
	if len(wf.Gates) == 0 {
		return nil
	}
	checker := quality.NewChecker(wf.Gates, r.logger)
	metrics := map[string]float64{
		"duration_seconds": result.DurationSeconds,
		"total_tokens":     float64(result.TotalTokens),
		"node_seconds_avg": profiler.Average().Seconds(),
	}
	for name, value := range result.Outputs {
		if f, ok := toMetric(value); ok {
			metrics[name] = f
		}
	}
	policy := wf.GatePolicy
	if policy == "" {
		policy = quality.PolicyWarn
	}
	results := checker.Check(metrics)
	return checker.TakeAction(results, policy, wf.Flow.Name)
}

func toMetric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func (r *Runner) recordStart(ctx context.Context, executionID string, wf *config.Workflow, inputs map[string]any) {
	if r.executions == nil {
		return
	}
	exec := &storage.Execution{
		ID:             executionID,
		WorkflowName:   wf.Flow.Name,
		Status:         storage.StatusPending,
		ConfigSnapshot: configSnapshot(wf),
		Inputs:         inputs,
		StartedAt:      time.Now(),
	}
	if err := r.executions.Add(ctx, exec); err != nil {
		r.logger.Warn("Failed to record execution %s: %v", executionID, err)
		return
	}
	if err := r.executions.UpdateStatus(ctx, executionID, storage.StatusRunning); err != nil {
		r.logger.Warn("Failed to mark execution %s running: %v", executionID, err)
	}
}

func (r *Runner) recordEnd(ctx context.Context, executionID string, result *Result, profiler *quality.Profiler, runErr error) {
	if r.executions == nil {
		return
	}
	update := storage.CompletionUpdate{
		Status:          result.Status,
		DurationSeconds: result.DurationSeconds,
		TotalTokens:     result.TotalTokens,
		Outputs:         result.Outputs,
		BottleneckInfo:  profiler.Summary(),
	}
	if runErr != nil {
		update.ErrorMessage = runErr.Error()
	}
	if err := r.executions.UpdateCompletion(ctx, executionID, update); err != nil {
		r.logger.Warn("Failed to record completion of %s: %v", executionID, err)
	}
}

func (r *Runner) snapshotState(ctx context.Context, executionID, nodeID string, st *state.State) {
	if r.states == nil {
		return
	}
	if err := r.states.Save(ctx, executionID, nodeID, st.Snapshot()); err != nil {
		r.logger.Warn("Failed to snapshot state after %s: %v", nodeID, err)
	}
}

func collectOutputs(wf *config.Workflow, st *state.State) map[string]any {
	outputs := make(map[string]any)
	for _, field := range wf.OutputFields() {
		if v, ok := st.Get(field); ok {
			outputs[field] = v
		}
	}
	return outputs
}

// configSnapshot freezes the config into the execution row via a JSON
// round-trip.
func configSnapshot(wf *config.Workflow) map[string]any {
	data, err := json.Marshal(wf)
	if err != nil {
		return map[string]any{"flow": wf.Flow.Name}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"flow": wf.Flow.Name}
	}
	return out
}

func trackerStatus(status string) string {
	if status == storage.StatusCancelled {
		return tracker.StatusCancelled
	}
	return tracker.StatusFailed
}
