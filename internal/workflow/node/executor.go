// Package node executes a single workflow node: resolve the prompt, call the
// LLM or the code executor, validate the result, and emit a state patch.
package node

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"weave/internal/config"
	werrors "weave/internal/errors"
	"weave/internal/llm"
	"weave/internal/logging"
	"weave/internal/tracker"
	"weave/internal/workflow/schema"
	"weave/internal/workflow/state"
	"weave/internal/workflow/template"
)

// Resources caps a code node's execution.
type Resources struct {
	TimeoutSeconds int
	MemoryMB       int
	Network        bool
	Preset         string
}

// CodeExecutor runs a node's code under the given resource limits and
// returns a single result value. The sandboxed default implementation lives
// outside the engine; tests plug in a local one.
type CodeExecutor interface {
	Execute(ctx context.Context, code string, inputs map[string]any, res Resources) (any, error)
}

// Result is the outcome of one node execution.
type Result struct {
	Patch map[string]any
	Usage llm.Usage
}

// Executor runs nodes against a provider and an optional code executor.
type Executor struct {
	client   llm.Client
	codeExec CodeExecutor
	retry    werrors.RetryConfig
	logger   logging.Logger
	tracer   trace.Tracer
}

// Option configures an Executor.
type Option func(*Executor)

// WithCodeExecutor installs the code-node backend.
func WithCodeExecutor(ce CodeExecutor) Option {
	return func(e *Executor) { e.codeExec = ce }
}

// WithRetryConfig overrides the per-node retry policy.
func WithRetryConfig(cfg werrors.RetryConfig) Option {
	return func(e *Executor) { e.retry = cfg }
}

// WithLogger overrides the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(e *Executor) { e.logger = logging.OrNop(logger) }
}

// NewExecutor builds a node executor over the given LLM client.
func NewExecutor(client llm.Client, opts ...Option) *Executor {
	e := &Executor{
		client: client,
		retry: werrors.RetryConfig{
			MaxAttempts:  3,
			BaseDelay:    500 * time.Millisecond,
			MaxDelay:     15 * time.Second,
			JitterFactor: 0.25,
		},
		logger: logging.NewComponentLogger("NodeExecutor"),
		tracer: otel.Tracer("weave/workflow/node"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one node against the given state and returns its state patch.
// Failures come back as NodeExecutionError carrying the node id.
func (e *Executor) Execute(ctx context.Context, n config.Node, st *state.State, run tracker.Run) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "weave.node.execute",
		trace.WithAttributes(attribute.String("node.id", n.ID)))
	defer span.End()

	result, err := e.execute(ctx, n, st, run)
	if err != nil {
		span.RecordError(err)
		return nil, werrors.WrapNode(n.ID, err)
	}
	return result, nil
}

func (e *Executor) execute(ctx context.Context, n config.Node, st *state.State, run tracker.Run) (*Result, error) {
	inputs, err := e.resolveInputs(n, st)
	if err != nil {
		return nil, err
	}

	model, err := schema.NewOutputModel(n.ID, n.OutputSchema)
	if err != nil {
		return nil, err
	}

	if n.Code != "" {
		return e.executeCode(ctx, n, inputs)
	}

	prompt, err := template.Resolve(n.Prompt, inputs, st)
	if err != nil {
		return nil, err
	}

	output, usage, err := e.callWithRetries(ctx, n, prompt, model)
	if err != nil {
		return nil, err
	}

	patch := mapOutputs(n, model, output)
	if run != nil {
		run.LogMetric("tokens_total", float64(usage.TotalTokens))
		run.LogMetric("tokens_prompt", float64(usage.PromptTokens))
		run.LogMetric("tokens_completion", float64(usage.CompletionTokens))
	}
	return &Result{Patch: patch, Usage: usage}, nil
}

// resolveInputs renders the node's declared inputs, which are themselves
// templates over the state.
func (e *Executor) resolveInputs(n config.Node, st *state.State) (map[string]any, error) {
	if len(n.Inputs) == 0 {
		return nil, nil
	}
	resolved := make(map[string]any, len(n.Inputs))
	for name, tmpl := range n.Inputs {
		value, err := template.Resolve(tmpl, nil, st)
		if err != nil {
			return nil, err
		}
		resolved[name] = value
	}
	return resolved, nil
}

func (e *Executor) executeCode(ctx context.Context, n config.Node, inputs map[string]any) (*Result, error) {
	if e.codeExec == nil {
		return nil, &werrors.PermanentError{
			Err:     fmt.Errorf("node %q declares code but no code executor is configured", n.ID),
			Message: "code execution is not available",
		}
	}
	res := Resources{}
	if n.Sandbox != nil {
		res = Resources{
			TimeoutSeconds: n.Sandbox.TimeoutSeconds,
			MemoryMB:       n.Sandbox.MemoryMB,
			Network:        n.Sandbox.Network,
			Preset:         n.Sandbox.Preset,
		}
	}
	value, err := e.codeExec.Execute(ctx, n.Code, inputs, res)
	if err != nil {
		return nil, err
	}
	// Code nodes bind their single result to the first declared output.
	return &Result{Patch: map[string]any{n.Outputs[0]: value}}, nil
}

func (e *Executor) callWithRetries(ctx context.Context, n config.Node, prompt string, model *schema.OutputModel) (map[string]any, llm.Usage, error) {
	retry := e.retry
	if n.LLM != nil && n.LLM.MaxRetries > 0 {
		retry.MaxAttempts = n.LLM.MaxRetries
	}

	type attempt struct {
		output map[string]any
		usage  llm.Usage
	}

	req := &llm.Request{
		Prompt:     prompt,
		Tools:      n.Tools,
		SchemaHint: schemaHint(model),
	}
	if n.LLM != nil {
		req.Model = n.LLM.Model
		req.Temperature = n.LLM.Temperature
	}

	got, err := werrors.RetryWithResultAndLog(ctx, retry, func(ctx context.Context) (attempt, error) {
		resp, err := e.client.Generate(ctx, req)
		if err != nil {
			return attempt{}, err
		}
		output, err := model.ParseText(resp.Content)
		if err != nil {
			e.logger.Warn("Node %s: output validation failed, will retry: %v", n.ID, err)
			// Validation failures are worth another shot at the model.
			return attempt{}, &werrors.TransientError{Err: err, Message: err.Error()}
		}
		return attempt{output: output, usage: resp.Usage}, nil
	}, e.logger)
	if err != nil {
		return nil, llm.Usage{}, err
	}
	return got.output, got.usage, nil
}

// mapOutputs projects the validated output onto the node's declared output
// fields: simple schemas fill the single output, object schemas fill by name.
func mapOutputs(n config.Node, model *schema.OutputModel, output map[string]any) map[string]any {
	patch := make(map[string]any, len(n.Outputs))
	if !model.IsObject() {
		if len(n.Outputs) > 0 {
			patch[n.Outputs[0]] = output[schema.ResultKey]
		}
		return patch
	}
	for _, name := range n.Outputs {
		if v, ok := output[name]; ok {
			patch[name] = v
		}
	}
	return patch
}

// schemaHint tells the model what shape to answer in.
func schemaHint(model *schema.OutputModel) string {
	if !model.IsObject() {
		return "Respond with the value only, no prose."
	}
	return fmt.Sprintf("Respond with a JSON object containing exactly these fields: %s. No prose outside the JSON.",
		strings.Join(model.FieldNames(), ", "))
}
