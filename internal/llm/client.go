// Package llm defines the provider-neutral client contract the node executor
// depends on, plus an OpenAI-compatible implementation and test stubs.
package llm

import (
	"context"
)

// Request asks a provider for one structured completion.
type Request struct {
	Prompt      string
	System      string
	Model       string
	Temperature float64
	Tools       []string
	// SchemaHint describes the expected output shape; providers append it to
	// the prompt so models emit parseable output.
	SchemaHint string
}

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response carries the raw model output and its usage accounting.
type Response struct {
	Content string
	Usage   Usage
}

// Client is the blocking "generate output given prompt" operation. The node
// executor is its only caller inside the engine.
type Client interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
	Model() string
}
