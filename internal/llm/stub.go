package llm

import (
	"context"
	"sync"

	"weave/internal/token"
)

// StubClient is a test double whose Transform function derives the reply from
// the prompt. The zero Transform echoes the prompt back.
type StubClient struct {
	Name      string
	Transform func(prompt string) string

	mu    sync.Mutex
	calls []string
}

// Generate records the prompt and returns the transformed reply.
func (s *StubClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.calls = append(s.calls, req.Prompt)
	s.mu.Unlock()

	content := req.Prompt
	if s.Transform != nil {
		content = s.Transform(req.Prompt)
	}
	promptTokens := token.Estimate(req.Prompt)
	completionTokens := token.Estimate(content)
	return &Response{
		Content: content,
		Usage: Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}

// Model returns the stub's name.
func (s *StubClient) Model() string {
	if s.Name == "" {
		return "stub"
	}
	return s.Name
}

// Calls returns the prompts seen so far.
func (s *StubClient) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// FailingClient fails a fixed number of times before delegating, for retry
// tests.
type FailingClient struct {
	Failures int
	Err      error
	Then     Client

	mu       sync.Mutex
	attempts int
}

// Generate returns Err until Failures attempts have happened.
func (f *FailingClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	f.mu.Lock()
	f.attempts++
	failing := f.attempts <= f.Failures
	f.mu.Unlock()
	if failing {
		return nil, f.Err
	}
	return f.Then.Generate(ctx, req)
}

// Model delegates to the wrapped client.
func (f *FailingClient) Model() string { return f.Then.Model() }

// Attempts reports how many calls have been made.
func (f *FailingClient) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}
