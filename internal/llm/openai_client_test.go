package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	werrors "weave/internal/errors"
)

func TestNewOpenAIClientValidatesConfig(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIConfig{Model: "m"})
	require.Error(t, err)
	_, err = NewOpenAIClient(OpenAIConfig{BaseURL: "http://x"})
	require.Error(t, err)
}

func TestGenerateParsesCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "hi"}}],
			"usage": {"prompt_tokens": 7, "completion_tokens": 2, "total_tokens": 9}
		}`))
	}))
	defer srv.Close()

	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "m"})
	require.NoError(t, err)

	resp, err := client.Generate(context.Background(), &Request{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content)
	assert.Equal(t, 9, resp.Usage.TotalTokens)
}

func TestGenerateEstimatesMissingUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "four words of text"}}]}`))
	}))
	defer srv.Close()

	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)

	resp, err := client.Generate(context.Background(), &Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Greater(t, resp.Usage.TotalTokens, 0)
}

func TestGenerateClassifiesHTTPErrors(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusUnauthorized, false},
		{http.StatusBadRequest, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte("nope"))
		}))
		client, err := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL, Model: "m"})
		require.NoError(t, err)

		_, err = client.Generate(context.Background(), &Request{Prompt: "p"})
		require.Error(t, err, "status %d", tc.status)
		var apiErr *werrors.LLMAPIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, tc.status, apiErr.StatusCode)
		assert.Equal(t, tc.retryable, apiErr.Retryable, "status %d", tc.status)
		srv.Close()
	}
}

func TestStubClientTransformsPrompt(t *testing.T) {
	stub := &StubClient{Transform: func(p string) string { return "echo " + p }}
	resp, err := stub.Generate(context.Background(), &Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "echo x", resp.Content)
	assert.Equal(t, []string{"x"}, stub.Calls())
}

func TestFailingClientFailsThenSucceeds(t *testing.T) {
	failing := &FailingClient{
		Failures: 2,
		Err:      &werrors.LLMAPIError{StatusCode: 429, Retryable: true},
		Then:     &StubClient{},
	}
	for i := 0; i < 2; i++ {
		_, err := failing.Generate(context.Background(), &Request{Prompt: "p"})
		require.Error(t, err)
	}
	resp, err := failing.Generate(context.Background(), &Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "p", resp.Content)
	assert.Equal(t, 3, failing.Attempts())
}
