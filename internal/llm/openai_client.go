package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	werrors "weave/internal/errors"
	"weave/internal/logging"
	"weave/internal/token"
)

// OpenAIConfig configures an OpenAI-compatible chat-completions endpoint.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// OpenAIClient talks to any /chat/completions-compatible provider.
type OpenAIClient struct {
	cfg        OpenAIConfig
	httpClient *http.Client
	logger     logging.Logger
}

// NewOpenAIClient validates the config and builds a client.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, &werrors.LLMConfigError{Provider: "openai", Reason: "base URL is required"}
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, &werrors.LLMConfigError{Provider: "openai", Reason: "model is required"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &OpenAIClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logging.NewComponentLogger("OpenAIClient"),
	}, nil
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.cfg.Model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Generate performs one blocking chat completion.
func (c *OpenAIClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, &werrors.LLMConfigError{Provider: "openai", Reason: "request cannot be nil"}
	}

	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	prompt := req.Prompt
	if req.SchemaHint != "" {
		prompt = prompt + "\n\n" + req.SchemaHint
	}

	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(chatRequest{Model: model, Messages: messages, Temperature: req.Temperature})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	c.logger.Debug("POST %s model=%s prompt_len=%d", url, model, len(prompt))
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &werrors.TransientError{Err: err, Message: fmt.Sprintf("llm request failed: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &werrors.TransientError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, mapHTTPError(resp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &werrors.LLMAPIError{Provider: "openai", StatusCode: resp.StatusCode, Body: "unparseable response body", Retryable: true}
	}
	if len(parsed.Choices) == 0 {
		return nil, &werrors.LLMAPIError{Provider: "openai", StatusCode: resp.StatusCode, Body: "no choices in response", Retryable: true}
	}

	content := parsed.Choices[0].Message.Content
	usage := parsed.Usage
	if usage.TotalTokens == 0 {
		// Some compatible servers omit usage; estimate so accounting stays
		// monotone.
		usage.PromptTokens = token.Count(prompt)
		usage.CompletionTokens = token.Count(content)
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	c.logger.Debug("completion ok: content_len=%d tokens=%d", len(content), usage.TotalTokens)
	return &Response{Content: content, Usage: usage}, nil
}

func mapHTTPError(status int, body []byte) error {
	snippet := string(body)
	if len(snippet) > 512 {
		snippet = snippet[:512]
	}
	return &werrors.LLMAPIError{
		Provider:   "openai",
		StatusCode: status,
		Body:       snippet,
		Retryable:  werrors.IsTransientHTTPStatus(status),
	}
}
