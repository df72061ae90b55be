package errors

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// TransientError marks an error that can be retried.
type TransientError struct {
	Err        error
	RetryAfter int // seconds to wait before retry, from a Retry-After header
	StatusCode int // HTTP status code if applicable
	Message    string
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks an error that should not be retried.
type PermanentError struct {
	Err        error
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// ConfigLoadError reports a workflow config that could not be read or parsed.
type ConfigLoadError struct {
	Path string
	Err  error
}

func (e *ConfigLoadError) Error() string {
	return fmt.Sprintf("config load %s: %v", e.Path, e.Err)
}

func (e *ConfigLoadError) Unwrap() error { return e.Err }

// ConfigValidationError reports a structurally invalid workflow config.
type ConfigValidationError struct {
	Workflow string
	Problems []string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("config validation for %q failed: %s", e.Workflow, strings.Join(e.Problems, "; "))
}

// TemplateResolutionError reports a placeholder that resolved nowhere.
type TemplateResolutionError struct {
	Name       string
	Available  []string
	Suggestion string
}

func (e *TemplateResolutionError) Error() string {
	msg := fmt.Sprintf("template variable %q not found; available: %s", e.Name, strings.Join(e.Available, ", "))
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", e.Suggestion)
	}
	return msg
}

// ControlFlowError reports a condition expression that could not be evaluated.
type ControlFlowError struct {
	Expression string
	Reason     string
}

func (e *ControlFlowError) Error() string {
	return fmt.Sprintf("condition %q: %s", e.Expression, e.Reason)
}

// OutputBuilderError reports an output schema or validation problem.
type OutputBuilderError struct {
	Model  string
	Reason string
}

func (e *OutputBuilderError) Error() string {
	return fmt.Sprintf("output model %s: %s", e.Model, e.Reason)
}

// StateInitializationError reports a state that could not be constructed.
type StateInitializationError struct {
	Field  string
	Reason string
}

func (e *StateInitializationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("state init: %s", e.Reason)
	}
	return fmt.Sprintf("state init: field %q: %s", e.Field, e.Reason)
}

// NodeExecutionError wraps any failure raised while executing a node.
type NodeExecutionError struct {
	NodeID    string
	Err       error
	Retryable bool
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %q: %v", e.NodeID, e.Err)
}

func (e *NodeExecutionError) Unwrap() error { return e.Err }

// WrapNode wraps err with node context unless it is already a node error.
func WrapNode(nodeID string, err error) error {
	if err == nil {
		return nil
	}
	var nodeErr *NodeExecutionError
	if errors.As(err, &nodeErr) {
		return err
	}
	return &NodeExecutionError{NodeID: nodeID, Err: err, Retryable: IsTransient(err)}
}

// LLMConfigError reports a provider misconfiguration (bad URL, missing key).
type LLMConfigError struct {
	Provider string
	Reason   string
}

func (e *LLMConfigError) Error() string {
	return fmt.Sprintf("llm config (%s): %s", e.Provider, e.Reason)
}

// LLMAPIError reports a provider API failure with retryability classification.
type LLMAPIError struct {
	Provider   string
	StatusCode int
	Body       string
	Retryable  bool
}

func (e *LLMAPIError) Error() string {
	return fmt.Sprintf("llm api (%s) status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// QualityGateError aggregates every failed gate under the "fail" policy.
type QualityGateError struct {
	Context  string
	Failures []string
}

func (e *QualityGateError) Error() string {
	return fmt.Sprintf("quality gates failed for %q: %s", e.Context, strings.Join(e.Failures, "; "))
}

// InvalidSignatureError reports an HMAC mismatch on a webhook request.
type InvalidSignatureError struct {
	Provider string
}

func (e *InvalidSignatureError) Error() string {
	return fmt.Sprintf("invalid webhook signature (%s)", e.Provider)
}

// ReplayAttackError reports a webhook id that has already been processed.
type ReplayAttackError struct {
	WebhookID string
}

func (e *ReplayAttackError) Error() string {
	return fmt.Sprintf("webhook %q already processed", e.WebhookID)
}

// WebhookError reports any other webhook ingress failure.
type WebhookError struct {
	Provider string
	Err      error
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook (%s): %v", e.Provider, e.Err)
}

func (e *WebhookError) Unwrap() error { return e.Err }

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return false
	}
	var apiErr *LLMAPIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	var nodeErr *NodeExecutionError
	if errors.As(err, &nodeErr) {
		return nodeErr.Retryable
	}

	if isNetworkError(err) {
		return true
	}
	return false
}

// IsPermanent reports whether err is known to be non-retryable.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return true
	}
	return !IsTransient(err)
}

// IsTransientHTTPStatus reports whether an HTTP status warrants a retry.
func IsTransientHTTPStatus(status int) bool {
	switch status {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	for _, errno := range []syscall.Errno{syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT, syscall.EPIPE} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
