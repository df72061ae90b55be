package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	result, err := RetryWithResult(context.Background(), fastRetryConfig(), func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", &TransientError{Err: fmt.Errorf("attempt %d", attempts)}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	attempts := 0
	permanent := &PermanentError{Err: errors.New("bad request"), StatusCode: 400}
	err := Retry(context.Background(), fastRetryConfig(), func(ctx context.Context) error {
		attempts++
		return permanent
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, errors.Is(err, permanent) || err == error(permanent))
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(), func(ctx context.Context) error {
		attempts++
		return &TransientError{Err: errors.New("still down")}
	})
	require.Error(t, err)
	assert.Equal(t, 4, attempts) // initial try + 3 retries
	assert.Contains(t, err.Error(), "max retries exceeded")
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, fastRetryConfig(), func(ctx context.Context) error {
		t.Fatal("fn should not run after cancellation")
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsTransientClassification(t *testing.T) {
	assert.True(t, IsTransient(&TransientError{Err: errors.New("x")}))
	assert.False(t, IsTransient(&PermanentError{Err: errors.New("x")}))
	assert.True(t, IsTransient(&LLMAPIError{StatusCode: 429, Retryable: true}))
	assert.False(t, IsTransient(&LLMAPIError{StatusCode: 401, Retryable: false}))
	assert.True(t, IsTransient(&NodeExecutionError{NodeID: "a", Err: errors.New("x"), Retryable: true}))
	assert.False(t, IsTransient(errors.New("plain")))
	assert.False(t, IsTransient(nil))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, status := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(status), "status %d", status)
	}
	for _, status := range []int{200, 400, 401, 403, 404, 409} {
		assert.False(t, IsTransientHTTPStatus(status), "status %d", status)
	}
}

func TestWrapNodePreservesExistingNodeErrors(t *testing.T) {
	inner := &NodeExecutionError{NodeID: "a", Err: errors.New("boom")}
	wrapped := WrapNode("b", inner)
	var nodeErr *NodeExecutionError
	require.True(t, errors.As(wrapped, &nodeErr))
	assert.Equal(t, "a", nodeErr.NodeID)

	fresh := WrapNode("c", errors.New("boom"))
	require.True(t, errors.As(fresh, &nodeErr))
	assert.Equal(t, "c", nodeErr.NodeID)
}

func TestBackoffIsCapped(t *testing.T) {
	cfg := RetryConfig{BaseDelay: time.Second, MaxDelay: 2 * time.Second}
	for attempt := 0; attempt < 10; attempt++ {
		if d := calculateBackoff(attempt, cfg); d > cfg.MaxDelay {
			t.Fatalf("attempt %d: backoff %v exceeds cap %v", attempt, d, cfg.MaxDelay)
		}
	}
}
