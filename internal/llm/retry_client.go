package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sophiaerrors "sophia/internal/errors"
	"sophia/internal/logging"
)

// retryClient wraps a Client with retry logic and the llm circuit breaker.
type retryClient struct {
	underlying     Client
	retryConfig    sophiaerrors.RetryConfig
	circuitBreaker *sophiaerrors.CircuitBreaker
	logger         logging.Logger
}

// NewRetryClient wraps client so that transient provider failures are retried
// with backoff, and sustained failure opens the breaker instead of hammering
// the provider.
func NewRetryClient(client Client, retryConfig sophiaerrors.RetryConfig, breaker *sophiaerrors.CircuitBreaker) Client {
	return &retryClient{
		underlying:     client,
		retryConfig:    retryConfig,
		circuitBreaker: breaker,
		logger:         logging.NewComponentLogger("llm-retry"),
	}
}

func (c *retryClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	started := time.Now()

	resp, err := sophiaerrors.RetryWithResultAndLog(ctx, c.retryConfig, func(ctx context.Context) (*CompletionResponse, error) {
		return sophiaerrors.ExecuteFunc(c.circuitBreaker, ctx, func(ctx context.Context) (*CompletionResponse, error) {
			response, callErr := c.underlying.Complete(ctx, req)
			if callErr != nil {
				return nil, classifyProviderError(callErr)
			}
			return response, nil
		})
	}, c.logger)

	if err != nil {
		duration := time.Since(started)
		c.logger.Warn("completion failed after %v: %v", duration.Round(time.Millisecond), err)
		if sophiaerrors.IsDegraded(err) {
			return nil, err
		}
		return nil, fmt.Errorf("llm completion (model %s, %v elapsed): %w",
			c.underlying.Model(), duration.Round(time.Second), err)
	}
	return resp, nil
}

func (c *retryClient) Model() string { return c.underlying.Model() }

// classifyProviderError wraps provider errors so the retry loop can decide
// whether another attempt is worthwhile.
func classifyProviderError(err error) error {
	if err == nil {
		return nil
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == 429:
			return &sophiaerrors.TransientError{Err: err, StatusCode: statusErr.StatusCode,
				Message: "provider rate limit reached; backing off"}
		case statusErr.StatusCode >= 500:
			return &sophiaerrors.TransientError{Err: err, StatusCode: statusErr.StatusCode,
				Message: fmt.Sprintf("provider server error (%d); retrying", statusErr.StatusCode)}
		case statusErr.StatusCode == 401 || statusErr.StatusCode == 403:
			return &sophiaerrors.PermanentError{Err: err, StatusCode: statusErr.StatusCode,
				Message: "provider rejected credentials; check the API key"}
		case statusErr.StatusCode == 404:
			return &sophiaerrors.PermanentError{Err: err, StatusCode: statusErr.StatusCode,
				Message: "model or endpoint not found; verify the model name"}
		default:
			return &sophiaerrors.PermanentError{Err: err, StatusCode: statusErr.StatusCode}
		}
	}

	lowerErr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerErr, "timeout"), strings.Contains(lowerErr, "deadline exceeded"):
		return sophiaerrors.NewTransientError(err, "completion timed out; retrying with backoff")
	case strings.Contains(lowerErr, "connection refused"),
		strings.Contains(lowerErr, "connection reset"),
		strings.Contains(lowerErr, "broken pipe"),
		strings.Contains(lowerErr, "no such host"):
		return sophiaerrors.NewTransientError(err, "provider unreachable; retrying")
	}
	return err
}
