package llm

import (
	"context"
	"log"
	"time"

	apperrors "github.com/exedev/mcpchat/internal/errors"
)

const maxRetryBackoff = 30 * time.Second

// IsRetryableError checks if an LLM API error is worth retrying. Errors the
// client marked retryable or permanent keep that mark; others are classified
// by message (network failures, rate limits, overload, 5xx).
func IsRetryableError(err error) bool {
	return apperrors.IsRetryable(err)
}

// RetryLLMCall retries fn with exponential backoff.
// maxRetries is the number of retry attempts (not counting the initial call).
// Backoff schedule: 1s, 2s, 4s, ... capped at 30s.
// Only retries if IsRetryableError returns true for the error.
func RetryLLMCall[T any](ctx context.Context, maxRetries int, logger *log.Logger, fn func() (T, error)) (T, error) {
	var zero T
	resp, err := fn()
	if err == nil {
		return resp, nil
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		if !IsRetryableError(err) {
			return zero, err
		}

		// Check context before sleeping
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		backoff := apperrors.CalculateBackoff(time.Second, attempt, maxRetryBackoff)
		if logger != nil {
			logger.Printf("⚠ LLM call failed: %v, retrying in %v (attempt %d/%d)", err, backoff, attempt+1, maxRetries)
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return zero, ctx.Err()
		}

		resp, err = fn()
		if err == nil {
			return resp, nil
		}
	}

	return zero, err
}
