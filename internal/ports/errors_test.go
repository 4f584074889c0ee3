package ports

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestPublishError tests the functionality of the PublishError error type.
// It covers error creation, message formatting, and retryable logic.
func TestPublishError(t *testing.T) {
	t.Run("basic error", func(t *testing.T) {
		err := NewPublishError("grader.jobs.abc.done", ErrNotConnected)

		assert.Equal(t, "publish error: subject=grader.jobs.abc.done, err=not connected", err.Error())
		assert.Equal(t, "grader.jobs.abc.done", err.Subject)
		assert.True(t, errors.Is(err, ErrNotConnected))
	})

	t.Run("with retry after", func(t *testing.T) {
		retryAfter := 30 * time.Second
		err := &PublishError{
			Subject:    "grader.jobs.abc.observed",
			Err:        ErrServiceUnavailable,
			RetryAfter: &retryAfter,
		}

		assert.Contains(t, err.Error(), "retry_after=30s")
	})

	t.Run("retryable errors", func(t *testing.T) {
		retryableErrors := []error{
			ErrServiceUnavailable,
			ErrTimeout,
			ErrNotConnected,
		}

		for _, baseErr := range retryableErrors {
			err := NewPublishError("s", baseErr)
			assert.True(t, err.IsRetryable(), "%v should be retryable", baseErr)
		}

		nonRetryableErrors := []error{
			errors.New("maximum payload exceeded"),
			errors.New("payload rejected"),
		}

		for _, baseErr := range nonRetryableErrors {
			err := NewPublishError("s", baseErr)
			assert.False(t, err.IsRetryable(), "%v should not be retryable", baseErr)
		}
	})
}

// TestCacheError tests the functionality of the CacheError error type.
// It verifies that the error message is formatted correctly and contains the expected context.
func TestCacheError(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		operation string
		err       error
		wantMsg   string
	}{
		{
			name:      "cache miss",
			key:       "curve:abc:rhythm",
			operation: "GetOrCompute",
			err:       errors.New("key not found"),
			wantMsg:   "cache error: operation=GetOrCompute, key=curve:abc:rhythm, err=key not found",
		},
		{
			name:      "compute timeout",
			key:       "range:def",
			operation: "compute",
			err:       ErrTimeout,
			wantMsg:   "cache error: operation=compute, key=range:def, err=operation timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewCacheError(tt.key, tt.operation, tt.err)

			assert.Equal(t, tt.wantMsg, err.Error())
			assert.Equal(t, tt.key, err.Key)
			assert.Equal(t, tt.operation, err.Operation)
			assert.True(t, errors.Is(err, tt.err))
		})
	}
}

// TestCommonInfrastructureErrors tests that the common infrastructure errors are defined.
// It checks that each error has the expected error message.
func TestCommonInfrastructureErrors(t *testing.T) {
	tests := []struct {
		err     error
		message string
	}{
		{ErrServiceUnavailable, "service unavailable"},
		{ErrTimeout, "operation timed out"},
		{ErrNotConnected, "not connected"},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.message, tt.err.Error())
		})
	}
}

// TestErrorUnwrapping tests that all custom error types in the package support unwrapping.
// It ensures that the underlying error can be extracted correctly using errors.Is and Unwrap.
func TestErrorUnwrapping(t *testing.T) {
	baseErr := errors.New("underlying error")

	errorList := []interface {
		error
		Unwrap() error
	}{
		NewPublishError("subject", baseErr),
		NewCacheError("key", "op", baseErr),
	}

	for _, err := range errorList {
		unwrapped := err.Unwrap()
		assert.Equal(t, baseErr, unwrapped, "%T should unwrap to base error", err)
		assert.True(t, errors.Is(err, baseErr), "%T should match base error with Is", err)
	}
}
