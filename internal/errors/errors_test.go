package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIError_Error(t *testing.T) {
	err := NewAPIError("builder", 403, "forbidden")
	assert.Contains(t, err.Error(), "builder")
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "forbidden")
}

func TestAPIError_WithWrapped(t *testing.T) {
	inner := errors.New("connection refused")
	err := &APIError{Service: "builder", StatusCode: 500, Message: "fail", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, 404, StatusOf(NewAPIError("builder", 404, "gone")))
	assert.Equal(t, 502, StatusOf(fmt.Errorf("wrapped: %w", NewAPIError("builder", 502, "bad gateway"))))
	assert.Equal(t, 0, StatusOf(errors.New("plain")))
	assert.Equal(t, 0, StatusOf(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewAPIError("builder", 429, "rate limit")))
	assert.True(t, IsRetryable(NewAPIError("builder", 502, "bad gateway")))
	assert.True(t, IsRetryable(NewAPIError("builder", 503, "unavailable")))
	assert.True(t, IsRetryable(ErrTimeout))
	assert.True(t, IsRetryable(ErrRateLimit))
	assert.True(t, IsRetryable(ErrUnavailable))

	assert.False(t, IsRetryable(NewAPIError("builder", 401, "unauth")))
	assert.False(t, IsRetryable(NewAPIError("builder", 404, "not found")))
	assert.False(t, IsRetryable(ErrAuthFailure))
	assert.False(t, IsRetryable(ErrBuildGone))
}
