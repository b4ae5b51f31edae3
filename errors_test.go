package chronograph

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNodeErrorWrapping(t *testing.T) {
	// Test basic error creation
	err := NewNodeError(ErrorTypeTimeout, "operation timed out")
	require.Equal(t, "timeout: operation timed out", err.Error())
	require.Nil(t, err.Unwrap())

	// Test error wrapping
	originalErr := errors.New("network connection failed")
	wrappedErr := &NodeError{
		Type:    ErrorTypeTimeout,
		Cause:   originalErr.Error(),
		Wrapped: originalErr,
	}

	require.Equal(t, "timeout: network connection failed", wrappedErr.Error())
	require.Equal(t, originalErr, wrappedErr.Unwrap())

	// Test errors.Is
	require.True(t, errors.Is(wrappedErr, originalErr))

	// Test errors.As
	var nErr *NodeError
	require.True(t, errors.As(wrappedErr, &nErr))
	require.Equal(t, ErrorTypeTimeout, nErr.Type)
}

func TestErrorClassification(t *testing.T) {
	// Test timeout classification
	timeoutErr := context.DeadlineExceeded
	classified := ClassifyError(timeoutErr)
	require.Equal(t, ErrorTypeTimeout, classified.Type)
	require.True(t, errors.Is(classified, timeoutErr))

	// Test default classification
	genericErr := errors.New("something went wrong")
	classified = ClassifyError(genericErr)
	require.Equal(t, ErrorTypeNodeFailed, classified.Type)
	require.True(t, errors.Is(classified, genericErr))

	// Test NodeError passthrough
	originalNodeErr := NewNodeError(ErrorTypeFatal, "runtime error")
	classified = ClassifyError(originalNodeErr)
	require.Equal(t, originalNodeErr, classified)
}

func TestErrorMatching(t *testing.T) {
	timeoutErr := NewNodeError(ErrorTypeTimeout, "timeout")
	taskErr := NewNodeError(ErrorTypeNodeFailed, "task failed")
	fatalErr := NewNodeError(ErrorTypeFatal, "fatal error")
	customErr := NewNodeError("network-error", "connection refused")

	// ErrorTypeAll matches everything except fatal
	require.True(t, MatchesErrorType(timeoutErr, ErrorTypeAll))
	require.True(t, MatchesErrorType(taskErr, ErrorTypeAll))
	require.True(t, MatchesErrorType(customErr, ErrorTypeAll))
	require.False(t, MatchesErrorType(fatalErr, ErrorTypeAll))

	// ErrorTypeNodeFailed matches everything except timeouts and fatal
	require.True(t, MatchesErrorType(taskErr, ErrorTypeNodeFailed))
	require.True(t, MatchesErrorType(customErr, ErrorTypeNodeFailed))
	require.False(t, MatchesErrorType(timeoutErr, ErrorTypeNodeFailed))
	require.False(t, MatchesErrorType(fatalErr, ErrorTypeNodeFailed))

	// Exact type matching
	require.True(t, MatchesErrorType(timeoutErr, ErrorTypeTimeout))
	require.True(t, MatchesErrorType(customErr, "network-error"))
	require.False(t, MatchesErrorType(taskErr, "network-error"))

	// Fatal errors are only matched by the fatal pattern
	require.True(t, MatchesErrorType(fatalErr, ErrorTypeFatal))
}

func TestSentinelErrors(t *testing.T) {
	// Sentinels survive wrapping
	wrapped := fmt.Errorf("%w: %q has unresolved dependencies", ErrNodeNotReady, "d")
	require.True(t, errors.Is(wrapped, ErrNodeNotReady))
	require.False(t, errors.Is(wrapped, ErrNodeNotFound))
}
