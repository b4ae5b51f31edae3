package chronograph

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by engine operations. Callers should match these
// with errors.Is since they may arrive wrapped with additional context.
var (
	// ErrInvalidWorkflow indicates the workflow definition failed validation
	ErrInvalidWorkflow = errors.New("invalid workflow")

	// ErrAlreadyRunning indicates a run was requested while one is in progress
	ErrAlreadyRunning = errors.New("workflow is already running")

	// ErrNotRunning indicates a pause was requested with no run in progress
	ErrNotRunning = errors.New("workflow is not running")

	// ErrNodeNotFound indicates an operation referenced an unknown node id
	ErrNodeNotFound = errors.New("node not found")

	// ErrNodeNotReady indicates a manual step targeted a node whose
	// dependencies have not all resolved yet
	ErrNodeNotReady = errors.New("node is not ready to execute")

	// ErrCheckpointNotFound indicates no checkpoint matched a rewind target
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrRewindWhileRunning indicates a rewind was requested mid-execution
	ErrRewindWhileRunning = errors.New("cannot rewind while workflow is running")

	// ErrStopped indicates the engine was stopped and cannot run again
	ErrStopped = errors.New("workflow execution was stopped")

	// ErrNoStorage indicates a persistence operation was requested on an
	// engine that has no storage adapter configured
	ErrNoStorage = errors.New("no storage adapter configured")

	// ErrRunNotFound indicates storage has no snapshot for a run id
	ErrRunNotFound = errors.New("run not found")
)

// Error type constants for classification and matching
const (
	// ErrorTypeAll acts as a wildcard that matches any error except fatal errors
	ErrorTypeAll = "all"

	// ErrorTypeNodeFailed matches any error except timeouts and fatal errors
	ErrorTypeNodeFailed = "node_failed"

	// ErrorTypeTimeout matches a timeout or deadline exceeded error
	ErrorTypeTimeout = "timeout"

	// ErrorTypeFatal indicates an execution failed due to a fatal error.
	// The approach we're taking is that by default, unknown errors are
	// classified as node failed errors. This is because we want to allow
	// retries on unknown errors by default. If we know a specific error
	// should NOT be retried, it should have type=ErrorTypeFatal set.
	ErrorTypeFatal = "fatal_error"
)

// NodeError represents a structured error with classification.
// It supports Go's error wrapping patterns with Unwrap() method.
type NodeError struct {
	Type    string      `json:"type"`
	Cause   string      `json:"cause"`
	Details interface{} `json:"details,omitempty"`
	Wrapped error       `json:"-"` // Original error being wrapped
}

// Error implements the error interface
func (e *NodeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Cause)
}

// Unwrap implements the error unwrapping interface for Go's errors.Is and errors.As
func (e *NodeError) Unwrap() error {
	return e.Wrapped
}

// NewNodeError creates a new NodeError with the specified type and cause.
// The type can be any user-defined string e.g. "network-error". An executor
// that returns ErrorTypeFatal stops the engine from retrying the node.
func NewNodeError(errorType, cause string) *NodeError {
	return &NodeError{
		Type:  errorType,
		Cause: cause,
	}
}

// ClassifyError attempts to classify a regular error into a NodeError
func ClassifyError(err error) *NodeError {
	// If the error is already a NodeError, return it
	var nodeError *NodeError
	if errors.As(err, &nodeError) {
		return nodeError
	}
	// Check for timeout patterns
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return &NodeError{
			Type:    ErrorTypeTimeout,
			Cause:   err.Error(),
			Wrapped: err,
		}
	}
	// Default to a node failed error
	return &NodeError{
		Type:    ErrorTypeNodeFailed,
		Cause:   err.Error(),
		Wrapped: err,
	}
}

// MatchesErrorType checks if an error matches a specified error type pattern
func MatchesErrorType(err error, errorType string) bool {
	nErr := ClassifyError(err)
	// Fatal errors are only matched by the ErrorTypeFatal pattern
	if nErr.Type == ErrorTypeFatal {
		return errorType == ErrorTypeFatal
	}
	// Otherwise...
	switch errorType {
	case ErrorTypeAll:
		return true
	case ErrorTypeNodeFailed:
		return nErr.Type != ErrorTypeTimeout
	default:
		// Note the intent here is to handle arbitrary error type strings, not
		// just a fixed set of types.
		return nErr.Type == errorType
	}
}
