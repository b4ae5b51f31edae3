package retry

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
)

// RecoverableError is implemented by errors that declare whether a failed
// node attempt may be retried.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable reports whether a failed attempt may be retried. Errors that
// implement RecoverableError decide for themselves. Everything else falls
// back to type and message heuristics.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var recoverable RecoverableError
	if errors.As(err, &recoverable) {
		return recoverable.IsRecoverable()
	}
	return isRecoverableByType(err)
}

func isRecoverableByType(err error) bool {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, context.Canceled):
		return false
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		if netErr.Temporary() || netErr.Timeout() {
			return true
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return isRecoverableByType(urlErr.Err)
	}

	errStr := strings.ToLower(err.Error())
	recoverablePatterns := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"rate limit",
		"service unavailable",
		"internal server error",
		"bad gateway",
		"gateway timeout",
	}
	for _, pattern := range recoverablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

type recoverableError struct {
	err error
}

func (e *recoverableError) Error() string {
	return e.err.Error()
}

func (e *recoverableError) IsRecoverable() bool {
	return true
}

func (e *recoverableError) Unwrap() error {
	return e.err
}

// NewRecoverableError marks an error as safe to retry regardless of what the
// heuristics would conclude.
func NewRecoverableError(err error) RecoverableError {
	return &recoverableError{err: err}
}

type nonRecoverableError struct {
	err error
}

func (e *nonRecoverableError) Error() string {
	return e.err.Error()
}

func (e *nonRecoverableError) IsRecoverable() bool {
	return false
}

func (e *nonRecoverableError) Unwrap() error {
	return e.err
}

// NewNonRecoverableError marks an error as permanent so no further attempts
// are made.
func NewNonRecoverableError(err error) RecoverableError {
	return &nonRecoverableError{err: err}
}
