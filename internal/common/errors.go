package common

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is a stable tag surfaced to API clients alongside the message.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"    // DAG or request failed schema/semantic checks
	KindAuth         ErrorKind = "auth"          // Missing/invalid credentials, insufficient role
	KindNotFound     ErrorKind = "not_found"     // Referenced resource does not exist
	KindConflict     ErrorKind = "conflict"      // Invariant violation (e.g., duplicate frozen artifact)
	KindLLMExhausted ErrorKind = "llm_exhausted" // All planner providers failed
	KindTransient    ErrorKind = "transient"     // Broker/db hiccup, retryable
	KindTaskTimeout  ErrorKind = "task_timeout"  // Worker heartbeat expired
	KindInternal     ErrorKind = "internal"      // Unexpected
)

// Error carries a kind tag through the call stack so the API boundary can
// translate it to an HTTP status without string matching.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a tagged error.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps an underlying error with a kind tag.
func WrapError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind tag of an error, or KindInternal when untagged.
func KindOf(err error) ErrorKind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error kind to its response status code.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindLLMExhausted, KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryable reports whether a task-level error should trigger an automatic
// retry with backoff.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindTaskTimeout:
		return true
	default:
		return false
	}
}
