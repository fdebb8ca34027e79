// Package errors provides structured error handling for quotewire
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfig represents configuration errors, fatal at registration
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeConnection represents transient connection errors; these count
	// against the circuit breaker
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeTimeout represents a caller deadline exceeded during routing
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeSchema represents vendor payloads that match no known alias;
	// these degrade quality but do not count as breaker failures
	ErrorTypeSchema ErrorType = "schema"
	// ErrorTypeCircuitOpen represents a fast-fail rejection by an open circuit
	ErrorTypeCircuitOpen ErrorType = "circuit_open"
	// ErrorTypeAllSourcesFailed means every eligible and fallback plugin failed
	ErrorTypeAllSourcesFailed ErrorType = "all_sources_failed"
	// ErrorTypeDuplicatePlugin means a plugin id is already registered
	ErrorTypeDuplicatePlugin ErrorType = "duplicate_plugin"
	// ErrorTypeNotFound represents resource not found errors
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeData represents data processing errors
	ErrorTypeData ErrorType = "data"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsRetryable reports whether a different plugin may be tried after this
// error. Connection and timeout failures are transient; schema errors are
// retryable only against a different plugin, which the router enforces.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeConnection, ErrorTypeTimeout, ErrorTypeSchema:
		return true
	default:
		return false
	}
}

// CountsAsBreakerFailure reports whether the error should increment a
// circuit breaker's consecutive-failure counter. Schema errors and
// circuit-open rejections deliberately do not.
func CountsAsBreakerFailure(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		// Unclassified errors are treated as vendor faults.
		return err != nil
	}

	switch e.Type {
	case ErrorTypeSchema, ErrorTypeCircuitOpen:
		return false
	default:
		return true
	}
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
