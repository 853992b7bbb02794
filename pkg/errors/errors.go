package errors

import (
	"errors"
	"fmt"
)

// ErrorType defines different categories of errors
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "VALIDATION"
	ErrorTypeNotFound    ErrorType = "NOT_FOUND"
	ErrorTypeConflict    ErrorType = "CONFLICT"
	ErrorTypeCorruption  ErrorType = "CORRUPTION"
	ErrorTypeUnavailable ErrorType = "UNAVAILABLE"
	ErrorTypeInternal    ErrorType = "INTERNAL"
)

// Code narrows an ErrorType down to a specific, programmatically
// distinguishable failure. Domain validation codes never carry a wrapped
// cause; corruption codes always identify the offending event.
type Code string

const (
	CodeInvalidInput         Code = "INVALID_INPUT"
	CodeChainBroken          Code = "CHAIN_BROKEN"
	CodeHashMismatch         Code = "HASH_MISMATCH"
	CodeAggregateNotFound    Code = "AGGREGATE_NOT_FOUND"
	CodeConcurrencyConflict  Code = "CONCURRENCY_CONFLICT"
	CodeNodeLimitExceeded    Code = "NODE_LIMIT_EXCEEDED"
	CodeEdgeLimitExceeded    Code = "EDGE_LIMIT_EXCEEDED"
	CodeSelfReferencingEdge  Code = "SELF_REFERENCING_EDGE"
	CodeDuplicateEdge        Code = "DUPLICATE_EDGE"
	CodeNodeNotFound         Code = "NODE_NOT_FOUND"
	CodeAggregateExists      Code = "AGGREGATE_EXISTS"
	CodeInvalidTransition    Code = "INVALID_TRANSITION"
	CodePublishFailed        Code = "PUBLISH_FAILED"
	CodeConsumerDisconnected Code = "CONSUMER_DISCONNECTED"
	CodeSnapshotCorrupt      Code = "SNAPSHOT_CORRUPT"
)

// AppError is the custom error type for the application
type AppError struct {
	Type    ErrorType
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewValidation creates a validation error
func NewValidation(code Code, message string) error {
	return &AppError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
	}
}

// NewNotFound creates a not found error
func NewNotFound(code Code, message string) error {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Code:    code,
		Message: message,
	}
}

// NewConflict creates a conflict error
func NewConflict(code Code, message string) error {
	return &AppError{
		Type:    ErrorTypeConflict,
		Code:    code,
		Message: message,
	}
}

// NewCorruption creates a corruption error. Corruption is never retryable
// and never auto-healed; callers surface it distinctly from transient
// failures.
func NewCorruption(code Code, message string) error {
	return &AppError{
		Type:    ErrorTypeCorruption,
		Code:    code,
		Message: message,
	}
}

// NewUnavailable creates a transient infrastructure error
func NewUnavailable(code Code, message string, err error) error {
	return &AppError{
		Type:    ErrorTypeUnavailable,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewInternal creates an internal error
func NewInternal(message string, err error) error {
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Err:     err,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	// If it's already an AppError, preserve the type and code
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Type:    appErr.Type,
			Code:    appErr.Code,
			Message: fmt.Sprintf("%s: %s", message, appErr.Message),
			Err:     appErr.Err,
		}
	}

	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Err:     err,
	}
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// CodeOf returns the code carried by err, or the empty code.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == ErrorTypeValidation
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == ErrorTypeNotFound
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == ErrorTypeConflict
}

// IsCorruption checks if an error indicates chain or snapshot corruption
func IsCorruption(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == ErrorTypeCorruption
}

// IsUnavailable checks if an error is a transient infrastructure error
func IsUnavailable(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == ErrorTypeUnavailable
}

// IsInternal checks if an error is an internal error
func IsInternal(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == ErrorTypeInternal
}
