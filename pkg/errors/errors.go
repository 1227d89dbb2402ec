// Package errors defines the application error taxonomy shared by the
// pipeline, the keyword engine, and the graph store layer.
package errors

import (
	"errors"
	"fmt"
)

// Kind categorizes an error for propagation decisions.
type Kind string

const (
	KindValidation Kind = "VALIDATION"
	KindComponent  Kind = "COMPONENT"
	KindStage      Kind = "STAGE"
	KindTimeout    Kind = "TIMEOUT"
	KindStore      Kind = "STORE"
	KindSchema     Kind = "SCHEMA"
	KindNotFound   Kind = "NOT_FOUND"
	KindInternal   Kind = "INTERNAL"
)

// Store error codes, carried in AppError.Code for KindStore errors.
const (
	CodeQueryTimeout       = "QUERY_TIMEOUT"
	CodeQueryExecution     = "QUERY_EXECUTION"
	CodeInvalidTransaction = "INVALID_TRANSACTION"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeSessionExpired     = "SESSION_EXPIRED"
)

// AppError is the custom error type for the application.
type AppError struct {
	Kind    Kind
	Code    string // optional machine-readable code (store subkinds, component names)
	Message string
	Err     error
	// Retryable marks transient store errors eligible for the transaction
	// layer's retry policy.
	Retryable bool
}

// Error implements the error interface.
func (e *AppError) Error() string {
	switch {
	case e.Err != nil && e.Code != "":
		return fmt.Sprintf("%s(%s): %s: %v", e.Kind, e.Code, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Code != "":
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.Code, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// Unwrap allows errors.Is and errors.As to work.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Constructor functions for the error kinds.

// NewValidation creates a validation error.
func NewValidation(message string) error {
	return &AppError{Kind: KindValidation, Message: message}
}

// NewValidationf creates a validation error with a formatted message.
func NewValidationf(format string, args ...any) error {
	return &AppError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewComponent creates a component error naming the failed component.
func NewComponent(component, message string, err error) error {
	return &AppError{Kind: KindComponent, Code: component, Message: message, Err: err}
}

// NewStage creates a stage error naming the failed stage.
func NewStage(stage, message string, err error) error {
	return &AppError{Kind: KindStage, Code: stage, Message: message, Err: err}
}

// NewTimeout creates a timeout error.
func NewTimeout(message string) error {
	return &AppError{Kind: KindTimeout, Message: message, Retryable: true}
}

// NewStore creates a store error with a subkind code.
func NewStore(code, message string, err error) error {
	return &AppError{Kind: KindStore, Code: code, Message: message, Err: err}
}

// NewStoreRetryable creates a store error marked eligible for retry.
func NewStoreRetryable(code, message string, err error) error {
	return &AppError{Kind: KindStore, Code: code, Message: message, Err: err, Retryable: true}
}

// NewSchema creates a schema error; fatal at startup.
func NewSchema(message string, err error) error {
	return &AppError{Kind: KindSchema, Message: message, Err: err}
}

// NewNotFound creates a not found error.
func NewNotFound(message string) error {
	return &AppError{Kind: KindNotFound, Message: message}
}

// NewInternal creates an internal error.
func NewInternal(message string, err error) error {
	return &AppError{Kind: KindInternal, Message: message, Err: err}
}

// Wrap wraps an error with additional context, preserving its kind.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Kind:      appErr.Kind,
			Code:      appErr.Code,
			Message:   fmt.Sprintf("%s: %s", message, appErr.Message),
			Err:       appErr.Err,
			Retryable: appErr.Retryable,
		}
	}

	return &AppError{Kind: KindInternal, Message: message, Err: err}
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Kind == kind
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool { return IsKind(err, KindValidation) }

// IsComponent checks if an error is a component error.
func IsComponent(err error) bool { return IsKind(err, KindComponent) }

// IsStage checks if an error is a stage error.
func IsStage(err error) bool { return IsKind(err, KindStage) }

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool { return IsKind(err, KindTimeout) }

// IsStore checks if an error is a store error.
func IsStore(err error) bool { return IsKind(err, KindStore) }

// IsSchema checks if an error is a schema error.
func IsSchema(err error) bool { return IsKind(err, KindSchema) }

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// IsRetryable reports whether err is marked retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Retryable
}

// CodeOf returns the machine-readable code of err, or "" when absent.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
