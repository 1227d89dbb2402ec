// Package graph provides the property-graph store layer: connection and pool
// management, the transaction abstraction with rollback handlers and retry,
// typed node/edge operations, and schema bootstrap.
package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	appErrors "pagegraph-backend/pkg/errors"
)

// GraphOperationError is a structured failure from a typed graph operation.
type GraphOperationError struct {
	Operation string
	Details   map[string]any
	Cause     error
}

// Error implements the error interface.
func (e *GraphOperationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("graph operation %s failed: %v (details: %v)", e.Operation, e.Cause, e.Details)
	}
	return fmt.Sprintf("graph operation %s failed (details: %v)", e.Operation, e.Details)
}

// Unwrap allows errors.Is and errors.As to work.
func (e *GraphOperationError) Unwrap() error {
	return e.Cause
}

// NewOperationError creates a structured graph operation error.
func NewOperationError(operation string, details map[string]any, cause error) *GraphOperationError {
	return &GraphOperationError{Operation: operation, Details: details, Cause: cause}
}

// classifyStoreError wraps a driver error into the application taxonomy,
// marking transient failures retryable. Retryable: transient store errors,
// service-unavailable, and session-expired. Everything else is fatal.
func classifyStoreError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var appErr *appErrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || (ctx != nil && ctx.Err() == context.DeadlineExceeded) {
		return appErrors.NewStoreRetryable(appErrors.CodeQueryTimeout, "query timed out", err)
	}

	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		switch {
		case strings.HasPrefix(neoErr.Code, "Neo.TransientError"):
			return appErrors.NewStoreRetryable(neoErr.Code, "transient store error", err)
		case strings.Contains(neoErr.Code, "SessionExpired"):
			return appErrors.NewStoreRetryable(appErrors.CodeSessionExpired, "session expired", err)
		case strings.Contains(neoErr.Code, "ServiceUnavailable"),
			strings.Contains(neoErr.Code, "DatabaseUnavailable"):
			return appErrors.NewStoreRetryable(appErrors.CodeServiceUnavailable, "store unavailable", err)
		default:
			return appErrors.NewStore(appErrors.CodeQueryExecution, "query failed", err)
		}
	}

	// Driver-level connectivity failures do not always surface as Neo4jError.
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "service unavailable") || strings.Contains(msg, "connectivity") ||
		strings.Contains(msg, "connection refused") {
		return appErrors.NewStoreRetryable(appErrors.CodeServiceUnavailable, "store unreachable", err)
	}
	if strings.Contains(msg, "session expired") {
		return appErrors.NewStoreRetryable(appErrors.CodeSessionExpired, "session expired", err)
	}

	return appErrors.NewStore(appErrors.CodeQueryExecution, "query failed", err)
}

// errorCode extracts the taxonomy code used in retry histories.
func errorCode(err error) string {
	if code := appErrors.CodeOf(err); code != "" {
		return code
	}
	return "UNKNOWN"
}
