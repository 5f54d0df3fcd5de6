package errors

import (
	"fmt"
)

// Common error creators for frequent use cases

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key)
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation)
}

// NewConnectionError creates a database connection error
func NewConnectionError(path string, err error) *AppError {
	return WrapRetryable(err, ErrCodeDatabaseConnection, "database connection failed").
		WithContext("path", path)
}

// NewTransportError wraps a bus failure. Transport errors are always
// retryable: the worker reconnects and tries again.
func NewTransportError(operation, destination string, err error) *AppError {
	return WrapRetryable(err, ErrCodeTransport, fmt.Sprintf("bus %s failed", operation)).
		WithContext("operation", operation).
		WithContext("destination", destination)
}

// NewEncodingError wraps a packet construction failure for one pending row
func NewEncodingError(kind string, rowID int64, err error) *AppError {
	return Wrap(err, ErrCodeEncoding, fmt.Sprintf("%s packet encoding failed", kind)).
		WithContext("kind", kind).
		WithContext("row_id", rowID)
}

// NewCollaboratorError wraps a cache or store failure that is degraded to
// "no result" by the caller
func NewCollaboratorError(collaborator, operation string, err error) *AppError {
	return WrapRetryable(err, ErrCodeCollaboratorUnavailable, fmt.Sprintf("%s %s unavailable", collaborator, operation)).
		WithContext("collaborator", collaborator).
		WithContext("operation", operation)
}
