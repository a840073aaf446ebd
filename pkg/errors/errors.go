package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents different types of errors in the system
type ErrorType string

const (
	// ErrorTypeNotFound indicates a key or resource was not found
	ErrorTypeNotFound ErrorType = "NOT_FOUND"

	// ErrorTypeValidation indicates a malformed value that must be dropped
	ErrorTypeValidation ErrorType = "VALIDATION"

	// ErrorTypeUnauthorized indicates a missing or rejected identity
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"

	// ErrorTypePermission indicates the platform refused location access
	ErrorTypePermission ErrorType = "PERMISSION"

	// ErrorTypeInternal indicates an internal error
	ErrorTypeInternal ErrorType = "INTERNAL"

	// ErrorTypeExternal indicates an error from a platform or external service
	ErrorTypeExternal ErrorType = "EXTERNAL"

	// ErrorTypeTransport indicates a network failure or a non-2xx response
	ErrorTypeTransport ErrorType = "TRANSPORT"
)

// AppError represents an application error
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	// StatusCode is the HTTP status for transport errors, zero when no response was received
	StatusCode int
}

// Error implements the error interface
func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap implements the unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: message,
	}
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeUnauthorized,
		Message: message,
	}
}

// NewPermissionError creates a new location permission error
func NewPermissionError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypePermission,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Err:     err,
	}
}

// NewExternalError creates a new external service error
func NewExternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeExternal,
		Message: message,
		Err:     err,
	}
}

// NewTransportError creates a transport error. statusCode is zero for network failures.
func NewTransportError(message string, statusCode int, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeTransport,
		Message:    message,
		Err:        err,
		StatusCode: statusCode,
	}
}

// IsType reports whether the outermost AppError in err's chain has the given type
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}

// IsNotFound reports whether err is a not found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsClientError reports whether err is a transport error carrying a 4xx status that
// retrying will not fix. 401, 408 and 429 are excluded since they clear up on their own.
func IsClientError(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Type != ErrorTypeTransport {
		return false
	}
	switch appErr.StatusCode {
	case http.StatusUnauthorized, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return appErr.StatusCode >= 400 && appErr.StatusCode < 500
}
