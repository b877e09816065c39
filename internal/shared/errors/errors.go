package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error kinds. Remote-call failures wrap ErrStoreUnavailable;
// validation failures are rejected before any remote call is made.
var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrValidation       = errors.New("validation failed")
	ErrConflict         = errors.New("conflict")
)

// AppError represents an application error with HTTP status and error code.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new application error.
func NewAppError(code string, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// Common error constructors.

// NotFound creates a not found error.
func NotFound(resource string) *AppError {
	return &AppError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
		Err:        ErrNotFound,
	}
}

// Unauthorized creates a not-permitted error.
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "not permitted"
	}
	return &AppError{
		Code:       "UNAUTHORIZED",
		Message:    message,
		StatusCode: http.StatusForbidden,
		Err:        ErrUnauthorized,
	}
}

// AlreadyExists creates a duplicate-resource error.
func AlreadyExists(resource string) *AppError {
	return &AppError{
		Code:       "ALREADY_EXISTS",
		Message:    fmt.Sprintf("%s already exists", resource),
		StatusCode: http.StatusConflict,
		Err:        ErrAlreadyExists,
	}
}

// ValidationError creates a validation error.
func ValidationError(message string) *AppError {
	return &AppError{
		Code:       "VALIDATION_ERROR",
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Err:        ErrValidation,
	}
}

// StoreUnavailable creates a transient remote-store error.
func StoreUnavailable(err error) *AppError {
	return &AppError{
		Code:       "STORE_UNAVAILABLE",
		Message:    "remote store unavailable",
		StatusCode: http.StatusServiceUnavailable,
		Err:        fmt.Errorf("%w: %v", ErrStoreUnavailable, err),
	}
}
