package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired ErrorCode = "TOKEN_EXPIRED"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Pairing registry
	ErrCodeCodeNotFound ErrorCode = "CODE_NOT_FOUND"
	ErrCodeCodeExpired  ErrorCode = "CODE_EXPIRED"
	ErrCodeSlotOccupied ErrorCode = "SLOT_OCCUPIED"

	// Connection lifecycle
	ErrCodeIdentificationTimeout ErrorCode = "IDENTIFICATION_TIMEOUT"
	ErrCodeIdleTimeout           ErrorCode = "IDLE_TIMEOUT"
	ErrCodeAuthExpired           ErrorCode = "AUTH_EXPIRED"
	ErrCodeMalformedMessage      ErrorCode = "MALFORMED_MESSAGE"
	ErrCodeConnectionClosed      ErrorCode = "CONNECTION_CLOSED"

	// Rate limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func InvalidToken(message string) *AppError {
	return New(ErrCodeInvalidToken, message)
}

func TokenExpired() *AppError {
	return New(ErrCodeTokenExpired, "Token has expired")
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func CodeNotFound(code string) *AppError {
	return New(ErrCodeCodeNotFound, fmt.Sprintf("Pairing code %s not found", code))
}

func CodeExpired(code string) *AppError {
	return New(ErrCodeCodeExpired, fmt.Sprintf("Pairing code %s has expired", code))
}

func SlotOccupied(deviceType string) *AppError {
	return New(ErrCodeSlotOccupied, fmt.Sprintf("The %s slot is already bound to a live connection", deviceType))
}

func IdentificationTimeout() *AppError {
	return New(ErrCodeIdentificationTimeout, "Connection did not identify before the deadline")
}

func IdleTimeout() *AppError {
	return New(ErrCodeIdleTimeout, "Connection exceeded the idle window")
}

func AuthExpired() *AppError {
	return New(ErrCodeAuthExpired, "Authentication expired; re-authentication required")
}

func MalformedMessage(reason string) *AppError {
	return New(ErrCodeMalformedMessage, fmt.Sprintf("Malformed message: %s", reason))
}

func ConnectionClosed() *AppError {
	return New(ErrCodeConnectionClosed, "Connection is closed")
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}
