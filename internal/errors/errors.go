// Package errors provides the structured error type used across medlearn-core.
package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorType classifies an AppError for HTTP status mapping and safe messaging.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeDatabase   ErrorType = "database"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeRateLimit  ErrorType = "rate_limit"

	// ErrorTypeSupply covers "not enough questions" style shortages in the
	// selection/session pipeline.
	ErrorTypeSupply ErrorType = "supply"
	// ErrorTypeIntegrity covers invariant violations such as non-finite
	// ratings or out-of-range probabilities surfacing from the knowledge store.
	ErrorTypeIntegrity ErrorType = "integrity"
)

var statusByType = map[ErrorType]int{
	ErrorTypeValidation: http.StatusBadRequest,
	ErrorTypeAuth:       http.StatusUnauthorized,
	ErrorTypeNotFound:   http.StatusNotFound,
	ErrorTypeConflict:   http.StatusConflict,
	ErrorTypeTimeout:    http.StatusRequestTimeout,
	ErrorTypeRateLimit:  http.StatusTooManyRequests,
	ErrorTypeDatabase:   http.StatusInternalServerError,
	ErrorTypeNetwork:    http.StatusInternalServerError,
	ErrorTypeInternal:   http.StatusInternalServerError,
	ErrorTypeSupply:     http.StatusUnprocessableEntity,
	ErrorTypeIntegrity:  http.StatusInternalServerError,
}

// AppError is the structured error carried across service boundaries.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	StatusCode int
	Cause      error
}

func New(errType ErrorType, message string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		StatusCode: statusByType[errType],
	}
}

func Wrap(cause error, errType ErrorType, message string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		StatusCode: statusByType[errType],
		Cause:      cause,
	}
}

func Wrapf(cause error, errType ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, errType, fmt.Sprintf(format, args...))
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails mutates e in place and returns it for chaining.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

func NewDatabaseError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeDatabase, "database operation failed: %s", operation)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

func NewAuthError(message string) *AppError {
	return New(ErrorTypeAuth, message)
}

func NewTimeoutError(operation string) *AppError {
	return New(ErrorTypeTimeout, fmt.Sprintf("operation timed out: %s", operation))
}

func NewConflictError(message string) *AppError {
	return New(ErrorTypeConflict, message)
}

func NewSupplyError(message string) *AppError {
	return New(ErrorTypeSupply, message)
}

func NewIntegrityError(message string) *AppError {
	return New(ErrorTypeIntegrity, message)
}

func IsType(err error, errType ErrorType) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Type == errType
}

func GetType(err error) ErrorType {
	appErr, ok := err.(*AppError)
	if !ok {
		return ErrorTypeInternal
	}
	return appErr.Type
}

func GetStatusCode(err error) int {
	appErr, ok := err.(*AppError)
	if !ok {
		return http.StatusInternalServerError
	}
	return appErr.StatusCode
}

// ErrorMessages holds the safe, user-facing strings for error types whose
// internal details must never reach a client response.
var ErrorMessages = struct {
	ResourceNotFound        string
	AuthenticationFailed    string
	OperationTimeout        string
	RateLimitExceeded       string
	ConcurrentModification string
}{
	ResourceNotFound:        "The requested resource was not found",
	AuthenticationFailed:    "Authentication failed",
	OperationTimeout:        "The operation timed out",
	RateLimitExceeded:       "Rate limit exceeded, please try again later",
	ConcurrentModification: "The resource was modified concurrently, please retry",
}

// SafeErrorMessage returns a message that is safe to return to a client,
// never leaking internal details for types other than validation errors.
func SafeErrorMessage(err error) string {
	appErr, ok := err.(*AppError)
	if !ok {
		return "An unexpected error occurred"
	}

	switch appErr.Type {
	case ErrorTypeValidation:
		return appErr.Message
	case ErrorTypeNotFound:
		return ErrorMessages.ResourceNotFound
	case ErrorTypeAuth:
		return ErrorMessages.AuthenticationFailed
	case ErrorTypeTimeout:
		return ErrorMessages.OperationTimeout
	case ErrorTypeRateLimit:
		return ErrorMessages.RateLimitExceeded
	case ErrorTypeConflict:
		return ErrorMessages.ConcurrentModification
	case ErrorTypeSupply:
		return appErr.Message
	default:
		return "An internal error occurred"
	}
}

// LogFields returns a structured field map suitable for a logr/zap sink.
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{
		"error": err.Error(),
	}

	appErr, ok := err.(*AppError)
	if !ok {
		return fields
	}

	fields["error_type"] = string(appErr.Type)
	fields["status_code"] = appErr.StatusCode
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	return fields
}

// Chain joins non-nil errors into a single error using " -> " as separator,
// preserving the original error when only one is present.
func Chain(errs ...error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		parts := make([]string, 0, len(nonNil))
		for _, e := range nonNil {
			parts = append(parts, e.Error())
		}
		return fmt.Errorf("%s", strings.Join(parts, " -> "))
	}
}

// ProblemDetail is an RFC 7807 "Problem Details for HTTP APIs" payload.
type ProblemDetail struct {
	Type       string                 `json:"type"`
	Title      string                 `json:"title"`
	Status     int                    `json:"status"`
	Detail     string                 `json:"detail,omitempty"`
	Instance   string                 `json:"instance,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// ToRFC7807 renders the error as a Problem Details payload. instance is
// typically the request path that produced the error.
func ToRFC7807(err *AppError, instance string) ProblemDetail {
	pd := ProblemDetail{
		Type:     fmt.Sprintf("https://medlearn.dev/errors/%s", err.Type),
		Title:    string(err.Type),
		Status:   err.StatusCode,
		Detail:   SafeErrorMessage(err),
		Instance: instance,
	}
	if err.Details != "" {
		pd.Extensions = map[string]interface{}{"details": err.Details}
	}
	return pd
}
