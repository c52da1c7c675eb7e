package models

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeValidation represents malformed events or requests (400)
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeAuthentication represents API key failures (401)
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeAuthorization represents missing scopes (403)
	ErrorTypeAuthorization ErrorType = "authorization"
	// ErrorTypeNotFound represents resource not found errors (404)
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeRateLimit represents rate limiting errors (429)
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeTransport represents collector delivery failures
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypeTimeout represents timeout errors (504)
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInternal represents internal server errors (500)
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeCircuitBreaker represents circuit breaker errors (503)
	ErrorTypeCircuitBreaker ErrorType = "circuit_breaker"
)

// Error codes shared by the SDK and the collector.
const (
	CodeInvalidKeyFormat  = "INVALID_KEY_FORMAT"
	CodeInvalidKey        = "INVALID_KEY"
	CodeKeyRevoked        = "KEY_REVOKED"
	CodeKeyExpired        = "KEY_EXPIRED"
	CodeInsufficientScope = "INSUFFICIENT_SCOPE"
	CodeMissingAuth       = "MISSING_AUTH"
	CodeInvalidAPIKey     = "INVALID_API_KEY"
	CodeInvalidToken      = "INVALID_TOKEN"

	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeValidation        = "VALIDATION_ERROR"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeBatchTooLarge     = "BATCH_TOO_LARGE"
	CodeEmptyBatch        = "EMPTY_BATCH"
	CodeIngestion         = "INGESTION_ERROR"

	CodeTimeout         = "TIMEOUT"
	CodeNetwork         = "NETWORK_ERROR"
	CodeTelemetryFailed = "TELEMETRY_FAILED"
	CodeCircuitOpen     = "CIRCUIT_BREAKER_OPEN"
	CodeInternal        = "INTERNAL_ERROR"
	CodeNotFound        = "NOT_FOUND"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Code       string    `json:"code,omitzero"`
	StatusCode int       `json:"-"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap allows error unwrapping
func (e *AppError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns whether the error is retryable
func (e *AppError) IsRetryable() bool {
	return e.Retryable
}

// GetStatusCode returns the HTTP status code for the error
func (e *AppError) GetStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeAuthorization:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeTransport:
		return http.StatusBadGateway
	case ErrorTypeCircuitBreaker:
		return http.StatusServiceUnavailable
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryable reports whether err should be retried. Errors that are not
// AppErrors are treated as retryable transport failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return true
}

// ErrorCode returns the code of the first AppError in err's chain.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// NewValidationError creates a validation error
func NewValidationError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		Code:       CodeValidation,
		StatusCode: http.StatusBadRequest,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewRequestError creates a 400 with a specific code
func NewRequestError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		Code:       code,
		StatusCode: http.StatusBadRequest,
	}
}

// NewAuthError creates a terminal authentication error
func NewAuthError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		Code:       code,
		StatusCode: http.StatusUnauthorized,
		Retryable:  false,
	}
}

// NewScopeError creates an insufficient scope error
func NewScopeError(missing []string) *AppError {
	return &AppError{
		Type:       ErrorTypeAuthorization,
		Message:    "API key missing required scopes: " + strings.Join(missing, ", "),
		Code:       CodeInsufficientScope,
		StatusCode: http.StatusForbidden,
		Retryable:  false,
	}
}

// NewTransportError creates a collector delivery error
func NewTransportError(code, message string, status int, retryable bool, cause error) *AppError {
	if code == "" {
		code = CodeTelemetryFailed
	}
	return &AppError{
		Type:       ErrorTypeTransport,
		Message:    message,
		Code:       code,
		StatusCode: status,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// NewNetworkError creates a retryable network failure
func NewNetworkError(cause error) *AppError {
	return &AppError{
		Type:      ErrorTypeTransport,
		Message:   "network error",
		Code:      CodeNetwork,
		Retryable: true,
		Cause:     cause,
	}
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(operation string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeTimeout,
		Message:    fmt.Sprintf("operation %s timed out", operation),
		Code:       CodeTimeout,
		StatusCode: http.StatusGatewayTimeout,
		Retryable:  true,
		Cause:      cause,
	}
}

// NewCircuitBreakerError creates a circuit breaker error
func NewCircuitBreakerError(service string) *AppError {
	return &AppError{
		Type:       ErrorTypeCircuitBreaker,
		Message:    fmt.Sprintf("service %s is currently unavailable (circuit breaker open)", service),
		Code:       CodeCircuitOpen,
		StatusCode: http.StatusServiceUnavailable,
		Retryable:  true,
	}
}

// NewRateLimitError creates a rate limit error for the named window
func NewRateLimitError(window string) *AppError {
	return &AppError{
		Type:       ErrorTypeRateLimit,
		Message:    fmt.Sprintf("rate limit exceeded (%s)", window),
		Code:       CodeRateLimitExceeded,
		StatusCode: http.StatusTooManyRequests,
		Retryable:  true,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(what string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Message:    fmt.Sprintf("%s not found", what),
		Code:       CodeNotFound,
		StatusCode: http.StatusNotFound,
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		Code:       CodeInternal,
		StatusCode: http.StatusInternalServerError,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewSDKError creates a client-side configuration error
func NewSDKError(code, message string) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: message,
		Code:    code,
	}
}

// SanitizeError sanitizes an error for external consumption
func SanitizeError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Type:       appErr.Type,
			Message:    appErr.Message,
			Code:       appErr.Code,
			StatusCode: appErr.GetStatusCode(),
			Retryable:  appErr.Retryable,
		}
	}

	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    "an unexpected error occurred",
		Code:       CodeInternal,
		StatusCode: http.StatusInternalServerError,
	}
}
