// Package errors defines the structured error taxonomy surfaced by the
// pipeline, the HTTP API and the MCP tools.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCategory classifies the type of error
type ErrorCategory string

const (
	// ClientError indicates the error was caused by the client (4xx)
	ClientError ErrorCategory = "CLIENT_ERROR"
	// ServerError indicates the error was caused by the server (5xx)
	ServerError ErrorCategory = "SERVER_ERROR"
	// ExternalError indicates the error was caused by an external dependency
	ExternalError ErrorCategory = "EXTERNAL_ERROR"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// Client errors
	CodeUploadInvalid     ErrorCode = "UPLOAD_INVALID"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeMissingParameter  ErrorCode = "MISSING_PARAMETER"
	CodeResourceNotFound  ErrorCode = "RESOURCE_NOT_FOUND"
	CodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	CodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Server errors
	CodeInternalError     ErrorCode = "INTERNAL_ERROR"
	CodePersistenceFailed ErrorCode = "PERSISTENCE_FAILED"
	CodeTimeout           ErrorCode = "TIMEOUT"

	// External errors
	CodeAPIError             ErrorCode = "API_ERROR"
	CodeExplanationTimeout   ErrorCode = "EXPLANATION_TIMEOUT"
	CodeExplanationInvalid   ErrorCode = "EXPLANATION_INVALID_OUTPUT"
	CodeGeneratorUnavailable ErrorCode = "GENERATOR_UNAVAILABLE"
	CodeNetworkError         ErrorCode = "NETWORK_ERROR"
)

// StructuredError represents a detailed error with category, code, and recovery suggestion
type StructuredError struct {
	Code       ErrorCode     `json:"code"`
	Category   ErrorCategory `json:"category"`
	Message    string        `json:"message"`
	Details    interface{}   `json:"details,omitempty"`
	Suggestion string        `json:"suggestion,omitempty"`

	cause error
}

// Error implements the error interface
func (e *StructuredError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Code, e.Category, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Category, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *StructuredError) Unwrap() error {
	return e.cause
}

// HTTPStatus maps the error code onto a response status.
func (e *StructuredError) HTTPStatus() int {
	switch e.Code {
	case CodeUploadInvalid, CodeInvalidInput, CodeMissingParameter:
		return http.StatusBadRequest
	case CodeResourceNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case CodeGeneratorUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout, CodeExplanationTimeout:
		return http.StatusGatewayTimeout
	case CodeAPIError, CodeNetworkError, CodeExplanationInvalid:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new structured error
func New(code ErrorCode, category ErrorCategory, message string) *StructuredError {
	return &StructuredError{
		Code:     code,
		Category: category,
		Message:  message,
	}
}

// WithDetails adds details to the error
func (e *StructuredError) WithDetails(details interface{}) *StructuredError {
	e.Details = details
	return e
}

// WithSuggestion adds a recovery suggestion to the error
func (e *StructuredError) WithSuggestion(suggestion string) *StructuredError {
	e.Suggestion = suggestion
	return e
}

// WithCause attaches the underlying error.
func (e *StructuredError) WithCause(err error) *StructuredError {
	e.cause = err
	return e
}

// As extracts a *StructuredError from err's chain.
func As(err error) (*StructuredError, bool) {
	var se *StructuredError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	se, ok := As(err)
	return ok && se.Code == code
}

// Common error constructors

// NewUploadError creates an error for an unreadable, binary or oversized upload.
func NewUploadError(message string) *StructuredError {
	return New(CodeUploadInvalid, ClientError, message).
		WithSuggestion("Upload a UTF-8 or Latin-1 text log file")
}

// NewInvalidInput creates an invalid input error
func NewInvalidInput(message string) *StructuredError {
	return New(CodeInvalidInput, ClientError, message).
		WithSuggestion("Check the input parameters and try again")
}

// NewMissingParameter creates a missing parameter error
func NewMissingParameter(param string) *StructuredError {
	return New(CodeMissingParameter, ClientError, fmt.Sprintf("Required parameter '%s' is missing", param)).
		WithSuggestion(fmt.Sprintf("Provide the '%s' parameter", param))
}

// NewResourceNotFound creates a resource not found error
func NewResourceNotFound(resourceType, id string) *StructuredError {
	return New(CodeResourceNotFound, ClientError, fmt.Sprintf("%s with ID '%s' not found", resourceType, id)).
		WithSuggestion("Verify the ID and try again")
}

// NewUnauthorized creates an unauthorized error
func NewUnauthorized() *StructuredError {
	return New(CodeUnauthorized, ClientError, "Authentication required or credentials invalid").
		WithSuggestion("Check your API key and try again")
}

// NewRateLimitExceeded creates a rate limit exceeded error
func NewRateLimitExceeded() *StructuredError {
	return New(CodeRateLimitExceeded, ClientError, "Rate limit exceeded").
		WithSuggestion("Wait a moment and try again")
}

// NewInternalError creates an internal server error
func NewInternalError(message string) *StructuredError {
	return New(CodeInternalError, ServerError, message).
		WithSuggestion("Try again later or contact support if the issue persists")
}

// NewPersistenceError creates an error for a failed store write or read.
func NewPersistenceError(operation string, cause error) *StructuredError {
	return New(CodePersistenceFailed, ServerError, fmt.Sprintf("Persistence failed during %s", operation)).
		WithCause(cause).
		WithSuggestion("Check the database path and disk space, then retry the analysis")
}

// NewTimeout creates a timeout error
func NewTimeout(operation string) *StructuredError {
	return New(CodeTimeout, ServerError, fmt.Sprintf("Operation '%s' timed out", operation)).
		WithSuggestion("Try again or adjust timeout settings")
}

// NewExplanationTimeout records a generator call that exceeded its budget.
func NewExplanationTimeout(attempt int) *StructuredError {
	return New(CodeExplanationTimeout, ExternalError, fmt.Sprintf("Explanation attempt %d timed out", attempt)).
		WithSuggestion("Increase SIGNALTRACE_LLM_TIMEOUT or check the generator endpoint")
}

// NewExplanationInvalid records generator output that failed validation.
func NewExplanationInvalid(attempt int, problems []string) *StructuredError {
	return New(CodeExplanationInvalid, ExternalError, fmt.Sprintf("Explanation attempt %d returned invalid output", attempt)).
		WithDetails(map[string]interface{}{
			"attempt":  attempt,
			"problems": problems,
		})
}

// NewGeneratorError wraps a failed generator call.
func NewGeneratorError(provider string, cause error) *StructuredError {
	return New(CodeGeneratorUnavailable, ExternalError, fmt.Sprintf("%s generator call failed", provider)).
		WithCause(cause).
		WithSuggestion("Check the LLM API key, base URL and model settings")
}

// NewAPIError creates an external API error
func NewAPIError(service string, statusCode int, message string) *StructuredError {
	return New(CodeAPIError, ExternalError, fmt.Sprintf("%s API error (HTTP %d): %s", service, statusCode, message)).
		WithDetails(map[string]interface{}{
			"service":     service,
			"status_code": statusCode,
		}).
		WithSuggestion("Check the generator service status")
}

// NewNetworkError creates a network error
func NewNetworkError(message string) *StructuredError {
	return New(CodeNetworkError, ExternalError, message).
		WithSuggestion("Check your network connection and try again")
}

// FromHTTPStatus creates an appropriate error from a generator HTTP status code
func FromHTTPStatus(service string, statusCode int, responseBody string) *StructuredError {
	switch {
	case statusCode == 400:
		return NewInvalidInput(responseBody)
	case statusCode == 401 || statusCode == 403:
		return NewUnauthorized()
	case statusCode == 404:
		return New(CodeResourceNotFound, ClientError, "Model or endpoint not found").
			WithSuggestion("Check SIGNALTRACE_LLM_BASE_URL and SIGNALTRACE_LLM_MODEL")
	case statusCode == 429:
		return NewRateLimitExceeded()
	case statusCode >= 500 && statusCode < 600:
		return NewAPIError(service, statusCode, responseBody)
	default:
		return New(CodeInternalError, ServerError, fmt.Sprintf("Unexpected HTTP status %d: %s", statusCode, responseBody))
	}
}
