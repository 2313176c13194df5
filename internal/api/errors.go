package api

import (
	"errors"
	"net/http"

	"humansign/internal/seal"
	"humansign/internal/session"
	"humansign/internal/store"
)

// APIError is the error body every endpoint returns.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Details    any    `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// WithMessage returns a copy of the error with a custom message.
func (e *APIError) WithMessage(message string) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    message,
		StatusCode: e.StatusCode,
		Details:    e.Details,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *APIError) WithDetails(details any) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Details:    details,
	}
}

// Standard error definitions
var (
	ErrBadRequest = &APIError{
		Code:       "bad_request",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrNotFound = &APIError{
		Code:       "not_found",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrRateLimited = &APIError{
		Code:       "rate_limited",
		Message:    "Rate limit exceeded",
		StatusCode: http.StatusTooManyRequests,
	}

	ErrConflict = &APIError{
		Code:       "conflict",
		Message:    "Request conflicts with the session state",
		StatusCode: http.StatusConflict,
	}

	ErrTooLarge = &APIError{
		Code:       "payload_too_large",
		Message:    "File exceeds maximum size",
		StatusCode: http.StatusRequestEntityTooLarge,
	}

	ErrUnsupportedMedia = &APIError{
		Code:       "unsupported_media_type",
		Message:    "Unsupported file type",
		StatusCode: http.StatusUnsupportedMediaType,
	}

	ErrInternal = &APIError{
		Code:       "internal_error",
		Message:    "An internal error occurred",
		StatusCode: http.StatusInternalServerError,
	}
)

// NewValidationError creates a 400 error for a single bad field.
func NewValidationError(field, message string) *APIError {
	return &APIError{
		Code:       "validation_error",
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Details:    map[string]string{"field": field},
	}
}

// AsAPIError maps domain errors onto HTTP errors. Unknown errors become
// ErrInternal so internals never leak to clients.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return ErrTooLarge
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		return ErrNotFound.WithMessage("Session not found")
	case errors.Is(err, session.ErrSessionEnded):
		return ErrConflict.WithMessage("Session has ended")
	case errors.Is(err, seal.ErrEmptyChain):
		return ErrConflict.WithMessage("No keystrokes recorded since the last seal")
	default:
		return ErrInternal
	}
}
