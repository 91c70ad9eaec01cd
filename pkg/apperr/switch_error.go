// Package apperr defines the typed error taxonomy shared across the service.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Auth errors (OAuth lifecycle)
	CodeMissingCode      = "MISSING_CODE"
	CodeExchangeFailed   = "EXCHANGE_FAILED"
	CodeProviderError    = "PROVIDER_ERROR"
	CodeTokenUnavailable = "TOKEN_UNAVAILABLE"

	// Fetch errors (provider API)
	CodeNotConnected = "NOT_CONNECTED"
	CodeHTTPError    = "HTTP_ERROR"

	// Validation errors
	CodeBadRequest   = "BAD_REQUEST"
	CodeInvalidInput = "INVALID_INPUT"

	// Resource errors
	CodeNotFound = "NOT_FOUND"

	// Internal errors
	CodeInternalError = "INTERNAL_ERROR"
	CodeConfigError   = "CONFIG_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// HTTPStatus returns the HTTP status code
func (e *AppError) HTTPStatus() int {
	return e.Status
}

// Constructor functions
func New(code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Auth errors. These surface as connection-status messages, never as
// process failures.

// MissingCode means the OAuth callback arrived without an authorization code.
func MissingCode(provider string) *AppError {
	return &AppError{
		Code:    CodeMissingCode,
		Message: "authorization callback carried no code",
		Status:  http.StatusBadRequest,
		Details: map[string]any{"provider": provider},
	}
}

// ExchangeFailed means the token endpoint answered with a non-200 status.
func ExchangeFailed(provider string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:    CodeExchangeFailed,
		Message: fmt.Sprintf("token exchange failed with status %d", httpStatus),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"provider": provider, "upstream_status": httpStatus},
		Err:     err,
	}
}

// ProviderError means the token endpoint returned a structured OAuth error.
func ProviderError(provider, oauthCode, description string) *AppError {
	return &AppError{
		Code:    CodeProviderError,
		Message: fmt.Sprintf("provider rejected request: %s: %s", oauthCode, description),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"provider": provider, "oauth_error": oauthCode},
	}
}

// TokenUnavailable means no usable access token could be produced at all.
func TokenUnavailable(provider string, err error) *AppError {
	return &AppError{
		Code:    CodeTokenUnavailable,
		Message: "no usable access token",
		Status:  http.StatusUnauthorized,
		Details: map[string]any{"provider": provider},
		Err:     err,
	}
}

// Fetch errors. Recorded per provider and annotated onto every dependent
// switch; retried on the next scheduled tick.

// NotConnected means the connection has no refresh token and cannot fetch.
func NotConnected(provider string) *AppError {
	return &AppError{
		Code:    CodeNotConnected,
		Message: fmt.Sprintf("%s calendar is not connected", provider),
		Status:  http.StatusUnauthorized,
		Details: map[string]any{"provider": provider},
	}
}

// HTTPError means the provider event API call itself failed.
func HTTPError(provider string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:    CodeHTTPError,
		Message: fmt.Sprintf("calendar fetch failed with status %d", httpStatus),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"provider": provider, "upstream_status": httpStatus},
		Err:     err,
	}
}

// Validation errors
func BadRequest(message string) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func InvalidInput(field, reason string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: fmt.Sprintf("invalid input for '%s': %s", field, reason),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

// Resource errors
func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

// Internal errors
func Internal(message string) *AppError {
	if message == "" {
		message = "internal server error"
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func InternalWithError(err error) *AppError {
	return &AppError{
		Code:    CodeInternalError,
		Message: "internal server error",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func ConfigError(message string) *AppError {
	return &AppError{
		Code:    CodeConfigError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalWithError(err)
}

// IsCode reports whether err is an AppError carrying the given code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
