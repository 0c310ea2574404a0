// Package errors defines application error types with stable codes and HTTP
// status mappings.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced to API clients.
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeInternal     = "INTERNAL_ERROR"
	CodeDatabase     = "DATABASE_ERROR"
	CodeJWT          = "JWT_ERROR"
	CodeCrypto       = "CRYPTO_ERROR"
)

// AppError is an application error with a stable code and an HTTP status.
// The Message is safe to show to clients; Err carries the internal cause and
// is logged but never serialized.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// BadRequest returns a 400 error for validation failures.
func BadRequest(msg string) *AppError {
	return &AppError{Code: CodeBadRequest, Message: msg, HTTPStatus: http.StatusBadRequest}
}

// BadRequestf returns a 400 error with a formatted message.
func BadRequestf(format string, args ...any) *AppError {
	return BadRequest(fmt.Sprintf(format, args...))
}

// Unauthorized returns a 401 error.
func Unauthorized() *AppError {
	return &AppError{Code: CodeUnauthorized, Message: "Authentication required", HTTPStatus: http.StatusUnauthorized}
}

// Forbidden returns a 403 error.
func Forbidden(msg string) *AppError {
	return &AppError{Code: CodeForbidden, Message: msg, HTTPStatus: http.StatusForbidden}
}

// NotFound returns a 404 error.
func NotFound(msg string) *AppError {
	return &AppError{Code: CodeNotFound, Message: msg, HTTPStatus: http.StatusNotFound}
}

// NotFoundf returns a 404 error with a formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return NotFound(fmt.Sprintf(format, args...))
}

// Conflict returns a 409 error for uniqueness violations.
func Conflict(msg string) *AppError {
	return &AppError{Code: CodeConflict, Message: msg, HTTPStatus: http.StatusConflict}
}

// Internal returns a 500 error. The cause is retained for logging only.
func Internal(err error) *AppError {
	return &AppError{Code: CodeInternal, Message: "An internal error occurred", HTTPStatus: http.StatusInternalServerError, Err: err}
}

// Database returns a 500 error for storage failures.
func Database(err error) *AppError {
	return &AppError{Code: CodeDatabase, Message: "Database operation failed", HTTPStatus: http.StatusInternalServerError, Err: err}
}

// JWT returns a 401 error for token signing or verification failures.
func JWT(err error) *AppError {
	return &AppError{Code: CodeJWT, Message: "Invalid or expired token", HTTPStatus: http.StatusUnauthorized, Err: err}
}

// Crypto returns a 500 error for hashing failures.
func Crypto(err error) *AppError {
	return &AppError{Code: CodeCrypto, Message: "Cryptographic operation failed", HTTPStatus: http.StatusInternalServerError, Err: err}
}

// AsAppError extracts an *AppError from err's chain, or wraps err as Internal.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// GetHTTPStatus returns the HTTP status code for an error.
func GetHTTPStatus(err error) int {
	return AsAppError(err).HTTPStatus
}

// IsNotFound reports whether err carries the NOT_FOUND code.
func IsNotFound(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == CodeNotFound
}

// IsConflict reports whether err carries the CONFLICT code.
func IsConflict(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == CodeConflict
}

// IsBadRequest reports whether err carries the BAD_REQUEST code.
func IsBadRequest(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == CodeBadRequest
}
