// Package errors provides the typed error taxonomy carried in RPC responses.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// Error codes carried on the wire.
const (
	CodeInvalidParam       = "INVALID_PARAM"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodePrecondition       = "PRECONDITION"
	CodeRuntimeUnavailable = "RUNTIME_UNAVAILABLE"
	CodeExternal           = "EXTERNAL"
	CodeCancelled          = "CANCELLED"
	CodeTimeout            = "TIMEOUT"
	CodeInternal           = "INTERNAL"
)

// AppError represents an application error with a wire code and a single
// short human-readable message. Clients format Message verbatim.
type AppError struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	HTTPStatus    int    `json:"-"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Err           error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// InvalidParam reports a missing or out-of-enum argument.
func InvalidParam(message string) *AppError {
	return &AppError{Code: CodeInvalidParam, Message: message, HTTPStatus: http.StatusBadRequest}
}

// InvalidField reports a validation failure on a named field.
func InvalidField(field, message string) *AppError {
	return &AppError{
		Code:       CodeInvalidParam,
		Message:    fmt.Sprintf("invalid field '%s': %s", field, message),
		HTTPStatus: http.StatusBadRequest,
	}
}

// NotFound reports an unknown entity id.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// Conflict reports a uniqueness violation, dependency cycle, or an
// already-running task.
func Conflict(message string) *AppError {
	return &AppError{Code: CodeConflict, Message: message, HTTPStatus: http.StatusConflict}
}

// Precondition reports required state that is absent.
func Precondition(message string) *AppError {
	return &AppError{Code: CodePrecondition, Message: message, HTTPStatus: http.StatusPreconditionFailed}
}

// RuntimeUnavailable reports an unreachable host or missing multiplexer.
func RuntimeUnavailable(message string, err error) *AppError {
	return &AppError{Code: CodeRuntimeUnavailable, Message: message, HTTPStatus: http.StatusBadGateway, Err: err}
}

// External reports a third-party CLI failure.
func External(message string, err error) *AppError {
	return &AppError{Code: CodeExternal, Message: message, HTTPStatus: http.StatusBadGateway, Err: err}
}

// Cancelled reports a client disconnect or explicit cancel.
func Cancelled(message string) *AppError {
	return &AppError{Code: CodeCancelled, Message: message, HTTPStatus: 499}
}

// Timeout reports a bounded operation that exceeded its budget.
func Timeout(message string) *AppError {
	return &AppError{Code: CodeTimeout, Message: message, HTTPStatus: http.StatusGatewayTimeout}
}

// Internal wraps anything else with a fresh correlation id.
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:          CodeInternal,
		Message:       message,
		HTTPStatus:    http.StatusInternalServerError,
		CorrelationID: uuid.New().String(),
		Err:           err,
	}
}

// Wrap wraps an existing error with additional context, preserving the code
// and status of an existing AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:          appErr.Code,
			Message:       fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus:    appErr.HTTPStatus,
			CorrelationID: appErr.CorrelationID,
			Err:           err,
		}
	}
	return Internal(message, err)
}

// CodeOf returns the wire code for an error, defaulting to INTERNAL.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// MessageOf returns the human-readable message for an error.
func MessageOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// IsNotFound checks if the error carries the NOT_FOUND code.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsConflict checks if the error carries the CONFLICT code.
func IsConflict(err error) bool {
	return CodeOf(err) == CodeConflict
}

// IsRuntimeUnavailable checks if the error carries the RUNTIME_UNAVAILABLE code.
func IsRuntimeUnavailable(err error) bool {
	return CodeOf(err) == CodeRuntimeUnavailable
}

// GetHTTPStatus returns the HTTP status for an error, defaulting to 500.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
