package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/nimburion/bucketstore/pkg/middleware"
	"github.com/nimburion/bucketstore/pkg/query"
	"github.com/nimburion/bucketstore/pkg/repository"
)

// StatusClientClosedRequest is reported when the caller abandons a request
// before it completes.
const StatusClientClosedRequest = 499

// AppError is an error that already knows its HTTP representation.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Cause      error
}

// Error returns the error message.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// ErrorResponse represents the consistent error response format.
type ErrorResponse struct {
	Error     string                 `json:"error"`
	Code      string                 `json:"code,omitempty"`
	Message   string                 `json:"message,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// MapError maps application and storage errors to HTTP responses.
func MapError(ctx context.Context, err error) (int, ErrorResponse) {
	appErr := classify(err)
	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	message := appErr.Message
	if message == "" {
		message = "an unexpected error occurred"
	}
	return status, ErrorResponse{
		Error:     errorCategory(status),
		Code:      appErr.Code,
		Message:   message,
		RequestID: middleware.RequestIDFrom(ctx),
		Details:   appErr.Details,
	}
}

func classify(err error) *AppError {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &AppError{
			Code:       "request.too_large",
			Message:    fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			HTTPStatus: http.StatusRequestEntityTooLarge,
			Details:    map[string]interface{}{"max_size": tooLarge.Limit},
		}
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var argErr *query.ArgumentError
	if errors.As(err, &argErr) {
		details := map[string]interface{}{"param": argErr.Param}
		if argErr.IsElement() {
			details["index"] = argErr.Index
		}
		return &AppError{
			Code:       "validation.invalid_argument",
			Message:    argErr.Error(),
			HTTPStatus: http.StatusBadRequest,
			Details:    details,
		}
	}

	var lockErr *repository.OptimisticLockError
	switch {
	case errors.Is(err, query.ErrInvalidArgument):
		return &AppError{Code: "validation.invalid_argument", Message: err.Error(), HTTPStatus: http.StatusBadRequest}
	case errors.Is(err, context.DeadlineExceeded):
		return &AppError{Code: "request.timeout", Message: "the request timed out", HTTPStatus: http.StatusGatewayTimeout}
	case errors.Is(err, query.ErrOperationCancelled), errors.Is(err, context.Canceled):
		return &AppError{Code: "request.cancelled", Message: "the request was cancelled", HTTPStatus: StatusClientClosedRequest}
	case errors.Is(err, query.ErrNotFound):
		return &AppError{Code: "resource.not_found", Message: err.Error(), HTTPStatus: http.StatusNotFound}
	case errors.As(err, &lockErr):
		return &AppError{
			Code:       "resource.version_conflict",
			Message:    "the resource was modified by another request",
			HTTPStatus: http.StatusConflict,
			Details: map[string]interface{}{
				"expected_version": lockErr.Expected,
				"current_version":  lockErr.Actual,
			},
		}
	case errors.Is(err, repository.ErrEntityExists):
		return &AppError{Code: "resource.exists", Message: err.Error(), HTTPStatus: http.StatusConflict}
	case errors.Is(err, repository.ErrConflict):
		return &AppError{Code: "resource.conflict", Message: err.Error(), HTTPStatus: http.StatusConflict}
	case errors.Is(err, repository.ErrUnavailable):
		return &AppError{Code: "storage.unavailable", Message: "storage is temporarily unavailable", HTTPStatus: http.StatusServiceUnavailable}
	case errors.Is(err, repository.ErrNotTransactional):
		return &AppError{Code: "storage.not_transactional", Message: err.Error(), HTTPStatus: http.StatusNotImplemented}
	default:
		return &AppError{Code: "internal.error", Message: "an unexpected error occurred", HTTPStatus: http.StatusInternalServerError}
	}
}

// NewValidationError reports a request that decoded but is incomplete.
func NewValidationError(message string, details map[string]interface{}) *AppError {
	return &AppError{
		Code:       "validation.failed",
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
	}
}

// NewBindError reports a request body that could not be decoded.
func NewBindError(cause error) *AppError {
	return &AppError{
		Code:       "validation.malformed_body",
		Message:    "request body is not valid JSON",
		HTTPStatus: http.StatusBadRequest,
		Cause:      cause,
	}
}

func errorCategory(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation_error"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case StatusClientClosedRequest:
		return "cancelled"
	case http.StatusGatewayTimeout:
		return "timeout"
	case http.StatusRequestEntityTooLarge:
		return "request_too_large"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	default:
		if status >= 500 {
			return "internal_server_error"
		}
		return "application_error"
	}
}
