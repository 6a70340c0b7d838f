package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error codes carried in error envelopes.
const (
	CodeBadRequest  = "ERR_BAD_REQUEST"
	CodeNotFound    = "ERR_NOT_FOUND"
	CodeRateLimited = "ERR_RATE_LIMITED"
	CodeUpstream    = "ERR_UPSTREAM"
	CodeUnavailable = "ERR_UNAVAILABLE"
	CodeTimeout     = "ERR_TIMEOUT"
	CodeInternal    = "ERR_INTERNAL"
)

// AppError is an error with an HTTP status and a stable code.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func NewAppError(code, field, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Field: field, Status: status}
}

// WithParam attaches a detail to the error body.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	e.Params[key] = value
	return e
}

// WithError records the cause; it is logged, never sent to clients.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func BadRequestError(message string) *AppError {
	return NewAppError(CodeBadRequest, "", message, http.StatusBadRequest)
}

func NotFoundError(message string) *AppError {
	return NewAppError(CodeNotFound, "", message, http.StatusNotFound)
}

func TooManyRequestsError(message string) *AppError {
	return NewAppError(CodeRateLimited, "", message, http.StatusTooManyRequests)
}

// BadGatewayError reports a failed upstream call.
func BadGatewayError(message string) *AppError {
	return NewAppError(CodeUpstream, "", message, http.StatusBadGateway)
}

func ServiceUnavailableError(message string) *AppError {
	return NewAppError(CodeUnavailable, "", message, http.StatusServiceUnavailable)
}

func GatewayTimeoutError(message string) *AppError {
	return NewAppError(CodeTimeout, "", message, http.StatusGatewayTimeout)
}

func InternalError(message string) *AppError {
	return NewAppError(CodeInternal, "", message, http.StatusInternalServerError)
}

// AsAppError returns err as an AppError. Deadline errors become 504 and
// anything unrecognised becomes a 500 that keeps err as its cause.
func AsAppError(err error) *AppError {
	var appErr *AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, context.DeadlineExceeded):
		return GatewayTimeoutError("request timed out").WithError(err)
	default:
		return InternalError("internal error").WithError(err)
	}
}
