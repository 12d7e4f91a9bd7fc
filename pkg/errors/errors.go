// Package errors defines the service-level error sentinels and maps them,
// together with the solver's outcome errors, to HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnsolvable     = errors.New("polynomial could not be solved")
	ErrNotConverged   = errors.New("solver did not converge")
	ErrInternal       = errors.New("internal error")
	ErrTimeout        = errors.New("operation timed out")
	ErrRequestAborted = errors.New("request aborted")
)

// AppError pairs a sentinel with the underlying cause so errors.Is matches
// either of them.
type AppError struct {
	Err        error
	Cause      error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Err.Error(), e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Wrap attaches cause to sentinel.
func Wrap(sentinel error, statusCode int, message string, cause error) *AppError {
	return &AppError{
		Err:        sentinel,
		Cause:      cause,
		Message:    message,
		StatusCode: statusCode,
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnsolvable), errors.Is(err, ErrNotConverged):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrRequestAborted):
		return 499
	default:
		return http.StatusInternalServerError
	}
}
