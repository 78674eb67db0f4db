package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrBatchNotFound    = errors.New("batch not found")
	ErrDuplicateEvent   = errors.New("duplicate event")
	ErrInvalidStatus    = errors.New("invalid batch status")
	ErrQueueNotFound    = errors.New("queue not found")
	ErrNoMetrics        = errors.New("no metrics found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
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

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrBatchNotFound), errors.Is(err, ErrQueueNotFound), errors.Is(err, ErrNoMetrics):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateEvent):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
