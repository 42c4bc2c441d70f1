package common

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Pipeline error taxonomy. Callers match with errors.Is.
var (
	ErrMalformedRequest     = errors.New("malformed request")
	ErrUnreadablePDF        = errors.New("unreadable pdf")
	ErrExtractionFailed     = errors.New("extraction failed")
	ErrClassificationFailed = errors.New("classification failed")
	ErrConfiguration        = errors.New("configuration error")
	ErrNotFound             = errors.New("resource not found")
	ErrJobFailed            = errors.New("job failed")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Malformed builds a client-facing error carrying ErrMalformedRequest.
func Malformed(message string) error {
	return NewAppError("MALFORMED_REQUEST", message, ErrMalformedRequest)
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus maps an error from the pipeline onto a response status.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMalformedRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the text safe to show a client. AppError exposes only its
// message; other errors are reported by their chain.
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
