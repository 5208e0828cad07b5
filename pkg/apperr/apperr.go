// Package apperr defines the canonical error codes shared by the API client
// and the mock API, and the JSON error body the mock API writes on failures.
package apperr

import (
	"fmt"
)

// Suggestion is a per-field hint attached to validation failures.
type Suggestion struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// AppError is the error body the mock API serializes for non-200 responses.
type AppError struct {
	Code        string       `json:"code"`
	Message     string       `json:"message"`
	Suggestions []Suggestion `json:"suggestions,omitempty"`
	HTTPStatus  int          `json:"-"`
	cause       error
}

// New creates a new AppError from an ErrorCode.
func New(ec *ErrorCode) *AppError {
	if ec == nil {
		ec = ErrorCodeInternal
	}
	return &AppError{
		Code:       ec.Code(),
		Message:    ec.Message(),
		HTTPStatus: ec.HTTPStatus(),
	}
}

// Newf creates AppError with formatted message.
func Newf(ec *ErrorCode, format string, args ...interface{}) *AppError {
	a := New(ec)
	a.Message = fmt.Sprintf(format, args...)
	return a
}

// AddSuggestion appends a field suggestion (fluent)
func (a *AppError) AddSuggestion(field, message string) *AppError {
	if a == nil {
		a = New(ErrorCodeInternal)
	}
	a.Suggestions = append(a.Suggestions, Suggestion{Field: field, Message: message})
	return a
}

func (a *AppError) Error() string {
	if a == nil {
		return "<nil>"
	}
	if a.cause != nil {
		return fmt.Sprintf("%s: %v", a.Message, a.cause)
	}
	return a.Message
}

// Wrap sets the underlying cause and returns the same AppError.
func (a *AppError) Wrap(err error) *AppError {
	if a == nil {
		a = New(ErrorCodeInternal)
	}
	a.cause = err
	return a
}

// Unwrap returns the underlying cause.
func (a *AppError) Unwrap() error { return a.cause }
