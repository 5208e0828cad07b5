package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/milan604/jsonapi-client/pkg/apperr"
)

// ClientError describes one failed exchange. It never crosses the client API
// boundary; the client builds it to log, trace and hand to callbacks.
type ClientError struct {
	Code       string
	Message    string
	StatusCode int
	Method     string
	URL        string
	cause      error
}

// Option configures a ClientError.
type Option func(*ClientError)

// WithStatusCode records the HTTP status of the response, if any.
func WithStatusCode(code int) Option { return func(ce *ClientError) { ce.StatusCode = code } }

// WithRequest records the method and URL of the failed exchange.
func WithRequest(method, url string) Option {
	return func(ce *ClientError) {
		ce.Method = method
		ce.URL = url
	}
}

// WithCause sets underlying cause.
func WithCause(err error) Option { return func(ce *ClientError) { ce.cause = err } }

// FromCode creates a ClientError from a canonical ErrorCode.
func FromCode(ec *apperr.ErrorCode, opts ...Option) *ClientError {
	if ec == nil {
		ec = apperr.ErrorCodeInternal
	}
	ce := &ClientError{
		Code:       ec.Code(),
		Message:    ec.Message(),
		StatusCode: ec.HTTPStatus(),
	}
	for _, o := range opts {
		o(ce)
	}
	return ce
}

// Unauthorized builds the error recorded for a 401 response.
func Unauthorized(opts ...Option) *ClientError {
	return FromCode(apperr.ErrorCodeUnauthorized, opts...)
}

// RequestNotOK builds the error recorded for any other non-200 response.
func RequestNotOK(status int, opts ...Option) *ClientError {
	return FromCode(apperr.ErrorCodeRequestNotOK, append([]Option{WithStatusCode(status)}, opts...)...)
}

// Network builds the error recorded when the transport could not complete.
func Network(err error, opts ...Option) *ClientError {
	return FromCode(apperr.ErrorCodeNetwork, append([]Option{WithCause(err)}, opts...)...)
}

// Server builds the error recorded for protocol-level faults.
func Server(err error, opts ...Option) *ClientError {
	return FromCode(apperr.ErrorCodeServer, append([]Option{WithCause(err)}, opts...)...)
}

// Error implements the error interface.
func (ce *ClientError) Error() string {
	if ce == nil {
		return ""
	}
	prefix := ce.Code
	if ce.Method != "" {
		prefix = fmt.Sprintf("%s %s %s", ce.Code, ce.Method, ce.URL)
	}
	if ce.StatusCode != 0 {
		prefix = fmt.Sprintf("%s (status %d)", prefix, ce.StatusCode)
	}
	if ce.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, ce.Message, ce.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, ce.Message)
}

// Reason is the detail handed to onNetworkError/onServerError: the cause's
// message, or Message when there is no cause.
func (ce *ClientError) Reason() string {
	if ce == nil {
		return ""
	}
	if ce.cause != nil {
		return ce.cause.Error()
	}
	return ce.Message
}

// Unwrap enables errors.Is/As on underlying cause.
func (ce *ClientError) Unwrap() error { return ce.cause }

// IsCode reports whether this error has the given code.
func (ce *ClientError) IsCode(code string) bool { return ce != nil && ce.Code == code }

// AsClientError extracts a *ClientError from err.
func AsClientError(err error) (*ClientError, bool) {
	var ce *ClientError
	if stdErrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
