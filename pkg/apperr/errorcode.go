package apperr

import "net/http"

// Canonical codes shared by the client outcome model and the mock API.
var (
	ErrorCodeSuccess        = NewErrorCode("success", "OK", 0, http.StatusOK)
	ErrorCodeInvalidRequest = NewErrorCode("invalid_request", "Invalid request body", 10, http.StatusBadRequest)
	ErrorCodeValidationFail = NewErrorCode("validation_failed", "Validation failed", 20, http.StatusUnprocessableEntity)
	ErrorCodeUnauthorized   = NewErrorCode("unauthorized", "Unauthorized", 30, http.StatusUnauthorized)
	ErrorCodeNotFound       = NewErrorCode("not_found", "Not found", 40, http.StatusNotFound)
	ErrorCodeRequestNotOK   = NewErrorCode("request_not_ok", "Request was not accepted", 50, 0)
	ErrorCodeEncodeFailed   = NewErrorCode("encode_failed", "Request body could not be encoded", 60, 0)
	ErrorCodeDecodeFailed   = NewErrorCode("decode_failed", "Response body could not be decoded", 70, 0)
	ErrorCodeNetwork        = NewErrorCode("network_error", "Network error", 80, 0)
	ErrorCodeServer         = NewErrorCode("server_error", "Server error", 90, 0)
	ErrorCodeInvalidConfig  = NewErrorCode("invalid_config", "Invalid client configuration", 95, 0)
	ErrorCodeInternal       = NewErrorCode("internal_error", "Internal server error", 100, http.StatusInternalServerError)
)

// ErrorCode describes a canonical error code.
// It carries a numeric severity (Value) and, for server-side codes, an HTTP status.
// Client-side codes have no fixed status and report 0.
type ErrorCode struct {
	code       string
	message    string
	value      int
	httpStatus int
}

func NewErrorCode(code, message string, value, httpStatus int) *ErrorCode {
	return &ErrorCode{code: code, message: message, value: value, httpStatus: httpStatus}
}

func (ec *ErrorCode) Code() string    { return ec.code }
func (ec *ErrorCode) Message() string { return ec.message }
func (ec *ErrorCode) Value() int      { return ec.value }
func (ec *ErrorCode) HTTPStatus() int { return ec.httpStatus }
