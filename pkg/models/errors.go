package models

import "fmt"

// ErrorCode classifies a failure for the wire protocol.
type ErrorCode string

// Error codes.
const (
	CodeServerError  ErrorCode = "server_error"
	CodeInvalidInput ErrorCode = "invalid_input"
	CodeNotFound     ErrorCode = "not_found"
)

// Error is the wire-level error body and the terminal error recorded on
// a failed run.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds an Error with the given code.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError classifies an arbitrary error: an *Error passes through,
// anything else becomes a server_error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if acpErr, ok := err.(*Error); ok {
		return acpErr
	}
	return &Error{Code: CodeServerError, Message: err.Error()}
}
