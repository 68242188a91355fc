package sherpa

import (
	"errors"
	"fmt"
)

// Error codes produced by the client itself. Codes reported by the server in
// an error body are passed through verbatim.
const (
	CodeNoAuth      = "user:noAuth"
	CodeBadAuth     = "user:badAuth"
	CodeAborted     = "sherpa:aborted"
	CodeTimeout     = "sherpa:timeout"
	CodeConnection  = "sherpa:connection"
	CodeHTTP        = "sherpa:http"
	CodeBadFunction = "sherpa:badFunction"
	CodeBadResponse = "sherpa:badResponse"
	CodeBadTypes    = "sherpa:badTypes"
	CodeBadParams   = "sherpa:badParams"
	CodeBadData     = "sherpa:badData"
)

// Error is the uniform failure shape of a call.
type Error struct {
	Code    string
	Message string
	// Status is the HTTP status code for CodeHTTP errors.
	Status int
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %v", e.Message, e.Code, e.Cause)
	}
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new call error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a new call error wrapping an existing error.
func WrapError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the code of the *Error in err's chain, or "" if there is none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsAuthError reports whether err indicates a missing or rejected credential.
func IsAuthError(err error) bool {
	switch CodeOf(err) {
	case CodeNoAuth, CodeBadAuth:
		return true
	}
	return false
}

func errAborted(fn string) *Error {
	return NewError(CodeAborted, "call to "+fn+" aborted")
}

func errTimeout(fn string) *Error {
	return NewError(CodeTimeout, "call to "+fn+" timed out")
}

func errConnection(cause error) *Error {
	return WrapError(CodeConnection, "connection failed", cause)
}

func errHTTP(status int) *Error {
	return &Error{Code: CodeHTTP, Message: fmt.Sprintf("error calling function, HTTP status: %d", status), Status: status}
}

func errBadFunction(fn string) *Error {
	return NewError(CodeBadFunction, "function "+fn+" does not exist")
}

func errBadResponse(message string, cause error) *Error {
	return WrapError(CodeBadResponse, message, cause)
}

// VerifyError is raised by the verifier. Path locates the offending value,
// e.g. "params[0].Steps[2].Name".
type VerifyError struct {
	Path    string
	Message string
}

func (e *VerifyError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}
