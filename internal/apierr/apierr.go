// Package apierr carries the client's error taxonomy across layers: a coded
// error wraps the cause so callers can branch on the class of failure
// without string matching.
package apierr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeUnknown          Code = "UNKNOWN"
	CodeTransientNetwork Code = "TRANSIENT_NETWORK"
	CodeAuthExpired      Code = "AUTH_EXPIRED"
	CodeDecryptFailed    Code = "DECRYPT_FAILED"
	CodeStaleResponse    Code = "STALE_RESPONSE"
	CodeServer           Code = "SERVER"
)

type Error struct {
	Code    Code
	Message string
	Status  int // HTTP status when one was received, 0 otherwise
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// TransientNetwork marks a dispatch that failed before a response arrived.
func TransientNetwork(cause error) error {
	return &Error{Code: CodeTransientNetwork, Message: "request did not complete", Cause: cause}
}

// AuthExpired marks a 401 that refresh could not resolve; terminal for the
// session.
func AuthExpired(message string) error {
	return &Error{Code: CodeAuthExpired, Message: message, Status: 401}
}

// DecryptFailed marks a response envelope that did not authenticate. It is
// never collapsed into an empty-but-valid body.
func DecryptFailed(cause error) error {
	return &Error{Code: CodeDecryptFailed, Message: "response could not be decrypted", Cause: cause}
}

// Server wraps a non-401 error status from the service.
func Server(status int, message string) error {
	if message == "" {
		message = fmt.Sprintf("server returned status %d", status)
	}
	return &Error{Code: CodeServer, Message: message, Status: status}
}

// CodeOf extracts the taxonomy code, or CodeUnknown for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

func IsAuthExpired(err error) bool { return CodeOf(err) == CodeAuthExpired }

func IsTransient(err error) bool { return CodeOf(err) == CodeTransientNetwork }
