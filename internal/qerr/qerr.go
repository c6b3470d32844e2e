// Package qerr defines the closed set of structured errors returned by
// capture queries. Every error that leaves the query layer is a *Error with
// a stable code, a human message and optional details.
package qerr

import (
	"errors"
	"fmt"
)

// Code is a machine-stable error kind.
type Code string

const (
	InvalidArgument Code = "INVALID_ARGUMENT"
	NotFound        Code = "NOT_FOUND"
	Timeout         Code = "TIMEOUT"
	InvalidFilter   Code = "INVALID_FILTER"
	InvalidFields   Code = "INVALID_FIELDS"
	TsharkNotFound  Code = "TSHARK_NOT_FOUND"
	Internal        Code = "INTERNAL_ERROR"

	// Raised by capture path resolution.
	FileNotFound      Code = "FILE_NOT_FOUND"
	AmbiguousPcapPath Code = "AMBIGUOUS_PCAP_PATH"
)

// Error is a structured query error.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`

	cause error
}

// New creates an error without details.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithDetails creates an error carrying a details map.
func WithDetails(code Code, message string, details map[string]any) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

func (e *Error) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if the error was produced by Wrap.
func (e *Error) Unwrap() error {
	return e.cause
}

// Wrap passes *Error values through unchanged and wraps anything else as
// INTERNAL_ERROR, preserving the original message and cause.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var qe *Error
	if errors.As(err, &qe) {
		return qe
	}
	return &Error{Code: Internal, Message: err.Error(), cause: err}
}

// CodeOf returns the code of err, or "" when err is nil.
// Errors that are not *Error report INTERNAL_ERROR.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Code
	}
	return Internal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
