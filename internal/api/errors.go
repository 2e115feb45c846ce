// Package api is the HTTP client for the spreadsheet processing service.
package api

import (
	"errors"
	"fmt"
)

// Error kinds. Every *Error carries exactly one of them.
var (
	// ErrNetwork indicates the request never produced an HTTP response (connectivity, timeout).
	ErrNetwork = errors.New("network error")

	// ErrNotFound indicates the service does not know the job id.
	ErrNotFound = errors.New("job not found")

	// ErrRejected indicates any other non-success response.
	ErrRejected = errors.New("request rejected")

	// ErrNotReady indicates a download was requested before the job completed.
	ErrNotReady = errors.New("result not ready")
)

// Error describes a failed API operation.
type Error struct {
	Op         string // "submit", "status", "list jobs", "download"
	StatusCode int    // 0 when no response was received
	Message    string // service-supplied error text, if any
	Kind       error
	Err        error // underlying transport error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %v (HTTP %d): %s", e.Op, e.Kind, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("%s: %v (HTTP %d)", e.Op, e.Kind, e.StatusCode)
	}
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// UserMessage returns the service's own error text, falling back to the cause.
func (e *Error) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.Error()
}

// IsNetworkError reports whether err is a connectivity failure.
func IsNetworkError(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// IsNotFound reports whether the service did not recognize the job id.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsNotReady reports whether a download was attempted too early.
func IsNotReady(err error) bool {
	return errors.Is(err, ErrNotReady)
}

// ServiceMessage returns the text a user should see for err: the service's
// own message when it sent one, otherwise the error string.
func ServiceMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.UserMessage()
	}
	return err.Error()
}
