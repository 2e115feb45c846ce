package lifecycle

import (
	"errors"
	"fmt"
)

// Validation errors. They never start or stop a session.
var (
	ErrInvalidFileType = errors.New("unsupported file type")
	ErrNoSelection     = errors.New("no file selected")
)

// ErrLostConnection ends a poll loop after the first failed status check.
var ErrLostConnection = errors.New("lost connection to server")

// ErrSuperseded is returned by StartProcessing when the session was reset or
// replaced while the upload was in flight. The upload result is discarded.
var ErrSuperseded = errors.New("session superseded")

// userMessenger is implemented by transport errors that carry text meant for the user.
type userMessenger interface {
	UserMessage() string
}

// SubmissionError reports a rejected or failed upload. The selection is kept.
type SubmissionError struct {
	FileName string
	Err      error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("failed to submit %s: %v", e.FileName, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Message is the text shown to the user, preferring the service's own wording.
func (e *SubmissionError) Message() string {
	var um userMessenger
	if errors.As(e.Err, &um) {
		return um.UserMessage()
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "Unknown error"
}

// JobFailedError reports a job the service marked as failed.
type JobFailedError struct {
	JobID  string
	Detail string // empty when the service sent no detail
}

func (e *JobFailedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("job %s failed", e.JobID)
	}
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Detail)
}

// IsValidation reports whether err was caused by a bad or missing selection.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidFileType) || errors.Is(err, ErrNoSelection)
}
