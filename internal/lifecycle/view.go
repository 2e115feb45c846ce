package lifecycle

import (
	"time"

	"github.com/rescale/sheetjobs/internal/models"
)

// Phase is the controller's position in the upload/processing lifecycle.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSelected   Phase = "selected"
	PhaseUploading  Phase = "uploading"
	PhaseProcessing Phase = "processing"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// Busy reports whether a session is uploading or polling.
func (p Phase) Busy() bool {
	return p == PhaseUploading || p == PhaseProcessing
}

// ErrorKind classifies the error currently on display.
type ErrorKind string

const (
	ErrorNone             ErrorKind = ""
	ErrorValidation       ErrorKind = "validation"
	ErrorSubmission       ErrorKind = "submission"
	ErrorPollingTransport ErrorKind = "polling_transport"
	ErrorJobFailure       ErrorKind = "job_failure"
)

// View is a read-only snapshot of the controller for renderers.
type View struct {
	Session      uint64
	Phase        Phase
	Selection    models.Selection
	HasSelection bool

	// Job is nil until a submission succeeded in the current session
	Job *models.JobRecord

	Message     string
	ErrorKind   ErrorKind
	Err         error
	ErrorDetail string // raw detail from the service, job failures only

	// Progress is the displayed percentage; it never decreases within a session
	Progress    float64
	DownloadURL string

	StartedAt time.Time
	UpdatedAt time.Time
}

// HasError reports whether an error is on display.
func (v View) HasError() bool {
	return v.ErrorKind != ErrorNone
}
