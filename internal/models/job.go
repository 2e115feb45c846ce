// Package models defines the job data structures shared by the API client and the controllers.
package models

import (
	"time"
)

// Status is the lifecycle state of a job as reported by the processing service.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transitions can occur.
// Unknown values are treated as still running.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobRecord is a snapshot of one job's remote state.
type JobRecord struct {
	JobID              string
	FileName           string
	StartTime          time.Time
	Status             Status
	Processed          int
	Total              int
	ProgressPercentage float64
	ElapsedFormatted   string
	ErrorDetail        string // only set when Status is failed
}

// UploadResponse is the body returned by POST /upload/
type UploadResponse struct {
	JobID   string `json:"job_id"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the body returned with non-2xx responses
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is the body returned by GET /status/{job_id}.
// ProgressPercentage is a pointer because the service omits it when zero;
// absence must fall back to the processed/total ratio.
type StatusResponse struct {
	Status             Status   `json:"status"`
	Processed          int      `json:"processed"`
	Total              int      `json:"total"`
	ProgressPercentage *float64 `json:"progress_percentage,omitempty"`
	ElapsedFormatted   string   `json:"elapsed_formatted,omitempty"`
	Error              string   `json:"error,omitempty"`
	FileName           string   `json:"file_name,omitempty"`
	StartTime          string   `json:"start_time,omitempty"`
}

// RosterEntry is one value of the GET /jobs/ mapping
type RosterEntry struct {
	FileName           string   `json:"file_name"`
	StartTime          string   `json:"start_time"`
	Status             Status   `json:"status"`
	Processed          int      `json:"processed"`
	Total              int      `json:"total"`
	ProgressPercentage *float64 `json:"progress_percentage,omitempty"`
}

// Roster maps job IDs to their last fetched records.
type Roster map[string]JobRecord

// Clone returns an independent copy.
func (r Roster) Clone() Roster {
	out := make(Roster, len(r))
	for id, rec := range r {
		out[id] = rec
	}
	return out
}

// RecordFromStatus converts a status payload into a JobRecord.
// The function is pure: the same input always yields the same record.
func RecordFromStatus(jobID string, resp *StatusResponse) JobRecord {
	if resp == nil {
		return JobRecord{JobID: jobID}
	}
	rec := JobRecord{
		JobID:              jobID,
		FileName:           resp.FileName,
		StartTime:          parseStartTime(resp.StartTime),
		Status:             resp.Status,
		Processed:          resp.Processed,
		Total:              resp.Total,
		ProgressPercentage: Percentage(resp.ProgressPercentage, resp.Processed, resp.Total),
		ElapsedFormatted:   resp.ElapsedFormatted,
	}
	if resp.Status == StatusFailed {
		rec.ErrorDetail = resp.Error
	}
	return rec
}

// RecordFromRosterEntry converts one GET /jobs/ entry into a JobRecord.
func RecordFromRosterEntry(jobID string, entry RosterEntry) JobRecord {
	return JobRecord{
		JobID:              jobID,
		FileName:           entry.FileName,
		StartTime:          parseStartTime(entry.StartTime),
		Status:             entry.Status,
		Processed:          entry.Processed,
		Total:              entry.Total,
		ProgressPercentage: Percentage(entry.ProgressPercentage, entry.Processed, entry.Total),
	}
}

// Percentage returns the reported value when present, otherwise processed/total.
// The result is always within [0, 100].
func Percentage(reported *float64, processed, total int) float64 {
	if reported != nil {
		return clampPercent(*reported)
	}
	if total <= 0 {
		return 0
	}
	return clampPercent(float64(processed) / float64(total) * 100)
}

func clampPercent(p float64) float64 {
	switch {
	case p != p: // NaN
		return 0
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

func parseStartTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range startTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// startTimeLayouts covers RFC 3339 and naive ISO timestamps without a zone
var startTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}
