package presenter

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rescale/sheetjobs/internal/constants"
	"github.com/rescale/sheetjobs/internal/lifecycle"
	"github.com/rescale/sheetjobs/internal/models"
)

const (
	barWidth       = 40
	timeLayout     = "2006-01-02 15:04:05"
	fileNameColumn = 30
)

// RenderUpload writes the upload view for one session snapshot.
func RenderUpload(w io.Writer, v lifecycle.View) {
	fmt.Fprintln(w)
	if v.HasSelection {
		fmt.Fprintf(w, "File: %s (%s)\n", v.Selection.Name, models.FormatSize(v.Selection.Size))
	} else {
		fmt.Fprintln(w, "File: (none selected)")
	}
	if v.Job != nil {
		fmt.Fprintf(w, "Job:  %s\n", v.Job.JobID)
	}

	if v.Phase == lifecycle.PhaseProcessing || v.Phase == lifecycle.PhaseCompleted {
		fmt.Fprintf(w, "%s %3.0f%%", Bar(v.Progress, barWidth), v.Progress)
		if v.Job != nil && v.Job.Total > 0 {
			fmt.Fprintf(w, " (%d of %d)", v.Job.Processed, v.Job.Total)
		}
		fmt.Fprintln(w)
	}

	if v.Message != "" {
		fmt.Fprintf(w, "%s %s\n", marker(v), v.Message)
	}
	if v.ErrorDetail != "" {
		fmt.Fprintf(w, "  Detail: %s\n", v.ErrorDetail)
	}
	if v.DownloadURL != "" {
		fmt.Fprintf(w, "  Download: %s\n", v.DownloadURL)
	}
}

func marker(v lifecycle.View) string {
	switch {
	case v.HasError():
		return "✗"
	case v.Phase == lifecycle.PhaseCompleted:
		return "✓"
	case v.Phase.Busy():
		return "…"
	default:
		return "•"
	}
}

// Bar draws a fixed-width text bar for a percentage in [0, 100].
func Bar(percent float64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := int(math.Round(math.Max(0, math.Min(percent, 100)) / 100 * float64(width)))
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}

// SortJobs orders records newest first, breaking ties by job ID.
// Records without a start time sort last.
func SortJobs(r models.Roster) []models.JobRecord {
	out := make([]models.JobRecord, 0, len(r))
	for _, rec := range r {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.After(b.StartTime)
		}
		return a.JobID < b.JobID
	})
	return out
}

// RenderJobs writes the jobs table. downloadURL may be nil, in which case the
// download column is left blank.
func RenderJobs(w io.Writer, r models.Roster, downloadURL func(string) string, refreshed time.Time) {
	fmt.Fprintln(w)
	if len(r) == 0 {
		fmt.Fprintln(w, constants.MsgNoJobs)
		return
	}

	fmt.Fprintf(w, "%-12s %-30s %-19s %-12s %-20s %s\n", "JOB ID", "FILE NAME", "START TIME", "STATUS", "PROGRESS", "DOWNLOAD")
	fmt.Fprintln(w, strings.Repeat("-", 110))
	for _, rec := range SortJobs(r) {
		link := ""
		if rec.Status == models.StatusCompleted && downloadURL != nil {
			link = downloadURL(rec.JobID)
		}
		fmt.Fprintf(w, "%-12s %-30s %-19s %-12s %-20s %s\n",
			rec.JobID,
			truncate(rec.FileName, fileNameColumn),
			formatStart(rec.StartTime),
			rec.Status,
			FormatProgress(rec),
			link)
	}
	fmt.Fprintf(w, "\n%d job(s)", len(r))
	if !refreshed.IsZero() {
		fmt.Fprintf(w, ", refreshed %s", refreshed.Local().Format(timeLayout))
	}
	fmt.Fprintln(w)
}

// FormatProgress renders "NN% (X of Y)", or just "NN%" when the total is unknown.
func FormatProgress(rec models.JobRecord) string {
	if rec.Total > 0 {
		return fmt.Sprintf("%.0f%% (%d of %d)", rec.ProgressPercentage, rec.Processed, rec.Total)
	}
	return fmt.Sprintf("%.0f%%", rec.ProgressPercentage)
}

func formatStart(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
