package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/rescale/sheetjobs/internal/constants"
	"github.com/rescale/sheetjobs/internal/models"
)

// RosterUI shows one bar per job while the roster is watched. Bars are added
// as jobs appear and closed when a job reaches a terminal status.
type RosterUI struct {
	progress *mpb.Progress
	out      io.Writer
	terminal bool

	mu   sync.Mutex
	jobs map[string]*jobBar
}

type jobBar struct {
	bar      *mpb.Bar
	label    string
	status   atomic.Value // models.Status
	finished bool
}

// NewRosterUI creates a roster display on stderr.
func NewRosterUI() *RosterUI {
	terminal := IsTerminal(os.Stderr)
	if terminal {
		prepareTerminal(os.Stderr)
	}
	return newRosterUI(os.Stderr, terminal)
}

func newRosterUI(out io.Writer, terminal bool) *RosterUI {
	var p *mpb.Progress
	if terminal {
		p = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(100),
		)
	}
	return &RosterUI{
		progress: p,
		out:      out,
		terminal: terminal,
		jobs:     make(map[string]*jobBar),
	}
}

// Sync brings the bars in line with r. Jobs missing from r keep their bars.
func (u *RosterUI) Sync(r models.Roster) {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, rec := range orderedForDisplay(r) {
		jb, ok := u.jobs[rec.JobID]
		if !ok {
			jb = u.addBar(rec)
			u.jobs[rec.JobID] = jb
		}
		u.update(jb, rec)
	}
}

func (u *RosterUI) addBar(rec models.JobRecord) *jobBar {
	jb := &jobBar{label: fmt.Sprintf("%s %s", rec.JobID, filepath.Base(rec.FileName))}
	jb.status.Store(rec.Status)

	if !u.terminal {
		fmt.Fprintf(u.out, "%s: %s\n", jb.label, rec.Status)
		return jb
	}

	jb.bar = u.progress.New(100,
		mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(jb.label, decor.WCSyncSpaceR),
			decor.Any(func(decor.Statistics) string {
				return string(jb.status.Load().(models.Status))
			}, decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WCSyncSpace),
		),
		mpb.BarWidth(constants.RosterBarWidth),
	)
	return jb
}

func (u *RosterUI) update(jb *jobBar, rec models.JobRecord) {
	if jb.finished {
		return
	}
	prev := jb.status.Load().(models.Status)
	jb.status.Store(rec.Status)

	if !u.terminal {
		if rec.Status != prev {
			fmt.Fprintf(u.out, "%s: %s (%s)\n", jb.label, rec.Status, formatPercent(rec))
		}
		if rec.Status.IsTerminal() {
			jb.finished = true
		}
		return
	}

	switch rec.Status {
	case models.StatusCompleted:
		jb.bar.SetCurrent(100)
		jb.bar.SetTotal(100, true)
		jb.finished = true
		_, _ = fmt.Fprintf(u.progress, "✓ %s completed\n", jb.label)
	case models.StatusFailed:
		jb.bar.Abort(false)
		jb.finished = true
		_, _ = fmt.Fprintf(u.progress, "✗ %s failed\n", jb.label)
	default:
		jb.bar.SetCurrent(int64(rec.ProgressPercentage))
	}
}

// Close stops every open bar and waits for the display to flush.
func (u *RosterUI) Close() {
	u.mu.Lock()
	for _, jb := range u.jobs {
		if jb.bar != nil && !jb.finished {
			jb.bar.Abort(false)
			jb.finished = true
		}
	}
	u.mu.Unlock()

	if u.progress != nil {
		u.progress.Wait()
	}
}

// Writer returns a writer that prints above the bars.
func (u *RosterUI) Writer() io.Writer {
	if u.progress != nil {
		return u.progress
	}
	return u.out
}

// orderedForDisplay sorts oldest first so new jobs are appended at the bottom
func orderedForDisplay(r models.Roster) []models.JobRecord {
	out := make([]models.JobRecord, 0, len(r))
	for _, rec := range r {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].JobID < out[j].JobID
	})
	return out
}

func formatPercent(rec models.JobRecord) string {
	if rec.Total > 0 {
		return fmt.Sprintf("%.0f%%, %d of %d", rec.ProgressPercentage, rec.Processed, rec.Total)
	}
	return fmt.Sprintf("%.0f%%", rec.ProgressPercentage)
}
