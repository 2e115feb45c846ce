// Package presenter connects the controllers to a terminal.
//
// It routes user intents to the lifecycle and roster controllers and
// re-renders the selected view whenever they publish a change. The only state
// it keeps is which view is selected.
package presenter

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rescale/sheetjobs/internal/events"
	"github.com/rescale/sheetjobs/internal/lifecycle"
	"github.com/rescale/sheetjobs/internal/logging"
	"github.com/rescale/sheetjobs/internal/models"
)

// ViewName selects what the presenter shows.
type ViewName string

const (
	ViewUpload ViewName = "upload"
	ViewJobs   ViewName = "jobs"
)

// ParseViewName accepts "upload" or "jobs", case-insensitive.
func ParseViewName(s string) (ViewName, error) {
	switch ViewName(strings.ToLower(strings.TrimSpace(s))) {
	case ViewUpload:
		return ViewUpload, nil
	case ViewJobs:
		return ViewJobs, nil
	default:
		return "", fmt.Errorf("unknown view %q: expected upload or jobs", s)
	}
}

// Session is the lifecycle controller as seen by the presenter.
type Session interface {
	SelectFile(candidate models.Selection) error
	StartProcessing(ctx context.Context) error
	Reset()
	View() lifecycle.View
}

// Roster is the roster controller as seen by the presenter.
type Roster interface {
	Activate(ctx context.Context)
	Deactivate()
	Refresh(ctx context.Context) error
	Jobs() models.Roster
	LastRefreshed() time.Time
}

// Presenter renders one view at a time to its writer.
type Presenter struct {
	session     Session
	roster      Roster
	downloadURL func(jobID string) string
	logger      *logging.Logger

	mu     sync.Mutex
	out    io.Writer
	active ViewName
}

// New creates a presenter showing the upload view. downloadURL builds the
// link shown for completed jobs in the jobs table.
func New(session Session, roster Roster, downloadURL func(jobID string) string, out io.Writer, logger *logging.Logger) *Presenter {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Presenter{
		session:     session,
		roster:      roster,
		downloadURL: downloadURL,
		logger:      logger,
		out:         out,
		active:      ViewUpload,
	}
}

// ActiveView returns the selected view.
func (p *Presenter) ActiveView() ViewName {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// SelectFile stats path and hands the candidate to the session.
func (p *Presenter) SelectFile(path string) error {
	sel, err := models.NewSelection(path)
	if err != nil {
		return err
	}
	return p.session.SelectFile(sel)
}

// Start submits the current selection.
func (p *Presenter) Start(ctx context.Context) error {
	return p.session.StartProcessing(ctx)
}

// Reset clears the session.
func (p *Presenter) Reset() {
	p.session.Reset()
}

// SwitchView selects a view. Entering the jobs view activates roster
// refresh; leaving it deactivates refresh and keeps the last roster.
func (p *Presenter) SwitchView(ctx context.Context, name ViewName) {
	p.mu.Lock()
	prev := p.active
	p.active = name
	p.mu.Unlock()

	if prev == name {
		if name == ViewJobs {
			p.roster.Activate(ctx)
		}
		p.Render()
		return
	}

	if name == ViewJobs {
		// show the retained snapshot at once, then whatever the fetch brings
		p.Render()
		p.roster.Activate(ctx)
		return
	}
	p.roster.Deactivate()
	p.Render()
}

// Refresh fetches the roster once and renders it.
func (p *Presenter) Refresh(ctx context.Context) error {
	err := p.roster.Refresh(ctx)
	if p.ActiveView() == ViewJobs {
		p.Render()
	}
	return err
}

// Render draws the selected view.
func (p *Presenter) Render() {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.active {
	case ViewJobs:
		RenderJobs(p.out, p.roster.Jobs(), p.downloadURL, p.roster.LastRefreshed())
	default:
		RenderUpload(p.out, p.session.View())
	}
}

// Run re-renders on every relevant event until ctx ends or the bus closes.
// Roster refresh failures are never shown.
func (p *Presenter) Run(ctx context.Context, bus *events.EventBus) {
	if bus == nil {
		<-ctx.Done()
		return
	}
	ch := bus.SubscribeAll()
	defer bus.UnsubscribeAll(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev.Type() {
			case events.EventSessionChanged:
				if p.ActiveView() == ViewUpload {
					p.Render()
				}
			case events.EventRosterUpdated:
				if p.ActiveView() == ViewJobs {
					p.Render()
				}
			case events.EventRosterRefreshFailed:
				if re, ok := ev.(*events.RosterEvent); ok {
					p.logger.Debug().Err(re.Err).Msg("Roster refresh failed")
				}
			}
		}
	}
}
