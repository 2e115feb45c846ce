// Package lifecycle drives one upload from selection through submission and
// status polling to a terminal state.
//
// All state lives behind the controller's mutex. Network calls run with the
// mutex released; each result is applied only if the session id it was issued
// under is still the live one, so a reset or a new session can never be
// overwritten by a late response from an earlier one.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rescale/sheetjobs/internal/constants"
	"github.com/rescale/sheetjobs/internal/events"
	"github.com/rescale/sheetjobs/internal/logging"
	"github.com/rescale/sheetjobs/internal/models"
	"github.com/rescale/sheetjobs/internal/schedule"
)

// Transport is the part of the API client the controller needs.
type Transport interface {
	SubmitFile(ctx context.Context, sel models.Selection) (string, error)
	GetStatus(ctx context.Context, jobID string) (*models.StatusResponse, error)
	DownloadURL(jobID string) string
}

// Options configures a Controller. Zero values select defaults.
type Options struct {
	PollInterval time.Duration
	Scheduler    schedule.Scheduler
	Bus          *events.EventBus
	Logger       *logging.Logger
	Now          func() time.Time
}

// session is the state of one submission attempt.
type session struct {
	id    uint64
	jobID string
	poll  schedule.Handle
	done  bool
}

// cancel stops the poll loop. An in-flight status request still returns, but
// its result is discarded.
func (s *session) cancel() {
	if s.poll != nil {
		s.poll.Stop()
		s.poll = nil
	}
}

// Controller owns the active session.
type Controller struct {
	transport Transport
	sched     schedule.Scheduler
	interval  time.Duration
	bus       *events.EventBus
	logger    *logging.Logger
	now       func() time.Time

	mu        sync.Mutex
	nextID    uint64
	session   *session
	selection *models.Selection
	view      View
	changed   chan struct{}
}

// NewController creates an idle controller.
func NewController(transport Transport, opts Options) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = constants.DefaultStatusPollInterval
	}
	if opts.Scheduler == nil {
		opts.Scheduler = schedule.NewTicker()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Controller{
		transport: transport,
		sched:     opts.Scheduler,
		interval:  opts.PollInterval,
		bus:       opts.Bus,
		logger:    opts.Logger.Child("component", "lifecycle"),
		now:       opts.Now,
		changed:   make(chan struct{}),
	}
	c.view = View{Phase: PhaseIdle, UpdatedAt: c.now()}
	return c
}

// View returns a snapshot of the current state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// snapshot copies the view. Callers hold c.mu.
func (c *Controller) snapshot() View {
	v := c.view
	if c.view.Job != nil {
		job := *c.view.Job
		v.Job = &job
	}
	return v
}

// SelectFile validates candidate and makes it the current selection.
//
// A rejected candidate leaves the previous selection, and any session using
// it, untouched; only the error display changes. An accepted candidate ends
// any session and clears all derived state.
func (c *Controller) SelectFile(candidate models.Selection) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := models.ValidateExtension(candidate.Name); err != nil {
		err = fmt.Errorf("%w: %s", ErrInvalidFileType, candidate.Name)
		c.view.ErrorKind = ErrorValidation
		c.view.Err = err
		c.view.ErrorDetail = ""
		c.view.Message = constants.MsgInvalidFileType
		c.logger.Debug().Str("file", candidate.Name).Msg("Rejected file selection")
		c.notify()
		return err
	}

	c.endSession()
	sel := candidate
	c.selection = &sel
	c.view = View{
		Phase:        PhaseSelected,
		Selection:    sel,
		HasSelection: true,
		Message:      "File selected: " + sel.Name,
	}
	c.logger.Debug().Str("file", sel.Name).Int64("size", sel.Size).Msg("File selected")
	c.notify()
	return nil
}

// StartProcessing submits the current selection and starts polling its job.
//
// Without a selection it records a validation error and makes no network
// call. On submission failure the selection is kept so the caller can retry
// without selecting again. ctx bounds the upload and the poll loop.
func (c *Controller) StartProcessing(ctx context.Context) error {
	c.mu.Lock()
	if c.selection == nil {
		c.view.ErrorKind = ErrorValidation
		c.view.Err = ErrNoSelection
		c.view.ErrorDetail = ""
		c.view.Message = constants.MsgSelectFirst
		c.notify()
		c.mu.Unlock()
		return ErrNoSelection
	}

	c.endSession()
	s := c.beginSession()
	sel := *c.selection
	c.view = View{
		Session:      s.id,
		Phase:        PhaseUploading,
		Selection:    sel,
		HasSelection: true,
		Message:      constants.MsgUploading,
		StartedAt:    c.now(),
	}
	c.notify()
	c.mu.Unlock()

	log := c.logger.With().Uint64("session", s.id).Str("file", sel.Name).Logger()
	log.Info().Msg("Submitting file")

	jobID, err := c.transport.SubmitFile(ctx, sel)

	c.mu.Lock()
	if !c.live(s.id) {
		c.mu.Unlock()
		log.Debug().Msg("Discarding upload result for superseded session")
		return ErrSuperseded
	}
	if err != nil {
		subErr := &SubmissionError{FileName: sel.Name, Err: err}
		s.done = true
		c.session = nil
		c.view.Phase = PhaseSelected
		c.view.ErrorKind = ErrorSubmission
		c.view.Err = subErr
		c.view.Message = fmt.Sprintf("%s: %s", constants.MsgSubmissionPrefix, subErr.Message())
		c.notify()
		c.mu.Unlock()
		log.Error().Err(err).Msg("Submission failed")
		return subErr
	}

	s.jobID = jobID
	c.view.Phase = PhaseProcessing
	c.view.Message = constants.MsgProcessing
	c.view.Job = &models.JobRecord{
		JobID:     jobID,
		FileName:  sel.Name,
		StartTime: c.view.StartedAt,
		Status:    models.StatusProcessing,
	}
	c.notify()
	c.mu.Unlock()

	log.Info().Str("job_id", jobID).Msg("Job submitted, polling status")

	handle := c.sched.Every(ctx, c.interval, c.pollTask(s.id, jobID))

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live(s.id) {
		// reset, reselected or already terminal while the loop was being scheduled
		handle.Stop()
		return nil
	}
	s.poll = handle
	return nil
}

// Reset cancels any session and returns to the initial empty state.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endSession()
	c.selection = nil
	c.view = View{Phase: PhaseIdle}
	c.logger.Debug().Msg("Reset")
	c.notify()
}

// Wait blocks until no session is uploading or processing, then returns the
// final view. It returns ctx.Err() if ctx ends first.
func (c *Controller) Wait(ctx context.Context) (View, error) {
	for {
		c.mu.Lock()
		v := c.snapshot()
		ch := c.changed
		c.mu.Unlock()

		if !v.Phase.Busy() {
			return v, nil
		}

		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-ch:
		}
	}
}

// Changed returns a channel closed at the next state change.
func (c *Controller) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

// Polling reports whether a poll loop is live.
func (c *Controller) Polling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil && c.session.poll != nil && !c.session.done
}

func (c *Controller) pollTask(id uint64, jobID string) schedule.Task {
	return func(ctx context.Context) {
		c.mu.Lock()
		live := c.live(id)
		c.mu.Unlock()
		if !live {
			return
		}

		resp, err := c.transport.GetStatus(ctx, jobID)

		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.live(id) {
			c.logger.Debug().Uint64("session", id).Str("job_id", jobID).Msg("Discarding stale status response")
			return
		}

		if err != nil {
			if ctx.Err() != nil {
				// shutting down, not a lost connection
				return
			}
			c.applyTransportFailure(jobID, err)
			return
		}
		c.applyStatus(jobID, resp)
	}
}

// applyStatus folds one status response into the view. Callers hold c.mu.
func (c *Controller) applyStatus(jobID string, resp *models.StatusResponse) {
	rec := models.RecordFromStatus(jobID, resp)
	if prev := c.view.Job; prev != nil {
		if rec.FileName == "" {
			rec.FileName = prev.FileName
		}
		if rec.StartTime.IsZero() {
			rec.StartTime = prev.StartTime
		}
	}
	c.view.Job = &rec

	switch rec.Status {
	case models.StatusCompleted:
		c.finish()
		c.view.Phase = PhaseCompleted
		c.view.Progress = 100
		c.view.DownloadURL = c.transport.DownloadURL(jobID)
		c.view.Message = constants.MsgComplete
		c.clearError()
		c.logger.Info().Str("job_id", jobID).Str("elapsed", rec.ElapsedFormatted).Msg("Job completed")

	case models.StatusFailed:
		c.finish()
		c.view.Phase = PhaseFailed
		c.view.ErrorKind = ErrorJobFailure
		c.view.Err = &JobFailedError{JobID: jobID, Detail: rec.ErrorDetail}
		c.view.ErrorDetail = rec.ErrorDetail
		if rec.ErrorDetail != "" {
			c.view.Message = fmt.Sprintf("%s: %s", constants.MsgJobFailed, rec.ErrorDetail)
		} else {
			c.view.Message = constants.MsgJobFailed
		}
		c.logger.Warn().Str("job_id", jobID).Str("detail", rec.ErrorDetail).Msg("Job failed")

	default:
		if rec.ProgressPercentage > c.view.Progress {
			c.view.Progress = rec.ProgressPercentage
		}
		if rec.Total > 0 {
			c.view.Message = fmt.Sprintf("Processed %d of %d items", rec.Processed, rec.Total)
		} else {
			c.view.Message = constants.MsgProcessing
		}
		c.clearError()
		c.logger.Debug().
			Str("job_id", jobID).
			Str("status", string(rec.Status)).
			Int("processed", rec.Processed).
			Int("total", rec.Total).
			Msg("Status poll")
	}

	c.notify()
}

// applyTransportFailure ends the loop on the first failed status check.
// Callers hold c.mu.
func (c *Controller) applyTransportFailure(jobID string, err error) {
	c.finish()
	c.view.Phase = PhaseFailed
	c.view.ErrorKind = ErrorPollingTransport
	c.view.Err = fmt.Errorf("%w: %w", ErrLostConnection, err)
	c.view.ErrorDetail = ""
	c.view.Message = constants.MsgLostConnection
	c.logger.Warn().Err(err).Str("job_id", jobID).Msg("Status check failed, polling stopped")
	c.notify()
}

func (c *Controller) clearError() {
	c.view.ErrorKind = ErrorNone
	c.view.Err = nil
	c.view.ErrorDetail = ""
}

// beginSession allocates a new session id. Callers hold c.mu.
func (c *Controller) beginSession() *session {
	c.nextID++
	c.session = &session{id: c.nextID}
	return c.session
}

// endSession cancels and forgets the current session. Callers hold c.mu.
func (c *Controller) endSession() {
	if c.session != nil {
		c.session.cancel()
		c.session.done = true
		c.session = nil
	}
}

// finish marks the live session terminal and stops its loop, keeping it as
// the current session so the view stays attached to it. Callers hold c.mu.
func (c *Controller) finish() {
	if c.session != nil {
		c.session.cancel()
		c.session.done = true
	}
}

// live reports whether id is the current, non-terminal session. Callers hold c.mu.
func (c *Controller) live(id uint64) bool {
	return c.session != nil && c.session.id == id && !c.session.done
}

// notify wakes waiters and publishes the change. Callers hold c.mu.
func (c *Controller) notify() {
	c.view.UpdatedAt = c.now()
	close(c.changed)
	c.changed = make(chan struct{})

	c.bus.PublishSession(c.view.Session, string(c.view.Phase), c.jobID(), c.view.Progress, c.view.Message, c.view.Err)
}

func (c *Controller) jobID() string {
	if c.view.Job == nil {
		return ""
	}
	return c.view.Job.JobID
}
