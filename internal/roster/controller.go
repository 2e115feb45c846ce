// Package roster keeps the list of all jobs known to the service fresh while
// it is being watched.
package roster

import (
	"context"
	"sync"
	"time"

	"github.com/rescale/sheetjobs/internal/constants"
	"github.com/rescale/sheetjobs/internal/events"
	"github.com/rescale/sheetjobs/internal/logging"
	"github.com/rescale/sheetjobs/internal/models"
	"github.com/rescale/sheetjobs/internal/schedule"
)

// Lister fetches the full roster.
type Lister interface {
	ListJobs(ctx context.Context) (models.Roster, error)
}

// Options configures a Controller. Zero values select defaults.
type Options struct {
	RefreshInterval time.Duration
	Scheduler       schedule.Scheduler
	Bus             *events.EventBus
	Logger          *logging.Logger
	Now             func() time.Time
}

// Controller owns the roster snapshot.
//
// Every fetch is tagged with the activation generation and a sequence
// number. A result is applied only if it is newer than the last applied one,
// and periodic results are dropped once their activation has ended.
type Controller struct {
	lister   Lister
	sched    schedule.Scheduler
	interval time.Duration
	bus      *events.EventBus
	logger   *logging.Logger
	now      func() time.Time

	mu            sync.Mutex
	jobs          models.Roster
	active        bool
	generation    uint64
	handle        schedule.Handle
	issued        uint64 // sequence number of the last request sent
	applied       uint64 // sequence number of the last response applied
	lastRefreshed time.Time
	lastErr       error
}

// NewController creates an inactive controller with an empty roster.
func NewController(lister Lister, opts Options) *Controller {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = constants.DefaultRosterRefreshInterval
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

	return &Controller{
		lister:   lister,
		sched:    opts.Scheduler,
		interval: opts.RefreshInterval,
		bus:      opts.Bus,
		logger:   opts.Logger.Child("component", "roster"),
		now:      opts.Now,
		jobs:     models.Roster{},
	}
}

// Activate fetches the roster now and then on every interval until
// Deactivate. Calling it while active does nothing.
func (c *Controller) Activate(ctx context.Context) {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return
	}
	c.active = true
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	c.logger.Debug().Uint64("generation", gen).Dur("interval", c.interval).Msg("Roster refresh started")

	handle := c.sched.Every(ctx, c.interval, func(ctx context.Context) {
		c.refresh(ctx, gen)
	}, schedule.Immediately())

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || c.generation != gen {
		// deactivated while the first fetch was running
		handle.Stop()
		return
	}
	c.handle = handle
}

// Deactivate stops periodic refreshes. The last roster stays readable.
func (c *Controller) Deactivate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return
	}
	c.active = false
	c.generation++
	if c.handle != nil {
		c.handle.Stop()
		c.handle = nil
	}
	c.logger.Debug().Msg("Roster refresh stopped")
}

// Refresh fetches the roster once, whether or not the controller is active.
// Unlike periodic refreshes, the error is returned to the caller.
func (c *Controller) Refresh(ctx context.Context) error {
	return c.fetch(ctx, 0)
}

// refresh is the periodic task; failures are logged and swallowed.
func (c *Controller) refresh(ctx context.Context, gen uint64) {
	if err := c.fetch(ctx, gen); err != nil && ctx.Err() == nil {
		c.logger.Debug().Err(err).Msg("Roster refresh failed, keeping previous snapshot")
	}
}

// fetch issues one request. gen is the activation it belongs to, or 0 for a
// manual refresh, which is never tied to an activation.
func (c *Controller) fetch(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	if gen != 0 && (!c.active || c.generation != gen) {
		c.mu.Unlock()
		return nil
	}
	c.issued++
	seq := c.issued
	c.mu.Unlock()

	jobs, err := c.lister.ListJobs(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != 0 && (!c.active || c.generation != gen) {
		return nil
	}
	if seq <= c.applied {
		// a newer response already landed
		return err
	}

	if err != nil {
		c.lastErr = err
		c.bus.PublishRoster(c.generation, len(c.jobs), err)
		return err
	}

	if jobs == nil {
		jobs = models.Roster{}
	}
	c.jobs = jobs.Clone()
	c.applied = seq
	c.lastRefreshed = c.now()
	c.lastErr = nil
	c.bus.PublishRoster(c.generation, len(c.jobs), nil)
	return nil
}

// Jobs returns a copy of the last fetched roster.
func (c *Controller) Jobs() models.Roster {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobs.Clone()
}

// Active reports whether periodic refresh is running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// LastRefreshed returns when the roster was last replaced, zero if never.
func (c *Controller) LastRefreshed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRefreshed
}

// LastError returns the error of the most recent failed refresh, cleared by
// the next successful one.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}
