// Package schedule runs repeating tasks behind cancellable handles.
//
// A task never overlaps itself: the next firing waits until the previous call
// returns. Stopping a handle prevents future firings but does not interrupt a
// call that is already running, so callers that apply results must check their
// own liveness token before mutating state.
package schedule

import (
	"context"
	"sync"
	"time"
)

// Task is one scheduled unit of work.
type Task func(ctx context.Context)

// Handle controls a scheduled task.
type Handle interface {
	// Stop cancels future firings. It is safe to call more than once and from
	// inside the task itself.
	Stop()
}

// Scheduler starts repeating tasks.
type Scheduler interface {
	Every(ctx context.Context, interval time.Duration, task Task, opts ...Option) Handle
}

type options struct {
	immediate bool
}

// Option adjusts a single Every call.
type Option func(*options)

// Immediately runs the task once right away instead of waiting a full interval.
func Immediately() Option {
	return func(o *options) { o.immediate = true }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Ticker is the real-time Scheduler backed by time.Ticker.
type Ticker struct{}

// NewTicker returns a real-time scheduler.
func NewTicker() *Ticker {
	return &Ticker{}
}

// Every starts task in its own goroutine. The loop ends when the handle is
// stopped or ctx is done.
func (t *Ticker) Every(ctx context.Context, interval time.Duration, task Task, opts ...Option) Handle {
	o := buildOptions(opts)
	h := &tickerHandle{
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}

	go h.loop(ctx, interval, task, o.immediate)
	return h
}

type tickerHandle struct {
	stopChan chan struct{}
	done     chan struct{}
	once     sync.Once
}

func (h *tickerHandle) loop(ctx context.Context, interval time.Duration, task Task, immediate bool) {
	defer close(h.done)

	if immediate && !h.stopped(ctx) {
		task(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case <-ticker.C:
			// a tick can race with Stop; the stop wins
			if h.stopped(ctx) {
				return
			}
			task(ctx)
		}
	}
}

func (h *tickerHandle) stopped(ctx context.Context) bool {
	select {
	case <-h.stopChan:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (h *tickerHandle) Stop() {
	h.once.Do(func() { close(h.stopChan) })
}

// Done is closed once the loop goroutine has exited.
func (h *tickerHandle) Done() <-chan struct{} {
	return h.done
}
