package schedule

import (
	"context"
	"sync"
	"time"
)

// Manual is a Scheduler driven by explicit Tick calls. Tasks run on the
// calling goroutine, which makes timing-dependent behavior deterministic in
// tests.
type Manual struct {
	mu    sync.Mutex
	tasks []*manualHandle
}

// NewManual returns an empty manual scheduler.
func NewManual() *Manual {
	return &Manual{}
}

// Every registers task. With Immediately the first run happens before Every returns.
func (m *Manual) Every(ctx context.Context, interval time.Duration, task Task, opts ...Option) Handle {
	o := buildOptions(opts)
	h := &manualHandle{ctx: ctx, interval: interval, task: task}

	m.mu.Lock()
	m.tasks = append(m.tasks, h)
	m.mu.Unlock()

	if o.immediate {
		h.run()
	}
	return h
}

// Tick fires every live task once, in registration order.
func (m *Manual) Tick() {
	for _, h := range m.live() {
		h.run()
	}
}

// Active returns the number of tasks that have not been stopped.
func (m *Manual) Active() int {
	return len(m.live())
}

// Registered returns how many tasks were ever started.
func (m *Manual) Registered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Intervals returns the interval of each live task.
func (m *Manual) Intervals() []time.Duration {
	live := m.live()
	out := make([]time.Duration, len(live))
	for i, h := range live {
		out[i] = h.interval
	}
	return out
}

func (m *Manual) live() []*manualHandle {
	m.mu.Lock()
	defer m.mu.Unlock()

	var live []*manualHandle
	for _, h := range m.tasks {
		if !h.isStopped() {
			live = append(live, h)
		}
	}
	return live
}

type manualHandle struct {
	ctx      context.Context
	interval time.Duration
	task     Task

	mu      sync.Mutex
	stopped bool
	running sync.Mutex // serializes runs of this task
}

func (h *manualHandle) run() {
	h.running.Lock()
	defer h.running.Unlock()

	if h.isStopped() || h.ctx.Err() != nil {
		return
	}
	h.task(h.ctx)
}

func (h *manualHandle) isStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

func (h *manualHandle) Stop() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
}
