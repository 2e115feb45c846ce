package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func waitDone(t *testing.T, h Handle) {
	t.Helper()
	th, ok := h.(*tickerHandle)
	if !ok {
		t.Fatalf("expected *tickerHandle, got %T", h)
	}
	select {
	case <-th.Done():
	case <-time.After(time.Second):
		t.Fatal("ticker loop did not exit")
	}
}

func TestTickerFiresRepeatedly(t *testing.T) {
	var calls atomic.Int32
	h := NewTicker().Every(context.Background(), 5*time.Millisecond, func(ctx context.Context) {
		calls.Add(1)
	})

	deadline := time.Now().Add(time.Second)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	h.Stop()
	waitDone(t, h)

	if calls.Load() < 3 {
		t.Errorf("expected at least 3 firings, got %d", calls.Load())
	}
}

func TestTickerImmediately(t *testing.T) {
	fired := make(chan struct{}, 1)
	h := NewTicker().Every(context.Background(), time.Hour, func(ctx context.Context) {
		fired <- struct{}{}
	}, Immediately())
	defer h.Stop()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("immediate run did not happen")
	}
}

func TestTickerStopPreventsFutureFirings(t *testing.T) {
	var calls atomic.Int32
	h := NewTicker().Every(context.Background(), 5*time.Millisecond, func(ctx context.Context) {
		calls.Add(1)
	})
	h.Stop()
	h.Stop()
	waitDone(t, h)

	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != after {
		t.Errorf("task fired after Stop: %d -> %d", after, calls.Load())
	}
}

func TestTickerStopFromInsideTask(t *testing.T) {
	var calls atomic.Int32
	var h Handle
	ready := make(chan struct{})
	h = NewTicker().Every(context.Background(), 2*time.Millisecond, func(ctx context.Context) {
		<-ready
		calls.Add(1)
		h.Stop()
	})
	close(ready)
	waitDone(t, h)

	if calls.Load() != 1 {
		t.Errorf("expected exactly one firing, got %d", calls.Load())
	}
}

func TestTickerNeverOverlaps(t *testing.T) {
	var inFlight, maxInFlight, calls atomic.Int32
	h := NewTicker().Every(context.Background(), time.Millisecond, func(ctx context.Context) {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		calls.Add(1)
	})

	deadline := time.Now().Add(time.Second)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	h.Stop()
	waitDone(t, h)

	if maxInFlight.Load() != 1 {
		t.Errorf("expected at most one call in flight, saw %d", maxInFlight.Load())
	}
}

func TestTickerContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewTicker().Every(ctx, time.Hour, func(ctx context.Context) {})
	cancel()
	waitDone(t, h)
}

func TestManual(t *testing.T) {
	m := NewManual()
	var a, b int

	ha := m.Every(context.Background(), time.Second, func(ctx context.Context) { a++ })
	m.Every(context.Background(), 5*time.Second, func(ctx context.Context) { b++ }, Immediately())

	if a != 0 || b != 1 {
		t.Fatalf("after registration a=%d b=%d, want 0 and 1", a, b)
	}

	m.Tick()
	if a != 1 || b != 2 {
		t.Fatalf("after one tick a=%d b=%d, want 1 and 2", a, b)
	}

	ha.Stop()
	m.Tick()
	if a != 1 || b != 3 {
		t.Fatalf("stopped task fired: a=%d b=%d", a, b)
	}

	if m.Active() != 1 || m.Registered() != 2 {
		t.Errorf("Active=%d Registered=%d, want 1 and 2", m.Active(), m.Registered())
	}
	if got := m.Intervals(); len(got) != 1 || got[0] != 5*time.Second {
		t.Errorf("Intervals() = %v", got)
	}
}

func TestManualSkipsCancelledContext(t *testing.T) {
	m := NewManual()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	m.Every(ctx, time.Second, func(ctx context.Context) { calls++ })
	cancel()
	m.Tick()
	if calls != 0 {
		t.Errorf("task ran with cancelled context")
	}
}

func TestManualStopInsideTask(t *testing.T) {
	m := NewManual()
	calls := 0
	var h Handle
	h = m.Every(context.Background(), time.Second, func(ctx context.Context) {
		calls++
		h.Stop()
	})
	m.Tick()
	m.Tick()
	if calls != 1 {
		t.Errorf("expected one call, got %d", calls)
	}
}
