// Package events carries state-change notifications from the controllers to the renderers.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescale/sheetjobs/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	// EventSessionChanged is published after every lifecycle controller transition
	EventSessionChanged EventType = "session_changed"

	// EventRosterUpdated is published after a refresh replaced the roster
	EventRosterUpdated EventType = "roster_updated"

	// EventRosterRefreshFailed is published when a refresh failed and the previous roster stands
	EventRosterRefreshFailed EventType = "roster_refresh_failed"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// SessionEvent describes the lifecycle controller's state right after a change.
// Subscribers needing more than this read the controller's snapshot.
type SessionEvent struct {
	BaseEvent
	Session  uint64 // session id in effect when the event was produced
	Phase    string
	JobID    string
	Progress float64 // 0 to 100
	Message  string
	Err      error // set when the phase is failed or a validation error occurred
}

// RosterEvent describes a roster refresh outcome.
type RosterEvent struct {
	BaseEvent
	Generation uint64
	Count      int
	Err        error // only for EventRosterRefreshFailed
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := eb.newChannel()
	if !eb.closed {
		eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	}
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := eb.newChannel()
	if !eb.closed {
		eb.all = append(eb.all, ch)
	}
	return ch
}

// newChannel returns a buffered channel, or a closed one once the bus is closed.
// Callers hold eb.mu.
func (eb *EventBus) newChannel() chan Event {
	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	return make(chan Event, eb.bufferSize)
}

// Publish sends an event to all subscribers without blocking.
// Events for full subscribers are dropped and counted.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}
	eb.deliver(eb.subscribers[event.Type()], event)
	eb.deliver(eb.all, event)
}

func (eb *EventBus) deliver(chs []chan Event, event Event) {
	for _, ch := range chs {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true

	for _, chs := range eb.subscribers {
		for _, ch := range chs {
			close(ch)
		}
	}
	for _, ch := range eb.all {
		close(ch)
	}
}

// PublishSession publishes an EventSessionChanged event.
func (eb *EventBus) PublishSession(session uint64, phase, jobID string, progress float64, message string, err error) {
	eb.Publish(&SessionEvent{
		BaseEvent: BaseEvent{
			EventType: EventSessionChanged,
			Time:      time.Now(),
		},
		Session:  session,
		Phase:    phase,
		JobID:    jobID,
		Progress: progress,
		Message:  message,
		Err:      err,
	})
}

// PublishRoster publishes EventRosterUpdated, or EventRosterRefreshFailed when err is non-nil.
func (eb *EventBus) PublishRoster(generation uint64, count int, err error) {
	eventType := EventRosterUpdated
	if err != nil {
		eventType = EventRosterRefreshFailed
	}
	eb.Publish(&RosterEvent{
		BaseEvent: BaseEvent{
			EventType: eventType,
			Time:      time.Now(),
		},
		Generation: generation,
		Count:      count,
		Err:        err,
	})
}

// Unsubscribe removes a subscription channel from a specific event type.
// The channel is not closed.
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if !eb.closed {
		eb.subscribers[eventType] = without(eb.subscribers[eventType], ch)
	}
}

// UnsubscribeAll removes a subscription channel wherever it is registered.
func (eb *EventBus) UnsubscribeAll(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	for eventType, chs := range eb.subscribers {
		eb.subscribers[eventType] = without(chs, ch)
	}
	eb.all = without(eb.all, ch)
}

// without removes the first occurrence of ch. Order is not preserved.
func without(chs []chan Event, ch <-chan Event) []chan Event {
	for i, c := range chs {
		if c == ch {
			chs[i] = chs[len(chs)-1]
			return chs[:len(chs)-1]
		}
	}
	return chs
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}
