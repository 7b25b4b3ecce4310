package events

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType represents the type of dashboard lifecycle event.
type EventType string

const (
	EventRefreshStarted   EventType = "refresh_started"
	EventCategoryResolved EventType = "category_resolved"
	EventRefreshCompleted EventType = "refresh_completed"
	EventChatTurn         EventType = "chat_turn"
)

// Event represents a lifecycle event for a refresh cycle or chat turn.
type Event struct {
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	CycleID    string    `json:"cycle_id,omitempty"`
	Trigger    string    `json:"trigger,omitempty"`
	Category   string    `json:"category,omitempty"`
	Status     string    `json:"status,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Succeeded  int       `json:"succeeded,omitempty"`
	Failed     int       `json:"failed,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Message    string    `json:"message,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
}

// Bus manages event publishing and subscription for SSE consumers.
type Bus struct {
	events      chan Event
	subscribers map[chan Event]struct{}
	mu          sync.RWMutex
	shutdown    chan struct{}
	once        sync.Once
}

// NewBus creates a new event bus with the specified buffer size.
func NewBus(bufferSize int) *Bus {
	b := &Bus{
		events:      make(chan Event, bufferSize),
		subscribers: make(map[chan Event]struct{}),
		shutdown:    make(chan struct{}),
	}

	// Start forwarding goroutine
	go b.forward()

	return b
}

// forward forwards events from the main channel to all subscribers.
// Fan-out happens under the read lock so Unsubscribe/Shutdown cannot close
// a channel mid-send.
func (b *Bus) forward() {
	for {
		select {
		case event := <-b.events:
			b.mu.RLock()
			for ch := range b.subscribers {
				select {
				case ch <- event:
				default:
					// Subscriber channel is full, skip (fail-open)
				}
			}
			b.mu.RUnlock()
		case <-b.shutdown:
			return
		}
	}
}

// Publish publishes an event. This is non-blocking and will drop events if
// the buffer is full or the bus has shut down. The events channel is never
// closed, so publishers racing Shutdown cannot panic.
func (b *Bus) Publish(event Event) {
	select {
	case <-b.shutdown:
		return
	default:
	}
	select {
	case b.events <- event:
	default:
		// Buffer full, drop event (fail-open)
	}
}

// Subscribe creates a new subscription channel for SSE consumers.
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, 10) // Small buffer for subscriber
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscription channel and closes it.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, exists := b.subscribers[ch]; exists {
		delete(b.subscribers, ch)
		close(ch) // Signal to readers that no more events are coming
	}
	b.mu.Unlock()
}

// Shutdown stops the forward goroutine and closes all subscriber channels,
// signalling SSE handlers to return. Publish stays callable afterwards.
func (b *Bus) Shutdown() {
	b.once.Do(func() {
		close(b.shutdown)

		// Close all subscriber channels
		b.mu.Lock()
		for ch := range b.subscribers {
			close(ch)
		}
		b.subscribers = make(map[chan Event]struct{})
		b.mu.Unlock()
	})
}

// FormatSSEEvent formats an event as Server-Sent Events format.
func FormatSSEEvent(event Event) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	return "data: " + string(data) + "\n\n", nil
}
