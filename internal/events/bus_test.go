package events

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(10)

	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	event := Event{
		Type:      EventRefreshStarted,
		CycleID:   "cycle-1",
		Trigger:   "manual",
		Timestamp: time.Now(),
	}

	bus.Publish(event)

	select {
	case received := <-sub:
		if received.CycleID != "cycle-1" {
			t.Errorf("expected cycle ID cycle-1, got %s", received.CycleID)
		}
		if received.Type != EventRefreshStarted {
			t.Errorf("expected type %s, got %s", EventRefreshStarted, received.Type)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("did not receive event within timeout")
	}
}

func TestBus_BoundedBuffer(t *testing.T) {
	bus := NewBus(2) // Small buffer

	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	// Publish more events than buffer size
	for i := 0; i < 5; i++ {
		event := Event{
			Type:      EventCategoryResolved,
			CycleID:   "cycle-1",
			Timestamp: time.Now(),
		}
		bus.Publish(event)
	}

	// Should receive at least some events (non-blocking publish may drop some)
	received := 0
	timeout := time.After(100 * time.Millisecond)
	for {
		select {
		case <-sub:
			received++
		case <-timeout:
			goto done
		}
	}
done:
	if received == 0 {
		t.Error("expected to receive at least one event")
	}
}

func TestBus_NonBlockingPublish(t *testing.T) {
	bus := NewBus(1) // Very small buffer

	// Publish many events rapidly - should not block
	start := time.Now()
	for i := 0; i < 100; i++ {
		event := Event{
			Type:      EventCategoryResolved,
			CycleID:   "cycle-1",
			Timestamp: time.Now(),
		}
		bus.Publish(event) // Should not block even if buffer is full
	}
	duration := time.Since(start)

	// Should complete very quickly (non-blocking)
	if duration > 10*time.Millisecond {
		t.Errorf("publish took too long: %v (should be non-blocking)", duration)
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus(10)

	sub1 := bus.Subscribe()
	defer bus.Unsubscribe(sub1)
	sub2 := bus.Subscribe()
	defer bus.Unsubscribe(sub2)

	event := Event{
		Type:      EventRefreshCompleted,
		CycleID:   "cycle-1",
		Outcome:   "success",
		Succeeded: 6,
		Timestamp: time.Now(),
	}

	bus.Publish(event)

	// Both subscribers should receive the event
	received1 := false
	received2 := false

	timeout := time.After(100 * time.Millisecond)
	for !received1 || !received2 {
		select {
		case <-sub1:
			received1 = true
		case <-sub2:
			received2 = true
		case <-timeout:
			if !received1 {
				t.Error("subscriber 1 did not receive event")
			}
			if !received2 {
				t.Error("subscriber 2 did not receive event")
			}
			return
		}
	}
}

func TestBus_PublishAfterShutdown(t *testing.T) {
	bus := NewBus(10)

	sub := bus.Subscribe()
	bus.Shutdown()

	// Subscriber channels close on shutdown.
	select {
	case _, ok := <-sub:
		if ok {
			t.Error("expected subscriber channel to be closed")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("subscriber channel was not closed")
	}

	// Late publishers must not panic; the event is silently dropped.
	bus.Publish(Event{Type: EventRefreshCompleted, CycleID: "late"})
	bus.Shutdown() // Idempotent.
}

func TestFormatSSEEvent(t *testing.T) {
	event := Event{
		Type:      EventRefreshCompleted,
		CycleID:   "cycle-1",
		Outcome:   "success",
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	sse, err := FormatSSEEvent(event)
	if err != nil {
		t.Fatalf("failed to format SSE event: %v", err)
	}

	if !json.Valid([]byte(sse[6 : len(sse)-2])) { // Skip "data: " and "\n\n"
		t.Error("SSE data is not valid JSON")
	}

	if !strings.HasPrefix(sse, "data: ") {
		t.Error("SSE format should start with 'data: '")
	}

	if !strings.HasSuffix(sse, "\n\n") {
		t.Error("SSE format should end with '\\n\\n'")
	}
}
