package pulse

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ukpulse/pulseboard/internal/agent"
	"github.com/ukpulse/pulseboard/internal/events"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestSessions(t *testing.T, q Querier, bus *events.Bus, opts SessionOptions) *Sessions {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	reg := NewSessions(q, bus, nil, logger, opts)
	t.Cleanup(reg.Stop)
	return reg
}

func TestSendAppendsUserAndAssistant(t *testing.T) {
	reg := newTestSessions(t, querierFunc(func(ctx context.Context, query string) (agent.Answer, error) {
		if query != "hello" {
			t.Errorf("query = %q, want the user text verbatim", query)
		}
		return okAnswer("world"), nil
	}), nil, SessionOptions{})
	s := reg.GetOrCreate("")

	msg, err := s.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if msg.Sender != SenderAssistant || msg.Text != "world" {
		t.Errorf("reply = %+v, want assistant %q", msg, "world")
	}

	transcript := s.Transcript()
	if len(transcript) != 2 {
		t.Fatalf("transcript len = %d, want exactly user+assistant", len(transcript))
	}
	if transcript[0].Sender != SenderUser || transcript[0].Text != "hello" {
		t.Errorf("transcript[0] = %+v", transcript[0])
	}
	if transcript[1].ID != msg.ID {
		t.Errorf("returned message id %q not the appended one %q", msg.ID, transcript[1].ID)
	}
	if transcript[0].ID == transcript[1].ID || transcript[0].ID == "" {
		t.Errorf("message ids not distinct: %q %q", transcript[0].ID, transcript[1].ID)
	}
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	calls := 0
	reg := newTestSessions(t, querierFunc(func(ctx context.Context, query string) (agent.Answer, error) {
		calls++
		return okAnswer("world"), nil
	}), nil, SessionOptions{})
	s := reg.GetOrCreate("")

	for _, input := range []string{"", "   ", " \t\n"} {
		if _, err := s.Send(context.Background(), input); !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("Send(%q) error = %v, want ErrEmptyMessage", input, err)
		}
	}
	if calls != 0 {
		t.Errorf("agent was queried %d times for empty input", calls)
	}
	if got := len(s.Transcript()); got != 0 {
		t.Errorf("transcript len = %d, want 0 after rejected sends", got)
	}

	// The session is still usable after a rejected send.
	if _, err := s.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send after rejection: %v", err)
	}
	if got := len(s.Transcript()); got != 2 {
		t.Errorf("transcript len = %d, want 2", got)
	}
}

func TestSendBusyWhileTurnInFlight(t *testing.T) {
	release := make(chan struct{})
	reg := newTestSessions(t, querierFunc(func(ctx context.Context, query string) (agent.Answer, error) {
		<-release
		return okAnswer("done"), nil
	}), nil, SessionOptions{})
	s := reg.GetOrCreate("")

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(), "slow question")
		errCh <- err
	}()

	// The user message is appended before the query goes out.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(s.Transcript()) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(s.Transcript()); got != 1 {
		t.Fatalf("transcript len = %d while turn in flight, want 1 (optimistic user append)", got)
	}

	if _, err := s.Send(context.Background(), "impatient follow-up"); !errors.Is(err, ErrBusy) {
		t.Errorf("second Send error = %v, want ErrBusy", err)
	}

	close(release)
	if err := <-errCh; err != nil {
		t.Fatalf("first Send error: %v", err)
	}
	transcript := s.Transcript()
	if len(transcript) != 2 {
		t.Fatalf("transcript len = %d, want 2 (the rejected send appends nothing)", len(transcript))
	}
	if s.Busy() {
		t.Error("Busy = true after the turn completed")
	}
}

func TestTransportFailureAppendsApology(t *testing.T) {
	reg := newTestSessions(t, querierFunc(func(ctx context.Context, query string) (agent.Answer, error) {
		return agent.Answer{}, errors.New("connection refused")
	}), nil, SessionOptions{})
	s := reg.GetOrCreate("")

	msg, err := s.Send(context.Background(), "anyone there?")
	if err != nil {
		t.Fatalf("Send error: %v (transport failures resolve to the apology, not an error)", err)
	}
	if msg.Text != "Sorry, I couldn't connect to the server. Please try again." {
		t.Errorf("reply = %q", msg.Text)
	}
	transcript := s.Transcript()
	if len(transcript) != 2 || transcript[0].Text != "anyone there?" {
		t.Errorf("transcript = %+v, want user message kept before the apology", transcript)
	}
}

func TestReplyPriority(t *testing.T) {
	cases := []struct {
		name   string
		answer agent.Answer
		want   string
	}{
		{
			name:   "response field wins",
			answer: agent.Answer{StatusCode: 200, Fields: map[string]any{"response": "the answer", "error": "ignored"}},
			want:   "the answer",
		},
		{
			name:   "error field when no response",
			answer: agent.Answer{StatusCode: 500, Fields: map[string]any{"error": "agent overloaded"}},
			want:   "agent overloaded",
		},
		{
			name:   "fallback when neither",
			answer: agent.Answer{StatusCode: 200, Fields: map[string]any{"status": "success"}},
			want:   "No response received.",
		},
		{
			name:   "blank response falls through",
			answer: agent.Answer{StatusCode: 200, Fields: map[string]any{"response": "  ", "error": "blank reply"}},
			want:   "blank reply",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg := newTestSessions(t, querierFunc(func(ctx context.Context, query string) (agent.Answer, error) {
				return tc.answer, nil
			}), nil, SessionOptions{})
			s := reg.GetOrCreate("")

			msg, err := s.Send(context.Background(), "hello")
			if err != nil {
				t.Fatalf("Send error: %v", err)
			}
			if msg.Text != tc.want {
				t.Errorf("reply = %q, want %q", msg.Text, tc.want)
			}
		})
	}
}

func TestSendPublishesChatTurn(t *testing.T) {
	bus := events.NewBus(16)
	defer bus.Shutdown()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	reg := newTestSessions(t, querierFunc(func(ctx context.Context, query string) (agent.Answer, error) {
		return okAnswer("world"), nil
	}), bus, SessionOptions{})
	s := reg.GetOrCreate("")

	if _, err := s.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	select {
	case e := <-sub:
		if e.Type != events.EventChatTurn {
			t.Errorf("event type = %q, want chat_turn", e.Type)
		}
		if e.SessionID != s.ID || e.Status != "ok" {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no chat_turn event arrived")
	}
}

func TestTranscriptIsACopy(t *testing.T) {
	reg := newTestSessions(t, querierFunc(func(ctx context.Context, query string) (agent.Answer, error) {
		return okAnswer("world"), nil
	}), nil, SessionOptions{})
	s := reg.GetOrCreate("")

	if _, err := s.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	leaked := s.Transcript()
	leaked[0].Text = "tampered"

	if got := s.Transcript()[0].Text; got != "hello" {
		t.Errorf("transcript[0] = %q, mutation leaked in", got)
	}
}

func TestSessionsGetOrCreate(t *testing.T) {
	reg := newTestSessions(t, querierFunc(func(ctx context.Context, query string) (agent.Answer, error) {
		return okAnswer("world"), nil
	}), nil, SessionOptions{})

	a := reg.GetOrCreate("")
	if a.ID == "" {
		t.Fatal("new session has empty id")
	}
	if got := reg.GetOrCreate(a.ID); got != a {
		t.Error("known id returned a different session")
	}
	b := reg.GetOrCreate("no-such-session")
	if b == a || b.ID == "no-such-session" {
		t.Errorf("unknown id must create a fresh session, got %q", b.ID)
	}
	if reg.Len() != 2 {
		t.Errorf("Len = %d, want 2", reg.Len())
	}
}

func TestSessionsEvictIdle(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC)}
	reg := newTestSessions(t, querierFunc(func(ctx context.Context, query string) (agent.Answer, error) {
		return okAnswer("world"), nil
	}), nil, SessionOptions{TTL: 10 * time.Minute, Now: clock.now})

	stale := reg.GetOrCreate("")
	clock.advance(5 * time.Minute)
	fresh := reg.GetOrCreate("")

	clock.advance(6 * time.Minute) // stale is 11m idle, fresh 6m
	reg.evictIdle()

	if _, ok := reg.Get(stale.ID); ok {
		t.Error("stale session survived eviction")
	}
	if _, ok := reg.Get(fresh.ID); !ok {
		t.Error("fresh session was evicted")
	}

	// The browser resends the evicted id and transparently gets a new session.
	replacement := reg.GetOrCreate(stale.ID)
	if replacement.ID == stale.ID {
		t.Error("evicted id was resurrected instead of replaced")
	}
}

func TestSessionsGetBumpsActivity(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC)}
	reg := newTestSessions(t, querierFunc(func(ctx context.Context, query string) (agent.Answer, error) {
		return okAnswer("world"), nil
	}), nil, SessionOptions{TTL: 10 * time.Minute, Now: clock.now})

	s := reg.GetOrCreate("")
	clock.advance(8 * time.Minute)
	if _, ok := reg.Get(s.ID); !ok {
		t.Fatal("session missing before TTL")
	}
	clock.advance(8 * time.Minute) // 16m since create, 8m since the Get
	reg.evictIdle()

	if _, ok := reg.Get(s.ID); !ok {
		t.Error("replaying the transcript did not count as activity")
	}
}
