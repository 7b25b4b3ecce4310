package pulse

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ukpulse/pulseboard/internal/events"
	"github.com/ukpulse/pulseboard/internal/metrics"
)

// Senders for transcript messages.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// Fixed assistant texts. The apology covers transport failures; the fallback
// covers replies that carry neither a response nor an error field.
const (
	chatApology    = "Sorry, I couldn't connect to the server. Please try again."
	chatNoResponse = "No response received."
)

var (
	// ErrEmptyMessage rejects empty or whitespace-only input. Nothing is
	// appended to the transcript.
	ErrEmptyMessage = errors.New("chat: empty message")
	// ErrBusy rejects a send while a previous turn is still in flight.
	ErrBusy = errors.New("chat: a turn is already in flight")
)

// Message is one transcript entry.
type Message struct {
	ID     string    `json:"id"`
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// Session is one chat conversation with the agent. The transcript is
// append-only and lives in memory for the session lifetime; it is never
// persisted.
type Session struct {
	ID string

	querier Querier
	bus     *events.Bus
	metrics *metrics.Metrics
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time

	mu         sync.Mutex
	transcript []Message
	busy       bool
	lastActive time.Time
}

// Send submits one user message and appends the assistant reply. The user
// message is appended before the query goes out, so it stays visible even
// when the agent is unreachable. Send returns the assistant message.
func (s *Session) Send(ctx context.Context, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return Message{}, ErrBusy
	}
	s.busy = true
	s.append(SenderUser, text)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	start := s.now()
	reply, outcome := s.query(ctx, text)

	s.mu.Lock()
	msg := s.append(SenderAssistant, reply)
	length := len(s.transcript)
	s.mu.Unlock()

	s.metrics.RecordChatTurn(outcome)
	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:       events.EventChatTurn,
			Timestamp:  s.now(),
			SessionID:  s.ID,
			Status:     outcome,
			DurationMs: s.now().Sub(start).Milliseconds(),
		})
	}
	s.logger.Info("chat turn completed",
		"session_id", s.ID,
		"outcome", outcome,
		"transcript_length", length,
	)
	return msg, nil
}

// query resolves the assistant text for one turn. Reply priority: the
// response field, then the error field, then the fixed fallback. A transport
// failure yields the apology.
func (s *Session) query(ctx context.Context, text string) (reply, outcome string) {
	qctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ans, err := s.querier.Query(qctx, text)
	if err != nil {
		s.logger.Warn("chat query failed", "session_id", s.ID, "err", err)
		return chatApology, "error"
	}
	if r, ok := ans.Response(); ok && strings.TrimSpace(r) != "" {
		return r, "ok"
	}
	if e, ok := ans.ErrorMessage(); ok && strings.TrimSpace(e) != "" {
		return e, "error"
	}
	return chatNoResponse, "error"
}

// append adds a message and bumps lastActive. Caller holds s.mu.
func (s *Session) append(sender, text string) Message {
	msg := Message{
		ID:     uuid.NewString(),
		Sender: sender,
		Text:   text,
		SentAt: s.now(),
	}
	s.transcript = append(s.transcript, msg)
	s.lastActive = msg.SentAt
	return msg
}

// Transcript returns a copy of the transcript so far.
func (s *Session) Transcript() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Busy reports whether a turn is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

func (s *Session) touch(t time.Time) {
	s.mu.Lock()
	if t.After(s.lastActive) {
		s.lastActive = t
	}
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// SessionOptions configures the session registry. Zero values fall back to
// the defaults.
type SessionOptions struct {
	// QueryTimeout bounds one chat query. Default 90s.
	QueryTimeout time.Duration
	// TTL evicts sessions idle for longer than this. Default 30m.
	TTL time.Duration
	// Now is the clock, injectable for tests.
	Now func() time.Time
}

// Sessions is the registry of live chat sessions, keyed by session id.
// Sessions idle past the TTL are evicted by a background janitor; the
// browser keeps its id and transparently gets a fresh session after
// eviction.
type Sessions struct {
	querier Querier
	bus     *events.Bus
	metrics *metrics.Metrics
	logger  *slog.Logger
	timeout time.Duration
	ttl     time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSessions creates an empty session registry. Call Start to begin idle
// eviction.
func NewSessions(querier Querier, bus *events.Bus, m *metrics.Metrics, logger *slog.Logger, opts SessionOptions) *Sessions {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 90 * time.Second
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{
		querier:  querier,
		bus:      bus,
		metrics:  m,
		logger:   logger,
		timeout:  opts.QueryTimeout,
		ttl:      opts.TTL,
		now:      opts.Now,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}
}

// GetOrCreate returns the session for id, or a fresh one when id is empty or
// unknown (evicted ids land here too). The caller learns the id from the
// returned session.
func (r *Sessions) GetOrCreate(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id != "" {
		if s, ok := r.sessions[id]; ok {
			s.touch(r.now())
			return s
		}
	}
	s := &Session{
		ID:         uuid.NewString(),
		querier:    r.querier,
		bus:        r.bus,
		metrics:    r.metrics,
		logger:     r.logger,
		timeout:    r.timeout,
		now:        r.now,
		lastActive: r.now(),
	}
	r.sessions[s.ID] = s
	r.logger.Debug("chat session created", "session_id", s.ID)
	return s
}

// Get returns the live session for id.
func (r *Sessions) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		s.touch(r.now())
	}
	return s, ok
}

// Len returns the number of live sessions.
func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Start launches the idle-eviction janitor.
func (r *Sessions) Start() {
	go r.run()
}

// Stop halts the janitor. Live sessions stay usable until evicted by their
// owner process exiting.
func (r *Sessions) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
}

func (r *Sessions) run() {
	interval := r.ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.evictIdle()
		case <-r.stopCh:
			return
		}
	}
}

// evictIdle drops sessions whose last activity is older than the TTL. A
// session mid-turn has a recent lastActive from the user append, so it
// survives unless the turn itself outlives the TTL.
func (r *Sessions) evictIdle() {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var evicted []string
	for id, s := range r.sessions {
		if s.idleSince().Before(cutoff) {
			delete(r.sessions, id)
			evicted = append(evicted, id)
		}
	}
	r.mu.Unlock()

	for _, id := range evicted {
		r.logger.Info("chat session evicted", "session_id", id, "ttl", r.ttl)
	}
}
