// Package session holds the live map from agent_id to an agent's
// outbound delivery queue, and the accounting around it.
package session

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/agent-hub/hub/internal/hub/store"
)

// ErrClosed is returned when Enqueue is called against a closed session.
var ErrClosed = errors.New("session closed")

// Session is a single agent's live connection state: one outbound queue,
// drained by the Stream Handler's sender task.
type Session struct {
	AgentID string

	mu     sync.Mutex
	queue  chan Envelope
	closed bool
	bound  int // 0 = unbounded
}

// Envelope is what flows through a session queue; it carries the full
// persisted message identity, so the Stream Handler can repopulate every
// wire field on delivery, plus the cursor it should advance the agent's
// replay position to.
type Envelope struct {
	MessageID     string
	SenderID      string
	RecipientID   string
	Type          store.MessageType
	Data          []byte
	Cursor        int64
	CorrelationID string
}

// EnvelopeFromMessage copies every field a recipient needs off of a
// persisted message.
func EnvelopeFromMessage(msg store.Message) Envelope {
	return Envelope{
		MessageID:     msg.ID,
		SenderID:      msg.SenderID,
		RecipientID:   msg.RecipientID,
		Type:          msg.Type,
		Data:          msg.Payload,
		Cursor:        msg.Timestamp,
		CorrelationID: msg.CorrelationID,
	}
}

func newSession(agentID string, bound int) *Session {
	size := bound
	if size <= 0 {
		size = 256 // default buffer when no bound is set; it is not grown
	}
	return &Session{
		AgentID: agentID,
		queue:   make(chan Envelope, size),
		bound:   bound,
	}
}

// Enqueue delivers env to this session without blocking. If the queue is
// at capacity and a bound was configured, the oldest entry is dropped to
// make room (the Reconnect Replay task is responsible for backfilling any
// recipient that misses a message this way). Without a bound the queue
// is a fixed 256-entry buffer, not an unbounded one: once it is full,
// env itself is dropped and logged and the queued entries are kept.
// Enqueue never blocks.
func (s *Session) Enqueue(env Envelope, logger *slog.Logger) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	select {
	case s.queue <- env:
		return
	default:
	}

	if s.bound > 0 {
		select {
		case <-s.queue:
		default:
		}
		select {
		case s.queue <- env:
			return
		default:
		}
	}

	if logger != nil {
		logger.Warn("dropped message for slow session", "agent_id", s.AgentID, "message_id", env.MessageID)
	}
}

// Recv returns the channel the Stream Handler's sender task drains.
func (s *Session) Recv() <-chan Envelope {
	return s.queue
}

// Close marks the session closed and drains further enqueues as no-ops.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
	}
}

// Table is the concurrency-safe registry of live sessions, one per
// connected agent. The lock only ever guards the map itself, never a
// channel send.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	bound    int
	logger   *slog.Logger
}

// NewTable creates an empty session table. bound <= 0 gives each session
// a fixed 256-entry queue that drops the incoming envelope on overflow;
// bound > 0 sizes the queue to bound and drops the oldest entry instead.
func NewTable(bound int, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		sessions: make(map[string]*Session),
		bound:    bound,
		logger:   logger.With("component", "session_table"),
	}
}

// Bind registers a new live session for agentID, replacing any prior one.
func (t *Table) Bind(agentID string) *Session {
	s := newSession(agentID, t.bound)

	t.mu.Lock()
	if old, ok := t.sessions[agentID]; ok {
		old.Close()
	}
	t.sessions[agentID] = s
	t.mu.Unlock()

	t.logger.Info("session bound", "agent_id", agentID)
	return s
}

// Unbind removes the session for agentID, if it is still the current one.
func (t *Table) Unbind(agentID string, s *Session) {
	t.mu.Lock()
	if current, ok := t.sessions[agentID]; ok && current == s {
		delete(t.sessions, agentID)
	}
	t.mu.Unlock()
	s.Close()
	t.logger.Info("session unbound", "agent_id", agentID)
}

// Lookup returns the live session for agentID, if any.
func (t *Table) Lookup(agentID string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[agentID]
	return s, ok
}

// Snapshot copies out every live session. Safe to range over and enqueue
// into without holding the table lock.
func (t *Table) Snapshot() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of live sessions.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
