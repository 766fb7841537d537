// Package router dispatches a persisted message to the session queues
// that should receive it, based on its message kind.
package router

import (
	"log/slog"

	"github.com/agent-hub/hub/internal/hub/session"
	"github.com/agent-hub/hub/internal/hub/store"
)

// Table is the subset of session.Table the router depends on.
type Table interface {
	Lookup(agentID string) (*session.Session, bool)
	Snapshot() []*session.Session
}

// Router fans a stored message out to live sessions according to its
// MessageType: DIRECT goes to exactly one recipient, BROADCAST/EVENT go
// to every other live session, HEARTBEAT is a liveness signal and is
// never redelivered to anyone else.
type Router struct {
	sessions Table
	logger   *slog.Logger
}

// New creates a Router over the given session table.
func New(sessions Table, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sessions: sessions, logger: logger.With("component", "router")}
}

// Route delivers msg (already persisted, with its server-assigned
// timestamp) to the appropriate live session queues.
func (r *Router) Route(msg store.Message) {
	env := session.EnvelopeFromMessage(msg)

	switch msg.Type {
	case store.TypeHeartbeat:
		return

	case store.TypeDirect:
		if msg.RecipientID == "" {
			r.logger.Warn("direct message missing recipient", "message_id", msg.ID)
			return
		}
		s, ok := r.sessions.Lookup(msg.RecipientID)
		if !ok {
			return // recipient offline; Reconnect Replay will catch it up
		}
		s.Enqueue(env, r.logger)

	case store.TypeBroadcast, store.TypeEvent:
		for _, s := range r.sessions.Snapshot() {
			if s.AgentID == msg.SenderID {
				continue
			}
			s.Enqueue(env, r.logger)
		}

	default:
		r.logger.Warn("unknown message type", "message_id", msg.ID, "type", msg.Type)
	}
}
