// Package httpapi exposes health/readiness checks and an SSE catch-up +
// live push surface for non-gRPC UI clients.
package httpapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/agent-hub/hub/internal/hub/replay"
	"github.com/agent-hub/hub/internal/hub/session"
	"github.com/agent-hub/hub/internal/hub/token"
)

// SessionCounter reports how many sessions are currently live, used by
// the readiness probe.
type SessionCounter interface {
	Count() int
}

// Handler wires the health/readiness/SSE endpoints into an *http.ServeMux.
type Handler struct {
	sessions   SessionCounter
	scanner    replay.Scanner
	tokens     token.Verifier
	replayOpts replay.Options
	logger     *slog.Logger
}

// New builds an httpapi.Handler.
func New(sessions SessionCounter, scanner replay.Scanner, tokens token.Verifier, replayOpts replay.Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sessions: sessions, scanner: scanner, tokens: tokens, replayOpts: replayOpts, logger: logger.With("component", "httpapi")}
}

// Register attaches every route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/health/ready", h.handleReady)
	mux.HandleFunc("/v1/agents/", h.handleAgentEvents)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.sessions.Count() == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no live sessions"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleAgentEvents implements GET /v1/agents/{agent_id}/events as a
// text/event-stream, authenticated by the same bearer token the gRPC
// surface uses. It reuses the Reconnect Replay task's poll loop against
// a session scoped to this HTTP connection rather than re-deriving
// routing or fan-out policy for a second transport.
func (h *Handler) handleAgentEvents(w http.ResponseWriter, r *http.Request) {
	agentID, ok := parseAgentEventsPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	tokenString, ok := bearerToken(r)
	if !ok {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	verifiedID, err := h.tokens.Verify(tokenString)
	if err != nil || verifiedID != agentID {
		http.Error(w, "invalid token for this agent", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := session.NewTable(0, h.logger).Bind(agentID) // isolated local session for this HTTP subscriber
	go replay.Run(ctx, h.scanner, sess, 0, h.replayOpts, h.logger)

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-sess.Recv():
			fmt.Fprintf(w, "id: %d\ndata: %s\n\n", env.Cursor, base64.StdEncoding.EncodeToString(env.Data))
			flusher.Flush()
		case <-time.After(30 * time.Second):
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func parseAgentEventsPath(path string) (agentID string, ok bool) {
	const prefix = "/v1/agents/"
	const suffix = "/events"
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix)
	if id == "" {
		return "", false
	}
	return id, true
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(h, "Bearer "), true
}
