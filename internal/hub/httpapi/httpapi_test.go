package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-hub/hub/internal/hub/replay"
)

type fakeCounter struct{ n int }

func (f fakeCounter) Count() int { return f.n }

type fakeVerifier struct {
	id  string
	err error
}

func (f fakeVerifier) Verify(tokenString string) (string, error) {
	return f.id, f.err
}

func newHandler(count int, verifierID string) *Handler {
	return New(fakeCounter{n: count}, nil, fakeVerifier{id: verifierID}, replay.Options{}, nil)
}

func TestHandleHealthAlwaysOK(t *testing.T) {
	h := newHandler(0, "")
	rec := httptest.NewRecorder()
	h.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleReadyReflectsSessionCount(t *testing.T) {
	empty := newHandler(0, "")
	rec := httptest.NewRecorder()
	empty.handleReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	live := newHandler(3, "")
	rec = httptest.NewRecorder()
	live.handleReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleAgentEventsRejectsMissingToken(t *testing.T) {
	h := newHandler(1, "agent-1")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/agents/agent-1/events", nil)
	h.handleAgentEvents(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleAgentEventsRejectsTokenForOtherAgent(t *testing.T) {
	h := newHandler(1, "agent-2")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/agents/agent-1/events", nil)
	req.Header.Set("Authorization", "Bearer sometoken")
	h.handleAgentEvents(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleAgentEventsRejectsUnknownPath(t *testing.T) {
	h := newHandler(1, "agent-1")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/agents//events", nil)
	h.handleAgentEvents(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParseAgentEventsPath(t *testing.T) {
	id, ok := parseAgentEventsPath("/v1/agents/agent-7/events")
	require.True(t, ok)
	assert.Equal(t, "agent-7", id)

	_, ok = parseAgentEventsPath("/v1/agents//events")
	assert.False(t, ok)

	_, ok = parseAgentEventsPath("/other/path")
	assert.False(t, ok)
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := bearerToken(req)
	assert.False(t, ok)

	req.Header.Set("Authorization", "Bearer abc123")
	tok, ok := bearerToken(req)
	require.True(t, ok)
	assert.Equal(t, "abc123", tok)

	req.Header.Set("Authorization", "Basic xyz")
	_, ok = bearerToken(req)
	assert.False(t, ok)
}

func TestRegisterAttachesRoutes(t *testing.T) {
	h := newHandler(1, "agent-1")
	mux := http.NewServeMux()
	h.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
