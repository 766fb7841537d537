// Package registry issues stable agent identities on first contact.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Minter mints a bearer token for a newly (or previously) registered agent.
type Minter interface {
	Mint(agentID string) (string, error)
}

// Info is what the registry remembers about an agent, purely advisory —
// never consulted for routing or auth decisions.
type Info struct {
	AgentID   string
	Name      string
	Type      string
	CreatedAt time.Time
}

// Registry hands out agent IDs and keeps light advisory metadata about
// them. It does not track liveness — that is the Session Table's job.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Info
	tokens Minter
	logger *slog.Logger
}

// New creates a Registry backed by a token Minter.
func New(tokens Minter, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		agents: make(map[string]*Info),
		tokens: tokens,
		logger: logger.With("component", "registry"),
	}
}

// Register issues a new agent_id for (name, agentType) and mints its
// initial token. Re-registering under the same name is permitted and
// yields a fresh identity each time — the hub does not deduplicate
// agents by name.
func (r *Registry) Register(ctx context.Context, name, agentType string) (agentID, tok string, err error) {
	agentID = uuid.New().String()

	tok, err = r.tokens.Mint(agentID)
	if err != nil {
		return "", "", fmt.Errorf("minting token: %w", err)
	}

	info := &Info{AgentID: agentID, Name: name, Type: agentType, CreatedAt: time.Now()}

	r.mu.Lock()
	r.agents[agentID] = info
	r.mu.Unlock()

	r.logger.Info("agent registered", "agent_id", agentID, "name", name, "type", agentType)
	return agentID, tok, nil
}

// Lookup returns the advisory info for agentID, if it was registered by
// this process. Returns false for agents known only because they were
// previously issued a still-valid token across a restart.
func (r *Registry) Lookup(agentID string) (*Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.agents[agentID]
	return info, ok
}

// List returns every agent this registry has recorded, for operator
// introspection.
func (r *Registry) List() []*Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Info, 0, len(r.agents))
	for _, info := range r.agents {
		out = append(out, info)
	}
	return out
}
