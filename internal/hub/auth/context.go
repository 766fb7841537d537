// Package auth provides gRPC interceptors that authenticate a call's
// "authorization: Bearer" metadata against the Token Service and
// propagate the resulting agent identity through context.
package auth

import "context"

type agentContextKey struct{}

// WithAgentID attaches the authenticated agent_id to ctx.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentContextKey{}, agentID)
}

// AgentIDFromContext retrieves the agent_id attached by the auth
// interceptor, returning "" if none is present.
func AgentIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(agentContextKey{}).(string)
	return v
}
