package auth

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/agent-hub/hub/internal/hub/token"
)

func logAuthFailure(logger *slog.Logger, ctx context.Context, reason string) {
	if logger == nil {
		return
	}
	attrs := []any{"reason", reason}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		attrs = append(attrs, "peer_addr", p.Addr.String())
	}
	logger.Warn("auth failure", attrs...)
}

func extractAgentID(ctx context.Context, verifier token.Verifier, logger *slog.Logger) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		logAuthFailure(logger, ctx, "missing_metadata")
		return "", status.Error(codes.Unauthenticated, "missing metadata")
	}

	authHeaders := md.Get("authorization")
	if len(authHeaders) == 0 {
		logAuthFailure(logger, ctx, "missing_authorization_header")
		return "", status.Error(codes.Unauthenticated, "missing authorization header")
	}

	authHeader := authHeaders[0]
	if !strings.HasPrefix(authHeader, "Bearer ") {
		logAuthFailure(logger, ctx, "malformed_authorization_header")
		return "", status.Error(codes.Unauthenticated, "invalid authorization header format")
	}

	tok := strings.TrimPrefix(authHeader, "Bearer ")
	agentID, err := verifier.Verify(tok)
	if err != nil {
		logAuthFailure(logger, ctx, "token_invalid")
		return "", status.Error(codes.Unauthenticated, "invalid or expired token")
	}

	return agentID, nil
}

// UnaryInterceptor authenticates unary RPCs (RegisterAgent is
// unauthenticated by design and must be excluded from the chain it's
// installed on; only operator-facing unary RPCs use this).
func UnaryInterceptor(verifier token.Verifier, logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		agentID, err := extractAgentID(ctx, verifier, logger)
		if err != nil {
			return nil, err
		}
		return handler(WithAgentID(ctx, agentID), req)
	}
}

// StreamInterceptor authenticates the metadata attached to a
// StreamMessages call before the handler ever sees it, implementing the
// AwaitingAuth phase of the stream state machine.
func StreamInterceptor(verifier token.Verifier, logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		agentID, err := extractAgentID(ss.Context(), verifier, logger)
		if err != nil {
			return err
		}
		wrapped := &wrappedServerStream{ServerStream: ss, ctx: WithAgentID(ss.Context(), agentID)}
		return handler(srv, wrapped)
	}
}

type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
