package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type fakeVerifier struct {
	agentID string
	err     error
}

func (f *fakeVerifier) Verify(tokenString string) (string, error) {
	return f.agentID, f.err
}

func TestExtractAgentIDSucceeds(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer good-token"))
	agentID, err := extractAgentID(ctx, &fakeVerifier{agentID: "agent-1"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, "agent-1", agentID)
}

func TestExtractAgentIDMissingMetadata(t *testing.T) {
	_, err := extractAgentID(context.Background(), &fakeVerifier{}, nil)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestExtractAgentIDMissingHeader(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.MD{})
	_, err := extractAgentID(ctx, &fakeVerifier{}, nil)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestExtractAgentIDMalformedHeader(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Basic xyz"))
	_, err := extractAgentID(ctx, &fakeVerifier{}, nil)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}
