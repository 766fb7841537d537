package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintAndVerifyRoundTrip(t *testing.T) {
	svc := New([]byte("test-secret"), time.Hour)

	tok, err := svc.Mint("agent-1")
	require.NoError(t, err)

	agentID, err := svc.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", agentID)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	svc := New([]byte("test-secret"), time.Hour)

	tok, err := svc.MintFor("agent-1", -time.Minute)
	require.NoError(t, err)

	_, err = svc.Verify(tok)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	a := New([]byte("secret-a"), time.Hour)
	b := New([]byte("secret-b"), time.Hour)

	tok, err := a.Mint("agent-1")
	require.NoError(t, err)

	_, err = b.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	svc := New([]byte("test-secret"), time.Hour)

	_, err := svc.Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
