package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMinter struct {
	err error
}

func (f *fakeMinter) Mint(agentID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "token-for-" + agentID, nil
}

func TestRegisterIssuesDistinctIdentities(t *testing.T) {
	r := New(&fakeMinter{}, nil)

	id1, tok1, err := r.Register(context.Background(), "alice", "coordinator")
	require.NoError(t, err)
	id2, tok2, err := r.Register(context.Background(), "alice", "coordinator")
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.NotEqual(t, tok1, tok2)

	info, ok := r.Lookup(id1)
	require.True(t, ok)
	assert.Equal(t, "alice", info.Name)
}

func TestRegisterPropagatesMintErrors(t *testing.T) {
	r := New(&fakeMinter{err: errors.New("boom")}, nil)
	_, _, err := r.Register(context.Background(), "alice", "coordinator")
	assert.Error(t, err)
}

func TestListReturnsAllRegistered(t *testing.T) {
	r := New(&fakeMinter{}, nil)
	r.Register(context.Background(), "alice", "coordinator")
	r.Register(context.Background(), "bob", "worker")

	assert.Len(t, r.List(), 2)
}
