package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAssignsMonotonicTimestamps(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 50; i++ {
		msg, err := s.Append(ctx, Message{ID: fmt.Sprintf("m%d", i), SenderID: "a", Type: TypeEvent})
		require.NoError(t, err)
		assert.Greater(t, msg.Timestamp, last)
		last = msg.Timestamp
	}
}

func TestScanAfterExcludesOwnMessagesAndHeartbeats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m1, err := s.Append(ctx, Message{ID: "1", SenderID: "b", RecipientID: "a", Type: TypeDirect})
	require.NoError(t, err)
	_, err = s.Append(ctx, Message{ID: "2", SenderID: "a", Type: TypeBroadcast})
	require.NoError(t, err)
	_, err = s.Append(ctx, Message{ID: "3", SenderID: "b", Type: TypeHeartbeat})
	require.NoError(t, err)
	m4, err := s.Append(ctx, Message{ID: "4", SenderID: "c", Type: TypeBroadcast})
	require.NoError(t, err)

	got, err := s.ScanAfter(ctx, "a", 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, m1.ID, got[0].ID)
	assert.Equal(t, m4.ID, got[1].ID)
}

func TestScanAfterRespectsCursor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m1, err := s.Append(ctx, Message{ID: "1", SenderID: "b", Type: TypeBroadcast})
	require.NoError(t, err)
	_, err = s.Append(ctx, Message{ID: "2", SenderID: "b", Type: TypeBroadcast})
	require.NoError(t, err)

	got, err := s.ScanAfter(ctx, "a", m1.Timestamp, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)
}
