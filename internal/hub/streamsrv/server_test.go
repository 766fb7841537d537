package streamsrv

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	pb "github.com/agent-hub/hub/proto/hub"

	"github.com/agent-hub/hub/internal/hub/dedupe"
	"github.com/agent-hub/hub/internal/hub/router"
	"github.com/agent-hub/hub/internal/hub/session"
	"github.com/agent-hub/hub/internal/hub/store"
)

func TestFromWireCopiesFieldsAndStampsSender(t *testing.T) {
	in := &pb.Message{
		MessageId:     "m1",
		RecipientId:   "agent-b",
		MessageType:   pb.MessageType_DIRECT,
		Payload:       []byte("hello"),
		CorrelationId: "corr-1",
	}

	got := fromWire(in, "agent-a")

	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, "agent-a", got.SenderID)
	assert.Equal(t, "agent-b", got.RecipientID)
	assert.Equal(t, store.TypeDirect, got.Type)
	assert.Equal(t, []byte("hello"), got.Payload)
	assert.Equal(t, "corr-1", got.CorrelationID)
}

func TestFromWireAssignsNoIDWhenMissing(t *testing.T) {
	in := &pb.Message{MessageType: pb.MessageType_HEARTBEAT}
	got := fromWire(in, "agent-a")
	assert.Empty(t, got.ID, "ID assignment on missing message_id happens in the caller, not fromWire")
}

// fakeInboundStream yields a fixed sequence of inbound frames, then io.EOF.
type fakeInboundStream struct {
	grpc.ServerStream
	msgs []*pb.Message
	pos  int
}

func (f *fakeInboundStream) Recv() (*pb.Message, error) {
	if f.pos >= len(f.msgs) {
		return nil, io.EOF
	}
	m := f.msgs[f.pos]
	f.pos++
	return m, nil
}

// fakeOutboundStream captures every frame sent to it.
type fakeOutboundStream struct {
	grpc.ServerStream
	mu  sync.Mutex
	out []*pb.Message
}

func (f *fakeOutboundStream) Send(m *pb.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, m)
	return nil
}

func (f *fakeOutboundStream) sent() []*pb.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*pb.Message, len(f.out))
	copy(out, f.out)
	return out
}

func newTestServer(t *testing.T) (*Server, *session.Table) {
	t.Helper()
	st, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sessions := session.NewTable(0, nil)
	rtr := router.New(sessions, nil)
	dc := dedupe.New(time.Minute, 1000)
	t.Cleanup(dc.Close)

	srv := New(Config{
		ServerID: "srv-1",
		Store:    st,
		Sessions: sessions,
		Router:   rtr,
		Dedupe:   dc,
	})
	return srv, sessions
}

// TestDirectMessageCarriesSenderThroughToWire drives a DIRECT frame from
// agent-a through persist -> route -> sender queue -> wire, and asserts
// the delivered frame carries the originator, recipient, and payload
// rather than an empty sender_id.
func TestDirectMessageCarriesSenderThroughToWire(t *testing.T) {
	srv, sessions := newTestServer(t)
	recipient := sessions.Bind("agent-b")

	in := &fakeInboundStream{msgs: []*pb.Message{
		{MessageId: "m1", RecipientId: "agent-b", MessageType: pb.MessageType_DIRECT, Payload: []byte("hi")},
	}}
	err := srv.runReceiver(context.Background(), in, "agent-a", slog.Default())
	assert.NoError(t, err)

	var env session.Envelope
	select {
	case env = <-recipient.Recv():
	case <-time.After(time.Second):
		t.Fatal("recipient never received the routed message")
	}
	assert.Equal(t, "agent-a", env.SenderID)
	assert.Equal(t, "agent-b", env.RecipientID)
	assert.Equal(t, []byte("hi"), env.Data)

	out := &fakeOutboundStream{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.runSender(ctx, out, recipient, slog.Default())
		close(done)
	}()

	require.Eventually(t, func() bool { return len(out.sent()) == 1 }, time.Second, time.Millisecond)
	cancel()
	<-done

	sent := out.sent()[0]
	assert.Equal(t, "agent-a", sent.GetSenderId())
	assert.Equal(t, "agent-b", sent.GetRecipientId())
	assert.Equal(t, pb.MessageType_DIRECT, sent.GetMessageType())
	assert.Equal(t, []byte("hi"), sent.GetPayload())
}

// TestBroadcastReachesEveryOtherRecipientOnce drives a BROADCAST from
// agent-a through the same pipeline with two live recipients, and
// asserts both receive it exactly once despite the shared message_id
// and the process-wide dedup cache.
func TestBroadcastReachesEveryOtherRecipientOnce(t *testing.T) {
	srv, sessions := newTestServer(t)
	b := sessions.Bind("agent-b")
	c := sessions.Bind("agent-c")

	in := &fakeInboundStream{msgs: []*pb.Message{
		{MessageId: "m1", MessageType: pb.MessageType_BROADCAST, Payload: []byte("hello everyone")},
	}}
	err := srv.runReceiver(context.Background(), in, "agent-a", slog.Default())
	assert.NoError(t, err)

	bOut := &fakeOutboundStream{}
	cOut := &fakeOutboundStream{}
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); srv.runSender(ctx, bOut, b, slog.Default()) }()
	go func() { defer wg.Done(); srv.runSender(ctx, cOut, c, slog.Default()) }()

	require.Eventually(t, func() bool {
		return len(bOut.sent()) == 1 && len(cOut.sent()) == 1
	}, time.Second, time.Millisecond)
	cancel()
	wg.Wait()

	assert.Equal(t, "agent-a", bOut.sent()[0].GetSenderId())
	assert.Equal(t, "agent-a", cOut.sent()[0].GetSenderId())
	assert.Len(t, bOut.sent(), 1, "agent-b must not see the broadcast twice")
	assert.Len(t, cOut.sent(), 1, "agent-c must not see the broadcast twice")
}
