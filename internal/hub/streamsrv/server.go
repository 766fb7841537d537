// Package streamsrv implements HubService. Each StreamMessages call is
// authenticated from its metadata by auth.StreamInterceptor, then bound,
// served, drained and closed. There is no separate first-frame phase:
// the session is bound before any frame is read, and the sender_id of
// inbound frames is not checked but replaced by the authenticated
// agent_id.
package streamsrv

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pb "github.com/agent-hub/hub/proto/hub"

	"github.com/agent-hub/hub/internal/hub/auth"
	"github.com/agent-hub/hub/internal/hub/dedupe"
	"github.com/agent-hub/hub/internal/hub/registry"
	"github.com/agent-hub/hub/internal/hub/replay"
	"github.com/agent-hub/hub/internal/hub/router"
	"github.com/agent-hub/hub/internal/hub/session"
	"github.com/agent-hub/hub/internal/hub/store"
	"github.com/agent-hub/hub/internal/hub/token"
)

// Registrar issues agent identities.
type Registrar interface {
	Register(ctx context.Context, name, agentType string) (agentID, tok string, err error)
}

// Appender persists inbound frames.
type Appender interface {
	Append(ctx context.Context, msg store.Message) (store.Message, error)
}

// Server implements pb.HubServiceServer.
type Server struct {
	pb.UnimplementedHubServiceServer

	ServerID string

	registry Registrar
	store    Appender
	sessions *session.Table
	router   *router.Router
	tokens   token.Verifier
	dedupe   *dedupe.Cache

	replayOpts replay.Options
	logger     *slog.Logger
}

// Config bundles the collaborators a Server needs.
type Config struct {
	ServerID   string
	Registry   Registrar
	Store      Appender
	Sessions   *session.Table
	Router     *router.Router
	Tokens     token.Verifier
	Dedupe     *dedupe.Cache
	ReplayOpts replay.Options
	Logger     *slog.Logger
}

// New builds a Server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ServerID:   cfg.ServerID,
		registry:   cfg.Registry,
		store:      cfg.Store,
		sessions:   cfg.Sessions,
		router:     cfg.Router,
		tokens:     cfg.Tokens,
		dedupe:     cfg.Dedupe,
		replayOpts: cfg.ReplayOpts,
		logger:     logger.With("component", "stream_handler"),
	}
}

// RegisterAgent issues a fresh agent identity and bearer token.
func (s *Server) RegisterAgent(ctx context.Context, req *pb.RegisterAgentRequest) (*pb.RegisterAgentResponse, error) {
	agentID, tok, err := s.registry.Register(ctx, req.GetAgentName(), req.GetAgentType())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "registering agent: %v", err)
	}
	return &pb.RegisterAgentResponse{AgentId: agentID, Token: tok, ServerId: s.ServerID}, nil
}

// StreamMessages is the bidirectional RPC every connected agent holds
// open for the lifetime of its connection.
//
// AwaitingAuth is handled entirely by the auth.StreamInterceptor chained
// in front of this handler: by the time we're here, ctx already carries
// the authenticated agent_id, or the call never reached this method.
func (s *Server) StreamMessages(stream pb.HubService_StreamMessagesServer) error {
	ctx := stream.Context()
	agentID := auth.AgentIDFromContext(ctx)
	if agentID == "" {
		return status.Error(codes.Unauthenticated, "no authenticated agent identity on stream")
	}

	logger := s.logger.With("agent_id", agentID)

	// Bound: the session is registered as soon as the stream opens, before
	// any frame is read and before the sender and replay tasks start.
	sess := s.sessions.Bind(agentID)
	logger.Info("=== AGENT CONNECTED ===")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	senderDone := make(chan struct{})
	go func() {
		defer close(senderDone)
		s.runSender(runCtx, stream, sess, logger)
	}()

	go replay.Run(runCtx, s.storeScanner(), sess, 0, s.replayOpts, logger)

	recvDone := make(chan error, 1)
	go func() { recvDone <- s.runReceiver(ctx, stream, agentID, logger) }()

	// Draining starts when the inbound side ends or the sender stops on a
	// write error.
	var err error
	select {
	case err = <-recvDone:
	case <-senderDone:
	}

	// Draining: stop producing new sends, let the sender task notice via
	// cancel, then Closed: unbind.
	cancel()
	<-senderDone
	s.sessions.Unbind(agentID, sess)
	logger.Info("=== AGENT DISCONNECTED ===")

	return err
}

// storeScanner narrows s.store down to the replay.Scanner interface; the
// concrete *store.Store satisfies both Appender and Scanner.
func (s *Server) storeScanner() replay.Scanner {
	scanner, ok := s.store.(replay.Scanner)
	if !ok {
		panic("streamsrv: configured store does not implement replay.Scanner")
	}
	return scanner
}

// runReceiver handles inbound frames: persist, then route. HEARTBEAT
// frames are neither persisted nor routed.
func (s *Server) runReceiver(ctx context.Context, stream pb.HubService_StreamMessagesServer, agentID string, logger *slog.Logger) error {
	for {
		in, err := stream.Recv()
		if err != nil {
			if err == io.EOF || errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return err
		}

		if in.GetMessageType() == pb.MessageType_HEARTBEAT {
			continue
		}

		msg := fromWire(in, agentID)
		if msg.ID == "" {
			msg.ID = uuid.New().String()
		}

		persisted, err := s.store.Append(ctx, msg)
		if err != nil {
			logger.Error("failed to persist message", "error", err, "message_id", msg.ID)
			continue
		}

		s.router.Route(persisted)
	}
}

// runSender drains the session queue to the wire, filtering duplicates
// that might arrive via both the live Router path and Reconnect Replay.
// The dedup key is scoped to this recipient: the same broadcast
// message_id is legitimately delivered to every other live session, and
// must not be collapsed across them.
func (s *Server) runSender(ctx context.Context, stream pb.HubService_StreamMessagesServer, sess *session.Session, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sess.Recv():
			if !ok {
				return
			}
			if s.dedupe != nil && s.dedupe.CheckAndMark(sess.AgentID+":"+env.MessageID) {
				continue
			}
			out := &pb.Message{
				MessageId:     env.MessageID,
				SenderId:      env.SenderID,
				RecipientId:   env.RecipientID,
				MessageType:   pb.MessageType(env.Type),
				Payload:       env.Data,
				Timestamp:     env.Cursor,
				CorrelationId: env.CorrelationID,
			}
			if err := stream.Send(out); err != nil {
				logger.Warn("send failed, tearing down stream", "error", err)
				return
			}
		}
	}
}

func fromWire(in *pb.Message, senderID string) store.Message {
	return store.Message{
		ID:            in.GetMessageId(),
		SenderID:      senderID,
		RecipientID:   in.GetRecipientId(),
		Type:          store.MessageType(in.GetMessageType()),
		Payload:       in.GetPayload(),
		CorrelationID: in.GetCorrelationId(),
	}
}

