// Command hub-agent is a minimal reference client for manually
// exercising the hub: register, open a stream, optionally send one
// message, and print whatever arrives.
//
// Usage: hub-agent [-addr localhost:50051] [-name demo-agent] [-type demo] [-to agent-id] [-body text]
//
// The message sent with -body is DIRECT when -to is set and BROADCAST
// otherwise; EVENT and HEARTBEAT frames cannot be sent from this client.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	pb "github.com/agent-hub/hub/proto/hub"
)

func main() {
	addr := flag.String("addr", "localhost:50051", "hub gRPC address")
	name := flag.String("name", "demo-agent", "agent display name")
	agentType := flag.String("type", "demo", "agent type")
	to := flag.String("to", "", "recipient agent_id for a DIRECT send; empty sends BROADCAST")
	body := flag.String("body", "", "message body to send once, then idle and print received messages")
	flag.Parse()

	if err := run(*addr, *name, *agentType, *to, *body); err != nil {
		log.Fatal(err)
	}
}

func run(addr, name, agentType, to, body string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	client := pb.NewHubServiceClient(conn)

	reg, err := client.RegisterAgent(ctx, &pb.RegisterAgentRequest{AgentName: name, AgentType: agentType})
	if err != nil {
		return fmt.Errorf("registering: %w", err)
	}
	fmt.Fprintf(os.Stderr, "registered as %s (server %s)\n", reg.GetAgentId(), reg.GetServerId())

	streamCtx := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+reg.GetToken())
	stream, err := client.StreamMessages(streamCtx)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}

	if body != "" {
		msgType := pb.MessageType_BROADCAST
		if to != "" {
			msgType = pb.MessageType_DIRECT
		}
		if err := stream.Send(&pb.Message{
			MessageId:   uuid.New().String(),
			RecipientId: to,
			MessageType: msgType,
			Payload:     []byte(body),
		}); err != nil {
			return fmt.Errorf("sending: %w", err)
		}
	}

	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("recv: %w", err)
		}
		log.Printf("received [%s]: %s", msg.GetMessageId(), string(msg.GetPayload()))
		time.Sleep(10 * time.Millisecond)
	}
}
