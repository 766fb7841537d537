// Command hub-notify relays BROADCAST/EVENT traffic from a hub into a
// Matrix room for human observability. It is optional infrastructure:
// it authenticates as an ordinary hub agent and never touches the
// Message Store or routing directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	pb "github.com/agent-hub/hub/proto/hub"

	"github.com/agent-hub/hub/internal/hub/notifier"
)

func main() {
	configPath := flag.String("config", "hub-notify.toml", "path to TOML config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string) error {
	cfg, err := Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	bridge, err := notifier.New(notifier.Config{
		Homeserver:   cfg.Matrix.Homeserver,
		UserID:       cfg.Matrix.UserID,
		AccessToken:  cfg.Matrix.AccessToken,
		AllowedRooms: cfg.Matrix.AllowedRooms,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating matrix bridge: %w", err)
	}

	conn, err := grpc.NewClient(cfg.Hub.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connecting to hub: %w", err)
	}
	defer conn.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	client := pb.NewHubServiceClient(conn)
	streamCtx := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+cfg.Hub.Token)
	stream, err := client.StreamMessages(streamCtx)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}

	logger.Info("hub-notify relay started", "room_id", cfg.Matrix.RoomID)

	for {
		msg, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("recv: %w", err)
		}

		if msg.GetMessageType() != pb.MessageType_BROADCAST && msg.GetMessageType() != pb.MessageType_EVENT {
			continue
		}

		if err := bridge.Notify(ctx, cfg.Matrix.RoomID, msg.GetSenderId(), string(msg.GetPayload())); err != nil {
			logger.Warn("failed to relay message to matrix", "error", err, "message_id", msg.GetMessageId())
		}
	}
}
