// Package notifier relays BROADCAST/EVENT traffic from the hub into a
// Matrix room as human-readable, Markdown-rendered notices. It never
// writes to the Message Store and never participates in routing —
// a failure here cannot affect delivery guarantees.
package notifier

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Config configures the Matrix relay.
type Config struct {
	Homeserver   string
	UserID       string
	AccessToken  string
	AllowedRooms []string
}

// Bridge relays hub traffic into Matrix.
type Bridge struct {
	cfg      Config
	client   *mautrix.Client
	markdown goldmark.Markdown
	logger   *slog.Logger
}

// New creates a Bridge. The Matrix client authenticates via a
// pre-issued access token — the notifier is a machine relay, not an
// interactive user, so it never runs an interactive login flow.
func New(cfg Config, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithUnsafe()),
	)

	return &Bridge{cfg: cfg, client: client, markdown: md, logger: logger.With("component", "notifier")}, nil
}

// isAllowed reports whether roomID may be notified.
func (b *Bridge) isAllowed(roomID string) bool {
	if len(b.cfg.AllowedRooms) == 0 {
		return true
	}
	for _, r := range b.cfg.AllowedRooms {
		if r == roomID {
			return true
		}
	}
	return false
}

// Notify renders body as Markdown and posts it to roomID as a formatted
// Matrix message.
func (b *Bridge) Notify(ctx context.Context, roomID, senderAgentID, body string) error {
	if !b.isAllowed(roomID) {
		return fmt.Errorf("room %s is not in the allowed_rooms list", roomID)
	}

	var rendered bytes.Buffer
	if err := b.markdown.Convert([]byte(body), &rendered); err != nil {
		return fmt.Errorf("rendering markdown: %w", err)
	}

	content := &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          fmt.Sprintf("[%s] %s", senderAgentID, body),
		Format:        event.FormatHTML,
		FormattedBody: rendered.String(),
	}

	_, err := b.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, content)
	if err != nil {
		return fmt.Errorf("sending matrix message: %w", err)
	}
	return nil
}
