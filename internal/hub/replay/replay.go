// Package replay runs the per-session catch-up task that backfills
// messages an agent missed while it was disconnected.
package replay

import (
	"context"
	"log/slog"
	"time"

	"github.com/agent-hub/hub/internal/hub/session"
	"github.com/agent-hub/hub/internal/hub/store"
)

// Scanner is the subset of store.Store the replay task depends on.
type Scanner interface {
	ScanAfter(ctx context.Context, recipientID string, cursor int64, limit int) ([]store.Message, error)
}

const scanLimit = 256

// Options configures a replay task's polling cadence.
type Options struct {
	PollInterval time.Duration
	MaxBackoff   time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	return o
}

// Run scans the store for messages addressed to sess.AgentID since
// cursor, enqueues each into sess, and keeps polling until ctx is
// cancelled (stream teardown). Closing sess does not stop the loop; its
// enqueues into a closed session are discarded. It backs off on scan
// errors, capped at opts.MaxBackoff, and resets on the next success.
func Run(ctx context.Context, scanner Scanner, sess *session.Session, cursor int64, opts Options, logger *slog.Logger) {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "replay", "agent_id", sess.AgentID)

	interval := opts.PollInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		msgs, err := scanner.ScanAfter(ctx, sess.AgentID, cursor, scanLimit)
		if err != nil {
			logger.Warn("replay scan failed", "error", err, "backoff", interval)
			if interval < opts.MaxBackoff {
				interval *= 2
				if interval > opts.MaxBackoff {
					interval = opts.MaxBackoff
				}
				ticker.Reset(interval)
			}
			continue
		}

		if interval != opts.PollInterval {
			interval = opts.PollInterval
			ticker.Reset(interval)
		}

		for _, m := range msgs {
			sess.Enqueue(session.EnvelopeFromMessage(m), logger)
			cursor = m.Timestamp
		}
	}
}
