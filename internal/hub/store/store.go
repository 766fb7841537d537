// Package store provides append-only persistence for agent_messages,
// with strictly monotonic server-assigned timestamps.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("message not found")

// MessageType mirrors the wire enum (DIRECT=0, BROADCAST=1, EVENT=2, HEARTBEAT=3).
type MessageType int32

const (
	TypeDirect MessageType = iota
	TypeBroadcast
	TypeEvent
	TypeHeartbeat
)

// Message is a single persisted frame.
type Message struct {
	ID            string
	SenderID      string
	RecipientID   string // empty for BROADCAST/EVENT/HEARTBEAT
	Type          MessageType
	Payload       []byte
	Timestamp     int64 // nanoseconds since epoch, server-assigned
	CorrelationID string
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS agent_messages (
	message_id     TEXT PRIMARY KEY,
	sender_id      TEXT NOT NULL,
	recipient_id   TEXT,
	message_type   INTEGER NOT NULL,
	payload        BLOB,
	timestamp      INTEGER NOT NULL,
	correlation_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_agent_messages_recipient_ts ON agent_messages(recipient_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_agent_messages_timestamp ON agent_messages(timestamp);
`

// Store is the sqlite-backed Message Store. Writes are serialized through
// writeMu so the assigned timestamp is guaranteed strictly greater than
// any timestamp previously handed out, even under concurrent callers.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	writeMu sync.Mutex
	lastTS  int64
}

// Open creates (or reuses) a sqlite database at path. path may be ":memory:".
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, logger: logger.With("component", "store")}, nil
}

// nextTimestamp returns a value strictly greater than every timestamp this
// Store has previously assigned. Must be called with writeMu held.
func (s *Store) nextTimestamp() int64 {
	now := time.Now().UnixNano()
	if now <= s.lastTS {
		now = s.lastTS + 1
	}
	s.lastTS = now
	return now
}

// Append persists msg, assigning it a fresh monotonic timestamp and
// returning the stamped copy.
func (s *Store) Append(ctx context.Context, msg Message) (Message, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	msg.Timestamp = s.nextTimestamp()

	var recipient, correlation interface{}
	if msg.RecipientID != "" {
		recipient = msg.RecipientID
	}
	if msg.CorrelationID != "" {
		correlation = msg.CorrelationID
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_messages (message_id, sender_id, recipient_id, message_type, payload, timestamp, correlation_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SenderID, recipient, int32(msg.Type), msg.Payload, msg.Timestamp, correlation,
	)
	if err != nil {
		return Message{}, fmt.Errorf("inserting message: %w", err)
	}

	return msg, nil
}

// ScanAfter returns messages addressed to recipientID (directly, or by
// broadcast/event fan-out — recipientID empty) with timestamp strictly
// greater than cursor, oldest first, bounded by limit.
func (s *Store) ScanAfter(ctx context.Context, recipientID string, cursor int64, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, sender_id, recipient_id, message_type, payload, timestamp, correlation_id
		 FROM agent_messages
		 WHERE timestamp > ?
		   AND (recipient_id = ? OR recipient_id IS NULL)
		   AND sender_id != ?
		   AND message_type != ?
		 ORDER BY timestamp ASC
		 LIMIT ?`,
		cursor, recipientID, recipientID, int32(TypeHeartbeat), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var recipient, correlation sql.NullString
		var msgType int32
		if err := rows.Scan(&m.ID, &m.SenderID, &recipient, &msgType, &m.Payload, &m.Timestamp, &correlation); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		m.RecipientID = recipient.String
		m.CorrelationID = correlation.String
		m.Type = MessageType(msgType)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
