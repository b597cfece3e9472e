package broadcast

import (
	"time"

	"robomon/internal/match"
	"robomon/internal/statetable"
)

// Sender is the transport side of a session: the websocket connection in
// production, a fake in tests.
type Sender interface {
	// Send delivers one already-encoded message. It must be safe to call
	// from the session goroutine and the heartbeat loop concurrently.
	Send(data []byte) error
	// Ping sends a transport-level liveness probe.
	Ping() error
	// Close tears the transport down. It must be idempotent.
	Close() error
}

// SnapshotMessage is the periodic payload pushed to every session.
type SnapshotMessage struct {
	Type      string             `json:"type"` // "snapshot"
	Timestamp time.Time          `json:"timestamp"`
	Robots    []statetable.Entry `json:"robots"`
	Match     *match.Summary     `json:"match,omitempty"`
}

// PingMessage is the application-level heartbeat. Subscribers answer with a
// "pong" or "heartbeat" message to stay registered.
type PingMessage struct {
	Type      string    `json:"type"` // "ping"
	Timestamp time.Time `json:"timestamp"`
}

const (
	MessageTypeSnapshot = "snapshot"
	MessageTypePing     = "ping"
)
