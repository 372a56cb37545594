package conn

import (
	"context"

	"github.com/appointly/chatsync/internal/core"
	"github.com/appointly/chatsync/internal/proto"
)

// EventKind names the inbound event streams callers can subscribe to.
type EventKind string

const (
	// EventMessageReceived carries a message sent by the other party.
	EventMessageReceived EventKind = "message_received"
	// EventMessageSent carries the server's echo of a message this
	// client sent.
	EventMessageSent EventKind = "message_sent"
)

// Event is one inbound occurrence on the duplex channel.
type Event struct {
	Kind    EventKind
	Message core.Message
}

// Transport is the opaque duplex channel the manager drives. Connect
// re-establishes the channel after a drop; Events returns the stream for
// the current connection and is closed when that connection dies.
type Transport interface {
	Connect(ctx context.Context, token string) error
	Send(ctx context.Context, msg proto.MsgData) (serverID string, err error)
	Events() <-chan Event
	Connected() bool
	Close() error
}

// Handler consumes inbound messages of one event kind.
type Handler func(core.Message)

// TokenFunc supplies the credential for a handshake. An empty token with
// nil error means no credential is available yet; the connect attempt is
// treated as failed and retried.
type TokenFunc func(ctx context.Context) (string, error)
