// Package transport implements the WebSocket-like transport contract of
// spec.md §6: "listen(onCLIConnection, onConsumerConnection) where each
// connection callback receives a socket with send(string), close(code,
// reason), and a message stream." This module only ever uses the
// consumer side — the CLI/backend side is owned by the adapter plane.
package transport

import (
	"context"

	"github.com/relaykit/agentbroker/auth"
)

// Socket is a live connection: buffered send, idempotent close, and an
// inbound message stream. It satisfies bridge.Consumer.
type Socket interface {
	Send(payload []byte) error
	Close(code int, reason string) error
	// Messages is the inbound frame stream; it closes when the
	// underlying connection ends.
	Messages() <-chan []byte
}

// ConsumerHandler is invoked once per accepted consumer connection.
// req carries the transport-supplied auth context (headers, query) per
// spec.md §6's "Consumer sockets additionally carry an auth context
// {sessionId, transport}."
type ConsumerHandler func(ctx context.Context, socket Socket, sessionID string, req auth.Request)

// Transport listens for consumer connections and hands each to handler.
type Transport interface {
	// Serve blocks, accepting connections until ctx is canceled.
	Serve(ctx context.Context, handler ConsumerHandler) error
	// Shutdown stops accepting new connections and closes the listener.
	Shutdown(ctx context.Context) error
}
