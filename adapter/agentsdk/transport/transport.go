// Package transport runs a Claude Code CLI subprocess and speaks its
// newline-delimited stream-json control protocol over stdin/stdout.
package transport

import "context"

// Transport is the wire-level connection to a running CLI process.
// Production code uses SubprocessTransport; tests supply a fake.
type Transport interface {
	Connect(ctx context.Context) error

	// Write sends one line of JSON to the CLI's stdin.
	Write(data string) error

	// ReadMessages yields raw JSON messages read from stdout, one per line.
	ReadMessages() <-chan []byte

	// Errors yields transport-level errors (process death, stdout read failures).
	Errors() <-chan error

	Close() error
	IsConnected() bool

	// SignalShutdown marks a shutdown as intentional, so the resulting
	// process-exit is logged at debug rather than error level.
	SignalShutdown()
}
