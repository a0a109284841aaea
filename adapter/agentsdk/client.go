package agentsdk

import (
	"context"
	"fmt"
	"sync"

	"github.com/relaykit/agentbroker/adapter/agentsdk/transport"
	"github.com/relaykit/agentbroker/log"
)

// backendClient owns one Claude Code CLI subprocess for the lifetime of a
// session: it starts the transport, runs the initialize handshake, and
// hands the caller a raw event channel plus a handful of control-protocol
// actions (send, interrupt, close).
type backendClient struct {
	options   Options
	transport transport.Transport
	loop      *controlLoop

	mu     sync.RWMutex
	closed bool
}

func newBackendClient(options Options) *backendClient {
	return &backendClient{options: options}
}

// Connect starts the CLI subprocess (or, in tests, uses an
// already-assigned fake transport) and performs the control-protocol
// initialize handshake. If prompt is non-empty it is sent as the first
// user message once the handshake completes.
func (c *backendClient) Connect(ctx context.Context, prompt string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loop != nil {
		return ErrAlreadyConnected
	}
	if c.closed {
		return ErrConnectionClosed
	}

	options := c.options

	// A CanUseTool callback requires the "stdio" permission prompt tool so
	// the CLI sends can_use_tool control requests instead of prompting
	// interactively on its own tty.
	if options.CanUseTool != nil {
		if options.PermissionPromptToolName != "" && options.PermissionPromptToolName != "stdio" {
			return fmt.Errorf("agentsdk: can_use_tool callback requires permission prompt tool \"stdio\"")
		}
		options.PermissionPromptToolName = "stdio"
	}

	t := c.transport
	if t == nil {
		var err error
		t, err = transport.NewSubprocessTransport(options.toTransportOptions())
		if err != nil {
			return fmt.Errorf("agentsdk: create transport: %w", err)
		}
	}

	if err := t.Connect(ctx); err != nil {
		return fmt.Errorf("agentsdk: connect transport: %w", err)
	}
	c.transport = t

	c.loop = newControlLoop(t, options.CanUseTool)
	c.loop.start(ctx)

	if !options.SkipInitialization {
		if _, err := c.loop.initialize(); err != nil {
			t.Close()
			return fmt.Errorf("agentsdk: initialize: %w", err)
		}
	} else {
		log.Debug().Msg("agentsdk: skipping initialize handshake")
	}

	if prompt != "" {
		if err := c.loop.sendUserMessage(prompt, ""); err != nil {
			return fmt.Errorf("agentsdk: send initial prompt: %w", err)
		}
	}

	log.Info().Msg("agentsdk: backend client connected")
	return nil
}

// SendMessage sends a user turn to the CLI.
func (c *backendClient) SendMessage(content string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.loop == nil {
		return ErrNotConnected
	}
	return c.loop.sendUserMessage(content, "")
}

// SendToolResult answers an interactive tool (AskUserQuestion and
// similar) that is waiting on a tool_result message.
func (c *backendClient) SendToolResult(toolUseID string, content string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.loop == nil {
		return ErrNotConnected
	}
	return c.loop.sendToolResult(toolUseID, content)
}

// Events returns the channel of native, already-JSON-decoded CLI events
// (system/assistant/result/stream_event/...), for TranslateInbound.
func (c *backendClient) Events() <-chan map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.loop == nil {
		ch := make(chan map[string]any)
		close(ch)
		return ch
	}
	return c.loop.events()
}

// Interrupt asks the CLI to stop the in-flight turn.
func (c *backendClient) Interrupt() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.loop == nil {
		return ErrNotConnected
	}
	return c.loop.interrupt()
}

// RespondToPermission delivers an external permission decision for a
// request the control loop forwarded and is blocked waiting on.
func (c *backendClient) RespondToPermission(requestID string, result PermissionResult) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.loop == nil {
		return ErrNotConnected
	}
	return c.loop.respondToPermission(requestID, result)
}

// IsConnected reports whether the transport is still up.
func (c *backendClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loop != nil && c.transport != nil && c.transport.IsConnected()
}

// SignalShutdown marks the client as shutting down so the transport logs
// the subprocess's resulting exit at debug rather than error level.
func (c *backendClient) SignalShutdown() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.transport != nil {
		c.transport.SignalShutdown()
	}
}

// Close tears down the control loop and transport. Transport is closed
// first: that kills the subprocess and unblocks any goroutine in the
// control loop still reading from it, avoiding a shutdown deadlock.
func (c *backendClient) Close() error {
	c.mu.Lock()
	c.closed = true
	t := c.transport
	c.transport = nil
	loop := c.loop
	c.loop = nil
	c.mu.Unlock()

	if t != nil {
		if err := t.Close(); err != nil {
			log.Debug().Err(err).Msg("agentsdk: error closing transport")
		}
	}
	if loop != nil {
		if err := loop.close(); err != nil {
			log.Debug().Err(err).Msg("agentsdk: error closing control loop")
		}
	}

	log.Info().Msg("agentsdk: backend client disconnected")
	return nil
}
