package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relaykit/agentbroker/adapter"
	"github.com/relaykit/agentbroker/canon"
	"github.com/relaykit/agentbroker/log"
	"github.com/relaykit/agentbroker/metrics"
	"github.com/relaykit/agentbroker/slashcmd"
	"github.com/relaykit/agentbroker/tracer"
)

// Connector owns per-session backend I/O, per spec.md §4.5.
type Connector struct {
	adapters       map[string]adapter.Adapter
	defaultAdapter string
	broadcaster    Broadcaster
	passthrough    PassthroughInterceptor
	registry       *slashcmd.Registry
	metrics        metrics.Sink
	tracer         tracer.Tracer

	// onSessionID implements spec.md §4.8's "backend:session_id →
	// launcher.setCLISessionId" cross-cutting wire: sessionmgr installs
	// this to persist the backend-assigned session id for later resume.
	onSessionID func(sessionID, backendSessionID string)
}

// SetOnSessionID installs the backend:session_id hook. Must be called
// before ConnectBackend is first invoked for any session.
func (c *Connector) SetOnSessionID(fn func(sessionID, backendSessionID string)) {
	c.onSessionID = fn
}

// NewConnector wires a Connector against the adapter set named by
// spec.md §6 ("name ∈ {sdk-url, agent-sdk, acp, gemini, codex,
// opencode}").
func NewConnector(adapters map[string]adapter.Adapter, defaultAdapter string, registry *slashcmd.Registry, m metrics.Sink, tr tracer.Tracer) *Connector {
	if m == nil {
		m = metrics.Noop{}
	}
	if tr == nil {
		tr = tracer.Noop{}
	}
	return &Connector{
		adapters:       adapters,
		defaultAdapter: defaultAdapter,
		broadcaster:    Broadcaster{},
		passthrough:    PassthroughInterceptor{Broadcaster: Broadcaster{}, Tracer: tr},
		registry:       registry,
		metrics:        m,
		tracer:         tr,
	}
}

func (c *Connector) resolveAdapter(name string) adapter.Adapter {
	if a, ok := c.adapters[name]; ok {
		return a
	}
	log.Warn().Str("adapter", name).Msg("bridge: unknown adapter name, falling back to default")
	return c.adapters[c.defaultAdapter]
}

// ConnectBackend implements spec.md §4.5 steps 1-8.
func (c *Connector) ConnectBackend(ctx context.Context, session *Session, opts adapter.ConnectOptions) error {
	drv := c.resolveAdapter(session.AdapterName)
	if drv == nil {
		return fmt.Errorf("bridge: no adapter available for %q", session.AdapterName)
	}

	if prior := session.getBackend(); prior != nil {
		_ = prior.Close(ctx)
	}

	backend, err := drv.Connect(ctx, opts)
	if err != nil {
		return fmt.Errorf("bridge: connect backend: %w", err)
	}
	session.setBackend(backend)
	session.applySignal(SignalBackendConnected)

	if id := backend.BackendSessionID(); id != "" {
		session.setBackendSessionID(id)
		if c.onSessionID != nil {
			c.onSessionID(session.ID, id)
		}
	}

	if factory, ok := drv.(adapter.SlashExecutorFactory); ok {
		executor := factory.CreateSlashExecutor(backend)
		session.setSlashExecutor(executor)
		names := executor.SupportedCommands()
		cmds := make(map[string]string, len(names))
		for _, name := range names {
			cmds[name] = ""
		}
		c.registry.RegisterFromCLI(cmds)
		session.setDynamicCommands(names)
	}

	if capable, ok := backend.(adapter.PassthroughCapable); ok {
		capable.SetPassthroughHandler(func(native []byte) bool {
			var decoded map[string]any
			if err := json.Unmarshal(native, &decoded); err != nil {
				return false
			}
			return c.passthrough.InterceptNativeEcho(session, decoded)
		})
	}

	c.broadcaster.Broadcast(session, map[string]any{"type": "cli_connected", "session_id": session.ID})
	c.metrics.Inc("backend:connected", map[string]string{"adapter": session.AdapterName})

	for _, msg := range session.drainPending() {
		if err := backend.Send(ctx, msg); err != nil {
			log.Error().Err(err).Str("session_id", session.ID).Msg("bridge: failed to drain pending message")
		}
	}

	go c.consumptionLoop(ctx, session, backend)
	return nil
}

// consumptionLoop is the single sequential per-session task of spec.md
// §5: dequeue, reduce, attempt passthrough, fan out — before the next
// message is dequeued.
func (c *Connector) consumptionLoop(ctx context.Context, session *Session, backend adapter.BackendSession) {
	for msg := range backend.Messages() {
		session.touch()

		if msg.Type == canon.TypeControlResponse || msg.Type == canon.TypeStatusChange ||
			msg.Type == canon.TypeResult || msg.Type == canon.TypeStreamEvent {
			ReduceBackendMessage(session, msg, c.broadcaster)
		}

		if c.passthrough.InterceptCanonical(session, msg) {
			continue
		}

		c.broadcaster.Broadcast(session, msg)
		c.metrics.Inc("backend:message", map[string]string{"type": string(msg.Type)})
	}

	// The adapter contract surfaces a stream ending only as a closed
	// channel, with no distinct error signal (BackendSession has no
	// error-reporting hook); every disconnect is therefore handled as
	// the spec's "clean disconnect" path. An adapter wanting to report
	// a stream error does so as an ordinary canon.TypeResult with a
	// non-aborted error_code before closing, which still reaches
	// consumers through the normal fan-out above.
	c.onBackendStreamEnd(session)
}

func (c *Connector) onBackendStreamEnd(session *Session) {
	c.passthrough.CancelAll(session)

	for _, pending := range session.drainPendingPermissions() {
		c.broadcaster.BroadcastToParticipants(session, map[string]any{
			"type":       "permission_cancelled",
			"request_id": pending.RequestID,
		})
	}

	session.clearBackend()
	session.applySignal(SignalBackendDisconnected)
	c.registry.UnregisterNames(session.takeDynamicCommands())

	c.broadcaster.Broadcast(session, map[string]any{"type": "cli_disconnected", "session_id": session.ID})
	c.metrics.Inc("backend:disconnected", map[string]string{"adapter": session.AdapterName})
}

// DisconnectBackend aborts the current backend session (if any) and
// closes it; the consumption loop's exit drives the rest of the
// teardown via onBackendStreamEnd.
func (c *Connector) DisconnectBackend(ctx context.Context, session *Session) error {
	backend := session.getBackend()
	if backend == nil {
		return nil
	}
	return backend.Close(ctx)
}

// SendToBackend implements spec.md §4.5's sendToBackend: drop silently
// with a log line if unconnected (buffering for a not-yet-connected
// backend is the bridge's job, via Session.enqueuePending).
func (c *Connector) SendToBackend(ctx context.Context, session *Session, msg *canon.UnifiedMessage) error {
	backend := session.getBackend()
	if backend == nil {
		log.Debug().Str("session_id", session.ID).Str("type", string(msg.Type)).Msg("bridge: dropping message, no backend connected")
		return nil
	}
	if err := backend.Send(ctx, msg); err != nil {
		c.broadcaster.Broadcast(session, map[string]any{"type": "error", "message": err.Error()})
		return err
	}
	return nil
}
