// Package bridge implements the Session Bridge and BackendConnector of
// spec.md §4.4-§4.7: the session table, the consumer fan-out plane, and
// the passthrough-interception contract. Grounded on claude/session.go
// and claude/session_manager.go's sync.RWMutex-guarded map-of-sessions
// discipline, generalized from one hard-coded CLI backend to the
// pluggable adapter.Adapter contract.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/relaykit/agentbroker/adapter"
	"github.com/relaykit/agentbroker/auth"
	"github.com/relaykit/agentbroker/canon"
	"github.com/relaykit/agentbroker/log"
	"github.com/relaykit/agentbroker/slashcmd"
)

// Bridge owns sessions and the consumer plane.
type Bridge struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	connector     *Connector
	authenticator auth.Authenticator
	authTimeout   time.Duration
	slashHandler  *slashcmd.Handler
	broadcaster   Broadcaster
}

// New constructs a Bridge. authTimeout implements spec.md §4.4's
// "authTimeoutMs (default ~5s)".
func New(connector *Connector, authenticator auth.Authenticator, authTimeout time.Duration, slashHandler *slashcmd.Handler) *Bridge {
	return &Bridge{
		sessions:      make(map[string]*Session),
		connector:     connector,
		authenticator: authenticator,
		authTimeout:   authTimeout,
		slashHandler:  slashHandler,
		broadcaster:   Broadcaster{},
	}
}

// GetOrCreateSession is idempotent, per spec.md §4.4.
func (b *Bridge) GetOrCreateSession(id, cwd, adapterName string) *Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[id]; ok {
		return s
	}
	s := NewSession(id, cwd, adapterName)
	b.sessions[id] = s
	return s
}

// GetSession returns a session if one exists, without creating it.
func (b *Bridge) GetSession(id string) (*Session, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[id]
	return s, ok
}

// HandleConsumerOpen authenticates the socket (bounded by authTimeout),
// installs it in the session's consumer set, and sends identity +
// session_init, per spec.md §4.4.
func (b *Bridge) HandleConsumerOpen(ctx context.Context, socket Consumer, sessionID string, req auth.Request) error {
	authCtx, cancel := context.WithTimeout(ctx, b.authTimeout)
	defer cancel()

	identity, err := b.authenticator.Authenticate(authCtx, req)
	if err != nil || identity == nil {
		socket.Close(4001, "Authentication failed")
		return fmt.Errorf("bridge: authentication failed: %w", err)
	}

	session, ok := b.GetSession(sessionID)
	if !ok {
		socket.Close(4001, "Authentication failed")
		return fmt.Errorf("bridge: session %q removed during authentication", sessionID)
	}

	session.addConsumer(socket, *identity)
	send(socket, map[string]any{"type": "identity", "role": identity.Role, "id": identity.ID})
	send(socket, map[string]any{"type": "session_init", "session_id": sessionID})

	if caps := session.getCapabilities(); caps != nil {
		send(socket, map[string]any{
			"type":       "capabilities_ready",
			"session_id": sessionID,
			"commands":   caps.Commands,
			"models":     caps.Models,
			"account":    caps.Account,
		})
	}
	return nil
}

// consumerEnvelope peeks at the wire type before deciding whether a
// frame is bridge-internal (presence_query), a slash command (routed
// through slashcmd.Handler), or destined for canonical translation and
// the backend.
type consumerEnvelope struct {
	Type      string `json:"type"`
	Command   string `json:"command"`
	RequestID string `json:"request_id"`
	TraceID   string `json:"trace_id"`
}

// HandleConsumerMessage implements spec.md §4.4's authorization and
// forwarding rules. raw is the as-received consumer frame; translate
// converts it to the canonical envelope when it is backend-bound.
func (b *Bridge) HandleConsumerMessage(ctx context.Context, socket Consumer, sessionID string, raw []byte, translate func([]byte) (*canon.UnifiedMessage, error)) {
	session, ok := b.GetSession(sessionID)
	if !ok {
		return
	}

	identity, registered := session.consumerSnapshot()[socket]
	if !registered {
		return
	}

	var envelope consumerEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		send(socket, map[string]any{"type": "error", "message": "malformed message"})
		return
	}

	if envelope.Type == "presence_query" {
		send(socket, map[string]any{
			"type":       "presence",
			"session_id": sessionID,
			"count":      len(session.consumerSnapshot()),
		})
		return
	}

	if envelope.Type == "slash_command" {
		if identity.Role == auth.RoleObserver {
			send(socket, map[string]any{
				"type":    "error",
				"message": "Observers cannot send slash_command messages",
			})
			return
		}
		b.HandleSlashCommand(ctx, sessionID, envelope.Command, envelope.RequestID, envelope.TraceID)
		return
	}

	if identity.Role == auth.RoleObserver {
		send(socket, map[string]any{
			"type":    "error",
			"message": fmt.Sprintf("Observers cannot send %s messages", envelope.Type),
		})
		return
	}

	msg, err := translate(raw)
	if err != nil {
		send(socket, map[string]any{"type": "error", "message": err.Error()})
		return
	}

	ApplyConsumerSignal(session, msg)

	if backend := session.getBackend(); backend == nil {
		session.enqueuePending(msg)
		return
	}
	if err := b.connector.SendToBackend(ctx, session, msg); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("bridge: send to backend failed")
	}
}

// HandleConsumerClose removes the socket from the consumer set. No
// further state cleanup happens (spec.md §4.4).
func (b *Bridge) HandleConsumerClose(socket Consumer, sessionID string) {
	if session, ok := b.GetSession(sessionID); ok {
		session.removeConsumer(socket)
	}
}

// ConnectBackend / DisconnectBackend delegate to the BackendConnector.
func (b *Bridge) ConnectBackend(ctx context.Context, sessionID string, opts adapter.ConnectOptions) error {
	session, ok := b.GetSession(sessionID)
	if !ok {
		return fmt.Errorf("bridge: unknown session %q", sessionID)
	}
	return b.connector.ConnectBackend(ctx, session, opts)
}

func (b *Bridge) DisconnectBackend(ctx context.Context, sessionID string) error {
	session, ok := b.GetSession(sessionID)
	if !ok {
		return nil
	}
	return b.connector.DisconnectBackend(ctx, session)
}

// HandleSlashCommand implements spec.md §4.6 by wiring slashcmd.Handler
// against this session's forwarding and broadcasting primitives.
func (b *Bridge) HandleSlashCommand(ctx context.Context, sessionID, command, requestID, traceID string) {
	session, ok := b.GetSession(sessionID)
	if !ok {
		return
	}
	b.slashHandler.Handle(ctx, sessionID, command, requestID, traceID,
		func(cmd string) error {
			msg := canon.New(canon.TypeUserMessage, canon.RoleUser, []canon.ContentBlock{canon.TextBlock{Text: cmd}}, nil)
			return b.connector.SendToBackend(ctx, session, msg)
		},
		func(cmd, reqID, trace string) {
			session.pushPassthrough(&PendingPassthrough{Command: cmd, RequestID: reqID, TraceID: trace, StartedAtMs: time.Now().UnixMilli()})
		},
		func(payload any) error { return b.broadcaster.Broadcast(session, payload) },
	)
}

// CloseSession transitions toward closed: cancels timers (none owned
// directly here), drops permissions, closes the transport side by
// closing every consumer socket, per spec.md §4.4.
func (b *Bridge) CloseSession(ctx context.Context, sessionID string) error {
	session, ok := b.GetSession(sessionID)
	if !ok {
		return nil
	}
	session.applySignal(SignalClosing)
	_ = b.connector.DisconnectBackend(ctx, session)
	for c := range session.consumerSnapshot() {
		c.Close(1000, "session closed")
	}
	session.applySignal(SignalClosed)
	return nil
}

// RemoveSession drops the session from the table entirely.
func (b *Bridge) RemoveSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sessionID)
}

// Sessions returns a snapshot of every session in the table, for the
// idle reaper and reconnection watchdog.
func (b *Bridge) Sessions() []*Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, s)
	}
	return out
}

func send(socket Consumer, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := socket.Send(data); err != nil {
		log.Debug().Err(err).Msg("bridge: failed to send to consumer")
	}
}
