package urlforward

import (
	"context"
	"sync"

	"github.com/coder/websocket"

	"github.com/relaykit/agentbroker/adapter"
	"github.com/relaykit/agentbroker/canon"
	"github.com/relaykit/agentbroker/log"
)

// session is a BackendSession whose wire connection may not exist yet.
// Outbound writes made before attach arrive buffer in pendingRaw and
// flush once the external process dials in, mirroring the bridge's own
// pendingMessages buffering for a not-yet-connected backend (spec.md
// §4.4).
type session struct {
	sessionID string

	mu         sync.Mutex
	conn       *websocket.Conn
	pendingRaw [][]byte
	closed     bool

	out chan *canon.UnifiedMessage
}

func newSession(sessionID string) *session {
	return &session{
		sessionID: sessionID,
		out:       make(chan *canon.UnifiedMessage, 256),
	}
}

func (s *session) SessionID() string { return s.sessionID }

// BackendSessionID has no independent concept here; the session id and
// backend session id are the same value once a connection exists.
func (s *session) BackendSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.sessionID
}

func (s *session) Messages() <-chan *canon.UnifiedMessage { return s.out }

// attach binds an accepted websocket connection, flushes anything
// queued by Send/SendRaw before the external process dialed in, and
// starts the inbound read pump.
func (s *session) attach(ctx context.Context, conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	queued := s.pendingRaw
	s.pendingRaw = nil
	s.mu.Unlock()

	for _, raw := range queued {
		if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
			log.Warn().Err(err).Str("session_id", s.sessionID).Msg("urlforward: flush of buffered send failed")
			break
		}
	}

	go s.pump(ctx)
}

func (s *session) pump(ctx context.Context) {
	defer close(s.out)
	for {
		msgType, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Debug().Err(err).Str("session_id", s.sessionID).Msg("urlforward: connection closed")
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		s.out <- TranslateInbound(data)
	}
}

// Send implements adapter.BackendSession by best-effort encoding the
// canonical envelope back to a native NDJSON line; adapters that need
// true pass-through should prefer SendRaw.
func (s *session) Send(ctx context.Context, msg *canon.UnifiedMessage) error {
	raw, err := TranslateOutbound(msg)
	if err != nil {
		return err
	}
	return s.SendRaw(ctx, raw)
}

// SendRaw writes ndjson verbatim, queuing it if the external process
// has not connected yet.
func (s *session) SendRaw(ctx context.Context, ndjson []byte) error {
	s.mu.Lock()
	conn := s.conn
	if conn == nil && !s.closed {
		s.pendingRaw = append(s.pendingRaw, ndjson)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Write(ctx, websocket.MessageText, ndjson)
}

func (s *session) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "")
}

var _ adapter.BackendSession = (*session)(nil)
var _ adapter.RawSender = (*session)(nil)
