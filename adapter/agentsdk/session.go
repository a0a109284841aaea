package agentsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/relaykit/agentbroker/adapter"
	"github.com/relaykit/agentbroker/canon"
	"github.com/relaykit/agentbroker/log"
)

type permissionRequest struct {
	requestID string
	toolName  string
	input     map[string]any
}

// session adapts one backendClient to adapter.BackendSession.
type session struct {
	sessionID string
	client    *backendClient

	mu                 sync.Mutex
	pendingPermissions map[string]*pendingPermission
	permissionSeq      int64
	backendSessionID   string
	passthroughHandler func(native []byte) bool

	permissionRequests chan permissionRequest
	out                chan *canon.UnifiedMessage
}

func newSession(sessionID string) *session {
	return &session{
		sessionID:          sessionID,
		pendingPermissions: make(map[string]*pendingPermission),
		permissionRequests: make(chan permissionRequest, 16),
		out:                make(chan *canon.UnifiedMessage, 256),
	}
}

func (s *session) SessionID() string { return s.sessionID }

func (s *session) BackendSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backendSessionID
}

func (s *session) Messages() <-chan *canon.UnifiedMessage { return s.out }

func (s *session) SetPassthroughHandler(fn func(native []byte) bool) {
	s.mu.Lock()
	s.passthroughHandler = fn
	s.mu.Unlock()
}

// pump drains the backend client's native event channel and the
// locally-synthesized permission-request channel, translating both into
// canonical messages. One goroutine per session, same discipline as the
// subprocess-backed adapters' stdout pumps.
func (s *session) pump() {
	raw := s.client.Events()
	for {
		select {
		case native, ok := <-raw:
			if !ok {
				close(s.out)
				return
			}
			s.deliver(native)
		case req, ok := <-s.permissionRequests:
			if !ok {
				continue
			}
			s.out <- canon.New(canon.TypePermissionRequest, canon.RoleSystem, nil, map[string]any{
				"request_id": req.requestID,
				"tool_name":  req.toolName,
				"input":      req.input,
			})
		}
	}
}

func (s *session) deliver(native map[string]any) {
	if sid, ok := native["sessionId"].(string); ok && sid != "" {
		s.mu.Lock()
		s.backendSessionID = sid
		s.mu.Unlock()
	}

	s.mu.Lock()
	handler := s.passthroughHandler
	s.mu.Unlock()
	if handler != nil {
		if data, err := json.Marshal(native); err == nil && handler(data) {
			return // consumed by the connector's passthrough interception (spec.md §4.7 rule 1)
		}
	}

	msg, err := TranslateInbound(native)
	if err != nil {
		log.Warn().Err(err).Str("session_id", s.sessionID).Msg("agentsdk: inbound translation failed")
		return
	}
	if msg == nil {
		return // dropped: heartbeat, echo, or otherwise filtered
	}
	s.out <- msg
}

func (s *session) Send(ctx context.Context, msg *canon.UnifiedMessage) error {
	action, err := TranslateOutbound(msg)
	if err != nil {
		return fmt.Errorf("agentsdk: outbound translation: %w", err)
	}
	switch action.Kind {
	case adapter.ActionPrompt:
		text, _ := action.Payload.(string)
		return s.client.SendMessage(text)
	case adapter.ActionAbort:
		return s.client.Interrupt()
	case adapter.ActionPermissionReply:
		reply, ok := action.Payload.(permissionReply)
		if !ok {
			return fmt.Errorf("agentsdk: malformed permission reply payload")
		}
		s.ResolvePermission(reply.requestID, reply.result)
		return nil
	case adapter.ActionNoop:
		return nil
	default:
		return fmt.Errorf("agentsdk: unsupported action kind %q", action.Kind)
	}
}

func (s *session) Close(ctx context.Context) error {
	return s.client.Close()
}

var _ adapter.BackendSession = (*session)(nil)
var _ adapter.PassthroughCapable = (*session)(nil)
