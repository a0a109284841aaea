package acp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/relaykit/agentbroker/adapter"
	"github.com/relaykit/agentbroker/canon"
	"github.com/relaykit/agentbroker/log"
	"github.com/relaykit/agentbroker/process"
)

type session struct {
	sessionID     string
	adapterName   string
	codec         *Codec
	handle        process.Handle
	classifyError func(code int) string

	mu               sync.Mutex
	backendSessionID string
	// pendingPermissions maps the JSON-RPC request id of an agent-issued
	// session/request_permission call to the reply channel the connector
	// resolves once a matching permission_response arrives.
	pendingPermissions map[int64]chan permissionOutcome

	out chan *canon.UnifiedMessage
}

type permissionOutcome struct {
	optionID string
}

func newSession(sessionID, adapterName string, codec *Codec, handle process.Handle, classifyError func(code int) string) *session {
	return &session{
		sessionID:          sessionID,
		adapterName:        adapterName,
		codec:              codec,
		handle:             handle,
		classifyError:      classifyError,
		pendingPermissions: make(map[int64]chan permissionOutcome),
		out:                make(chan *canon.UnifiedMessage, 256),
	}
}

func (s *session) SessionID() string { return s.sessionID }

func (s *session) BackendSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backendSessionID
}

func (s *session) setBackendSessionID(id string) {
	s.mu.Lock()
	s.backendSessionID = id
	s.mu.Unlock()
}

func (s *session) Messages() <-chan *canon.UnifiedMessage { return s.out }

// pump fans in session/update notifications and agent-issued
// session/request_permission requests, translating both into canonical
// messages for the bridge's consumption loop.
func (s *session) pump() {
	for {
		select {
		case note, ok := <-s.codec.Notifications:
			if !ok {
				close(s.out)
				return
			}
			msg, err := TranslateInbound(note.Method, note.Params)
			if err != nil {
				log.Warn().Err(err).Str("session_id", s.sessionID).Msg("acp: inbound translation failed")
				continue
			}
			if msg != nil {
				s.out <- msg
			}
		case req, ok := <-s.codec.AgentRequests:
			if !ok {
				continue
			}
			s.handleAgentRequest(req)
		}
	}
}

func (s *session) handleAgentRequest(req rawAgentRequest) {
	if req.Method != "session/request_permission" {
		s.codec.Reply(req.ID, nil, fmt.Errorf("unsupported agent request %q", req.Method))
		return
	}
	var params struct {
		ToolCall map[string]any `json:"toolCall"`
		Options  []struct {
			OptionID string `json:"optionId"`
			Kind     string `json:"kind"`
		} `json:"options"`
	}
	json.Unmarshal(req.Params, &params)

	ch := make(chan permissionOutcome, 1)
	s.mu.Lock()
	s.pendingPermissions[req.ID] = ch
	s.mu.Unlock()

	s.out <- canon.New(canon.TypePermissionRequest, canon.RoleSystem, nil, map[string]any{
		"request_id": req.ID,
		"tool_call":  params.ToolCall,
	})

	go func() {
		outcome := <-ch
		s.codec.Reply(req.ID, map[string]any{"outcome": "selected", "optionId": outcome.optionID}, nil)
	}()
}

func (s *session) resolvePermission(requestID int64, optionID string) {
	s.mu.Lock()
	ch, ok := s.pendingPermissions[requestID]
	if ok {
		delete(s.pendingPermissions, requestID)
	}
	s.mu.Unlock()
	if !ok {
		log.Warn().Int64("request_id", requestID).Msg("acp: no pending permission for request id")
		return
	}
	ch <- permissionOutcome{optionID: optionID}
}

func (s *session) Send(ctx context.Context, msg *canon.UnifiedMessage) error {
	action, err := TranslateOutbound(msg)
	if err != nil {
		return fmt.Errorf("acp: outbound translation: %w", err)
	}
	switch action.Kind {
	case adapter.ActionPrompt:
		_, err := s.codec.Call(ctx, "session/prompt", action.Payload)
		return err
	case adapter.ActionAbort:
		_, err := s.codec.Call(ctx, "session/cancel", map[string]any{"sessionId": s.BackendSessionID()})
		return err
	case adapter.ActionPermissionReply:
		reply, ok := action.Payload.(acpPermissionReply)
		if !ok {
			return fmt.Errorf("acp: malformed permission reply payload")
		}
		s.resolvePermission(reply.requestID, reply.optionID)
		return nil
	case adapter.ActionNoop:
		return nil
	default:
		return fmt.Errorf("acp: unsupported action kind %q", action.Kind)
	}
}

func (s *session) Close(ctx context.Context) error {
	return s.handle.Signal(process.SignalTerm)
}

var _ adapter.BackendSession = (*session)(nil)
