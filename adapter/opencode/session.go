package opencode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	r3sse "github.com/r3labs/sse/v2"

	"github.com/relaykit/agentbroker/adapter"
	"github.com/relaykit/agentbroker/canon"
	"github.com/relaykit/agentbroker/log"
)

// session tracks one opencode remote session plus the per-part text
// buffer state described in spec.md §4.3(2): "deltas append to a buffer
// keyed by partID; on message.updated the buffer for each text part is
// concatenated in part-order (excluding reasoning)."
type session struct {
	sessionID  string
	baseURL    string
	httpClient *http.Client

	mu               sync.Mutex
	backendSessionID string
	partOrder        []string
	partBuffers      map[string]*bytes.Buffer
	partIsReasoning  map[string]bool

	out chan *canon.UnifiedMessage
}

func newSession(sessionID, baseURL string, client *http.Client) *session {
	return &session{
		sessionID:       sessionID,
		baseURL:         baseURL,
		httpClient:      client,
		partBuffers:     make(map[string]*bytes.Buffer),
		partIsReasoning: make(map[string]bool),
		out:             make(chan *canon.UnifiedMessage, 256),
	}
}

func (s *session) SessionID() string { return s.sessionID }

func (s *session) BackendSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backendSessionID
}

func (s *session) Messages() <-chan *canon.UnifiedMessage { return s.out }

func (s *session) createRemoteSession(ctx context.Context, opts adapter.ConnectOptions) error {
	body, _ := json.Marshal(map[string]any{"cwd": opts.Cwd})
	resp, err := s.postJSON(ctx, "/session", body)
	if err != nil {
		return err
	}
	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return fmt.Errorf("malformed session response: %w", err)
	}
	s.mu.Lock()
	s.backendSessionID = parsed.ID
	s.mu.Unlock()
	return nil
}

// consumeSSE subscribes to the server's event stream and translates each
// event into a canonical message, draining buffered text on the
// appropriate boundary events.
func (s *session) consumeSSE(ctx context.Context) {
	client := r3sse.NewClient(s.baseURL + "/event")
	defer close(s.out)

	err := client.SubscribeWithContext(ctx, "", func(msg *r3sse.Event) {
		eventType := string(msg.Event)
		canonMsg, done := s.translateSSE(eventType, msg.Data)
		if canonMsg != nil {
			s.out <- canonMsg
		}
		_ = done
	})
	if err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Str("session_id", s.sessionID).Msg("opencode: sse stream ended")
	}
}

func (s *session) translateSSE(eventType string, data []byte) (*canon.UnifiedMessage, bool) {
	var payload map[string]any
	json.Unmarshal(data, &payload)
	return TranslateInbound(s, eventType, payload)
}

func (s *session) appendDelta(partID string, text string, isReasoning bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.partBuffers[partID]
	if !ok {
		buf = &bytes.Buffer{}
		s.partBuffers[partID] = buf
		s.partOrder = append(s.partOrder, partID)
		s.partIsReasoning[partID] = isReasoning
	}
	buf.WriteString(text)
}

// materialize concatenates every non-reasoning part's buffer in
// part-order, then clears the buffers.
func (s *session) materialize() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out bytes.Buffer
	for _, id := range s.partOrder {
		if s.partIsReasoning[id] {
			continue
		}
		out.WriteString(s.partBuffers[id].String())
	}
	s.clearBuffersLocked()
	return out.String()
}

func (s *session) clearBuffers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearBuffersLocked()
}

func (s *session) clearBuffersLocked() {
	s.partBuffers = make(map[string]*bytes.Buffer)
	s.partOrder = nil
	s.partIsReasoning = make(map[string]bool)
}

func (s *session) Send(ctx context.Context, msg *canon.UnifiedMessage) error {
	action, err := TranslateOutbound(msg, s.BackendSessionID())
	if err != nil {
		return fmt.Errorf("opencode: outbound translation: %w", err)
	}
	switch action.Kind {
	case adapter.ActionPrompt:
		body, _ := json.Marshal(action.Payload)
		_, err := s.postJSON(ctx, "/session/"+s.BackendSessionID()+"/prompt_async", body)
		return err
	case adapter.ActionAbort:
		_, err := s.postJSON(ctx, "/session/"+s.BackendSessionID()+"/abort", nil)
		return err
	case adapter.ActionPermissionReply:
		body, _ := json.Marshal(action.Payload)
		_, err := s.postJSON(ctx, "/session/"+s.BackendSessionID()+"/permission/reply", body)
		return err
	case adapter.ActionNoop:
		return nil
	default:
		return fmt.Errorf("opencode: unsupported action kind %q", action.Kind)
	}
}

func (s *session) Close(ctx context.Context) error {
	_, err := s.postJSON(ctx, "/session/"+s.BackendSessionID(), nil)
	return err
}

func (s *session) postJSON(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("opencode: %s returned %d: %s", path, resp.StatusCode, buf.String())
	}
	return buf.Bytes(), nil
}

var _ adapter.BackendSession = (*session)(nil)
