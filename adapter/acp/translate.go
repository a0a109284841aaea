package acp

import (
	"encoding/json"
	"fmt"

	"github.com/relaykit/agentbroker/adapter"
	"github.com/relaykit/agentbroker/canon"
)

type acpPermissionReply struct {
	requestID int64
	optionID  string
}

// TranslateInbound maps one session/update notification to the
// canonical envelope, per spec.md §4.3(1): "session updates
// (agent_message_chunk, agent_thought_chunk, tool_call, tool_call_update
// with status transitions pending → in_progress → completed|failed,
// plan, current_mode_update, available_commands_update)".
func TranslateInbound(method string, params json.RawMessage) (*canon.UnifiedMessage, error) {
	if method != "session/update" {
		return nil, nil
	}

	var envelope struct {
		Update struct {
			SessionUpdate string          `json:"sessionUpdate"`
			Content       json.RawMessage `json:"content"`
		} `json:"update"`
	}
	if err := json.Unmarshal(params, &envelope); err != nil {
		return nil, fmt.Errorf("acp: malformed session/update: %w", err)
	}

	meta := map[string]any{}
	json.Unmarshal(envelope.Update.Content, &meta)

	switch envelope.Update.SessionUpdate {
	case "agent_message_chunk":
		text := extractChunkText(envelope.Update.Content)
		return canon.New(canon.TypeStreamEvent, canon.RoleAssistant, []canon.ContentBlock{canon.TextBlock{Text: text}}, nil), nil
	case "agent_thought_chunk":
		text := extractChunkText(envelope.Update.Content)
		return canon.New(canon.TypeStreamEvent, canon.RoleAssistant, []canon.ContentBlock{canon.ThinkingBlock{Thinking: text}}, nil), nil
	case "tool_call", "tool_call_update":
		return canon.New(canon.TypeToolProgress, canon.RoleAssistant, nil, meta), nil
	case "plan":
		return canon.New(canon.TypeToolUseSummary, canon.RoleAssistant, nil, meta), nil
	case "current_mode_update":
		return canon.New(canon.TypeConfigurationChange, canon.RoleSystem, nil, meta), nil
	case "available_commands_update":
		return canon.New(canon.TypeControlResponse, canon.RoleSystem, nil, meta), nil
	default:
		return canon.New(canon.TypeUnknown, canon.RoleSystem, nil, meta), nil
	}
}

func extractChunkText(content json.RawMessage) string {
	var chunk struct {
		Text string `json:"text"`
	}
	json.Unmarshal(content, &chunk)
	return chunk.Text
}

// TranslateOutbound maps a canonical envelope to a JSON-RPC call, per
// spec.md §4.1.
func TranslateOutbound(msg *canon.UnifiedMessage) (adapter.Action, error) {
	switch msg.Type {
	case canon.TypeUserMessage:
		return adapter.Action{Kind: adapter.ActionPrompt, Payload: map[string]any{"prompt": contentToParts(msg.Content)}}, nil

	case canon.TypeInterrupt:
		return adapter.Action{Kind: adapter.ActionAbort}, nil

	case canon.TypePermissionResponse:
		requestID, _ := msg.Metadata["request_id"].(float64)
		behavior, _ := msg.Metadata["behavior"].(string)
		optionID := mapPermissionBehavior(behavior)
		return adapter.Action{Kind: adapter.ActionPermissionReply, Payload: acpPermissionReply{requestID: int64(requestID), optionID: optionID}}, nil

	default:
		return adapter.Action{}, fmt.Errorf("acp: unsupported outbound message type %q", msg.Type)
	}
}

// mapPermissionBehavior maps the canonical permission_response behavior
// (spec.md §4.3(2)) onto ACP's native optionId vocabulary: allow selects
// the one-shot option, always selects the session-persisting option, and
// deny (or anything unrecognized) rejects.
func mapPermissionBehavior(behavior string) string {
	switch behavior {
	case "allow":
		return "allow-once"
	case "always":
		return "allow-always"
	default:
		return "reject-once"
	}
}

func contentToParts(content []canon.ContentBlock) []map[string]any {
	parts := make([]map[string]any, 0, len(content))
	for _, b := range content {
		switch v := b.(type) {
		case canon.TextBlock:
			parts = append(parts, map[string]any{"type": "text", "text": v.Text})
		case canon.ImageBlock:
			parts = append(parts, map[string]any{"type": "image", "data": v.Base64, "mimeType": v.MediaType})
		}
	}
	return parts
}
