package opencode

import (
	"fmt"

	"github.com/relaykit/agentbroker/adapter"
	"github.com/relaykit/agentbroker/canon"
)

// TranslateInbound maps one decoded opencode SSE event to the canonical
// envelope, per spec.md §4.3(2). sess carries the per-part buffer state
// deltas accumulate into; the returned bool is unused by callers today
// (kept for symmetry with a richer "consumed vs terminal" signal a
// future caller might want).
func TranslateInbound(sess *session, eventType string, payload map[string]any) (*canon.UnifiedMessage, bool) {
	switch eventType {
	case "message.part.updated":
		part, _ := payload["part"].(map[string]any)
		partType, _ := part["type"].(string)
		partID, _ := part["id"].(string)
		if partType == "text" || partType == "reasoning" {
			text, _ := part["text"].(string)
			sess.appendDelta(partID, text, partType == "reasoning")
		}
		return canon.New(canon.TypeStreamEvent, canon.RoleAssistant, nil, payload), false

	case "message.part.delta":
		part, _ := payload["part"].(map[string]any)
		partID, _ := part["id"].(string)
		text, _ := payload["text"].(string)
		isReasoning, _ := part["reasoning"].(bool)
		sess.appendDelta(partID, text, isReasoning)
		return canon.New(canon.TypeStreamEvent, canon.RoleAssistant, []canon.ContentBlock{canon.TextBlock{Text: text}}, nil), false

	case "message.updated":
		finalText := sess.materialize()
		meta := payload
		return canon.New(canon.TypeAssistant, canon.RoleAssistant, []canon.ContentBlock{canon.TextBlock{Text: finalText}}, meta), true

	case "session.status":
		status, _ := payload["status"].(string)
		if status == "idle" {
			sess.clearBuffers()
		}
		return canon.New(canon.TypeStatusChange, canon.RoleSystem, nil, payload), false

	case "session.error":
		sess.clearBuffers()
		return canon.New(canon.TypeResult, canon.RoleAssistant, nil, map[string]any{"error_code": "api_error", "detail": payload}), true

	case "permission.updated":
		return canon.New(canon.TypePermissionRequest, canon.RoleSystem, nil, payload), false

	case "permission.replied":
		return canon.New(canon.TypePermissionResponse, canon.RoleSystem, nil, payload), false

	case "session.compacted", "session.deleted", "session.diff":
		return canon.New(canon.TypeSessionLifecycle, canon.RoleSystem, nil, payload), false

	default:
		return nil, false
	}
}

// TranslateOutbound maps a canonical envelope to an opencode HTTP call,
// per spec.md §4.3(2): user_message → promptAsync, interrupt → abort,
// permission_response → replyPermission with mapping allow→once,
// always→always, deny/missing→reject.
func TranslateOutbound(msg *canon.UnifiedMessage, backendSessionID string) (adapter.Action, error) {
	switch msg.Type {
	case canon.TypeUserMessage:
		parts := make([]map[string]any, 0, len(msg.Content))
		for _, b := range msg.Content {
			if t, ok := b.(canon.TextBlock); ok {
				parts = append(parts, map[string]any{"type": "text", "text": t.Text})
			}
		}
		payload := map[string]any{"parts": parts}
		if providerID, ok := msg.Metadata["providerID"]; ok {
			payload["providerID"] = providerID
		}
		if modelID, ok := msg.Metadata["modelID"]; ok {
			payload["modelID"] = modelID
		}
		return adapter.Action{Kind: adapter.ActionPrompt, Payload: payload}, nil

	case canon.TypeInterrupt:
		return adapter.Action{Kind: adapter.ActionAbort}, nil

	case canon.TypePermissionResponse:
		behavior, _ := msg.Metadata["behavior"].(string)
		reply := map[string]any{"response": mapPermissionBehavior(behavior)}
		if permissionID, ok := msg.Metadata["permission_id"]; ok {
			reply["permissionId"] = permissionID
		}
		return adapter.Action{Kind: adapter.ActionPermissionReply, Payload: reply}, nil

	default:
		return adapter.Action{}, fmt.Errorf("opencode: unsupported outbound message type %q", msg.Type)
	}
}

func mapPermissionBehavior(behavior string) string {
	switch behavior {
	case "allow":
		return "once"
	case "always":
		return "always"
	default:
		return "reject"
	}
}
