package agentsdk

import (
	"fmt"

	"github.com/relaykit/agentbroker/adapter"
	"github.com/relaykit/agentbroker/canon"
)

// permissionReply is the outbound payload for an adapter.ActionPermissionReply.
type permissionReply struct {
	requestID string
	result    PermissionResult
}

// TranslateInbound maps one native CLI event (already JSON-decoded by the
// control loop) to the canonical envelope, per spec.md §4.3(3): the CLI
// yields system:init, stream_event deltas, assistant, result, plus
// hook/task/compact/files events. Returning (nil, nil) means "drop".
func TranslateInbound(native map[string]any) (*canon.UnifiedMessage, error) {
	typ, _ := native["type"].(string)
	switch typ {
	case "system":
		subtype, _ := native["subtype"].(string)
		if subtype != "init" {
			return nil, nil // other system subtypes are not surfaced to consumers
		}
		return canon.New(canon.TypeSessionInit, canon.RoleSystem, nil, flattenMetadata(native)), nil

	case "stream_event":
		return canon.New(canon.TypeStreamEvent, canon.RoleAssistant, nil, flattenMetadata(native)), nil

	case "assistant":
		blocks, err := extractContentBlocks(native)
		if err != nil {
			return nil, err
		}
		return canon.New(canon.TypeAssistant, canon.RoleAssistant, blocks, nil), nil

	case "result":
		meta := flattenMetadata(native)
		if isErr, _ := native["is_error"].(bool); isErr {
			meta["error_code"] = classifyResultError(native)
		}
		return canon.New(canon.TypeResult, canon.RoleAssistant, nil, meta), nil

	case "control_request":
		return nil, nil // can_use_tool requests are surfaced via the session's permissionRequests channel instead

	case "user":
		return nil, nil // echoes are handled by passthrough interception, not normal translation

	default:
		return canon.New(canon.TypeUnknown, canon.RoleSystem, nil, flattenMetadata(native)), nil
	}
}

// TranslateOutbound maps a canonical envelope to a native CLI action,
// per spec.md §4.1.
func TranslateOutbound(msg *canon.UnifiedMessage) (adapter.Action, error) {
	switch msg.Type {
	case canon.TypeUserMessage:
		text := joinText(msg.Content)
		return adapter.Action{Kind: adapter.ActionPrompt, Payload: text}, nil

	case canon.TypeInterrupt:
		return adapter.Action{Kind: adapter.ActionAbort}, nil

	case canon.TypePermissionResponse:
		requestID, _ := msg.Metadata["request_id"].(string)
		behavior, _ := msg.Metadata["behavior"].(string)
		var result PermissionResult
		switch behavior {
		case "allow", "always":
			updated, _ := msg.Metadata["updated_input"].(map[string]any)
			result = PermissionResultAllow{Behavior: PermissionAllow, UpdatedInput: updated}
		default:
			reason, _ := msg.Metadata["message"].(string)
			result = PermissionResultDeny{Behavior: PermissionDeny, Message: reason}
		}
		return adapter.Action{Kind: adapter.ActionPermissionReply, Payload: permissionReply{requestID: requestID, result: result}}, nil

	default:
		return adapter.Action{}, fmt.Errorf("agentsdk: unsupported outbound message type %q", msg.Type)
	}
}

func flattenMetadata(native map[string]any) map[string]any {
	meta := make(map[string]any, len(native))
	for k, v := range native {
		meta[k] = v
	}
	return meta
}

func extractContentBlocks(native map[string]any) ([]canon.ContentBlock, error) {
	message, _ := native["message"].(map[string]any)
	rawContent, _ := message["content"].([]any)

	blocks := make([]canon.ContentBlock, 0, len(rawContent))
	for _, item := range rawContent {
		part, ok := item.(map[string]any)
		if !ok {
			continue
		}
		switch part["type"] {
		case "text":
			text, _ := part["text"].(string)
			blocks = append(blocks, canon.TextBlock{Text: text})
		case "tool_use":
			id, _ := part["id"].(string)
			name, _ := part["name"].(string)
			input, _ := part["input"].(map[string]any)
			blocks = append(blocks, canon.ToolUseBlock{ID: id, Name: name, Input: input})
		case "thinking":
			thinking, _ := part["thinking"].(string)
			blocks = append(blocks, canon.ThinkingBlock{Thinking: thinking})
		}
	}
	return blocks, nil
}

func joinText(content []canon.ContentBlock) string {
	var out string
	for _, b := range content {
		if t, ok := b.(canon.TextBlock); ok {
			out += t.Text
		}
	}
	return out
}

// classifyResultError maps the SDK's free-text error classification onto
// the canonical error enumeration, matching spec.md §4.1's "On result, if
// is_error is true the translator MUST set error_code to a member of the
// canonical error enumeration."
func classifyResultError(native map[string]any) canon.CanonicalErrorCode {
	subtype, _ := native["subtype"].(string)
	switch subtype {
	case "error_max_turns":
		return canon.ErrMaxTurns
	case "error_during_execution":
		return canon.ErrExecutionError
	default:
		return canon.ErrUnknown
	}
}
