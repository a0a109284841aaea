package bridge

import (
	"github.com/relaykit/agentbroker/canon"
)

// ApplyConsumerSignal drives the lifecycle from an inbound (consumer →
// backend) canonical message, per spec.md §4.4: "user_message on
// idle → active".
func ApplyConsumerSignal(session *Session, msg *canon.UnifiedMessage) {
	if msg.Type == canon.TypeUserMessage {
		session.applySignal(SignalUserMessage)
	}
}

// ReduceBackendMessage drives the lifecycle from a backend-originated
// canonical message and, on each successful capabilities handshake
// response, (re)populates session.capabilities and broadcasts
// capabilities_ready, per spec.md §4.4.
func ReduceBackendMessage(session *Session, msg *canon.UnifiedMessage, broadcaster Broadcaster) {
	switch msg.Type {
	case canon.TypeStatusChange:
		switch status, _ := msg.Metadata["status"].(string); status {
		case "idle":
			session.applySignal(SignalStatusIdle)
		case "running", "compacting":
			session.applySignal(SignalStatusActive)
		}

	case canon.TypeResult:
		session.applySignal(SignalResult)

	case canon.TypeStreamEvent:
		if isMessageStartWithoutParentTool(msg) {
			session.applySignal(SignalStreamStart)
		}

	case canon.TypeControlResponse:
		handleCapabilitiesResponse(session, msg, broadcaster)
	}
}

func isMessageStartWithoutParentTool(msg *canon.UnifiedMessage) bool {
	event, ok := msg.Metadata["event"].(map[string]any)
	if !ok {
		return false
	}
	if t, _ := event["type"].(string); t != "message_start" {
		return false
	}
	_, hasParent := msg.Metadata["parent_tool_use_id"]
	return !hasParent
}

func handleCapabilitiesResponse(session *Session, msg *canon.UnifiedMessage, broadcaster Broadcaster) {
	subtype, _ := msg.Metadata["subtype"].(string)
	if subtype != "success" {
		return
	}
	result, _ := msg.Metadata["result"].(map[string]any)

	caps := &Capabilities{}
	if commands, ok := result["commands"].([]string); ok {
		caps.Commands = commands
	} else if raw, ok := result["commands"].([]any); ok {
		for _, c := range raw {
			if s, ok := c.(string); ok {
				caps.Commands = append(caps.Commands, s)
			}
		}
	}
	if models, ok := result["models"].([]any); ok {
		for _, m := range models {
			if s, ok := m.(string); ok {
				caps.Models = append(caps.Models, s)
			}
		}
	}
	if account, ok := result["account"].(map[string]any); ok {
		caps.Account = account
	}

	session.setCapabilities(caps)
	broadcaster.Broadcast(session, map[string]any{
		"type":       "capabilities_ready",
		"session_id": session.ID,
		"commands":   caps.Commands,
		"models":     caps.Models,
		"account":    caps.Account,
	})
}
