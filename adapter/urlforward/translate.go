package urlforward

import (
	"encoding/json"
	"fmt"

	"github.com/relaykit/agentbroker/canon"
)

// TranslateInbound wraps one raw NDJSON line from the external process.
// The wire format is whatever that process speaks natively and is not
// otherwise known to the broker, so the line is carried verbatim under
// metadata["native"] rather than parsed into typed content — the only
// translation families where the canonical envelope is a lossless
// pass-through rather than a structural mapping.
func TranslateInbound(line []byte) *canon.UnifiedMessage {
	var native map[string]any
	if err := json.Unmarshal(line, &native); err != nil {
		return canon.New(canon.TypeUnknown, canon.RoleAssistant, nil, map[string]any{"raw": string(line)})
	}
	return canon.New(canon.TypeStreamEvent, canon.RoleAssistant, nil, map[string]any{"native": native})
}

// TranslateOutbound encodes a canonical envelope back to an NDJSON line
// for the subset of types that have an unambiguous native shape.
// Callers needing true pass-through should call SendRaw directly
// instead of routing through Send/TranslateOutbound.
func TranslateOutbound(msg *canon.UnifiedMessage) ([]byte, error) {
	switch msg.Type {
	case canon.TypeUserMessage:
		text := ""
		for _, b := range msg.Content {
			if t, ok := b.(canon.TextBlock); ok {
				text += t.Text
			}
		}
		return json.Marshal(map[string]any{"type": "user_message", "text": text})

	case canon.TypeInterrupt:
		return json.Marshal(map[string]any{"type": "interrupt"})

	default:
		return nil, fmt.Errorf("urlforward: no native encoding for message type %q; use SendRaw", msg.Type)
	}
}
