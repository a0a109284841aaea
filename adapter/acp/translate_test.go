package acp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaykit/agentbroker/canon"
)

func TestTranslateInboundAgentMessageChunk(t *testing.T) {
	params, _ := json.Marshal(map[string]any{
		"update": map[string]any{
			"sessionUpdate": "agent_message_chunk",
			"content":       map[string]any{"text": "hi there"},
		},
	})
	msg, err := TranslateInbound("session/update", params)
	require.NoError(t, err)
	require.Equal(t, canon.TypeStreamEvent, msg.Type)
	text, ok := msg.Content[0].(canon.TextBlock)
	require.True(t, ok)
	require.Equal(t, "hi there", text.Text)
}

func TestTranslateInboundIgnoresOtherMethods(t *testing.T) {
	msg, err := TranslateInbound("session/other", json.RawMessage(`{}`))
	require.NoError(t, err)
	require.Nil(t, msg)
}

func TestTranslateOutboundPermissionResponseMapsBehaviorToOptionID(t *testing.T) {
	cases := map[string]string{"allow": "allow-once", "always": "allow-always", "deny": "reject-once", "": "reject-once"}
	for behavior, want := range cases {
		m := canon.New(canon.TypePermissionResponse, canon.RoleUser, nil, map[string]any{
			"request_id": float64(7),
			"behavior":   behavior,
		})
		action, err := TranslateOutbound(m)
		require.NoError(t, err)
		reply, ok := action.Payload.(acpPermissionReply)
		require.True(t, ok)
		require.Equal(t, int64(7), reply.requestID)
		require.Equal(t, want, reply.optionID)
	}
}
