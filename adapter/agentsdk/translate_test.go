package agentsdk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaykit/agentbroker/canon"
)

func TestTranslateInboundSystemInit(t *testing.T) {
	msg, err := TranslateInbound(map[string]any{"type": "system", "subtype": "init", "model": "claude"})
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Equal(t, canon.TypeSessionInit, msg.Type)
}

func TestTranslateInboundSystemNonInitDropped(t *testing.T) {
	msg, err := TranslateInbound(map[string]any{"type": "system", "subtype": "compact_boundary"})
	require.NoError(t, err)
	require.Nil(t, msg)
}

func TestTranslateInboundAssistantExtractsTextBlock(t *testing.T) {
	native := map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"content": []any{
				map[string]any{"type": "text", "text": "hello there"},
			},
		},
	}
	msg, err := TranslateInbound(native)
	require.NoError(t, err)
	require.Len(t, msg.Content, 1)
	text, ok := msg.Content[0].(canon.TextBlock)
	require.True(t, ok)
	require.Equal(t, "hello there", text.Text)
}

func TestTranslateInboundResultSetsErrorCode(t *testing.T) {
	native := map[string]any{"type": "result", "is_error": true, "subtype": "error_max_turns"}
	msg, err := TranslateInbound(native)
	require.NoError(t, err)
	require.Equal(t, canon.ErrMaxTurns, msg.Metadata["error_code"])
}

func TestTranslateInboundUserEchoDropped(t *testing.T) {
	msg, err := TranslateInbound(map[string]any{"type": "user"})
	require.NoError(t, err)
	require.Nil(t, msg)
}

func TestTranslateOutboundUserMessageJoinsText(t *testing.T) {
	m := canon.New(canon.TypeUserMessage, canon.RoleUser, []canon.ContentBlock{canon.TextBlock{Text: "hi"}}, nil)
	action, err := TranslateOutbound(m)
	require.NoError(t, err)
	require.Equal(t, "hi", action.Payload)
}

func TestTranslateOutboundUnsupportedTypeErrors(t *testing.T) {
	m := canon.New(canon.TypeAssistant, canon.RoleAssistant, nil, nil)
	_, err := TranslateOutbound(m)
	require.Error(t, err)
}
