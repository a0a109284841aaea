package urlforward

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaykit/agentbroker/canon"
)

func TestTranslateInboundValidJSONCarriesNative(t *testing.T) {
	msg := TranslateInbound([]byte(`{"type":"assistant","text":"hi"}`))
	require.Equal(t, canon.TypeStreamEvent, msg.Type)
	native, ok := msg.Metadata["native"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "assistant", native["type"])
}

func TestTranslateInboundNonJSONFallsBackToRaw(t *testing.T) {
	msg := TranslateInbound([]byte("not json"))
	require.Equal(t, canon.TypeUnknown, msg.Type)
	require.Equal(t, "not json", msg.Metadata["raw"])
}

func TestTranslateOutboundUserMessageJoinsText(t *testing.T) {
	m := canon.New(canon.TypeUserMessage, canon.RoleUser, []canon.ContentBlock{canon.TextBlock{Text: "go"}}, nil)
	raw, err := TranslateOutbound(m)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"text":"go"`)
}

func TestTranslateOutboundUnsupportedTypeErrors(t *testing.T) {
	m := canon.New(canon.TypeResult, canon.RoleAssistant, nil, nil)
	_, err := TranslateOutbound(m)
	require.Error(t, err)
}
