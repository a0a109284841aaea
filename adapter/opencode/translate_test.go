package opencode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaykit/agentbroker/adapter"
	"github.com/relaykit/agentbroker/canon"
)

func newTestSession() *session {
	return newSession("sess-1", "http://127.0.0.1:0", nil)
}

func TestTranslateInboundPartDeltaAppendsBuffer(t *testing.T) {
	s := newTestSession()

	_, _ = TranslateInbound(s, "message.part.delta", map[string]any{
		"part": map[string]any{"id": "p1", "reasoning": false},
		"text": "hel",
	})
	_, _ = TranslateInbound(s, "message.part.delta", map[string]any{
		"part": map[string]any{"id": "p1", "reasoning": false},
		"text": "lo",
	})

	require.Equal(t, "hello", s.partBuffers["p1"].String())
}

func TestTranslateInboundMessageUpdatedMaterializesExcludingReasoning(t *testing.T) {
	s := newTestSession()
	s.appendDelta("p1", "thinking...", true)
	s.appendDelta("p2", "final answer", false)

	msg, ok := TranslateInbound(s, "message.updated", map[string]any{})
	require.True(t, ok)
	require.Equal(t, canon.TypeAssistant, msg.Type)
	text, ok := msg.Content[0].(canon.TextBlock)
	require.True(t, ok)
	require.Equal(t, "final answer", text.Text)

	// Buffers cleared after materialization.
	require.Empty(t, s.partOrder)
}

func TestTranslateInboundSessionStatusIdleClearsBuffers(t *testing.T) {
	s := newTestSession()
	s.appendDelta("p1", "partial", false)

	_, _ = TranslateInbound(s, "session.status", map[string]any{"status": "idle"})

	require.Empty(t, s.partOrder)
}

func TestTranslateInboundSessionStatusBusyKeepsBuffers(t *testing.T) {
	s := newTestSession()
	s.appendDelta("p1", "partial", false)

	_, _ = TranslateInbound(s, "session.status", map[string]any{"status": "busy"})

	require.Contains(t, s.partOrder, "p1")
}

func TestTranslateInboundUnknownEventDropped(t *testing.T) {
	msg, ok := TranslateInbound(newTestSession(), "something.else", map[string]any{})
	require.False(t, ok)
	require.Nil(t, msg)
}

func TestTranslateOutboundUserMessageBuildsPromptPayload(t *testing.T) {
	m := canon.New(canon.TypeUserMessage, canon.RoleUser,
		[]canon.ContentBlock{canon.TextBlock{Text: "hi"}},
		map[string]any{"providerID": "anthropic", "modelID": "claude"})

	action, err := TranslateOutbound(m, "backend-1")
	require.NoError(t, err)
	require.Equal(t, adapter.ActionPrompt, action.Kind)

	payload, ok := action.Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "anthropic", payload["providerID"])
	require.Equal(t, "claude", payload["modelID"])
}

func TestTranslateOutboundPermissionResponseMapsBehavior(t *testing.T) {
	cases := map[string]string{"allow": "once", "always": "always", "deny": "reject", "": "reject"}
	for behavior, want := range cases {
		m := canon.New(canon.TypePermissionResponse, canon.RoleUser, nil, map[string]any{"behavior": behavior})
		action, err := TranslateOutbound(m, "backend-1")
		require.NoError(t, err)
		reply, ok := action.Payload.(map[string]any)
		require.True(t, ok)
		require.Equal(t, want, reply["response"])
	}
}

func TestTranslateOutboundUnsupportedTypeErrors(t *testing.T) {
	m := canon.New(canon.TypeResult, canon.RoleAssistant, nil, nil)
	_, err := TranslateOutbound(m, "backend-1")
	require.Error(t, err)
}
