package bridge

import (
	"strings"

	"github.com/relaykit/agentbroker/canon"
	"github.com/relaykit/agentbroker/tracer"
)

const localCommandStdoutOpen = "<local-command-stdout>"
const localCommandStdoutClose = "</local-command-stdout>"

// PassthroughInterceptor implements spec.md §4.7's correlation rules in
// order. It owns none of the session state directly; every method reads
// and mutates through *Session so the consumption loop stays the single
// mutator.
type PassthroughInterceptor struct {
	Broadcaster Broadcaster
	Tracer      tracer.Tracer
}

// InterceptNativeEcho implements rule 1: a backend whose passthroughHandler
// is installed gets first refusal on its own raw native messages, before
// canonical translation even runs. Returns true if native was a user-echo
// matching the oldest pending passthrough (i.e. consumed/suppressed).
func (p PassthroughInterceptor) InterceptNativeEcho(session *Session, native map[string]any) bool {
	pending := session.peekPassthrough()
	if pending == nil {
		return false
	}
	if t, _ := native["type"].(string); t != "user" {
		return false
	}
	text := extractUserEchoText(native)
	if text == "" {
		return false
	}

	session.shiftPassthrough()
	p.emitResult(session, pending, text, "cli")
	p.emitSummary(session, pending, "intercepted_user_echo", "success")
	return true
}

// InterceptCanonical implements rule 2: while a passthrough is pending,
// stream_event/assistant/result messages are diverted into the
// correlation buffer instead of (or in addition to) ordinary fan-out.
// Returns true if msg was fully consumed by the passthrough path and
// should not also be broadcast as a normal canonical message.
func (p PassthroughInterceptor) InterceptCanonical(session *Session, msg *canon.UnifiedMessage) bool {
	pending := session.peekPassthrough()
	if pending == nil {
		return false
	}

	switch msg.Type {
	case canon.TypeStreamEvent:
		if text, ok := streamDeltaText(msg); ok {
			session.appendStreamBuffer(text)
		}
		return false

	case canon.TypeAssistant:
		if text := joinAssistantText(msg); text != "" {
			session.shiftPassthrough()
			session.takeStreamBuffer()
			p.emitResult(session, pending, text, "cli")
			p.emitSummary(session, pending, "assistant_text", "success")
			return true
		}
		return false

	case canon.TypeResult:
		resultText, _ := msg.Metadata["result"].(string)
		if resultText != "" {
			session.shiftPassthrough()
			session.takeStreamBuffer()
			p.emitResult(session, pending, resultText, "cli")
			p.emitSummary(session, pending, "result_field", "success")
			return true
		}

		buffered := session.takeStreamBuffer()
		session.shiftPassthrough()
		if buffered != "" {
			p.emitResult(session, pending, buffered, "cli")
			p.emitSummary(session, pending, "stream_buffer", "success")
		} else {
			p.emitError(session, pending, "empty output")
			p.emitSummary(session, pending, "none", "empty_result")
		}
		return true
	}

	return false
}

// CancelAll fails every pending passthrough with slash_command_error, on
// backend stream error or clean disconnect (spec.md §4.5, §7).
func (p PassthroughInterceptor) CancelAll(session *Session) {
	for _, pending := range session.drainAllPassthroughs() {
		p.emitError(session, pending, "backend disconnected")
		p.emitSummary(session, pending, "none", "backend_error")
	}
}

func (p PassthroughInterceptor) emitResult(session *Session, pending *PendingPassthrough, content, source string) {
	p.Broadcaster.Broadcast(session, map[string]any{
		"type":       "slash_command_result",
		"command":    pending.Command,
		"request_id": pending.RequestID,
		"content":    content,
		"source":     source,
	})
}

func (p PassthroughInterceptor) emitError(session *Session, pending *PendingPassthrough, reason string) {
	p.Broadcaster.Broadcast(session, map[string]any{
		"type":       "slash_command_error",
		"command":    pending.Command,
		"request_id": pending.RequestID,
		"error":      "Pending passthrough \"" + pending.Command + "\" produced " + reason,
	})
}

func (p PassthroughInterceptor) emitSummary(session *Session, pending *PendingPassthrough, matchedPath, outcome string) {
	if p.Tracer == nil {
		return
	}
	p.Tracer.Send("bridge", "slash_decision_summary", map[string]any{
		"command":      pending.Command,
		"matched_path": matchedPath,
		"outcome":      outcome,
	}, tracer.Context{
		SessionID: session.ID,
		TraceID:   pending.TraceID,
		RequestID: pending.RequestID,
		Command:   pending.Command,
		Phase:     "passthrough",
		Outcome:   outcome,
	})
}

func extractUserEchoText(native map[string]any) string {
	message, ok := native["message"].(map[string]any)
	if !ok {
		return ""
	}
	content, ok := message["content"].(string)
	if !ok {
		return ""
	}
	return stripLocalCommandStdout(content)
}

func stripLocalCommandStdout(text string) string {
	start := strings.Index(text, localCommandStdoutOpen)
	end := strings.Index(text, localCommandStdoutClose)
	if start == -1 || end == -1 || end < start {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(text[start+len(localCommandStdoutOpen) : end])
}

func streamDeltaText(msg *canon.UnifiedMessage) (string, bool) {
	event, ok := msg.Metadata["event"].(map[string]any)
	if !ok {
		return "", false
	}
	delta, ok := event["delta"].(map[string]any)
	if !ok {
		return "", false
	}
	text, ok := delta["text"].(string)
	return text, ok
}

func joinAssistantText(msg *canon.UnifiedMessage) string {
	var sb strings.Builder
	for _, b := range msg.Content {
		if t, ok := b.(canon.TextBlock); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}
