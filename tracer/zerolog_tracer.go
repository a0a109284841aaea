package tracer

import (
	"github.com/rs/zerolog"

	"github.com/relaykit/agentbroker/log"
)

// ZerologTracer emits one JSON line per call via the repo's shared
// zerolog logger, matching spec.md §6 ("Implementations emit one JSON
// line per call") and the teacher's component-logger idiom
// (log.With().Str("component", ...)).
type ZerologTracer struct {
	logger zerolog.Logger
}

// NewZerologTracer builds a Tracer writing under the "tracer" component.
func NewZerologTracer() *ZerologTracer {
	return &ZerologTracer{logger: log.Logger().With().Str("component", "tracer").Logger()}
}

func (t *ZerologTracer) Send(component, messageType string, body any, ctx Context) {
	t.event(t.logger.Info(), component, ctx).
		Str("message_type", messageType).
		Interface("body", body).
		Msg("trace")
}

func (t *ZerologTracer) Error(component string, err error, ctx Context) {
	t.event(t.logger.Error(), component, ctx).Err(err).Msg("trace_error")
}

func (t *ZerologTracer) event(e *zerolog.Event, component string, ctx Context) *zerolog.Event {
	e = e.Str("component", component)
	if ctx.SessionID != "" {
		e = e.Str("session_id", ctx.SessionID)
	}
	if ctx.TraceID != "" {
		e = e.Str("trace_id", ctx.TraceID)
	}
	if ctx.RequestID != "" {
		e = e.Str("request_id", ctx.RequestID)
	}
	if ctx.Command != "" {
		e = e.Str("command", ctx.Command)
	}
	if ctx.Phase != "" {
		e = e.Str("phase", ctx.Phase)
	}
	if ctx.Outcome != "" {
		e = e.Str("outcome", ctx.Outcome)
	}
	return e
}

var _ Tracer = (*ZerologTracer)(nil)
