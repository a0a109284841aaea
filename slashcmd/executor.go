package slashcmd

import (
	"context"
	"time"

	"github.com/relaykit/agentbroker/metrics"
	"github.com/relaykit/agentbroker/tracer"
)

// LocalExecutor runs a consumer-routed command against session-local
// state without touching the backend (spec.md §4.6: "execute locally
// against session.state").
type LocalExecutor interface {
	Execute(ctx context.Context, command string) (content string, err error)
}

// Handler implements SlashCommandHandler.handleSlashCommand of spec.md
// §4.6. It is deliberately narrow — forward/recordPending/broadcast are
// supplied by the caller (bridge.Session) as closures rather than an
// interface on *bridge.Session, so this package has no dependency on
// bridge and bridge can depend on this one.
type Handler struct {
	Registry *Registry
	Local    LocalExecutor
	Metrics  metrics.Sink
	Tracer   tracer.Tracer
}

// NewHandler constructs a Handler; metrics/tr may be nil, in which case
// no-op sinks are used.
func NewHandler(registry *Registry, local LocalExecutor, m metrics.Sink, tr tracer.Tracer) *Handler {
	if m == nil {
		m = metrics.Noop{}
	}
	if tr == nil {
		tr = tracer.Noop{}
	}
	return &Handler{Registry: registry, Local: local, Metrics: m, Tracer: tr}
}

// Handle classifies command and either records a pending passthrough and
// forwards it, or executes it locally and broadcasts the outcome.
func (h *Handler) Handle(ctx context.Context, sessionID, command, requestID, traceID string, forward func(command string) error, recordPending func(command, requestID, traceID string), broadcast func(payload any) error) {
	routing := RoutingPassthrough
	if cmd, ok := h.Registry.Get(command); ok {
		routing = cmd.Routing
	}

	if routing == RoutingPassthrough {
		recordPending(command, requestID, traceID)
		if err := forward(command); err != nil {
			broadcast(map[string]any{
				"type":       "slash_command_error",
				"command":    command,
				"request_id": requestID,
				"error":      err.Error(),
			})
			h.Metrics.Inc("slash_command:failed", map[string]string{"command": command})
		}
		return
	}

	start := time.Now()
	content, err := h.Local.Execute(ctx, command)
	if err != nil {
		broadcast(map[string]any{
			"type":       "slash_command_error",
			"command":    command,
			"request_id": requestID,
			"error":      err.Error(),
		})
		h.Metrics.Inc("slash_command:failed", map[string]string{"command": command})
		h.Tracer.Error("slashcmd", err, tracer.Context{SessionID: sessionID, RequestID: requestID, Command: command, Phase: "local", Outcome: "error"})
		return
	}

	broadcast(map[string]any{
		"type":       "slash_command_result",
		"command":    command,
		"request_id": requestID,
		"content":    content,
		"source":     "emulated",
	})
	h.Metrics.Observe("slash_command:executed", time.Since(start).Seconds(), map[string]string{"command": command})
}
