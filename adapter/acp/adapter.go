package acp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relaykit/agentbroker/adapter"
	"github.com/relaykit/agentbroker/process"
	"github.com/relaykit/agentbroker/supervisor"
)

// Adapter drives one JSON-RPC-over-stdio agent family member. Gemini and
// Codex register their own *Adapter values with different Command/Args
// and the same wire codec, matching spec.md §4.3(1): "share a codec,
// differ in spawn args and error-code tables."
type Adapter struct {
	name       string
	command    string
	args       []string
	supervisor *supervisor.Supervisor
	// ClassifyError maps an RPC error code to a canonical error code;
	// required because error classification is adapter-specific
	// (spec.md §4.3(1): "Error result classification is pluggable per
	// adapter, e.g. code 401 → provider_auth").
	classifyError func(code int) string
}

// New constructs a stdio JSON-RPC adapter. name is the registered
// symbolic name (acp | gemini | codex).
func New(name, command string, args []string, sup *supervisor.Supervisor, classifyError func(code int) string) *Adapter {
	if classifyError == nil {
		classifyError = defaultClassifyError
	}
	return &Adapter{name: name, command: command, args: args, supervisor: sup, classifyError: classifyError}
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		Streaming:     true,
		Permissions:   true,
		SlashCommands: true,
		Availability:  adapter.AvailabilityLocal,
	}
}

func (a *Adapter) Connect(ctx context.Context, opts adapter.ConnectOptions) (adapter.BackendSession, error) {
	spec := process.Spec{Command: a.command, Args: a.args, Cwd: opts.Cwd, Env: opts.Env}
	handle, err := a.supervisor.SpawnProcess(ctx, opts.SessionID, a.name, spec)
	if err != nil {
		return nil, err
	}

	codec := NewCodec(handle.Stdin(), handle.Stdout())
	sess := newSession(opts.SessionID, a.name, codec, handle, a.classifyError)

	if err := sess.handshake(ctx, opts); err != nil {
		handle.Signal(process.SignalTerm)
		return nil, fmt.Errorf("acp: handshake: %w", err)
	}

	go sess.pump()

	return sess, nil
}

var _ adapter.Adapter = (*Adapter)(nil)

func defaultClassifyError(code int) string {
	switch code {
	case 401:
		return "provider_auth"
	case 429:
		return "rate_limit"
	default:
		return "unknown"
	}
}

// handshake performs the initialize + session/new (or session/load)
// exchange described in spec.md §4.3(1).
func (s *session) handshake(ctx context.Context, opts adapter.ConnectOptions) error {
	hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	initResult, err := s.codec.Call(hctx, "initialize", map[string]any{
		"protocolVersion": 1,
		"clientCapabilities": map[string]any{
			"fs": map[string]any{"readTextFile": true, "writeTextFile": true},
		},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	var initParsed struct {
		AgentCapabilities map[string]any `json:"agentCapabilities"`
	}
	json.Unmarshal(initResult, &initParsed)

	method := "session/new"
	params := map[string]any{"cwd": opts.Cwd}
	if opts.Resume && opts.BackendSessionID != "" {
		method = "session/load"
		params["sessionId"] = opts.BackendSessionID
	}
	sessResult, err := s.codec.Call(hctx, method, params)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	var sessParsed struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(sessResult, &sessParsed); err != nil {
		return fmt.Errorf("%s: malformed response: %w", method, err)
	}
	s.setBackendSessionID(sessParsed.SessionID)
	return nil
}
