package agentsdk

import (
	"context"
	"fmt"

	"github.com/relaykit/agentbroker/adapter"
	"github.com/relaykit/agentbroker/log"
)

// Adapter drives an in-process backendClient per session.
type Adapter struct {
	// BuildOptions customizes per-session CLI options (tools, cwd, model);
	// left nil it uses sensible defaults.
	BuildOptions func(opts adapter.ConnectOptions) Options
}

// New constructs the agent-sdk driver.
func New() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string { return "agent-sdk" }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		Streaming:     true,
		Permissions:   true,
		SlashCommands: false,
		Availability:  adapter.AvailabilityLocal,
	}
}

func (a *Adapter) Connect(ctx context.Context, opts adapter.ConnectOptions) (adapter.BackendSession, error) {
	var backendOpts Options
	if a.BuildOptions != nil {
		backendOpts = a.BuildOptions(opts)
	}
	if backendOpts.Cwd == "" {
		backendOpts.Cwd = opts.Cwd
	}

	sess := newSession(opts.SessionID)

	backendOpts.CanUseTool = sess.canUseTool

	client := newBackendClient(backendOpts)
	if err := client.Connect(ctx, ""); err != nil {
		return nil, fmt.Errorf("agentsdk: connect: %w", err)
	}
	sess.client = client

	go sess.pump()

	return sess, nil
}

var _ adapter.Adapter = (*Adapter)(nil)

// pendingPermission is a permission request awaiting a resolution from
// the bridge, keyed by the control_request's request_id.
type pendingPermission struct {
	resultCh chan PermissionResult
}

func (s *session) canUseTool(toolName string, input map[string]any, pctx ToolPermissionContext) (PermissionResult, error) {
	requestID := fmt.Sprintf("%s-%d", s.sessionID, s.nextPermissionID())

	pending := &pendingPermission{resultCh: make(chan PermissionResult, 1)}
	s.mu.Lock()
	s.pendingPermissions[requestID] = pending
	s.mu.Unlock()

	s.permissionRequests <- permissionRequest{
		requestID: requestID,
		toolName:  toolName,
		input:     input,
	}

	result := <-pending.resultCh
	return result, nil
}

func (s *session) nextPermissionID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permissionSeq++
	return s.permissionSeq
}

// ResolvePermission is called by the connector when a matching
// TypePermissionResponse arrives from a consumer.
func (s *session) ResolvePermission(requestID string, result PermissionResult) {
	s.mu.Lock()
	pending, ok := s.pendingPermissions[requestID]
	if ok {
		delete(s.pendingPermissions, requestID)
	}
	s.mu.Unlock()
	if !ok {
		log.Warn().Str("request_id", requestID).Msg("agentsdk: no pending permission for request id")
		return
	}
	pending.resultCh <- result
}
