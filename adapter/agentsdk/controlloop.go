package agentsdk

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaykit/agentbroker/adapter/agentsdk/transport"
	"github.com/relaykit/agentbroker/log"
)

// controlLoop runs the CLI's bidirectional control protocol on top of a
// transport: it multiplexes control_request/control_response round-trips
// with the plain event stream (system/assistant/result/stream_event),
// and resolves can_use_tool requests either synchronously via a
// PermissionCallback or by forwarding them out for an external decision.
type controlLoop struct {
	transport  transport.Transport
	canUseTool PermissionCallback

	pendingMu        sync.Mutex
	pendingResponses map[string]chan struct{}
	pendingResults   map[string]any

	pendingPermissionsMu sync.Mutex
	pendingPermissions   map[string]chan PermissionResult

	out chan map[string]any

	requestCounter atomic.Int64

	closed   bool
	closedMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newControlLoop(t transport.Transport, canUseTool PermissionCallback) *controlLoop {
	return &controlLoop{
		transport:          t,
		canUseTool:         canUseTool,
		pendingResponses:   make(map[string]chan struct{}),
		pendingResults:     make(map[string]any),
		pendingPermissions: make(map[string]chan PermissionResult),
		out:                make(chan map[string]any, 100),
	}
}

func (l *controlLoop) start(ctx context.Context) {
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go l.readLoop()
}

func (l *controlLoop) events() <-chan map[string]any { return l.out }

// initialize performs the initialize control-request handshake that the
// CLI requires before it accepts any user turns.
func (l *controlLoop) initialize() (*ServerInfo, error) {
	response, err := l.sendControlRequest(map[string]any{
		"subtype": "initialize",
		"hooks":   nil,
	}, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("initialize failed: %w", err)
	}

	info := &ServerInfo{}
	if commands, ok := response["commands"].([]any); ok {
		for _, cmd := range commands {
			if cmdMap, ok := cmd.(map[string]any); ok {
				info.Commands = append(info.Commands, cmdMap)
			}
		}
	}
	if style, ok := response["output_style"].(string); ok {
		info.OutputStyle = style
	}
	if styles, ok := response["output_styles"].([]any); ok {
		for _, s := range styles {
			if str, ok := s.(string); ok {
				info.OutputStyles = append(info.OutputStyles, str)
			}
		}
	}
	return info, nil
}

func (l *controlLoop) readLoop() {
	defer l.wg.Done()
	defer close(l.out)

	for {
		select {
		case <-l.ctx.Done():
			return

		case data, ok := <-l.transport.ReadMessages():
			if !ok {
				return
			}

			var base struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(data, &base); err != nil {
				log.Debug().Err(err).Msg("agentsdk: failed to parse message type")
				continue
			}

			switch base.Type {
			case "control_response":
				l.handleControlResponse(data)
			case "control_request":
				go l.handleControlRequest(data)
			default:
				l.forward(data)
			}

		case err, ok := <-l.transport.Errors():
			if !ok {
				return
			}
			log.Error().Err(err).Msg("agentsdk: transport error")
		}
	}
}

func (l *controlLoop) forward(data []byte) {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Debug().Err(err).Msg("agentsdk: failed to unmarshal event")
		return
	}
	select {
	case l.out <- msg:
	case <-l.ctx.Done():
	}
}

func (l *controlLoop) handleControlResponse(data []byte) {
	var resp struct {
		Response struct {
			Subtype   string         `json:"subtype"`
			RequestID string         `json:"request_id"`
			Response  map[string]any `json:"response,omitempty"`
			Error     string         `json:"error,omitempty"`
		} `json:"response"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		log.Debug().Err(err).Msg("agentsdk: failed to parse control response")
		return
	}

	requestID := resp.Response.RequestID
	l.pendingMu.Lock()
	ch, ok := l.pendingResponses[requestID]
	if ok {
		delete(l.pendingResponses, requestID)
	}
	l.pendingMu.Unlock()
	if !ok {
		log.Debug().Str("request_id", requestID).Msg("agentsdk: control response for unknown request")
		return
	}

	l.pendingMu.Lock()
	if resp.Response.Subtype == "error" {
		l.pendingResults[requestID] = fmt.Errorf("%s", resp.Response.Error)
	} else {
		l.pendingResults[requestID] = resp.Response.Response
	}
	l.pendingMu.Unlock()

	close(ch)
}

func (l *controlLoop) handleControlRequest(data []byte) {
	var req struct {
		RequestID string         `json:"request_id"`
		Request   map[string]any `json:"request"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		log.Debug().Err(err).Msg("agentsdk: failed to parse control request")
		return
	}

	subtype, _ := req.Request["subtype"].(string)

	var responseData map[string]any
	var respErr error

	switch subtype {
	case "can_use_tool":
		responseData, respErr = l.handleCanUseTool(req.Request)
		if responseData == nil && respErr == nil {
			responseData, respErr = l.forwardAndWaitForPermission(req.RequestID, req.Request, data)
		}
	default:
		respErr = fmt.Errorf("unknown control request subtype: %s", subtype)
	}

	l.sendControlResponse(req.RequestID, responseData, respErr)
}

// forwardAndWaitForPermission surfaces the raw control_request as a plain
// event (agentsdk/session.go turns it into a canon permission-request)
// and blocks until respondToPermission is called with a decision.
func (l *controlLoop) forwardAndWaitForPermission(requestID string, request map[string]any, rawData []byte) (map[string]any, error) {
	ch := make(chan PermissionResult, 1)
	l.pendingPermissionsMu.Lock()
	l.pendingPermissions[requestID] = ch
	l.pendingPermissionsMu.Unlock()
	defer func() {
		l.pendingPermissionsMu.Lock()
		delete(l.pendingPermissions, requestID)
		l.pendingPermissionsMu.Unlock()
	}()

	l.forward(rawData)

	select {
	case result := <-ch:
		return permissionResultToResponse(result, request)
	case <-l.ctx.Done():
		return nil, l.ctx.Err()
	}
}

func (l *controlLoop) sendControlResponse(requestID string, responseData map[string]any, respErr error) {
	response := map[string]any{
		"type": "control_response",
		"response": map[string]any{
			"request_id": requestID,
		},
	}
	inner := response["response"].(map[string]any)
	if respErr != nil {
		inner["subtype"] = "error"
		inner["error"] = respErr.Error()
	} else {
		inner["subtype"] = "success"
		inner["response"] = responseData
	}

	payload, err := json.Marshal(response)
	if err != nil {
		log.Error().Err(err).Msg("agentsdk: failed to marshal control response")
		return
	}
	if err := l.transport.Write(string(payload) + "\n"); err != nil {
		log.Error().Err(err).Msg("agentsdk: failed to send control response")
	}
}

// handleCanUseTool resolves a can_use_tool request via the callback. A
// nil result with a nil error means the callback wants the request
// forwarded for an external decision instead (PermissionAsk).
func (l *controlLoop) handleCanUseTool(request map[string]any) (map[string]any, error) {
	if l.canUseTool == nil {
		return nil, nil
	}

	toolName, _ := request["tool_name"].(string)
	input, _ := request["input"].(map[string]any)
	suggestions, _ := request["permission_suggestions"].([]any)

	pctx := ToolPermissionContext{}
	for _, s := range suggestions {
		if sMap, ok := s.(map[string]any); ok {
			update := PermissionUpdate{}
			if t, ok := sMap["type"].(string); ok {
				update.Type = PermissionUpdateType(t)
			}
			pctx.Suggestions = append(pctx.Suggestions, update)
		}
	}

	result, err := l.canUseTool(toolName, input, pctx)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil // ask: forward
	}
	return permissionResultToResponse(result, request)
}

func permissionResultToResponse(result PermissionResult, request map[string]any) (map[string]any, error) {
	input, _ := request["input"].(map[string]any)

	switch r := result.(type) {
	case PermissionResultAllow:
		resp := map[string]any{"behavior": "allow"}
		if r.UpdatedInput != nil {
			resp["updatedInput"] = r.UpdatedInput
		} else {
			resp["updatedInput"] = input
		}
		return resp, nil

	case PermissionResultDeny:
		resp := map[string]any{
			"behavior": "deny",
			"message":  r.Message,
		}
		if r.Interrupt {
			resp["interrupt"] = true
		}
		return resp, nil

	default:
		return nil, fmt.Errorf("agentsdk: unknown permission result type %T", result)
	}
}

func (l *controlLoop) sendControlRequest(request map[string]any, timeout time.Duration) (map[string]any, error) {
	requestID := l.generateRequestID()

	ch := make(chan struct{})
	l.pendingMu.Lock()
	l.pendingResponses[requestID] = ch
	l.pendingMu.Unlock()

	payload, err := json.Marshal(map[string]any{
		"type":       "control_request",
		"request_id": requestID,
		"request":    request,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal control request: %w", err)
	}

	if err := l.transport.Write(string(payload) + "\n"); err != nil {
		l.pendingMu.Lock()
		delete(l.pendingResponses, requestID)
		l.pendingMu.Unlock()
		return nil, fmt.Errorf("write control request: %w", err)
	}

	subtype, _ := request["subtype"].(string)

	select {
	case <-ch:
		l.pendingMu.Lock()
		result := l.pendingResults[requestID]
		delete(l.pendingResults, requestID)
		l.pendingMu.Unlock()

		if err, ok := result.(error); ok {
			return nil, &controlRequestError{RequestID: requestID, Subtype: subtype, Message: "request failed", Cause: err}
		}
		if respMap, ok := result.(map[string]any); ok {
			return respMap, nil
		}
		return nil, nil

	case <-time.After(timeout):
		l.pendingMu.Lock()
		delete(l.pendingResponses, requestID)
		delete(l.pendingResults, requestID)
		l.pendingMu.Unlock()
		return nil, &controlRequestError{RequestID: requestID, Subtype: subtype, Message: "timeout waiting for response", Cause: ErrTimeout}

	case <-l.ctx.Done():
		return nil, l.ctx.Err()
	}
}

func (l *controlLoop) generateRequestID() string {
	counter := l.requestCounter.Add(1)
	randBytes := make([]byte, 4)
	rand.Read(randBytes)
	return fmt.Sprintf("req_%d_%s", counter, hex.EncodeToString(randBytes))
}

// respondToPermission delivers an external decision to a pending forwarded
// can_use_tool request.
func (l *controlLoop) respondToPermission(requestID string, result PermissionResult) error {
	l.pendingPermissionsMu.Lock()
	ch, ok := l.pendingPermissions[requestID]
	l.pendingPermissionsMu.Unlock()
	if !ok {
		return fmt.Errorf("agentsdk: no pending permission for request id %q", requestID)
	}
	select {
	case ch <- result:
		return nil
	default:
		return fmt.Errorf("agentsdk: permission channel full for request id %q", requestID)
	}
}

func (l *controlLoop) interrupt() error {
	_, err := l.sendControlRequest(map[string]any{"subtype": "interrupt"}, 10*time.Second)
	return err
}

func (l *controlLoop) sendUserMessage(content string, sessionID string) error {
	if sessionID == "" {
		sessionID = "default"
	}
	payload, err := json.Marshal(map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": content,
		},
		"parent_tool_use_id": nil,
		"session_id":         sessionID,
	})
	if err != nil {
		return fmt.Errorf("agentsdk: marshal user message: %w", err)
	}
	return l.transport.Write(string(payload) + "\n")
}

func (l *controlLoop) sendToolResult(toolUseID string, content string) error {
	payload, err := json.Marshal(map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				{"type": "tool_result", "tool_use_id": toolUseID, "content": content},
			},
		},
		"parent_tool_use_id": nil,
		"session_id":         "default",
	})
	if err != nil {
		return fmt.Errorf("agentsdk: marshal tool result: %w", err)
	}
	return l.transport.Write(string(payload) + "\n")
}

func (l *controlLoop) close() error {
	l.closedMu.Lock()
	if l.closed {
		l.closedMu.Unlock()
		return nil
	}
	l.closed = true
	l.closedMu.Unlock()

	if l.cancel != nil {
		l.cancel()
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		log.Warn().Msg("agentsdk: control loop goroutines did not finish in time")
	}

	return nil
}
