// Package acp implements the JSON-RPC-over-stdio adapter family (ACP,
// Gemini, Codex) described in spec.md §4.3(1). The codec here is
// hand-rolled rather than built on an external ACP SDK: this module's
// build environment has no network or module-cache access to verify
// that SDK's actual Go API, so the codec instead generalizes
// adapter/agentsdk's own control_request/control_response
// request-id-correlation machinery (sendControlRequest,
// handleControlRequest, requestCounter) from that package's ad hoc map
// shape onto a conventional JSON-RPC 2.0 envelope.
package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/relaykit/agentbroker/log"
)

const jsonrpcVersion = "2.0"

// request is an outbound JSON-RPC request.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response is an inbound (or outbound, for replies to agent-issued
// requests) JSON-RPC response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("acp: rpc error %d: %s", e.Code, e.Message) }

// notification is a one-way JSON-RPC message, used for session/update.
type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// inboundMessage is the generic shape used to classify a decoded line
// before dispatching it as a notification, an agent-issued request, or a
// response to one of our own pending requests.
type inboundMessage struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

// Codec multiplexes the line-delimited JSON-RPC stream for one agent
// subprocess: outbound requests awaiting a response, inbound
// notifications, and inbound agent-issued requests (permission_request
// in spec.md terms) that must be answered asynchronously.
type Codec struct {
	w io.Writer

	idCounter atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan inboundMessage

	Notifications chan rawNotification
	AgentRequests chan rawAgentRequest
}

type rawNotification struct {
	Method string
	Params json.RawMessage
}

type rawAgentRequest struct {
	ID     int64
	Method string
	Params json.RawMessage
}

// NewCodec wraps a subprocess's stdin/stdout as a JSON-RPC peer and
// starts the background read pump.
func NewCodec(w io.Writer, r io.Reader) *Codec {
	c := &Codec{
		w:             w,
		pending:       make(map[int64]chan inboundMessage),
		Notifications: make(chan rawNotification, 128),
		AgentRequests: make(chan rawAgentRequest, 32),
	}
	go c.readLoop(r)
	return c
}

func (c *Codec) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg inboundMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			log.Warn().Err(err).Msg("acp: malformed json-rpc line, skipping")
			continue
		}
		c.dispatch(msg)
	}
	close(c.Notifications)
	close(c.AgentRequests)
}

func (c *Codec) dispatch(msg inboundMessage) {
	switch {
	case msg.ID != nil && msg.Method != "":
		// Agent-issued request (e.g. session/request_permission).
		select {
		case c.AgentRequests <- rawAgentRequest{ID: *msg.ID, Method: msg.Method, Params: msg.Params}:
		default:
			log.Warn().Str("method", msg.Method).Msg("acp: agent request channel full, dropping")
		}
	case msg.ID != nil:
		// Response to one of our requests.
		c.mu.Lock()
		ch, ok := c.pending[*msg.ID]
		if ok {
			delete(c.pending, *msg.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	case msg.Method != "":
		select {
		case c.Notifications <- rawNotification{Method: msg.Method, Params: msg.Params}:
		default:
			log.Warn().Str("method", msg.Method).Msg("acp: notification channel full, dropping")
		}
	}
}

// Call sends a request and blocks for its response.
func (c *Codec) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.idCounter.Add(1)
	ch := make(chan inboundMessage, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	data, err := json.Marshal(request{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: params})
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}
	if _, err := c.w.Write(append(data, '\n')); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("acp: write: %w", err)
	}

	select {
	case msg := <-ch:
		if msg.Error != nil {
			return nil, msg.Error
		}
		return msg.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Reply answers an agent-issued request (by id) with a result or error.
func (c *Codec) Reply(id int64, result any, replyErr error) error {
	resp := response{JSONRPC: jsonrpcVersion, ID: id}
	if replyErr != nil {
		resp.Error = &rpcError{Code: -32000, Message: replyErr.Error()}
	} else {
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		resp.Result = data
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	_, err = c.w.Write(append(data, '\n'))
	return err
}

// Notify sends a one-way notification to the agent (unused by the
// client role today but kept for symmetry with the wire protocol).
func (c *Codec) Notify(method string, params any) error {
	data, err := json.Marshal(notification{JSONRPC: jsonrpcVersion, Method: method, Params: params})
	if err != nil {
		return err
	}
	_, err = c.w.Write(append(data, '\n'))
	return err
}
