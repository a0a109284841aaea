// Package urlforward implements the sdk-url driver family (spec.md
// §4.3(4)): connect does not spawn anything — it registers a pending
// slot that an external process later dials into over a websocket
// upgrade, at which point raw NDJSON is proxied in both directions.
// Framing uses github.com/coder/websocket, the same library the
// teacher's claude/session.go Client and api/claude.go
// ClaudeSubscribeWebSocket use for their own raw frame read/write.
package urlforward

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/relaykit/agentbroker/adapter"
)

// Adapter holds the table of sessions awaiting an external connection.
// Unlike the spawn-based families, one Adapter value is shared across
// every session of this kind, since there is only ever one listener
// endpoint.
type Adapter struct {
	mu      sync.Mutex
	pending map[string]*session
}

// New constructs an empty sdk-url adapter.
func New() *Adapter {
	return &Adapter{pending: make(map[string]*session)}
}

func (a *Adapter) Name() string { return "sdk-url" }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		Streaming:     true,
		Permissions:   false,
		SlashCommands: false,
		Availability:  adapter.AvailabilityRemote,
	}
}

// Connect registers a pending slot for opts.SessionID and returns
// immediately; the returned BackendSession buffers outbound sends until
// HandleUpgrade attaches the external process's connection.
func (a *Adapter) Connect(ctx context.Context, opts adapter.ConnectOptions) (adapter.BackendSession, error) {
	sess := newSession(opts.SessionID)

	a.mu.Lock()
	a.pending[opts.SessionID] = sess
	a.mu.Unlock()

	return sess, nil
}

// Endpoint returns the well-known upgrade path external processes dial
// for a given session, for the composition root to expose via the HTTP
// router.
func (a *Adapter) Endpoint(sessionID string) string {
	return fmt.Sprintf("/forward/%s", sessionID)
}

// HandleUpgrade completes the websocket handshake for sessionID and
// attaches the resulting connection to its pending session. Call from
// the HTTP route bound to Endpoint(sessionID).
func (a *Adapter) HandleUpgrade(w http.ResponseWriter, r *http.Request, sessionID string) error {
	a.mu.Lock()
	sess, ok := a.pending[sessionID]
	a.mu.Unlock()
	if !ok {
		http.Error(w, "no session awaiting connection", http.StatusNotFound)
		return fmt.Errorf("urlforward: no pending session %q", sessionID)
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return fmt.Errorf("urlforward: websocket upgrade: %w", err)
	}

	sess.attach(r.Context(), conn)

	a.mu.Lock()
	delete(a.pending, sessionID)
	a.mu.Unlock()

	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
