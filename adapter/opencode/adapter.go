// Package opencode implements the HTTP+SSE adapter family (spec.md
// §4.3(2)): attach to a local opencode HTTP server and consume its SSE
// event stream with github.com/r3labs/sse/v2 — the one dependency in
// this module not traceable to an example repo's go.mod (no pack member
// ships a ready SSE client; opencode's wire format is SSE by protocol,
// so a dedicated client beats hand-rolling chunk parsing on
// bufio.Scanner).
package opencode

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/relaykit/agentbroker/adapter"
)

// Adapter attaches to an already-running (or supervisor-spawned) opencode
// HTTP server at BaseURL.
type Adapter struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New constructs the opencode driver against a running server.
func New(baseURL string) *Adapter {
	return &Adapter{BaseURL: baseURL, HTTPClient: &http.Client{Timeout: 30 * time.Second}}
}

func (a *Adapter) Name() string { return "opencode" }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		Streaming:     true,
		Permissions:   true,
		SlashCommands: false,
		Availability:  adapter.AvailabilityLocal,
	}
}

func (a *Adapter) Connect(ctx context.Context, opts adapter.ConnectOptions) (adapter.BackendSession, error) {
	if a.BaseURL == "" {
		return nil, fmt.Errorf("opencode: no base url configured")
	}
	sess := newSession(opts.SessionID, a.BaseURL, a.HTTPClient)
	if err := sess.createRemoteSession(ctx, opts); err != nil {
		return nil, fmt.Errorf("opencode: create session: %w", err)
	}
	go sess.consumeSSE(ctx)
	return sess, nil
}

var _ adapter.Adapter = (*Adapter)(nil)
