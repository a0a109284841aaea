// Package adapter defines the common Backend Adapter Plane contract
// (spec.md §4.3) implemented by the four driver packages: acp, opencode,
// agentsdk, urlforward.
package adapter

import (
	"context"

	"github.com/relaykit/agentbroker/canon"
)

// Availability classifies where a backend runs.
type Availability string

const (
	AvailabilityLocal  Availability = "local"
	AvailabilityRemote Availability = "remote"
)

// Capabilities describes what a backend supports, surfaced to consumers
// on session_init.
type Capabilities struct {
	Streaming     bool
	Permissions   bool
	SlashCommands bool
	Availability  Availability
	Teams         bool
}

// ConnectOptions parameterizes Adapter.Connect.
type ConnectOptions struct {
	SessionID string
	Cwd       string
	Resume    bool
	// BackendSessionID, when Resume is true, names the prior backend
	// session to reattach to (ACP session/load, agentsdk resume, ...).
	BackendSessionID string
	Env              []string
}

// Action is the tagged variant an outbound translator produces, per
// spec.md §4.1: "translateToNative(UnifiedMessage) → Action where Action
// is a tagged variant over request, response, notification, prompt,
// permission_reply, abort, noop."
type ActionKind string

const (
	ActionRequest         ActionKind = "request"
	ActionResponse        ActionKind = "response"
	ActionNotification    ActionKind = "notification"
	ActionPrompt          ActionKind = "prompt"
	ActionPermissionReply ActionKind = "permission_reply"
	ActionAbort           ActionKind = "abort"
	ActionNoop            ActionKind = "noop"
)

// Action carries the outbound translator's decision plus whatever native
// payload the driver needs to actually perform it.
type Action struct {
	Kind    ActionKind
	Payload any
}

// BackendSession is a live connection to one backend instance for one
// session, per spec.md §4.3's BackendSession contract.
type BackendSession interface {
	SessionID() string
	// BackendSessionID is populated after handshake; empty before then.
	BackendSessionID() string
	// Messages is the lazy, unbounded, single-consumer sequence of
	// canonical messages. The channel closes when the backend session
	// ends, by close() or by disconnect.
	Messages() <-chan *canon.UnifiedMessage
	Send(ctx context.Context, msg *canon.UnifiedMessage) error
	Close(ctx context.Context) error
}

// RawSender is an optional capability: adapters that support
// sdk-url-style raw NDJSON forwarding implement it in addition to
// BackendSession.
type RawSender interface {
	SendRaw(ctx context.Context, ndjson []byte) error
}

// PassthroughCapable is an optional capability: adapters whose native
// wire format round-trips slash commands as ordinary user-echoed
// messages implement it so the connector can intercept those echoes
// (spec.md §4.7 rule 1).
type PassthroughCapable interface {
	// SetPassthroughHandler installs fn, called with each raw native
	// message before translation; fn returns true if it consumed
	// (suppressed) the message. A nil fn uninstalls the handler.
	SetPassthroughHandler(fn func(native []byte) bool)
}

// SlashExecutor is the optional adapter-provided local slash-command
// executor, per spec.md §6 ("Slash-executor capability").
type SlashExecutor interface {
	SupportedCommands() []string
	Execute(ctx context.Context, command string) (content string, err error)
}

// SlashExecutorFactory is implemented by adapters that can hand out a
// SlashExecutor bound to a live BackendSession.
type SlashExecutorFactory interface {
	CreateSlashExecutor(session BackendSession) SlashExecutor
}

// Adapter is the uniform backend-adapter contract of spec.md §4.3.
type Adapter interface {
	Name() string
	Capabilities() Capabilities
	Connect(ctx context.Context, opts ConnectOptions) (BackendSession, error)
}
