package bridge

import (
	"strings"
	"sync"
	"time"

	"github.com/relaykit/agentbroker/adapter"
	"github.com/relaykit/agentbroker/auth"
	"github.com/relaykit/agentbroker/canon"
)

// maxStreamBufferBytes bounds the per-session passthrough text buffer
// (spec.md §4.7 rule 2: "append to a per-session buffer (cap ≈ 50 kB)").
const maxStreamBufferBytes = 50 * 1024

// Consumer is one authenticated user-facing socket, per spec.md
// §6's transport contract (send/close/message-stream).
type Consumer interface {
	Send(payload []byte) error
	Close(code int, reason string) error
}

// Capabilities is the per-session handshake result populated on the
// first successful `initialize` control request (spec.md §4.4).
type Capabilities struct {
	Commands []string
	Models   []string
	Account  map[string]any
}

// PendingPassthrough tracks one forwarded slash command awaiting
// correlation with its backend reply (spec.md §4.6/§4.7).
type PendingPassthrough struct {
	Command     string
	RequestID   string
	TraceID     string
	StartedAtMs int64
}

// Session is one row of the bridge's session table. All fields are
// confined to the bridge's scheduling domain (spec.md §5, §9
// "per-session global state") — mu exists to protect reads from
// outside that domain (e.g. HTTP status handlers), not to permit
// concurrent mutation from multiple goroutines owning the session.
type Session struct {
	ID          string
	Cwd         string
	AdapterName string
	CreatedAt   time.Time

	mu               sync.RWMutex
	lifecycle        Lifecycle
	backend          adapter.BackendSession
	backendSessionID string
	archived         bool

	consumers map[Consumer]auth.Identity

	pendingMessages     []*canon.UnifiedMessage
	pendingPermissions  map[string]*PendingPermission
	pendingPassthroughs []*PendingPassthrough
	streamBuffer        strings.Builder

	capabilities          *Capabilities
	capabilitiesRequested bool

	slashExecutor   adapter.SlashExecutor
	dynamicCommands []string

	lastActivity time.Time
	cliConnected bool
}

// PendingPermission tracks one outstanding permission request so it can
// be cancelled on backend disconnect (spec.md §4.7, §8 invariant 5).
type PendingPermission struct {
	RequestID string
	ToolName  string
}

// NewSession constructs a session in the starting lifecycle state.
func NewSession(id, cwd, adapterName string) *Session {
	now := time.Now()
	return &Session{
		ID:                 id,
		Cwd:                cwd,
		AdapterName:        adapterName,
		CreatedAt:          now,
		lifecycle:          LifecycleStarting,
		consumers:          make(map[Consumer]auth.Identity),
		pendingPermissions: make(map[string]*PendingPermission),
		lastActivity:       now,
	}
}

// Snapshot is a point-in-time read of session state, safe to hand to
// callers outside the bridge's scheduling domain.
type Snapshot struct {
	ID               string
	Lifecycle        Lifecycle
	CliConnected     bool
	ConsumerCount    int
	LastActivity     time.Time
	Archived         bool
	BackendSessionID string
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:               s.ID,
		Lifecycle:        s.lifecycle,
		CliConnected:     s.cliConnected,
		ConsumerCount:    len(s.consumers),
		LastActivity:     s.lastActivity,
		Archived:         s.archived,
		BackendSessionID: s.backendSessionID,
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// SetArchived marks a session archived (spec.md §3's Launcher Session
// Info "archived?"), excluding it from relaunch and idle-reap decisions
// that would otherwise discard it.
func (s *Session) SetArchived(archived bool) {
	s.mu.Lock()
	s.archived = archived
	s.mu.Unlock()
}

func (s *Session) IsArchived() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.archived
}

func (s *Session) applySignal(signal Signal) Lifecycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, ok := Transition(s.lifecycle, signal)
	if ok {
		s.lifecycle = next
	}
	return s.lifecycle
}

func (s *Session) addConsumer(c Consumer, id auth.Identity) {
	s.mu.Lock()
	s.consumers[c] = id
	s.mu.Unlock()
}

func (s *Session) removeConsumer(c Consumer) {
	s.mu.Lock()
	delete(s.consumers, c)
	s.mu.Unlock()
}

func (s *Session) consumerSnapshot() map[Consumer]auth.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Consumer]auth.Identity, len(s.consumers))
	for c, id := range s.consumers {
		out[c] = id
	}
	return out
}

func (s *Session) setBackend(b adapter.BackendSession) {
	s.mu.Lock()
	s.backend = b
	s.cliConnected = b != nil
	s.mu.Unlock()
}

func (s *Session) getBackend() adapter.BackendSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend
}

func (s *Session) clearBackend() {
	s.mu.Lock()
	s.backend = nil
	s.backendSessionID = ""
	s.cliConnected = false
	for id := range s.pendingPermissions {
		delete(s.pendingPermissions, id)
	}
	s.mu.Unlock()
}

func (s *Session) setBackendSessionID(id string) {
	s.mu.Lock()
	s.backendSessionID = id
	s.mu.Unlock()
}

func (s *Session) setSlashExecutor(ex adapter.SlashExecutor) {
	s.mu.Lock()
	s.slashExecutor = ex
	s.mu.Unlock()
}

func (s *Session) getSlashExecutor() adapter.SlashExecutor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slashExecutor
}

// setDynamicCommands records the slash-command names this session's
// backend registered into the shared registry, so its disconnect can
// unregister exactly those names (spec.md §9) instead of clearing
// commands other concurrently-connected sessions depend on.
func (s *Session) setDynamicCommands(names []string) {
	s.mu.Lock()
	s.dynamicCommands = names
	s.mu.Unlock()
}

// takeDynamicCommands returns and clears the session's tracked dynamic
// command names.
func (s *Session) takeDynamicCommands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.dynamicCommands
	s.dynamicCommands = nil
	return out
}

func (s *Session) enqueuePending(msg *canon.UnifiedMessage) {
	s.mu.Lock()
	s.pendingMessages = append(s.pendingMessages, msg)
	s.mu.Unlock()
}

func (s *Session) drainPending() []*canon.UnifiedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	drained := s.pendingMessages
	s.pendingMessages = nil
	return drained
}

func (s *Session) addPendingPermission(requestID, toolName string) {
	s.mu.Lock()
	s.pendingPermissions[requestID] = &PendingPermission{RequestID: requestID, ToolName: toolName}
	s.mu.Unlock()
}

func (s *Session) resolvePendingPermission(requestID string) {
	s.mu.Lock()
	delete(s.pendingPermissions, requestID)
	s.mu.Unlock()
}

func (s *Session) drainPendingPermissions() []*PendingPermission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*PendingPermission, 0, len(s.pendingPermissions))
	for _, p := range s.pendingPermissions {
		out = append(out, p)
	}
	s.pendingPermissions = make(map[string]*PendingPermission)
	return out
}

func (s *Session) pushPassthrough(p *PendingPassthrough) {
	s.mu.Lock()
	s.pendingPassthroughs = append(s.pendingPassthroughs, p)
	s.mu.Unlock()
}

// peekPassthrough returns the oldest pending passthrough without
// removing it (spec.md §5 ordering guarantee 5: FIFO, oldest first).
func (s *Session) peekPassthrough() *PendingPassthrough {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.pendingPassthroughs) == 0 {
		return nil
	}
	return s.pendingPassthroughs[0]
}

func (s *Session) shiftPassthrough() *PendingPassthrough {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pendingPassthroughs) == 0 {
		return nil
	}
	p := s.pendingPassthroughs[0]
	s.pendingPassthroughs = s.pendingPassthroughs[1:]
	return p
}

func (s *Session) drainAllPassthroughs() []*PendingPassthrough {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pendingPassthroughs
	s.pendingPassthroughs = nil
	return out
}

func (s *Session) appendStreamBuffer(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := maxStreamBufferBytes - s.streamBuffer.Len()
	if room <= 0 {
		return
	}
	if len(text) > room {
		text = text[:room]
	}
	s.streamBuffer.WriteString(text)
}

func (s *Session) takeStreamBuffer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.streamBuffer.String()
	s.streamBuffer.Reset()
	return out
}

func (s *Session) setCapabilities(c *Capabilities) {
	s.mu.Lock()
	s.capabilities = c
	s.mu.Unlock()
}

func (s *Session) getCapabilities() *Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capabilities
}

func (s *Session) markCapabilitiesRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capabilitiesRequested {
		return false
	}
	s.capabilitiesRequested = true
	return true
}
