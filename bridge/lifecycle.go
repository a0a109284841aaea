package bridge

// Lifecycle is a session's position in the state machine of spec.md
// §4.4/§GLOSSARY: "starting, awaiting_backend, active, idle, degraded,
// closing, closed".
type Lifecycle string

const (
	LifecycleStarting        Lifecycle = "starting"
	LifecycleAwaitingBackend Lifecycle = "awaiting_backend"
	LifecycleActive          Lifecycle = "active"
	LifecycleIdle            Lifecycle = "idle"
	LifecycleDegraded        Lifecycle = "degraded"
	LifecycleClosing         Lifecycle = "closing"
	LifecycleClosed          Lifecycle = "closed"
)

// Signal is a lifecycle-driving event, per spec.md §4.4: lifecycle
// signals, inbound canonical messages, and backend messages all drive
// transitions through the same table.
type Signal string

const (
	SignalSessionCreated      Signal = "session_created"
	SignalBackendConnected    Signal = "backend_connected"
	SignalBackendDisconnected Signal = "backend_disconnected"
	SignalClosing             Signal = "closing"
	SignalClosed              Signal = "closed"
	SignalUserMessage         Signal = "user_message"
	SignalStatusIdle          Signal = "status_idle"
	SignalStatusActive        Signal = "status_active"
	SignalResult              Signal = "result"
	SignalStreamStart         Signal = "stream_start"
)

// allowedEdges enumerates every (state, signal) → state transition.
// Signals with no entry for the current state are no-ops: Transition
// returns the state unchanged and ok=false. closed has no outbound
// edges at all (spec.md §8 invariant 3: "no transition out of closed").
var allowedEdges = map[Lifecycle]map[Signal]Lifecycle{
	LifecycleStarting: {
		SignalBackendConnected:    LifecycleAwaitingBackend,
		SignalClosing:             LifecycleClosing,
		SignalBackendDisconnected: LifecycleDegraded,
	},
	LifecycleAwaitingBackend: {
		SignalUserMessage:        LifecycleActive,
		SignalStatusActive:       LifecycleActive,
		SignalStreamStart:        LifecycleActive,
		SignalStatusIdle:         LifecycleIdle,
		SignalBackendDisconnected: LifecycleDegraded,
		SignalClosing:            LifecycleClosing,
	},
	LifecycleActive: {
		SignalStatusIdle:         LifecycleIdle,
		SignalResult:             LifecycleIdle,
		SignalBackendDisconnected: LifecycleDegraded,
		SignalClosing:            LifecycleClosing,
	},
	LifecycleIdle: {
		SignalUserMessage:        LifecycleActive,
		SignalStatusActive:       LifecycleActive,
		SignalStreamStart:        LifecycleActive,
		SignalBackendDisconnected: LifecycleDegraded,
		SignalClosing:            LifecycleClosing,
	},
	LifecycleDegraded: {
		SignalBackendConnected: LifecycleAwaitingBackend,
		SignalClosing:          LifecycleClosing,
	},
	LifecycleClosing: {
		SignalClosed: LifecycleClosed,
	},
	LifecycleClosed: {},
}

// Transition applies signal to current and reports whether an edge
// existed. An unrecognized (state, signal) pair is a no-op, not an
// error: most backend messages don't drive every state.
func Transition(current Lifecycle, signal Signal) (Lifecycle, bool) {
	edges, ok := allowedEdges[current]
	if !ok {
		return current, false
	}
	next, ok := edges[signal]
	if !ok {
		return current, false
	}
	return next, true
}
