package supervisor

import (
	"sync"
	"time"
)

// BreakerState is one of the three circuit breaker states.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// CircuitBreaker tracks rapid process-crash failures per session and
// refuses further restarts once failureThreshold quick failures have
// accumulated, matching spec.md §4.2: "closed → open → half-open →
// closed. After failureThreshold quick failures the breaker is open;
// canRestart() returns false. Half-open probes re-close on success."
//
// Unlike a typical network circuit breaker there is no automatic timer
// transition to half-open; the supervisor puts it there explicitly
// before the next restart attempt, mirroring the teacher's synchronous
// restart-on-demand flow in claude/manager.go rather than a background
// prober goroutine.
type CircuitBreaker struct {
	failureThreshold int

	mu           sync.Mutex
	state        BreakerState
	failureCount int
}

// NewCircuitBreaker constructs a breaker starting in the closed state.
func NewCircuitBreaker(failureThreshold int) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	return &CircuitBreaker{failureThreshold: failureThreshold, state: StateClosed}
}

// RecordFailure registers a quick crash. Once failureCount reaches the
// threshold the breaker opens.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	if b.failureCount >= b.failureThreshold {
		b.state = StateOpen
	}
}

// RecordSuccess resets the failure window. A success observed while
// half-open re-closes the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.state = StateClosed
}

// AllowProbe transitions an open breaker into half-open, signaling the
// supervisor may attempt one restart. Call immediately before spawning.
func (b *CircuitBreaker) AllowProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen {
		b.state = StateHalfOpen
	}
}

// CanRestart reports whether a restart attempt is currently permitted.
func (b *CircuitBreaker) CanRestart() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != StateOpen
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsCrashUptime reports whether an observed process uptime counts as a
// "quick failure" per the supervisor's crashThresholdMs.
func IsCrashUptime(uptime time.Duration, crashThreshold time.Duration) bool {
	return uptime < crashThreshold
}
