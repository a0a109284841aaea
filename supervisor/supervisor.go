// Package supervisor generalizes claude/manager.go's gracefulTerminate +
// pty-spawn discipline into an adapter-independent process supervisor:
// spawn, kill-escalation, a crash circuit breaker, and a line-buffered
// stdout/stderr pump, per spec.md §4.2.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/relaykit/agentbroker/log"
	"github.com/relaykit/agentbroker/metrics"
	"github.com/relaykit/agentbroker/process"
)

// Options configures a Supervisor. Defaults match spec.md §4.2.
type Options struct {
	KillGracePeriod  time.Duration // default ~5s
	CrashThreshold   time.Duration // default ~100ms
	FailureThreshold int           // default 5
}

func (o Options) withDefaults() Options {
	if o.KillGracePeriod <= 0 {
		o.KillGracePeriod = 5 * time.Second
	}
	if o.CrashThreshold <= 0 {
		o.CrashThreshold = 100 * time.Millisecond
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 5
	}
	return o
}

// OutputLine is a line of process output, either stdout or stderr.
type OutputLine struct {
	SessionID string
	Stream    string // "stdout" | "stderr"
	Line      string
}

// ExitReport describes a process exit, corresponding to spec.md's
// "process:exited {exitCode, uptimeMs, circuitBreaker}" event.
type ExitReport struct {
	SessionID string
	ExitCode  int
	Uptime    time.Duration
	Breaker   BreakerState
	Err       error
}

// Supervisor owns a set of live subprocesses keyed by session id and the
// per-session circuit breaker that gates restart attempts.
type Supervisor struct {
	manager process.Manager
	opts    Options
	metrics metrics.Sink

	mu       sync.Mutex
	handles  map[string]process.Handle
	breakers map[string]*CircuitBreaker

	Output chan OutputLine
	Exits  chan ExitReport
}

// New constructs a Supervisor over the given process.Manager.
func New(manager process.Manager, opts Options, sink metrics.Sink) *Supervisor {
	if sink == nil {
		sink = metrics.Noop{}
	}
	return &Supervisor{
		manager:  manager,
		opts:     opts.withDefaults(),
		metrics:  sink,
		handles:  make(map[string]process.Handle),
		breakers: make(map[string]*CircuitBreaker),
		Output:   make(chan OutputLine, 256),
		Exits:    make(chan ExitReport, 64),
	}
}

func (s *Supervisor) breakerFor(sessionID string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[sessionID]
	if !ok {
		b = NewCircuitBreaker(s.opts.FailureThreshold)
		s.breakers[sessionID] = b
	}
	return b
}

// CanRestart reports whether the session's circuit breaker currently
// permits a spawn attempt.
func (s *Supervisor) CanRestart(sessionID string) bool {
	return s.breakerFor(sessionID).CanRestart()
}

// SpawnProcess spawns a subprocess for sessionID. On failure it records a
// circuit-breaker failure and returns an error carrying the spec's
// "<prefix>:spawn" error source.
func (s *Supervisor) SpawnProcess(ctx context.Context, sessionID, prefix string, spec process.Spec) (process.Handle, error) {
	breaker := s.breakerFor(sessionID)
	breaker.AllowProbe()

	handle, err := s.manager.Spawn(ctx, spec)
	if err != nil {
		breaker.RecordFailure()
		return nil, fmt.Errorf("%s:spawn: %w", prefix, err)
	}

	s.mu.Lock()
	s.handles[sessionID] = handle
	s.mu.Unlock()

	s.metrics.Inc("process:spawned", map[string]string{"session_id": sessionID})
	log.Info().Str("session_id", sessionID).Int("pid", handle.Pid()).Msg("process spawned")

	spawnedAt := time.Now()
	if stdout := handle.Stdout(); stdout != nil {
		go s.pump(sessionID, "stdout", stdout)
	}
	if stderr := handle.Stderr(); stderr != nil {
		go s.pump(sessionID, "stderr", stderr)
	}
	go s.monitorExit(sessionID, handle, spawnedAt, breaker)

	return handle, nil
}

// pump reads a stream line-buffered, emitting non-empty trimmed chunks.
// Stream errors are logged and swallowed without killing the process,
// matching spec.md §4.2's "stream errors are caught without killing the
// process."
func (s *Supervisor) pump(sessionID, stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case s.Output <- OutputLine{SessionID: sessionID, Stream: stream, Line: line}:
		default:
			log.Warn().Str("session_id", sessionID).Str("stream", stream).Msg("output channel full, dropping line")
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Str("stream", stream).Msg("stream read error")
	}
}

func (s *Supervisor) monitorExit(sessionID string, handle process.Handle, spawnedAt time.Time, breaker *CircuitBreaker) {
	code, err := handle.Wait(context.Background())
	uptime := time.Since(spawnedAt)

	if IsCrashUptime(uptime, s.opts.CrashThreshold) {
		breaker.RecordFailure()
	} else {
		breaker.RecordSuccess()
	}

	s.mu.Lock()
	delete(s.handles, sessionID)
	s.mu.Unlock()

	s.metrics.Inc("process:exited", map[string]string{"session_id": sessionID})
	report := ExitReport{SessionID: sessionID, ExitCode: code, Uptime: uptime, Breaker: breaker.State(), Err: err}
	select {
	case s.Exits <- report:
	default:
		log.Warn().Str("session_id", sessionID).Msg("exit channel full, dropping report")
	}
}

// KillProcess sends a graceful termination signal, escalating to a
// forceful signal after KillGracePeriod if the process has not exited,
// then awaits confirmed exit. Matches claude/manager.go's
// gracefulTerminate almost verbatim, generalized off *exec.Cmd onto
// process.Handle.
func (s *Supervisor) KillProcess(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	handle, ok := s.handles[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	if err := handle.Signal(process.SignalTerm); err != nil {
		handle.Signal(process.SignalKill)
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.opts.KillGracePeriod)
	defer cancel()
	if _, err := handle.Wait(waitCtx); err != nil {
		log.Warn().Str("session_id", sessionID).Msg("process didn't exit gracefully, sending SIGKILL")
		handle.Signal(process.SignalKill)
		handle.Wait(context.Background())
	}
	return nil
}

// KillAllProcesses kills every tracked session's process concurrently.
func (s *Supervisor) KillAllProcesses(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(sessionID string) {
			defer wg.Done()
			s.KillProcess(ctx, sessionID)
		}(id)
	}
	wg.Wait()
}
