package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaykit/agentbroker/process"
	"github.com/relaykit/agentbroker/process/processtest"
)

func TestSpawnProcessTracksHandleAndEmitsEvent(t *testing.T) {
	mgr := processtest.NewManager()
	sup := New(mgr, Options{CrashThreshold: 10 * time.Millisecond, FailureThreshold: 3}, nil)

	handle, err := sup.SpawnProcess(context.Background(), "sess-1", "acp", process.Spec{Command: "agent"})
	require.NoError(t, err)
	require.NotNil(t, handle)

	fh := handle.(*processtest.Handle)
	time.Sleep(20 * time.Millisecond) // exceed CrashThreshold so this counts as a clean uptime
	fh.Finish(0)

	select {
	case report := <-sup.Exits:
		require.Equal(t, "sess-1", report.SessionID)
		require.Equal(t, 0, report.ExitCode)
	case <-time.After(time.Second):
		t.Fatal("expected an exit report")
	}
}

func TestCircuitBreakerOpensAfterQuickFailures(t *testing.T) {
	mgr := processtest.NewManager()
	sup := New(mgr, Options{CrashThreshold: 50 * time.Millisecond, FailureThreshold: 2}, nil)

	for i := 0; i < 2; i++ {
		handle, err := sup.SpawnProcess(context.Background(), "sess-2", "acp", process.Spec{Command: "agent"})
		require.NoError(t, err)
		fh := handle.(*processtest.Handle)
		fh.Finish(1) // immediate exit, well under CrashThreshold
		<-sup.Exits
	}

	require.False(t, sup.CanRestart("sess-2"), "breaker should be open after threshold quick failures")
}

func TestCircuitBreakerResetsOnGoodUptime(t *testing.T) {
	mgr := processtest.NewManager()
	sup := New(mgr, Options{CrashThreshold: 10 * time.Millisecond, FailureThreshold: 2}, nil)

	handle, _ := sup.SpawnProcess(context.Background(), "sess-3", "acp", process.Spec{Command: "agent"})
	handle.(*processtest.Handle).Finish(1)
	<-sup.Exits
	require.True(t, sup.CanRestart("sess-3"))

	handle2, _ := sup.SpawnProcess(context.Background(), "sess-3", "acp", process.Spec{Command: "agent"})
	time.Sleep(20 * time.Millisecond)
	handle2.(*processtest.Handle).Finish(0)
	<-sup.Exits

	require.True(t, sup.CanRestart("sess-3"), "a single good uptime should reset the failure window")
}

func TestKillProcessSendsTermThenKillOnTimeout(t *testing.T) {
	mgr := processtest.NewManager()
	sup := New(mgr, Options{KillGracePeriod: 30 * time.Millisecond}, nil)

	handle, err := sup.SpawnProcess(context.Background(), "sess-4", "acp", process.Spec{Command: "agent"})
	require.NoError(t, err)
	fh := handle.(*processtest.Handle)

	done := make(chan struct{})
	go func() {
		sup.KillProcess(context.Background(), "sess-4")
		close(done)
	}()

	time.Sleep(60 * time.Millisecond)
	fh.Finish(0)
	<-done

	require.GreaterOrEqual(t, len(fh.Signals), 2, "expected both SIGTERM and escalated SIGKILL")
	require.Equal(t, process.SignalTerm, fh.Signals[0])
	require.Equal(t, process.SignalKill, fh.Signals[len(fh.Signals)-1])
}

func TestSpawnProcessErrorRecordsFailure(t *testing.T) {
	mgr := processtest.NewManager()
	mgr.SpawnErr = context.DeadlineExceeded
	sup := New(mgr, Options{FailureThreshold: 1}, nil)

	_, err := sup.SpawnProcess(context.Background(), "sess-5", "acp", process.Spec{Command: "agent"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "acp:spawn")
	require.False(t, sup.CanRestart("sess-5"))
}
