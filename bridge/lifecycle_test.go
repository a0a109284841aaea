package bridge

import "testing"

func TestTransitionFollowsAllowedEdges(t *testing.T) {
	cases := []struct {
		from Lifecycle
		sig  Signal
		want Lifecycle
	}{
		{LifecycleStarting, SignalBackendConnected, LifecycleAwaitingBackend},
		{LifecycleAwaitingBackend, SignalUserMessage, LifecycleActive},
		{LifecycleActive, SignalStatusIdle, LifecycleIdle},
		{LifecycleIdle, SignalUserMessage, LifecycleActive},
		{LifecycleDegraded, SignalBackendConnected, LifecycleAwaitingBackend},
		{LifecycleClosing, SignalClosed, LifecycleClosed},
	}
	for _, c := range cases {
		got, ok := Transition(c.from, c.sig)
		if !ok || got != c.want {
			t.Fatalf("Transition(%s, %s) = (%s, %v), want (%s, true)", c.from, c.sig, got, ok, c.want)
		}
	}
}

func TestTransitionRejectsEdgesOutOfClosed(t *testing.T) {
	for _, sig := range []Signal{SignalBackendConnected, SignalUserMessage, SignalClosing, SignalClosed} {
		got, ok := Transition(LifecycleClosed, sig)
		if ok || got != LifecycleClosed {
			t.Fatalf("expected no transition out of closed for signal %s, got (%s, %v)", sig, got, ok)
		}
	}
}

func TestTransitionUnknownSignalIsNoop(t *testing.T) {
	got, ok := Transition(LifecycleStarting, SignalResult)
	if ok || got != LifecycleStarting {
		t.Fatalf("expected no-op for unhandled signal, got (%s, %v)", got, ok)
	}
}
