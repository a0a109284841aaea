package transport

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/relaykit/agentbroker/auth"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestGinWebSocketTransportRoundTripsMessages(t *testing.T) {
	addr := freeAddr(t)
	tr := NewGinWebSocketTransport(addr, "/ws/sessions/:sessionId")

	received := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = tr.Serve(ctx, func(hctx context.Context, socket Socket, sessionID string, req auth.Request) {
			if sessionID != "s1" {
				t.Errorf("expected sessionID s1, got %q", sessionID)
			}
			msg := <-socket.Messages()
			received <- string(msg)
			_ = socket.Send([]byte("echo:" + string(msg)))
			<-hctx.Done()
		})
	}()

	// Give the listener a moment to come up.
	time.Sleep(50 * time.Millisecond)

	url := fmt.Sprintf("ws://%s/ws/sessions/s1", addr)
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := conn.Write(context.Background(), websocket.MessageText, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-received:
		if got != "hello" {
			t.Fatalf("expected hello, got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to receive message")
	}

	readCtx, readCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer readCancel()
	_, data, err := conn.Read(readCtx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "echo:hello" {
		t.Fatalf("expected echo:hello, got %q", string(data))
	}
}

func TestGinWebSocketTransportShutdownClosesListener(t *testing.T) {
	addr := freeAddr(t)
	tr := NewGinWebSocketTransport(addr, "/ws/sessions/:sessionId")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- tr.Serve(ctx, func(context.Context, Socket, string, auth.Request) {})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}
