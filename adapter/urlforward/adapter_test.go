package urlforward

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/agentbroker/adapter"
)

func TestConnectBuffersSendUntilExternalProcessDials(t *testing.T) {
	a := New()
	sess, err := a.Connect(context.Background(), adapter.ConnectOptions{SessionID: "sess-1"})
	require.NoError(t, err)
	require.Equal(t, "", sess.BackendSessionID())

	raw, ok := sess.(adapter.RawSender)
	require.True(t, ok)
	require.NoError(t, raw.SendRaw(context.Background(), []byte(`{"hello":"world"}`)))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := strings.TrimPrefix(r.URL.Path, "/forward/")
		require.NoError(t, a.HandleUpgrade(w, r, sessionID))
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + a.Endpoint("sess-1")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `{"hello":"world"}`, string(data))

	require.Eventually(t, func() bool {
		return sess.BackendSessionID() == "sess-1"
	}, time.Second, 10*time.Millisecond)
}

func TestHandleUpgradeRejectsUnknownSession(t *testing.T) {
	a := New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := a.HandleUpgrade(w, r, "missing")
		require.Error(t, err)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/forward/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
