// ABOUTME: Tests for the per-conversation WebSocket relay
// ABOUTME: Covers delivery, fire-and-forget sends, reconnect replacement, cleanup

package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/internal/activity"
)

// newRelayServer starts an httptest server routing /ws/{conversationId} to
// the relay, mirroring how the gateway mounts it.
func newRelayServer(t *testing.T, r *Relay) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{conversationId}", func(w http.ResponseWriter, req *http.Request) {
		r.HandleUpgrade(w, req, req.PathValue("conversationId"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, conversationID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + conversationID
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn) *activity.Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var env activity.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return &env
}

func TestRelay_SendDeliversToConnectedSocket(t *testing.T) {
	r := New(nil, Hooks{})
	defer r.Cleanup()
	srv := newRelayServer(t, r)

	ws := dial(t, srv, "conv-1")

	// Wait for the server side to register the socket.
	require.Eventually(t, func() bool { return r.Connected("conv-1") }, time.Second, 10*time.Millisecond)

	payload := &activity.Envelope{Activities: []*activity.Activity{{ID: "act-1", Type: activity.TypeMessage, Text: "hello"}}}
	require.NoError(t, r.Send("conv-1", payload))

	env := readEnvelope(t, ws)
	require.Len(t, env.Activities, 1)
	assert.Equal(t, "act-1", env.Activities[0].ID)
	assert.Equal(t, "hello", env.Activities[0].Text)
}

func TestRelay_SendWithNoSocketIsSilentNoOp(t *testing.T) {
	drops := 0
	r := New(nil, Hooks{OnDrop: func() { drops++ }})
	defer r.Cleanup()
	srv := newRelayServer(t, r)

	// Push before any socket connects: no error, nothing buffered.
	require.NoError(t, r.Send("conv-abc", &activity.Envelope{
		Activities: []*activity.Activity{{ID: "early", Type: activity.TypeMessage}},
	}))
	assert.Equal(t, 1, drops)

	// Connecting afterward must not retroactively deliver the earlier push.
	ws := dial(t, srv, "conv-abc")
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err, "no message should arrive for a pre-connect push")
}

func TestRelay_ReconnectReplacesPriorSocket(t *testing.T) {
	r := New(nil, Hooks{})
	defer r.Cleanup()
	srv := newRelayServer(t, r)

	first := dial(t, srv, "conv-1")
	require.Eventually(t, func() bool { return r.Connected("conv-1") }, time.Second, 10*time.Millisecond)

	second := dial(t, srv, "conv-1")

	// The first socket gets closed by the replacement.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	require.Error(t, err)

	// Still exactly one live socket, and sends reach the second one.
	assert.Equal(t, 1, r.ConnectionCount())
	require.NoError(t, r.Send("conv-1", &activity.Envelope{
		Activities: []*activity.Activity{{ID: "after-reconnect"}},
	}))
	env := readEnvelope(t, second)
	require.Len(t, env.Activities, 1)
	assert.Equal(t, "after-reconnect", env.Activities[0].ID)
}

func TestRelay_ClientFramesAreAcceptedAndIgnored(t *testing.T) {
	r := New(nil, Hooks{})
	defer r.Cleanup()
	srv := newRelayServer(t, r)

	ws := dial(t, srv, "conv-1")
	require.Eventually(t, func() bool { return r.Connected("conv-1") }, time.Second, 10*time.Millisecond)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	// Relay still works after inbound traffic.
	require.NoError(t, r.Send("conv-1", &activity.Envelope{Activities: []*activity.Activity{{ID: "still-alive"}}}))
	env := readEnvelope(t, ws)
	assert.Equal(t, "still-alive", env.Activities[0].ID)
}

func TestRelay_CloseDeregistersSocket(t *testing.T) {
	var disconnects atomic.Int32
	r := New(nil, Hooks{OnDisconnect: func() { disconnects.Add(1) }})
	defer r.Cleanup()
	srv := newRelayServer(t, r)

	ws := dial(t, srv, "conv-1")
	require.Eventually(t, func() bool { return r.Connected("conv-1") }, time.Second, 10*time.Millisecond)

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return !r.Connected("conv-1") }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return disconnects.Load() == 1 }, time.Second, 10*time.Millisecond)

	// Send after close drops silently.
	require.NoError(t, r.Send("conv-1", &activity.Envelope{}))
}

func TestRelay_NonUpgradeRequestIsRejected(t *testing.T) {
	r := New(nil, Hooks{})
	defer r.Cleanup()
	srv := newRelayServer(t, r)

	resp, err := http.Get(srv.URL + "/ws/conv-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRelay_CleanupClosesSocketsAndRefusesUpgrades(t *testing.T) {
	r := New(nil, Hooks{})
	srv := newRelayServer(t, r)

	ws := dial(t, srv, "conv-1")
	require.Eventually(t, func() bool { return r.Connected("conv-1") }, time.Second, 10*time.Millisecond)

	r.Cleanup()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err, "cleanup must close live sockets")
	assert.Equal(t, 0, r.ConnectionCount())

	// New upgrade attempts are refused after cleanup.
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/conv-2"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if resp != nil {
		defer resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	}
}
