package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/classify"
)

// readSSEEvent returns the next event's name and data.
func readSSEEvent(t *testing.T, rd *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := rd.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			return event, data
		}
	}
}

func TestSnapshotEventsStream(t *testing.T) {
	srv, deps := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events/snapshot", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	rd := bufio.NewReader(resp.Body)
	event, data := readSSEEvent(t, rd)
	assert.Equal(t, "snapshot", event)
	var first snapshotPayload
	require.NoError(t, json.Unmarshal([]byte(data), &first))
	assert.Len(t, first.Sessions, 2)

	// A new generation with identical sessions is not pushed; a state change is.
	deps.tracker.set(newSnapshot(4, liveEntry("live-1", classify.StatusWaiting), liveEntry("live-only", classify.StatusWorking)))
	srv.NotifySnapshot(nil)
	deps.tracker.set(newSnapshot(5, liveEntry("live-1", classify.StatusIdle)))
	srv.NotifySnapshot(nil)

	_, data = readSSEEvent(t, rd)
	var next snapshotPayload
	require.NoError(t, json.Unmarshal([]byte(data), &next))
	assert.Equal(t, uint64(5), next.Generation)
	require.Len(t, next.Sessions, 1)
	assert.Equal(t, classify.StatusIdle, next.Sessions[0].Status)
}

func TestSnapshotFingerprintIgnoresGeneration(t *testing.T) {
	a := newSnapshotPayload(newSnapshot(1, liveEntry("x", classify.StatusWorking)))
	b := newSnapshotPayload(newSnapshot(2, liveEntry("x", classify.StatusWorking)))
	c := newSnapshotPayload(newSnapshot(2, liveEntry("x", classify.StatusThinking)))
	assert.Equal(t, snapshotFingerprint(a), snapshotFingerprint(b))
	assert.NotEqual(t, snapshotFingerprint(a), snapshotFingerprint(c))
}

func wsURL(base, path string) string {
	return "ws" + strings.TrimPrefix(base, "http") + path
}

func TestSnapshotWebSocket(t *testing.T) {
	srv, deps := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "/ws/snapshot"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg wsServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "connected", msg.Event)

	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "snapshot", msg.Type)
	require.NotNil(t, msg.Snapshot)
	assert.Len(t, msg.Snapshot.Sessions, 2)

	require.NoError(t, conn.WriteJSON(wsClientMessage{Type: "ping"}))
	msg = wsServerMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "pong", msg.Event)

	deps.tracker.set(newSnapshot(9))
	srv.NotifySnapshot(nil)
	msg = wsServerMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "snapshot", msg.Type)
	assert.Equal(t, uint64(9), msg.Snapshot.Generation)
	assert.Empty(t, msg.Snapshot.Sessions)
}

func TestSnapshotWebSocketRequiresToken(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config) { c.Token = "tok" })
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "/ws/snapshot"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "/ws/snapshot?token=tok"), nil)
	require.NoError(t, err)
	conn.Close()
}
