package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type wsClientMessage struct {
	Type string `json:"type"`
}

type wsServerMessage struct {
	Type     string           `json:"type"` // snapshot, status, error
	Event    string           `json:"event,omitempty"`
	Code     string           `json:"code,omitempty"`
	Message  string           `json:"message,omitempty"`
	ReadOnly bool             `json:"readOnly,omitempty"`
	Snapshot *snapshotPayload `json:"snapshot,omitempty"`
	Time     time.Time        `json:"time"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}
	return strings.EqualFold(originURL.Host, r.Host)
}

// wsConnWriter serializes writes; gorilla connections allow one writer.
type wsConnWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConnWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(v)
}

func (s *Server) handleSnapshotWS(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodGet) {
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	writer := &wsConnWriter{conn: conn}

	ctx := r.Context()
	payload := newSnapshotPayload(s.snapshot(r))
	lastFingerprint := snapshotFingerprint(payload)
	_ = writer.WriteJSON(wsServerMessage{Type: "status", Event: "connected", ReadOnly: s.cfg.ReadOnly, Time: s.cfg.Now().UTC()})
	if err := writer.WriteJSON(wsServerMessage{Type: "snapshot", Snapshot: &payload, Time: s.cfg.Now().UTC()}); err != nil {
		return
	}

	changes := s.subscribe()
	defer s.unsubscribe(changes)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		s.readSnapshotWS(conn, writer)
	}()

	pollTicker := time.NewTicker(snapshotEventsPollInterval)
	defer pollTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case <-closed:
			return
		case <-changes:
		case <-pollTicker.C:
		}

		next := newSnapshotPayload(s.snapshot(r))
		fp := snapshotFingerprint(next)
		if fp == lastFingerprint {
			continue
		}
		if err := writer.WriteJSON(wsServerMessage{Type: "snapshot", Snapshot: &next, Time: s.cfg.Now().UTC()}); err != nil {
			return
		}
		lastFingerprint = fp
	}
}

// readSnapshotWS answers pings until the client goes away.
func (s *Server) readSnapshotWS(conn *websocket.Conn, writer *wsConnWriter) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				webLog.Warn("websocket_closed_unexpectedly", slog.String("error", err.Error()))
			}
			return
		}

		var msg wsClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = writer.WriteJSON(wsServerMessage{Type: "error", Code: "INVALID_MESSAGE", Message: "invalid json payload", Time: s.cfg.Now().UTC()})
			continue
		}
		switch msg.Type {
		case "ping":
			_ = writer.WriteJSON(wsServerMessage{Type: "status", Event: "pong", Time: s.cfg.Now().UTC()})
		default:
			_ = writer.WriteJSON(wsServerMessage{Type: "error", Code: "UNSUPPORTED_MESSAGE", Message: "supported message types: ping", Time: s.cfg.Now().UTC()})
		}
	}
}
