package web

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/classify"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/tracker"
)

var (
	snapshotEventsPollInterval      = 2 * time.Second
	snapshotEventsHeartbeatInterval = 15 * time.Second
)

// snapshotPayload is what the streams push. Sessions are sorted so equal
// snapshots encode identically.
type snapshotPayload struct {
	Generation uint64                  `json:"generation"`
	ProducedAt time.Time               `json:"producedAt"`
	Counts     map[classify.Status]int `json:"counts"`
	Sessions   []tracker.SessionEntry  `json:"sessions"`
}

func newSnapshotPayload(snap *tracker.Snapshot) snapshotPayload {
	return snapshotPayload{
		Generation: snap.Generation,
		ProducedAt: snap.ProducedAt,
		Counts:     snap.Counts(),
		Sessions:   snap.Sorted(),
	}
}

// snapshotFingerprint ignores generation and time so a refresh that changed
// nothing is not pushed.
func snapshotFingerprint(p snapshotPayload) string {
	raw, err := json.Marshal(p.Sessions)
	if err != nil {
		return "marshal-error"
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func (s *Server) handleSnapshotEvents(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodGet) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "stream unavailable")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	payload := newSnapshotPayload(s.snapshot(r))
	lastFingerprint := snapshotFingerprint(payload)
	if err := writeSSEEvent(w, flusher, "snapshot", payload); err != nil {
		return
	}

	changes := s.subscribe()
	defer s.unsubscribe(changes)

	pollTicker := time.NewTicker(snapshotEventsPollInterval)
	defer pollTicker.Stop()
	heartbeatTicker := time.NewTicker(snapshotEventsHeartbeatInterval)
	defer heartbeatTicker.Stop()

	ctx := r.Context()
	emitIfChanged := func() error {
		next := newSnapshotPayload(s.snapshot(r))
		fp := snapshotFingerprint(next)
		if fp == lastFingerprint {
			return nil
		}
		if err := writeSSEEvent(w, flusher, "snapshot", next); err != nil {
			return err
		}
		lastFingerprint = fp
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeatTicker.C:
			if err := writeSSEComment(w, flusher, "keepalive"); err != nil {
				return
			}
		case <-changes:
			if err := emitIfChanged(); err != nil {
				return
			}
		case <-pollTicker.C:
			if err := emitIfChanged(); err != nil {
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeSSEComment(w http.ResponseWriter, flusher http.Flusher, comment string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", comment); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
