// Package tracker keeps a cached view of every live Copilot CLI session and
// refreshes it on a schedule.
package tracker

import (
	"sort"
	"time"

	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/classify"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/procscan"
)

// SessionEntry is one live session: its process plus its derived state.
type SessionEntry struct {
	procscan.TrackedProcess
	classify.State
}

// Snapshot is a consistent view of all live sessions. Callers always receive
// their own copy.
type Snapshot struct {
	Sessions   map[string]SessionEntry `json:"sessions"`
	Generation uint64                  `json:"generation"`
	ProducedAt time.Time               `json:"producedAt"`
}

func emptySnapshot() *Snapshot {
	return &Snapshot{Sessions: map[string]SessionEntry{}}
}

// Clone returns a deep copy of s.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		Sessions:   make(map[string]SessionEntry, len(s.Sessions)),
		Generation: s.Generation,
		ProducedAt: s.ProducedAt,
	}
	for id, e := range s.Sessions {
		c.Sessions[id] = e.clone()
	}
	return c
}

func (e SessionEntry) clone() SessionEntry {
	c := e
	c.State = e.State.Clone()
	if e.ConfigServers != nil {
		c.ConfigServers = append([]string(nil), e.ConfigServers...)
	}
	return c
}

// Get returns the entry for sessionID.
func (s *Snapshot) Get(sessionID string) (SessionEntry, bool) {
	e, ok := s.Sessions[sessionID]
	return e, ok
}

// Sorted returns the entries ordered by session id.
func (s *Snapshot) Sorted() []SessionEntry {
	out := make([]SessionEntry, 0, len(s.Sessions))
	for _, e := range s.Sessions {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Counts tallies sessions per status.
func (s *Snapshot) Counts() map[classify.Status]int {
	m := make(map[classify.Status]int, 5)
	for _, e := range s.Sessions {
		m[e.Status]++
	}
	return m
}
