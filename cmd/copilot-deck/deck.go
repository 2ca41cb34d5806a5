package main

import (
	"fmt"
	"strings"

	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/config"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/eventlog"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/procscan"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/tracker"
)

// deck bundles the tracker pieces every command builds the same way.
type deck struct {
	cfg    *config.Config
	reader *eventlog.Reader
	cache  *tracker.Cache
}

// newDeck wires the process scanner and event-log reader into a cache.
// onCommit may be nil.
func newDeck(cfg *config.Config, onCommit func(*tracker.Snapshot)) *deck {
	reader := eventlog.NewReader(cfg.Paths.StateDir)

	opts := procscan.Options{
		ProgramNames:     cfg.Scanner.ProgramNames,
		TerminalNames:    cfg.Scanner.TerminalNames,
		AutoApproveFlags: cfg.Scanner.AutoApproveFlags,
	}
	if cfg.Tracker.MatchByStartTime {
		opts.Starts = reader
	}
	scanner := procscan.New(procscan.SystemLister{}, opts)

	cache := tracker.New(tracker.Options{
		Scanner:        scanner,
		Reader:         reader,
		PollInterval:   cfg.Tracker.PollInterval.Duration,
		RefreshTimeout: cfg.Tracker.RefreshTimeout.Duration,
		Parallelism:    cfg.Tracker.ReadParallelism,
		OnCommit:       onCommit,
	})
	return &deck{cfg: cfg, reader: reader, cache: cache}
}

// resolveSession finds the live session named by id or by a unique prefix
// of it.
func resolveSession(snap *tracker.Snapshot, id string) (tracker.SessionEntry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return tracker.SessionEntry{}, fmt.Errorf("session id is required")
	}
	if e, ok := snap.Get(id); ok {
		return e, nil
	}

	var matches []tracker.SessionEntry
	for _, e := range snap.Sorted() {
		if strings.HasPrefix(e.SessionID, id) {
			matches = append(matches, e)
		}
	}
	switch len(matches) {
	case 0:
		return tracker.SessionEntry{}, fmt.Errorf("no live session matches %q", id)
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.SessionID
		}
		return tracker.SessionEntry{}, fmt.Errorf("%q is ambiguous: %s", id, strings.Join(ids, ", "))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
