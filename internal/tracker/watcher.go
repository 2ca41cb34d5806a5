package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/eventlog"
)

// LogWatcher wakes the refresh loop when a live session's events.jsonl is
// written, so state changes show up before the next poll tick. Only the
// directories of live sessions are watched; Sync keeps that set current.
type LogWatcher struct {
	stateDir string
	watcher  *fsnotify.Watcher
	limiter  *rate.Limiter
	wake     func()

	mu      sync.Mutex
	watched map[string]bool
}

// NewLogWatcher returns a watcher that calls wake at most once per
// minInterval.
func NewLogWatcher(stateDir string, minInterval time.Duration, wake func()) (*LogWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if minInterval <= 0 {
		minInterval = 250 * time.Millisecond
	}
	return &LogWatcher{
		stateDir: stateDir,
		watcher:  w,
		limiter:  rate.NewLimiter(rate.Every(minInterval), 1),
		wake:     wake,
		watched:  map[string]bool{},
	}, nil
}

// Sync watches exactly the session directories in snap. It is meant to be
// used as Options.OnCommit.
func (w *LogWatcher) Sync(snap *Snapshot) {
	want := make(map[string]bool, len(snap.Sessions))
	for id := range snap.Sessions {
		want[filepath.Join(w.stateDir, id)] = true
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for dir := range w.watched {
		if !want[dir] {
			_ = w.watcher.Remove(dir)
			delete(w.watched, dir)
		}
	}
	for dir := range want {
		if w.watched[dir] {
			continue
		}
		// The directory may not exist until the session writes its first event.
		if err := w.watcher.Add(dir); err != nil {
			trackLog.Debug("watch_add_failed", slog.String("dir", dir), slog.String("error", err.Error()))
			continue
		}
		w.watched[dir] = true
	}
}

// Watched returns the number of directories currently watched.
func (w *LogWatcher) Watched() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watched)
}

// Run delivers wake-ups until ctx is cancelled, then closes the watcher.
func (w *LogWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != eventlog.FileName {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Dropped wake-ups are picked up by the next tick.
			if w.limiter.Allow() {
				w.wake()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			trackLog.Warn("log_watcher_error", slog.String("error", err.Error()))
		}
	}
}
