package tracker

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogWatcherWakesOnEventsWrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "S1"), 0o755))

	var wakes atomic.Int32
	w, err := NewLogWatcher(dir, time.Millisecond, func() { wakes.Add(1) })
	require.NoError(t, err)

	w.Sync(&Snapshot{Sessions: map[string]SessionEntry{"S1": {}, "missing": {}}})
	assert.Equal(t, 1, w.Watched(), "directories that do not exist yet are skipped")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "S1", "other.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "S1", "events.jsonl"), []byte("{}\n"), 0o644))

	require.Eventually(t, func() bool { return wakes.Load() > 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestLogWatcherSyncDropsExitedSessions(t *testing.T) {
	dir := t.TempDir()
	for _, id := range []string{"A", "B"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, id), 0o755))
	}
	w, err := NewLogWatcher(dir, 0, func() {})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.watcher.Close() })

	w.Sync(&Snapshot{Sessions: map[string]SessionEntry{"A": {}, "B": {}}})
	assert.Equal(t, 2, w.Watched())

	w.Sync(&Snapshot{Sessions: map[string]SessionEntry{"B": {}}})
	assert.Equal(t, 1, w.Watched())

	w.Sync(emptySnapshot())
	assert.Zero(t, w.Watched())
}
