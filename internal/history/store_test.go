package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const schema = `
CREATE TABLE sessions (
	id TEXT PRIMARY KEY, cwd TEXT, repository TEXT, branch TEXT, summary TEXT,
	created_at TEXT, updated_at TEXT
);
CREATE TABLE turns (
	session_id TEXT, turn_index INTEGER, user_message TEXT, assistant_response TEXT
);
CREATE TABLE session_files (session_id TEXT, file_path TEXT);
CREATE TABLE checkpoints (
	session_id TEXT, checkpoint_number INTEGER, title TEXT, overview TEXT, next_steps TEXT
);
CREATE TABLE session_refs (session_id TEXT, ref_type TEXT, ref_value TEXT);
`

// newFixture writes a session store the way the CLI lays it out and returns
// its path.
func newFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session-store.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(schema)
	require.NoError(t, err)

	exec := func(q string, args ...any) {
		t.Helper()
		_, err := db.Exec(q, args...)
		require.NoError(t, err)
	}

	exec(`INSERT INTO sessions VALUES ('old', '/home/me/src/widgets', '', 'main', 'Fix widget tests',
		'2026-01-01T10:00:00Z', '2026-01-01T11:00:00Z')`)
	exec(`INSERT INTO sessions VALUES ('new', '/home/me/work', 'acme/rocket', 'feat', 'Add launch pad',
		'2026-01-02T10:00:00Z', '2026-01-02T12:30:00Z')`)
	exec(`INSERT INTO sessions VALUES ('bare', NULL, NULL, NULL, NULL, NULL, NULL)`)

	for i := 0; i < 12; i++ {
		exec(`INSERT INTO turns VALUES ('new', ?, ?, ?)`, i, fmt.Sprintf("ask %d", i), fmt.Sprintf("answer %d", i))
	}
	exec(`INSERT INTO turns VALUES ('old', 0, 'why do widget tests flake', 'timing')`)

	exec(`INSERT INTO checkpoints VALUES ('new', 1, 'Scaffold', 'created pad', 'wire fuel')`)
	exec(`INSERT INTO checkpoints VALUES ('new', 2, 'Fuel', 'wired fuel', 'ignite')`)
	exec(`INSERT INTO session_refs VALUES ('new', 'pr', '42')`)

	exec(`INSERT INTO session_files VALUES ('new', 'pad.go')`)
	exec(`INSERT INTO session_files VALUES ('new', 'pad.go')`)
	exec(`INSERT INTO session_files VALUES ('new', 'fuel.go')`)
	exec(`INSERT INTO session_files VALUES ('old', 'pad.go')`)
	return path
}

func openFixture(t *testing.T) *Store {
	t.Helper()
	s, err := Open(newFixture(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenMissingDatabase(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.db"))
	assert.ErrorIs(t, err, ErrNoDatabase)
}

func TestStoreIsReadOnly(t *testing.T) {
	s := openFixture(t)
	_, err := s.db.Exec(`DELETE FROM sessions`)
	assert.Error(t, err)
}

func TestListSessions(t *testing.T) {
	s := openFixture(t)
	ctx := context.Background()

	got, err := s.ListSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "new", got[0].ID, "most recently updated first")
	assert.Equal(t, "old", got[1].ID)

	n := got[0]
	assert.Equal(t, "acme/rocket", n.Repository)
	assert.Equal(t, 12, n.TurnCount)
	assert.Equal(t, 3, n.FileCount)
	assert.Equal(t, 2, n.CheckpointCount)
	assert.Equal(t, "ask 0", n.FirstMessage)
	assert.Equal(t, "Fuel", n.LastCheckpoint)
	assert.Equal(t, "wired fuel", n.LastCheckpointText)
	assert.Equal(t, time.Date(2026, 1, 2, 12, 30, 0, 0, time.UTC), n.UpdatedAt.UTC())

	assert.True(t, got[2].UpdatedAt.IsZero(), "NULL columns read as zero values")

	limited, err := s.ListSessions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestLookup(t *testing.T) {
	s := openFixture(t)
	got, err := s.Lookup(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, "Fix widget tests", got.Summary)

	_, err = s.Lookup(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetSession(t *testing.T) {
	s := openFixture(t)
	d, err := s.GetSession(context.Background(), "new")
	require.NoError(t, err)

	require.Len(t, d.Checkpoints, 2)
	assert.Equal(t, "Scaffold", d.Checkpoints[0].Title)
	assert.Equal(t, "ignite", d.Checkpoints[1].NextSteps)

	assert.Equal(t, []Ref{{Type: "pr", Value: "42"}}, d.Refs)

	require.Len(t, d.Turns, 10, "only the last ten turns")
	assert.Equal(t, 2, d.Turns[0].Index, "oldest of the ten first")
	assert.Equal(t, 11, d.Turns[9].Index)
	assert.Equal(t, "answer 11", d.Turns[9].AssistantResponse)

	assert.Equal(t, []string{"fuel.go", "pad.go"}, d.Files)
}

func TestGetSessionUnknownIsEmpty(t *testing.T) {
	s := openFixture(t)
	d, err := s.GetSession(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, d.Checkpoints)
	assert.NotNil(t, d.Turns)
}

func TestListFiles(t *testing.T) {
	s := openFixture(t)
	files, err := s.ListFiles(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, files, 2)

	assert.Equal(t, "pad.go", files[0].Path)
	assert.Equal(t, 2, files[0].SessionCount)
	assert.ElementsMatch(t, []string{"new", "old"}, files[0].SessionIDs)
	assert.Equal(t, 1, files[1].SessionCount)
}

func TestTimeAgo(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 30, 0, 0, time.UTC)
	s := Session{UpdatedAt: now.Add(-3 * time.Hour)}
	assert.Equal(t, "3 hours ago", s.TimeAgo(now))
	assert.Empty(t, Session{}.TimeAgo(now))
}

func TestLazyStoreOpensOnceFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session-store.db")
	lazy := NewLazyStore(path)
	t.Cleanup(func() { lazy.Close() })

	_, err := lazy.ListSessions(context.Background(), 0)
	assert.ErrorIs(t, err, ErrNoDatabase)

	src := newFixture(t)
	raw, err := os.ReadFile(src)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	got, err := lazy.ListSessions(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	files, err := lazy.ListFiles(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}
