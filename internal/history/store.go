// Package history reads the Copilot CLI's session-store.db. The database is
// owned by the CLI; it is only ever opened read-only.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	_ "modernc.org/sqlite"

	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/logging"
)

var histLog = logging.ForComponent(logging.CompHistory)

var (
	// ErrNoDatabase means the CLI has not created its session store yet.
	ErrNoDatabase = errors.New("history: session store not found")

	// ErrNotFound means no session has the requested id.
	ErrNotFound = errors.New("history: session not found")
)

// Session is one row of the sessions table plus per-session aggregates.
type Session struct {
	ID              string    `json:"id"`
	Cwd             string    `json:"cwd"`
	Repository      string    `json:"repository"`
	Branch          string    `json:"branch"`
	Summary         string    `json:"summary"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	TurnCount       int       `json:"turnCount"`
	FileCount       int       `json:"fileCount"`
	CheckpointCount int       `json:"checkpointCount"`

	// Large text used for search and grouping, not sent to clients.
	FirstMessage       string `json:"-"`
	LastCheckpoint     string `json:"-"`
	LastCheckpointText string `json:"-"`
}

// TimeAgo renders UpdatedAt relative to now.
func (s Session) TimeAgo(now time.Time) string {
	return relative(s.UpdatedAt, now)
}

// CreatedAgo renders CreatedAt relative to now.
func (s Session) CreatedAgo(now time.Time) string {
	return relative(s.CreatedAt, now)
}

func relative(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// Checkpoint is a saved progress summary inside a session.
type Checkpoint struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	Overview  string `json:"overview"`
	NextSteps string `json:"nextSteps"`
}

// Ref is an external reference (PR, issue, commit) recorded by a session.
type Ref struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Turn is one user/assistant exchange.
type Turn struct {
	Index             int    `json:"index"`
	UserMessage       string `json:"userMessage"`
	AssistantResponse string `json:"assistantResponse"`
}

// Detail is everything GetSession returns for one session.
type Detail struct {
	Checkpoints []Checkpoint `json:"checkpoints"`
	Refs        []Ref        `json:"refs"`
	Turns       []Turn       `json:"turns"`
	Files       []string     `json:"files"`
}

// FileEntry is a file path and the sessions that touched it.
type FileEntry struct {
	Path         string   `json:"path"`
	SessionCount int      `json:"sessionCount"`
	SessionIDs   []string `json:"sessionIds"`
}

// Store is a read-only handle on session-store.db.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens path read-only. A missing file is ErrNoDatabase.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoDatabase
		}
		return nil, fmt.Errorf("history: stat: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	// The CLI writes this file; one reader connection is enough.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: open: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

const sessionsQuery = `
	SELECT
		s.id, s.cwd, s.repository, s.branch, s.summary,
		s.created_at, s.updated_at,
		(SELECT COUNT(*) FROM turns t WHERE t.session_id = s.id),
		(SELECT COUNT(*) FROM session_files sf WHERE sf.session_id = s.id),
		(SELECT COUNT(*) FROM checkpoints cp WHERE cp.session_id = s.id),
		(SELECT user_message FROM turns t WHERE t.session_id = s.id AND t.turn_index = 0),
		(SELECT title FROM checkpoints c WHERE c.session_id = s.id ORDER BY checkpoint_number DESC LIMIT 1),
		(SELECT overview FROM checkpoints c WHERE c.session_id = s.id ORDER BY checkpoint_number DESC LIMIT 1)
	FROM sessions s`

// ListSessions returns sessions, most recently updated first. limit <= 0
// means no limit.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	q := sessionsQuery + " ORDER BY s.updated_at DESC"
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("history: scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Lookup returns one session's summary row.
func (s *Store) Lookup(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, sessionsQuery+" WHERE s.id = ?", id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("history: lookup: %w", err)
	}
	return sess, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (Session, error) {
	var sess Session
	var cwd, repo, branch, summary sql.NullString
	var created, updated sql.NullString
	var firstMsg, cpTitle, cpOverview sql.NullString
	if err := sc.Scan(&sess.ID, &cwd, &repo, &branch, &summary, &created, &updated,
		&sess.TurnCount, &sess.FileCount, &sess.CheckpointCount,
		&firstMsg, &cpTitle, &cpOverview); err != nil {
		return Session{}, err
	}
	sess.Cwd = cwd.String
	sess.Repository = repo.String
	sess.Branch = branch.String
	sess.Summary = summary.String
	sess.CreatedAt = parseTime(created.String)
	sess.UpdatedAt = parseTime(updated.String)
	sess.FirstMessage = firstMsg.String
	sess.LastCheckpoint = cpTitle.String
	sess.LastCheckpointText = cpOverview.String
	return sess, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	histLog.Debug("unparsed_timestamp", slog.String("value", s))
	return time.Time{}
}

// GetSession returns checkpoints, refs, the last ten turns (oldest first) and
// the files touched by one session.
func (s *Store) GetSession(ctx context.Context, id string) (*Detail, error) {
	d := &Detail{
		Checkpoints: []Checkpoint{},
		Refs:        []Ref{},
		Turns:       []Turn{},
		Files:       []string{},
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT checkpoint_number, title, overview, next_steps
		 FROM checkpoints WHERE session_id = ? ORDER BY checkpoint_number`, id)
	if err != nil {
		return nil, fmt.Errorf("history: checkpoints: %w", err)
	}
	for rows.Next() {
		var cp Checkpoint
		var title, overview, next sql.NullString
		if err := rows.Scan(&cp.Number, &title, &overview, &next); err != nil {
			rows.Close()
			return nil, fmt.Errorf("history: checkpoints: %w", err)
		}
		cp.Title, cp.Overview, cp.NextSteps = title.String, overview.String, next.String
		d.Checkpoints = append(d.Checkpoints, cp)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT ref_type, ref_value FROM session_refs WHERE session_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("history: refs: %w", err)
	}
	for rows.Next() {
		var r Ref
		if err := rows.Scan(&r.Type, &r.Value); err != nil {
			rows.Close()
			return nil, fmt.Errorf("history: refs: %w", err)
		}
		d.Refs = append(d.Refs, r)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT turn_index, user_message, assistant_response
		 FROM turns WHERE session_id = ? ORDER BY turn_index DESC LIMIT 10`, id)
	if err != nil {
		return nil, fmt.Errorf("history: turns: %w", err)
	}
	for rows.Next() {
		var t Turn
		var user, assistant sql.NullString
		if err := rows.Scan(&t.Index, &user, &assistant); err != nil {
			rows.Close()
			return nil, fmt.Errorf("history: turns: %w", err)
		}
		t.UserMessage, t.AssistantResponse = user.String, assistant.String
		d.Turns = append(d.Turns, t)
	}
	rows.Close()
	for i, j := 0, len(d.Turns)-1; i < j; i, j = i+1, j-1 {
		d.Turns[i], d.Turns[j] = d.Turns[j], d.Turns[i]
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT DISTINCT file_path FROM session_files WHERE session_id = ? ORDER BY file_path`, id)
	if err != nil {
		return nil, fmt.Errorf("history: files: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("history: files: %w", err)
		}
		d.Files = append(d.Files, f)
	}
	return d, rows.Err()
}

// ListFiles returns the files touched by the most sessions.
func (s *Store) ListFiles(ctx context.Context, limit int) ([]FileEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT sf.file_path, COUNT(DISTINCT sf.session_id) AS session_count,
		       GROUP_CONCAT(DISTINCT sf.session_id)
		FROM session_files sf
		GROUP BY sf.file_path
		ORDER BY session_count DESC, sf.file_path
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list files: %w", err)
	}
	defer rows.Close()

	var out []FileEntry
	for rows.Next() {
		var fe FileEntry
		var ids sql.NullString
		if err := rows.Scan(&fe.Path, &fe.SessionCount, &ids); err != nil {
			return nil, fmt.Errorf("history: list files: %w", err)
		}
		if ids.String != "" {
			fe.SessionIDs = strings.Split(ids.String, ",")
		}
		out = append(out, fe)
	}
	return out, rows.Err()
}
