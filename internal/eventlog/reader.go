package eventlog

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/logging"
)

var readLog = logging.ForComponent(logging.CompEventLog)

// FileName is the per-session event log inside a session directory.
const FileName = "events.jsonl"

// ErrInvalidSessionID is returned for ids that would escape the state dir.
var ErrInvalidSessionID = errors.New("invalid session id")

// ReadError reports a session log that exists but could not be read.
type ReadError struct {
	SessionID string
	Path      string
	Err       error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read events for %s: %v", e.SessionID, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Cursor bookmarks how far a session's log has been consumed.
type Cursor struct {
	Offset  int64
	ModTime time.Time
}

// ReadResult is what one ReadNew call produced.
type ReadResult struct {
	Records []Record
	Cursor  Cursor

	// FullReplay is set when the cursor was past EOF and the file was
	// re-read from the start. Callers must rebuild derived state.
	FullReplay bool

	// Malformed counts skipped lines.
	Malformed int
}

// Reader reads events.jsonl files under a session-state directory. The caller
// owns the cursors; the reader only remembers each session's start time.
type Reader struct {
	stateDir string

	mu     sync.Mutex
	starts map[string]time.Time
}

// NewReader returns a Reader rooted at stateDir
// (normally ~/.copilot/session-state).
func NewReader(stateDir string) *Reader {
	return &Reader{stateDir: stateDir, starts: map[string]time.Time{}}
}

// StateDir returns the directory the reader is rooted at.
func (r *Reader) StateDir() string { return r.stateDir }

// Path returns the event log path for sessionID.
func (r *Reader) Path(sessionID string) (string, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	return filepath.Join(r.stateDir, sessionID, FileName), nil
}

// ValidateSessionID rejects ids that are empty or contain path elements.
func ValidateSessionID(id string) error {
	if id == "" || id == "." || id == ".." ||
		strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}

// ReadNew returns the complete records appended since cur. A missing file is
// not an error: the result is empty and the cursor is returned unchanged. A
// trailing line without a newline is left for the next call.
func (r *Reader) ReadNew(sessionID string, cur Cursor) (ReadResult, error) {
	res := ReadResult{Cursor: cur}

	path, err := r.Path(sessionID)
	if err != nil {
		return res, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return res, nil
		}
		return res, &ReadError{SessionID: sessionID, Path: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return res, &ReadError{SessionID: sessionID, Path: path, Err: err}
	}
	size := info.Size()

	offset := cur.Offset
	if offset > size {
		readLog.Debug("events_truncated",
			slog.String("session", sessionID),
			slog.Int64("offset", offset),
			slog.Int64("size", size))
		offset = 0
		res.FullReplay = true
	}

	if offset == size {
		res.Cursor = Cursor{Offset: offset, ModTime: info.ModTime()}
		return res, nil
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return res, &ReadError{SessionID: sessionID, Path: path, Err: err}
	}

	// Bound the read to the size observed at Stat so a concurrent append
	// cannot move the cursor past what was measured.
	br := bufio.NewReaderSize(io.LimitReader(f, size-offset), 64*1024)
	consumed := int64(0)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			consumed += int64(len(line))
			res.decodeLine(sessionID, line)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return ReadResult{Cursor: cur}, &ReadError{SessionID: sessionID, Path: path, Err: err}
		}
	}

	res.Cursor = Cursor{Offset: offset + consumed, ModTime: info.ModTime()}
	return res, nil
}

func (res *ReadResult) decodeLine(sessionID string, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	recs, err := Decode(line)
	if err != nil {
		res.Malformed++
		logging.Aggregate(logging.CompEventLog, "malformed_record", slog.String("session", sessionID))
		readLog.Debug("malformed_record",
			slog.String("session", sessionID),
			slog.String("error", err.Error()))
		return
	}
	res.Records = append(res.Records, recs...)
}
