package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SessionContext is the working-directory metadata a session records when it
// starts or resumes.
type SessionContext struct {
	StartedAt  time.Time `json:"startedAt"`
	Cwd        string    `json:"cwd"`
	Branch     string    `json:"branch"`
	Repository string    `json:"repository"`
}

// contextScanLines bounds how far into a log SessionContext looks.
const contextScanLines = 64

// tailBytes is how much of a log RecentOutput reads from the end.
const tailBytes = 64 * 1024

type wireSessionData struct {
	Context struct {
		Cwd        string `json:"cwd"`
		Branch     string `json:"branch"`
		Repository string `json:"repository"`
	} `json:"context"`
}

// SessionContext returns the context of the first session.start or
// session.resume record. A missing log yields a zero context and no error.
func (r *Reader) SessionContext(sessionID string) (SessionContext, error) {
	path, err := r.Path(sessionID)
	if err != nil {
		return SessionContext{}, err
	}
	return ReadSessionContext(path)
}

// ReadSessionContext reads the session context from the log at path.
func ReadSessionContext(path string) (SessionContext, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return SessionContext{}, nil
		}
		return SessionContext{}, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for n := 0; n < contextScanLines && sc.Scan(); n++ {
		line := sc.Bytes()
		if !bytes.Contains(line, []byte(TypeSessionStart)) && !bytes.Contains(line, []byte(TypeSessionResume)) {
			continue
		}
		var ev wireEvent
		if json.Unmarshal(line, &ev) != nil {
			continue
		}
		if ev.Type != TypeSessionStart && ev.Type != TypeSessionResume {
			continue
		}
		var data wireSessionData
		_ = unmarshalData(ev.Data, &data)
		return SessionContext{
			StartedAt:  parseTimestamp(ev.Timestamp),
			Cwd:        data.Context.Cwd,
			Branch:     data.Context.Branch,
			Repository: data.Context.Repository,
		}, nil
	}
	return SessionContext{}, sc.Err()
}

// SessionStart pairs a session id with the timestamp of its first record.
type SessionStart struct {
	SessionID string
	StartedAt time.Time
}

// SessionStarts lists every session directory whose log begins with a
// session.start or session.resume record. Unreadable logs are skipped. A
// log's first record never changes, so each one is opened only until its
// start is known; directories that disappear are forgotten.
func (r *Reader) SessionStarts() ([]SessionStart, error) {
	entries, err := os.ReadDir(r.stateDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(entries))
	var out []SessionStart
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sid := e.Name()
		seen[sid] = struct{}{}
		ts, ok := r.starts[sid]
		if !ok {
			ts, ok = firstStart(filepath.Join(r.stateDir, sid, FileName))
			if !ok {
				continue
			}
			r.starts[sid] = ts
		}
		out = append(out, SessionStart{SessionID: sid, StartedAt: ts})
	}
	for sid := range r.starts {
		if _, ok := seen[sid]; !ok {
			delete(r.starts, sid)
		}
	}
	return out, nil
}

func firstStart(path string) (time.Time, bool) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, false
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadBytes('\n')
	if err != nil && err != io.EOF {
		return time.Time{}, false
	}
	var ev wireEvent
	if json.Unmarshal(line, &ev) != nil {
		return time.Time{}, false
	}
	if ev.Type != TypeSessionStart && ev.Type != TypeSessionResume {
		return time.Time{}, false
	}
	ts := parseTimestamp(ev.Timestamp)
	return ts, !ts.IsZero()
}

type wireCompleteResult struct {
	Result struct {
		Content string `json:"content"`
	} `json:"result"`
}

// RecentOutput returns up to maxLines trailing lines of the last meaningful
// tool result in the session's log. Only the tail of the file is read.
func (r *Reader) RecentOutput(sessionID string, maxLines int) ([]string, error) {
	path, err := r.Path(sessionID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &ReadError{SessionID: sessionID, Path: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &ReadError{SessionID: sessionID, Path: path, Err: err}
	}
	from := info.Size() - tailBytes
	if from < 0 {
		from = 0
	}
	if _, err := f.Seek(from, io.SeekStart); err != nil {
		return nil, &ReadError{SessionID: sessionID, Path: path, Err: err}
	}
	chunk, err := io.ReadAll(f)
	if err != nil {
		return nil, &ReadError{SessionID: sessionID, Path: path, Err: err}
	}

	lines := strings.Split(string(chunk), "\n")
	if from > 0 && len(lines) > 0 {
		// The first line starts mid-record.
		lines = lines[1:]
	}

	var output []string
	for _, raw := range lines {
		if !strings.Contains(raw, TypeToolComplete) {
			continue
		}
		var ev wireEvent
		if json.Unmarshal([]byte(raw), &ev) != nil || ev.Type != TypeToolComplete {
			continue
		}
		var data wireCompleteResult
		if unmarshalData(ev.Data, &data) != nil {
			continue
		}
		content := strings.TrimSpace(data.Result.Content)
		if len(content) < 5 || content == "Intent logged" {
			continue
		}
		output = strings.Split(content, "\n")
	}

	if maxLines > 0 && len(output) > maxLines {
		output = output[len(output)-maxLines:]
	}
	return output, nil
}
