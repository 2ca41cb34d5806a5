// Package procscan finds running Copilot CLI processes and the sessions they
// belong to.
package procscan

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/eventlog"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/logging"
)

var scanLog = logging.ForComponent(logging.CompScan)

const (
	// maxAncestryDepth bounds the parent walk used to find the terminal.
	maxAncestryDepth = 10

	// startMatchTolerance is how far a process start time may be from a
	// session's first record and still be attributed to it.
	startMatchTolerance = 10 * time.Second
)

// TrackedProcess is one OS process believed to host a live session.
type TrackedProcess struct {
	PID          int32  `json:"pid"`
	ParentPID    int32  `json:"parentPid"`
	TerminalPID  int32  `json:"terminalPid,omitempty"`
	TerminalName string `json:"terminalName,omitempty"`
	CommandLine  string `json:"commandLine"`
	SessionID    string `json:"sessionId"`
	AutoApprove  bool   `json:"autoApprove"`

	// ConfigServers are MCP servers declared by --additional-mcp-config.
	ConfigServers []string `json:"configServers,omitempty"`
}

// ProcessEntry is the cheap per-process data gathered for every process.
type ProcessEntry struct {
	PID  int32
	PPID int32
	Name string
}

// ProcessDetail is fetched only for candidate processes.
type ProcessDetail struct {
	CommandLine string
	CreateTime  time.Time
}

// Lister enumerates OS processes.
type Lister interface {
	// List returns every readable process. Processes that cannot be read are
	// omitted; an error means enumeration failed as a whole.
	List(ctx context.Context) ([]ProcessEntry, error)

	// Inspect returns the command line and start time of one process.
	Inspect(ctx context.Context, pid int32) (ProcessDetail, error)
}

// StartIndex lists session start times for processes launched without
// --resume. *eventlog.Reader implements it.
type StartIndex interface {
	SessionStarts() ([]eventlog.SessionStart, error)
}

// ScanError reports that the process table could not be enumerated at all.
type ScanError struct {
	Err error
}

func (e *ScanError) Error() string { return fmt.Sprintf("scan processes: %v", e.Err) }

func (e *ScanError) Unwrap() error { return e.Err }

// Options configures a Scanner.
type Options struct {
	ProgramNames     []string
	TerminalNames    []string
	AutoApproveFlags []string

	// Starts enables start-time matching when non-nil.
	Starts StartIndex
}

// Scanner identifies Copilot CLI processes. It caches nothing between calls.
type Scanner struct {
	lister    Lister
	programs  map[string]bool
	terminals map[string]bool
	flags     []string
	starts    StartIndex
}

// New returns a Scanner using lister for enumeration.
func New(lister Lister, opts Options) *Scanner {
	return &Scanner{
		lister:    lister,
		programs:  lowerSet(opts.ProgramNames),
		terminals: lowerSet(opts.TerminalNames),
		flags:     opts.AutoApproveFlags,
		starts:    opts.Starts,
	}
}

func lowerSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[strings.ToLower(n)] = true
	}
	return m
}

type candidate struct {
	proc    TrackedProcess
	created time.Time
	resumed bool
}

// Scan enumerates processes once and returns one TrackedProcess per session,
// sorted by session id. Processes that vanish or cannot be inspected are
// skipped.
func (s *Scanner) Scan(ctx context.Context) ([]TrackedProcess, error) {
	entries, err := s.lister.List(ctx)
	if err != nil {
		return nil, &ScanError{Err: err}
	}

	byPID := make(map[int32]ProcessEntry, len(entries))
	for _, e := range entries {
		byPID[e.PID] = e
	}

	var resumed, unmatched []candidate
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, &ScanError{Err: err}
		}
		if !s.maybeProgram(e.Name) {
			continue
		}
		detail, err := s.lister.Inspect(ctx, e.PID)
		if err != nil {
			scanLog.Debug("process_inspect_failed",
				slog.Int("pid", int(e.PID)),
				slog.String("error", err.Error()))
			continue
		}
		if !s.isProgram(e.Name, detail.CommandLine) {
			continue
		}

		termPID, termName := s.findTerminal(byPID, e.PPID)
		c := candidate{
			proc: TrackedProcess{
				PID:           e.PID,
				ParentPID:     e.PPID,
				TerminalPID:   termPID,
				TerminalName:  termName,
				CommandLine:   detail.CommandLine,
				AutoApprove:   HasAnyFlag(detail.CommandLine, s.flags),
				ConfigServers: ConfigServers(detail.CommandLine),
			},
			created: detail.CreateTime,
		}
		if sid := ResumeSessionID(detail.CommandLine); sid != "" {
			c.proc.SessionID = sid
			c.resumed = true
			resumed = append(resumed, c)
		} else {
			unmatched = append(unmatched, c)
		}
	}

	sessions := make(map[string]candidate, len(resumed)+len(unmatched))
	for _, c := range resumed {
		// Two processes resuming one session: keep the newer.
		if prev, ok := sessions[c.proc.SessionID]; ok && prev.created.After(c.created) {
			continue
		}
		sessions[c.proc.SessionID] = c
	}
	if len(unmatched) > 0 && s.starts != nil {
		s.matchByStartTime(sessions, unmatched)
	}

	out := make([]TrackedProcess, 0, len(sessions))
	for _, c := range sessions {
		out = append(out, c.proc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// maybeProgram is the name-only prefilter that decides whether a process is
// worth inspecting.
func (s *Scanner) maybeProgram(name string) bool {
	n := strings.ToLower(name)
	return s.programs[n] || n == "node" || n == "node.exe"
}

func (s *Scanner) isProgram(name, cmdline string) bool {
	n := strings.ToLower(name)
	if s.programs[n] {
		return true
	}
	// npm installs run the CLI under node.
	for _, arg := range strings.Fields(cmdline) {
		base := strings.ToLower(filepath.Base(strings.Trim(arg, `"'`)))
		base = strings.TrimSuffix(base, filepath.Ext(base))
		if s.programs[base] || strings.Contains(strings.ToLower(arg), "@github/copilot") {
			return true
		}
	}
	return false
}

// findTerminal walks up from ppid to the nearest known terminal host. A
// missing terminal yields zero values.
func (s *Scanner) findTerminal(byPID map[int32]ProcessEntry, ppid int32) (int32, string) {
	visited := make(map[int32]bool, maxAncestryDepth)
	pid := ppid
	for depth := 0; depth < maxAncestryDepth; depth++ {
		if pid <= 0 || visited[pid] {
			break
		}
		visited[pid] = true
		p, ok := byPID[pid]
		if !ok {
			break
		}
		if s.terminals[strings.ToLower(p.Name)] {
			return p.PID, p.Name
		}
		pid = p.PPID
	}
	return 0, ""
}

// matchByStartTime attributes processes launched without --resume to the
// session whose first record is closest to the process start. Resume matches
// are never replaced.
func (s *Scanner) matchByStartTime(sessions map[string]candidate, unmatched []candidate) {
	starts, err := s.starts.SessionStarts()
	if err != nil {
		scanLog.Warn("session_starts_failed", slog.String("error", err.Error()))
		return
	}

	bestDelta := make(map[string]time.Duration)
	for _, c := range unmatched {
		if c.created.IsZero() {
			continue
		}
		sid, delta := closestStart(starts, c.created)
		if sid == "" {
			continue
		}
		if prev, ok := sessions[sid]; ok && (prev.resumed || bestDelta[sid] <= delta) {
			continue
		}
		c.proc.SessionID = sid
		sessions[sid] = c
		bestDelta[sid] = delta
	}
}

func closestStart(starts []eventlog.SessionStart, created time.Time) (string, time.Duration) {
	best := ""
	bestDelta := startMatchTolerance
	for _, st := range starts {
		d := created.Sub(st.StartedAt)
		if d < 0 {
			d = -d
		}
		if d < bestDelta {
			best, bestDelta = st.SessionID, d
		}
	}
	return best, bestDelta
}
