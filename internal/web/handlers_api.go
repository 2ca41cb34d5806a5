package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/classify"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/eventlog"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/history"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/procscan"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/tracker"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/window"
)

const (
	defaultSessionLimit = 200
	maxSessionLimit     = 1000
	recentOutputLines   = 20
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

type processesResponse struct {
	Generation uint64                  `json:"generation"`
	ProducedAt time.Time               `json:"producedAt"`
	Counts     map[classify.Status]int `json:"counts"`
	Sessions   []tracker.SessionEntry  `json:"sessions"`
	Health     tracker.Health          `json:"health"`
}

type sessionSummary struct {
	history.Session
	Group          string                `json:"group"`
	TimeAgo        string                `json:"timeAgo"`
	RecentActivity string                `json:"recentActivity,omitempty"`
	RestartCommand string                `json:"restartCommand"`
	Live           *tracker.SessionEntry `json:"live,omitempty"`
}

type groupCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type sessionsResponse struct {
	Sessions         []sessionSummary `json:"sessions"`
	Groups           []groupCount     `json:"groups"`
	Generation       uint64           `json:"generation"`
	HistoryAvailable bool             `json:"historyAvailable"`
}

type sessionDetailResponse struct {
	Session      *sessionSummary       `json:"session"`
	Detail       *history.Detail       `json:"detail,omitempty"`
	Live         *tracker.SessionEntry `json:"live,omitempty"`
	RecentOutput []string              `json:"recentOutput,omitempty"`
}

func (s *Server) snapshot(r *http.Request) *tracker.Snapshot {
	if s.cfg.Tracker == nil {
		return &tracker.Snapshot{Sessions: map[string]tracker.SessionEntry{}}
	}
	return s.cfg.Tracker.Get(r.Context())
}

func (s *Server) handleProcesses(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodGet) {
		return
	}
	snap := s.snapshot(r)
	resp := processesResponse{
		Generation: snap.Generation,
		ProducedAt: snap.ProducedAt,
		Counts:     snap.Counts(),
		Sessions:   snap.Sorted(),
	}
	if s.cfg.Tracker != nil {
		resp.Health = s.cfg.Tracker.Health()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodGet) {
		return
	}
	limit, err := parseLimit(r, defaultSessionLimit)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	snap := s.snapshot(r)
	past, available, err := s.loadHistory(r)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load session history")
		return
	}

	known := make(map[string]bool, len(past))
	for _, h := range past {
		known[h.ID] = true
	}
	// Live sessions the CLI has not written to its store yet.
	for _, e := range snap.Sorted() {
		if !known[e.SessionID] {
			past = append(past, s.liveOnlySession(e))
		}
	}

	results := history.Search(past, r.URL.Query().Get("q"))
	if len(results) > limit {
		results = results[:limit]
	}

	resp := sessionsResponse{
		Sessions:         make([]sessionSummary, 0, len(results)),
		Generation:       snap.Generation,
		HistoryAvailable: available,
	}
	counts := map[string]int{}
	for _, res := range results {
		sum := s.summarize(res.Session, snap)
		counts[sum.Group]++
		resp.Sessions = append(resp.Sessions, sum)
	}
	for name, n := range counts {
		resp.Groups = append(resp.Groups, groupCount{Name: name, Count: n})
	}
	sort.Slice(resp.Groups, func(i, j int) bool {
		if resp.Groups[i].Count != resp.Groups[j].Count {
			return resp.Groups[i].Count > resp.Groups[j].Count
		}
		return resp.Groups[i].Name < resp.Groups[j].Name
	})
	writeJSON(w, http.StatusOK, resp)
}

// loadHistory returns every stored session. A missing store is not an error.
func (s *Server) loadHistory(r *http.Request) ([]history.Session, bool, error) {
	if s.cfg.History == nil {
		return nil, false, nil
	}
	past, err := s.cfg.History.ListSessions(r.Context(), 0)
	if errors.Is(err, history.ErrNoDatabase) {
		return nil, false, nil
	}
	if err != nil {
		webLog.Warn("history_list_failed", slog.String("error", err.Error()))
		return nil, false, err
	}
	return past, true, nil
}

func (s *Server) liveOnlySession(e tracker.SessionEntry) history.Session {
	sess := history.Session{ID: e.SessionID}
	s.fillContext(&sess)
	return sess
}

// fillContext copies what the session's log recorded at start into the
// fields the store left empty. Stored values win.
func (s *Server) fillContext(sess *history.Session) {
	if s.cfg.Logs == nil {
		return
	}
	sc, err := s.cfg.Logs.SessionContext(sess.ID)
	if err != nil {
		webLog.Debug("session_context_failed", slog.String("session", sess.ID), slog.String("error", err.Error()))
		return
	}
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&sess.Cwd, sc.Cwd)
	fill(&sess.Branch, sc.Branch)
	fill(&sess.Repository, sc.Repository)
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = sc.StartedAt
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = sc.StartedAt
	}
}

func (s *Server) summarize(sess history.Session, snap *tracker.Snapshot) sessionSummary {
	if sess.Cwd == "" || sess.Branch == "" || sess.Repository == "" {
		s.fillContext(&sess)
	}
	sum := sessionSummary{
		Session:        sess,
		Group:          history.GroupName(sess, s.cfg.Grouping),
		TimeAgo:        sess.TimeAgo(s.cfg.Now()),
		RecentActivity: sess.RecentActivity(),
	}
	var args []string
	if e, ok := snap.Get(sess.ID); ok {
		sum.Live = &e
		args = procscan.ExtraArgs(e.CommandLine)
		if len(args) == 0 && e.AutoApprove {
			args = []string{"--yolo"}
		}
	}
	sum.RestartCommand = history.RestartCommand(sess, args)
	return sum
}

// handleSessionRoutes serves /api/session/{id}, /api/session/{id}/focus and
// /api/session/{id}/kill.
func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/session/")
	sessionID, action, _ := strings.Cut(rest, "/")
	if sessionID == "" || strings.Contains(action, "/") {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "session id is required")
		return
	}
	if err := eventlog.ValidateSessionID(sessionID); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid session id")
		return
	}

	switch action {
	case "":
		s.handleSessionDetail(w, r, sessionID)
	case "focus", "kill":
		s.handleSessionAction(w, r, sessionID, action)
	default:
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	}
}

func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !s.guard(w, r, http.MethodGet) {
		return
	}
	snap := s.snapshot(r)
	var resp sessionDetailResponse

	if live, ok := snap.Get(sessionID); ok {
		resp.Live = &live
	}

	if s.cfg.History != nil {
		sess, err := s.cfg.History.Lookup(r.Context(), sessionID)
		switch {
		case err == nil:
			sum := s.summarize(sess, snap)
			resp.Session = &sum
			detail, err := s.cfg.History.GetSession(r.Context(), sessionID)
			if err != nil {
				writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load session detail")
				return
			}
			resp.Detail = detail
		case errors.Is(err, history.ErrNotFound), errors.Is(err, history.ErrNoDatabase):
		default:
			webLog.Warn("history_lookup_failed", slog.String("session", sessionID), slog.String("error", err.Error()))
			writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load session")
			return
		}
	}

	if resp.Session == nil && resp.Live != nil {
		sum := s.summarize(s.liveOnlySession(*resp.Live), snap)
		resp.Session = &sum
	}
	if resp.Session == nil {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
		return
	}

	if s.cfg.Logs != nil {
		out, err := s.cfg.Logs.RecentOutput(sessionID, recentOutputLines)
		if err != nil {
			webLog.Debug("recent_output_failed", slog.String("session", sessionID), slog.String("error", err.Error()))
		}
		resp.RecentOutput = out
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionAction(w http.ResponseWriter, r *http.Request, sessionID, action string) {
	if !s.guard(w, r, http.MethodPost) {
		return
	}
	if action == "kill" && s.cfg.ReadOnly {
		writeAPIError(w, http.StatusForbidden, "READ_ONLY", "kill is disabled in read-only mode")
		return
	}
	if s.cfg.Actions == nil {
		writeAPIError(w, http.StatusNotImplemented, "UNSUPPORTED", "session actions are not available")
		return
	}

	entry, ok := s.snapshot(r).Get(sessionID)
	if !ok {
		writeAPIError(w, http.StatusNotFound, "NOT_RUNNING", "session is not running")
		return
	}

	var err error
	if action == "focus" {
		err = s.cfg.Actions.Focus(r.Context(), entry.TrackedProcess)
	} else {
		err = s.cfg.Actions.Kill(r.Context(), entry.TrackedProcess)
	}
	switch {
	case err == nil:
	case errors.Is(err, window.ErrUnsupported):
		writeAPIError(w, http.StatusNotImplemented, "UNSUPPORTED", err.Error())
		return
	case errors.Is(err, window.ErrSessionNotRunning):
		writeAPIError(w, http.StatusConflict, "NOT_RUNNING", "session is no longer running")
		return
	default:
		webLog.Warn("session_action_failed",
			slog.String("session", sessionID),
			slog.String("action", action),
			slog.String("error", err.Error()))
		writeAPIError(w, http.StatusInternalServerError, "ACTION_FAILED", "failed to "+action+" session")
		return
	}

	if action == "kill" {
		if waker, ok := s.cfg.Tracker.(interface{ Wake() }); ok {
			waker.Wake()
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sessionId": sessionID, "action": action})
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodGet) {
		return
	}
	limit, err := parseLimit(r, 100)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	files := []history.FileEntry{}
	if s.cfg.History != nil {
		got, err := s.cfg.History.ListFiles(r.Context(), limit)
		switch {
		case err == nil:
			if got != nil {
				files = got
			}
		case errors.Is(err, history.ErrNoDatabase):
		default:
			webLog.Warn("history_files_failed", slog.String("error", err.Error()))
			writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load files")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func parseLimit(r *http.Request, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxSessionLimit {
		n = maxSessionLimit
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorResponse{
		Error: apiError{
			Code:    code,
			Message: message,
		},
	})
}
