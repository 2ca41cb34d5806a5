package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/eventlog"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/history"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/logging"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/procscan"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/tracker"
)

var webLog = logging.ForComponent(logging.CompWeb)

// SnapshotSource serves live session snapshots. *tracker.Cache implements it.
type SnapshotSource interface {
	Get(ctx context.Context) *tracker.Snapshot
	Health() tracker.Health
}

// HistoryStore reads past sessions. *history.Store implements it.
type HistoryStore interface {
	ListSessions(ctx context.Context, limit int) ([]history.Session, error)
	Lookup(ctx context.Context, id string) (history.Session, error)
	GetSession(ctx context.Context, id string) (*history.Detail, error)
	ListFiles(ctx context.Context, limit int) ([]history.FileEntry, error)
}

// SessionActions acts on a live session's process. *window.Controller
// implements it.
type SessionActions interface {
	Focus(ctx context.Context, p procscan.TrackedProcess) error
	Kill(ctx context.Context, p procscan.TrackedProcess) error
}

// LogInspector reads side facts from event logs. *eventlog.Reader implements
// it.
type LogInspector interface {
	SessionContext(sessionID string) (eventlog.SessionContext, error)
	RecentOutput(sessionID string, maxLines int) ([]string, error)
}

// Config defines runtime options for the web server.
type Config struct {
	ListenAddr string
	ReadOnly   bool
	Token      string

	Tracker SnapshotSource
	History HistoryStore
	Actions SessionActions
	Logs    LogInspector

	Grouping history.GroupRules
	Now      func() time.Time
}

// Server wraps an HTTP server for the dashboard.
type Server struct {
	cfg        Config
	httpServer *http.Server
	baseCtx    context.Context
	cancelBase context.CancelFunc

	subscribersMu sync.Mutex
	subscribers   map[chan struct{}]struct{}
}

// NewServer creates a new web server with base routes and middleware.
func NewServer(cfg Config) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:5111"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Server{
		cfg:         cfg,
		subscribers: make(map[chan struct{}]struct{}),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.Handle("/static/", http.StripPrefix("/static/", s.staticFileServer()))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/processes", s.handleProcesses)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/session/", s.handleSessionRoutes)
	mux.HandleFunc("/api/files", s.handleFiles)
	mux.HandleFunc("/events/snapshot", s.handleSnapshotEvents)
	mux.HandleFunc("/ws/snapshot", s.handleSnapshotWS)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           withRecover(mux),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          logging.StdLogger(logging.CompWeb, slog.LevelWarn),
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Shutdown. Returns nil on graceful shutdown.
func (s *Server) Start() error {
	webLog.Info("listening", slog.String("addr", s.cfg.ListenAddr), slog.Bool("read_only", s.cfg.ReadOnly))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	// Stream handlers watch baseCtx.
	s.cancelBase()

	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr != nil {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
		return nil
	}
	return err
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				webLog.Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) String() string {
	return fmt.Sprintf("web-server(addr=%s, readOnly=%t)", s.cfg.ListenAddr, s.cfg.ReadOnly)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := map[string]any{
		"ok":       true,
		"readOnly": s.cfg.ReadOnly,
		"time":     s.cfg.Now().UTC().Format(time.RFC3339),
	}
	if s.cfg.Tracker != nil {
		resp["tracker"] = s.cfg.Tracker.Health()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// NotifySnapshot tells open streams a new snapshot was committed. It is meant
// to be chained into tracker.Options.OnCommit.
func (s *Server) NotifySnapshot(*tracker.Snapshot) {
	s.subscribersMu.Lock()
	for ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.subscribersMu.Unlock()
}

func (s *Server) subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	s.subscribersMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subscribersMu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan struct{}) {
	if ch == nil {
		return
	}
	s.subscribersMu.Lock()
	if _, ok := s.subscribers[ch]; ok {
		delete(s.subscribers, ch)
		close(ch)
	}
	s.subscribersMu.Unlock()
}
