// Package config loads the dashboard's TOML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the config file stored next to the Copilot CLI's own state.
const FileName = "dashboard-config.toml"

// Duration is a time.Duration that decodes from TOML strings such as "2s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the full dashboard configuration.
type Config struct {
	Tracker  TrackerSettings  `toml:"tracker"`
	Scanner  ScannerSettings  `toml:"scanner"`
	Paths    PathSettings     `toml:"paths"`
	Web      WebSettings      `toml:"web"`
	Logs     LogSettings      `toml:"logs"`
	Grouping GroupingSettings `toml:"grouping"`
}

// TrackerSettings controls the live session-state tracker.
type TrackerSettings struct {
	// PollInterval is both the background refresh period and the age after
	// which Get triggers a refresh itself.
	PollInterval Duration `toml:"poll_interval"`

	// RefreshTimeout bounds one refresh cycle. A slower cycle is abandoned.
	RefreshTimeout Duration `toml:"refresh_timeout"`

	// ReadParallelism bounds concurrent event-log reads within a cycle.
	ReadParallelism int `toml:"read_parallelism"`

	// MatchByStartTime attaches processes without --resume to the session
	// whose first event is closest to the process start time.
	MatchByStartTime bool `toml:"match_by_start_time"`

	// WatchEvents wakes the refresh loop when an events.jsonl changes.
	WatchEvents bool `toml:"watch_events"`
}

// ScannerSettings controls process discovery.
type ScannerSettings struct {
	ProgramNames     []string `toml:"program_names"`
	TerminalNames    []string `toml:"terminal_names"`
	AutoApproveFlags []string `toml:"auto_approve_flags"`
}

// PathSettings locates the Copilot CLI's files. Empty values derive from
// CopilotDir.
type PathSettings struct {
	CopilotDir string `toml:"copilot_dir"`
	StateDir   string `toml:"state_dir"`
	HistoryDB  string `toml:"history_db"`
	LogDir     string `toml:"log_dir"`
}

// WebSettings configures the HTTP server.
type WebSettings struct {
	Listen   string `toml:"listen"`
	Token    string `toml:"token"`
	ReadOnly bool   `toml:"read_only"`
}

// LogSettings maps onto logging.Config.
type LogSettings struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
	Pprof      bool   `toml:"pprof"`
}

// GroupingSettings customizes how history sessions are grouped by project.
type GroupingSettings struct {
	SkipDirs []string          `toml:"skip_dirs"`
	Mappings map[string]string `toml:"mappings"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Tracker: TrackerSettings{
			PollInterval:     Duration{2 * time.Second},
			RefreshTimeout:   Duration{10 * time.Second},
			ReadParallelism:  4,
			MatchByStartTime: true,
			WatchEvents:      true,
		},
		Scanner: ScannerSettings{
			ProgramNames:     []string{"copilot", "copilot.exe"},
			TerminalNames:    DefaultTerminalNames(),
			AutoApproveFlags: []string{"--yolo", "--allow-all-tools"},
		},
		Web: WebSettings{
			Listen: "127.0.0.1:5111",
		},
		Logs: LogSettings{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
	}
}

// DefaultTerminalNames lists executables that own a terminal window. Only
// window-owning processes belong here, never shells.
func DefaultTerminalNames() []string {
	return []string{
		"windowsterminal.exe", "wt.exe", "conemu64.exe", "conemu.exe", "cmder.exe",
		"mintty.exe", "alacritty.exe", "wezterm-gui.exe", "hyper.exe", "tabby.exe",
		"kitty.exe", "code.exe", "cursor.exe",
		"iterm2", "terminal", "alacritty", "wezterm", "wezterm-gui", "hyper", "kitty",
		"tabby", "warp", "stable", "ghostty", "code", "cursor",
		"gnome-terminal-server", "konsole", "xterm", "tilix", "foot",
	}
}

// DefaultCopilotDir is ~/.copilot.
func DefaultCopilotDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".copilot")
	}
	return filepath.Join(home, ".copilot")
}

// Resolve fills derived paths. It is idempotent.
func (c *Config) Resolve() {
	if c.Paths.CopilotDir == "" {
		c.Paths.CopilotDir = DefaultCopilotDir()
	}
	c.Paths.CopilotDir = expandHome(c.Paths.CopilotDir)
	if c.Paths.StateDir == "" {
		c.Paths.StateDir = filepath.Join(c.Paths.CopilotDir, "session-state")
	}
	if c.Paths.HistoryDB == "" {
		c.Paths.HistoryDB = filepath.Join(c.Paths.CopilotDir, "session-store.db")
	}
	if c.Paths.LogDir == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.CopilotDir, "dashboard-logs")
	}
	c.Paths.StateDir = expandHome(c.Paths.StateDir)
	c.Paths.HistoryDB = expandHome(c.Paths.HistoryDB)
	c.Paths.LogDir = expandHome(c.Paths.LogDir)
}

// Validate reports configuration that makes the tracker unusable.
func (c *Config) Validate() error {
	var errs []error
	if c.Tracker.PollInterval.Duration <= 0 {
		errs = append(errs, errors.New("tracker.poll_interval must be positive"))
	}
	if c.Tracker.RefreshTimeout.Duration <= 0 {
		errs = append(errs, errors.New("tracker.refresh_timeout must be positive"))
	}
	if c.Tracker.ReadParallelism < 1 {
		errs = append(errs, errors.New("tracker.read_parallelism must be at least 1"))
	}
	if len(c.Scanner.ProgramNames) == 0 {
		errs = append(errs, errors.New("scanner.program_names must not be empty"))
	}
	return errors.Join(errs...)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

var (
	cacheMu sync.RWMutex
	cached  *Config
)

// Path returns the config file location, honoring COPILOT_DECK_CONFIG.
func Path() string {
	if p := os.Getenv("COPILOT_DECK_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(DefaultCopilotDir(), FileName)
}

// Load reads the config file once and caches the result. A missing file
// yields defaults; a parse error yields defaults plus the error.
func Load() (*Config, error) {
	cacheMu.RLock()
	if cached != nil {
		defer cacheMu.RUnlock()
		return cached, nil
	}
	cacheMu.RUnlock()

	cacheMu.Lock()
	defer cacheMu.Unlock()
	if cached != nil {
		return cached, nil
	}

	cfg, err := LoadFile(Path())
	cached = cfg
	return cached, err
}

// Reload drops the cache and loads again.
func Reload() (*Config, error) {
	ClearCache()
	return Load()
}

// ClearCache forgets the cached config.
func ClearCache() {
	cacheMu.Lock()
	cached = nil
	cacheMu.Unlock()
}

// LoadFile decodes path over the defaults and applies env overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	var decodeErr error
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			cfg = Default()
			decodeErr = fmt.Errorf("%s parse error: %w", filepath.Base(path), err)
		}
	}

	if err := applyEnv(cfg); err != nil && decodeErr == nil {
		decodeErr = err
	}
	cfg.Resolve()
	return cfg, decodeErr
}

// applyEnv overlays COPILOT_DECK_* variables.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("COPILOT_DECK_LISTEN"); v != "" {
		cfg.Web.Listen = v
	}
	if v := os.Getenv("COPILOT_DECK_TOKEN"); v != "" {
		cfg.Web.Token = v
	}
	if v := os.Getenv("COPILOT_DECK_LOG_LEVEL"); v != "" {
		cfg.Logs.Level = v
	}
	if v := os.Getenv("COPILOT_DECK_COPILOT_DIR"); v != "" {
		cfg.Paths.CopilotDir = v
	}
	if v := os.Getenv("COPILOT_DECK_STATE_DIR"); v != "" {
		cfg.Paths.StateDir = v
	}
	if v := os.Getenv("COPILOT_DECK_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("COPILOT_DECK_POLL_INTERVAL: %w", err)
		}
		cfg.Tracker.PollInterval = Duration{d}
	}
	if v := os.Getenv("COPILOT_DECK_READ_ONLY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("COPILOT_DECK_READ_ONLY: %w", err)
		}
		cfg.Web.ReadOnly = b
	}
	return nil
}

// Save writes cfg to path atomically: temp file, fsync, rename.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# Copilot session dashboard configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	_ = f.Sync()
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize config save: %w", err)
	}

	ClearCache()
	return nil
}
