// Package window acts on the terminal and process behind a live session:
// bringing its window to the front and stopping it.
package window

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/logging"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/procscan"
)

var winLog = logging.ForComponent(logging.CompWindow)

var (
	// ErrUnsupported means the platform or terminal cannot be focused.
	ErrUnsupported = errors.New("window: not supported on this platform")

	// ErrSessionNotRunning means the session's process is gone, or its PID now
	// belongs to a different program.
	ErrSessionNotRunning = errors.New("window: session is not running")
)

// macApps maps lowercased terminal process names to the application names
// osascript can activate. Nothing outside this table is ever passed to it.
var macApps = map[string]string{
	"terminal":        "Terminal",
	"iterm2":          "iTerm",
	"iterm":           "iTerm",
	"code":            "Visual Studio Code",
	"code helper":     "Visual Studio Code",
	"electron":        "Visual Studio Code",
	"code - insiders": "Visual Studio Code - Insiders",
	"warp":            "Warp",
	"stable":          "Warp",
	"alacritty":       "Alacritty",
	"kitty":           "kitty",
	"wezterm-gui":     "WezTerm",
	"ghostty":         "Ghostty",
	"hyper":           "Hyper",
	"tabby":           "Tabby",
	"cursor":          "Cursor",
	"cursor helper":   "Cursor",
	"windsurf":        "Windsurf",
	"rio":             "Rio",
}

// AppName resolves a terminal process name to an activatable app name.
func AppName(terminalName string) (string, bool) {
	n := strings.ToLower(strings.TrimSpace(filepath.Base(terminalName)))
	n = strings.TrimSuffix(n, ".exe")
	app, ok := macApps[n]
	return app, ok
}

// Proc is the part of a gopsutil process the controller uses.
type Proc interface {
	CmdlineWithContext(ctx context.Context) (string, error)
	IsRunningWithContext(ctx context.Context) (bool, error)
	TerminateWithContext(ctx context.Context) error
	KillWithContext(ctx context.Context) error
}

// Options wires a Controller. Zero values select the real platform, exec and
// gopsutil.
type Options struct {
	Platform Platform
	// Run executes a helper program such as osascript.
	Run func(ctx context.Context, name string, args ...string) error
	// FindProcess opens a process handle by PID.
	FindProcess func(ctx context.Context, pid int32) (Proc, error)
	// Grace is how long Kill waits after SIGTERM before SIGKILL.
	Grace time.Duration
	// PollInterval is how often Kill checks whether the process exited.
	PollInterval time.Duration
}

// Controller focuses and stops the processes behind live sessions.
type Controller struct {
	opts Options
}

func New(opts Options) *Controller {
	if opts.Platform == "" {
		opts.Platform = Detect()
	}
	if opts.Run == nil {
		opts.Run = runCommand
	}
	if opts.FindProcess == nil {
		opts.FindProcess = func(ctx context.Context, pid int32) (Proc, error) {
			return process.NewProcessWithContext(ctx, pid)
		}
	}
	if opts.Grace <= 0 {
		opts.Grace = 3 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	return &Controller{opts: opts}
}

// Platform returns the platform the controller acts on.
func (c *Controller) Platform() Platform { return c.opts.Platform }

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// windowsActivate activates the window owning the terminal PID, falling back
// to the Copilot PID. Only integers are substituted into it.
const windowsActivate = `$s = New-Object -ComObject WScript.Shell; ` +
	`if (-not $s.AppActivate(%d)) { if (-not $s.AppActivate(%d)) { exit 1 } }`

// Focus brings the session's terminal window to the front.
func (c *Controller) Focus(ctx context.Context, p procscan.TrackedProcess) error {
	switch c.opts.Platform {
	case PlatformMacOS:
		return c.focusMac(ctx, p)
	case PlatformWindows:
		return c.focusWindows(ctx, p)
	}
	return ErrUnsupported
}

func (c *Controller) focusMac(ctx context.Context, p procscan.TrackedProcess) error {
	if p.TerminalName == "" {
		return fmt.Errorf("%w: no terminal found for session %s", ErrUnsupported, p.SessionID)
	}
	app, ok := AppName(p.TerminalName)
	if !ok {
		return fmt.Errorf("%w: unknown terminal %q", ErrUnsupported, p.TerminalName)
	}
	script := fmt.Sprintf("tell application %q to activate", app)
	return c.runFocus(ctx, p, app, "osascript", "-e", script)
}

func (c *Controller) focusWindows(ctx context.Context, p procscan.TrackedProcess) error {
	if p.PID <= 0 {
		return ErrSessionNotRunning
	}
	target := p.TerminalPID
	if target <= 0 {
		target = p.PID
	}
	script := fmt.Sprintf(windowsActivate, target, p.PID)
	return c.runFocus(ctx, p, p.TerminalName, "powershell.exe", "-NoProfile", "-NonInteractive", "-Command", script)
}

func (c *Controller) runFocus(ctx context.Context, p procscan.TrackedProcess, app, name string, args ...string) error {
	if err := c.opts.Run(ctx, name, args...); err != nil {
		winLog.Warn("focus_failed",
			slog.String("session", p.SessionID),
			slog.String("app", app),
			slog.String("error", err.Error()))
		return fmt.Errorf("focus %s: %w", app, err)
	}
	winLog.Info("focused", slog.String("session", p.SessionID), slog.String("app", app))
	return nil
}

// Kill stops the session's CLI process: SIGTERM, then SIGKILL if it is still
// running after the grace period. The PID must still run the same command
// line the scanner saw.
func (c *Controller) Kill(ctx context.Context, p procscan.TrackedProcess) error {
	if p.PID <= 0 {
		return ErrSessionNotRunning
	}
	proc, err := c.opts.FindProcess(ctx, p.PID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionNotRunning, err)
	}
	if p.CommandLine != "" {
		cmdline, err := proc.CmdlineWithContext(ctx)
		if err != nil || cmdline != p.CommandLine {
			return ErrSessionNotRunning
		}
	}

	if err := proc.TerminateWithContext(ctx); err != nil {
		return fmt.Errorf("terminate pid %d: %w", p.PID, err)
	}
	winLog.Info("terminate_sent", slog.String("session", p.SessionID), slog.Int("pid", int(p.PID)))

	deadline := time.NewTimer(c.opts.Grace)
	defer deadline.Stop()
	tick := time.NewTicker(c.opts.PollInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			running, err := proc.IsRunningWithContext(ctx)
			if err == nil && !running {
				return nil
			}
		case <-deadline.C:
			winLog.Warn("kill_escalated", slog.String("session", p.SessionID), slog.Int("pid", int(p.PID)))
			if err := proc.KillWithContext(ctx); err != nil {
				return fmt.Errorf("kill pid %d: %w", p.PID, err)
			}
			return nil
		}
	}
}
