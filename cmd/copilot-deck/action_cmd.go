package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/logging"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/window"
)

func handleFocus(args []string) {
	fs := flag.NewFlagSet("focus", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Println("Usage: copilot-deck focus <session-id>")
		fmt.Println()
		fmt.Println("Bring the terminal window hosting a live session to the front (macOS, Windows).")
	}
	_ = fs.Parse(normalizeArgs(fs, args))
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	runAction("focus", fs.Arg(0), false)
}

func handleKill(args []string) {
	fs := flag.NewFlagSet("kill", flag.ExitOnError)
	yes := fs.Bool("y", false, "Do not ask for confirmation")
	fs.Usage = func() {
		fmt.Println("Usage: copilot-deck kill [options] <session-id>")
		fmt.Println()
		fmt.Println("Stop a live session's process: SIGTERM, then SIGKILL after a grace period.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	_ = fs.Parse(normalizeArgs(fs, args))
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	runAction("kill", fs.Arg(0), *yes)
}

func runAction(action, id string, yes bool) {
	cfg := loadConfig()
	initLogging(cfg)
	defer logging.Shutdown()

	d := newDeck(cfg, nil)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Tracker.RefreshTimeout.Duration+10*time.Second)
	defer cancel()

	entry, err := resolveSession(d.cache.Get(ctx), id)
	if err != nil {
		fatalf("%v", err)
	}

	ctrl := window.New(window.Options{})
	switch action {
	case "focus":
		err = ctrl.Focus(ctx, entry.TrackedProcess)
	case "kill":
		if !yes && term.IsTerminal(int(os.Stdin.Fd())) {
			prompt := fmt.Sprintf("Kill session %s (pid %d)? [y/N] ", shortID(entry.SessionID), entry.PID)
			if !confirm(os.Stdin, os.Stdout, prompt) {
				fmt.Println("Aborted.")
				return
			}
		}
		err = ctrl.Kill(ctx, entry.TrackedProcess)
	}

	logging.ForComponent(logging.CompCLI).Info("session_action",
		slog.String("action", action),
		slog.String("session_id", entry.SessionID),
		slog.Int("pid", int(entry.PID)),
		slog.Bool("ok", err == nil))

	switch {
	case errors.Is(err, window.ErrUnsupported):
		fatalf("%s is not supported on %s", action, ctrl.Platform())
	case err != nil:
		fatalf("%s %s: %v", action, shortID(entry.SessionID), err)
	}
	if action == "kill" {
		fmt.Printf("Stopped session %s (pid %d)\n", entry.SessionID, entry.PID)
	}
}

// confirm asks a yes/no question; anything but y or yes is no.
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
