package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/config"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/logging"
)

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "0.4.0"

// initColorProfile picks the lipgloss color profile before any style renders.
// COPILOT_DECK_COLOR (truecolor, 256, 16, none) overrides detection.
func initColorProfile() {
	if colorEnv := os.Getenv("COPILOT_DECK_COLOR"); colorEnv != "" {
		switch strings.ToLower(colorEnv) {
		case "truecolor", "true", "24bit":
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		case "256", "ansi256":
			lipgloss.SetColorProfile(termenv.ANSI256)
			return
		case "16", "ansi", "basic":
			lipgloss.SetColorProfile(termenv.ANSI)
			return
		case "none", "off", "ascii":
			lipgloss.SetColorProfile(termenv.Ascii)
			return
		}
	}

	if os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}

	colorTerm := os.Getenv("COLORTERM")
	if colorTerm == "truecolor" || colorTerm == "24bit" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	// Windows Terminal and iTerm2 support TrueColor without advertising it.
	if os.Getenv("WT_SESSION") != "" || os.Getenv("ITERM_SESSION_ID") != "" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	term := os.Getenv("TERM")
	for _, t := range []string{"256color", "xterm-direct", "alacritty", "kitty", "wezterm", "ghostty"} {
		if strings.Contains(term, t) {
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		}
	}
	// Otherwise keep lipgloss's own detection.
}

func main() {
	initColorProfile()

	args := os.Args[1:]
	if len(args) == 0 {
		handleStatus(nil)
		return
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Printf("copilot-deck v%s\n", Version)
	case "help", "--help", "-h":
		printHelp()
	case "web", "serve":
		handleWeb(args[1:])
	case "status", "ls":
		handleStatus(args[1:])
	case "watch":
		handleWatch(args[1:])
	case "history":
		handleHistory(args[1:])
	case "focus":
		handleFocus(args[1:])
	case "kill":
		handleKill(args[1:])
	case "config":
		handleConfig(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", args[0])
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Printf("copilot-deck v%s - live dashboard for Copilot CLI sessions\n", Version)
	fmt.Println()
	fmt.Println("Usage: copilot-deck [command] [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  status, ls        Show live sessions and their state (default)")
	fmt.Println("  watch             Live-updating view of sessions in the terminal")
	fmt.Println("  web, serve        Start the web dashboard")
	fmt.Println("  history           List past sessions from the session store")
	fmt.Println("  focus <id>        Bring a session's terminal window to the front")
	fmt.Println("  kill <id>         Stop a live session's process")
	fmt.Println("  config <cmd>      Manage configuration (init, path, show)")
	fmt.Println("  version           Show version")
	fmt.Println("  help              Show this help")
	fmt.Println()
	fmt.Println("Session ids may be abbreviated to any unique prefix.")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  COPILOT_DECK_CONFIG   Config file path (default ~/.copilot/" + config.FileName + ")")
	fmt.Println("  COPILOT_DECK_COLOR    truecolor, 256, 16 or none")
	fmt.Println("  COPILOT_DECK_THEME    dark or light (default follows the OS)")
	fmt.Println("  COPILOT_DECK_DEBUG    Log at debug level")
}

// loadConfig returns the effective configuration or exits. A broken config
// file only warns; the defaults are used instead.
func loadConfig() *config.Config {
	loaded, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
	}
	cfg := *loaded
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration in %s:\n%v\n", config.Path(), err)
		os.Exit(1)
	}
	return &cfg
}

// initLogging routes structured logs to the rotated file under the log dir.
// Callers defer logging.Shutdown.
func initLogging(cfg *config.Config) {
	debug := os.Getenv("COPILOT_DECK_DEBUG") != ""
	level := cfg.Logs.Level
	if debug {
		level = "debug"
	}
	logging.Init(logging.Config{
		LogDir:       cfg.Paths.LogDir,
		Level:        level,
		Format:       cfg.Logs.Format,
		MaxSizeMB:    cfg.Logs.MaxSizeMB,
		MaxBackups:   cfg.Logs.MaxBackups,
		MaxAgeDays:   cfg.Logs.MaxAgeDays,
		Compress:     cfg.Logs.Compress,
		PprofEnabled: cfg.Logs.Pprof,
		Debug:        debug,
	})
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	logging.Shutdown()
	os.Exit(1)
}
