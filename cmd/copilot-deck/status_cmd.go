package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/classify"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/logging"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/tracker"
)

// statusOrder is the order counts are printed in.
var statusOrder = []classify.Status{
	classify.StatusWaiting,
	classify.StatusWorking,
	classify.StatusThinking,
	classify.StatusIdle,
	classify.StatusUnknown,
}

type statusJSON struct {
	Generation uint64                  `json:"generation"`
	ProducedAt time.Time               `json:"producedAt"`
	Counts     map[classify.Status]int `json:"counts"`
	Sessions   []tracker.SessionEntry  `json:"sessions"`
	LastError  string                  `json:"lastError,omitempty"`
}

func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	quiet := fs.Bool("q", false, "Quiet mode (counts only)")
	waiting := fs.Bool("waiting", false, "Only show sessions waiting for input")

	fs.Usage = func() {
		fmt.Println("Usage: copilot-deck status [options]")
		fmt.Println()
		fmt.Println("Show every live Copilot CLI session and what it is doing.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  copilot-deck status")
		fmt.Println("  copilot-deck status --waiting")
		fmt.Println("  copilot-deck status --json | jq '.counts'")
	}
	_ = fs.Parse(normalizeArgs(fs, args))

	cfg := loadConfig()
	initLogging(cfg)
	defer logging.Shutdown()

	d := newDeck(cfg, nil)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Tracker.RefreshTimeout.Duration+time.Second)
	defer cancel()
	snap := d.cache.Get(ctx)
	health := d.cache.Health()

	entries := snap.Sorted()
	if *waiting {
		entries = filterStatus(entries, classify.StatusWaiting)
	}

	switch {
	case *jsonOutput:
		out := statusJSON{
			Generation: snap.Generation,
			ProducedAt: snap.ProducedAt,
			Counts:     snap.Counts(),
			Sessions:   entries,
			LastError:  health.LastError,
		}
		if err := writeJSON(os.Stdout, out); err != nil {
			fatalf("%v", err)
		}
	case *quiet:
		fmt.Println(formatCounts(snap.Counts()))
	default:
		pal := detectPalette()
		fmt.Print(renderSessions(entries, pal, terminalWidth()))
		fmt.Println()
		fmt.Println(pal.faint().Render(formatCounts(snap.Counts())))
		if health.LastError != "" {
			fmt.Fprintf(os.Stderr, "Warning: last refresh failed: %s\n", health.LastError)
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

func filterStatus(entries []tracker.SessionEntry, status classify.Status) []tracker.SessionEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

// formatCounts renders non-zero counts, e.g. "1 waiting, 2 working".
func formatCounts(counts map[classify.Status]int) string {
	var parts []string
	for _, s := range statusOrder {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}
	if len(parts) == 0 {
		return "no live sessions"
	}
	return strings.Join(parts, ", ")
}

// terminalWidth is the stdout width, COLUMNS, or 100.
func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	if w, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && w > 0 {
		return w
	}
	return 100
}

const (
	colStatus   = 11
	colSession  = 8
	colPID      = 7
	colTerminal = 16
	colMinTail  = 12
)

// renderSessions lays out one row per session fitted to width columns.
func renderSessions(entries []tracker.SessionEntry, pal palette, width int) string {
	if len(entries) == 0 {
		return pal.faint().Render("No live Copilot CLI sessions.") + "\n"
	}

	detailWidth := width - colStatus - colSession - colPID - colTerminal - 4
	if detailWidth < colMinTail {
		detailWidth = colMinTail
	}

	var b strings.Builder
	header := strings.Join([]string{
		runewidth.FillRight("STATE", colStatus),
		runewidth.FillRight("SESSION", colSession),
		runewidth.FillRight("PID", colPID),
		runewidth.FillRight("TERMINAL", colTerminal),
		"DETAIL",
	}, " ")
	b.WriteString(pal.header().Render(header))
	b.WriteString("\n")

	for _, e := range entries {
		state := runewidth.FillRight(statusIcon(e.Status)+" "+string(e.Status), colStatus)
		terminal := e.TerminalName
		if terminal == "" {
			terminal = "-"
		}
		row := []string{
			pal.status(e.Status).Render(state),
			runewidth.FillRight(shortID(e.SessionID), colSession),
			runewidth.FillRight(strconv.Itoa(int(e.PID)), colPID),
			runewidth.FillRight(truncateCell(terminal, colTerminal), colTerminal),
			truncateCell(sessionDetail(e), detailWidth),
		}
		b.WriteString(strings.Join(row, " "))
		b.WriteString("\n")
	}
	return b.String()
}

// sessionDetail summarizes what a session is doing in one line.
func sessionDetail(e tracker.SessionEntry) string {
	var parts []string
	if e.AutoApprove {
		parts = append(parts, "[auto]")
	}
	switch {
	case e.WaitingPrompt != nil:
		parts = append(parts, "asks: "+e.WaitingPrompt.Text)
	case e.Intent != "":
		parts = append(parts, e.Intent)
	}
	if n := len(e.BackgroundTasks); n > 0 {
		parts = append(parts, fmt.Sprintf("+%d background", n))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%d tool calls", e.ToolCallCount)
	}
	return strings.Join(parts, " ")
}
