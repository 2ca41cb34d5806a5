package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/history"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/logging"
)

func handleHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	search := fs.String("search", "", "Filter by text or fuzzy match")
	limit := fs.Int("limit", 30, "Maximum sessions to show (0 for all)")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	flat := fs.Bool("flat", false, "Do not group by project")

	fs.Usage = func() {
		fmt.Println("Usage: copilot-deck history [options] [query]")
		fmt.Println()
		fmt.Println("List past sessions from the Copilot CLI session store, newest first.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  copilot-deck history")
		fmt.Println("  copilot-deck history rocket --flat")
		fmt.Println("  copilot-deck history --limit 0 --json")
	}
	_ = fs.Parse(normalizeArgs(fs, args))

	query := *search
	if query == "" && fs.NArg() > 0 {
		query = strings.Join(fs.Args(), " ")
	}

	cfg := loadConfig()
	initLogging(cfg)
	defer logging.Shutdown()

	store, err := history.Open(cfg.Paths.HistoryDB)
	if errors.Is(err, history.ErrNoDatabase) {
		fmt.Fprintf(os.Stderr, "No session store at %s yet.\n", cfg.Paths.HistoryDB)
		return
	}
	if err != nil {
		fatalf("%v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sessions, err := store.ListSessions(ctx, 0)
	if err != nil {
		fatalf("%v", err)
	}

	results := history.Search(sessions, query)
	if *limit > 0 && len(results) > *limit {
		results = results[:*limit]
	}
	matched := make([]history.Session, len(results))
	for i, r := range results {
		matched[i] = r.Session
	}

	if *jsonOutput {
		if err := writeJSON(os.Stdout, matched); err != nil {
			fatalf("%v", err)
		}
		return
	}

	rules := history.GroupRules{SkipDirs: cfg.Grouping.SkipDirs, Mappings: cfg.Grouping.Mappings}
	printHistory(os.Stdout, matched, rules, !*flat && query == "", detectPalette(), terminalWidth(), time.Now())
}

// printHistory writes sessions as a list, grouped by project when grouped is
// set. Search results stay flat so their ranking is kept.
func printHistory(w io.Writer, sessions []history.Session, rules history.GroupRules, grouped bool, pal palette, width int, now time.Time) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, pal.faint().Render("No sessions found."))
		return
	}
	if !grouped {
		for _, s := range sessions {
			fmt.Fprintln(w, historyLine(s, width, now))
		}
		return
	}
	for _, g := range history.GroupSessions(sessions, rules) {
		fmt.Fprintf(w, "%s %s\n", pal.header().Render(g.Name), pal.faint().Render(fmt.Sprintf("(%d)", len(g.Sessions))))
		for _, s := range g.Sessions {
			fmt.Fprintln(w, "  "+historyLine(s, width-2, now))
		}
		fmt.Fprintln(w)
	}
}

const colAgo = 15

func historyLine(s history.Session, width int, now time.Time) string {
	summary := s.Summary
	if summary == "" {
		summary = s.FirstMessage
	}
	if summary == "" {
		summary = "(no summary)"
	}
	if s.Branch != "" {
		summary += " [" + s.Branch + "]"
	}
	ago := s.TimeAgo(now)
	if ago == "" {
		ago = "-"
	}
	rest := width - colSession - colAgo - 2
	if rest < colMinTail {
		rest = colMinTail
	}
	return strings.Join([]string{
		runewidth.FillRight(shortID(s.ID), colSession),
		runewidth.FillRight(truncateCell(ago, colAgo), colAgo),
		truncateCell(summary, rest),
	}, " ")
}
