package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/classify"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/logging"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/tracker"
)

// snapshotGetter is the part of the cache the watch view reads.
type snapshotGetter interface {
	Get(ctx context.Context) *tracker.Snapshot
}

type snapshotMsg struct{ snap *tracker.Snapshot }

type watchTickMsg time.Time

// watchModel redraws the session table every interval.
type watchModel struct {
	source   snapshotGetter
	interval time.Duration
	timeout  time.Duration
	pal      palette
	spinner  spinner.Model

	snap        *tracker.Snapshot
	width       int
	fetching    bool
	waitingOnly bool
}

func newWatchModel(source snapshotGetter, interval, timeout time.Duration, pal palette) watchModel {
	sp := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(pal.header()),
	)
	return watchModel{
		source:   source,
		interval: interval,
		timeout:  timeout,
		pal:      pal,
		spinner:  sp,
		width:    100,
		fetching: true,
	}
}

func (m watchModel) fetch() tea.Cmd {
	source, timeout := m.source, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return snapshotMsg{snap: source.Get(ctx)}
	}
}

func (m watchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return watchTickMsg(t) })
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch())
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			if !m.fetching {
				m.fetching = true
				return m, m.fetch()
			}
		case "w":
			m.waitingOnly = !m.waitingOnly
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case snapshotMsg:
		m.snap = msg.snap
		m.fetching = false
		return m, m.tick()

	case watchTickMsg:
		if m.fetching {
			return m, nil
		}
		m.fetching = true
		return m, m.fetch()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder

	title := m.pal.header().Render("Copilot sessions")
	if m.fetching {
		title += " " + m.spinner.View()
	}
	b.WriteString(title)
	b.WriteString("\n\n")

	if m.snap == nil {
		b.WriteString(m.pal.faint().Render("Scanning processes..."))
		b.WriteString("\n")
		return b.String()
	}

	entries := m.snap.Sorted()
	if m.waitingOnly {
		entries = filterStatus(entries, classify.StatusWaiting)
	}
	b.WriteString(renderSessions(entries, m.pal, m.width))
	b.WriteString("\n")

	footer := fmt.Sprintf("%s · gen %d · %s", formatCounts(m.snap.Counts()), m.snap.Generation,
		m.snap.ProducedAt.Format("15:04:05"))
	b.WriteString(m.pal.faint().Render(footer))
	b.WriteString("\n")
	b.WriteString(m.pal.faint().Render("q quit · r refresh · w waiting only"))
	b.WriteString("\n")
	return b.String()
}

func handleWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	interval := fs.Duration("interval", 0, "Redraw interval (default tracker.poll_interval)")

	fs.Usage = func() {
		fmt.Println("Usage: copilot-deck watch [options]")
		fmt.Println()
		fmt.Println("Continuously show live sessions. Press q to quit.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	_ = fs.Parse(normalizeArgs(fs, args))

	cfg := loadConfig()
	initLogging(cfg)
	defer logging.Shutdown()

	every := *interval
	if every <= 0 {
		every = cfg.Tracker.PollInterval.Duration
	}

	d := newDeck(cfg, nil)
	model := newWatchModel(d.cache, every, cfg.Tracker.RefreshTimeout.Duration+time.Second, detectPalette())
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logging.Shutdown()
		os.Exit(1)
	}
}
