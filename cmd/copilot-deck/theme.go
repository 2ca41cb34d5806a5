package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	dark "github.com/thiagokokada/dark-mode-go"

	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/classify"
	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/logging"
)

// palette holds the colors for one terminal background.
type palette struct {
	working  lipgloss.Color
	thinking lipgloss.Color
	waiting  lipgloss.Color
	idle     lipgloss.Color
	unknown  lipgloss.Color
	accent   lipgloss.Color
	dim      lipgloss.Color
}

var (
	darkPalette = palette{
		working:  lipgloss.Color("#9ece6a"),
		thinking: lipgloss.Color("#7aa2f7"),
		waiting:  lipgloss.Color("#e0af68"),
		idle:     lipgloss.Color("#787c99"),
		unknown:  lipgloss.Color("#565f89"),
		accent:   lipgloss.Color("#bb9af7"),
		dim:      lipgloss.Color("#565f89"),
	}
	lightPalette = palette{
		working:  lipgloss.Color("#33635c"),
		thinking: lipgloss.Color("#2e7de9"),
		waiting:  lipgloss.Color("#8c6c3e"),
		idle:     lipgloss.Color("#6172b0"),
		unknown:  lipgloss.Color("#848cb5"),
		accent:   lipgloss.Color("#9854f1"),
		dim:      lipgloss.Color("#848cb5"),
	}
)

// detectPalette follows COPILOT_DECK_THEME, then the OS appearance. Dark is
// the fallback when the OS cannot be asked.
func detectPalette() palette {
	switch strings.ToLower(os.Getenv("COPILOT_DECK_THEME")) {
	case "dark":
		return darkPalette
	case "light":
		return lightPalette
	}
	isDark, err := dark.IsDarkMode()
	if err != nil {
		logging.ForComponent(logging.CompCLI).Debug("dark_mode_detect_failed", slog.String("error", err.Error()))
		return darkPalette
	}
	if isDark {
		return darkPalette
	}
	return lightPalette
}

func (p palette) status(s classify.Status) lipgloss.Style {
	var c lipgloss.Color
	switch s {
	case classify.StatusWorking:
		c = p.working
	case classify.StatusThinking:
		c = p.thinking
	case classify.StatusWaiting:
		c = p.waiting
	case classify.StatusIdle:
		c = p.idle
	default:
		c = p.unknown
	}
	style := lipgloss.NewStyle().Foreground(c)
	if s == classify.StatusWaiting {
		style = style.Bold(true)
	}
	return style
}

func (p palette) header() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(p.accent).Bold(true)
}

func (p palette) faint() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(p.dim)
}

// statusIcon gives each status a glyph that survives a colorless terminal.
func statusIcon(s classify.Status) string {
	switch s {
	case classify.StatusWorking:
		return "●"
	case classify.StatusThinking:
		return "◐"
	case classify.StatusWaiting:
		return "◆"
	case classify.StatusIdle:
		return "○"
	default:
		return "·"
	}
}
