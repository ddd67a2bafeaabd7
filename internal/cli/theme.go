package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	iconQuill  = "✒️"
	iconTrophy = "🏆"
	iconClock  = "⏱️"
	iconError  = "🧨"
)

var (
	cPrimary = lipgloss.Color("63")
	cAccent  = lipgloss.Color("205")
	cGood    = lipgloss.Color("42")
	cBad     = lipgloss.Color("196")
	cMuted   = lipgloss.Color("244")
	cGold    = lipgloss.Color("220")
)

var (
	title = lipgloss.NewStyle().Bold(true).Foreground(cAccent)
	h2    = lipgloss.NewStyle().Bold(true).Foreground(cPrimary)
	key   = lipgloss.NewStyle().Bold(true).Foreground(cPrimary)
	muted = lipgloss.NewStyle().Foreground(cMuted)
	good  = lipgloss.NewStyle().Bold(true).Foreground(cGood)
	bad   = lipgloss.NewStyle().Bold(true).Foreground(cBad)
	gold  = lipgloss.NewStyle().Bold(true).Foreground(cGold)
)

func heading(icon, text string) string {
	if icon = strings.TrimSpace(icon); icon != "" {
		icon += " "
	}
	return title.Render(icon + text)
}

func labelValue(label string, value any) string {
	return fmt.Sprintf("%s %v", key.Render(label+":"), value)
}

// meter draws a bar of width cells for current out of total
func meter(current, total, width int) string {
	if total <= 0 {
		return gold.Render(strings.Repeat("█", width))
	}
	filled := current * width / total
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return good.Render(strings.Repeat("█", filled)) + muted.Render(strings.Repeat("░", width-filled))
}
