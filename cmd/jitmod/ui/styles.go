// Package ui provides the terminal styling for jitmod CLI output.
package ui

import "github.com/charmbracelet/lipgloss"

// Semantic colors shared by all commands.
var (
	Accent = lipgloss.Color("#7aa2f7") // blue
	Good   = lipgloss.Color("#9ece6a") // green
	Bad    = lipgloss.Color("#f7768e") // red
	Subtle = lipgloss.Color("240")     // gray
)

// Styles holds the style set used when rendering tables and status lines.
type Styles struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Body    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
}

// DefaultStyles returns the standard jitmod CLI styles.
func DefaultStyles() Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(Accent),
		Bold:    lipgloss.NewStyle().Bold(true),
		Body:    lipgloss.NewStyle(),
		Muted:   lipgloss.NewStyle().Foreground(Subtle),
		Success: lipgloss.NewStyle().Foreground(Good),
		Error:   lipgloss.NewStyle().Foreground(Bad),
	}
}
