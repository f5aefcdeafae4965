package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Table renders small static tables for CLI output.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// NewTable creates a table with the given title and column headers.
func NewTable(title string, headers ...string) *Table {
	return &Table{Title: title, Headers: headers}
}

// AddRow appends a row. Short rows render with empty trailing cells.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// View renders the table as a string ending in a newline.
func (t *Table) View(styles Styles) string {
	if len(t.Headers) == 0 {
		return ""
	}

	// Content widths per column; cells beyond the header count are dropped.
	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	// Style.Width is the total width including padding.
	header := styles.Bold.Padding(0, 1)
	body := styles.Body.Padding(0, 1)

	var b strings.Builder
	if t.Title != "" {
		b.WriteString(styles.Title.Render(t.Title))
		b.WriteString("\n")
	}

	for i, h := range t.Headers {
		b.WriteString(header.Width(widths[i] + 2).Render(h))
	}
	b.WriteString("\n")

	total := 0
	for _, w := range widths {
		total += w + 2
	}
	b.WriteString(styles.Muted.Render(strings.Repeat("-", total)))
	b.WriteString("\n")

	for _, row := range t.Rows {
		for i := range t.Headers {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			b.WriteString(body.Width(widths[i] + 2).Render(cell))
		}
		b.WriteString("\n")
	}

	return b.String()
}
