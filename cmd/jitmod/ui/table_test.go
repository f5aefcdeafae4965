package ui

import (
	"strings"
	"testing"
)

func TestTableView(t *testing.T) {
	tbl := NewTable("Cache", "Metric", "Value")
	tbl.AddRow("Ready", "12")
	tbl.AddRow("Pending", "1")

	out := tbl.View(DefaultStyles())

	for _, want := range []string{"Cache", "Metric", "Value", "Ready", "12", "Pending"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}

	// Title, header, divider, two rows.
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 5 {
		t.Errorf("expected 5 lines, got %d:\n%s", len(lines), out)
	}
}

func TestTableNoTitle(t *testing.T) {
	tbl := NewTable("", "A")
	tbl.AddRow("x")

	lines := strings.Split(strings.TrimRight(tbl.View(DefaultStyles()), "\n"), "\n")
	if len(lines) != 3 {
		t.Errorf("expected 3 lines without a title, got %d", len(lines))
	}
}

func TestTableRaggedRows(t *testing.T) {
	tbl := NewTable("T", "A", "B", "C")
	tbl.AddRow("only")
	tbl.AddRow("one", "two", "three", "extra-dropped")

	out := tbl.View(DefaultStyles())
	if !strings.Contains(out, "only") || !strings.Contains(out, "three") {
		t.Errorf("ragged rows rendered wrong:\n%s", out)
	}
	if strings.Contains(out, "extra-dropped") {
		t.Errorf("cells beyond the header count should be dropped:\n%s", out)
	}
}

func TestTableNoHeaders(t *testing.T) {
	tbl := NewTable("T")
	if out := tbl.View(DefaultStyles()); out != "" {
		t.Errorf("headerless table should render empty, got %q", out)
	}
}
