package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Makepad-fr/tada/internal/model"
)

// ProgressBar renders a Unicode progress bar with percentage.
func ProgressBar(done, total, width int) string {
	if total <= 0 {
		total = 1
	}
	if width < 5 {
		width = 5
	}
	filled := int(float64(done) / float64(total) * float64(width))
	if filled > width {
		filled = width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	pct := int(float64(done) / float64(total) * 100)
	return fmt.Sprintf("%s %3d%%", bar, pct)
}

// Panel draws a framed box using the current theme.
func Panel(w io.Writer, lines []string) {
	t := Current()
	maxw := 0
	for _, ln := range lines {
		if vis := lipgloss.Width(ln); vis > maxw {
			maxw = vis
		}
	}
	fmt.Fprintln(w, t.CornerTL+strings.Repeat(t.H, maxw+2)+t.CornerTR)
	for _, ln := range lines {
		pad := strings.Repeat(" ", maxw-lipgloss.Width(ln))
		fmt.Fprintln(w, t.V+" "+ln+pad+" "+t.V)
	}
	fmt.Fprintln(w, t.CornerBL+strings.Repeat(t.H, maxw+2)+t.CornerBR)
}

// Header is the counts line shown above a todo list.
func Header(todos []model.Todo) string {
	d, p := model.Stats(todos)
	t := Current()
	return fmt.Sprintf("%s  %s %d  %s %d  %s %d",
		C(t.Title, "Todos"),
		C(t.Success, t.SymDone), d,
		C(t.Pending, t.SymPending), p,
		C(t.Accent, "Total"), len(todos),
	)
}

// TodoLines renders todos numbered from 1 in list order. With group set,
// pending and done todos are listed under separate headings, keeping their
// original numbers.
func TodoLines(todos []model.Todo, group bool) []string {
	if len(todos) == 0 {
		return []string{C(current.Muted, "no todos")}
	}
	if !group {
		out := make([]string, 0, len(todos))
		for i, td := range todos {
			out = append(out, todoLine(i+1, td))
		}
		return out
	}

	var pending, done []string
	for i, td := range todos {
		if td.IsCompleted {
			done = append(done, todoLine(i+1, td))
		} else {
			pending = append(pending, todoLine(i+1, td))
		}
	}
	section := func(name string, lines []string) []string {
		out := []string{C(current.Accent, name)}
		if len(lines) == 0 {
			return append(out, C(current.Muted, "(none)"))
		}
		return append(out, lines...)
	}
	lines := section("Pending", pending)
	lines = append(lines, "")
	return append(lines, section("Done", done)...)
}

func todoLine(n int, td model.Todo) string {
	box, color := current.BoxUnchecked, current.Muted
	if td.IsCompleted {
		box, color = current.BoxChecked, current.Success
	}
	title := truncate(td.Title, 80)
	if td.Description != "" {
		title += C(current.Muted, "  "+truncate(td.Description, 40))
	}
	return fmt.Sprintf("%s %s %s", C(dim, fmt.Sprintf("%2d.", n)), C(color, box), title)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
