package tui

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

// styles holds the lipgloss styles of one output. The renderer detects the
// color profile of the writer, so a pipe or a buffer gets plain text.
type styles struct {
	system        lipgloss.Style
	user          lipgloss.Style
	errorText     lipgloss.Style
	toolBorder    lipgloss.Style
	toolName      lipgloss.Style
	toolParam     lipgloss.Style
	success       lipgloss.Style
	confirmBorder lipgloss.Style
	confirmHint   lipgloss.Style
	dangerBorder  lipgloss.Style
	dangerHint    lipgloss.Style
}

func newStyles(out io.Writer) styles {
	r := lipgloss.NewRenderer(out)
	return styles{
		system: r.NewStyle().
			Foreground(lipgloss.Color("245")),
		user: r.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true),
		errorText: r.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),
		toolBorder: r.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("7")).
			PaddingLeft(1),
		toolName: r.NewStyle().
			Bold(true),
		toolParam: r.NewStyle().
			Foreground(lipgloss.Color("8")), // light gray
		success: r.NewStyle().
			Foreground(lipgloss.Color("2")), // green
		confirmBorder: r.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("3")). // yellow left line
			PaddingLeft(1),
		confirmHint: r.NewStyle().
			Foreground(lipgloss.Color("3")),
		dangerBorder: r.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("9")). // red left line
			PaddingLeft(1),
		dangerHint: r.NewStyle().
			Foreground(lipgloss.Color("9")),
	}
}
