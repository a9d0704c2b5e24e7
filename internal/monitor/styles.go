package monitor

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/vibeflow/internal/orchestrator"
)

var (
	primaryColor = lipgloss.Color("#A78BFA")
	greenColor   = lipgloss.Color("#10B981")
	amberColor   = lipgloss.Color("#F59E0B")
	redColor     = lipgloss.Color("#F87171")
	blueColor    = lipgloss.Color("#60A5FA")
	mutedColor   = lipgloss.Color("#9CA3AF")
	surfaceColor = lipgloss.Color("#1F2937")
	textColor    = lipgloss.Color("#F9FAFB")
	borderColor  = lipgloss.Color("#6B7280")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)

	pausedBadge = lipgloss.NewStyle().
			Bold(true).
			Foreground(textColor).
			Background(amberColor).
			Padding(0, 1)

	outputBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 1)

	statusBar = lipgloss.NewStyle().
			Foreground(textColor).
			Background(surfaceColor).
			Padding(0, 1)
)

var statusColors = map[orchestrator.Status]lipgloss.Color{
	orchestrator.StatusPending:   mutedColor,
	orchestrator.StatusRunning:   blueColor,
	orchestrator.StatusSucceeded: greenColor,
	orchestrator.StatusHealed:    amberColor,
	orchestrator.StatusFailed:    redColor,
}

// statusStyle colours a task status for the header counts.
func statusStyle(s orchestrator.Status) lipgloss.Style {
	c, ok := statusColors[s]
	if !ok {
		c = mutedColor
	}
	return lipgloss.NewStyle().Foreground(c).Bold(s.IsTerminal())
}

func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(borderColor).
		BorderBottom(true).
		Bold(true).
		Foreground(primaryColor)
	s.Selected = s.Selected.
		Foreground(textColor).
		Background(primaryColor).
		Bold(true)
	return s
}
