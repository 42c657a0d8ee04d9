package statusview

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/jaspreet-dot-casa/cinit/pkg/status"
)

// Common styles used by the status output.
var (
	// State colors
	StateDoneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("40")).
			Bold(true)

	StateRunningStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("39"))

	StateDegradedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("214"))

	StateErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	StateIdleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	// Text styles
	BoldStyle = lipgloss.NewStyle().Bold(true)

	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(lipgloss.Color("240"))

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))
)

// StateColor returns the style for a boot or stage state.
func StateColor(s status.State) lipgloss.Style {
	switch s {
	case status.StateDone:
		return StateDoneStyle
	case status.StateRunning:
		return StateRunningStyle
	case status.StateDegraded:
		return StateDegradedStyle
	case status.StateError:
		return StateErrorStyle
	default:
		return StateIdleStyle
	}
}

// RenderState renders a state with its color.
func RenderState(s status.State) string {
	return StateColor(s).Render(string(s))
}
