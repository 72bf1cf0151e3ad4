// Package tui provides Bubble Tea components for the folio CLI.
//
// Two views exist: a static group-layout view shown after `run --tui`,
// and a live session view driven by published updates during `watch
// --tui`. Both render the same payloads the non-TUI renderer receives;
// there is no TUI-exclusive data.
package tui

import "github.com/charmbracelet/lipgloss"

// Color palette.
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	successColor   = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	highlightColor = lipgloss.Color("#3B82F6") // Blue
)

// Styles for TUI components.
var (
	// TitleStyle for headers and titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	// LabelStyle for field labels.
	LabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(14)

	// ValueStyle for field values.
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	// SuccessStyle for done groups.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(successColor)

	// WarningStyle for pending and executing groups.
	WarningStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	// ErrorStyle for groups with error output.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	// MutedStyle for stale or invisible content.
	MutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	// BoxStyle for bordered containers.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(1, 2)

	// HelpStyle for help text.
	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)

	// GutterStyle for line numbers.
	GutterStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(5).
			Align(lipgloss.Right)

	// HeaderStyle for the watch view status bar.
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(highlightColor)
)

// GroupStyle returns the style for a group marker based on its
// aggregate state and flags. Errors dominate, then execution state.
func GroupStyle(state string, hasError, stale bool) lipgloss.Style {
	switch {
	case hasError:
		return ErrorStyle
	case stale:
		return MutedStyle
	case state == "executing" || state == "pending":
		return WarningStyle
	case state == "done":
		return SuccessStyle
	default:
		return ValueStyle
	}
}
