package tui

import (
	"fmt"
	"strings"
)

// Run starts the static TUI for the given view type.
// Returns an error if the view type doesn't support TUI.
func Run(viewType string, data any) error {
	if !IsTUISupported(viewType) {
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}

	if strings.HasPrefix(viewType, "groups_") {
		return RunGroupsTUI(viewType, data)
	}

	return fmt.Errorf("unknown view type: %s", viewType)
}

// IsTUISupported returns true if the view type supports static TUI
// mode. The live watch view is started through NewWatchProgram instead.
func IsTUISupported(viewType string) bool {
	return strings.HasPrefix(viewType, "groups_")
}

// SupportedTUIViews returns the view types that support static TUI.
func SupportedTUIViews() []string {
	return []string{
		"groups_run",
	}
}
