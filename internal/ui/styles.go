package ui

import (
	"fmt"

	"github.com/alfredjeanlab/anchord/internal/model"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent  = 74  // blue
	colorMuted   = 245 // medium gray
	colorOK      = 114 // green
	colorWarn    = 215 // orange
	colorFailure = 203 // red
)

var noColor bool

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", colorAccent, s)
}

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", colorMuted, s)
}

// RenderState returns a receipt state colored by disposition: green for
// CONFIRMED, red for FAILED, orange for ABANDONED, gray for in-flight states.
func RenderState(state model.State) string {
	s := string(state)
	if noColor {
		return s
	}
	var color int
	switch state {
	case model.StateConfirmed:
		color = colorOK
	case model.StateFailed:
		color = colorFailure
	case model.StateAbandoned:
		color = colorWarn
	default:
		color = colorMuted
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", color, s)
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
