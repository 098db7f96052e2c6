package report

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SupportsColor reports whether colored output should be written to w.
// NO_COLOR disables colors and FORCE_COLOR enables them even when w is not
// a terminal.
func SupportsColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if !IsTerminal(w) {
		return false
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// SchemeFor returns the color scheme to use for w.
func SchemeFor(w io.Writer, noColor bool) *ColorScheme {
	if noColor || !SupportsColor(w) {
		return NoColorScheme()
	}
	return DefaultColorScheme().EnableColor()
}
