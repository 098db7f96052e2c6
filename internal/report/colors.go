package report

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for different elements of the report
type ColorScheme struct {
	Title     *color.Color
	Section   *color.Color
	Label     *color.Color
	Value     *color.Color
	Dim       *color.Color
	Success   *color.Color
	Warn      *color.Color
	Error     *color.Color
	Highlight *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:     color.New(color.FgCyan, color.Bold),
		Section:   color.New(color.Bold),
		Label:     color.New(color.FgWhite),
		Value:     color.New(color.FgCyan),
		Dim:       color.New(color.Faint),
		Success:   color.New(color.FgGreen),
		Warn:      color.New(color.FgYellow),
		Error:     color.New(color.FgRed),
		Highlight: color.New(color.FgMagenta, color.Bold),
	}
}

// NoColorScheme returns a color scheme with all colors disabled
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.DisableColor()
	}
	return scheme
}

// EnableColor forces colors on regardless of the terminal.
func (s *ColorScheme) EnableColor() *ColorScheme {
	for _, c := range s.all() {
		c.EnableColor()
	}
	return s
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Title, s.Section, s.Label, s.Value, s.Dim, s.Success, s.Warn, s.Error, s.Highlight}
}

// rateColor picks a color for an error rate: green up to 1%, yellow up to
// 5%, red above.
func (s *ColorScheme) rateColor(rate float64) *color.Color {
	switch {
	case rate > 0.05:
		return s.Error
	case rate > 0.01:
		return s.Warn
	default:
		return s.Success
	}
}

// PassIcon returns a checkmark or a cross.
func (s *ColorScheme) PassIcon(passed bool) string {
	if passed {
		return s.Success.Sprint("✓")
	}
	return s.Error.Sprint("✗")
}
