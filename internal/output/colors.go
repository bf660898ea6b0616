package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for different elements in the output
type ColorScheme struct {
	Rule      *color.Color
	Title     *color.Color
	Label     *color.Color
	Value     *color.Color
	Phase     *color.Color
	Dim       *color.Color
	Pass      *color.Color
	Warn      *color.Color
	Fail      *color.Color
	Highlight *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Rule:      color.New(color.FgCyan),
		Title:     color.New(color.Bold),
		Label:     color.New(color.Bold),
		Value:     color.New(color.FgCyan),
		Phase:     color.New(color.FgMagenta),
		Dim:       color.New(color.Faint),
		Pass:      color.New(color.FgGreen),
		Warn:      color.New(color.FgYellow),
		Fail:      color.New(color.FgRed, color.Bold),
		Highlight: color.New(color.FgBlue),
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

// enabled forces colors on regardless of color.NoColor, which fatih/color
// derives from stdout only.
func (s *ColorScheme) enabled() *ColorScheme {
	for _, c := range s.all() {
		c.EnableColor()
	}
	return s
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Rule, s.Title, s.Label, s.Value, s.Phase, s.Dim, s.Pass, s.Warn, s.Fail, s.Highlight}
}

// PassIcon returns a checkmark symbol with appropriate color
func (s *ColorScheme) PassIcon() string {
	return s.Pass.Sprint("✓")
}

// FailIcon returns an X symbol with appropriate color
func (s *ColorScheme) FailIcon() string {
	return s.Fail.Sprint("✗")
}

// rateColor picks a color for an error-like rate: green under 1%, yellow
// under 5%, red above.
func (s *ColorScheme) rateColor(rate float64) *color.Color {
	switch {
	case rate > 0.05:
		return s.Fail
	case rate > 0.01:
		return s.Warn
	default:
		return s.Pass
	}
}
