package main

import (
	"encoding/json"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/waypoint/internal/recovery"
)

// styles render against the command's output writer, so piped or captured
// output stays free of escape codes.
type styles struct {
	header     lipgloss.Style
	label      lipgloss.Style
	dim        lipgloss.Style
	good       lipgloss.Style
	partial    lipgloss.Style
	incomplete lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		header: r.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true),
		label: r.NewStyle().
			Foreground(lipgloss.Color("45")),
		dim: r.NewStyle().
			Foreground(lipgloss.Color("245")),
		good: r.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true),
		partial: r.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true),
		incomplete: r.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),
	}
}

// band renders a completeness band in its color.
func (s styles) band(b recovery.Band) string {
	switch b {
	case recovery.BandGood:
		return s.good.Render(string(b))
	case recovery.BandPartial:
		return s.partial.Render(string(b))
	default:
		return s.incomplete.Render(string(b))
	}
}

// mark renders a present/missing indicator.
func (s styles) mark(ok bool) string {
	if ok {
		return s.good.Render("✓")
	}
	return s.incomplete.Render("✗")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
