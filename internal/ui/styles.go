package ui

import (
	"charm.land/lipgloss/v2"
)

// Styles are the lipgloss styles the form renders with.
type Styles struct {
	Label       lipgloss.Style
	LabelActive lipgloss.Style
	LabelMuted  lipgloss.Style
	Row         lipgloss.Style
	RowSelected lipgloss.Style
	Hint        lipgloss.Style
	Status      lipgloss.Style
	StatusError lipgloss.Style
	Warning     lipgloss.Style
	Committed   lipgloss.Style
	Help        lipgloss.Style
}

// DefaultStyles returns the colored palette, or plain styles when noColor is
// set. Selection stays visible without color through reverse video.
func DefaultStyles(noColor bool) Styles {
	if noColor {
		plain := lipgloss.NewStyle()
		return Styles{
			Label:       plain,
			LabelActive: plain.Bold(true),
			LabelMuted:  plain,
			Row:         plain,
			RowSelected: plain.Reverse(true),
			Hint:        plain,
			Status:      plain,
			StatusError: plain,
			Warning:     plain,
			Committed:   plain,
			Help:        plain,
		}
	}
	return Styles{
		Label:       lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		LabelActive: lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
		LabelMuted:  lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		Row:         lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		RowSelected: lipgloss.NewStyle().Foreground(lipgloss.Color("#000000")).Background(lipgloss.Color("#87d7ff")),
		Hint:        lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true),
		Status:      lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		StatusError: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		Warning:     lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true),
		Committed:   lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Help:        lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}
