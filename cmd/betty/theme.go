package main

import (
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

type theme struct {
	user      lipgloss.Style
	assistant lipgloss.Style
	muted     lipgloss.Style
	errText   lipgloss.Style
	title     lipgloss.Style
}

func newTheme() theme {
	return theme{
		user:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		assistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		muted:     lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		errText:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		title:     lipgloss.NewStyle().Bold(true),
	}
}

// plainTheme renders every label as its bare text.
func plainTheme() theme {
	s := lipgloss.NewStyle()
	return theme{user: s, assistant: s, muted: s, errText: s, title: s}
}

// markdownRenderer returns a glamour render func wrapped at width columns.
func markdownRenderer(width int) (func(string) (string, error), error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, err
	}
	return r.Render, nil
}
