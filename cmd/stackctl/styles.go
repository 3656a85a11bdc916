package main

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	warnStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E5A50A"))
	positiveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#E01B24"))
	negativeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#3584E4"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle     = lipgloss.NewStyle().Padding(0, 1)
)

// newTable returns a bordered table with the given headers.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// signed colors a contribution by direction: positive pushes the score up.
func signed(v float64, text string) string {
	if v > 0 {
		return positiveStyle.Render(text)
	}
	if v < 0 {
		return negativeStyle.Render(text)
	}
	return text
}
