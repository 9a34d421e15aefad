package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/koscakluka/reality-quest/core/game"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/reflow/wrap"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	phaseStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
	requestStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	effectStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	panelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("213")).Padding(0, 1)
)

func toneStyle(tone game.StatusTone) lipgloss.Style {
	switch tone {
	case game.ToneSuccess:
		return successStyle
	case game.ToneError:
		return errorStyle
	}
	return lipgloss.NewStyle()
}

// wrapText word-wraps and then hard-wraps, since Japanese lines rarely
// contain spaces to break on.
func wrapText(text string, width int) string {
	if width < 10 {
		width = 10
	}
	return wrap.String(wordwrap.String(text, width), width)
}
