package console

import (
	"saladict/pkg/bus"

	"github.com/charmbracelet/lipgloss"
)

// theme groups reusable styles for console regions.
type theme struct {
	header     lipgloss.Style
	headerMeta lipgloss.Style
	divider    lipgloss.Style
	timestamp  lipgloss.Style
	events     map[bus.EventType]lipgloss.Style
	command    lipgloss.Style
	result     lipgloss.Style
	failure    lipgloss.Style
	status     lipgloss.Style
	statusBusy lipgloss.Style
	statusErr  lipgloss.Style
	hint       lipgloss.Style
	inputLabel lipgloss.Style
	input      lipgloss.Style
	viewport   lipgloss.Style
}

func defaultTheme() theme {
	badge := func(bg string) lipgloss.Style {
		return lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("16")).
			Background(lipgloss.Color(bg)).
			Padding(0, 1)
	}

	return theme{
		header: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("28")),
		headerMeta: lipgloss.NewStyle().
			Foreground(lipgloss.Color("151")),
		divider: lipgloss.NewStyle().
			Foreground(lipgloss.Color("65")),
		timestamp: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")),
		events: map[bus.EventType]lipgloss.Style{
			bus.EventMessageSent:      badge("214"),
			bus.EventMessageDelivered: badge("44"),
			bus.EventMessageResponded: badge("114"),
			bus.EventMessageDropped:   badge("203"),
			bus.EventStorageChanged:   badge("141"),
			bus.EventContextOpened:    badge("109"),
			bus.EventContextClosed:    badge("245"),
		},
		command: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")),
		result: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			PaddingLeft(2),
		failure: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			PaddingLeft(2),
		status: lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")).
			Bold(true),
		statusBusy: lipgloss.NewStyle().
			Foreground(lipgloss.Color("222")).
			Bold(true),
		statusErr: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Bold(true),
		hint: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")),
		inputLabel: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")),
		input: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("71")).
			Background(lipgloss.Color("236")).
			Padding(0, 1),
		viewport: lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("65")).
			Background(lipgloss.Color("233")).
			Padding(0, 1),
	}
}

func (t theme) event(kind bus.EventType) lipgloss.Style {
	if style, ok := t.events[kind]; ok {
		return style
	}
	return t.hint
}
