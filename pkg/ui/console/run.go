// Package console is an interactive terminal for driving a simulated
// browser host: it opens contexts, sends messages, edits storage and shows
// the live trace of everything the host delivers.
package console

import (
	"context"
	"fmt"

	"saladict/pkg/bus"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Run starts the console until the user quits or ctx is cancelled. Trace
// events are read from trace while the console runs.
func Run(ctx context.Context, session *Session, trace *bus.TraceBus, buffer int) error {
	events, unsubscribe := trace.Subscribe(ctx, buffer)
	defer unsubscribe()

	program := tea.NewProgram(newModel(ctx, session, events), tea.WithContext(ctx), tea.WithMouseCellMotion())
	if _, err := program.Run(); err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(renderGoodbyeBanner())
	return nil
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("28")).
		Padding(1, 2)

	return style.Render("🥗 Thanks for using Saladict")
}
