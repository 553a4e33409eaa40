package console

import (
	"context"
	"fmt"
	"strings"

	"saladict/pkg/bus"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const maxEntries = 500

type entryKind int

const (
	entryEvent entryKind = iota
	entryCommand
	entryResult
	entryError
)

type entry struct {
	kind  entryKind
	event bus.Event
	text  string
}

type traceMsg struct {
	event bus.Event
	ok    bool
}

type execResultMsg struct {
	output string
	err    error
}

type model struct {
	ctx     context.Context
	session *Session
	events  <-chan bus.Event

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	entries   []entry
	width     int
	height    int
	isReady   bool
	isBusy    bool
	lastErr   string
	followLog bool
	traced    int
}

func newModel(ctx context.Context, session *Session, events <-chan bus.Event) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "help, open https://example.com, send PING ..."
	in.Focus()
	in.CharLimit = 0

	return &model{
		ctx:       ctx,
		session:   session,
		events:    events,
		theme:     defaultTheme(),
		spinner:   spin,
		input:     in,
		viewport:  viewport.New(80, 12),
		width:     100,
		height:    28,
		followLog: true,
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForEvent(m.events))
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case traceMsg:
		if !typed.ok {
			return m, nil
		}
		m.traced++
		m.appendEntry(entry{kind: entryEvent, event: typed.event})
		m.refreshViewport(false)
		return m, waitForEvent(m.events)
	case execResultMsg:
		m.isBusy = false
		if typed.err != nil {
			m.lastErr = typed.err.Error()
			if typed.output != "" && typed.output != "(no response)" {
				m.appendEntry(entry{kind: entryResult, text: typed.output})
			}
			m.appendEntry(entry{kind: entryError, text: typed.err.Error()})
		} else {
			m.lastErr = ""
			if typed.output != "" {
				m.appendEntry(entry{kind: entryResult, text: typed.output})
			}
		}
		m.refreshViewport(false)
		return m, nil
	case spinner.TickMsg:
		if !m.isBusy {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case tea.MouseMsg:
		if m.handleViewportMouse(typed) {
			return m, nil
		}
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

		if m.handleViewportKey(typed) {
			return m, nil
		}

		if typed.String() == "enter" {
			if m.isBusy {
				return m, nil
			}
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			if isExitCommand(line) {
				return m, tea.Quit
			}

			m.input.SetValue("")
			m.appendEntry(entry{kind: entryCommand, text: line})
			m.isBusy = true
			m.followLog = true
			m.refreshViewport(true)
			return m, tea.Batch(m.spinner.Tick, execCmd(m.ctx, m.session, line))
		}
	}

	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}

	header := m.theme.header.Width(m.width - 2).Render("🥗 Saladict Console")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"context:%s · contexts:%d · active tab:%s · events:%d",
		m.session.Current(),
		len(m.session.Contexts()),
		displayTab(m.session.host.ActiveTab()),
		m.traced,
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	status := m.theme.status.Render("💡 Enter run  ·  PgUp/PgDn scroll  ·  End jump latest  ·  🛑 Ctrl+C/Esc quit")
	if m.isBusy {
		status = m.theme.statusBusy.Render(fmt.Sprintf("%s running...", m.spinner.View()))
	}
	if m.lastErr != "" {
		status = m.theme.statusErr.Render("🚨 last command failed")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.inputLabel.Render(m.session.Current()+" ›")+" "+m.theme.hint.Render("(type help, quit, or :q)"),
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) appendEntry(e entry) {
	m.entries = append(m.entries, e)
	if over := len(m.entries) - maxEntries; over > 0 {
		m.entries = m.entries[over:]
	}
}

func (m *model) resizeComponents() {
	w := max(m.width-6, 50)
	h := max(m.height-10, 8)

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	lines := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		lines = append(lines, m.renderEntry(e))
	}

	m.viewport.SetContent(strings.Join(lines, "\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(m.viewport.TotalLineCount()-m.viewport.Height, 0)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) renderEntry(e entry) string {
	switch e.kind {
	case entryCommand:
		return m.theme.command.Render("› " + e.text)
	case entryResult:
		return m.theme.result.Render(e.text)
	case entryError:
		return m.theme.failure.Render("✗ " + e.text)
	default:
		return m.theme.timestamp.Render(e.event.At.Format("15:04:05.000")) + " " +
			m.theme.event(e.event.Type).Render(string(e.event.Type)) + " " +
			formatEvent(e.event)
	}
}

// formatEvent renders the details of one trace event on a single line.
func formatEvent(event bus.Event) string {
	var parts []string
	if event.Context != "" {
		parts = append(parts, event.Context)
	}
	if event.TabID > 0 {
		parts = append(parts, fmt.Sprintf("tab=%d", event.TabID))
	}
	if event.MsgType != "" {
		parts = append(parts, event.MsgType)
	}
	if event.Area != "" {
		parts = append(parts, fmt.Sprintf("%s[%s]", event.Area, strings.Join(event.Keys, ",")))
	}
	if event.Payload != "" {
		parts = append(parts, event.Payload)
	}
	if event.Error != "" {
		parts = append(parts, "error="+event.Error)
	}
	return strings.Join(parts, " ")
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}
	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(3)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(3)
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}

func waitForEvent(events <-chan bus.Event) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		event, ok := <-events
		return traceMsg{event: event, ok: ok}
	}
}

func execCmd(ctx context.Context, session *Session, line string) tea.Cmd {
	return func() tea.Msg {
		output, err := session.Exec(ctx, line)
		return execResultMsg{output: output, err: err}
	}
}

func displayTab(id int) string {
	if id == 0 {
		return "n/a"
	}
	return fmt.Sprint(id)
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
