package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/zpdzap/sandpreview/internal/workflow"
)

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case eventMsg:
		m.refresh()
		m.noteEvent(msg.event)
		return m, waitForEvent(m.events)

	case busClosedMsg:
		return m, nil

	case startedMsg:
		if msg.err != nil {
			m.message = fmt.Sprintf("Error: %v", msg.err)
			m.isError = true
			return m, nil
		}
		if msg.restart {
			m.message = "Restarting with a fresh sandbox..."
			m.isError = false
			m.refresh()
			return m, tea.ClearScreen
		}
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.message = fmt.Sprintf("Error: %v", msg.err)
			m.isError = true
		} else {
			m.message = msg.message
			m.isError = false
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.commanding {
			return m.handleCommandMode(msg)
		}
		return m.handleNormalMode(msg)
	}

	if m.commanding {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

// noteEvent surfaces the events worth a status line.
func (m *model) noteEvent(e workflow.Event) {
	switch e := e.(type) {
	case workflow.ServerReady:
		m.message = fmt.Sprintf("Preview ready at %s", e.URL)
		m.isError = false
	case workflow.Failed:
		m.message = e.Message
		m.isError = true
	}
}

func (m model) handleNormalMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		switch msg.String() {
		case "?", "esc":
			m.showHelp = false
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil
	}

	switch msg.String() {
	case "ctrl+c", "q":
		m.quitting = true
		return m, tea.Quit

	case "/":
		m.commanding = true
		m.input.Focus()
		m.input.SetValue("")
		m.layout()
		return m, textinput.Blink

	case "?":
		m.showHelp = true
		return m, nil

	case "r":
		return m.reload()
	case "o":
		return m.openURL()
	case "c":
		return m.copyURL()
	case "R":
		return m.restart()
	case "f":
		return m.toggleFiles()
	}

	var cmd tea.Cmd
	m.output, cmd = m.output.Update(msg)
	return m, cmd
}

func (m model) handleCommandMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "esc":
		m.commanding = false
		m.input.Blur()
		m.input.SetValue("")
		m.layout()
		return m, nil

	case "enter":
		m.commanding = false
		m.input.Blur()
		m.layout()
		return m.processInput()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) processInput() (tea.Model, tea.Cmd) {
	cmd := ParseCommand(m.input.Value())
	m.input.SetValue("")
	if cmd == nil {
		return m, nil
	}

	switch cmd.Name {
	case "reload":
		return m.reload()
	case "open":
		return m.openURL()
	case "copy":
		return m.copyURL()
	case "restart":
		return m.restart()
	case "files":
		return m.toggleFiles()
	case "help":
		m.showHelp = true
		return m, nil
	case "quit":
		m.quitting = true
		return m, tea.Quit
	default:
		m.message = fmt.Sprintf("Unknown command: %s", cmd.Name)
		m.isError = true
		return m, nil
	}
}

func (m model) reload() (tea.Model, tea.Cmd) {
	if m.snap.URL == "" {
		m.message = "Nothing to reload yet"
		m.isError = true
		return m, nil
	}
	key := m.ctrl.Reload()
	m.refresh()
	m.message = fmt.Sprintf("Reloaded preview (frame #%d)", key)
	m.isError = false
	return m, nil
}

func (m model) openURL() (tea.Model, tea.Cmd) {
	if m.snap.URL == "" {
		m.message = "No preview URL yet"
		m.isError = true
		return m, nil
	}
	return m, actionCmd(m.open, m.snap.URL, "Opened "+m.snap.URL)
}

func (m model) copyURL() (tea.Model, tea.Cmd) {
	if m.snap.URL == "" {
		m.message = "No preview URL yet"
		m.isError = true
		return m, nil
	}
	return m, actionCmd(m.copy, m.snap.URL, "Copied "+m.snap.URL)
}

func (m model) restart() (tea.Model, tea.Cmd) {
	m.message = "Stopping sandbox..."
	m.isError = false
	return m, restartCmd(m.ctrl)
}

func (m model) toggleFiles() (tea.Model, tea.Cmd) {
	m.showFiles = !m.showFiles
	return m, nil
}
