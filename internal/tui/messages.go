package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zpdzap/sandpreview/internal/preview"
	"github.com/zpdzap/sandpreview/internal/workflow"
)

// eventMsg carries one workflow event from the bus.
type eventMsg struct {
	event workflow.Event
}

// busClosedMsg is sent once the controller has shut the bus down.
type busClosedMsg struct{}

// startedMsg is sent when a start or restart request returns.
type startedMsg struct {
	runID   string
	restart bool
	err     error
}

// actionMsg reports the result of a side action such as opening a browser.
type actionMsg struct {
	message string
	err     error
}

// waitForEvent blocks on the next bus event.
func waitForEvent(events <-chan workflow.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return busClosedMsg{}
		}
		return eventMsg{event: e}
	}
}

func startCmd(ctrl *preview.Controller) tea.Cmd {
	return func() tea.Msg {
		run, err := ctrl.Start(context.Background())
		if err != nil {
			return startedMsg{err: err}
		}
		return startedMsg{runID: run.ID()}
	}
}

func restartCmd(ctrl *preview.Controller) tea.Cmd {
	return func() tea.Msg {
		run, err := ctrl.Restart(context.Background())
		if err != nil {
			return startedMsg{restart: true, err: err}
		}
		return startedMsg{runID: run.ID(), restart: true}
	}
}

func actionCmd(fn func(string) error, arg, done string) tea.Cmd {
	return func() tea.Msg {
		if err := fn(arg); err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{message: done}
	}
}
