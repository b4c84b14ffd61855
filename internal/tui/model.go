package tui

import (
	"math/rand"
	"os"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/zpdzap/sandpreview/internal/opener"
	"github.com/zpdzap/sandpreview/internal/preview"
	"github.com/zpdzap/sandpreview/internal/store"
	"github.com/zpdzap/sandpreview/internal/workflow"
)

var quips = []string{
	"it works in the sandbox",
	"npm install, and wait",
	"hot reload, cold coffee",
	"localhost, but elsewhere",
	"one more dev server",
}

// model is the Bubble Tea model for the preview dashboard.
type model struct {
	ctrl   *preview.Controller
	events <-chan workflow.Event

	input   textinput.Model
	spinner spinner.Model
	output  viewport.Model

	snap store.Snapshot

	message    string
	isError    bool
	commanding bool // true when in command mode (/ pressed)
	quitting   bool
	showHelp   bool
	showFiles  bool
	width      int
	height     int
	quip       string

	open func(string) error
	copy func(string) error
}

func newModel(ctrl *preview.Controller, events <-chan workflow.Event) model {
	ti := textinput.New()
	ti.Placeholder = "reload, open, copy, restart, files | quit"
	ti.CharLimit = 256
	ti.Width = 80
	ti.Blur()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(busyStyle))

	w, h, _ := term.GetSize(int(os.Stdout.Fd()))
	if w == 0 {
		w = 80
	}
	if h == 0 {
		h = 24
	}

	m := model{
		ctrl:    ctrl,
		events:  events,
		input:   ti,
		spinner: sp,
		output:  viewport.New(w, 1),
		snap:    ctrl.Snapshot(),
		width:   w,
		height:  h,
		quip:    quips[rand.Intn(len(quips))],
		open:    opener.Open,
		copy:    clipboard.WriteAll,
	}
	m.layout()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), m.spinner.Tick, startCmd(m.ctrl))
}

// layout sizes the output pane to whatever the panel leaves over.
func (m *model) layout() {
	used := 1 + 1 + lipgloss.Height(m.panelView()) + 1 + 1 + 1 + 1
	if m.commanding {
		used++
	}
	m.output.Width = max(1, m.width-4)
	m.output.Height = max(3, m.height-used)
	m.input.Width = max(10, m.width-6)
}

// refresh pulls the latest snapshot and feeds new output into the pane.
func (m *model) refresh() {
	prev := m.snap.Seq
	m.snap = m.ctrl.Snapshot()
	if m.snap.Seq != prev {
		follow := m.output.AtBottom()
		m.output.SetContent(string(m.snap.Output))
		if follow {
			m.output.GotoBottom()
		}
	}
	m.layout()
}
