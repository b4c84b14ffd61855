package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/zpdzap/sandpreview/internal/panel"
	"github.com/zpdzap/sandpreview/internal/workflow"
)

const title = "sandpreview"

func (m model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	quip := quipStyle.Render(m.quip)
	gap := max(1, m.width-lipgloss.Width(title)-lipgloss.Width(quip)-4)
	b.WriteString(headerStyle.Width(m.width).Render(title + strings.Repeat(" ", gap) + quip))
	b.WriteString("\n")
	b.WriteString(m.divider())

	b.WriteString(m.panelView())
	b.WriteString("\n")
	b.WriteString(m.divider())

	if m.showFiles {
		b.WriteString(m.renderFiles())
	} else {
		b.WriteString(m.renderOutput())
	}
	b.WriteString(m.divider())

	if m.commanding {
		b.WriteString(hotkeysStyle.Render("[enter] execute  [esc] cancel"))
	} else {
		b.WriteString(hotkeysStyle.Render(m.hotkeys()))
	}
	b.WriteString("\n")

	m.renderStatusAndInput(&b)

	if m.showHelp {
		return m.renderHelpOverlay(b.String())
	}
	return b.String()
}

func (m model) divider() string {
	return dividerStyle.Render(strings.Repeat("─", m.width)) + "\n"
}

func (m model) hotkeys() string {
	keys := []string{"[R]estart", "[f]iles", "[?] help", "[q] quit"}
	if m.snap.URL != "" {
		keys = append([]string{"[r]eload", "[o]pen", "[c]opy url"}, keys...)
	}
	return strings.Join(keys, "  ")
}

func (m model) panelView() string {
	return renderPanel(panel.Compose(m.snap), m.snap.Status, m.spinner.View(), m.width)
}

// renderPanel draws a panel layout. spin is the current spinner frame.
func renderPanel(l panel.Layout, status workflow.Status, spin string, width int) string {
	var lines []string

	head := panelTitleStyle.Render(l.Title) + "  " + statusBadge(status, l.Live)
	var controls []string
	if l.Controls.Reload {
		controls = append(controls, controlStyle.Render("↻ reload"))
	}
	if l.Controls.Open {
		controls = append(controls, controlStyle.Render("↗ open"))
	}
	if len(controls) > 0 {
		right := strings.Join(controls, "  ")
		gap := max(2, width-4-lipgloss.Width(head)-lipgloss.Width(right))
		head += strings.Repeat(" ", gap) + right
	}
	lines = append(lines, head)

	if l.Loading != nil {
		lines = append(lines,
			spin+" "+captionStyle.Render(l.Loading.Caption),
			hintStyle.Render(l.Loading.Hint))
	}
	if l.Error != nil {
		lines = append(lines,
			errorTitleStyle.Render("✗ "+l.Error.Title),
			hintStyle.Render(l.Error.Detail))
	}
	if l.Banner != "" {
		lines = append(lines, bannerStyle.Render(l.Banner))
	}
	if l.Frame != nil {
		body := urlStyle.Render(l.Frame.URL) + hintStyle.Render(fmt.Sprintf("  frame #%d", l.Frame.Key))
		lines = append(lines, frameStyle.Render(body))
	}
	if l.Idle != nil {
		lines = append(lines, idleStyle.Render(l.Idle.Text))
	}

	return lipgloss.NewStyle().Padding(0, 2).Render(strings.Join(lines, "\n"))
}

func statusBadge(s workflow.Status, live bool) string {
	switch {
	case live:
		return liveStyle.Render("● live")
	case s.Busy():
		return busyStyle.Render("◌ " + string(s))
	case s == workflow.StatusError || s == workflow.StatusCrashed:
		return deadStyle.Render("○ " + string(s))
	default:
		return hintStyle.Render("○ " + string(s))
	}
}

func (m model) renderOutput() string {
	if len(m.snap.Output) == 0 {
		var b strings.Builder
		b.WriteString(outputEmptyStyle.Render("Waiting for output..."))
		b.WriteString(strings.Repeat("\n", m.output.Height))
		return b.String()
	}
	return outputStyle.Render(m.output.View()) + "\n"
}

func (m model) renderFiles() string {
	tree := m.ctrl.Tree()
	out := renderFileTree(tree)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) > m.output.Height {
		lines = append(lines[:m.output.Height-1], hintStyle.Render(fmt.Sprintf("… %d more lines", len(lines)-m.output.Height+1)))
	}
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(outputStyle.Render(line))
		b.WriteString("\n")
	}
	for i := len(lines); i < m.output.Height; i++ {
		b.WriteString("\n")
	}
	return b.String()
}

func (m model) renderStatusAndInput(b *strings.Builder) {
	if m.message != "" {
		if m.isError {
			b.WriteString(errorStyle.Render(m.message))
		} else {
			b.WriteString(messageStyle.Render(m.message))
		}
		b.WriteString("\n")
	}
	if m.commanding {
		b.WriteString("  ")
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}
}

func (m model) renderHelpOverlay(base string) string {
	lines := []string{
		helpHeaderStyle.Render("Preview"),
		helpKeyStyle.Render("  r") + helpDescStyle.Render("           Reload the preview frame"),
		helpKeyStyle.Render("  o") + helpDescStyle.Render("           Open in browser"),
		helpKeyStyle.Render("  c") + helpDescStyle.Render("           Copy URL to clipboard"),
		helpKeyStyle.Render("  R") + helpDescStyle.Render("           Restart with a fresh sandbox"),
		"",
		helpHeaderStyle.Render("View"),
		helpKeyStyle.Render("  f") + helpDescStyle.Render("           Toggle mounted files / output"),
		helpKeyStyle.Render("  ↑/k  ↓/j") + helpDescStyle.Render("   Scroll output"),
		"",
		helpHeaderStyle.Render("Commands"),
		helpKeyStyle.Render("  /") + helpDescStyle.Render("           Open command bar"),
	}
	for _, c := range commands {
		lines = append(lines, helpDescStyle.Render(fmt.Sprintf("  /%-10s %s", c.name, c.desc)))
	}
	lines = append(lines,
		"",
		helpKeyStyle.Render("  q") + helpDescStyle.Render("  quit") + "     " + helpKeyStyle.Render("?") + helpDescStyle.Render("  close this help"),
	)

	modal := helpStyle.Render(strings.Join(lines, "\n"))
	modalWidth := lipgloss.Width(modal)
	modalHeight := lipgloss.Height(modal)

	baseLines := strings.Split(base, "\n")
	xOffset := max(0, (m.width-modalWidth)/2)
	yOffset := max(0, (m.height-modalHeight)/2)

	for i, line := range strings.Split(modal, "\n") {
		row := yOffset + i
		if row >= len(baseLines) {
			break
		}
		baseLines[row] = strings.Repeat(" ", xOffset) + line +
			strings.Repeat(" ", max(0, m.width-xOffset-lipgloss.Width(line)))
	}
	return strings.Join(baseLines, "\n")
}
