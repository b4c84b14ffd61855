package tui

import "github.com/charmbracelet/lipgloss"

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFD700")).
			Background(lipgloss.Color("#1a1a2e")).
			Padding(0, 2)

	quipStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8B7500")).
			Background(lipgloss.Color("#1a1a2e"))

	dividerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#333333"))

	hotkeysStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#555555")).
			Padding(0, 2)

	messageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD700")).
			Padding(0, 2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF4444")).
			Padding(0, 2)

	// Panel
	panelTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Bold(true)

	liveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	busyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAA00"))
	deadStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))

	controlStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#5599FF"))

	captionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))

	frameStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#5599FF")).
			Padding(0, 1)

	urlStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#5599FF")).
			Underline(true)

	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#1a1a2e")).
			Background(lipgloss.Color("#FFAA00")).
			Padding(0, 1)

	errorTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF4444")).
			Bold(true)

	idleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#555555"))

	// Output pane
	outputStyle = lipgloss.NewStyle().
			Padding(0, 2)

	outputEmptyStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#555555")).
				Padding(0, 2)

	// Help modal
	helpStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#FFD700")).
			Padding(1, 2).
			Foreground(lipgloss.Color("#FFFFFF"))

	helpHeaderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD700")).
			Bold(true)

	helpKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#5599FF"))

	helpDescStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#AAAAAA"))

	// File tree pane
	treeDirStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#5599FF")).Bold(true)
	treeFileStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF"))
	treeBinaryStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#AA77FF"))
	treeLineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#555555"))
	treeSizeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	treeHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFD700"))
)
