// Package panel decides what the status panel shows for a workspace
// snapshot. Renderers (terminal and web) draw the Layout; they never look at
// the workflow status themselves.
package panel

import (
	"github.com/zpdzap/sandpreview/internal/config"
	"github.com/zpdzap/sandpreview/internal/store"
	"github.com/zpdzap/sandpreview/internal/workflow"
)

const (
	Title           = "Preview"
	LoadingHint     = "This may take a moment"
	ErrorTitle      = "Failed to start preview"
	ErrorDetail     = "Check the terminal for details"
	IdleText        = "Preview will appear here"
	CrashBanner     = "Dev server stopped. Showing the last working preview."
	FrameTitle      = "Preview"
	FrameSandboxDef = config.FrameAllows
)

var captions = map[workflow.Status]string{
	workflow.StatusBooting:    "Booting sandbox...",
	workflow.StatusMounting:   "Mounting files...",
	workflow.StatusInstalling: "Installing dependencies...",
	workflow.StatusRunning:    "Starting dev server...",
}

// Caption returns the loading caption for a busy status, or "".
func Caption(s workflow.Status) string { return captions[s] }

// Layout is the set of sections to draw. Nil sections are not shown; more
// than one may be present at once.
type Layout struct {
	Title    string     `json:"title"`
	Live     bool       `json:"live"`
	Controls Controls   `json:"controls"`
	Loading  *Loading   `json:"loading,omitempty"`
	Error    *ErrorView `json:"error,omitempty"`
	Frame    *Frame     `json:"frame,omitempty"`
	Banner   string     `json:"banner,omitempty"`
	Idle     *Idle      `json:"idle,omitempty"`
}

// Controls are the header actions. Both need a known URL.
type Controls struct {
	Reload bool   `json:"reload"`
	Open   bool   `json:"open"`
	URL    string `json:"url,omitempty"`
}

type Loading struct {
	Caption string `json:"caption"`
	Hint    string `json:"hint"`
}

type ErrorView struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// Frame is the embedded preview. Key changes force a remount.
type Frame struct {
	URL     string `json:"url"`
	Key     int    `json:"key"`
	Title   string `json:"title"`
	Sandbox string `json:"sandbox"`
}

type Idle struct {
	Text string `json:"text"`
}

// Compose maps a snapshot to a layout.
func Compose(s store.Snapshot) Layout {
	l := Layout{
		Title: Title,
		Live:  s.Status == workflow.StatusReady,
	}

	if s.URL != "" {
		l.Controls = Controls{Reload: true, Open: true, URL: s.URL}
		l.Frame = &Frame{URL: s.URL, Key: s.FrameKey, Title: FrameTitle, Sandbox: FrameSandboxDef}
		if s.Status == workflow.StatusCrashed {
			l.Banner = CrashBanner
		}
	}

	switch {
	case s.Status.Busy():
		l.Loading = &Loading{Caption: Caption(s.Status), Hint: LoadingHint}
	case s.Status.Terminal() && s.URL == "":
		l.Error = &ErrorView{Title: ErrorTitle, Detail: ErrorDetail}
	case s.Status == workflow.StatusIdle:
		l.Idle = &Idle{Text: IdleText}
	}
	return l
}
