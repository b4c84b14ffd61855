// Package store folds workflow events into the UI state that the terminal
// dashboard and the web panel render.
package store

import (
	"sync"
	"time"

	"github.com/zpdzap/sandpreview/internal/workflow"
)

// DefaultOutputLimit bounds the output tail kept in memory.
const DefaultOutputLimit = 256 * 1024

// Snapshot is a copy of the workspace state.
type Snapshot struct {
	RunID       string               `json:"run_id,omitempty"`
	Status      workflow.Status      `json:"status"`
	URL         string               `json:"url,omitempty"`
	Port        int                  `json:"port,omitempty"`
	Message     string               `json:"message,omitempty"`
	FailureKind workflow.FailureKind `json:"failure_kind,omitempty"`
	Output      []byte               `json:"-"`
	// FrameKey changes whenever the preview frame should be remounted.
	FrameKey  int       `json:"frame_key"`
	Seq       uint64    `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Workspace is an Observer holding the latest state of the current run.
type Workspace struct {
	mu    sync.RWMutex
	snap  Snapshot
	limit int
}

func New(outputLimit int) *Workspace {
	if outputLimit <= 0 {
		outputLimit = DefaultOutputLimit
	}
	return &Workspace{
		snap:  Snapshot{Status: workflow.StatusIdle, UpdatedAt: time.Now()},
		limit: outputLimit,
	}
}

// Observe folds one event into the state. A run booting under a new id
// replaces the previous run's state; stray events from other runs are
// dropped.
func (w *Workspace) Observe(e workflow.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if sc, ok := e.(workflow.StatusChanged); ok && sc.To == workflow.StatusBooting && sc.Run != w.snap.RunID {
		w.snap = Snapshot{RunID: sc.Run, Status: workflow.StatusIdle, FrameKey: w.snap.FrameKey, Seq: w.snap.Seq}
	}
	if w.snap.RunID != "" && e.RunID() != w.snap.RunID {
		return
	}
	w.snap.RunID = e.RunID()

	switch e := e.(type) {
	case workflow.StatusChanged:
		w.snap.Status = e.To
	case workflow.OutputChunk:
		w.snap.Output = appendTail(w.snap.Output, e.Data, w.limit)
	case workflow.ServerReady:
		w.snap.URL = e.URL
		w.snap.Port = e.Port
	case workflow.Failed:
		w.snap.Message = e.Message
		w.snap.FailureKind = e.Kind
	}
	w.touch()
}

// Snapshot returns a copy safe to hold on to.
func (w *Workspace) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := w.snap
	s.Output = append([]byte(nil), w.snap.Output...)
	return s
}

// Reload bumps the frame key so renderers remount the preview frame.
func (w *Workspace) Reload() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.snap.FrameKey++
	w.touch()
	return w.snap.FrameKey
}

// Reset returns to idle, keeping the frame key monotonic.
func (w *Workspace) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.snap = Snapshot{Status: workflow.StatusIdle, FrameKey: w.snap.FrameKey + 1, Seq: w.snap.Seq}
	w.touch()
}

func (w *Workspace) touch() {
	w.snap.Seq++
	w.snap.UpdatedAt = time.Now()
}

func appendTail(buf, data []byte, limit int) []byte {
	buf = append(buf, data...)
	if over := len(buf) - limit; over > 0 {
		buf = append(buf[:0:0], buf[over:]...)
	}
	return buf
}
