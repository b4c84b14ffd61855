// Package sandbox wraps the external sandbox runtime (a container engine or
// plain host processes) behind a small Engine/Instance/Process contract and
// owns the per-project Session that hands out the single live instance.
package sandbox

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/zpdzap/sandpreview/internal/fstree"
)

var (
	// ErrSessionReleased is returned to work that was started against an
	// instance that has since been released.
	ErrSessionReleased = errors.New("sandbox session released")
	// ErrSessionBusy means another process owns this project's sandbox.
	ErrSessionBusy = errors.New("sandbox session owned by another process")
	// ErrNoEngine means no usable sandbox engine was found.
	ErrNoEngine = errors.New("no sandbox engine available")
)

// Engine boots sandbox instances.
type Engine interface {
	Name() string
	Boot(ctx context.Context, spec BootSpec) (Instance, error)
	// Destroy removes an instance known only from its persisted record.
	Destroy(ctx context.Context, rec Record) error
}

// Instance is one booted sandbox.
type Instance interface {
	ID() string
	Record() Record
	Mount(ctx context.Context, tree fstree.Tree) error
	Spawn(ctx context.Context, cmd Command) (Process, error)
	// WaitServerReady blocks until a process inside the sandbox accepts
	// connections on one of the configured ports.
	WaitServerReady(ctx context.Context) (ServerReady, error)
	Teardown(ctx context.Context) error
}

// Process is a command running inside an instance.
type Process interface {
	// Output streams combined stdout/stderr until the process exits.
	Output() io.Reader
	// Wait blocks until exit and returns the exit code.
	Wait() (int, error)
	Kill() error
}

// Command is a program and its arguments.
type Command struct {
	Name string
	Args []string
	Env  map[string]string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// ServerReady is reported once a dev server is reachable.
type ServerReady struct {
	Port int
	URL  string
}

// BootSpec describes the sandbox to boot.
type BootSpec struct {
	Project    string
	ProjectDir string
	Image      string
	Ports      []int
	Host       string
	CPUs       float64
	MemoryMB   int
	PidsLimit  int
	Network    string
	TTY        bool
	Env        map[string]string
	Mounts     []string
	Timeout    time.Duration
	Probe      ProbeConfig
}

// Record is the persisted description of a live instance.
type Record struct {
	ID       string      `json:"id"`
	Engine   string      `json:"engine"`
	Name     string      `json:"name"`
	Workdir  string      `json:"workdir"`
	Ports    map[int]int `json:"ports,omitempty"` // sandbox port → host port
	BootedAt time.Time   `json:"booted_at"`
}
