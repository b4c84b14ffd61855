// Package sandboxtest provides a scripted in-memory sandbox engine for tests.
package sandboxtest

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/zpdzap/sandpreview/internal/fstree"
	"github.com/zpdzap/sandpreview/internal/sandbox"
)

// Script scripts one command. Output chunks are written in order; then, if
// ReadyPort is set, the instance reports the server ready; then the process
// waits for Hold (if any) and exits with Exit.
type Script struct {
	Output    []string
	ReadyPort int
	Hold      chan struct{}
	Exit      int
	SpawnErr  error
	// WaitErr is returned by Wait in place of a clean exit status.
	WaitErr error
}

// Engine is a scripted sandbox.Engine. Configure its fields before the first
// Boot.
type Engine struct {
	Scripts map[string]Script
	// BootErr fails every boot while set.
	BootErr error
	// BootGate, when non-nil, blocks each boot until it is closed.
	BootGate chan struct{}
	MountErr error

	mu        sync.Mutex
	boots     int
	spawned   []string
	instances []*Instance
	destroyed []sandbox.Record
}

// NewEngine returns an engine with no scripts; unscripted commands exit 0
// without output.
func NewEngine() *Engine {
	return &Engine{Scripts: make(map[string]Script)}
}

func (e *Engine) Name() string { return "sandboxtest" }

func (e *Engine) Boot(ctx context.Context, spec sandbox.BootSpec) (sandbox.Instance, error) {
	e.mu.Lock()
	e.boots++
	n := e.boots
	gate, bootErr := e.BootGate, e.BootErr
	e.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if bootErr != nil {
		return nil, bootErr
	}

	inst := &Instance{
		engine: e,
		rec: sandbox.Record{
			ID:       fmt.Sprintf("test-%d", n),
			Engine:   e.Name(),
			Name:     fmt.Sprintf("sp-%s-%d", spec.Project, n),
			BootedAt: time.Now().UTC(),
		},
		ready: make(chan sandbox.ServerReady, 1),
	}
	e.mu.Lock()
	e.instances = append(e.instances, inst)
	e.mu.Unlock()
	return inst, nil
}

func (e *Engine) Destroy(ctx context.Context, rec sandbox.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.destroyed = append(e.destroyed, rec)
	return nil
}

// Boots counts Boot calls, including failed ones.
func (e *Engine) Boots() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.boots
}

// Spawned lists every command spawned, across instances, in order.
func (e *Engine) Spawned() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.spawned...)
}

// Instances returns the instances booted so far.
func (e *Engine) Instances() []*Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Instance(nil), e.instances...)
}

// Destroyed returns the records passed to Destroy.
func (e *Engine) Destroyed() []sandbox.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]sandbox.Record(nil), e.destroyed...)
}

func (e *Engine) script(cmd string) Script {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.spawned = append(e.spawned, cmd)
	return e.Scripts[cmd]
}

// Instance is a booted scripted sandbox.
type Instance struct {
	engine *Engine
	rec    sandbox.Record
	ready  chan sandbox.ServerReady

	mu       sync.Mutex
	mounted  fstree.Tree
	tornDown bool
}

func (i *Instance) ID() string             { return i.rec.ID }
func (i *Instance) Record() sandbox.Record { return i.rec }

func (i *Instance) Mount(ctx context.Context, tree fstree.Tree) error {
	if i.engine.MountErr != nil {
		return i.engine.MountErr
	}
	i.mu.Lock()
	i.mounted = tree
	i.mu.Unlock()
	return nil
}

// Mounted returns the last mounted tree.
func (i *Instance) Mounted() fstree.Tree {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.mounted
}

func (i *Instance) Spawn(ctx context.Context, cmd sandbox.Command) (sandbox.Process, error) {
	s := i.engine.script(cmd.String())
	if s.SpawnErr != nil {
		return nil, s.SpawnErr
	}
	pr, pw := io.Pipe()
	p := &Process{out: pr, done: make(chan struct{}), killed: make(chan struct{}), waitErr: s.WaitErr}
	go p.run(pw, s, i)
	return p, nil
}

// SignalReady reports the server ready on port, as a scripted ReadyPort does.
func (i *Instance) SignalReady(port int) {
	select {
	case i.ready <- sandbox.ServerReady{Port: port, URL: fmt.Sprintf("http://localhost:%d/", port)}:
	default:
	}
}

func (i *Instance) WaitServerReady(ctx context.Context) (sandbox.ServerReady, error) {
	select {
	case r := <-i.ready:
		return r, nil
	case <-ctx.Done():
		return sandbox.ServerReady{}, ctx.Err()
	}
}

func (i *Instance) Teardown(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.tornDown = true
	return nil
}

// TornDown reports whether Teardown was called.
func (i *Instance) TornDown() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.tornDown
}

// Process is a scripted sandbox.Process.
type Process struct {
	out    io.Reader
	done   chan struct{}
	killed chan struct{}
	once   sync.Once
	code   int

	waitErr error
}

func (p *Process) run(pw *io.PipeWriter, s Script, inst *Instance) {
	defer close(p.done)
	code := s.Exit
	for _, chunk := range s.Output {
		if _, err := pw.Write([]byte(chunk)); err != nil {
			break
		}
	}
	if s.ReadyPort > 0 {
		inst.SignalReady(s.ReadyPort)
	}
	if s.Hold != nil {
		select {
		case <-s.Hold:
		case <-p.killed:
			code = 137
		}
	}
	p.code = code
	pw.Close()
}

func (p *Process) Output() io.Reader { return p.out }

func (p *Process) Wait() (int, error) {
	<-p.done
	if p.waitErr != nil {
		return -1, p.waitErr
	}
	return p.code, nil
}

func (p *Process) Kill() error {
	p.once.Do(func() { close(p.killed) })
	return nil
}
