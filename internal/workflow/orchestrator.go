// Package workflow sequences a preview run against a sandbox session:
// boot, mount, install, run, then wait for the dev server. Progress is
// reported as typed events to an Observer.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/zpdzap/sandpreview/internal/fstree"
	"github.com/zpdzap/sandpreview/internal/sandbox"
)

const outputChunkSize = 4096

var (
	DefaultInstall = sandbox.Command{Name: "npm", Args: []string{"install"}}
	DefaultRun     = sandbox.Command{Name: "npm", Args: []string{"run", "dev"}}
)

// Orchestrator starts runs against a shared session.
type Orchestrator struct {
	session *sandbox.Session
	install sandbox.Command
	run     sandbox.Command
	log     *slog.Logger
	metrics *Metrics
}

type Option func(*Orchestrator)

func WithInstall(c sandbox.Command) Option { return func(o *Orchestrator) { o.install = c } }
func WithRun(c sandbox.Command) Option     { return func(o *Orchestrator) { o.run = c } }
func WithLogger(l *slog.Logger) Option     { return func(o *Orchestrator) { o.log = l } }
func WithMetrics(m *Metrics) Option        { return func(o *Orchestrator) { o.metrics = m } }

func New(session *sandbox.Session, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		session: session,
		install: DefaultInstall,
		run:     DefaultRun,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Session returns the session runs are started against.
func (o *Orchestrator) Session() *sandbox.Session { return o.session }

// Start validates tree and runs the workflow in the background. Cancelling
// ctx or calling Stop ends the run without reporting a failure.
func (o *Orchestrator) Start(ctx context.Context, tree fstree.Tree, obs Observer) (*Run, error) {
	if err := tree.Validate(); err != nil {
		return nil, fmt.Errorf("invalid file tree: %w", err)
	}
	r := &Run{
		id:      ulid.Make().String(),
		o:       o,
		obs:     obs,
		m:       newMachine(),
		settled: make(chan struct{}),
		done:    make(chan struct{}),
	}
	r.log = o.log.With("run", r.id)
	r.ctx, r.cancel = context.WithCancel(ctx)

	o.metrics.started()
	go r.execute(tree)
	return r, nil
}

// Run is one pass through the workflow.
type Run struct {
	id  string
	o   *Orchestrator
	obs Observer
	m   *machine
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	lease  atomic.Pointer[sandbox.Lease]

	emitMu   sync.Mutex
	silenced bool

	// phaseMu orders the ready transition against dev server exit.
	phaseMu sync.Mutex
	exited  bool

	mu         sync.Mutex
	procs      []sandbox.Process
	err        error
	phaseStart time.Time

	settled     chan struct{}
	settledOnce sync.Once
	done        chan struct{}
	doneOnce    sync.Once
}

func (r *Run) ID() string { return r.id }

func (r *Run) Status() Status {
	s, _, _ := r.m.snapshot()
	return s
}

// URL is the dev server URL once ready. It survives a later crash.
func (r *Run) URL() string {
	_, url, _ := r.m.snapshot()
	return url
}

func (r *Run) Port() int {
	_, _, port := r.m.snapshot()
	return port
}

// Settled is closed once the run is ready or over.
func (r *Run) Settled() <-chan struct{} { return r.settled }

// Done is closed once the run is over: failed, stopped, or its dev server
// exited.
func (r *Run) Done() <-chan struct{} { return r.done }

// Err returns the *Failure the run ended with, the reason it was cut short,
// or nil.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Wait blocks until the run settles and returns its status.
func (r *Run) Wait(ctx context.Context) (Status, error) {
	select {
	case <-r.settled:
		return r.Status(), r.Err()
	case <-ctx.Done():
		return r.Status(), ctx.Err()
	}
}

// Stop kills the run's processes and waits for it to wind down. No events
// are delivered after Stop returns.
func (r *Run) Stop() {
	r.emitMu.Lock()
	r.silenced = true
	r.emitMu.Unlock()

	r.cancel()
	r.killAll()
	<-r.done
}

func (r *Run) killAll() {
	r.mu.Lock()
	procs := append([]sandbox.Process(nil), r.procs...)
	r.mu.Unlock()
	for _, p := range procs {
		if err := p.Kill(); err != nil {
			r.log.Warn("Failed to kill process", "error", err)
		}
	}
}

func (r *Run) execute(tree fstree.Tree) {
	install, run := r.o.install, r.o.run

	r.setStatus(StatusBooting)
	r.progress("Booting sandbox...", "\n")
	lease, err := r.o.session.Acquire(r.ctx)
	if err != nil {
		r.fail(FailureBoot, err.Error(), err)
		return
	}
	r.lease.Store(lease)
	go r.watchLease(lease)
	r.success("Sandbox booted!", "\n\n")

	r.setStatus(StatusMounting)
	r.progress("Mounting files...", "\n")
	if err := lease.Mount(r.ctx, tree); err != nil {
		r.fail(FailureMount, err.Error(), err)
		return
	}
	r.success("Files mounted!", "\n\n")

	r.setStatus(StatusInstalling)
	r.progress(fmt.Sprintf("Running %s...", install), "\n\n")
	code, err := r.runToExit(lease, install)
	if err != nil {
		r.fail(FailureInstall, err.Error(), err)
		return
	}
	if code != 0 {
		r.fail(FailureInstall, fmt.Sprintf("%s failed. Check the terminal output for details.", install),
			fmt.Errorf("%s exited with code %d", install, code))
		return
	}
	r.output("\n")
	r.success("Dependencies installed successfully!", "\n\n")

	r.setStatus(StatusRunning)
	r.progress("Starting development server...", "\n\n")
	proc, err := lease.Spawn(r.ctx, run)
	if err != nil {
		r.fail(FailureRun, err.Error(), err)
		return
	}
	r.track(proc)

	pumped := make(chan struct{})
	go r.pump(proc, pumped)

	readyCtx, stopReady := context.WithCancel(r.ctx)
	go r.watchReady(readyCtx, lease)
	go r.watchExit(proc, pumped, stopReady)
}

func (r *Run) runToExit(lease *sandbox.Lease, cmd sandbox.Command) (int, error) {
	proc, err := lease.Spawn(r.ctx, cmd)
	if err != nil {
		return 0, err
	}
	r.track(proc)

	pumped := make(chan struct{})
	go r.pump(proc, pumped)
	code, err := proc.Wait()
	<-pumped
	if err != nil {
		return code, fmt.Errorf("waiting for %s: %w", cmd, err)
	}
	return code, nil
}

func (r *Run) watchReady(ctx context.Context, lease *sandbox.Lease) {
	ready, err := lease.WaitServerReady(ctx)
	if err != nil {
		return
	}

	r.phaseMu.Lock()
	defer r.phaseMu.Unlock()
	if r.exited {
		return
	}
	r.output("\n")
	r.success(fmt.Sprintf("Server ready on port %d", ready.Port), "\n")
	r.emit(ServerReady{Run: r.id, Port: ready.Port, URL: ready.URL})

	from, ok := r.m.ready(ready.Port, ready.URL)
	if !ok {
		r.log.Debug("Ignoring server ready", "status", from)
		return
	}
	r.statusChanged(from, StatusReady)
	r.o.metrics.ready()
	r.log.Info("Dev server ready", "port", ready.Port, "url", ready.URL)
	r.settle()
}

func (r *Run) watchExit(proc sandbox.Process, pumped <-chan struct{}, stopReady context.CancelFunc) {
	code, err := proc.Wait()
	<-pumped

	r.phaseMu.Lock()
	r.exited = true
	r.phaseMu.Unlock()
	stopReady()

	if err != nil {
		kind := FailureUnknown
		if r.Status() == StatusReady {
			kind = FailureCrash
		}
		r.fail(kind, err.Error(), err)
		return
	}
	if code == 0 {
		r.output(fmt.Sprintf("\nDev server exited with code %d\n", code))
		r.log.Info("Dev server exited", "code", code)
		r.finish(nil)
		return
	}

	msg := fmt.Sprintf("Dev server exited with code %d", code)
	if r.Status() == StatusReady {
		r.fail(FailureCrash, msg, nil)
		return
	}
	r.fail(FailureRun, msg, nil)
}

// watchLease silences the run as soon as its instance is released.
func (r *Run) watchLease(lease *sandbox.Lease) {
	select {
	case <-lease.Done():
		r.emitMu.Lock()
		r.silenced = true
		r.emitMu.Unlock()
		r.cancel()
		r.killAll()
	case <-r.done:
	}
}

func (r *Run) pump(proc sandbox.Process, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, outputChunkSize)
	out := proc.Output()
	for {
		n, err := out.Read(buf)
		if n > 0 {
			r.emit(OutputChunk{Run: r.id, Data: append([]byte(nil), buf[:n]...)})
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.log.Debug("Output stream ended", "error", err)
			}
			return
		}
	}
}

func (r *Run) track(p sandbox.Process) {
	r.mu.Lock()
	r.procs = append(r.procs, p)
	r.mu.Unlock()
	// spawned after Stop or release already swept the list
	if r.ctx.Err() != nil {
		p.Kill()
	}
}

// fail reports a failure and ends the run. A run that was cancelled,
// stopped or released ends quietly instead.
func (r *Run) fail(kind FailureKind, msg string, err error) {
	if cause := r.interrupted(); cause != nil {
		r.log.Debug("Run interrupted", "phase", r.Status(), "cause", cause)
		r.finish(cause)
		return
	}

	// Once ready, error is unreachable and every failure is a crash.
	to := StatusError
	if kind == FailureCrash || r.Status() == StatusReady {
		to = StatusCrashed
	}
	f := &Failure{Kind: kind, Message: msg, Err: err}
	r.log.Error("Workflow failed", "kind", kind, "message", msg, "error", err)
	r.o.metrics.failed(kind)
	r.emit(Failed{Run: r.id, Kind: kind, Message: msg, Err: err})
	r.setStatus(to)
	r.finish(f)
}

func (r *Run) interrupted() error {
	if l := r.lease.Load(); l != nil && l.Released() {
		return sandbox.ErrSessionReleased
	}
	return r.ctx.Err()
}

func (r *Run) finish(err error) {
	r.doneOnce.Do(func() {
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
		r.settle()
		r.cancel()
		close(r.done)
	})
}

func (r *Run) settle() {
	r.settledOnce.Do(func() { close(r.settled) })
}

func (r *Run) setStatus(to Status) {
	from, ok := r.m.advance(to)
	if !ok {
		r.log.Debug("Ignoring invalid transition", "from", from, "to", to)
		return
	}
	r.statusChanged(from, to)
}

func (r *Run) statusChanged(from, to Status) {
	now := time.Now()
	r.mu.Lock()
	if from.Busy() {
		r.o.metrics.phase(from, now.Sub(r.phaseStart))
	}
	r.phaseStart = now
	r.mu.Unlock()

	r.log.Debug("Status changed", "from", from, "to", to)
	r.emit(StatusChanged{Run: r.id, From: from, To: to, At: now})
}

func (r *Run) emit(e Event) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	if r.silenced {
		return
	}
	if l := r.lease.Load(); l != nil && l.Released() {
		r.silenced = true
		return
	}
	if r.obs != nil {
		r.obs.Observe(e)
	}
}

func (r *Run) output(s string) {
	r.emit(OutputChunk{Run: r.id, Data: []byte(s)})
}

func (r *Run) progress(msg, tail string) { r.output("\x1b[36m➜ " + msg + "\x1b[0m" + tail) }
func (r *Run) success(msg, tail string)  { r.output("\x1b[32m✓ " + msg + "\x1b[0m" + tail) }
