// Package preview wires config, sandbox session, orchestrator, event bus and
// workspace store into the controller every front end drives.
package preview

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zpdzap/sandpreview/internal/config"
	"github.com/zpdzap/sandpreview/internal/fstree"
	"github.com/zpdzap/sandpreview/internal/sandbox"
	"github.com/zpdzap/sandpreview/internal/store"
	"github.com/zpdzap/sandpreview/internal/workflow"
)

// Controller owns one project's preview. It is safe for concurrent use.
type Controller struct {
	cfg        *config.Config
	projectDir string
	log        *slog.Logger

	session  *sandbox.Session
	orch     *workflow.Orchestrator
	bus      *workflow.Bus
	store    *store.Workspace
	registry *prometheus.Registry

	mu   sync.Mutex
	run  *workflow.Run
	tree fstree.Tree
}

type Option func(*options)

type options struct {
	engine   sandbox.Engine
	registry *prometheus.Registry
	log      *slog.Logger
}

// WithEngine skips engine detection.
func WithEngine(e sandbox.Engine) Option { return func(o *options) { o.engine = e } }

// WithRegistry registers workflow metrics with reg instead of a fresh
// registry.
func WithRegistry(reg *prometheus.Registry) Option { return func(o *options) { o.registry = reg } }

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.log = l } }

// New builds a controller for the project at projectDir.
func New(ctx context.Context, projectDir string, cfg *config.Config, opts ...Option) (*Controller, error) {
	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}

	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("resolving project dir: %w", err)
	}

	engine := o.engine
	if engine == nil {
		engine, err = sandbox.NewEngine(ctx, cfg.Sandbox.Engine, o.log)
		if err != nil {
			return nil, err
		}
	}

	spec, err := BootSpec(absDir, cfg)
	if err != nil {
		return nil, err
	}

	session := sandbox.NewSession(engine, spec, sandbox.WithLogger(o.log))
	metrics := workflow.NewMetrics(o.registry)
	orch := workflow.New(session,
		workflow.WithInstall(command(cfg.Workflow.Install)),
		workflow.WithRun(command(cfg.Workflow.Run)),
		workflow.WithLogger(o.log),
		workflow.WithMetrics(metrics),
	)

	return &Controller{
		cfg:        cfg,
		projectDir: absDir,
		log:        o.log,
		session:    session,
		orch:       orch,
		bus:        workflow.NewBus(),
		store:      store.New(cfg.Workflow.OutputBuffer),
		registry:   o.registry,
	}, nil
}

// BootSpec translates the sandbox and workflow config.
func BootSpec(projectDir string, cfg *config.Config) (sandbox.BootSpec, error) {
	timeout, err := config.DurationOrDefault(cfg.Sandbox.BootTimeout, config.DefaultBootTimeout)
	if err != nil {
		return sandbox.BootSpec{}, fmt.Errorf("sandbox.boot_timeout: %w", err)
	}
	interval, err := config.DurationOrDefault(cfg.Workflow.ProbeInterval, config.DefaultProbeInterval)
	if err != nil {
		return sandbox.BootSpec{}, fmt.Errorf("workflow.probe_interval: %w", err)
	}
	maxInterval, err := config.DurationOrDefault(cfg.Workflow.ProbeMaxInterval, config.DefaultProbeMaxInterval)
	if err != nil {
		return sandbox.BootSpec{}, fmt.Errorf("workflow.probe_max_interval: %w", err)
	}

	return sandbox.BootSpec{
		Project:    cfg.Project,
		ProjectDir: projectDir,
		Image:      cfg.Sandbox.Image,
		Ports:      cfg.Workflow.Ports,
		Host:       cfg.Workflow.Host,
		CPUs:       cfg.Sandbox.CPUs,
		MemoryMB:   cfg.Sandbox.MemoryMB,
		PidsLimit:  cfg.Sandbox.PidsLimit,
		Network:    cfg.Sandbox.Network,
		TTY:        cfg.Sandbox.TTY,
		Env:        cfg.Sandbox.Env,
		Mounts:     cfg.Sandbox.Mounts,
		Timeout:    timeout,
		Probe:      sandbox.ProbeConfig{Interval: interval, MaxInterval: maxInterval},
	}, nil
}

func command(c config.Command) sandbox.Command {
	return sandbox.Command{Name: c.Command, Args: c.Args}
}

func (c *Controller) Config() *config.Config         { return c.cfg }
func (c *Controller) ProjectDir() string             { return c.projectDir }
func (c *Controller) Bus() *workflow.Bus             { return c.bus }
func (c *Controller) Store() *store.Workspace        { return c.store }
func (c *Controller) Session() *sandbox.Session      { return c.session }
func (c *Controller) Registry() *prometheus.Registry { return c.registry }
func (c *Controller) EngineName() string             { return c.session.Engine().Name() }
func (c *Controller) Snapshot() store.Snapshot       { return c.store.Snapshot() }

// Run returns the current run, or nil before the first Start.
func (c *Controller) Run() *workflow.Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run
}

// Tree returns the tree the current run mounted.
func (c *Controller) Tree() fstree.Tree {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree
}

// LoadTree reads files.source: a directory snapshot, or a .json/.yaml tree
// file.
func (c *Controller) LoadTree() (fstree.Tree, error) {
	src := c.cfg.Files.Source
	if src == "" {
		src = "."
	}
	if !filepath.IsAbs(src) {
		src = filepath.Join(c.projectDir, src)
	}

	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("reading files.source: %w", err)
	}
	if !info.IsDir() {
		return fstree.Load(src)
	}

	ignore := c.cfg.Files.Ignore
	if len(ignore) == 0 {
		ignore = fstree.DefaultIgnore
	}
	tree, err := fstree.FromDir(src, fstree.DirOptions{Ignore: ignore, MaxFileSize: c.cfg.Files.MaxFileSize})
	if err != nil {
		return nil, fmt.Errorf("snapshotting %s: %w", src, err)
	}
	if len(tree) == 0 {
		return nil, fmt.Errorf("no files found in %s", src)
	}
	return tree, nil
}

// Start loads the tree and starts a run. A run already in progress is
// returned unchanged.
func (c *Controller) Start(ctx context.Context) (*workflow.Run, error) {
	c.mu.Lock()
	if c.run != nil && !isOver(c.run) {
		r := c.run
		c.mu.Unlock()
		return r, nil
	}
	c.mu.Unlock()

	tree, err := c.LoadTree()
	if err != nil {
		return nil, err
	}
	return c.StartTree(ctx, tree)
}

// StartTree starts a run mounting tree, replacing a finished run. A run
// already in progress is returned unchanged and tree is ignored. The run
// outlives ctx; it ends through Restart or Shutdown.
func (c *Controller) StartTree(ctx context.Context, tree fstree.Tree) (*workflow.Run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != nil && !isOver(c.run) {
		return c.run, nil
	}

	obs := workflow.Observers{c.store, c.bus}
	run, err := c.orch.Start(context.WithoutCancel(ctx), tree, obs)
	if err != nil {
		return nil, err
	}
	c.run, c.tree = run, tree
	c.log.Info("Preview started", "run", run.ID(), "files", len(tree.Files()), "engine", c.EngineName())
	return run, nil
}

// Restart stops the current run, releases the sandbox, clears the
// workspace and starts over with a fresh boot.
func (c *Controller) Restart(ctx context.Context) (*workflow.Run, error) {
	if err := c.stop(ctx); err != nil {
		c.log.Warn("Release before restart failed", "error", err)
	}
	c.store.Reset()
	return c.Start(ctx)
}

// Reload remounts the preview frame.
func (c *Controller) Reload() int {
	return c.store.Reload()
}

// Shutdown stops the run, tears the sandbox down and closes the bus.
func (c *Controller) Shutdown(ctx context.Context) error {
	err := c.stop(ctx)
	c.bus.Close()
	return err
}

func (c *Controller) stop(ctx context.Context) error {
	c.mu.Lock()
	run := c.run
	c.run = nil
	c.mu.Unlock()

	if run != nil {
		run.Stop()
	}
	return c.session.Release(ctx)
}

// InstallHint is shown when no config exists yet.
func InstallHint(projectDir string) string {
	return strings.TrimSpace(fmt.Sprintf("No %s found in %s. Run `sp init` first.",
		filepath.Join(config.Dir, config.ConfigFile), projectDir))
}

func isOver(r *workflow.Run) bool {
	select {
	case <-r.Done():
		return true
	default:
		return false
	}
}
