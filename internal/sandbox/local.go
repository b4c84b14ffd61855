package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/zpdzap/sandpreview/internal/fstree"
	"github.com/zpdzap/sandpreview/internal/workdir"
)

// localEngine runs commands as plain host processes inside a per-instance
// workdir. It offers no isolation and exists for machines without a
// container engine.
type localEngine struct {
	log *slog.Logger
}

// NewLocalEngine returns an engine that runs commands on the host.
func NewLocalEngine(log *slog.Logger) Engine {
	if log == nil {
		log = slog.Default()
	}
	return &localEngine{log: log}
}

func (e *localEngine) Name() string { return "local" }

func (e *localEngine) Boot(ctx context.Context, spec BootSpec) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := ulid.Make().String()
	name := containerName(spec.Project, id)
	wd, err := workdir.Create(spec.ProjectDir, name)
	if err != nil {
		return nil, err
	}

	ports := make(map[int]int, len(spec.Ports))
	for _, p := range spec.Ports {
		ports[p] = p
	}
	return &localInstance{
		engine: e,
		spec:   spec,
		rec: Record{
			ID:       id,
			Engine:   e.Name(),
			Name:     name,
			Workdir:  wd,
			Ports:    ports,
			BootedAt: time.Now().UTC(),
		},
	}, nil
}

// Destroy removes the workdir. Processes of a crashed owner are gone with it.
func (e *localEngine) Destroy(ctx context.Context, rec Record) error {
	if rec.Workdir == "" {
		return nil
	}
	return workdir.RemoveDir(rec.Workdir)
}

type localInstance struct {
	engine *localEngine
	spec   BootSpec
	rec    Record

	mu    sync.Mutex
	procs []*execProcess
}

func (i *localInstance) ID() string     { return i.rec.ID }
func (i *localInstance) Record() Record { return i.rec }

func (i *localInstance) Mount(ctx context.Context, tree fstree.Tree) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return tree.Write(i.rec.Workdir)
}

func (i *localInstance) Spawn(ctx context.Context, c Command) (Process, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = i.rec.Workdir
	cmd.Env = os.Environ()
	for k, v := range i.spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	for k, v := range c.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	i.engine.log.Debug("Spawning on host", "dir", i.rec.Workdir, "cmd", c.String())
	p, err := startProcess(cmd, i.spec.TTY)
	if err != nil {
		return nil, err
	}
	i.mu.Lock()
	i.procs = append(i.procs, p)
	i.mu.Unlock()
	return p, nil
}

func (i *localInstance) WaitServerReady(ctx context.Context) (ServerReady, error) {
	host := i.spec.Host
	if host == "" {
		host = "localhost"
	}
	targets := make([]target, 0, len(i.spec.Ports))
	for _, port := range i.spec.Ports {
		targets = append(targets, target{port: port, url: fmt.Sprintf("http://%s:%d/", host, port)})
	}
	return waitReachable(ctx, targets, i.spec.Probe, i.engine.log)
}

// Teardown kills every process spawned in the instance and removes its
// workdir.
func (i *localInstance) Teardown(ctx context.Context) error {
	i.mu.Lock()
	procs := i.procs
	i.procs = nil
	i.mu.Unlock()

	for _, p := range procs {
		if err := p.Kill(); err != nil {
			i.engine.log.Warn("Failed to kill process", "error", err)
		}
	}
	return i.engine.Destroy(ctx, i.rec)
}
