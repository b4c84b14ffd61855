package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/zpdzap/sandpreview/internal/fstree"
	"github.com/zpdzap/sandpreview/internal/workdir"
)

const (
	labelProject = "sandpreview.project"
	labelSession = "sandpreview.session"
	mountPoint   = "/workspace"
)

// containerEngine drives the docker or podman CLI. Each instance is a
// long-lived container whose /workspace is a bind-mounted host workdir.
type containerEngine struct {
	bin string
	log *slog.Logger
}

// NewContainerEngine returns an engine for the docker or podman binary.
func NewContainerEngine(bin string, log *slog.Logger) Engine {
	if log == nil {
		log = slog.Default()
	}
	return &containerEngine{bin: bin, log: log}
}

func (e *containerEngine) Name() string { return e.bin }

func (e *containerEngine) Boot(ctx context.Context, spec BootSpec) (Instance, error) {
	id := ulid.Make().String()
	name := containerName(spec.Project, id)

	wd, err := workdir.Create(spec.ProjectDir, name)
	if err != nil {
		return nil, err
	}

	args := buildRunArgs(e.bin, name, id, wd, spec)
	out, err := exec.CommandContext(ctx, e.bin, args...).CombinedOutput()
	if err != nil {
		workdir.Remove(spec.ProjectDir, name)
		return nil, fmt.Errorf("%s run failed: %s: %w", e.bin, strings.TrimSpace(string(out)), err)
	}

	inst := &containerInstance{
		engine:     e,
		projectDir: spec.ProjectDir,
		spec:       spec,
		rec: Record{
			ID:       id,
			Engine:   e.bin,
			Name:     name,
			Workdir:  wd,
			BootedAt: time.Now().UTC(),
		},
	}
	inst.rec.Ports = e.queryPorts(ctx, name)
	return inst, nil
}

func (e *containerEngine) Destroy(ctx context.Context, rec Record) error {
	out, err := exec.CommandContext(ctx, e.bin, "rm", "-f", rec.Name).CombinedOutput()
	if err != nil && !strings.Contains(string(out), "No such container") && !strings.Contains(string(out), "no such container") {
		return fmt.Errorf("%s rm failed: %s: %w", e.bin, strings.TrimSpace(string(out)), err)
	}
	if rec.Workdir != "" {
		return workdir.RemoveDir(rec.Workdir)
	}
	return nil
}

// CleanupOrphans removes every container labelled for project except the
// one named keep.
func (e *containerEngine) CleanupOrphans(ctx context.Context, project, keep string) error {
	out, err := exec.CommandContext(ctx, e.bin, "ps", "-a",
		"--filter", "label="+labelProject+"="+project,
		"--format", "{{.Names}}").CombinedOutput()
	if err != nil {
		return fmt.Errorf("listing containers: %s: %w", strings.TrimSpace(string(out)), err)
	}
	for _, name := range strings.Fields(string(out)) {
		if name == keep {
			continue
		}
		e.log.Info("Removing orphaned sandbox", "name", name)
		_ = exec.CommandContext(ctx, e.bin, "rm", "-f", name).Run()
	}
	return nil
}

func (e *containerEngine) queryPorts(ctx context.Context, name string) map[int]int {
	out, err := exec.CommandContext(ctx, e.bin, "port", name).CombinedOutput()
	if err != nil {
		return map[int]int{}
	}
	return parsePorts(string(out))
}

// parsePorts reads `docker port` lines like "3000/tcp -> 0.0.0.0:49321" or
// "3000/tcp -> [::]:49321" into sandbox port → host port. Malformed lines
// are skipped.
func parsePorts(out string) map[int]int {
	ports := make(map[int]int)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		inner, hostAddr, ok := strings.Cut(line, " -> ")
		if !ok {
			continue
		}
		inner, _, _ = strings.Cut(inner, "/")
		sandboxPort, err := strconv.Atoi(strings.TrimSpace(inner))
		if err != nil {
			continue
		}
		idx := strings.LastIndex(hostAddr, ":")
		if idx < 0 {
			continue
		}
		hostPort, err := strconv.Atoi(strings.TrimSpace(hostAddr[idx+1:]))
		if err != nil || hostPort <= 0 {
			continue
		}
		// IPv4 and IPv6 bindings repeat the same host port.
		if _, seen := ports[sandboxPort]; !seen {
			ports[sandboxPort] = hostPort
		}
	}
	return ports
}

func containerName(project, id string) string {
	project = strings.ToLower(project)
	var b strings.Builder
	for _, r := range project {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	short := strings.ToLower(id[len(id)-8:])
	if b.Len() == 0 {
		return "sp-" + short
	}
	return fmt.Sprintf("sp-%s-%s", strings.Trim(b.String(), "-_"), short)
}

func buildRunArgs(bin, name, id, wd string, spec BootSpec) []string {
	cpus := spec.CPUs
	if cpus <= 0 {
		cpus = 1.0
	}
	memoryMB := spec.MemoryMB
	if memoryMB <= 0 {
		memoryMB = 1024
	}
	pids := spec.PidsLimit
	if pids <= 0 {
		pids = 512
	}

	args := []string{
		"run", "-d",
		"--name", name,
		"--label", labelProject + "=" + spec.Project,
		"--label", labelSession + "=" + id,
		"--security-opt", "no-new-privileges",
		"--pids-limit", strconv.Itoa(pids),
		"--memory", fmt.Sprintf("%dm", memoryMB),
		"--cpus", fmt.Sprintf("%.2f", cpus),
		"-w", mountPoint,
		"-e", "TERM=xterm-256color",
		"-e", "CI=1",
	}
	if spec.Network != "" {
		args = append(args, "--network", spec.Network)
	}
	if bin == "docker" {
		args = append(args, "--mount", fmt.Sprintf("type=bind,src=%s,dst=%s", wd, mountPoint))
	} else {
		args = append(args, "-v", fmt.Sprintf("%s:%s:Z", wd, mountPoint))
	}

	for _, port := range spec.Ports {
		args = append(args, "-p", fmt.Sprintf("127.0.0.1::%d", port))
	}
	for k, v := range spec.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	for _, mount := range spec.Mounts {
		args = append(args, "-v", mount)
	}

	args = append(args, spec.Image, "sleep", "infinity")
	return args
}

type containerInstance struct {
	engine     *containerEngine
	projectDir string
	spec       BootSpec
	rec        Record
}

func (i *containerInstance) ID() string     { return i.rec.ID }
func (i *containerInstance) Record() Record { return i.rec }

// Mount writes the tree into the bind-mounted workdir.
func (i *containerInstance) Mount(ctx context.Context, tree fstree.Tree) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return tree.Write(i.rec.Workdir)
}

func (i *containerInstance) Spawn(ctx context.Context, c Command) (Process, error) {
	args := []string{"exec"}
	if i.spec.TTY {
		args = append(args, "-it")
	}
	args = append(args, "-w", mountPoint)
	for k, v := range c.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, i.rec.Name, c.Name)
	args = append(args, c.Args...)

	i.engine.log.Debug("Spawning in sandbox", "name", i.rec.Name, "cmd", c.String())
	return startProcess(exec.CommandContext(ctx, i.engine.bin, args...), i.spec.TTY)
}

func (i *containerInstance) WaitServerReady(ctx context.Context) (ServerReady, error) {
	host := i.spec.Host
	if host == "" {
		host = "localhost"
	}
	var targets []target
	for _, port := range i.spec.Ports {
		hostPort, ok := i.rec.Ports[port]
		if !ok {
			continue
		}
		targets = append(targets, target{port: port, url: fmt.Sprintf("http://%s:%d/", host, hostPort)})
	}
	return waitReachable(ctx, targets, i.spec.Probe, i.engine.log)
}

func (i *containerInstance) Teardown(ctx context.Context) error {
	return i.engine.Destroy(ctx, i.rec)
}
