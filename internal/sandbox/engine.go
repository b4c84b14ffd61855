package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// OrphanCleaner is implemented by engines that can find sandboxes by label
// after their state record is lost.
type OrphanCleaner interface {
	CleanupOrphans(ctx context.Context, project, keep string) error
}

// NewEngine resolves an engine by name. "auto" picks docker when its daemon
// answers, then podman.
func NewEngine(ctx context.Context, name string, log *slog.Logger) (Engine, error) {
	switch name {
	case "local":
		return NewLocalEngine(log), nil
	case "docker", "podman":
		if err := validateEngine(ctx, name); err != nil {
			return nil, err
		}
		return NewContainerEngine(name, log), nil
	case "", "auto":
		for _, bin := range []string{"docker", "podman"} {
			if err := validateEngine(ctx, bin); err == nil {
				return NewContainerEngine(bin, log), nil
			} else if log != nil {
				log.Debug("Engine unavailable", "engine", bin, "error", err)
			}
		}
		return nil, fmt.Errorf("%w: neither docker nor podman is usable", ErrNoEngine)
	default:
		return nil, fmt.Errorf("%w: unknown engine %q", ErrNoEngine, name)
	}
}

func validateEngine(ctx context.Context, bin string) error {
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("%s not found in PATH", bin)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, bin, "info").CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s info failed: %s", bin, strings.TrimSpace(string(out)))
	}
	return nil
}
