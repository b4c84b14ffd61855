package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"

	"github.com/zpdzap/sandpreview/internal/config"
)

// Session owns at most one live instance for a project. Concurrent Acquire
// calls share a single in-flight boot; Release tears the instance down so the
// next Acquire boots fresh.
type Session struct {
	engine Engine
	spec   BootSpec
	log    *slog.Logger
	lock   *flock.Flock // nil when the session is not tied to a project dir

	group singleflight.Group

	mu    sync.Mutex
	lease *Lease
	gen   uint64
	boots int
}

// Lease is a handle on the shared instance. It is invalidated by Release.
type Lease struct {
	Instance
	done chan struct{}
}

// Done is closed when the lease's instance is released.
func (l *Lease) Done() <-chan struct{} { return l.done }

// Released reports whether the instance has been released.
func (l *Lease) Released() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

type Option func(*Session)

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// NewSession creates a session. When spec.ProjectDir is set, the live
// instance is persisted to the project's state file and guarded by a file
// lock so only one process can own it.
func NewSession(engine Engine, spec BootSpec, opts ...Option) *Session {
	s := &Session{
		engine: engine,
		spec:   spec,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if spec.ProjectDir != "" {
		s.lock = flock.New(filepath.Join(spec.ProjectDir, config.Dir, config.LockFile))
	}
	return s
}

// Engine returns the engine the session boots with.
func (s *Session) Engine() Engine { return s.engine }

// Acquire returns the shared instance, booting it on first use. Callers that
// arrive during a boot wait for that boot. A failed boot is not cached.
//
// The boot itself runs detached from ctx, bounded by BootSpec.Timeout, so one
// impatient caller cannot fail the boot for everyone waiting on it.
func (s *Session) Acquire(ctx context.Context) (*Lease, error) {
	s.mu.Lock()
	if s.lease != nil {
		l := s.lease
		s.mu.Unlock()
		return l, nil
	}
	gen := s.gen
	s.mu.Unlock()

	ch := s.group.DoChan("boot-"+strconv.FormatUint(gen, 10), func() (any, error) {
		return s.boot(gen)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Lease), nil
	}
}

func (s *Session) boot(gen uint64) (*Lease, error) {
	s.mu.Lock()
	if s.lease != nil && s.gen == gen {
		l := s.lease
		s.mu.Unlock()
		return l, nil
	}
	s.mu.Unlock()

	ctx := context.Background()
	if s.spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.spec.Timeout)
		defer cancel()
	}

	if err := s.lockProject(); err != nil {
		return nil, err
	}

	s.log.Info("Booting sandbox", "engine", s.engine.Name(), "project", s.spec.Project)
	start := time.Now()
	inst, err := s.engine.Boot(ctx, s.spec)
	if err != nil {
		s.unlockIfIdle()
		return nil, fmt.Errorf("booting %s sandbox: %w", s.engine.Name(), err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.log.Warn("Sandbox released during boot, tearing down", "id", inst.ID())
		if err := inst.Teardown(context.Background()); err != nil {
			s.log.Error("Teardown after release failed", "id", inst.ID(), "error", err)
		}
		return nil, ErrSessionReleased
	}
	lease := &Lease{Instance: inst, done: make(chan struct{})}
	s.lease = lease
	s.boots++
	// Written under mu so a concurrent Release clears it afterwards.
	rec := inst.Record()
	s.persist(&State{Instance: &rec})
	s.mu.Unlock()

	s.log.Info("Sandbox booted", "id", inst.ID(), "name", rec.Name, "took", time.Since(start).Round(time.Millisecond))
	return lease, nil
}

// Release tears down the live instance, if any, and invalidates its lease.
func (s *Session) Release(ctx context.Context) error {
	s.mu.Lock()
	lease := s.lease
	s.lease = nil
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	if lease == nil {
		s.unlockIfIdle()
		return nil
	}

	close(lease.done)
	s.log.Info("Releasing sandbox", "id", lease.ID())
	err := lease.Teardown(ctx)
	s.mu.Lock()
	// A boot that started after this release owns the state file now.
	if s.gen == gen && s.lease == nil {
		s.persist(&State{})
	}
	s.mu.Unlock()
	s.unlockIfIdle()
	if err != nil {
		return fmt.Errorf("tearing down sandbox %s: %w", lease.ID(), err)
	}
	return nil
}

// Current returns the live lease without booting, or nil.
func (s *Session) Current() *Lease {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lease
}

// Boots returns how many instances this session has booted.
func (s *Session) Boots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boots
}

// Reconcile destroys an instance recorded in the state file by a process that
// exited without releasing it. It returns the destroyed record, if any.
func (s *Session) Reconcile(ctx context.Context) (*Record, error) {
	if s.spec.ProjectDir == "" {
		return nil, nil
	}
	if s.Current() != nil {
		return nil, nil
	}
	if err := s.lockProject(); err != nil {
		return nil, err
	}
	defer s.unlockIfIdle()

	state, err := LoadState(s.spec.ProjectDir)
	if err != nil {
		return nil, err
	}
	rec := state.Instance
	if rec == nil {
		return nil, nil
	}
	if rec.Engine != s.engine.Name() {
		return nil, fmt.Errorf("stale sandbox %s was booted with %s, not %s", rec.Name, rec.Engine, s.engine.Name())
	}

	s.log.Info("Destroying stale sandbox", "name", rec.Name, "booted_at", rec.BootedAt)
	if err := s.engine.Destroy(ctx, *rec); err != nil {
		return nil, fmt.Errorf("destroying stale sandbox %s: %w", rec.Name, err)
	}
	s.persist(&State{})
	return rec, nil
}

func (s *Session) lockProject() error {
	if s.lock == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.lock.Path()), 0o755); err != nil {
		return fmt.Errorf("creating lock dir: %w", err)
	}
	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("locking session: %w", err)
	}
	if !ok {
		return ErrSessionBusy
	}
	return nil
}

func (s *Session) unlockIfIdle() {
	if s.lock == nil || s.Current() != nil {
		return
	}
	if err := s.lock.Unlock(); err != nil {
		s.log.Warn("Failed to release session lock", "error", err)
	}
}

func (s *Session) persist(state *State) {
	if s.spec.ProjectDir == "" {
		return
	}
	if err := SaveState(s.spec.ProjectDir, state); err != nil {
		s.log.Warn("Failed to save sandbox state", "error", err)
	}
}
