package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zpdzap/sandpreview/internal/fstree"
	"github.com/zpdzap/sandpreview/internal/sandbox"
	"github.com/zpdzap/sandpreview/internal/sandbox/sandboxtest"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Observe(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) statuses() []Status {
	var out []Status
	for _, e := range r.all() {
		if sc, ok := e.(StatusChanged); ok {
			out = append(out, sc.To)
		}
	}
	return out
}

func (r *recorder) failures() []Failed {
	var out []Failed
	for _, e := range r.all() {
		if f, ok := e.(Failed); ok {
			out = append(out, f)
		}
	}
	return out
}

func (r *recorder) output() string {
	var b strings.Builder
	for _, e := range r.all() {
		if c, ok := e.(OutputChunk); ok {
			b.Write(c.Data)
		}
	}
	return b.String()
}

func (r *recorder) reached(s Status) bool {
	for _, got := range r.statuses() {
		if got == s {
			return true
		}
	}
	return false
}

func sampleTree(t *testing.T) fstree.Tree {
	t.Helper()
	tree, err := fstree.ParseJSON([]byte(`{"package.json": "{\"scripts\":{\"dev\":\"vite\"}}", "src/index.js": "console.log('hi')"}`))
	require.NoError(t, err)
	return tree
}

func newHarness(t *testing.T, eng *sandboxtest.Engine, opts ...Option) (*Orchestrator, *sandbox.Session) {
	t.Helper()
	session := sandbox.NewSession(eng, sandbox.BootSpec{Project: "demo"})
	t.Cleanup(func() { session.Release(context.Background()) })
	return New(session, opts...), session
}

func waitDone(t *testing.T, run *Run) {
	t.Helper()
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not finish, status %s", run.Status())
	}
}

func TestRunReachesReady(t *testing.T) {
	eng := sandboxtest.NewEngine()
	eng.Scripts["npm install"] = sandboxtest.Script{Output: []string{"added 1 package\n"}}
	eng.Scripts["npm run dev"] = sandboxtest.Script{
		Output:    []string{"VITE ready\n"},
		ReadyPort: 3000,
		Hold:      make(chan struct{}),
	}
	o, _ := newHarness(t, eng)
	rec := &recorder{}

	run, err := o.Start(context.Background(), sampleTree(t), rec)
	require.NoError(t, err)
	defer run.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := run.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, status)
	assert.Equal(t, "http://localhost:3000/", run.URL())
	assert.Equal(t, 3000, run.Port())

	assert.Equal(t, []Status{StatusBooting, StatusMounting, StatusInstalling, StatusRunning, StatusReady}, rec.statuses())
	assert.Equal(t, []string{"npm install", "npm run dev"}, eng.Spawned())
	assert.Empty(t, rec.failures())

	out := rec.output()
	assert.Contains(t, out, "Sandbox booted!")
	assert.Contains(t, out, "added 1 package")
	assert.Contains(t, out, "Dependencies installed successfully!")
	assert.Contains(t, out, "Server ready on port 3000")

	mounted := eng.Instances()[0].Mounted()
	assert.Equal(t, []string{"package.json", "src/index.js"}, fileNames(mounted))
}

func fileNames(tree fstree.Tree) []string {
	var names []string
	for _, e := range tree.Files() {
		names = append(names, e.Path)
	}
	return names
}

func TestOutputPrecedesNextPhase(t *testing.T) {
	eng := sandboxtest.NewEngine()
	eng.Scripts["npm install"] = sandboxtest.Script{Output: []string{"chunk-1 ", "chunk-2\n"}}
	eng.Scripts["npm run dev"] = sandboxtest.Script{ReadyPort: 3000, Hold: make(chan struct{})}
	o, _ := newHarness(t, eng)
	rec := &recorder{}

	run, err := o.Start(context.Background(), sampleTree(t), rec)
	require.NoError(t, err)
	defer run.Stop()
	<-run.Settled()

	lastChunk, running := -1, -1
	for i, e := range rec.all() {
		switch e := e.(type) {
		case OutputChunk:
			if strings.Contains(string(e.Data), "chunk-2") {
				lastChunk = i
			}
		case StatusChanged:
			if e.To == StatusRunning {
				running = i
			}
		}
	}
	require.NotEqual(t, -1, lastChunk)
	require.NotEqual(t, -1, running)
	assert.Less(t, lastChunk, running)
}

func TestInstallFailureStopsWorkflow(t *testing.T) {
	eng := sandboxtest.NewEngine()
	eng.Scripts["npm install"] = sandboxtest.Script{Output: []string{"npm ERR! 404\n"}, Exit: 1}
	o, _ := newHarness(t, eng)
	rec := &recorder{}

	run, err := o.Start(context.Background(), sampleTree(t), rec)
	require.NoError(t, err)
	waitDone(t, run)

	assert.Equal(t, StatusError, run.Status())
	assert.Equal(t, []string{"npm install"}, eng.Spawned(), "run command must not be spawned")
	assert.NotContains(t, rec.statuses(), StatusRunning)

	fails := rec.failures()
	require.Len(t, fails, 1)
	assert.Equal(t, FailureInstall, fails[0].Kind)
	assert.Equal(t, "npm install failed. Check the terminal output for details.", fails[0].Message)

	var f *Failure
	require.ErrorAs(t, run.Err(), &f)
	assert.Equal(t, FailureInstall, f.Kind)

	// the failure is reported before the status flips
	events := rec.all()
	last := events[len(events)-1]
	assert.Equal(t, StatusChanged{Run: run.ID(), From: StatusInstalling, To: StatusError, At: last.(StatusChanged).At}, last)
	_, isFailed := events[len(events)-2].(Failed)
	assert.True(t, isFailed)
}

func TestNoReadyStaysRunning(t *testing.T) {
	eng := sandboxtest.NewEngine()
	eng.Scripts["npm run dev"] = sandboxtest.Script{Output: []string{"compiling...\n"}, Hold: make(chan struct{})}
	o, _ := newHarness(t, eng)

	run, err := o.Start(context.Background(), sampleTree(t), nil)
	require.NoError(t, err)
	defer run.Stop()

	require.Eventually(t, func() bool { return run.Status() == StatusRunning }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StatusRunning, run.Status())
	assert.Empty(t, run.URL())
	select {
	case <-run.Settled():
		t.Fatal("run settled without a ready server")
	default:
	}
}

func TestCrashAfterReadyKeepsURL(t *testing.T) {
	hold := make(chan struct{})
	eng := sandboxtest.NewEngine()
	eng.Scripts["npm run dev"] = sandboxtest.Script{ReadyPort: 3000, Hold: hold, Exit: 1}
	o, _ := newHarness(t, eng)
	rec := &recorder{}

	run, err := o.Start(context.Background(), sampleTree(t), rec)
	require.NoError(t, err)
	status, err := run.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusReady, status)

	close(hold)
	waitDone(t, run)

	assert.Equal(t, StatusCrashed, run.Status())
	assert.Equal(t, "http://localhost:3000/", run.URL())
	fails := rec.failures()
	require.Len(t, fails, 1)
	assert.Equal(t, FailureCrash, fails[0].Kind)
	assert.Equal(t, "Dev server exited with code 1", fails[0].Message)
}

func TestWaitErrorAfterReadyIsCrash(t *testing.T) {
	hold := make(chan struct{})
	eng := sandboxtest.NewEngine()
	eng.Scripts["npm run dev"] = sandboxtest.Script{ReadyPort: 3000, Hold: hold, WaitErr: errors.New("wait: i/o error")}
	o, _ := newHarness(t, eng)
	rec := &recorder{}

	run, err := o.Start(context.Background(), sampleTree(t), rec)
	require.NoError(t, err)
	status, err := run.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusReady, status)

	close(hold)
	waitDone(t, run)

	assert.Equal(t, StatusCrashed, run.Status())
	assert.Equal(t, []Status{StatusBooting, StatusMounting, StatusInstalling, StatusRunning, StatusReady, StatusCrashed}, rec.statuses())
	assert.Equal(t, "http://localhost:3000/", run.URL())
	fails := rec.failures()
	require.Len(t, fails, 1)
	assert.Equal(t, FailureCrash, fails[0].Kind)
}

func TestRunExitBeforeReady(t *testing.T) {
	eng := sandboxtest.NewEngine()
	eng.Scripts["npm run dev"] = sandboxtest.Script{Output: []string{"Error: Cannot find module\n"}, Exit: 2}
	o, _ := newHarness(t, eng)
	rec := &recorder{}

	run, err := o.Start(context.Background(), sampleTree(t), rec)
	require.NoError(t, err)
	waitDone(t, run)

	assert.Equal(t, StatusError, run.Status())
	assert.Empty(t, run.URL())
	fails := rec.failures()
	require.Len(t, fails, 1)
	assert.Equal(t, FailureRun, fails[0].Kind)
	assert.Equal(t, "Dev server exited with code 2", fails[0].Message)
}

func TestCleanExitIsNotAFailure(t *testing.T) {
	eng := sandboxtest.NewEngine()
	eng.Scripts["npm run dev"] = sandboxtest.Script{Output: []string{"built\n"}}
	o, _ := newHarness(t, eng)
	rec := &recorder{}

	run, err := o.Start(context.Background(), sampleTree(t), rec)
	require.NoError(t, err)
	waitDone(t, run)

	assert.NoError(t, run.Err())
	assert.Empty(t, rec.failures())
	assert.Equal(t, StatusRunning, run.Status())
	assert.Contains(t, rec.output(), "Dev server exited with code 0")
}

func TestBootAndMountFailures(t *testing.T) {
	t.Run("boot", func(t *testing.T) {
		eng := sandboxtest.NewEngine()
		eng.BootErr = assert.AnError
		o, _ := newHarness(t, eng)
		rec := &recorder{}

		run, err := o.Start(context.Background(), sampleTree(t), rec)
		require.NoError(t, err)
		waitDone(t, run)

		assert.Equal(t, []Status{StatusBooting, StatusError}, rec.statuses())
		require.Len(t, rec.failures(), 1)
		assert.Equal(t, FailureBoot, rec.failures()[0].Kind)
		assert.ErrorIs(t, run.Err(), assert.AnError)
	})

	t.Run("mount", func(t *testing.T) {
		eng := sandboxtest.NewEngine()
		eng.MountErr = assert.AnError
		o, _ := newHarness(t, eng)
		rec := &recorder{}

		run, err := o.Start(context.Background(), sampleTree(t), rec)
		require.NoError(t, err)
		waitDone(t, run)

		assert.Equal(t, []Status{StatusBooting, StatusMounting, StatusError}, rec.statuses())
		assert.Equal(t, FailureMount, rec.failures()[0].Kind)
		assert.Empty(t, eng.Spawned())
	})
}

func TestReleaseSilencesInFlightRun(t *testing.T) {
	eng := sandboxtest.NewEngine()
	eng.Scripts["npm install"] = sandboxtest.Script{Output: []string{"resolving...\n"}, Hold: make(chan struct{})}
	o, session := newHarness(t, eng)
	rec := &recorder{}

	run, err := o.Start(context.Background(), sampleTree(t), rec)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.reached(StatusInstalling) }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, session.Release(context.Background()))
	seen := len(rec.all())
	waitDone(t, run)

	assert.ErrorIs(t, run.Err(), sandbox.ErrSessionReleased)
	assert.Len(t, rec.all(), seen, "no events after release")
	assert.Empty(t, rec.failures())
	assert.Equal(t, []string{"npm install"}, eng.Spawned())
}

func TestStopSuppressesCrash(t *testing.T) {
	eng := sandboxtest.NewEngine()
	eng.Scripts["npm run dev"] = sandboxtest.Script{ReadyPort: 5173, Hold: make(chan struct{})}
	o, _ := newHarness(t, eng)
	rec := &recorder{}

	run, err := o.Start(context.Background(), sampleTree(t), rec)
	require.NoError(t, err)
	status, _ := run.Wait(context.Background())
	require.Equal(t, StatusReady, status)

	run.Stop()
	assert.Equal(t, StatusReady, run.Status())
	assert.Empty(t, rec.failures())
	assert.ErrorIs(t, run.Err(), context.Canceled)
}

func TestCustomCommands(t *testing.T) {
	eng := sandboxtest.NewEngine()
	eng.Scripts["pnpm install --frozen-lockfile"] = sandboxtest.Script{Exit: 1}
	install := sandbox.Command{Name: "pnpm", Args: []string{"install", "--frozen-lockfile"}}
	o, _ := newHarness(t, eng, WithInstall(install), WithRun(sandbox.Command{Name: "pnpm", Args: []string{"dev"}}))
	rec := &recorder{}

	run, err := o.Start(context.Background(), sampleTree(t), rec)
	require.NoError(t, err)
	waitDone(t, run)

	require.Len(t, rec.failures(), 1)
	assert.Equal(t, "pnpm install --frozen-lockfile failed. Check the terminal output for details.", rec.failures()[0].Message)
}

func TestStartRejectsInvalidTree(t *testing.T) {
	o, _ := newHarness(t, sandboxtest.NewEngine())
	tree := fstree.Tree{"..": &fstree.Node{File: &fstree.File{Contents: []byte("x")}}}
	_, err := o.Start(context.Background(), tree, nil)
	assert.Error(t, err)
}

func TestSecondRunReusesSession(t *testing.T) {
	eng := sandboxtest.NewEngine()
	o, _ := newHarness(t, eng)

	for i := 0; i < 2; i++ {
		run, err := o.Start(context.Background(), sampleTree(t), nil)
		require.NoError(t, err)
		waitDone(t, run)
	}
	assert.Equal(t, 1, eng.Boots())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	eng := sandboxtest.NewEngine()
	eng.Scripts["npm install"] = sandboxtest.Script{Exit: 1}
	o, _ := newHarness(t, eng, WithMetrics(m))

	run, err := o.Start(context.Background(), sampleTree(t), nil)
	require.NoError(t, err)
	waitDone(t, run)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Failures.WithLabelValues(string(FailureInstall))))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RunsReady))
	assert.Equal(t, 3, testutil.CollectAndCount(m.PhaseDuration))
}

func TestStopKillsLocalDevServerTree(t *testing.T) {
	session := sandbox.NewSession(sandbox.NewLocalEngine(nil), sandbox.BootSpec{Project: "demo", ProjectDir: t.TempDir()})
	t.Cleanup(func() { session.Release(context.Background()) })
	o := New(session,
		WithInstall(sandbox.Command{Name: "true"}),
		WithRun(sandbox.Command{Name: "sh", Args: []string{"-c", "sleep 30; true"}}))

	run, err := o.Start(context.Background(), sampleTree(t), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return run.Status() == StatusRunning }, 5*time.Second, 10*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		run.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatalf("Stop blocked, status %s", run.Status())
	}
}
