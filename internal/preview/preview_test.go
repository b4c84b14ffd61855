package preview

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zpdzap/sandpreview/internal/config"
	"github.com/zpdzap/sandpreview/internal/sandbox/sandboxtest"
	"github.com/zpdzap/sandpreview/internal/workflow"
)

func newProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"scripts":{"dev":"vite"}}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "index.js"), []byte("console.log(1)"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "vite"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "vite", "index.js"), []byte("x"), 0o644))
	return dir
}

func newController(t *testing.T, eng *sandboxtest.Engine) *Controller {
	t.Helper()
	dir := newProject(t)
	c, err := New(context.Background(), dir, config.Default("demo"), WithEngine(eng))
	require.NoError(t, err)
	t.Cleanup(func() { c.Shutdown(context.Background()) })
	return c
}

func readyEngine() *sandboxtest.Engine {
	eng := sandboxtest.NewEngine()
	eng.Scripts["npm run dev"] = sandboxtest.Script{ReadyPort: 3000, Hold: make(chan struct{})}
	return eng
}

func waitStatus(t *testing.T, c *Controller, want workflow.Status) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Snapshot().Status == want }, 5*time.Second, 5*time.Millisecond,
		"status never became %s", want)
}

func TestLoadTreeFromDirectory(t *testing.T) {
	c := newController(t, sandboxtest.NewEngine())
	tree, err := c.LoadTree()
	require.NoError(t, err)

	var paths []string
	for _, e := range tree.Files() {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"package.json", "src/index.js"}, paths, "node_modules is ignored")
}

func TestLoadTreeFromFile(t *testing.T) {
	c := newController(t, sandboxtest.NewEngine())
	path := filepath.Join(c.ProjectDir(), "tree.yaml")
	require.NoError(t, os.WriteFile(path, []byte("package.json: '{}'\nsrc/main.ts: 'export {}'\n"), 0o644))
	c.cfg.Files.Source = "tree.yaml"

	tree, err := c.LoadTree()
	require.NoError(t, err)
	assert.Len(t, tree.Files(), 2)
}

func TestStartReachesReadyAndFeedsStore(t *testing.T) {
	eng := readyEngine()
	c := newController(t, eng)

	events, cancel := c.Bus().Subscribe()
	defer cancel()

	run, err := c.Start(context.Background())
	require.NoError(t, err)
	waitStatus(t, c, workflow.StatusReady)

	snap := c.Snapshot()
	assert.Equal(t, run.ID(), snap.RunID)
	assert.Equal(t, "http://localhost:3000/", snap.URL)
	assert.Contains(t, string(snap.Output), "Server ready on port 3000")

	again, err := c.Start(context.Background())
	require.NoError(t, err)
	assert.Same(t, run, again, "a live run is not restarted")

	select {
	case e := <-events:
		assert.Equal(t, run.ID(), e.RunID())
	case <-time.After(5 * time.Second):
		t.Fatal("bus delivered nothing")
	}
}

func TestRestartBootsFresh(t *testing.T) {
	eng := readyEngine()
	c := newController(t, eng)

	first, err := c.Start(context.Background())
	require.NoError(t, err)
	waitStatus(t, c, workflow.StatusReady)
	keyBefore := c.Snapshot().FrameKey

	second, err := c.Restart(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())
	waitStatus(t, c, workflow.StatusReady)

	assert.Equal(t, 2, eng.Boots())
	assert.True(t, eng.Instances()[0].TornDown())
	assert.Greater(t, c.Snapshot().FrameKey, keyBefore)
}

func TestStartCanceledContextDoesNotStopRun(t *testing.T) {
	eng := readyEngine()
	c := newController(t, eng)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := c.Start(ctx)
	require.NoError(t, err)
	cancel()

	waitStatus(t, c, workflow.StatusReady)
}

func TestShutdownTearsDown(t *testing.T) {
	eng := readyEngine()
	c := newController(t, eng)

	_, err := c.Start(context.Background())
	require.NoError(t, err)
	waitStatus(t, c, workflow.StatusReady)

	require.NoError(t, c.Shutdown(context.Background()))
	assert.True(t, eng.Instances()[0].TornDown())
	assert.Nil(t, c.Session().Current())
	assert.Nil(t, c.Run())
}

func TestReload(t *testing.T) {
	c := newController(t, sandboxtest.NewEngine())
	k := c.Reload()
	assert.Equal(t, k+1, c.Reload())
}

func TestBootSpecFromConfig(t *testing.T) {
	cfg := config.Default("demo")
	cfg.Sandbox.BootTimeout = "45s"
	cfg.Workflow.Ports = []int{5173}

	spec, err := BootSpec("/work/demo", cfg)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, spec.Timeout)
	assert.Equal(t, []int{5173}, spec.Ports)
	assert.Equal(t, 250*time.Millisecond, spec.Probe.Interval)
	assert.Equal(t, "/work/demo", spec.ProjectDir)

	cfg.Workflow.ProbeInterval = "soon"
	_, err = BootSpec("/work/demo", cfg)
	assert.ErrorContains(t, err, "workflow.probe_interval")
}

func TestConcurrentStartsShareOneRun(t *testing.T) {
	eng := readyEngine()
	c := newController(t, eng)

	const n = 8
	runs := make([]*workflow.Run, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runs[i], errs[i] = c.Start(context.Background())
		}()
	}
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		assert.Same(t, runs[0], runs[i])
	}
	waitStatus(t, c, workflow.StatusReady)
	assert.Equal(t, 1, eng.Boots())
}
