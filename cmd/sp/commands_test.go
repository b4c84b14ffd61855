package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zpdzap/sandpreview/internal/workdir"
	"github.com/zpdzap/sandpreview/internal/workflow"
)

func TestUpdateGitignore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")
	require.NoError(t, os.WriteFile(path, []byte("node_modules/\n.sandpreview/sp.log"), 0o644))

	require.NoError(t, updateGitignore(dir))
	require.NoError(t, updateGitignore(dir))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "node_modules/\n.sandpreview/sp.log\n"+
		"\n# sandpreview\n"+
		".sandpreview/workdirs/\n"+
		".sandpreview/state.json\n"+
		".sandpreview/session.lock\n", string(data))
}

func TestInitialConfigUsesDetection(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"),
		[]byte(`{"scripts":{"start":"next start"},"dependencies":{"next":"14"}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pnpm-lock.yaml"), nil, 0o644))

	cfg := initialConfig(dir)
	assert.Equal(t, filepath.Base(dir), cfg.Project)
	assert.Equal(t, "node", cfg.Language)
	assert.Equal(t, "pnpm install", cfg.Workflow.Install.String())
	assert.Equal(t, "pnpm run start", cfg.Workflow.Run.String())
	require.NoError(t, cfg.Validate())
}

func TestPrintEventWritesOnlyOutput(t *testing.T) {
	var buf bytes.Buffer
	printEvent(workflow.StatusChanged{Run: "r", From: workflow.StatusIdle, To: workflow.StatusBooting}, &buf)
	printEvent(workflow.OutputChunk{Run: "r", Data: []byte("\x1b[32mok\x1b[0m\n")}, &buf)
	assert.Equal(t, "\x1b[32mok\x1b[0m\n", buf.String())
}

func TestSweepWorkdirs(t *testing.T) {
	project := t.TempDir()
	for _, name := range []string{"a", "b"} {
		_, err := workdir.Create(project, name)
		require.NoError(t, err)
	}

	require.NoError(t, sweepWorkdirs(project, slog.New(slog.NewTextHandler(io.Discard, nil))))

	names, err := workdir.List(project)
	require.NoError(t, err)
	assert.Empty(t, names)
}
