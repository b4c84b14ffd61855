package workdir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateListRemove(t *testing.T) {
	project := t.TempDir()

	path, err := Create(project, "sp-demo-1")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))
	assert.DirExists(t, path)

	_, err = Create(project, "sp-demo-1")
	assert.Error(t, err, "second create must not reuse a live workdir")

	_, err = Create(project, "sp-demo-2")
	require.NoError(t, err)

	names, err := List(project)
	require.NoError(t, err)
	assert.Equal(t, []string{"sp-demo-1", "sp-demo-2"}, names)

	require.NoError(t, os.WriteFile(filepath.Join(path, "package.json"), []byte("{}"), 0o644))
	require.NoError(t, Remove(project, "sp-demo-1"))
	assert.NoDirExists(t, path)
	require.NoError(t, Remove(project, "sp-demo-1"))
}

func TestListMissing(t *testing.T) {
	names, err := List(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, names)
}
