package fstree

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONShorthand(t *testing.T) {
	tree, err := ParseJSON([]byte(`{
		"package.json": "{\"name\":\"demo\"}",
		"src/index.js": "console.log(1)",
		"public": {"favicon.txt": "x"}
	}`))
	require.NoError(t, err)

	var paths []string
	for _, e := range tree.Files() {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"package.json", "public/favicon.txt", "src/index.js"}, paths)

	f, ok := tree.Get("src/index.js")
	require.True(t, ok)
	assert.Equal(t, "console.log(1)", string(f.Contents))
}

func TestParseJSONMountShape(t *testing.T) {
	tree, err := ParseJSON([]byte(`{
		"index.js": {"file": {"contents": "export {}"}},
		"src": {"directory": {
			"app.js": {"file": {"contents": "app"}},
			"logo.bin": {"file": {"contents": "AAEC", "encoding": "base64"}}
		}}
	}`))
	require.NoError(t, err)

	f, ok := tree.Get("src/app.js")
	require.True(t, ok)
	assert.Equal(t, "app", string(f.Contents))

	logo, ok := tree.Get("src/logo.bin")
	require.True(t, ok)
	assert.True(t, logo.Binary)
	assert.Equal(t, []byte{0, 1, 2}, logo.Contents)
}

func TestParseYAML(t *testing.T) {
	tree, err := ParseYAML([]byte("package.json: '{}'\nsrc:\n  main.ts: 'let a = 1'\n"))
	require.NoError(t, err)
	_, ok := tree.Get("src/main.ts")
	assert.True(t, ok)
}

func TestParseRejectsTraversal(t *testing.T) {
	for _, doc := range []string{
		`{"../evil": "x"}`,
		`{"src/../../evil": "x"}`,
		`{"/etc/passwd": "x"}`,
	} {
		_, err := ParseJSON([]byte(doc))
		assert.ErrorIs(t, err, ErrInvalidPath, doc)
	}
}

func TestAddConflicts(t *testing.T) {
	tree := Tree{}
	require.NoError(t, tree.Add("src/index.js", nil))
	assert.Error(t, tree.Add("src/index.js/nested", nil))
	assert.Error(t, tree.Add("src", nil))
}

func TestMarshalRoundTrip(t *testing.T) {
	tree := Tree{}
	require.NoError(t, tree.Add("a.txt", []byte("hello")))
	require.NoError(t, tree.Add("b.bin", []byte{0xff, 0x00}))
	f, _ := tree.Get("b.bin")
	f.Binary = true

	data, err := json.Marshal(tree)
	require.NoError(t, err)

	back, err := ParseJSON(data)
	require.NoError(t, err)
	assert.Equal(t, tree.Files(), back.Files())
	got, _ := back.Get("b.bin")
	assert.Equal(t, []byte{0xff, 0x00}, got.Contents)
}

func TestWriteAndFromDir(t *testing.T) {
	tree := Tree{}
	require.NoError(t, tree.Add("package.json", []byte(`{"name":"demo"}`)))
	require.NoError(t, tree.Add("src/index.js", []byte("console.log('hi')")))
	require.NoError(t, tree.mkdir("empty"))

	dir := t.TempDir()
	require.NoError(t, tree.Write(dir))

	data, err := os.ReadFile(filepath.Join(dir, "src", "index.js"))
	require.NoError(t, err)
	assert.Equal(t, "console.log('hi')", string(data))
	assert.DirExists(t, filepath.Join(dir, "empty"))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "left-pad"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "left-pad", "index.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.txt"), make([]byte, 2048), 0o644))

	snap, err := FromDir(dir, DirOptions{Ignore: DefaultIgnore, MaxFileSize: 1024})
	require.NoError(t, err)

	var paths []string
	for _, e := range snap.Files() {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"package.json", "src/index.js"}, paths)
	assert.Equal(t, int64(len(`{"name":"demo"}`)+len("console.log('hi')")), snap.Size())
}

func TestFromDirRejectsBadPattern(t *testing.T) {
	_, err := FromDir(t.TempDir(), DirOptions{Ignore: []string{"[unclosed"}})
	assert.Error(t, err)
}
