package fstree

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"
	"github.com/natefinch/atomic"
)

// DefaultIgnore lists paths never copied out of a project directory.
var DefaultIgnore = []string{
	".git/**",
	"node_modules/**",
	".sandpreview/**",
	"dist/**",
	".next/**",
}

// DirOptions controls FromDir.
type DirOptions struct {
	Ignore      []string // doublestar patterns relative to the root
	MaxFileSize int64    // files larger than this are skipped; 0 means no limit
}

// FromDir snapshots a host directory into a tree. Symlinks are skipped.
func FromDir(root string, opts DirOptions) (Tree, error) {
	for _, p := range opts.Ignore {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid ignore pattern %q", p)
		}
	}

	var (
		mu   sync.Mutex
		tree = Tree{}
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if ignored(opts.Ignore, rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || d.Type()&fs.ModeSymlink != 0 || !d.Type().IsRegular() {
			return nil
		}

		if opts.MaxFileSize > 0 {
			info, err := d.Info()
			if err != nil {
				return err
			}
			if info.Size() > opts.MaxFileSize {
				return nil
			}
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", rel, err)
		}
		binary := !isText(data)

		mu.Lock()
		defer mu.Unlock()
		if err := tree.Add(rel, data); err != nil {
			return err
		}
		if binary {
			f, _ := tree.Get(rel)
			f.Binary = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	return tree, nil
}

func ignored(patterns []string, rel string, isDir bool) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if isDir {
			if ok, _ := doublestar.Match(p, rel+"/"); ok {
				return true
			}
		}
	}
	return false
}

func isText(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// Write materialises the tree under dir. Existing files are replaced
// atomically; files not in the tree are left alone.
func (t Tree) Write(dir string) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating mount root: %w", err)
	}
	if err := mkdirs(t, dir); err != nil {
		return err
	}
	return t.Walk(func(path string, f *File) error {
		target := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
		}
		if err := atomic.WriteFile(target, bytes.NewReader(f.Contents)); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		return nil
	})
}

// mkdirs creates every directory, including empty ones.
func mkdirs(t Tree, dir string) error {
	for name, node := range t {
		if !node.IsDir() {
			continue
		}
		sub := filepath.Join(dir, name)
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", sub, err)
		}
		if err := mkdirs(node.Directory, sub); err != nil {
			return err
		}
	}
	return nil
}
