// Package fstree models the virtual file tree that is mounted into a sandbox:
// a nested mapping from path segments to file contents or sub-directories.
package fstree

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// ErrInvalidPath is returned for paths that would escape the mount root.
var ErrInvalidPath = errors.New("invalid tree path")

// Tree is one directory level: entry name → node.
type Tree map[string]*Node

// Node is either a file or a directory. Exactly one of File and Directory is set.
type Node struct {
	File      *File `json:"file,omitempty"`
	Directory Tree  `json:"directory,omitempty"`
}

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool { return n != nil && n.File == nil }

// File holds the contents of a single file.
type File struct {
	Contents []byte
	Binary   bool
}

type fileJSON struct {
	Contents string `json:"contents"`
	Encoding string `json:"encoding,omitempty"`
}

// MarshalJSON writes text files verbatim and everything else as base64.
func (f File) MarshalJSON() ([]byte, error) {
	if !f.Binary && utf8.Valid(f.Contents) {
		return json.Marshal(fileJSON{Contents: string(f.Contents)})
	}
	return json.Marshal(fileJSON{
		Contents: base64.StdEncoding.EncodeToString(f.Contents),
		Encoding: "base64",
	})
}

// Entry describes one file in a flattened listing.
type Entry struct {
	Path   string
	Size   int64
	Binary bool
}

// Add inserts a file at the slash-separated path, creating directories as
// needed.
func (t Tree) Add(path string, contents []byte) error {
	segs, err := Split(path)
	if err != nil {
		return err
	}
	dir := t
	for i, seg := range segs[:len(segs)-1] {
		node, ok := dir[seg]
		if !ok {
			node = &Node{Directory: Tree{}}
			dir[seg] = node
		}
		if !node.IsDir() {
			return fmt.Errorf("%s: %q is a file", path, strings.Join(segs[:i+1], "/"))
		}
		if node.Directory == nil {
			node.Directory = Tree{}
		}
		dir = node.Directory
	}
	name := segs[len(segs)-1]
	if existing, ok := dir[name]; ok && existing.IsDir() {
		return fmt.Errorf("%s: is a directory", path)
	}
	dir[name] = &Node{File: &File{Contents: contents}}
	return nil
}

// Get returns the file at path, if present.
func (t Tree) Get(path string) (*File, bool) {
	segs, err := Split(path)
	if err != nil {
		return nil, false
	}
	dir := t
	for _, seg := range segs[:len(segs)-1] {
		node, ok := dir[seg]
		if !ok || !node.IsDir() {
			return nil, false
		}
		dir = node.Directory
	}
	node, ok := dir[segs[len(segs)-1]]
	if !ok || node.IsDir() {
		return nil, false
	}
	return node.File, true
}

// Walk calls fn for every file in lexical path order.
func (t Tree) Walk(fn func(path string, f *File) error) error {
	return walk(t, "", fn)
}

func walk(t Tree, prefix string, fn func(string, *File) error) error {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		node := t[name]
		if node == nil {
			continue
		}
		path := name
		if prefix != "" {
			path = prefix + "/" + name
		}
		if node.IsDir() {
			if err := walk(node.Directory, path, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(path, node.File); err != nil {
			return err
		}
	}
	return nil
}

// Files returns a sorted, flattened listing of every file in the tree.
func (t Tree) Files() []Entry {
	var entries []Entry
	_ = t.Walk(func(path string, f *File) error {
		entries = append(entries, Entry{Path: path, Size: int64(len(f.Contents)), Binary: f.Binary})
		return nil
	})
	return entries
}

// Size returns the total number of content bytes in the tree.
func (t Tree) Size() int64 {
	var n int64
	for _, e := range t.Files() {
		n += e.Size
	}
	return n
}

// Validate checks every entry name in the tree.
func (t Tree) Validate() error {
	return t.validate("")
}

func (t Tree) validate(prefix string) error {
	for name, node := range t {
		if err := checkSegment(name); err != nil {
			return fmt.Errorf("%s%s: %w", prefix, name, err)
		}
		if node == nil {
			return fmt.Errorf("%s%s: empty node", prefix, name)
		}
		if node.File != nil && node.Directory != nil {
			return fmt.Errorf("%s%s: both file and directory", prefix, name)
		}
		if node.IsDir() {
			if err := node.Directory.validate(prefix + name + "/"); err != nil {
				return err
			}
		}
	}
	return nil
}

// Split breaks a slash-separated relative path into validated segments.
func Split(path string) ([]string, error) {
	if path == "" || strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%q: %w", path, ErrInvalidPath)
	}
	segs := strings.Split(strings.TrimSuffix(path, "/"), "/")
	for _, seg := range segs {
		if err := checkSegment(seg); err != nil {
			return nil, fmt.Errorf("%q: %w", path, err)
		}
	}
	return segs, nil
}

func checkSegment(seg string) error {
	switch {
	case seg == "", seg == ".", seg == "..":
		return ErrInvalidPath
	case strings.ContainsAny(seg, "/\\\x00"):
		return ErrInvalidPath
	}
	return nil
}
