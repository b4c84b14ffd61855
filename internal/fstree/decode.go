package fstree

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a tree file. YAML is used for .yaml/.yml, JSON otherwise.
func Load(path string) (Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tree: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// ParseJSON decodes either the {"file": {"contents": ...}} / {"directory": {...}}
// form or the shorthand form where strings are files and objects are directories.
func ParseJSON(data []byte) (Tree, error) {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parsing tree: %w", err)
	}
	return fromGeneric(raw)
}

// ParseYAML decodes the same shapes as ParseJSON from YAML.
func ParseYAML(data []byte) (Tree, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing tree: %w", err)
	}
	return fromGeneric(raw)
}

func fromGeneric(raw map[string]any) (Tree, error) {
	t := Tree{}
	if err := merge(t, "", raw); err != nil {
		return nil, err
	}
	return t, nil
}

func merge(t Tree, prefix string, raw map[string]any) error {
	for key, value := range raw {
		path := key
		if prefix != "" {
			path = prefix + "/" + key
		}
		switch v := value.(type) {
		case string:
			if err := t.Add(path, []byte(v)); err != nil {
				return err
			}
		case map[string]any:
			if f, ok, err := fileNode(v); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			} else if ok {
				if err := t.Add(path, f.Contents); err != nil {
					return err
				}
				if f.Binary {
					got, _ := t.Get(path)
					got.Binary = true
				}
				continue
			}
			children := v
			if d, ok := dirNode(v); ok {
				children = d
			}
			if err := t.mkdir(path); err != nil {
				return err
			}
			if err := merge(t, path, children); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%s: unsupported value of type %T", path, value)
		}
	}
	return nil
}

// fileNode recognises {"file": {"contents": "..."}}.
func fileNode(v map[string]any) (*File, bool, error) {
	if len(v) != 1 {
		return nil, false, nil
	}
	inner, ok := v["file"].(map[string]any)
	if !ok {
		return nil, false, nil
	}
	contents, ok := inner["contents"].(string)
	if !ok {
		return nil, false, nil
	}
	if enc, _ := inner["encoding"].(string); enc == "base64" {
		b, err := base64.StdEncoding.DecodeString(contents)
		if err != nil {
			return nil, false, fmt.Errorf("decoding contents: %w", err)
		}
		return &File{Contents: b, Binary: true}, true, nil
	}
	return &File{Contents: []byte(contents)}, true, nil
}

// dirNode recognises {"directory": {...}}.
func dirNode(v map[string]any) (map[string]any, bool) {
	if len(v) != 1 {
		return nil, false
	}
	inner, ok := v["directory"].(map[string]any)
	return inner, ok
}

func (t Tree) mkdir(path string) error {
	segs, err := Split(path)
	if err != nil {
		return err
	}
	dir := t
	for _, seg := range segs {
		node, ok := dir[seg]
		if !ok {
			node = &Node{Directory: Tree{}}
			dir[seg] = node
		}
		if !node.IsDir() {
			return fmt.Errorf("%s: %q is a file", path, seg)
		}
		if node.Directory == nil {
			node.Directory = Tree{}
		}
		dir = node.Directory
	}
	return nil
}
