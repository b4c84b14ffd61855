package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/zpdzap/sandpreview/internal/fstree"
)

type dirNode struct {
	name     string
	children map[string]*dirNode
	files    []fstree.Entry
}

func newDirNode(name string) *dirNode {
	return &dirNode{name: name, children: make(map[string]*dirNode)}
}

// renderFileTree draws the mounted tree with per-file sizes and a summary
// line.
func renderFileTree(tree fstree.Tree) string {
	entries := tree.Files()
	if len(entries) == 0 {
		return hintStyle.Render("No files mounted yet")
	}

	root := newDirNode("")
	for _, e := range entries {
		parts := strings.Split(e.Path, "/")
		node := root
		for _, dir := range parts[:len(parts)-1] {
			if _, ok := node.children[dir]; !ok {
				node.children[dir] = newDirNode(dir)
			}
			node = node.children[dir]
		}
		node.files = append(node.files, e)
	}

	var b strings.Builder
	b.WriteString(treeHeaderStyle.Render("/workspace"))
	b.WriteString("\n")
	renderTree(&b, root, "")

	b.WriteString("\n")
	b.WriteString(treeSizeStyle.Render(fmt.Sprintf("%d file%s, %s",
		len(entries), plural(len(entries)), humanize.Bytes(uint64(tree.Size())))))
	b.WriteString("\n")
	return b.String()
}

func renderTree(b *strings.Builder, node *dirNode, prefix string) {
	dirNames := make([]string, 0, len(node.children))
	for name := range node.children {
		dirNames = append(dirNames, name)
	}
	sort.Strings(dirNames)

	total := len(dirNames) + len(node.files)
	i := 0
	branch := func() (string, string) {
		i++
		if i == total {
			return "└── ", "    "
		}
		return "├── ", "│   "
	}

	for _, d := range dirNames {
		connector, childPrefix := branch()
		b.WriteString(treeLineStyle.Render(prefix+connector) + treeDirStyle.Render(d+"/") + "\n")
		renderTree(b, node.children[d], prefix+childPrefix)
	}
	for _, f := range node.files {
		connector, _ := branch()
		renderFileEntry(b, prefix+connector, f)
	}
}

func renderFileEntry(b *strings.Builder, prefix string, e fstree.Entry) {
	name := e.Path[strings.LastIndex(e.Path, "/")+1:]
	style := treeFileStyle
	if e.Binary {
		style = treeBinaryStyle
	}
	line := treeLineStyle.Render(prefix) + style.Render(name) +
		"  " + treeSizeStyle.Render(humanize.Bytes(uint64(e.Size)))
	b.WriteString(line + "\n")
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
