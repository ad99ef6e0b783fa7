// File: pkg/vnode/archive.go
package vnode

import (
	"archive/zip"
	"errors"
	"io"
	"path"
	"strings"
)

// ArchiveNode is a node backed by an entry of an open zip archive. The
// archive reader is owned by the run, not by the node, and must stay open
// while the tree is in use.
type ArchiveNode struct {
	name     string
	path     string
	dir      bool
	entry    *zip.File // nil for directories the archive does not list
	children []Node
}

func (n *ArchiveNode) Name() string              { return n.name }
func (n *ArchiveNode) IsDir() bool               { return n.dir }
func (n *ArchiveNode) Kind() Kind                { return KindArchive }
func (n *ArchiveNode) Children() ([]Node, error) { return n.children, nil }
func (*ArchiveNode) sealed()                     {}

// Size returns the declared uncompressed size of a file entry.
func (n *ArchiveNode) Size() int64 {
	if n.dir || n.entry == nil {
		return 0
	}
	return int64(n.entry.UncompressedSize64)
}

// Open opens the entry's decompressing stream. Directories without an entry
// yield an empty stream.
func (n *ArchiveNode) Open() (io.ReadCloser, error) {
	if n.dir {
		return nil, notReadable(n.path, errors.New("is a directory"))
	}
	if n.entry == nil {
		return emptyReader(), nil
	}
	rc, err := n.entry.Open()
	if err != nil {
		return nil, notReadable(n.path, err)
	}
	return rc, nil
}

// BuildArchiveTree indexes files in one linear pass and links the result into
// a tree.
//
// Every entry becomes a node in an arena keyed by its cleaned path; directories
// that only appear as path prefixes are synthesised. If the top level holds
// exactly one directory, that directory becomes the root and keeps its own
// name. Otherwise a synthetic root named projectName holds every top-level
// node.
func BuildArchiveTree(files []*zip.File, projectName string) *ArchiveNode {
	arena := make(map[string]*ArchiveNode, len(files))
	order := make([]string, 0, len(files))

	// ensureDir adds p and its missing ancestors as directories.
	ensureDir := func(p string) {
		for p != "." {
			if _, ok := arena[p]; ok {
				return
			}
			arena[p] = &ArchiveNode{name: path.Base(p), path: p, dir: true}
			order = append(order, p)
			p = path.Dir(p)
		}
	}

	for _, f := range files {
		p, ok := cleanEntryPath(f.Name)
		if !ok {
			continue
		}
		isDir := strings.HasSuffix(f.Name, "/") || f.FileInfo().IsDir()
		if existing, seen := arena[p]; seen {
			// A directory synthesised earlier gets its real entry; any other
			// duplicate keeps the first occurrence.
			if existing.dir && existing.entry == nil && isDir {
				existing.entry = f
			}
			continue
		}
		ensureDir(path.Dir(p))
		arena[p] = &ArchiveNode{name: path.Base(p), path: p, dir: isDir, entry: f}
		order = append(order, p)
	}

	// Link children to parents. Every parent exists in the arena by now, so
	// linking is a flat loop regardless of nesting depth.
	var top []*ArchiveNode
	for _, p := range order {
		n := arena[p]
		parent := path.Dir(p)
		if parent == "." {
			top = append(top, n)
			continue
		}
		dir := arena[parent]
		if !dir.dir {
			// A file entry shadows a directory prefix; promote it so the tree
			// stays consistent.
			dir.dir = true
		}
		dir.children = append(dir.children, n)
	}
	for _, p := range order {
		if n := arena[p]; n.dir {
			sortNodes(n.children)
		}
	}

	if len(top) == 1 && top[0].dir {
		return top[0]
	}
	root := &ArchiveNode{name: projectName, dir: true}
	for _, n := range top {
		root.children = append(root.children, n)
	}
	sortNodes(root.children)
	return root
}

// cleanEntryPath normalises a zip entry name. Names that are empty or escape
// the archive root are rejected.
func cleanEntryPath(name string) (string, bool) {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimSuffix(name, "/")
	if name == "" {
		return "", false
	}
	p := path.Clean(strings.TrimLeft(name, "/"))
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return "", false
	}
	return p, true
}
