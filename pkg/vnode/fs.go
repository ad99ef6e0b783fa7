// File: pkg/vnode/fs.go
package vnode

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FSNode is a node backed by a path on the host filesystem.
type FSNode struct {
	path  string
	name  string
	dir   bool
	size  int64
	cache childCache
}

// NewFSNode stats path and returns the node for it. The path is made absolute
// so that it can be compared with the destination of a run.
func NewFSNode(path string) (*FSNode, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &Error{Op: OpStat, Path: path, Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, &Error{Op: OpStat, Path: abs, Err: err}
	}
	return newFSNode(abs, info), nil
}

func newFSNode(path string, info fs.FileInfo) *FSNode {
	n := &FSNode{
		path: path,
		name: filepath.Base(path),
		dir:  info.IsDir(),
	}
	if !n.dir {
		n.size = info.Size()
	}
	return n
}

func (n *FSNode) Name() string     { return n.name }
func (n *FSNode) IsDir() bool      { return n.dir }
func (n *FSNode) Size() int64      { return n.size }
func (n *FSNode) Kind() Kind       { return KindFS }
func (n *FSNode) HostPath() string { return n.path }
func (*FSNode) sealed()            {}

// Children lists the directory once and caches the sorted result.
func (n *FSNode) Children() ([]Node, error) {
	if !n.dir {
		return nil, nil
	}
	return n.cache.get(func() ([]Node, error) {
		entries, err := os.ReadDir(n.path)
		if err != nil {
			return nil, &Error{Op: OpReadDir, Path: n.path, Err: err}
		}
		nodes := make([]Node, 0, len(entries))
		for _, entry := range entries {
			childPath := filepath.Join(n.path, entry.Name())
			info, err := entry.Info()
			if err != nil {
				continue // removed between ReadDir and Info
			}
			if info.Mode()&fs.ModeSymlink != 0 {
				// Only links to regular files are followed.
				target, err := os.Stat(childPath)
				if err != nil || !target.Mode().IsRegular() {
					continue
				}
				info = target
			}
			nodes = append(nodes, newFSNode(childPath, info))
		}
		sortNodes(nodes)
		return nodes, nil
	})
}

// Open opens the file for reading.
func (n *FSNode) Open() (io.ReadCloser, error) {
	if n.dir {
		return nil, notReadable(n.path, errors.New("is a directory"))
	}
	f, err := os.Open(n.path)
	if err != nil {
		return nil, notReadable(n.path, err)
	}
	return f, nil
}

// childCache memoizes a directory listing, including a failed one.
type childCache struct {
	done  bool
	nodes []Node
	err   error
}

func (c *childCache) get(list func() ([]Node, error)) ([]Node, error) {
	if !c.done {
		c.nodes, c.err = list()
		c.done = true
	}
	return c.nodes, c.err
}
