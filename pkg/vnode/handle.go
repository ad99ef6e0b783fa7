package vnode

import (
	"errors"
	"io"
	"io/fs"
	"path"
)

// HandleNode is a node reached through an fs.FS handle. The core never learns
// a host path for it; content is opened through the handle.
type HandleNode struct {
	fsys  fs.FS
	path  string // slash-separated path inside fsys, "." for the root
	name  string
	dir   bool
	size  int64
	cache childCache
}

// NewHandleNode returns the root node of fsys, displayed as name.
func NewHandleNode(fsys fs.FS, name string) (*HandleNode, error) {
	info, err := fs.Stat(fsys, ".")
	if err != nil {
		return nil, &Error{Op: OpStat, Path: name, Err: err}
	}
	n := &HandleNode{fsys: fsys, path: ".", name: name, dir: info.IsDir()}
	if !n.dir {
		n.size = info.Size()
	}
	return n, nil
}

func (n *HandleNode) Name() string { return n.name }
func (n *HandleNode) IsDir() bool  { return n.dir }
func (n *HandleNode) Size() int64  { return n.size }
func (n *HandleNode) Kind() Kind   { return KindHandle }
func (*HandleNode) sealed()        {}

// Children lists the directory through the handle once.
func (n *HandleNode) Children() ([]Node, error) {
	if !n.dir {
		return nil, nil
	}
	return n.cache.get(func() ([]Node, error) {
		entries, err := fs.ReadDir(n.fsys, n.path)
		if err != nil {
			return nil, &Error{Op: OpReadDir, Path: n.path, Err: err}
		}
		nodes := make([]Node, 0, len(entries))
		for _, entry := range entries {
			if entry.Type()&fs.ModeSymlink != 0 {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			child := &HandleNode{
				fsys: n.fsys,
				path: path.Join(n.path, entry.Name()),
				name: entry.Name(),
				dir:  entry.IsDir(),
			}
			if !child.dir {
				child.size = info.Size()
			}
			nodes = append(nodes, child)
		}
		sortNodes(nodes)
		return nodes, nil
	})
}

// Open opens the entry through the handle. The stream is single-pass.
func (n *HandleNode) Open() (io.ReadCloser, error) {
	if n.dir {
		return nil, notReadable(n.path, errors.New("is a directory"))
	}
	f, err := n.fsys.Open(n.path)
	if err != nil {
		return nil, notReadable(n.path, err)
	}
	return f, nil
}
