// Package vnode provides a uniform, read-only tree over the sources that can be
// packed: host directories, fs.FS handles, zip archives and ad-hoc selections
// of files.
package vnode

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Kind tags the backend behind a Node.
type Kind int

const (
	KindFS        Kind = iota // host filesystem path
	KindHandle                // io/fs.FS handle
	KindArchive               // zip archive entry
	KindSelection             // synthetic directory over selected nodes
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindFS:
		return "fs"
	case KindHandle:
		return "handle"
	case KindArchive:
		return "archive"
	case KindSelection:
		return "selection"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrNotReadable is wrapped by every error returned from Node.Open.
var ErrNotReadable = errors.New("node content not readable")

// Operation names used in Error.
const (
	OpStat    = "stat"
	OpReadDir = "readdir"
	OpOpen    = "open"
)

// Error records a failed node operation and the path it was applied to.
type Error struct {
	Op   string // Operation that failed (e.g., "open", "readdir")
	Path string // Path of the node inside its backend
	Err  error  // Underlying error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// notReadable builds the error returned by Open implementations.
func notReadable(path string, cause error) error {
	return &Error{Op: OpOpen, Path: path, Err: fmt.Errorf("%w: %w", ErrNotReadable, cause)}
}

// Node is one file or directory of a source tree. Nodes are not safe for
// concurrent use; a tree belongs to a single run.
//
// The set of implementations is closed: FSNode, HandleNode, ArchiveNode and
// SelectionNode. Children returns the same slice on every call, so a tree can
// be walked more than once per run with identical results. Callers must not
// modify the returned slice.
type Node interface {
	Name() string
	IsDir() bool
	Size() int64
	Kind() Kind
	Children() ([]Node, error)
	Open() (io.ReadCloser, error)

	sealed()
}

// HostPather is implemented by nodes that know their absolute host path.
type HostPather interface {
	HostPath() string
}

// sortNodes orders directories before files and each group by name.
func sortNodes(nodes []Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].IsDir() != nodes[j].IsDir() {
			return nodes[i].IsDir()
		}
		return nodes[i].Name() < nodes[j].Name()
	})
}

// emptyReader is the content of nodes without a backing entry.
func emptyReader() io.ReadCloser {
	return io.NopCloser(strings.NewReader(""))
}
