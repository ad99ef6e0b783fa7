package vnode

import (
	"errors"
	"io"
)

// SelectionNode is a synthetic directory over nodes that share no common root,
// such as files picked one by one.
type SelectionNode struct {
	name    string
	members []Node
}

// NewSelection returns a directory named name whose children are members.
func NewSelection(name string, members ...Node) *SelectionNode {
	sorted := make([]Node, len(members))
	copy(sorted, members)
	sortNodes(sorted)
	return &SelectionNode{name: name, members: sorted}
}

func (n *SelectionNode) Name() string              { return n.name }
func (*SelectionNode) IsDir() bool                 { return true }
func (*SelectionNode) Size() int64                 { return 0 }
func (*SelectionNode) Kind() Kind                  { return KindSelection }
func (n *SelectionNode) Children() ([]Node, error) { return n.members, nil }
func (*SelectionNode) sealed()                     {}

func (n *SelectionNode) Open() (io.ReadCloser, error) {
	return nil, notReadable(n.name, errors.New("is a directory"))
}
