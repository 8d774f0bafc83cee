package octree

import (
	"encoding/binary"
	"io"
)

// leafNode stores the log-odds occupancy of a single cell.
type leafNode struct {
	logit float32
}

// writeData emits the leaf payload to the stream.
func (l *leafNode) writeData(w io.Writer) error {
	return binary.Write(w, binary.LittleEndian, l.logit)
}

// readData fills the leaf from the stream.
func (l *leafNode) readData(r io.Reader) error {
	return binary.Read(r, binary.LittleEndian, &l.logit)
}

// innerNode summarizes an octant of the map. The embedded logit is the
// maximum over the subtree. allChildrenSame marks a collapsed subtree: the
// whole octant is uniform and is represented by this node alone. A child
// block may still be allocated while the node is collapsed when automatic
// pruning is disabled; the flag, not the block pointer, is the semantic
// leaf predicate.
type innerNode struct {
	leafNode
	containsFree    bool
	containsUnknown bool
	allChildrenSame bool

	// exactly one of these is non-nil when a child block exists:
	// leafChildren at depth 1, innerChildren above it
	leafChildren  *[8]leafNode
	innerChildren *[8]innerNode
}

// hasChildren reports whether the node's children must be consulted, i.e.
// the subtree is not collapsed.
func (n *innerNode) hasChildren() bool {
	return !n.allChildrenSame
}

// Node is a handle to a tree cell: the stored occupancy value and the code
// addressing it. When a lookup stops at a collapsed subtree the handle's
// code is shallower than the one requested.
type Node struct {
	logit float32
	code  Code
}

// Logit returns the node's log-odds occupancy.
func (n Node) Logit() float32 { return n.logit }

// Code returns the locational code of the cell the handle refers to.
func (n Node) Code() Code { return n.code }

// Depth returns the depth of the cell the handle refers to.
func (n Node) Depth() uint { return n.code.Depth() }
