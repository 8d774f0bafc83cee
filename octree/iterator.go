package octree

import (
	"github.com/golang/geo/r3"

	"github.com/ISWBenjaminKaiser/UFOMap/geometry"
)

// IterateOptions select which nodes an iterator yields. At least one of
// Occupied, Free and Unknown must be set for anything to be yielded.
type IterateOptions struct {
	// Occupied, Free and Unknown select cell states to visit.
	Occupied bool
	Free     bool
	Unknown  bool
	// Contains lets an inner node be yielded when any cell below it
	// matches, not only when its own summary does.
	Contains bool
	// MinDepth caps how deep the traversal descends; nodes at MinDepth are
	// treated as leaves.
	MinDepth uint
	// BoundingVolume, when non-empty, limits traversal to intersecting
	// subtrees.
	BoundingVolume geometry.BoundingVolume
}

type iterFrame struct {
	inner   *innerNode // nil for depth-0 entries
	logit   float32
	code    Code
	center  r3.Vector
	depth   uint
	child   int
	visited bool
	descend bool
}

// treeIter is the shared depth-first traversal; children are visited in
// Morton order 0..7.
type treeIter struct {
	m          *OccupancyMap
	opts       IterateOptions
	leavesOnly bool
	stack      []iterFrame
	cur        iterFrame
}

// TreeIterator traverses every node of the tree matching the filter, inner
// nodes included, in depth-first pre-order.
type TreeIterator struct {
	treeIter
}

// LeafIterator traverses only nodes at the deepest useful level: depth-0
// leaves, collapsed subtrees, and nodes capped by MinDepth.
type LeafIterator struct {
	treeIter
}

// NewTreeIterator returns an iterator over all matching nodes.
func (m *OccupancyMap) NewTreeIterator(opts IterateOptions) *TreeIterator {
	it := &TreeIterator{treeIter{m: m, opts: opts}}
	it.pushRoot()
	return it
}

// NewLeafIterator returns an iterator over matching terminal nodes.
func (m *OccupancyMap) NewLeafIterator(opts IterateOptions) *LeafIterator {
	it := &LeafIterator{treeIter{m: m, opts: opts, leavesOnly: true}}
	it.pushRoot()
	return it
}

// IterateLeaves calls fn for every matching terminal node. If fn returns
// false, iteration stops.
func (m *OccupancyMap) IterateLeaves(opts IterateOptions, fn func(node Node, center r3.Vector, halfSize float64) bool) {
	it := m.NewLeafIterator(opts)
	for it.Next() {
		if !fn(it.Node(), it.Center(), it.HalfSize()) {
			return
		}
	}
}

func (it *treeIter) pushRoot() {
	it.push(&it.m.root, it.m.root.logit, Code{depth: it.m.depthLevels}, r3.Vector{}, it.m.depthLevels)
}

func (it *treeIter) push(inner *innerNode, logit float32, code Code, center r3.Vector, depth uint) {
	if !it.opts.BoundingVolume.Empty() &&
		!it.opts.BoundingVolume.Intersects(geometry.NewAABBFromCenter(center, it.m.NodeHalfSize(depth))) {
		return
	}
	it.stack = append(it.stack, iterFrame{
		inner:  inner,
		logit:  logit,
		code:   code,
		center: center,
		depth:  depth,
	})
}

// Next advances to the next matching node, reporting false when the
// traversal is exhausted.
func (it *treeIter) Next() bool {
	for len(it.stack) > 0 {
		f := &it.stack[len(it.stack)-1]

		if !f.visited {
			f.visited = true
			f.descend = f.depth > it.opts.MinDepth && f.inner != nil &&
				f.inner.hasChildren() && it.descendCheck(f.inner)
			var yield bool
			if it.leavesOnly {
				yield = !f.descend && it.matches(f)
			} else {
				yield = it.matches(f)
			}
			if yield {
				it.cur = *f
				return true
			}
		}

		if f.descend && f.child < 8 {
			idx := f.child
			f.child++
			childDepth := f.depth - 1
			childCode := f.code.mustChild(uint(idx))
			ctr := childCenter(f.center, it.m.NodeHalfSize(childDepth), uint(idx))
			if f.depth == 1 {
				leaf := &f.inner.leafChildren[idx]
				it.push(nil, leaf.logit, childCode, ctr, childDepth)
			} else {
				child := &f.inner.innerChildren[idx]
				it.push(child, child.logit, childCode, ctr, childDepth)
			}
			continue
		}

		it.stack = it.stack[:len(it.stack)-1]
	}
	return false
}

// descendCheck reports whether the subtree can contain matching cells.
func (it *treeIter) descendCheck(inner *innerNode) bool {
	return (it.opts.Occupied && it.m.isOccupiedLog(inner.logit)) ||
		(it.opts.Free && inner.containsFree) ||
		(it.opts.Unknown && inner.containsUnknown)
}

// matches reports whether the frame's node passes the state filter.
func (it *treeIter) matches(f *iterFrame) bool {
	if it.opts.Contains && f.inner != nil && f.inner.hasChildren() {
		return it.descendCheck(f.inner)
	}
	return (it.opts.Occupied && it.m.isOccupiedLog(f.logit)) ||
		(it.opts.Free && it.m.isFreeLog(f.logit)) ||
		(it.opts.Unknown && it.m.isUnknownLog(f.logit))
}

// Node returns a handle to the current node.
func (it *treeIter) Node() Node {
	return Node{logit: it.cur.logit, code: it.cur.code}
}

// Code returns the code of the current node.
func (it *treeIter) Code() Code {
	return it.cur.code
}

// Depth returns the depth of the current node.
func (it *treeIter) Depth() uint {
	return it.cur.depth
}

// Logit returns the log-odds value of the current node.
func (it *treeIter) Logit() float32 {
	return it.cur.logit
}

// Probability returns the occupancy probability of the current node.
func (it *treeIter) Probability() float64 {
	return Probability(it.cur.logit)
}

// Center returns the center coordinate of the current node's cell.
func (it *treeIter) Center() r3.Vector {
	return it.cur.center
}

// HalfSize returns half the edge length of the current node's cell.
func (it *treeIter) HalfSize() float64 {
	return it.m.NodeHalfSize(it.cur.depth)
}

// IsLeaf reports whether the current node has no children to descend into.
func (it *treeIter) IsLeaf() bool {
	return it.cur.inner == nil || !it.cur.inner.hasChildren()
}

// childCenter returns the center of the idx-th child cell of a parent
// centered at parentCenter.
func childCenter(parentCenter r3.Vector, childHalfSize float64, idx uint) r3.Vector {
	c := parentCenter
	if idx&1 != 0 {
		c.X += childHalfSize
	} else {
		c.X -= childHalfSize
	}
	if idx&2 != 0 {
		c.Y += childHalfSize
	} else {
		c.Y -= childHalfSize
	}
	if idx&4 != 0 {
		c.Z += childHalfSize
	} else {
		c.Z -= childHalfSize
	}
	return c
}
