package octree

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Root returns a handle to the root of the tree. Its value is the summary
// over the whole map.
func (m *OccupancyMap) Root() Node {
	return Node{logit: m.root.logit, code: Code{depth: m.depthLevels}}
}

// GetNode returns a handle to the cell addressed by code. When the subtree
// holding that cell is collapsed, the returned handle refers to the
// shallowest collapsed ancestor; its value applies to the whole subtree.
func (m *OccupancyMap) GetNode(code Code) Node {
	leaf, _, actual := m.getNode(code)
	return Node{logit: leaf.logit, code: actual}
}

// GetNodeAt returns a handle to the cell containing p at the given depth.
func (m *OccupancyMap) GetNodeAt(p r3.Vector, depth uint) Node {
	return m.GetNode(NewCode(m.CoordToKey(p, depth)))
}

// NodeAt is GetNode reporting whether the exact cell is physically present
// rather than represented by a collapsed ancestor.
func (m *OccupancyMap) NodeAt(code Code) (Node, bool) {
	leaf, _, actual := m.getNode(code)
	return Node{logit: leaf.logit, code: actual}, actual == code
}

// Child returns a handle to the idx-th child of the node. It fails for
// nodes at depth 0 and for indices above 7.
func (m *OccupancyMap) Child(node Node, idx uint) (Node, error) {
	if node.Depth() == 0 {
		return Node{}, errors.New("node at depth 0 has no children")
	}
	childCode, err := node.code.Child(idx)
	if err != nil {
		return Node{}, err
	}
	return m.GetNode(childCode), nil
}

// getNode walks from the root toward the cell addressed by code, stopping
// early at a collapsed subtree. It returns the reached value node, the
// inner node it is part of (nil for depth-0 leaves), and the code actually
// reached.
func (m *OccupancyMap) getNode(code Code) (*leafNode, *innerNode, Code) {
	cur := &m.root
	for depth := m.depthLevels; depth > code.Depth(); depth-- {
		if !cur.hasChildren() {
			return &cur.leafNode, cur, code.ToDepth(depth)
		}
		idx := code.ChildIdx(depth - 1)
		if depth == 1 {
			return &cur.leafChildren[idx], nil, code
		}
		cur = &cur.innerChildren[idx]
	}
	return &cur.leafNode, cur, code
}

//
// Mutation
//

// SetNodeValue overwrites the value of the cell addressed by code, clamped
// to the clamping bounds. Setting a cell above depth 0 overwrites its whole
// subtree.
func (m *OccupancyMap) SetNodeValue(code Code, logitValue float32) Node {
	logitValue = m.clamp(logitValue)
	leaf, inner, actual := m.getNode(code)
	if logitValue == leaf.logit && (inner == nil || !inner.hasChildren()) {
		return Node{logit: leaf.logit, code: actual}
	}
	updated, _ := m.updateRecurs(code, logitValue, &m.root, m.depthLevels, true)
	return updated
}

// SetNodeValueAt overwrites the value of the cell containing p at the given
// depth.
func (m *OccupancyMap) SetNodeValueAt(p r3.Vector, depth uint, logitValue float32) Node {
	return m.SetNodeValue(NewCode(m.CoordToKey(p, depth)), logitValue)
}

// UpdateNodeValue adds logitUpdate to the value of the cell addressed by
// code, clamped to the clamping bounds. The call is a no-op when the cell
// is already saturated in the direction of the update.
func (m *OccupancyMap) UpdateNodeValue(code Code, logitUpdate float32) Node {
	node := m.GetNode(code)
	if (logitUpdate >= 0 && node.logit >= m.clampingThresMaxLog) ||
		(logitUpdate <= 0 && node.logit <= m.clampingThresMinLog) {
		return node
	}
	updated, _ := m.updateRecurs(code, logitUpdate, &m.root, m.depthLevels, false)
	return updated
}

// UpdateNodeValueAt adds logitUpdate to the cell containing p at the given
// depth.
func (m *OccupancyMap) UpdateNodeValueAt(p r3.Vector, depth uint, logitUpdate float32) Node {
	return m.UpdateNodeValue(NewCode(m.CoordToKey(p, depth)), logitUpdate)
}

// updateRecurs descends to the cell addressed by code, expanding collapsed
// nodes on the way, applies the mutation, and recomputes the summaries of
// every ancestor on the way back up. It reports whether the node at depth
// changed.
func (m *OccupancyMap) updateRecurs(code Code, value float32, node *innerNode, depth uint, set bool) (Node, bool) {
	if depth > code.Depth() {
		m.expand(node, depth)

		childDepth := depth - 1
		idx := code.ChildIdx(childDepth)

		var result Node
		var changed bool
		if childDepth == 0 {
			result = m.applyLeaf(code, value, &node.leafChildren[idx], set)
			changed = true
		} else {
			result, changed = m.updateRecurs(code, value, &node.innerChildren[idx], childDepth, set)
		}

		if changed {
			changed = m.updateNode(node, depth, false)
			if changed && m.changeDetectionEnabled {
				m.changedCodes[code.ToDepth(depth)] = struct{}{}
			}
		}
		return result, changed
	}

	// the target is this inner node
	if set {
		node.logit = m.clamp(value)
	} else {
		node.logit = m.clamp(node.logit + value)
	}
	if !m.isOccupiedLog(node.logit) {
		m.prune(node, depth, false)
	} else if node.hasChildren() {
		childDepth := depth - 1
		for idx := uint(0); idx < 8; idx++ {
			childCode := code.mustChild(idx)
			if childDepth == 0 {
				m.applyLeaf(childCode, value, &node.leafChildren[idx], set)
			} else {
				m.updateRecurs(childCode, value, &node.innerChildren[idx], childDepth, set)
			}
		}
		m.updateNode(node, depth, false)
	}
	if m.changeDetectionEnabled {
		m.changedCodes[code] = struct{}{}
	}
	return Node{logit: node.logit, code: code}, true
}

// applyLeaf mutates a depth-0 leaf.
func (m *OccupancyMap) applyLeaf(code Code, value float32, leaf *leafNode, set bool) Node {
	if set {
		leaf.logit = m.clamp(value)
	} else {
		leaf.logit = m.clamp(leaf.logit + value)
	}
	if m.changeDetectionEnabled {
		m.changedCodes[code] = struct{}{}
	}
	return Node{logit: leaf.logit, code: code}
}

//
// Expand / prune
//

// createChildren allocates the child block of an inner node if absent and
// adjusts the node counters.
func (m *OccupancyMap) createChildren(node *innerNode, depth uint) bool {
	if depth == 1 {
		if node.leafChildren != nil {
			return false
		}
		node.leafChildren = new([8]leafNode)
		m.numLeafNodes += 8
		m.numInnerLeafNodes--
		m.numInnerNodes++
	} else {
		if node.innerChildren != nil {
			return false
		}
		node.innerChildren = new([8]innerNode)
		m.numInnerLeafNodes += 7
		m.numInnerNodes++
	}
	return true
}

// expand turns a collapsed inner node into one with eight children carrying
// the parent's value, preserving the subtree's meaning before a mutation
// descends into it.
func (m *OccupancyMap) expand(node *innerNode, depth uint) bool {
	if node.hasChildren() {
		return false
	}

	m.createChildren(node, depth)
	node.allChildrenSame = false

	if depth == 1 {
		for i := range node.leafChildren {
			node.leafChildren[i].logit = node.logit
		}
	} else {
		for i := range node.innerChildren {
			child := &node.innerChildren[i]
			child.logit = node.logit
			child.containsFree = node.containsFree
			child.containsUnknown = node.containsUnknown
			child.allChildrenSame = true
		}
	}
	return true
}

// deleteChildren marks the node collapsed and releases its child block.
// Without manual set, the block is retained when automatic pruning is off.
func (m *OccupancyMap) deleteChildren(node *innerNode, depth uint, manual bool) {
	node.allChildrenSame = true

	if !manual && !m.automaticPruning {
		return
	}

	if depth == 1 {
		if node.leafChildren == nil {
			return
		}
		node.leafChildren = nil
		m.numLeafNodes -= 8
		m.numInnerLeafNodes++
		m.numInnerNodes--
	} else {
		if node.innerChildren == nil {
			return
		}
		childDepth := depth - 1
		for i := range node.innerChildren {
			m.deleteChildren(&node.innerChildren[i], childDepth, manual)
		}
		node.innerChildren = nil
		m.numInnerLeafNodes -= 7
		m.numInnerNodes--
	}
}

// prune collapses the node and rederives its summary flags from its own
// value.
func (m *OccupancyMap) prune(node *innerNode, depth uint, manual bool) {
	m.deleteChildren(node, depth, manual)
	node.containsFree = m.isFreeLog(node.logit)
	node.containsUnknown = m.isUnknownLog(node.logit)
}

// updateNode recomputes an inner node's summary from its children,
// collapsing the node when they are uniform. It reports whether the summary
// changed.
func (m *OccupancyMap) updateNode(node *innerNode, depth uint, manual bool) bool {
	if depth == 1 {
		if node.leafChildren == nil {
			return false
		}
		return m.updateNodeFromLeaves(node, depth, manual)
	}
	if node.innerChildren == nil {
		return false
	}
	return m.updateNodeFromInner(node, depth, manual)
}

func (m *OccupancyMap) updateNodeFromLeaves(node *innerNode, depth uint, manual bool) bool {
	children := node.leafChildren
	collapsible := true
	for i := 1; i < 8; i++ {
		if children[0].logit != children[i].logit {
			collapsible = false
			break
		}
	}
	if collapsible {
		node.logit = children[0].logit
		m.prune(node, depth, manual)
		return true
	}

	newLogit := children[0].logit
	newContainsFree := false
	newContainsUnknown := false
	for i := range children {
		if children[i].logit > newLogit {
			newLogit = children[i].logit
		}
		switch {
		case m.isFreeLog(children[i].logit):
			newContainsFree = true
		case m.isUnknownLog(children[i].logit):
			newContainsUnknown = true
		}
	}
	return m.applySummary(node, newLogit, newContainsFree, newContainsUnknown)
}

func (m *OccupancyMap) updateNodeFromInner(node *innerNode, depth uint, manual bool) bool {
	children := node.innerChildren
	collapsible := !children[0].hasChildren()
	if collapsible {
		for i := 1; i < 8; i++ {
			if children[0].logit != children[i].logit || children[i].hasChildren() {
				collapsible = false
				break
			}
		}
	}
	if collapsible {
		node.logit = children[0].logit
		m.prune(node, depth, manual)
		return true
	}

	newLogit := children[0].logit
	newContainsFree := false
	newContainsUnknown := false
	for i := range children {
		child := &children[i]
		if child.logit > newLogit {
			newLogit = child.logit
		}
		if child.containsFree {
			newContainsFree = true
		}
		if child.containsUnknown {
			newContainsUnknown = true
		}
	}
	return m.applySummary(node, newLogit, newContainsFree, newContainsUnknown)
}

func (m *OccupancyMap) applySummary(node *innerNode, logit float32, containsFree, containsUnknown bool) bool {
	if node.logit == logit && node.containsFree == containsFree && node.containsUnknown == containsUnknown {
		return false
	}
	node.logit = logit
	node.containsFree = containsFree
	node.containsUnknown = containsUnknown
	return true
}

// Prune runs a manual collapse pass over the whole tree, freeing the child
// blocks of every uniform subtree even when automatic pruning is disabled.
func (m *OccupancyMap) Prune() {
	m.pruneRecurs(&m.root, m.depthLevels)
}

func (m *OccupancyMap) pruneRecurs(node *innerNode, depth uint) {
	if depth > 1 && node.innerChildren != nil {
		for i := range node.innerChildren {
			m.pruneRecurs(&node.innerChildren[i], depth-1)
		}
	}
	if !node.hasChildren() {
		// uniform subtree whose block may have been retained
		m.deleteChildren(node, depth, true)
		return
	}
	m.updateNode(node, depth, true)
}

// resummarize rederives every cached summary flag after a threshold change.
func (m *OccupancyMap) resummarize() {
	m.resummarizeRecurs(&m.root, m.depthLevels)
}

func (m *OccupancyMap) resummarizeRecurs(node *innerNode, depth uint) {
	if !node.hasChildren() {
		node.containsFree = m.isFreeLog(node.logit)
		node.containsUnknown = m.isUnknownLog(node.logit)
		return
	}
	if depth > 1 {
		for i := range node.innerChildren {
			m.resummarizeRecurs(&node.innerChildren[i], depth-1)
		}
	}
	m.updateNode(node, depth, false)
}
