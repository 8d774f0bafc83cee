package octree

// Key addresses a single octree cell by its per-axis grid indices at a given
// depth. Component values live in [0, 2^depthLevels); the map's coordinate
// origin sits at the middle of that range. At depth d the low d bits of each
// component are the canonical center pattern: bit d-1 set, everything below
// clear.
type Key struct {
	k     [3]uint
	depth uint
}

// NewKey returns the key with the given per-axis components and depth.
func NewKey(x, y, z, depth uint) Key {
	return Key{k: [3]uint{x, y, z}, depth: depth}
}

// X returns the key's first component.
func (key Key) X() uint { return key.k[0] }

// Y returns the key's second component.
func (key Key) Y() uint { return key.k[1] }

// Z returns the key's third component.
func (key Key) Z() uint { return key.k[2] }

// Component returns the key's i-th component.
func (key Key) Component(i int) uint { return key.k[i] }

// Depth returns the depth the key addresses.
func (key Key) Depth() uint { return key.depth }
