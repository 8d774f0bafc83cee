// Package octree implements a sparse octree for probabilistic 3D occupancy
// mapping. Each leaf carries a log-odds occupancy estimate accumulated from
// sensor rays; uniform subtrees collapse into single nodes and summary
// values propagate toward the root so region queries stay cheap. The tree
// supports incremental point-cloud insertion, ray casting, depth-first
// iteration and (optionally LZ4-compressed) serialization.
package octree

import (
	"math"
	"unsafe"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

const (
	minDepthLevels = 2
	maxDepthLevels = 21
)

// Default sensor model used by NewOccupancyMap.
const (
	DefaultOccupancyThres   = 0.5
	DefaultFreeThres        = 0.5
	DefaultProbHit          = 0.7
	DefaultProbMiss         = 0.4
	DefaultClampingThresMin = 0.1192
	DefaultClampingThresMax = 0.971
)

// OccupancyMap is a sparse octree of log-odds occupancy estimates. It is
// safe for concurrent readers but not for concurrent mutation.
type OccupancyMap struct {
	logger golog.Logger

	resolution       float64
	resolutionFactor float64
	depthLevels      uint
	maxValue         uint

	occupancyThresLog   float32
	freeThresLog        float32
	probHitLog          float32
	probMissLog         float32
	clampingThresMinLog float32
	clampingThresMaxLog float32

	bbxLimitEnabled bool
	bbxMin, bbxMax  r3.Vector
	bbxMinKey       Key
	bbxMaxKey       Key

	changeDetectionEnabled bool
	changedCodes           map[Code]struct{}

	root          innerNode
	nodeSizes     []float64
	nodeHalfSizes []float64

	automaticPruning bool

	numInnerNodes     int
	numInnerLeafNodes int
	numLeafNodes      int

	// retained across insertions so the map's buckets amortize
	accumulator map[Code]float32
}

// NewOccupancyMap returns an empty map with the given leaf voxel size and
// number of depth levels, using the default sensor model.
func NewOccupancyMap(resolution float64, depthLevels uint, logger golog.Logger) (*OccupancyMap, error) {
	return NewOccupancyMapWithModel(resolution, depthLevels, logger, DefaultOccupancyThres,
		DefaultFreeThres, DefaultProbHit, DefaultProbMiss, DefaultClampingThresMin, DefaultClampingThresMax)
}

// NewOccupancyMapWithModel returns an empty map with an explicit sensor
// model. All probabilities must lie strictly between 0 and 1.
func NewOccupancyMapWithModel(
	resolution float64,
	depthLevels uint,
	logger golog.Logger,
	occupancyThres, freeThres, probHit, probMiss, clampingThresMin, clampingThresMax float64,
) (*OccupancyMap, error) {
	if depthLevels < minDepthLevels || depthLevels > maxDepthLevels {
		return nil, errors.Errorf("depth levels must be in [%d, %d], got %d",
			minDepthLevels, maxDepthLevels, depthLevels)
	}
	if resolution <= 0 {
		return nil, errors.Errorf("resolution must be positive, got %v", resolution)
	}
	for _, p := range []float64{occupancyThres, freeThres, probHit, probMiss, clampingThresMin, clampingThresMax} {
		if p <= 0 || p >= 1 {
			return nil, errors.Errorf("probability %v is outside (0, 1)", p)
		}
	}

	m := &OccupancyMap{
		logger:              logger,
		occupancyThresLog:   Logit(occupancyThres),
		freeThresLog:        Logit(freeThres),
		probHitLog:          Logit(probHit),
		probMissLog:         Logit(probMiss),
		clampingThresMinLog: Logit(clampingThresMin),
		clampingThresMaxLog: Logit(clampingThresMax),
		automaticPruning:    true,
		numInnerLeafNodes:   1,
		changedCodes:        map[Code]struct{}{},
		accumulator:         make(map[Code]float32, 1024),
	}
	m.setGeometry(resolution, depthLevels)
	m.prune(&m.root, depthLevels, true)
	return m, nil
}

// setGeometry installs the resolution and depth and precomputes node sizes.
func (m *OccupancyMap) setGeometry(resolution float64, depthLevels uint) {
	m.resolution = resolution
	m.resolutionFactor = 1.0 / resolution
	m.depthLevels = depthLevels
	m.maxValue = 1 << (depthLevels - 1)

	m.nodeSizes = make([]float64, depthLevels+1)
	m.nodeHalfSizes = make([]float64, depthLevels+1)
	m.nodeSizes[0] = resolution
	m.nodeHalfSizes[0] = resolution / 2.0
	for i := uint(1); i <= depthLevels; i++ {
		m.nodeSizes[i] = m.nodeSizes[i-1] * 2.0
		m.nodeHalfSizes[i] = m.nodeSizes[i-1]
	}
}

// TreeType returns the stable identifier of this tree kind, used to match
// serialized streams to the receiving type.
func (m *OccupancyMap) TreeType() string {
	return "occupancy_map"
}

// FileVersion returns the stream format version written by Write.
func (m *OccupancyMap) FileVersion() string {
	return fileVersion
}

// Resolution returns the leaf voxel size.
func (m *OccupancyMap) Resolution() float64 {
	return m.resolution
}

// DepthLevels returns the number of depth levels of the tree.
func (m *OccupancyMap) DepthLevels() uint {
	return m.depthLevels
}

// NodeSize returns the edge length of a cell at the given depth.
func (m *OccupancyMap) NodeSize(depth uint) float64 {
	return m.nodeSizes[depth]
}

// NodeHalfSize returns half the edge length of a cell at the given depth.
func (m *OccupancyMap) NodeHalfSize(depth uint) float64 {
	return m.nodeHalfSizes[depth]
}

// SetAutomaticPruning toggles automatic collapsing of uniform subtrees
// during updates. When disabled, collapsed subtrees are still tracked but
// their child blocks stay allocated until Prune is called.
func (m *OccupancyMap) SetAutomaticPruning(enable bool) {
	m.automaticPruning = enable
}

// AutomaticPruningEnabled reports whether automatic pruning is on.
func (m *OccupancyMap) AutomaticPruningEnabled() bool {
	return m.automaticPruning
}

//
// Coordinate <-> key
//

func (m *OccupancyMap) coordToKeyAxis(coord float64, depth uint) uint {
	keyValue := int(math.Floor(m.resolutionFactor * coord))
	if depth == 0 {
		return uint(keyValue + int(m.maxValue))
	}
	return uint((keyValue>>depth)<<depth + 1<<(depth-1) + int(m.maxValue))
}

func (m *OccupancyMap) keyToCoordAxis(key, depth uint) float64 {
	if depth == m.depthLevels {
		return 0.0
	}
	divider := float64(uint64(1) << depth)
	return (math.Floor((float64(key)-float64(m.maxValue))/divider) + 0.5) * m.NodeSize(depth)
}

// CoordToKey returns the key of the cell containing coord at the given
// depth.
func (m *OccupancyMap) CoordToKey(coord r3.Vector, depth uint) Key {
	return NewKey(
		m.coordToKeyAxis(coord.X, depth),
		m.coordToKeyAxis(coord.Y, depth),
		m.coordToKeyAxis(coord.Z, depth),
		depth,
	)
}

// CoordToKeyChecked is CoordToKey, failing when coord lies outside the
// map's bounds (or the bounding box limit when enabled).
func (m *OccupancyMap) CoordToKeyChecked(coord r3.Vector, depth uint) (Key, bool) {
	if !m.InBBX(coord) {
		return Key{}, false
	}
	return m.CoordToKey(coord, depth), true
}

// KeyToCoord returns the center of the cell the key addresses.
func (m *OccupancyMap) KeyToCoord(key Key) r3.Vector {
	return m.KeyToCoordAtDepth(key, key.Depth())
}

// KeyToCoordAtDepth returns the center of the cell at the given depth that
// contains the key.
func (m *OccupancyMap) KeyToCoordAtDepth(key Key, depth uint) r3.Vector {
	return r3.Vector{
		X: m.keyToCoordAxis(key.X(), depth),
		Y: m.keyToCoordAxis(key.Y(), depth),
		Z: m.keyToCoordAxis(key.Z(), depth),
	}
}

// KeyToCoordChecked is KeyToCoordAtDepth, failing when the requested depth
// is finer than the key's own.
func (m *OccupancyMap) KeyToCoordChecked(key Key, depth uint) (r3.Vector, bool) {
	if key.Depth() > depth {
		return r3.Vector{}, false
	}
	return m.KeyToCoordAtDepth(key, depth), true
}

//
// Bounding box limit
//

// SetBBXMin sets the minimum corner of the bounding box limit.
func (m *OccupancyMap) SetBBXMin(min r3.Vector) {
	m.bbxMin = min
	m.bbxMinKey = m.CoordToKey(min, 0)
}

// SetBBXMax sets the maximum corner of the bounding box limit.
func (m *OccupancyMap) SetBBXMax(max r3.Vector) {
	m.bbxMax = max
	m.bbxMaxKey = m.CoordToKey(max, 0)
}

// BBXMin returns the minimum corner of the bounding box limit.
func (m *OccupancyMap) BBXMin() r3.Vector { return m.bbxMin }

// BBXMax returns the maximum corner of the bounding box limit.
func (m *OccupancyMap) BBXMax() r3.Vector { return m.bbxMax }

// BBXCenter returns the center of the bounding box limit.
func (m *OccupancyMap) BBXCenter() r3.Vector {
	return m.bbxMin.Add(m.bbxMax.Sub(m.bbxMin).Mul(0.5))
}

// BBXBounds returns the half extents of the bounding box limit.
func (m *OccupancyMap) BBXBounds() r3.Vector {
	return m.bbxMax.Sub(m.bbxMin).Mul(0.5)
}

// EnableBBXLimit toggles restriction of insertion and traversal to the
// configured bounding box.
func (m *OccupancyMap) EnableBBXLimit(enable bool) {
	m.bbxLimitEnabled = enable
}

// BBXLimitEnabled reports whether the bounding box limit is active.
func (m *OccupancyMap) BBXLimitEnabled() bool {
	return m.bbxLimitEnabled
}

// InBBX reports whether coord lies inside the active bounds: the bounding
// box limit when enabled, otherwise the representable cube.
func (m *OccupancyMap) InBBX(coord r3.Vector) bool {
	min, max := m.activeBounds()
	return min.X <= coord.X && coord.X <= max.X &&
		min.Y <= coord.Y && coord.Y <= max.Y &&
		min.Z <= coord.Z && coord.Z <= max.Z
}

// InBBXKey reports whether the key lies inside the active bounds.
func (m *OccupancyMap) InBBXKey(key Key) bool {
	min, max := m.bbxMinKey, m.bbxMaxKey
	if !m.bbxLimitEnabled {
		min = m.CoordToKey(m.Min(), 0)
		max = m.CoordToKey(m.Max(), 0)
	}
	for i := 0; i < 3; i++ {
		if key.Component(i) < min.Component(i) || key.Component(i) > max.Component(i) {
			return false
		}
	}
	return true
}

func (m *OccupancyMap) activeBounds() (r3.Vector, r3.Vector) {
	if m.bbxLimitEnabled {
		return m.bbxMin, m.bbxMax
	}
	return m.Min(), m.Max()
}

// Min returns the minimum corner of the representable cube.
func (m *OccupancyMap) Min() r3.Vector {
	h := -m.NodeHalfSize(m.depthLevels)
	return r3.Vector{X: h, Y: h, Z: h}
}

// Max returns the maximum corner of the representable cube.
func (m *OccupancyMap) Max() r3.Vector {
	h := m.NodeHalfSize(m.depthLevels)
	return r3.Vector{X: h, Y: h, Z: h}
}

//
// Memory and metrics
//

// Size returns the total number of nodes in the tree.
func (m *OccupancyMap) Size() int {
	return m.numInnerNodes + m.numInnerLeafNodes + m.numLeafNodes
}

// NumInnerNodes returns the number of inner nodes with allocated children.
func (m *OccupancyMap) NumInnerNodes() int { return m.numInnerNodes }

// NumInnerLeafNodes returns the number of inner nodes without allocated
// children.
func (m *OccupancyMap) NumInnerLeafNodes() int { return m.numInnerLeafNodes }

// NumLeafNodes returns the number of depth-0 leaf nodes.
func (m *OccupancyMap) NumLeafNodes() int { return m.numLeafNodes }

// MemoryUsage returns an estimate of the tree's memory footprint in bytes.
func (m *OccupancyMap) MemoryUsage() int {
	innerSize := int(unsafe.Sizeof(innerNode{}))
	leafSize := int(unsafe.Sizeof(leafNode{}))
	return (m.numInnerNodes+m.numInnerLeafNodes)*innerSize + m.numLeafNodes*leafSize
}

// Volume returns the volume of the axis-aligned box enclosing all known
// space.
func (m *OccupancyMap) Volume() float64 {
	size := m.MetricSize(0)
	return size.X * size.Y * size.Z
}

// MetricSize returns the extent of all known space per axis at the given
// depth.
func (m *OccupancyMap) MetricSize(depth uint) r3.Vector {
	return m.MetricMax(depth).Sub(m.MetricMin(depth))
}

// MetricMin returns the minimum corner of the bounding box of all known
// space.
func (m *OccupancyMap) MetricMin(depth uint) r3.Vector {
	min := m.Max()
	it := m.NewLeafIterator(IterateOptions{Occupied: true, Free: true, MinDepth: depth})
	for it.Next() {
		c := it.Center()
		h := it.HalfSize()
		min.X = math.Min(min.X, c.X-h)
		min.Y = math.Min(min.Y, c.Y-h)
		min.Z = math.Min(min.Z, c.Z-h)
	}
	return min
}

// MetricMax returns the maximum corner of the bounding box of all known
// space.
func (m *OccupancyMap) MetricMax(depth uint) r3.Vector {
	max := m.Min()
	it := m.NewLeafIterator(IterateOptions{Occupied: true, Free: true, MinDepth: depth})
	for it.Next() {
		c := it.Center()
		h := it.HalfSize()
		max.X = math.Max(max.X, c.X+h)
		max.Y = math.Max(max.Y, c.Y+h)
		max.Z = math.Max(max.Z, c.Z+h)
	}
	return max
}

//
// Clearing
//

// Clear empties the tree, keeping its resolution and depth.
func (m *OccupancyMap) Clear() {
	//nolint:errcheck // current geometry is always valid
	m.ClearWith(m.resolution, m.depthLevels)
}

// ClearWith empties the tree and installs a new resolution and depth.
func (m *OccupancyMap) ClearWith(resolution float64, depthLevels uint) error {
	if depthLevels < minDepthLevels || depthLevels > maxDepthLevels {
		return errors.Errorf("depth levels must be in [%d, %d], got %d",
			minDepthLevels, maxDepthLevels, depthLevels)
	}
	if resolution <= 0 {
		return errors.Errorf("resolution must be positive, got %v", resolution)
	}

	m.logger.Debugf("clearing occupancy map (resolution %v, depth levels %d)", resolution, depthLevels)
	m.root = innerNode{}
	m.numInnerNodes = 0
	m.numInnerLeafNodes = 1
	m.numLeafNodes = 0
	m.setGeometry(resolution, depthLevels)
	m.prune(&m.root, depthLevels, true)
	return nil
}

// ClearAreaBBX sets every cell at the given depth inside the box to the
// lower clamping bound, marking the region free.
func (m *OccupancyMap) ClearAreaBBX(bbxMin, bbxMax r3.Vector, depth uint) {
	minKey := m.CoordToKey(bbxMin, depth)
	maxKey := m.CoordToKey(bbxMax, depth)

	inc := uint(1) << depth
	for x := minKey.X(); x <= maxKey.X(); x += inc {
		for y := minKey.Y(); y <= maxKey.Y(); y += inc {
			for z := minKey.Z(); z <= maxKey.Z(); z += inc {
				m.SetNodeValue(NewCode(NewKey(x, y, z, depth)), m.clampingThresMinLog)
			}
		}
	}
}
