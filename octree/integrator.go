package octree

import (
	"github.com/golang/geo/r3"

	"github.com/ISWBenjaminKaiser/UFOMap/pointcloud"
)

// InsertRay integrates a single sensor ray: misses along the segment from
// origin to end and a hit at the end.
func (m *OccupancyMap) InsertRay(origin, end r3.Vector, maxRange float64, depth uint) {
	m.InsertMissOnRay(origin, end, maxRange, depth)
	m.IntegrateHitAt(end)
}

// InsertMissOnRay integrates a miss into every cell the segment from origin
// to end traverses.
func (m *OccupancyMap) InsertMissOnRay(origin, end r3.Vector, maxRange float64, depth uint) {
	for _, key := range m.ComputeRay(origin, end, maxRange, depth) {
		m.IntegrateMiss(NewCode(key))
	}
}

// InsertPointCloud integrates a point cloud observed from sensorOrigin.
// Every point becomes a hit at its endpoint voxel and a miss in every voxel
// its ray traverses; a cell receives at most one update per cloud, with
// hits taking precedence over misses. A negative maxRange disables range
// limiting.
func (m *OccupancyMap) InsertPointCloud(sensorOrigin r3.Vector, cloud *pointcloud.PointCloud, maxRange float64) {
	m.computeUpdate(sensorOrigin, cloud, maxRange)
	m.drainAccumulator()
}

// InsertPointCloudTransformed first moves the cloud by the given pose, then
// integrates it.
func (m *OccupancyMap) InsertPointCloudTransformed(
	sensorOrigin r3.Vector,
	cloud *pointcloud.PointCloud,
	frameOrigin pointcloud.Pose,
	maxRange float64,
) {
	transformed := cloud.Clone()
	transformed.Transform(frameOrigin)
	m.InsertPointCloud(sensorOrigin, transformed, maxRange)
}

// computeUpdate walks one ray per cloud point and gathers the pending
// updates into the accumulator. Hits are assigned so they win over earlier
// misses; misses are insert-if-absent so the first write for a cell stands.
func (m *OccupancyMap) computeUpdate(sensorOrigin r3.Vector, cloud *pointcloud.PointCloud, maxRange float64) {
	cloud.Iterate(func(point r3.Vector) bool {
		origin := sensorOrigin
		diff := point.Sub(origin)
		distance := diff.Norm()
		dir := diff.Mul(1 / distance)
		end := point
		if maxRange >= 0 && distance > maxRange {
			end = origin.Add(dir.Mul(maxRange))
		}

		origin, end, ok := m.MoveLineIntoBBX(origin, end)
		if !ok {
			return true
		}

		if point == end {
			m.accumulator[NewCode(m.CoordToKey(end, 0))] = m.probHitLog
		}

		rs := m.rayInit(origin, end, dir, 0)
		for rs.current != rs.ending && rs.tMin() <= distance {
			code := NewCode(rs.current)
			if _, present := m.accumulator[code]; !present {
				m.accumulator[code] = m.probMissLog
			}
			rs.takeStep(0)
		}
		return true
	})
}

// InsertPointCloudDiscrete integrates a cloud after deduplicating points by
// their voxel, optionally walking the free-space rays at coarser depths.
// Rays are first traced at depth. When n is positive, each coarse ray stops
// n steps short of its endpoint and the walk continues one depth finer from
// there, through the endpoint's children, down to depth 0. When n is 0 only
// the ray at depth is walked, and the cell where it stops also takes the
// weighted miss.
func (m *OccupancyMap) InsertPointCloudDiscrete(
	sensorOrigin r3.Vector,
	cloud *pointcloud.PointCloud,
	maxRange float64,
	n, depth uint,
) {
	discreteMap := map[Key][]Key{}
	var discrete []Key
	seen := map[Key]struct{}{}

	cloud.Iterate(func(point r3.Vector) bool {
		pointKey := m.CoordToKey(point, 0)
		if _, ok := seen[pointKey]; ok {
			return true
		}
		seen[pointKey] = struct{}{}
		changedPoint := m.KeyToCoord(pointKey)

		origin := sensorOrigin
		diff := changedPoint.Sub(origin)
		distance := diff.Norm()
		dir := diff.Mul(1 / distance)
		end := changedPoint
		if maxRange >= 0 && distance > maxRange {
			end = origin.Add(dir.Mul(maxRange))
		}

		origin, end, ok := m.MoveLineIntoBBX(origin, end)
		if !ok {
			return true
		}

		changedEnd := m.CoordToKey(end, 0)
		if changedPoint == end {
			// TODO: verify the n == 0 && depth != 0 gate against ground
			// truth; it integrates the endpoint immediately instead of
			// through the accumulator
			if n == 0 && depth != 0 {
				m.IntegrateHit(NewCode(changedEnd))
			} else if _, present := m.accumulator[NewCode(changedEnd)]; present {
				return true
			} else {
				m.accumulator[NewCode(changedEnd)] = m.probHitLog
			}
		}

		discrete = append(discrete, changedEnd)
		return true
	})

	if depth != 0 {
		start := uint(1)
		if n == 0 {
			start = depth
		}
		for d := start; d <= depth; d++ {
			previous := discrete
			discrete = nil
			for _, key := range previous {
				keyAtDepth := NewCode(key).ToDepth(d).ToKey()
				children := discreteMap[keyAtDepth]
				if len(children) == 0 {
					discrete = append(discrete, keyAtDepth)
				}
				discreteMap[keyAtDepth] = append(children, key)
			}
		}
	}

	m.computeUpdateDiscrete(sensorOrigin, discrete, discreteMap, n)
	m.drainAccumulator()
}

// computeUpdateDiscrete traces the free space of the multiresolution
// endpoint set. Coarse rays take weighted misses and, when n is positive,
// hand over to the next finer depth through the endpoint's recorded children.
func (m *OccupancyMap) computeUpdateDiscrete(sensorOrigin r3.Vector, current []Key, discreteMap map[Key][]Key, n uint) {
	for _, key := range current {
		origin := sensorOrigin
		diff := m.KeyToCoord(key).Sub(sensorOrigin)
		distance := diff.Norm()
		dir := diff.Mul(1 / distance)
		end := origin.Add(dir.Mul(distance))

		if key.Depth() == 0 {
			rs := m.rayInit(origin, end, dir, 0)
			for rs.current != rs.ending && rs.tMin() <= distance {
				code := NewCode(rs.current)
				if _, present := m.accumulator[code]; !present {
					m.accumulator[code] = m.probMissLog
				}
				rs.takeStep(0)
			}
			continue
		}

		nodeSize := m.NodeSize(key.Depth())
		numSteps := int(distance/nodeSize) - int(n)

		pos := origin
		last := pos
		currentKey := m.CoordToKey(pos, key.Depth())
		step := 0
		value := m.probMissLog / float32(2*key.Depth()+1)
		for currentKey != key && step <= numSteps {
			last = pos
			if _, present := m.accumulator[NewCode(currentKey)]; !present {
				m.accumulator[NewCode(currentKey)] = value
			}
			pos = pos.Add(dir.Mul(nodeSize))
			currentKey = m.CoordToKey(pos, key.Depth())
			step++
		}

		if n == 0 {
			if _, present := m.accumulator[NewCode(currentKey)]; !present {
				m.accumulator[NewCode(currentKey)] = value
			}
		} else {
			m.computeUpdateDiscrete(last, discreteMap[key], discreteMap, n)
		}
	}
}

// drainAccumulator applies and clears the pending per-cell updates.
func (m *OccupancyMap) drainAccumulator() {
	for code, value := range m.accumulator {
		m.UpdateNodeValue(code, value)
	}
	clear(m.accumulator)
}

// GetDiscreteCloud returns a copy of the cloud with at most one point per
// cell at the given depth, each moved to its cell center.
func (m *OccupancyMap) GetDiscreteCloud(cloud *pointcloud.PointCloud, depth uint) *pointcloud.PointCloud {
	discrete := pointcloud.NewWithPrealloc(cloud.Size())
	seen := map[Key]struct{}{}
	cloud.Iterate(func(point r3.Vector) bool {
		key := m.CoordToKey(point, depth)
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			discrete.Add(m.KeyToCoord(key))
		}
		return true
	})
	return discrete
}
