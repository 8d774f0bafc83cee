package octree

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/ISWBenjaminKaiser/UFOMap/geometry"
)

// rayState holds the per-axis traversal state of a voxel walk.
// Source: Amanatides & Woo, "A Fast Voxel Traversal Algorithm for Ray
// Tracing".
type rayState struct {
	current Key
	ending  Key
	step    [3]int
	tDelta  [3]float64
	tMax    [3]float64
}

// rayInit prepares a voxel walk from origin to end at the given depth. The
// direction must be normalized.
func (m *OccupancyMap) rayInit(origin, end, dir r3.Vector, depth uint) rayState {
	rs := rayState{
		current: m.CoordToKey(origin, depth),
		ending:  m.CoordToKey(end, depth),
	}
	if rs.current == rs.ending {
		return rs
	}

	center := m.KeyToCoord(rs.current)
	border := [3]float64{center.X, center.Y, center.Z}
	o := [3]float64{origin.X, origin.Y, origin.Z}
	d := [3]float64{dir.X, dir.Y, dir.Z}

	for i := 0; i < 3; i++ {
		switch {
		case d[i] > 0:
			rs.step[i] = 1
		case d[i] < 0:
			rs.step[i] = -1
		}

		if rs.step[i] != 0 {
			rs.tDelta[i] = m.NodeSize(depth) / math.Abs(d[i])
			border[i] += float64(rs.step[i]) * m.NodeHalfSize(depth)
			rs.tMax[i] = (border[i] - o[i]) / d[i]
		} else {
			rs.tDelta[i] = math.MaxFloat64
			rs.tMax[i] = math.MaxFloat64
		}
	}
	return rs
}

// takeStep advances the walk one cell along the axis with the smallest tMax.
func (rs *rayState) takeStep(depth uint) {
	i := rs.minAxis()
	rs.current.k[i] = uint(int(rs.current.k[i]) + rs.step[i]<<depth)
	rs.tMax[i] += rs.tDelta[i]
}

// minAxis returns the axis with the smallest tMax.
func (rs *rayState) minAxis() int {
	axis := 0
	if rs.tMax[1] < rs.tMax[axis] {
		axis = 1
	}
	if rs.tMax[2] < rs.tMax[axis] {
		axis = 2
	}
	return axis
}

// tMin returns the smallest tMax over the three axes.
func (rs *rayState) tMin() float64 {
	return rs.tMax[rs.minAxis()]
}

// ComputeRay returns the keys of the cells a ray from origin to end
// traverses at the given depth, excluding the cell containing the end.
// maxRange shortens the ray when non-negative; the segment is clipped to
// the active bounds first and nothing is returned when it misses them
// entirely.
func (m *OccupancyMap) ComputeRay(origin, end r3.Vector, maxRange float64, depth uint) []Key {
	diff := end.Sub(origin)
	distance := diff.Norm()
	if distance == 0 {
		return nil
	}
	dir := diff.Mul(1 / distance)
	if maxRange >= 0 && distance > maxRange {
		end = origin.Add(dir.Mul(maxRange))
	}

	origin, end, ok := m.MoveLineIntoBBX(origin, end)
	if !ok {
		return nil
	}
	distance = end.Sub(origin).Norm()

	var ray []Key
	rs := m.rayInit(origin, end, dir, depth)
	for rs.current != rs.ending && rs.tMin() <= distance {
		ray = append(ray, rs.current)
		rs.takeStep(depth)
	}
	return ray
}

// ComputeRayCoords is ComputeRay returning cell centers instead of keys.
func (m *OccupancyMap) ComputeRayCoords(origin, end r3.Vector, maxRange float64, depth uint) []r3.Vector {
	keys := m.ComputeRay(origin, end, maxRange, depth)
	coords := make([]r3.Vector, 0, len(keys))
	for _, key := range keys {
		coords = append(coords, m.KeyToCoord(key))
	}
	return coords
}

// CastRay walks from origin along direction until it reaches an occupied
// cell, exhausts maxRange, leaves the active bounds, or, unless
// ignoreUnknown is set, enters an unknown cell. It returns the center of
// the cell the walk stopped in and whether that cell is occupied. A
// negative maxRange casts across the whole map.
func (m *OccupancyMap) CastRay(
	origin, direction r3.Vector,
	ignoreUnknown bool,
	maxRange float64,
	depth uint,
) (r3.Vector, bool) {
	if maxRange < 0 {
		maxRange = m.Min().Distance(m.Max())
	}

	dir := direction.Normalize()
	end := origin.Add(dir.Mul(maxRange))

	origin, end, ok := m.MoveLineIntoBBX(origin, end)
	if !ok {
		return origin, false
	}

	rs := m.rayInit(origin, end, dir, depth)
	for rs.current != rs.ending && rs.tMin() <= maxRange {
		code := NewCode(rs.current)
		if m.IsOccupied(code) {
			break
		}
		if !ignoreUnknown && m.IsUnknown(code) {
			break
		}
		rs.takeStep(depth)
	}

	return m.KeyToCoord(rs.current), m.IsOccupied(NewCode(rs.current))
}

// MoveLineIntoBBX clips the segment from origin to end against the active
// bounds, returning the clipped endpoints. It reports false when the
// segment misses the bounds entirely, in which case the endpoints are
// returned unchanged.
func (m *OccupancyMap) MoveLineIntoBBX(origin, end r3.Vector) (r3.Vector, r3.Vector, bool) {
	bbxMin, bbxMax := m.activeBounds()
	return moveLineIntoBox(bbxMin, bbxMax, origin, end)
}

// moveLineIntoBox clips a segment against a box using the six face planes.
func moveLineIntoBox(bbxMin, bbxMax, origin, end r3.Vector) (r3.Vector, r3.Vector, bool) {
	o := [3]float64{origin.X, origin.Y, origin.Z}
	e := [3]float64{end.X, end.Y, end.Z}
	mn := [3]float64{bbxMin.X, bbxMin.Y, bbxMin.Z}
	mx := [3]float64{bbxMax.X, bbxMax.Y, bbxMax.Z}

	for i := 0; i < 3; i++ {
		if (o[i] < mn[i] && e[i] < mn[i]) || (o[i] > mx[i] && e[i] > mx[i]) {
			return origin, end, false
		}
	}

	var hits []r3.Vector
	for i := 0; i < 3 && len(hits) < 2; i++ {
		if hit, ok := segmentPlane(o[i]-mn[i], e[i]-mn[i], origin, end); ok && onFace(hit, i, bbxMin, bbxMax) {
			hits = append(hits, hit)
		}
	}
	for i := 0; i < 3 && len(hits) < 2; i++ {
		if hit, ok := segmentPlane(o[i]-mx[i], e[i]-mx[i], origin, end); ok && onFace(hit, i, bbxMin, bbxMax) {
			hits = append(hits, hit)
		}
	}

	switch len(hits) {
	case 0:
		box := geometry.NewAABB(bbxMin, bbxMax)
		if !box.Contains(origin) && !box.Contains(end) {
			return origin, end, false
		}
	case 1:
		box := geometry.NewAABB(bbxMin, bbxMax)
		if box.Contains(origin) {
			end = hits[0]
		} else {
			origin = hits[0]
		}
	case 2:
		if origin.Sub(hits[0]).Norm2()+end.Sub(hits[1]).Norm2() <=
			origin.Sub(hits[1]).Norm2()+end.Sub(hits[0]).Norm2() {
			origin, end = hits[0], hits[1]
		} else {
			origin, end = hits[1], hits[0]
		}
	}

	return origin, end, true
}

// segmentPlane intersects the segment p1-p2 with an axis plane given the
// two signed distances to it. There is no crossing when both endpoints lie
// on the same side.
func segmentPlane(d1, d2 float64, p1, p2 r3.Vector) (r3.Vector, bool) {
	if d1*d2 >= 0 {
		return r3.Vector{}, false
	}
	return p1.Add(p2.Sub(p1).Mul(-d1 / (d2 - d1))), true
}

// onFace reports whether the point lies strictly within the box face
// perpendicular to the given axis.
func onFace(p r3.Vector, axis int, bbxMin, bbxMax r3.Vector) bool {
	switch axis {
	case 0:
		return p.Y > bbxMin.Y && p.Y < bbxMax.Y && p.Z > bbxMin.Z && p.Z < bbxMax.Z
	case 1:
		return p.X > bbxMin.X && p.X < bbxMax.X && p.Z > bbxMin.Z && p.Z < bbxMax.Z
	default:
		return p.X > bbxMin.X && p.X < bbxMax.X && p.Y > bbxMin.Y && p.Y < bbxMax.Y
	}
}
