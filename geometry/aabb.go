// Package geometry provides the bounding volume primitives used to restrict
// octree queries, iteration and serialization to regions of space.
package geometry

import "github.com/golang/geo/r3"

// AABB is an axis-aligned box stored as a center point and per-axis half
// extents.
type AABB struct {
	Center   r3.Vector
	HalfSize r3.Vector
}

// NewAABB returns the box spanning min to max.
func NewAABB(min, max r3.Vector) AABB {
	half := max.Sub(min).Mul(0.5)
	return AABB{Center: min.Add(half), HalfSize: half}
}

// NewAABBFromCenter returns the cube centered at center whose half extent is
// halfSize along every axis.
func NewAABBFromCenter(center r3.Vector, halfSize float64) AABB {
	return AABB{Center: center, HalfSize: r3.Vector{X: halfSize, Y: halfSize, Z: halfSize}}
}

// Min returns the minimum corner of the box.
func (a AABB) Min() r3.Vector {
	return a.Center.Sub(a.HalfSize)
}

// Max returns the maximum corner of the box.
func (a AABB) Max() r3.Vector {
	return a.Center.Add(a.HalfSize)
}

// Translate moves the box by the given offset.
func (a *AABB) Translate(offset r3.Vector) {
	a.Center = a.Center.Add(offset)
}

// Intersects reports whether the two boxes overlap or touch.
func (a AABB) Intersects(o AABB) bool {
	aMin, aMax := a.Min(), a.Max()
	oMin, oMax := o.Min(), o.Max()
	return aMin.X <= oMax.X && aMax.X >= oMin.X &&
		aMin.Y <= oMax.Y && aMax.Y >= oMin.Y &&
		aMin.Z <= oMax.Z && aMax.Z >= oMin.Z
}

// Contains reports whether the point lies inside or on the boundary of the
// box.
func (a AABB) Contains(p r3.Vector) bool {
	min, max := a.Min(), a.Max()
	return min.X <= p.X && p.X <= max.X &&
		min.Y <= p.Y && p.Y <= max.Y &&
		min.Z <= p.Z && p.Z <= max.Z
}
