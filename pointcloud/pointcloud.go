// Package pointcloud defines the point container fed into the octree's
// insertion operations, together with the rigid transform used to move a
// cloud from the sensor frame into the map frame.
package pointcloud

import (
	"github.com/golang/geo/r3"
)

// PointCloud is an ordered sequence of 3D points.
type PointCloud struct {
	points []r3.Vector
}

// New returns an empty PointCloud.
func New() *PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty PointCloud with capacity for size points.
func NewWithPrealloc(size int) *PointCloud {
	return &PointCloud{points: make([]r3.Vector, 0, size)}
}

// Size returns the number of points in the cloud.
func (cloud *PointCloud) Size() int {
	return len(cloud.points)
}

// Reserve grows the cloud's capacity to hold at least n points.
func (cloud *PointCloud) Reserve(n int) {
	if cap(cloud.points) >= n {
		return
	}
	points := make([]r3.Vector, len(cloud.points), n)
	copy(points, cloud.points)
	cloud.points = points
}

// Add appends a point to the cloud.
func (cloud *PointCloud) Add(p r3.Vector) {
	cloud.points = append(cloud.points, p)
}

// At returns the i-th point of the cloud.
func (cloud *PointCloud) At(i int) r3.Vector {
	return cloud.points[i]
}

// Iterate calls fn for every point in order. If fn returns false, iteration
// stops.
func (cloud *PointCloud) Iterate(fn func(p r3.Vector) bool) {
	for _, p := range cloud.points {
		if !fn(p) {
			return
		}
	}
}

// Clone returns a deep copy of the cloud.
func (cloud *PointCloud) Clone() *PointCloud {
	points := make([]r3.Vector, len(cloud.points))
	copy(points, cloud.points)
	return &PointCloud{points: points}
}

// Transform applies the pose to every point of the cloud in place.
func (cloud *PointCloud) Transform(pose Pose) {
	for i, p := range cloud.points {
		cloud.points[i] = pose.Apply(p)
	}
}
