package pointcloud

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

func TestPointCloudBasic(t *testing.T) {
	cloud := New()
	test.That(t, cloud.Size(), test.ShouldEqual, 0)

	cloud.Add(r3.Vector{X: 1, Y: 2, Z: 3})
	cloud.Add(r3.Vector{X: -1, Y: 0, Z: 4})
	test.That(t, cloud.Size(), test.ShouldEqual, 2)
	test.That(t, cloud.At(0), test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, cloud.At(1), test.ShouldResemble, r3.Vector{X: -1, Y: 0, Z: 4})

	count := 0
	cloud.Iterate(func(p r3.Vector) bool {
		count++
		return true
	})
	test.That(t, count, test.ShouldEqual, 2)

	count = 0
	cloud.Iterate(func(p r3.Vector) bool {
		count++
		return false
	})
	test.That(t, count, test.ShouldEqual, 1)
}

func TestPointCloudReserve(t *testing.T) {
	cloud := NewWithPrealloc(4)
	cloud.Add(r3.Vector{X: 1})
	cloud.Reserve(100)
	test.That(t, cloud.Size(), test.ShouldEqual, 1)
	test.That(t, cloud.At(0), test.ShouldResemble, r3.Vector{X: 1})
}

func TestPointCloudClone(t *testing.T) {
	cloud := New()
	cloud.Add(r3.Vector{X: 1})

	clone := cloud.Clone()
	clone.Add(r3.Vector{X: 2})
	test.That(t, cloud.Size(), test.ShouldEqual, 1)
	test.That(t, clone.Size(), test.ShouldEqual, 2)
}

func TestPoseApply(t *testing.T) {
	identity := IdentityPose()
	p := r3.Vector{X: 1, Y: 2, Z: 3}
	test.That(t, identity.Apply(p), test.ShouldResemble, p)

	// quarter turn about z moves +x onto +y
	half := math.Pi / 4
	rot := quat.Number{Real: math.Cos(half), Kmag: math.Sin(half)}
	pose := NewPose(r3.Vector{X: 0, Y: 0, Z: 1}, rot)
	got := pose.Apply(r3.Vector{X: 1})
	test.That(t, got.X, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, got.Y, test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, got.Z, test.ShouldAlmostEqual, 1, 1e-12)
}

func TestPointCloudTransform(t *testing.T) {
	cloud := New()
	cloud.Add(r3.Vector{X: 1})
	cloud.Add(r3.Vector{Y: 1})

	cloud.Transform(NewPose(r3.Vector{Z: 2}, quat.Number{Real: 1}))
	test.That(t, cloud.At(0), test.ShouldResemble, r3.Vector{X: 1, Z: 2})
	test.That(t, cloud.At(1), test.ShouldResemble, r3.Vector{Y: 1, Z: 2})
}
