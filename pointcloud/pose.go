package pointcloud

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform: a rotation followed by a translation.
type Pose struct {
	Translation r3.Vector
	Rotation    quat.Number
}

// NewPose returns the pose with the given translation and rotation. The
// rotation quaternion is expected to be of unit length.
func NewPose(translation r3.Vector, rotation quat.Number) Pose {
	return Pose{Translation: translation, Rotation: rotation}
}

// IdentityPose returns the pose that maps every point to itself.
func IdentityPose() Pose {
	return Pose{Rotation: quat.Number{Real: 1}}
}

// Apply transforms the point by the pose.
func (pose Pose) Apply(p r3.Vector) r3.Vector {
	q := pose.Rotation
	rotated := quat.Mul(quat.Mul(q, quat.Number{Imag: p.X, Jmag: p.Y, Kmag: p.Z}), quat.Conj(q))
	return r3.Vector{
		X: rotated.Imag + pose.Translation.X,
		Y: rotated.Jmag + pose.Translation.Y,
		Z: rotated.Kmag + pose.Translation.Z,
	}
}
