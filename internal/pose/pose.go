// Package pose holds rigid transforms sampled from tracking runtimes.
package pose

import (
	"fmt"

	"goki.dev/mat32/v2"
)

// Pose is a rotation followed by a translation in the standing reference frame.
type Pose struct {
	Rotation    mat32.Quat `json:"rotation"`
	Translation mat32.Vec3 `json:"translation"`
}

// Identity returns the pose at the origin facing forward.
func Identity() Pose {
	var p Pose
	p.Rotation.SetIdentity()
	return p
}

// FromMatrix34 converts a row-major 3x4 device-to-absolute matrix. The left 3x3 block is
// the rotation and the last column the translation.
func FromMatrix34(m [3][4]float32) Pose {
	// mat32.Mat4 is column-major
	var rot mat32.Mat4
	rot[0], rot[4], rot[8] = m[0][0], m[0][1], m[0][2]
	rot[1], rot[5], rot[9] = m[1][0], m[1][1], m[1][2]
	rot[2], rot[6], rot[10] = m[2][0], m[2][1], m[2][2]
	rot[15] = 1

	var p Pose
	p.Rotation.SetFromRotationMatrix(&rot)
	p.Rotation.Normalize()
	p.Translation = mat32.Vec3{X: m[0][3], Y: m[1][3], Z: m[2][3]}
	return p
}

// Mul composes two poses: the result applies o first, then p.
func (p Pose) Mul(o Pose) Pose {
	t := p.Apply(o.Translation)
	return Pose{
		Rotation:    p.Rotation.Mul(o.Rotation),
		Translation: t,
	}
}

// Apply transforms a point from pose space into the reference frame.
func (p Pose) Apply(v mat32.Vec3) mat32.Vec3 {
	r := rotate(p.Rotation, v)
	return mat32.Vec3{X: r.X + p.Translation.X, Y: r.Y + p.Translation.Y, Z: r.Z + p.Translation.Z}
}

// rotate computes q * v * q^-1.
func rotate(q mat32.Quat, v mat32.Vec3) mat32.Vec3 {
	pv := mat32.NewQuat(v.X, v.Y, v.Z, 0)
	inv := q.Inverse()
	out := q.Mul(pv)
	out = out.Mul(inv)
	return mat32.Vec3{X: out.X, Y: out.Y, Z: out.Z}
}

// Inverse returns the pose that undoes p.
func (p Pose) Inverse() Pose {
	inv := p.Rotation.Inverse()
	t := rotate(inv, p.Translation)
	return Pose{
		Rotation:    inv,
		Translation: mat32.Vec3{X: -t.X, Y: -t.Y, Z: -t.Z},
	}
}

func (p Pose) String() string {
	return fmt.Sprintf("pos(%.3f %.3f %.3f) rot(%.3f %.3f %.3f %.3f)",
		p.Translation.X, p.Translation.Y, p.Translation.Z,
		p.Rotation.X, p.Rotation.Y, p.Rotation.Z, p.Rotation.W)
}
