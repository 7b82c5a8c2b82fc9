package pose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"goki.dev/mat32/v2"
)

const tol = 1e-5

func assertVec(t *testing.T, want, got mat32.Vec3) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, tol)
	assert.InDelta(t, want.Y, got.Y, tol)
	assert.InDelta(t, want.Z, got.Z, tol)
}

func TestFromMatrix34Identity(t *testing.T) {
	p := FromMatrix34([3][4]float32{
		{1, 0, 0, 0.5},
		{0, 1, 0, 1.7},
		{0, 0, 1, -2},
	})

	assert.InDelta(t, 1, p.Rotation.W, tol)
	assertVec(t, mat32.Vec3{X: 0.5, Y: 1.7, Z: -2}, p.Translation)
}

func TestFromMatrix34YawQuarterTurn(t *testing.T) {
	// 90 degrees about +Y: x axis maps to -z
	p := FromMatrix34([3][4]float32{
		{0, 0, 1, 0},
		{0, 1, 0, 0},
		{-1, 0, 0, 0},
	})

	got := p.Apply(mat32.Vec3{X: 1})
	assertVec(t, mat32.Vec3{Z: -1}, got)
}

func TestInverseUndoesPose(t *testing.T) {
	p := FromMatrix34([3][4]float32{
		{0, -1, 0, 1},
		{1, 0, 0, 2},
		{0, 0, 1, 3},
	})

	pt := mat32.Vec3{X: 0.25, Y: -4, Z: 9}
	back := p.Inverse().Apply(p.Apply(pt))
	assertVec(t, pt, back)

	id := p.Mul(p.Inverse())
	assertVec(t, mat32.Vec3{}, id.Translation)
}

func TestIdentity(t *testing.T) {
	p := Identity()
	pt := mat32.Vec3{X: 1, Y: 2, Z: 3}
	assertVec(t, pt, p.Apply(pt))
	assert.Contains(t, p.String(), "pos(0.000 0.000 0.000)")
}
