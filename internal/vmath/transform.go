package vmath

import "github.com/go-gl/mathgl/mgl64"

// Transform is a 2D affine transform in homogeneous form.
type Transform struct {
	m mgl64.Mat3
}

// Identity returns the transform that leaves points untouched.
func Identity() Transform {
	return Transform{m: mgl64.Ident3()}
}

// NewTransform composes a translation to origin with a rotation by angle,
// so local points are rotated first and then placed at origin.
func NewTransform(origin Vec2, angle float64) Transform {
	return Identity().Translate(origin).Rotate(angle)
}

// Rotation returns a rotation-only transform.
func Rotation(angle float64) Transform {
	return Identity().Rotate(angle)
}

// Translate appends a translation in the current local frame.
func (t Transform) Translate(d Vec2) Transform {
	return Transform{m: t.m.Mul3(mgl64.Translate2D(d.X(), d.Y()))}
}

// Rotate appends a rotation in the current local frame.
func (t Transform) Rotate(angle float64) Transform {
	return Transform{m: t.m.Mul3(mgl64.HomogRotate2D(angle))}
}

// Then composes t with next, applying t's frame first.
func (t Transform) Then(next Transform) Transform {
	return Transform{m: t.m.Mul3(next.m)}
}

// Point maps a single local point into the outer frame.
func (t Transform) Point(p Vec2) Vec2 {
	return t.m.Mul3x1(p.Vec3(1)).Vec2()
}

// Apply maps every point and returns a fresh slice.
func (t Transform) Apply(points ...Vec2) []Vec2 {
	out := make([]Vec2, len(points))
	for i, p := range points {
		out[i] = t.Point(p)
	}
	return out
}
