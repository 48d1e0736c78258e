// Package vmath holds the planar helpers shared by the integrator and the
// render adapter. Everything here is total over finite floats.
package vmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Vec2 is a world-space point or direction.
type Vec2 = mgl64.Vec2

// Clamp bounds x to [min, max].
func Clamp(x, min, max float64) float64 {
	return math.Min(math.Max(x, min), max)
}

// Rotate turns v by angle radians around pivot.
func Rotate(v, pivot Vec2, angle float64) Vec2 {
	//1.- Move into the pivot frame, rotate, then move back out.
	local := v.Sub(pivot)
	return mgl64.Rotate2D(angle).Mul2x1(local).Add(pivot)
}

// Translate offsets v by d.
func Translate(v, d Vec2) Vec2 {
	return v.Add(d)
}

// Polar returns the vector of the given length pointing along angle.
func Polar(length, angle float64) Vec2 {
	return Rotate(Vec2{length, 0}, Vec2{}, angle)
}
