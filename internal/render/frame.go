// Package render turns a vehicle state into screen-space polygons. It is the
// host-independent half of the render adapter: the desktop host rasterises
// a Frame, the stream host ships it to remote clients.
package render

import (
	"image/color"

	"golang.org/x/image/colornames"

	"steersim/engine/internal/physics"
	"steersim/engine/internal/vmath"
)

const (
	// GaugeWidth is the width of the steering gauge track.
	GaugeWidth  = 480
	gaugeTop    = 10
	gaugeHeight = 24
	gaugeDotY   = 22
	gaugeRadius = 12

	// overhang pads the axle corners out to the visible body outline.
	overhangX = 15
	overhangY = 5
)

// Quad is a filled polygon with four corners in draw order.
type Quad [4]vmath.Vec2

// Gauge is the steering indicator drawn at the top of the canvas.
type Gauge struct {
	Track  [4]float64 `json:"track"` // x, y, width, height
	Dot    vmath.Vec2 `json:"dot"`
	Radius float64    `json:"radius"`
	Active bool       `json:"active"`
}

// Frame is everything drawn for one tick, in back-to-front order:
// gauge, body, trailer, front wheels, rear wheels.
type Frame struct {
	Gauge   Gauge   `json:"gauge"`
	Body    Quad    `json:"body"`
	Trailer *Quad   `json:"trailer,omitempty"`
	Wheels  [4]Quad `json:"wheels"` // front-left, front-right, rear-left, rear-right
}

// Palette holds the fill colours of a frame.
type Palette struct {
	Background color.Color
	Body       color.Color
	Wheel      color.Color
	Track      color.Color
	DotActive  color.Color
	DotIdle    color.Color
}

// DefaultPalette matches the browser rendering of the vehicle.
func DefaultPalette() Palette {
	return Palette{
		Background: colornames.White,
		Body:       color.NRGBA{A: 0xcc},
		Wheel:      colornames.Black,
		Track:      color.NRGBA{R: 0xe0, G: 0xe0, B: 0xe0, A: 0xff},
		DotActive:  color.NRGBA{R: 0xe0, A: 0xff},
		DotIdle:    color.NRGBA{R: 0x40, A: 0xff},
	}
}

// DotColor picks the gauge dot fill for g.
func (p Palette) DotColor(g Gauge) color.Color {
	if g.Active {
		return p.DotActive
	}
	return p.DotIdle
}

// BuildFrame derives the draw geometry for state on a canvas canvasWidth wide.
// It only reads state.
func BuildFrame(state physics.VehicleState, tuning physics.Tuning, canvasWidth float64) Frame {
	var frame Frame
	frame.Gauge = buildGauge(state, tuning, canvasWidth)

	//1.- Axle corners in world space: front axle at the origin, rear axle one wheelbase back.
	halfWidth := state.Geometry.BodyWidth / 2
	length := state.Geometry.Wheelbase
	corners := vmath.NewTransform(state.Position, state.Heading).Apply(
		vmath.Vec2{0, -halfWidth},
		vmath.Vec2{0, halfWidth},
		vmath.Vec2{-length, halfWidth},
		vmath.Vec2{-length, -halfWidth},
	)
	fl, fr, rl, rr := corners[0], corners[1], corners[2], corners[3]

	//2.- Body outline overhangs each corner along the body axes.
	body := vmath.Rotation(state.Heading)
	frame.Body = Quad{
		fl.Add(body.Point(vmath.Vec2{overhangX, -overhangY})),
		fr.Add(body.Point(vmath.Vec2{overhangX, overhangY})),
		rl.Add(body.Point(vmath.Vec2{-overhangX, overhangY})),
		rr.Add(body.Point(vmath.Vec2{-overhangX, -overhangY})),
	}

	//3.- Trailer box from the hitch back over its length, padded to the body width.
	if trailer := state.Trailer; trailer != nil {
		pose := vmath.NewTransform(trailer.Position, trailer.Heading)
		quad := Quad{}
		copy(quad[:], pose.Apply(
			vmath.Vec2{overhangX, -overhangY - halfWidth},
			vmath.Vec2{overhangX, overhangY + halfWidth},
			vmath.Vec2{-overhangX - trailer.Length, overhangY + halfWidth},
			vmath.Vec2{-overhangX - trailer.Length, -overhangY - halfWidth},
		))
		frame.Trailer = &quad
	}

	//4.- Front wheels follow the wheel angle, rear wheels the body.
	front := vmath.Rotation(state.Heading + state.WheelAngle)
	frame.Wheels[0] = wheelQuad(fl, front)
	frame.Wheels[1] = wheelQuad(fr, front)
	frame.Wheels[2] = wheelQuad(rl, body)
	frame.Wheels[3] = wheelQuad(rr, body)
	return frame
}

func wheelQuad(center vmath.Vec2, rotation vmath.Transform) Quad {
	return Quad{
		center.Add(rotation.Point(vmath.Vec2{-overhangX, -overhangY})),
		center.Add(rotation.Point(vmath.Vec2{-overhangX, overhangY})),
		center.Add(rotation.Point(vmath.Vec2{overhangX, overhangY})),
		center.Add(rotation.Point(vmath.Vec2{overhangX, -overhangY})),
	}
}

func buildGauge(state physics.VehicleState, tuning physics.Tuning, canvasWidth float64) Gauge {
	left := (canvasWidth - GaugeWidth) / 2
	ratio := 0.0
	if tuning.MaxWheelAngle > 0 {
		ratio = vmath.Clamp(state.WheelAngle/tuning.MaxWheelAngle, -1, 1)
	}
	return Gauge{
		Track:  [4]float64{left, gaugeTop, GaugeWidth, gaugeHeight},
		Dot:    vmath.Vec2{left + GaugeWidth/2*(1+ratio), gaugeDotY},
		Radius: gaugeRadius,
		Active: state.Mode != physics.SteeringNone,
	}
}

// Polygons lists every filled quad of the frame in draw order with its fill.
func (f Frame) Polygons(p Palette) []Polygon {
	polys := make([]Polygon, 0, 6)
	polys = append(polys, Polygon{Points: f.Body, Fill: p.Body})
	if f.Trailer != nil {
		polys = append(polys, Polygon{Points: *f.Trailer, Fill: p.Body})
	}
	for _, wheel := range f.Wheels {
		polys = append(polys, Polygon{Points: wheel, Fill: p.Wheel})
	}
	return polys
}

// Polygon pairs a quad with its fill colour.
type Polygon struct {
	Points Quad
	Fill   color.Color
}
