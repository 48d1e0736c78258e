package replay

import (
	"encoding/binary"
	"fmt"
	"math"

	"steersim/engine/internal/physics"
	"steersim/engine/internal/vmath"
)

const (
	tractorPoseSize = 5*8 + 2
	trailerPoseSize = 3 * 8
)

// EncodePose packs the dynamic part of a vehicle state. Geometry is constant
// per bundle and lives in the header instead.
func EncodePose(state physics.VehicleState) []byte {
	size := tractorPoseSize
	if state.Trailer != nil {
		size += trailerPoseSize
	}
	buf := make([]byte, 0, size)
	for _, v := range []float64{state.Position.X(), state.Position.Y(), state.Heading, state.Speed, state.WheelAngle} {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	buf = append(buf, byte(state.Mode))
	if state.Trailer == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	for _, v := range []float64{state.Trailer.Position.X(), state.Trailer.Position.Y(), state.Trailer.Heading} {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	return buf
}

// DecodePose rebuilds a state encoded by EncodePose using the bundle's
// vehicle constants.
func DecodePose(payload []byte, vehicle physics.Config) (physics.VehicleState, error) {
	if len(payload) < tractorPoseSize {
		return physics.VehicleState{}, fmt.Errorf("pose truncated: %d bytes", len(payload))
	}
	read := func(i int) float64 {
		return math.Float64frombits(binary.LittleEndian.Uint64(payload[i*8 : i*8+8]))
	}
	state := physics.VehicleState{
		Position:   vmath.Vec2{read(0), read(1)},
		Heading:    read(2),
		Speed:      read(3),
		WheelAngle: read(4),
		Mode:       physics.SteeringMode(payload[40]),
		Geometry:   vehicle.Geometry,
	}
	if payload[41] == 0 {
		return state, nil
	}
	if len(payload) < tractorPoseSize+trailerPoseSize {
		return physics.VehicleState{}, fmt.Errorf("trailer pose truncated: %d bytes", len(payload))
	}
	trailer := payload[tractorPoseSize:]
	readT := func(i int) float64 {
		return math.Float64frombits(binary.LittleEndian.Uint64(trailer[i*8 : i*8+8]))
	}
	state.Trailer = &physics.TrailerState{
		Position: vmath.Vec2{readT(0), readT(1)},
		Heading:  readT(2),
		Length:   vehicle.Trailer.Length,
	}
	return state, nil
}
