package stream

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"steersim/engine/internal/physics"
	"steersim/engine/internal/render"
	"steersim/engine/internal/simulation"
	"steersim/engine/internal/vmath"
)

// Encoder turns a simulation snapshot and its render frame into the JSON
// document pushed to stream clients.
type Encoder struct {
	canvasWidth float64
	tuning      physics.Tuning
	marshal     protojson.MarshalOptions
}

// NewEncoder builds an encoder laying out frames for canvasWidth.
func NewEncoder(tuning physics.Tuning, canvasWidth float64) *Encoder {
	return &Encoder{
		canvasWidth: canvasWidth,
		tuning:      tuning,
		marshal:     protojson.MarshalOptions{EmitUnpopulated: false, UseProtoNames: true},
	}
}

// Encode builds the frame for snap and marshals both.
func (e *Encoder) Encode(snap simulation.Snapshot) ([]byte, error) {
	frame := render.BuildFrame(snap.Vehicle, e.tuning, e.canvasWidth)
	doc, err := SnapshotStruct(snap, frame)
	if err != nil {
		return nil, err
	}
	payload, err := e.marshal.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot %d: %w", snap.Tick, err)
	}
	return payload, nil
}

// EncodeTimeSync reports the server clock so clients can stamp input events
// in server time; the input gate measures staleness against it.
func (e *Encoder) EncodeTimeSync(now time.Time, tick uint64) ([]byte, error) {
	doc, err := structpb.NewStruct(map[string]any{
		"type":      "time_sync",
		"server_ms": float64(now.UnixMilli()),
		"tick":      float64(tick),
	})
	if err != nil {
		return nil, fmt.Errorf("encode time sync: %w", err)
	}
	return e.marshal.Marshal(doc)
}

// SnapshotStruct converts a snapshot and its frame into a protobuf Struct.
func SnapshotStruct(snap simulation.Snapshot, frame render.Frame) (*structpb.Struct, error) {
	doc, err := structpb.NewStruct(map[string]any{
		"type":    "snapshot",
		"tick":    float64(snap.Tick),
		"vehicle": vehicleFields(snap.Vehicle),
		"frame":   frameFields(frame),
	})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot %d: %w", snap.Tick, err)
	}
	return doc, nil
}

func vehicleFields(state physics.VehicleState) map[string]any {
	fields := map[string]any{
		"position":    point(state.Position),
		"heading":     state.Heading,
		"speed":       state.Speed,
		"wheel_angle": state.WheelAngle,
		"mode":        state.Mode.String(),
	}
	if state.Trailer != nil {
		fields["trailer"] = map[string]any{
			"position": point(state.Trailer.Position),
			"heading":  state.Trailer.Heading,
			"length":   state.Trailer.Length,
		}
	}
	return fields
}

func frameFields(frame render.Frame) map[string]any {
	wheels := make([]any, 0, len(frame.Wheels))
	for _, wheel := range frame.Wheels {
		wheels = append(wheels, quad(wheel))
	}
	fields := map[string]any{
		"gauge": map[string]any{
			"track":  []any{frame.Gauge.Track[0], frame.Gauge.Track[1], frame.Gauge.Track[2], frame.Gauge.Track[3]},
			"dot":    point(frame.Gauge.Dot),
			"radius": frame.Gauge.Radius,
			"active": frame.Gauge.Active,
		},
		"body":   quad(frame.Body),
		"wheels": wheels,
	}
	if frame.Trailer != nil {
		fields["trailer"] = quad(*frame.Trailer)
	}
	return fields
}

func point(v vmath.Vec2) []any {
	return []any{v[0], v[1]}
}

func quad(q render.Quad) []any {
	corners := make([]any, 0, len(q))
	for _, corner := range q {
		corners = append(corners, point(corner))
	}
	return corners
}
