package replay

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"steersim/engine/internal/input"
	"steersim/engine/internal/physics"
	"steersim/engine/internal/vmath"
)

func TestWriterAppendAndFlushCadence(t *testing.T) {
	tmp := t.TempDir()
	now := time.Date(2024, 7, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	writer, manifest, err := NewWriter(tmp, "Test Session!", physics.SimpleConfig(), clock)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	if manifest.FrameIntervalMs != 200 {
		t.Fatalf("expected frame interval 200 ms, got %d", manifest.FrameIntervalMs)
	}
	if filepath.Base(writer.Directory()) != "TestSession-20240710T120000.000Z" {
		t.Fatalf("unexpected bundle directory %q", writer.Directory())
	}

	state := physics.VehicleState{Position: vmath.Vec2{500, 100}, Geometry: physics.SimpleConfig().Geometry}
	writer.SetBaseTick(4)
	//1.- The first frame anchors the cadence; the next ones stay pending until 200 ms pass.
	if err := writer.AppendFrame(4, state); err != nil {
		t.Fatalf("append frame: %v", err)
	}
	now = now.Add(100 * time.Millisecond)
	if err := writer.AppendInput(5, input.Snapshot{Throttle: input.ThrottleAccelerate}); err != nil {
		t.Fatalf("append input: %v", err)
	}
	state.Speed = 0.1
	if err := writer.AppendFrame(5, state); err != nil {
		t.Fatalf("append frame: %v", err)
	}
	if len(writer.pending) != 2 {
		t.Fatalf("expected 2 pending frames, got %d", len(writer.pending))
	}
	now = now.Add(120 * time.Millisecond)
	if err := writer.AppendInput(6, input.Snapshot{}.WithPointer(0.25)); err != nil {
		t.Fatalf("append input: %v", err)
	}
	if err := writer.AppendFrame(6, state); err != nil {
		t.Fatalf("append frame: %v", err)
	}
	if len(writer.pending) != 0 {
		t.Fatalf("expected cadence flush, %d frames pending", len(writer.pending))
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("second close must be a no-op: %v", err)
	}
	if err := writer.AppendFrame(7, state); err == nil {
		t.Fatalf("expected append after close to fail")
	}

	//2.- Read everything back through the bundle reader.
	bundle, err := ReadBundle(filepath.Join(writer.Directory(), "manifest.json"))
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	if bundle.Header.BaseTick != 4 || bundle.Header.SessionID != "TestSession" {
		t.Fatalf("unexpected header %+v", bundle.Header)
	}
	if len(bundle.Inputs) != 2 || bundle.Inputs[0].Input.Throttle != input.ThrottleAccelerate {
		t.Fatalf("unexpected inputs %+v", bundle.Inputs)
	}
	if !bundle.Inputs[1].Input.Pointer || bundle.Inputs[1].Input.PointerDelta != 0.25 {
		t.Fatalf("pointer input not preserved: %+v", bundle.Inputs[1])
	}
	if len(bundle.Frames) != 3 || bundle.Frames[0].Tick != 4 || bundle.Frames[2].Tick != 6 {
		t.Fatalf("unexpected frames %+v", bundle.Frames)
	}
	decoded, err := DecodePose(bundle.Frames[1].Payload, bundle.Header.Vehicle)
	if err != nil {
		t.Fatalf("decode pose: %v", err)
	}
	if decoded.Speed != 0.1 || decoded.Position != state.Position {
		t.Fatalf("unexpected decoded pose %+v", decoded)
	}
}

func TestNewWriterRejectsInvalidInput(t *testing.T) {
	if _, _, err := NewWriter("", "x", physics.SimpleConfig(), nil); err == nil {
		t.Fatalf("expected missing root to fail")
	}
	if _, _, err := NewWriter(t.TempDir(), "x", physics.Config{}, nil); err == nil {
		t.Fatalf("expected invalid vehicle to fail")
	}
}

func TestReadBundleRejectsTruncatedFrames(t *testing.T) {
	tmp := t.TempDir()
	writer, _, err := NewWriter(tmp, "trunc", physics.SimpleConfig(), nil)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	if err := writer.AppendFrame(0, physics.VehicleState{}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	//1.- Replace the frame stream with garbage that is not zstd.
	if err := os.WriteFile(filepath.Join(writer.Directory(), "frames.bin.zst"), []byte("nope"), 0o644); err != nil {
		t.Fatalf("overwrite frames: %v", err)
	}
	if _, err := ReadBundle(writer.Directory()); err == nil {
		t.Fatalf("expected corrupt frame stream to fail")
	}
}

func TestPoseRoundTripWithTrailer(t *testing.T) {
	cfg := physics.TrailerConfig()
	state := physics.VehicleState{
		Position:   vmath.Vec2{12.5, -3},
		Heading:    1.25,
		Speed:      -0.4,
		WheelAngle: -0.3,
		Mode:       physics.SteeringPointer,
		Geometry:   cfg.Geometry,
		Trailer:    &physics.TrailerState{Position: vmath.Vec2{-80, 4}, Heading: 1.1, Length: cfg.Trailer.Length},
	}
	decoded, err := DecodePose(EncodePose(state), cfg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Equal(state) {
		t.Fatalf("pose changed in transit: %+v vs %+v", decoded, state)
	}
	if _, err := DecodePose(EncodePose(state)[:50], cfg); err == nil {
		t.Fatalf("expected truncated trailer pose to fail")
	}
}
