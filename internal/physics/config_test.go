package physics

import (
	"strings"
	"testing"

	"steersim/engine/internal/logging"
)

func TestPresetsValidate(t *testing.T) {
	for _, name := range []string{"simple", "trailer", ""} {
		cfg, err := Preset(name)
		if err != nil {
			t.Fatalf("preset %q: %v", name, err)
		}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("preset %q invalid: %v", name, err)
		}
	}
	if _, err := Preset("bus"); err == nil {
		t.Fatalf("expected unknown preset error")
	}
}

func TestValidateRejectsAsinUnsafeTuning(t *testing.T) {
	cfg := SimpleConfig()
	cfg.Geometry.Wheelbase = 1
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "yaw ratio") {
		t.Fatalf("expected yaw ratio error, got %v", err)
	}

	cfg = TrailerConfig()
	cfg.Trailer.Length = 2
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected trailer length error")
	}

	if _, err := NewIntegrator(Config{Name: "empty"}, logging.NewTestLogger()); err == nil {
		t.Fatalf("expected empty config to be rejected")
	}
}

func TestSteeringModeText(t *testing.T) {
	for _, mode := range []SteeringMode{SteeringNone, SteeringPointer, SteeringKey} {
		text, _ := mode.MarshalText()
		var decoded SteeringMode
		_ = decoded.UnmarshalText(text)
		if decoded != mode {
			t.Fatalf("mode %v decoded as %v", mode, decoded)
		}
	}
}
