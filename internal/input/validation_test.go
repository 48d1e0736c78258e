package input

import (
	"math"
	"testing"
	"time"

	"steersim/engine/internal/logging"
)

func TestValidatorCheck(t *testing.T) {
	v := NewValidator(Limits{}, logging.NewTestLogger(), nil)
	cases := []struct {
		event Event
		want  ValidationReason
	}{
		{Event{Type: EventKeyDown, Code: KeyW}, ValidationReasonNone},
		{Event{Type: EventKeyUp, Code: "KeyQ"}, ValidationReasonKey},
		{Event{Type: EventPointerMove, MovementX: 12, DevicePixelRatio: 2}, ValidationReasonNone},
		{Event{Type: EventPointerMove, MovementX: math.NaN()}, ValidationReasonMovement},
		{Event{Type: EventPointerMove, MovementX: 1e6}, ValidationReasonMovement},
		{Event{Type: EventPointerMove, MovementX: 1, DevicePixelRatio: 40}, ValidationReasonPixelRate},
		{Event{Type: EventPointerCancel}, ValidationReasonNone},
		{Event{Type: "wheel"}, ValidationReasonType},
	}
	for _, tc := range cases {
		if got := v.Check(tc.event); got != tc.want {
			t.Fatalf("Check(%+v) = %q, want %q", tc.event, got, tc.want)
		}
	}
}

func TestValidatorDisconnectsAfterBurst(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	v := NewValidator(Limits{InvalidBurstLimit: 3, InvalidBurstWindow: time.Second}, logging.NewTestLogger(), clock)
	bad := Event{Type: EventKeyDown, Code: "Escape"}

	//1.- Two invalid events inside the window only reject.
	for i := 0; i < 2; i++ {
		if d := v.Validate("conn", bad); d.Accepted || d.Disconnect {
			t.Fatalf("unexpected decision %d: %+v", i, d)
		}
	}
	//2.- The third one trips the burst limit.
	if d := v.Validate("conn", bad); !d.Disconnect {
		t.Fatalf("expected disconnect, got %+v", d)
	}
	if counts := v.Rejects("conn"); counts[ValidationReasonKey] != 3 {
		t.Fatalf("unexpected counters %+v", counts)
	}

	//3.- After the window the burst restarts.
	clock.Advance(2 * time.Second)
	if d := v.Validate("conn", bad); d.Disconnect {
		t.Fatalf("burst should have reset, got %+v", d)
	}
	v.Forget("conn")
	if counts := v.Rejects("conn"); len(counts) != 0 {
		t.Fatalf("expected counters cleared, got %+v", counts)
	}
	if d := v.Validate("conn", Event{Type: EventKeyUp, Code: KeyA}); !d.Accepted {
		t.Fatalf("valid event rejected: %+v", d)
	}
}
