package input

import (
	"sync"
	"testing"
	"time"

	"steersim/engine/internal/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// 1.- Now returns the configured timestamp for deterministic gate decisions.
func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// 2.- Advance moves the internal clock forward to simulate elapsed time.
func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestGate(clock Clock) *Gate {
	return NewGate(GateConfig{MaxAge: 250 * time.Millisecond, MinInterval: 5 * time.Millisecond}, logging.NewTestLogger(), WithClock(clock))
}

func TestGateRejectsNonMonotonicSequence(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	gate := newTestGate(clock)

	//1.- Accept the initial event to seed client state.
	if first := gate.Evaluate(Envelope{ClientID: "conn-1", Sequence: 1}, true); !first.Accepted {
		t.Fatalf("first event unexpectedly rejected: %+v", first)
	}

	//2.- Replay the previous sequence which should be rejected as out-of-order.
	clock.Advance(time.Second)
	second := gate.Evaluate(Envelope{ClientID: "conn-1", Sequence: 1}, false)
	if second.Accepted || second.Reason != DropReasonSequence {
		t.Fatalf("expected sequence drop, got %+v", second)
	}
	if zero := gate.Evaluate(Envelope{ClientID: "conn-2"}, false); zero.Accepted {
		t.Fatalf("sequence zero must be rejected")
	}

	if drops := gate.Drops(); drops["conn-1"].Sequence != 1 || drops["conn-2"].Sequence != 1 {
		t.Fatalf("unexpected drop counters %+v", drops)
	}
}

func TestGateRejectsStaleThrottledEvents(t *testing.T) {
	clock := &fakeClock{now: time.Unix(10, 0)}
	gate := newTestGate(clock)

	sent := clock.Now().Add(-time.Second)
	stale := gate.Evaluate(Envelope{ClientID: "driver", Sequence: 1, SentAt: sent}, true)
	if stale.Accepted || stale.Reason != DropReasonStale || stale.Delay != time.Second {
		t.Fatalf("expected stale drop, got %+v", stale)
	}

	//1.- Releases are never dropped for staleness.
	release := gate.Evaluate(Envelope{ClientID: "driver", Sequence: 2, SentAt: sent}, false)
	if !release.Accepted {
		t.Fatalf("unthrottled release rejected: %+v", release)
	}
}

func TestGateRateLimitsThrottledEvents(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	gate := newTestGate(clock)

	if decision := gate.Evaluate(Envelope{ClientID: "conn", Sequence: 1}, true); !decision.Accepted {
		t.Fatalf("initial event rejected: %+v", decision)
	}
	clock.Advance(time.Millisecond)
	burst := gate.Evaluate(Envelope{ClientID: "conn", Sequence: 2}, true)
	if burst.Accepted || burst.Reason != DropReasonRateLimited {
		t.Fatalf("expected rate limit drop, got %+v", burst)
	}
	if release := gate.Evaluate(Envelope{ClientID: "conn", Sequence: 3}, false); !release.Accepted {
		t.Fatalf("release must bypass rate limiting: %+v", release)
	}
}

func TestGateForgetClearsClientState(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	gate := newTestGate(clock)

	gate.Evaluate(Envelope{ClientID: "conn", Sequence: 5}, false)
	gate.Evaluate(Envelope{ClientID: "conn", Sequence: 5}, false)

	//1.- Forget the client and ensure a fresh sequence is permitted again.
	gate.Forget("conn")
	if drops := gate.Drops(); drops != nil {
		t.Fatalf("expected counters cleared, got %+v", drops)
	}
	if decision := gate.Evaluate(Envelope{ClientID: "conn", Sequence: 1}, false); !decision.Accepted {
		t.Fatalf("expected new session acceptance, got %+v", decision)
	}
}
