package httpapi

import (
	"testing"
	"time"
)

func TestSlidingWindowLimiterReportsRetryDelay(t *testing.T) {
	now := time.Date(2026, time.March, 3, 12, 0, 0, 0, time.UTC)
	limiter := NewSlidingWindowLimiter(time.Minute, 2, func() time.Time { return now })

	if ok, _ := limiter.Allow(); !ok {
		t.Fatal("first call denied")
	}
	now = now.Add(10 * time.Second)
	if ok, _ := limiter.Allow(); !ok {
		t.Fatal("second call denied")
	}

	//1.- The third call waits for the first to age out.
	now = now.Add(20 * time.Second)
	ok, wait := limiter.Allow()
	if ok {
		t.Fatal("expected third call to be denied")
	}
	if wait != 30*time.Second {
		t.Fatalf("expected 30s retry delay, got %s", wait)
	}

	now = now.Add(wait + time.Millisecond)
	if ok, _ := limiter.Allow(); !ok {
		t.Fatal("expected call after the oldest expired")
	}
	if ok, _ := limiter.Allow(); ok {
		t.Fatal("second call of the new window should be denied")
	}
}

func TestSlidingWindowLimiterDisabled(t *testing.T) {
	for _, limiter := range []*SlidingWindowLimiter{nil, NewSlidingWindowLimiter(0, 3, nil), NewSlidingWindowLimiter(time.Minute, 0, nil)} {
		if ok, _ := limiter.Allow(); !ok {
			t.Fatal("unconfigured limiter should allow")
		}
	}
}
