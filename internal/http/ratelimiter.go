package httpapi

import (
	"sync"
	"time"
)

// SlidingWindowLimiter admits at most limit calls in any trailing window and
// reports how long a denied caller should wait.
type SlidingWindowLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu    sync.Mutex
	calls []time.Time
}

// NewSlidingWindowLimiter returns a limiter; a non-positive window or limit
// admits everything.
func NewSlidingWindowLimiter(window time.Duration, limit int, clock func() time.Time) *SlidingWindowLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &SlidingWindowLimiter{window: window, limit: limit, now: clock}
}

// Allow records a call when admitted. A denied call gets the delay until the
// oldest admitted call leaves the window.
func (l *SlidingWindowLimiter) Allow() (bool, time.Duration) {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	//1.- Calls are appended in order, so expired ones form a prefix.
	expired := 0
	for expired < len(l.calls) && !l.calls[expired].After(cutoff) {
		expired++
	}
	l.calls = append(l.calls[:0], l.calls[expired:]...)
	if len(l.calls) >= l.limit {
		return false, l.calls[0].Sub(cutoff)
	}
	l.calls = append(l.calls, now)
	return true, 0
}
