package stream

import (
	"math"
	"sync"
	"time"
)

// BandwidthUsage captures the throttling state for a single client.
type BandwidthUsage struct {
	ClientID         string
	AvailableBytes   float64
	BytesPerSecond   float64
	ObservedSeconds  float64
	DeniedDeliveries int64
}

type bandwidthBucket struct {
	tokens float64
	last   time.Time
	window time.Time
	sent   int64
	denied int64
}

// BandwidthRegulator enforces a token-bucket budget per client. A denied
// snapshot is skipped; the next one supersedes it anyway.
type BandwidthRegulator struct {
	mu       sync.Mutex
	buckets  map[string]*bandwidthBucket
	capacity float64
	refill   float64
	now      func() time.Time
}

// NewBandwidthRegulator constructs a regulator enforcing the supplied byte
// rate. A non-positive rate disables regulation.
func NewBandwidthRegulator(targetBytesPerSecond float64, clock func() time.Time) *BandwidthRegulator {
	if targetBytesPerSecond <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &BandwidthRegulator{
		buckets:  make(map[string]*bandwidthBucket),
		capacity: targetBytesPerSecond,
		refill:   targetBytesPerSecond,
		now:      clock,
	}
}

func (r *BandwidthRegulator) replenish(bucket *bandwidthBucket, now time.Time) {
	//1.- Skip negative intervals to protect against clock skew.
	if now.Before(bucket.last) {
		return
	}
	elapsed := now.Sub(bucket.last).Seconds()
	bucket.tokens = math.Min(bucket.tokens+elapsed*r.refill, r.capacity)
	bucket.last = now
}

// Allow charges payloadBytes against the client's budget.
func (r *BandwidthRegulator) Allow(clientID string, payloadBytes int) bool {
	if r == nil || clientID == "" || payloadBytes <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	bucket := r.buckets[clientID]
	if bucket == nil {
		//1.- New clients start with a full bucket so the first snapshot always lands.
		bucket = &bandwidthBucket{tokens: r.capacity, last: now, window: now}
		r.buckets[clientID] = bucket
	}
	r.replenish(bucket, now)

	if request := float64(payloadBytes); request > bucket.tokens {
		bucket.denied++
		return false
	} else {
		bucket.tokens -= request
	}
	bucket.sent += int64(payloadBytes)
	return true
}

// Forget removes the token bucket for a disconnected client.
func (r *BandwidthRegulator) Forget(clientID string) {
	if r == nil || clientID == "" {
		return
	}
	r.mu.Lock()
	delete(r.buckets, clientID)
	r.mu.Unlock()
}

// SnapshotUsage reports the current throttling statistics per client.
func (r *BandwidthRegulator) SnapshotUsage() map[string]BandwidthUsage {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buckets) == 0 {
		return nil
	}

	now := r.now()
	usage := make(map[string]BandwidthUsage, len(r.buckets))
	for clientID, bucket := range r.buckets {
		r.replenish(bucket, now)
		observed := math.Max(now.Sub(bucket.window).Seconds(), 0)
		rate := 0.0
		if observed > 0 {
			rate = float64(bucket.sent) / observed
		}
		usage[clientID] = BandwidthUsage{
			ClientID:         clientID,
			AvailableBytes:   math.Max(bucket.tokens, 0),
			BytesPerSecond:   rate,
			ObservedSeconds:  observed,
			DeniedDeliveries: bucket.denied,
		}
	}
	return usage
}
