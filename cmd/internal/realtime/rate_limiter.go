package realtime

import "time"

// RateLimiter is a per-connection sliding-window limiter over inbound frames.
// It keeps the accepted timestamps of the current window in a fixed ring, so Allow never
// allocates. It is owned by a single read loop and is not safe for concurrent use.
type RateLimiter struct {
	ring   []time.Time
	head   int // oldest entry
	n      int
	window time.Duration
}

// NewRateLimiter allows limit frames per window. Non-positive inputs fall back to the defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{ring: make([]time.Time, limit), window: window}
}

// Allow records a frame at now and reports whether it is within the limit.
// Rejected frames are not recorded.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.expire(now)
	if r.n == len(r.ring) {
		return false
	}
	r.ring[(r.head+r.n)%len(r.ring)] = now
	r.n++
	return true
}

// RetryAfter returns how long until the next frame would be accepted (0 when it would be now).
func (r *RateLimiter) RetryAfter(now time.Time) time.Duration {
	r.expire(now)
	if r.n < len(r.ring) {
		return 0
	}
	return r.ring[r.head].Add(r.window).Sub(now)
}

func (r *RateLimiter) expire(now time.Time) {
	cut := now.Add(-r.window)
	for r.n > 0 && !r.ring[r.head].After(cut) {
		r.ring[r.head] = time.Time{}
		r.head = (r.head + 1) % len(r.ring)
		r.n--
	}
}
