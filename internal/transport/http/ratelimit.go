package http

import "time"

// rateLimiter counts inbound frames per connection in fixed one-minute windows.
// It is only used from the connection's read loop.
type rateLimiter struct {
	limit       int
	count       int
	windowStart time.Time
	now         func() time.Time
}

func newRateLimiter(limit int) *rateLimiter {
	return &rateLimiter{limit: limit, now: time.Now}
}

func (r *rateLimiter) allow() bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	t := r.now()
	if t.Sub(r.windowStart) >= time.Minute {
		r.windowStart = t
		r.count = 0
	}
	r.count++
	return r.count <= r.limit
}
