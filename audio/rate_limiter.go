package audio

import "time"

// rateLimiter gates per-sample diagnostics so transient stream errors log
// at most once per interval.
type rateLimiter struct {
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

func newRateLimiter(interval time.Duration) *rateLimiter {
	return &rateLimiter{interval: interval, now: time.Now}
}

func (l *rateLimiter) allow() bool {
	t := l.now()
	if t.Sub(l.last) < l.interval {
		return false
	}
	l.last = t
	return true
}
