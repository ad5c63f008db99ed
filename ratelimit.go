package conductor

import (
	"context"
	"sync"
	"time"
)

// RateLimiter enforces a requests-per-minute cap with a sliding one-minute
// window. Wait blocks until a slot is free or the context ends. Used by the
// search tools to stay inside upstream quotas.
type RateLimiter struct {
	rpm int

	mu    sync.Mutex
	times []time.Time // request timestamps within the last minute
}

// NewRateLimiter creates a limiter allowing rpm requests per minute.
// rpm <= 0 disables limiting (Wait returns immediately).
func NewRateLimiter(rpm int) *RateLimiter {
	return &RateLimiter{rpm: rpm}
}

// Wait blocks until the caller may proceed, then records the request.
// Returns ctx.Err() if the context ends first.
func (l *RateLimiter) Wait(ctx context.Context) error {
	if l.rpm <= 0 {
		return nil
	}
	for {
		l.mu.Lock()
		now := time.Now()
		l.prune(now)
		if len(l.times) < l.rpm {
			l.times = append(l.times, now)
			l.mu.Unlock()
			return nil
		}
		// Oldest entry leaving the window frees the next slot.
		wait := l.times[0].Add(time.Minute).Sub(now)
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// prune drops timestamps older than one minute. Caller holds mu.
func (l *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(l.times) && l.times[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.times = append(l.times[:0], l.times[i:]...)
	}
}
