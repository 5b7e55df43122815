// Package ratelimit provides a per-key sliding-window rate limiter used
// to pace WebSocket subscribe commands against broker limits.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limit caps calls per interval for one key.
type Limit struct {
	MaxCalls int
	Interval time.Duration
}

// Limiter tracks call timestamps per key. Unknown keys pass through
// unthrottled.
type Limiter struct {
	mu     sync.Mutex
	limits map[string]Limit
	calls  map[string][]time.Time
	now    func() time.Time
}

// New creates a limiter with the given per-key limits.
func New(limits map[string]Limit) *Limiter {
	l := &Limiter{
		limits: make(map[string]Limit, len(limits)),
		calls:  make(map[string][]time.Time),
		now:    time.Now,
	}
	for k, v := range limits {
		l.limits[k] = v
	}
	return l
}

// Acquire blocks until a call slot for key is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context, key string) error {
	for {
		wait, ok := l.tryAcquire(key)
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAcquire records a call if the window has room, otherwise returns
// how long until the oldest recorded call leaves the window.
func (l *Limiter) tryAcquire(key string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit, ok := l.limits[key]
	if !ok || limit.MaxCalls <= 0 {
		return 0, true
	}

	now := l.now()
	cutoff := now.Add(-limit.Interval)
	kept := l.calls[key][:0]
	for _, t := range l.calls[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.calls[key] = kept

	if len(kept) < limit.MaxCalls {
		l.calls[key] = append(kept, now)
		return 0, true
	}
	wait := kept[0].Add(limit.Interval).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}
