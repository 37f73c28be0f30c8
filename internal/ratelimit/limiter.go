// Package ratelimit provides keyed token-bucket limiters for outbound email
// and per-user API requests.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/teranos/jobpulse/errors"
)

// IdleAfter is how long a key must go unused before its bucket can be dropped.
const IdleAfter = time.Minute

// Limiter enforces max calls per minute for each key independently.
// A key is a user ID for API requests, or a fixed name for a shared outbound budget.
// Buckets that sat idle for IdleAfter and have refilled completely are swept,
// since a fresh bucket behaves identically; the key set therefore only holds
// recently active callers.
type Limiter struct {
	perMinute int
	burst     int
	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
	timeNow   func() time.Time // Injectable for testing
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a limiter with real time
func NewLimiter(perMinute int) *Limiter {
	return NewLimiterWithClock(perMinute, time.Now)
}

// NewLimiterWithClock creates a limiter with injectable clock (for testing)
func NewLimiterWithClock(perMinute int, timeNow func() time.Time) *Limiter {
	burst := perMinute / 6 // ten seconds of quota
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		perMinute: perMinute,
		burst:     burst,
		buckets:   make(map[string]*bucket),
		lastSweep: timeNow(),
		timeNow:   timeNow,
	}
}

// Disabled reports whether the limiter lets everything through.
// A non-positive rate disables limiting.
func (l *Limiter) Disabled() bool {
	return l == nil || l.perMinute <= 0
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	now := l.timeNow()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= IdleAfter {
		l.sweepLocked(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim
}

// sweepLocked drops buckets idle for IdleAfter that hold a full burst again.
// A bucket still paying off reservations is kept.
func (l *Limiter) sweepLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) >= IdleAfter && b.lim.TokensAt(now) >= float64(l.burst) {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}

// Allow checks if a call for key is allowed right now.
// Returns error if rate limit exceeded
func (l *Limiter) Allow(key string) error {
	if l.Disabled() {
		return nil
	}
	if l.bucket(key).AllowN(l.timeNow(), 1) {
		return nil
	}
	err := errors.Newf("rate limit exceeded for %s (limit: %d per minute)", key, l.perMinute)
	return errors.WithDetail(err, fmt.Sprintf("Burst: %d", l.burst))
}

// Wait blocks until a call for key is allowed.
// Returns error if context is cancelled
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if l.Disabled() {
		return nil
	}
	if err := l.bucket(key).Wait(ctx); err != nil {
		return errors.Wrapf(err, "rate limit wait for %s", key)
	}
	return nil
}

// Keys returns the number of keys currently tracked
func (l *Limiter) Keys() int {
	if l.Disabled() {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
