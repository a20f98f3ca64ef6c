// Package ratelimit is a keyed token bucket used to keep external verifier
// calls under their provider quotas.
package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	last       time.Time
}

type Limiter struct {
	mu  sync.Mutex
	m   map[string]*bucket
	now func() time.Time
}

func New() *Limiter { return &Limiter{m: make(map[string]*bucket), now: time.Now} }

// WithClock overrides time.Now.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string, capacity, refillPerSec float64) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.m[key]
	if !ok {
		b = &bucket{tokens: capacity, capacity: capacity, refillRate: refillPerSec, last: now}
		l.m[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// AllowPerMinute allows up to perMinute calls per rolling minute, with the
// whole minute's budget available as burst.
func (l *Limiter) AllowPerMinute(key string, perMinute float64) bool {
	return l.Allow(key, perMinute, perMinute/60)
}
