// Package ratelimit provides per-user, per-operation-class admission control
// using fixed-window counters. Buckets live only in process memory; this is a
// best-effort limiter, not a security boundary.
package ratelimit

import (
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
)

// Class identifies an operation class with its own limit.
type Class string

const (
	ClassRead  Class = "read"
	ClassWrite Class = "write"
)

// Clock abstracts time retrieval so window rollover is deterministic in tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Rule is the limit for one class: at most Limit admissions per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

type bucketKey struct {
	userID string
	class  Class
}

// bucket counts admissions within the current window. A swept bucket is
// marked dead so a caller that loaded it before removal reloads.
type bucket struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
	dead    bool
}

// Limiter admits requests per (user, class). Safe for concurrent use.
type Limiter struct {
	rules   map[Class]Rule
	clock   Clock
	buckets *xsync.MapOf[bucketKey, *bucket]
}

// New creates a Limiter. Classes without a rule are always admitted.
func New(rules map[Class]Rule, clock Clock) *Limiter {
	if clock == nil {
		clock = realClock{}
	}
	copied := make(map[Class]Rule, len(rules))
	for c, r := range rules {
		copied[c] = r
	}
	return &Limiter{
		rules:   copied,
		clock:   clock,
		buckets: xsync.NewMapOf[bucketKey, *bucket](),
	}
}

// Admit records one request and reports whether it is within the limit.
// A rejected request changes nothing but the rejection counter.
func (l *Limiter) Admit(userID string, class Class) bool {
	rule, ok := l.rules[class]
	if !ok || rule.Limit <= 0 {
		return true
	}

	now := l.clock.Now()
	key := bucketKey{userID, class}
	for {
		b, _ := l.buckets.LoadOrCompute(key, func() *bucket {
			return &bucket{}
		})

		b.mu.Lock()
		if b.dead {
			b.mu.Unlock()
			continue
		}
		admitted := b.admit(now, rule)
		b.mu.Unlock()

		if !admitted {
			metrics.GetOrCreateCounter(`ratelimit_rejected_total{class="` + string(class) + `"}`).Inc()
		}
		return admitted
	}
}

// admit must be called with b.mu held.
func (b *bucket) admit(now time.Time, rule Rule) bool {
	// Expired buckets are overwritten in place
	if !now.Before(b.resetAt) {
		b.count = 1
		b.resetAt = now.Add(rule.Window)
		return true
	}
	if b.count >= rule.Limit {
		return false
	}
	b.count++
	return true
}

// RetryAfter returns how long until the user's current window for class resets.
// It is zero when the next request would be admitted.
func (l *Limiter) RetryAfter(userID string, class Class) time.Duration {
	rule, ok := l.rules[class]
	if !ok || rule.Limit <= 0 {
		return 0
	}
	b, ok := l.buckets.Load(bucketKey{userID, class})
	if !ok {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.clock.Now()
	if !now.Before(b.resetAt) || b.count < rule.Limit {
		return 0
	}
	return b.resetAt.Sub(now)
}

// Sweep drops buckets whose window has ended and returns how many were removed.
func (l *Limiter) Sweep() int {
	now := l.clock.Now()
	removed := 0
	l.buckets.Range(func(key bucketKey, b *bucket) bool {
		b.mu.Lock()
		if !now.Before(b.resetAt) {
			b.dead = true
			l.buckets.Delete(key)
			removed++
		}
		b.mu.Unlock()
		return true
	})
	return removed
}

// Len returns the number of tracked buckets.
func (l *Limiter) Len() int {
	return l.buckets.Size()
}
