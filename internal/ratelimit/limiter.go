// Package ratelimit implements the per-principal token bucket that fronts
// every API route. Buckets live in process memory; a multi-node deployment
// rate-limits per node, which is acceptable for this registry's scale.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

const (
	sweepInterval = time.Minute
	idleEviction  = 10 * time.Minute
)

// Result reports bucket state alongside an Allow decision. Reset is the
// epoch second at which at least one token will be available again.
type Result struct {
	Limit     int
	Remaining int
	Reset     int64
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// Limiter is a keyed token bucket. Keys are principal IDs for
// authenticated traffic and anon:{ip} for everything else. Reads cost 1
// token, mutations cost more, so a publisher burning its budget on
// publishes still gets throttled sooner than a reader.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	rate  float64 // tokens per second
	burst float64
	limit int // advertised per-minute rate

	now  func() time.Time
	done chan struct{}
}

// NewLimiter builds a limiter refilling at requestsPerMinute with the
// given burst capacity, and starts the idle-bucket sweeper.
func NewLimiter(requestsPerMinute, burst int) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		rate:    float64(requestsPerMinute) / 60.0,
		burst:   float64(burst),
		limit:   requestsPerMinute,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Stop terminates the background sweeper.
func (l *Limiter) Stop() {
	close(l.done)
}

// Allow attempts to take cost tokens from key's bucket. It reports whether
// the request may proceed and the bucket state for response headers.
func (l *Limiter) Allow(key string, cost float64) (bool, Result) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, lastFill: now}
		l.buckets[key] = b
	} else {
		elapsed := now.Sub(b.lastFill).Seconds()
		if elapsed > 0 {
			b.tokens = math.Min(l.burst, b.tokens+elapsed*l.rate)
			b.lastFill = now
		}
	}

	res := Result{Limit: l.limit}
	if b.tokens >= cost {
		b.tokens -= cost
		res.Remaining = int(b.tokens)
		res.Reset = l.resetAt(now, b.tokens)
		return true, res
	}

	res.Remaining = int(b.tokens)
	res.Reset = l.resetAt(now, b.tokens)
	return false, res
}

// resetAt computes when the bucket next holds a whole token, rounded up
// to a full second so Retry-After is never zero under throttling.
func (l *Limiter) resetAt(now time.Time, tokens float64) int64 {
	if tokens >= 1 {
		return now.Unix()
	}
	wait := (1 - tokens) / l.rate
	return now.Unix() + int64(math.Ceil(wait))
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweepIdle(l.now())
		case <-l.done:
			return
		}
	}
}

// sweepIdle drops buckets that have not been touched recently. An evicted
// bucket reappears full on next use, which only ever favors the caller.
func (l *Limiter) sweepIdle(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, b := range l.buckets {
		if now.Sub(b.lastFill) >= idleEviction {
			delete(l.buckets, key)
		}
	}
}
