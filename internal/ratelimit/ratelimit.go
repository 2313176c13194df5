// Package ratelimit applies token bucket rate limiting, globally and per
// client key, on top of golang.org/x/time/rate.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket. Tokens refill continuously at rate per
// second up to burst.
type Limiter struct {
	lim *rate.Limiter
	now func() time.Time

	mu       sync.Mutex
	lastSeen time.Time
}

// New creates a limiter that starts full.
func New(r float64, burst int) *Limiter {
	return newLimiter(r, burst, time.Now)
}

func newLimiter(r float64, burst int, now func() time.Time) *Limiter {
	return &Limiter{
		lim:      rate.NewLimiter(rate.Limit(r), burst),
		now:      now,
		lastSeen: now(),
	}
}

// Allow takes a token if one is available.
func (l *Limiter) Allow() bool {
	ok, _ := l.Reserve()
	return ok
}

// Reserve takes a token if one is available. Otherwise it reports how long
// until the next token, leaving the bucket untouched.
func (l *Limiter) Reserve() (bool, time.Duration) {
	now := l.touch()
	r := l.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, rate.InfDuration
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Remaining returns the whole tokens currently available.
func (l *Limiter) Remaining() int {
	if l.lim.Limit() == 0 {
		// A zero-rate bucket spends its burst directly.
		return l.lim.Burst()
	}
	n := int(l.lim.TokensAt(l.now()))
	if n < 0 {
		return 0
	}
	return n
}

func (l *Limiter) touch() time.Time {
	now := l.now()
	l.mu.Lock()
	l.lastSeen = now
	l.mu.Unlock()
	return now
}

// idle reports whether the limiter has been untouched for d.
func (l *Limiter) idle(now time.Time, d time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return now.Sub(l.lastSeen) > d
}

// KeyedLimiter keeps one Limiter per client key and forgets keys idle
// longer than the cleanup interval.
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	rate     float64
	burst    int
	cleanup  time.Duration
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewKeyed creates a per-key limiter and starts its cleanup loop. Call
// Close to stop the loop.
func NewKeyed(perSecond float64, burst int, cleanup time.Duration) *KeyedLimiter {
	k := &KeyedLimiter{
		limiters: make(map[string]*Limiter),
		rate:     perSecond,
		burst:    burst,
		cleanup:  cleanup,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	if cleanup > 0 {
		go k.cleanupLoop()
	}
	return k
}

// Burst returns the per-key bucket size.
func (k *KeyedLimiter) Burst() int {
	return k.burst
}

// Get returns the limiter for key, creating it on first use.
func (k *KeyedLimiter) Get(key string) *Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.limiters[key]
	if !ok {
		l = newLimiter(k.rate, k.burst, k.now)
		k.limiters[key] = l
	}
	return l
}

// Allow takes a token from key's bucket.
func (k *KeyedLimiter) Allow(key string) bool {
	return k.Get(key).Allow()
}

// Len returns the number of tracked keys.
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}

func (k *KeyedLimiter) cleanupLoop() {
	ticker := time.NewTicker(k.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-k.stop:
			return
		case <-ticker.C:
			k.sweep()
		}
	}
}

func (k *KeyedLimiter) sweep() {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	for key, l := range k.limiters {
		if l.idle(now, k.cleanup) {
			delete(k.limiters, key)
		}
	}
}

// Close stops the cleanup loop.
func (k *KeyedLimiter) Close() {
	k.stopOnce.Do(func() { close(k.stop) })
}
