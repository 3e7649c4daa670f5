package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per key (a user id). Buckets unused for
// IdleTTL are dropped by a background sweep.
type Limiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Config holds configuration for the rate limiter.
type Config struct {
	RequestsPerSecond float64       // sustained rate
	Burst             int           // burst capacity
	IdleTTL           time.Duration // bucket lifetime without requests
	CleanupInterval   time.Duration
}

// DefaultConfig returns defaults sized for interactive chat use.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 5,
		Burst:             20,
		IdleTTL:           10 * time.Minute,
		CleanupInterval:   5 * time.Minute,
	}
}

// Decision is the result of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration // zero when allowed
	Reset      time.Duration // time until the bucket is full again
}

// NewLimiter creates a limiter and starts its cleanup loop.
func NewLimiter(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = def.IdleTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}

	l := &Limiter{
		limit:       rate.Limit(cfg.RequestsPerSecond),
		burst:       cfg.Burst,
		ttl:         cfg.IdleTTL,
		now:         time.Now,
		buckets:     make(map[string]*bucket),
		stopCleanup: make(chan struct{}),
	}
	go l.cleanupLoop(cfg.CleanupInterval)
	return l
}

// Allow consumes one token for key. An empty key is never limited.
func (l *Limiter) Allow(key string) Decision {
	if key == "" {
		return Decision{Allowed: true, Limit: l.burst, Remaining: l.burst}
	}
	now := l.now()
	b := l.bucket(key, now)

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return Decision{Limit: l.burst, RetryAfter: time.Second}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{
			Limit:      l.burst,
			Remaining:  0,
			RetryAfter: delay,
			Reset:      l.resetAfter(b.limiter.TokensAt(now)),
		}
	}
	tokens := b.limiter.TokensAt(now)
	return Decision{
		Allowed:   true,
		Limit:     l.burst,
		Remaining: int(math.Max(0, math.Floor(tokens))),
		Reset:     l.resetAfter(tokens),
	}
}

// Remaining reports whole tokens left for key without consuming any.
func (l *Limiter) Remaining(key string) int {
	if key == "" {
		return l.burst
	}
	l.mu.Lock()
	b, ok := l.buckets[key]
	l.mu.Unlock()
	if !ok {
		return l.burst
	}
	return int(math.Max(0, math.Floor(b.limiter.TokensAt(l.now()))))
}

// Reset drops the bucket for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Close stops the cleanup loop.
func (l *Limiter) Close() error {
	l.closeOnce.Do(func() { close(l.stopCleanup) })
	return nil
}

func (l *Limiter) bucket(key string, now time.Time) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b
}

func (l *Limiter) resetAfter(tokens float64) time.Duration {
	missing := float64(l.burst) - tokens
	if missing <= 0 || l.limit <= 0 {
		return 0
	}
	return time.Duration(missing / float64(l.limit) * float64(time.Second))
}

func (l *Limiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep(l.now())
		case <-l.stopCleanup:
			return
		}
	}
}

// sweep removes buckets idle for longer than the TTL.
func (l *Limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.ttl {
			delete(l.buckets, key)
		}
	}
}
