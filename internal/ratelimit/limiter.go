package ratelimit

import (
	"sync"
	"time"
)

// Limiter tracks one token bucket per user. Buckets are created lazily and
// idle buckets are dropped by a background sweep so the map does not grow
// without bound.
type Limiter struct {
	capacity   float64
	refillRate float64

	mu      sync.Mutex
	buckets map[string]*bucketEntry

	sweepEvery time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

type bucketEntry struct {
	bucket   *TokenBucket
	lastSeen time.Time
}

// Config holds the per-user limits.
type Config struct {
	RequestsPerSecond float64
	BurstSize         float64
}

// DefaultConfig allows short bursts of 20 requests at 5 req/s sustained.
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 5, BurstSize: 20}
}

// NewLimiter creates a limiter with the given per-user limits.
func NewLimiter(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultConfig().RequestsPerSecond
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = DefaultConfig().BurstSize
	}
	l := &Limiter{
		capacity:   cfg.BurstSize,
		refillRate: cfg.RequestsPerSecond,
		buckets:    make(map[string]*bucketEntry),
		sweepEvery: 5 * time.Minute,
		stop:       make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Allow reports whether a request from the user should pass, and how many
// tokens remain afterwards.
func (l *Limiter) Allow(userID string) (allowed bool, remaining float64) {
	b := l.bucket(userID)
	return b.Allow(), b.Remaining()
}

// Reset refills the user's bucket.
func (l *Limiter) Reset(userID string) {
	l.mu.Lock()
	entry, ok := l.buckets[userID]
	l.mu.Unlock()
	if ok {
		entry.bucket.Reset()
	}
}

// Close stops the background sweep.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) bucket(userID string) *TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.buckets[userID]
	if !ok {
		entry = &bucketEntry{bucket: NewTokenBucket(l.capacity, l.refillRate)}
		l.buckets[userID] = entry
	}
	entry.lastSeen = time.Now()
	return entry.bucket
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

// sweep drops buckets idle long enough to have fully refilled anyway.
func (l *Limiter) sweep() {
	cutoff := time.Now().Add(-2 * l.sweepEvery)
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, entry := range l.buckets {
		if entry.lastSeen.Before(cutoff) {
			delete(l.buckets, id)
		}
	}
}
