// Package ratelimit provides per-teacher request rate limiting.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures the per-teacher limiter.
type Config struct {
	// RequestsPerMinute is the sustained allowance per teacher.
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	// BurstSize is the maximum burst per teacher.
	BurstSize int `yaml:"burst_size"`
	// Enabled controls whether limiting is active.
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig allows 5 requests per minute with bursts of 10.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 5,
		BurstSize:         10,
		Enabled:           true,
	}
}

// Bucket implements token bucket rate limiting.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	lastUsed   time.Time
}

// NewBucket creates a full bucket for the given config.
func NewBucket(config Config) *Bucket {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 5
	}
	if config.BurstSize <= 0 {
		config.BurstSize = int(config.RequestsPerMinute * 2)
	}
	now := time.Now()
	return &Bucket{
		tokens:     float64(config.BurstSize),
		maxTokens:  float64(config.BurstSize),
		refillRate: config.RequestsPerMinute / 60.0,
		lastRefill: now,
		lastUsed:   now,
	}
}

// Allow consumes a token if one is available.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	b.lastUsed = time.Now()

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// refill adds tokens based on time elapsed (must be called with lock held).
func (b *Bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now

	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// RetryAfter reports how long until a request would be allowed.
func (b *Bucket) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= 1 {
		return 0
	}
	needed := 1 - b.tokens
	return time.Duration(needed / b.refillRate * float64(time.Second))
}

// TeacherLimiter keys buckets by teacher id. Idle buckets are evicted so
// the map does not grow with every teacher ever seen.
type TeacherLimiter struct {
	mu      sync.Mutex
	config  Config
	buckets map[string]*Bucket
}

// NewTeacherLimiter creates a limiter with per-teacher buckets.
func NewTeacherLimiter(config Config) *TeacherLimiter {
	return &TeacherLimiter{
		config:  config,
		buckets: make(map[string]*Bucket),
	}
}

// Allow checks the teacher's bucket, creating it on first sight.
func (l *TeacherLimiter) Allow(teacherID string) bool {
	if !l.config.Enabled {
		return true
	}
	return l.bucket(teacherID).Allow()
}

// RetryAfter reports the wait for the teacher's next allowed request.
func (l *TeacherLimiter) RetryAfter(teacherID string) time.Duration {
	if !l.config.Enabled {
		return 0
	}
	return l.bucket(teacherID).RetryAfter()
}

func (l *TeacherLimiter) bucket(teacherID string) *Bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[teacherID]
	if !ok {
		b = NewBucket(l.config)
		l.buckets[teacherID] = b
	}
	return b
}

// Evict drops buckets unused for longer than idle. Callers run it
// periodically.
func (l *TeacherLimiter) Evict(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-idle)
	removed := 0
	for id, b := range l.buckets {
		b.mu.Lock()
		stale := b.lastUsed.Before(cutoff)
		b.mu.Unlock()
		if stale {
			delete(l.buckets, id)
			removed++
		}
	}
	return removed
}
