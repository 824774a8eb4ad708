package external

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen reports a short-circuited call while the upstream is
// cooling down.
var ErrCircuitOpen = errors.New("upstream circuit open")

// breaker is a minimal failure-counting circuit breaker. After threshold
// consecutive failures the circuit opens for cooldown; the first call
// after cooldown probes the upstream.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	openUntil time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{threshold: threshold, cooldown: cooldown}
}

// allow reports whether a call may proceed.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Now().After(b.openUntil)
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = time.Now().Add(b.cooldown)
		b.failures = 0
	}
}
