package hybrid

import (
	"sync"
	"time"
)

// Breaker disables the genetic search after consecutive failures, then
// re-arms itself once the cooldown passes. The deterministic baseline is
// never gated, so a tripped breaker degrades quality, not availability.
type Breaker struct {
	mu          sync.Mutex
	maxFailures int
	cooldown    time.Duration
	failures    int
	until       time.Time
}

func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{maxFailures: maxFailures, cooldown: cooldown}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.maxFailures {
		b.until = time.Now().Add(b.cooldown)
		b.failures = 0
	}
}

// Tripped reports whether the breaker currently blocks the risky path.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Now().Before(b.until)
}
