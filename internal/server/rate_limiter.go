// Package server throttles inbound chunks per connection with a token
// bucket when a rate limit is configured.
package server

import (
	"sync"
	"time"
)

// chunkBudget is a token bucket counting inbound chunks. It starts full and
// earns one token back every interval/burst.
type chunkBudget struct {
	mu     sync.Mutex
	burst  int
	per    time.Duration
	tokens int
	// earned marks when the token currently accruing started.
	earned time.Time
	now    func() time.Time
}

func newChunkBudget(cfg RateLimitConfig) *chunkBudget {
	burst := max(cfg.Burst, 1)
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	per := max(interval/time.Duration(burst), time.Nanosecond)

	b := &chunkBudget{
		burst:  burst,
		per:    per,
		tokens: burst,
		now:    time.Now,
	}
	b.earned = b.now()
	return b
}

// take spends one token and reports whether one was available.
func (b *chunkBudget) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(b.now())
	if b.tokens == 0 {
		return false
	}
	b.tokens--
	return true
}

func (b *chunkBudget) refill(now time.Time) {
	if b.tokens >= b.burst {
		b.earned = now
		return
	}
	gained := int(now.Sub(b.earned) / b.per)
	if gained <= 0 {
		return
	}
	b.tokens = min(b.tokens+gained, b.burst)
	if b.tokens == b.burst {
		b.earned = now
		return
	}
	b.earned = b.earned.Add(time.Duration(gained) * b.per)
}
