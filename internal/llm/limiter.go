package llm

import (
	"context"
	"sync"
	"time"
)

// RateLimitMetrics хранит метрики rate limiting
type RateLimitMetrics struct {
	TotalRequests    int64
	AllowedRequests  int64
	RejectedRequests int64
}

// TokenBucket is a token-bucket limiter for outgoing provider calls.
type TokenBucket struct {
	mu           sync.Mutex
	capacity     int
	tokens       int
	refillEvery  time.Duration
	refillAmount int
	lastRefill   time.Time
	now          func() time.Time
	metrics      RateLimitMetrics
}

// NewTokenBucket creates a full bucket holding capacity tokens that gains
// refillAmount tokens every refillEvery.
func NewTokenBucket(capacity int, refillEvery time.Duration, refillAmount int) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if refillAmount <= 0 {
		refillAmount = 1
	}
	return &TokenBucket{
		capacity:     capacity,
		tokens:       capacity,
		refillEvery:  refillEvery,
		refillAmount: refillAmount,
		lastRefill:   time.Now(),
		now:          time.Now,
	}
}

// PerMinute returns a bucket allowing n calls per minute with bursts of n.
func PerMinute(n int) *TokenBucket {
	if n <= 0 {
		return nil
	}
	return NewTokenBucket(n, time.Minute/time.Duration(n), 1)
}

// TryAcquire takes a token if one is available. Otherwise it reports how
// long until the next refill.
func (b *TokenBucket) TryAcquire() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.TotalRequests++

	now := b.now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed >= b.refillEvery {
		intervals := int(elapsed / b.refillEvery)
		b.tokens = min(b.capacity, b.tokens+intervals*b.refillAmount)
		// Keep the remainder so refills stay on the original grid.
		b.lastRefill = now.Add(-elapsed % b.refillEvery)
	}

	if b.tokens > 0 {
		b.tokens--
		b.metrics.AllowedRequests++
		return true, 0
	}

	b.metrics.RejectedRequests++
	return false, b.refillEvery - now.Sub(b.lastRefill)%b.refillEvery
}

// Wait blocks until a token is acquired or ctx is done.
func (b *TokenBucket) Wait(ctx context.Context) error {
	for {
		ok, wait := b.TryAcquire()
		if ok {
			return nil
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Metrics returns a snapshot of the counters.
func (b *TokenBucket) Metrics() RateLimitMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics
}
