package adapters

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	ports "github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/ports"
)

// RateLimitError is returned when a bucket is empty. The gateway treats it as
// remote quota exhaustion.
type RateLimitError struct {
	Key   string
	Retry time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q, retry in %.1fs", e.Key, e.Retry.Seconds())
}

// QuotaExhausted marks the error as a capacity signal.
func (e *RateLimitError) QuotaExhausted() bool { return true }

// RetryAfter reports when the next token becomes available.
func (e *RateLimitError) RetryAfter() time.Duration { return e.Retry }

// TokenBucket limits calls per key: capacity tokens, one token regained every interval.
type TokenBucket struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	capacity int
	every    rate.Limit
	now      func() time.Time
}

// NewTokenBucket creates a limiter.
func NewTokenBucket(capacity int, interval time.Duration) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &TokenBucket{
		limiters: make(map[string]*rate.Limiter),
		capacity: capacity,
		every:    rate.Every(interval),
		now:      time.Now,
	}
}

func (tb *TokenBucket) limiter(key string) *rate.Limiter {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	lim, ok := tb.limiters[key]
	if !ok {
		lim = rate.NewLimiter(tb.every, tb.capacity)
		tb.limiters[key] = lim
	}
	return lim
}

// Acquire consumes one token for key or returns *RateLimitError. It never
// waits. The release func is a no-op: tokens only come back through refill.
func (tb *TokenBucket) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := tb.now()
	r := tb.limiter(key).ReserveN(now, 1)
	if !r.OK() {
		return nil, &RateLimitError{Key: key}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return nil, &RateLimitError{Key: key, Retry: delay}
	}
	return func() {}, nil
}

var _ ports.RateLimiter = (*TokenBucket)(nil)
