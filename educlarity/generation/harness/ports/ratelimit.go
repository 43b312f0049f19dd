package harnessports

import "context"

// RateLimiter throttles outbound provider calls per use case. A denial is
// treated as quota exhaustion by the gateway.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
