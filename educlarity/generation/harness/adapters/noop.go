package adapters

import (
	"context"

	ports "github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/ports"
)

// NoopCache never stores anything.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (NoopCache) Set(context.Context, string, []byte, int) error { return nil }
func (NoopCache) Delete(context.Context, string) error { return nil }

// NoopLimiter admits every call.
type NoopLimiter struct{}

func (NoopLimiter) Acquire(context.Context, string) (func(), error) { return func() {}, nil }

// NoopTracer drops spans.
type NoopTracer struct{}

func (NoopTracer) StartSpan(ctx context.Context, _ string, _ map[string]any) (context.Context, func(error)) {
	return ctx, func(error) {}
}
func (NoopTracer) Event(context.Context, string, map[string]any) {}

var (
	_ ports.Cache       = NoopCache{}
	_ ports.RateLimiter = NoopLimiter{}
	_ ports.Tracer      = NoopTracer{}
)
