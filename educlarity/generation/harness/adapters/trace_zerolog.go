package adapters

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	ports "github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/ports"
)

type spanLoggerKey struct{}

// ZerologTracer writes spans and events as structured log lines.
type ZerologTracer struct {
	logger zerolog.Logger
}

// NewZerologTracer creates a tracer writing to logger.
func NewZerologTracer(logger zerolog.Logger) *ZerologTracer {
	return &ZerologTracer{logger: logger}
}

// StartSpan logs the span start and returns a finish func that logs duration and error.
func (t *ZerologTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	lc := t.logger.With().Str("span", name)
	for k, v := range attrs {
		lc = lc.Interface(k, v)
	}
	spanLogger := lc.Logger()
	ctx = context.WithValue(ctx, spanLoggerKey{}, spanLogger)

	start := time.Now()
	spanLogger.Debug().Str("event", "span_start").Msg("span started")

	return ctx, func(err error) {
		ev := spanLogger.Debug()
		if err != nil {
			ev = spanLogger.Warn().Err(err)
		}
		ev.Str("event", "span_end").Dur("duration", time.Since(start)).Msg("span finished")
	}
}

// Event logs name against the active span, or the root logger outside a span.
func (t *ZerologTracer) Event(ctx context.Context, name string, attrs map[string]any) {
	logger := t.logger
	if l, ok := ctx.Value(spanLoggerKey{}).(zerolog.Logger); ok {
		logger = l
	}
	ev := logger.Info()
	for k, v := range attrs {
		ev = ev.Interface(k, v)
	}
	ev.Str("event", name).Msg("trace event")
}

var _ ports.Tracer = (*ZerologTracer)(nil)
