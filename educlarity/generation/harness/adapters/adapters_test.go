package adapters

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ZanzyTHEbar/educlarity/educlarity/db"
	ports "github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/ports"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(2)

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	_, ok := c.Get(ctx, "a") // a is now most recent
	require.True(t, ok)
	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))

	_, ok = c.Get(ctx, "b")
	assert.False(t, ok, "b should have been evicted")
	v, ok := c.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)
	assert.Equal(t, 2, c.Len())
}

func TestLRUCache_TTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewLRUCache(4)
	c.now = clock.now

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 10))
	clock.advance(9 * time.Second)
	_, ok := c.Get(ctx, "k")
	assert.True(t, ok)

	clock.advance(2 * time.Second)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestLRUCache_Delete(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(4)
	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Delete(ctx, "missing"))
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	c := NewRedisCache(client, "", zerolog.Nop())

	_, ok := c.Get(ctx, "quiz:1")
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "quiz:1", []byte(`[{"id":"1"}]`), 60))
	v, ok := c.Get(ctx, "quiz:1")
	require.True(t, ok)
	assert.Equal(t, `[{"id":"1"}]`, string(v))
	assert.True(t, mr.Exists(defaultRedisPrefix+"quiz:1"))

	mr.FastForward(61 * time.Second)
	_, ok = c.Get(ctx, "quiz:1")
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "quiz:2", []byte("x"), 0))
	require.NoError(t, c.Delete(ctx, "quiz:2"))
	_, ok = c.Get(ctx, "quiz:2")
	assert.False(t, ok)
}

func TestRedisCache_BackendDownIsMiss(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	c := NewRedisCache(client, "t:", zerolog.Nop())
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.Error(t, c.Set(context.Background(), "k", []byte("v"), 1))
}

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	tb := NewTokenBucket(2, time.Second)
	tb.now = clock.now

	for i := 0; i < 2; i++ {
		release, err := tb.Acquire(ctx, "support")
		require.NoError(t, err)
		release()
	}

	_, err := tb.Acquire(ctx, "support")
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.True(t, rle.QuotaExhausted())
	assert.Equal(t, time.Second, rle.RetryAfter())

	// Other keys have their own bucket.
	_, err = tb.Acquire(ctx, "quiz")
	assert.NoError(t, err)

	clock.advance(1500 * time.Millisecond)
	_, err = tb.Acquire(ctx, "support")
	assert.NoError(t, err)
	_, err = tb.Acquire(ctx, "support")
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 500*time.Millisecond, rle.RetryAfter())

	// An idle bucket refills only up to capacity.
	clock.advance(10 * time.Second)
	for i := 0; i < 2; i++ {
		_, err = tb.Acquire(ctx, "support")
		require.NoError(t, err)
	}
	_, err = tb.Acquire(ctx, "support")
	assert.ErrorAs(t, err, &rle)
}

func TestTokenBucket_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewTokenBucket(1, time.Second).Acquire(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLibSQLConversationStore(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, filepath.Join(t.TempDir(), "turns.db"), zerolog.Nop())
	require.NoError(t, err)
	defer conn.Close()

	store := NewLibSQLConversationStore(conn)
	for _, turn := range []ports.Turn{
		{Role: "user", Content: "hello", UseCase: "support"},
		{Role: "model", Content: "hi, how can I help?", UseCase: "support"},
		{Role: "user", Content: "remove Arjun", UseCase: "support"},
	} {
		require.NoError(t, store.SaveTurn(ctx, "conv-1", turn))
	}
	require.NoError(t, store.SaveTurn(ctx, "conv-2", ports.Turn{Role: "user", Content: "other"}))
	require.NoError(t, store.AppendToolArtifact(ctx, "conv-1", "removeStudent", []byte("Successfully removed student: Arjun.")))

	last, err := store.LoadContext(ctx, "conv-1", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "remove Arjun", last[0].Content)
	assert.Equal(t, "tool", last[1].Role)
	assert.Contains(t, last[1].Content, "removeStudent")
	assert.False(t, last[0].CreatedAt.IsZero())

	all, err := store.LoadContext(ctx, "conv-1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "hello", all[0].Content)
	assert.Equal(t, "support", all[0].UseCase)

	none, err := store.LoadContext(ctx, "missing", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestOTelTracer(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tracer := NewOTelTracer(tp)

	ctx, finish := tracer.StartSpan(context.Background(), "gateway.quiz", map[string]any{"topic": "Optics", "cached": false, "n": 3})
	tracer.Event(ctx, "cache_miss", map[string]any{"key": "abc"})
	finish(nil)

	_, finishErr := tracer.StartSpan(context.Background(), "gateway.support", nil)
	finishErr(assert.AnError)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "gateway.quiz", spans[0].Name())
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "cache_miss", spans[0].Events()[0].Name)
	assert.Len(t, spans[0].Attributes(), 3)
	assert.Equal(t, otelcodes.Error, spans[1].Status().Code)
}

func TestZerologTracer(t *testing.T) {
	var buf safeBuffer
	tracer := NewZerologTracer(zerolog.New(&buf).Level(zerolog.DebugLevel))

	ctx, finish := tracer.StartSpan(context.Background(), "gateway.coach", map[string]any{"mode": "LEARNING"})
	tracer.Event(ctx, "prompt_built", map[string]any{"turns": 3})
	finish(assert.AnError)

	out := buf.String()
	assert.Contains(t, out, `"span":"gateway.coach"`)
	assert.Contains(t, out, `"event":"prompt_built"`)
	assert.Contains(t, out, `"mode":"LEARNING"`)
	assert.Contains(t, out, `"level":"warn"`)
}
