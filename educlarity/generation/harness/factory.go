package harness

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/ZanzyTHEbar/educlarity/educlarity/config"
	"github.com/ZanzyTHEbar/educlarity/educlarity/generation"
	"github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/adapters"
	ports "github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/ports"
	"github.com/ZanzyTHEbar/educlarity/educlarity/generation/providers/gemini"
)

const redisPingTimeout = 2 * time.Second

// Factory creates and wires gateway components from configuration.
type Factory struct {
	cfg    *config.Config
	db     *sql.DB // Optional, for conversation store
	logger zerolog.Logger
}

// NewFactory creates a new gateway factory.
func NewFactory(cfg *config.Config, db *sql.DB, logger zerolog.Logger) *Factory {
	return &Factory{cfg: cfg, db: db, logger: logger}
}

// CreateProvider builds the configured generative provider.
func (f *Factory) CreateProvider() (ports.Provider, error) {
	gw := f.cfg.Gateway
	switch gw.Provider {
	case "", gemini.ProviderName:
		if gw.APIKey == "" {
			return nil, gemini.ErrMissingAPIKey
		}
		var opts []gemini.Option
		if gw.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(gw.BaseURL))
		}
		if gw.Timeout > 0 {
			opts = append(opts, gemini.WithTimeout(gw.Timeout))
		}
		return gemini.NewClient(gw.APIKey, f.logger, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", gw.Provider)
	}
}

// CreateGateway builds a gateway over the configured provider.
func (f *Factory) CreateGateway(ctx context.Context) (*Gateway, error) {
	provider, err := f.CreateProvider()
	if err != nil {
		return nil, err
	}
	return f.CreateGatewayWithProvider(ctx, provider)
}

// CreateGatewayWithProvider wires every configured component around provider.
func (f *Factory) CreateGatewayWithProvider(ctx context.Context, provider ports.Provider) (*Gateway, error) {
	personas, err := f.CreatePersonas()
	if err != nil {
		return nil, err
	}
	flags, models := f.resolveModels()

	opts := []GatewayOption{
		WithLogger(f.logger),
		WithExecutor(f.CreateExecutor()),
		WithFeatureFlags(flags),
		WithModels(models),
		WithGuardrails(f.CreateGuardrails()),
		WithContextBudget(f.createBudget(models.Text)),
		WithPersonas(personas),
		WithCache(f.createCache(ctx), f.cfg.Harness.CacheTTLSeconds),
		WithRateLimiter(f.createRateLimiter()),
		WithTracer(f.createTracer()),
		WithStrictSchema(f.cfg.Features.StrictSchema),
	}
	if store := f.createStore(); store != nil {
		opts = append(opts, WithStore(store))
	}
	return NewGateway(provider, opts...), nil
}

// CreateExecutor builds the backoff executor from the retry section.
func (f *Factory) CreateExecutor() *BackoffExecutor {
	r := f.cfg.Retry
	return NewBackoffExecutor(BackoffPolicy{
		MaxRetries:   r.MaxRetries,
		InitialDelay: r.InitialDelay,
		MaxWait:      r.MaxWait,
	}, f.logger)
}

// CreateGuardrails creates guardrails from config.
func (f *Factory) CreateGuardrails() *Guardrails {
	g := NewGuardrails()
	if f.cfg.Harness.MaxToolCalls > 0 {
		g.SetMaxToolCalls(f.cfg.Harness.MaxToolCalls)
	}
	return g
}

// resolveModels disables features the configured models cannot serve.
func (f *Factory) resolveModels() (FeatureFlags, Models) {
	gw := f.cfg.Gateway
	flags := FeatureFlags{
		SupportsTools:            f.cfg.Features.SupportsTools,
		SupportsStructuredOutput: f.cfg.Features.SupportsStructuredOutput,
		SupportsAudio:            f.cfg.Features.SupportsAudio,
	}
	models := Models{
		Text:       gw.TextModel,
		Structured: gw.StructuredModel,
		Audio:      gw.AudioModel,
		Image:      gw.ImageModel,
	}.withDefaults()

	if flags.SupportsAudio && !generation.GetModelConfig(models.Audio).SupportsAudio() {
		f.logger.Warn().Str("model", models.Audio).Msg("audio model lacks speech support, disabling audio")
		flags.SupportsAudio = false
	}
	if models.Image != "" && !generation.GetModelConfig(models.Image).ImageOutput {
		f.logger.Warn().Str("model", models.Image).Msg("image model cannot generate images, visual aids fall back to text")
		models.Image = ""
	}
	return flags, models
}

// createBudget clamps the context budget to the text model's window.
func (f *Factory) createBudget(textModel string) Budget {
	b := Budget{
		MaxContextTokens: f.cfg.Harness.MaxContextTokens,
		MaxTurns:         f.cfg.Harness.MaxTurns,
	}
	if limit := generation.GetModelConfig(textModel).ContextLength; b.MaxContextTokens > limit {
		f.logger.Warn().Int("max_context_tokens", b.MaxContextTokens).Int("limit", limit).Msg("MaxContextTokens clamped to model context length")
		b.MaxContextTokens = limit
	}
	return b
}

// CreatePersonas seeds the builtin personas and adds those from the configured file.
func (f *Factory) CreatePersonas() (*PersonaCatalog, error) {
	catalog := NewPersonaCatalog(BuiltinPersonas()...)
	if f.cfg.Personas.File == "" {
		return catalog, nil
	}
	extra, err := LoadPersonasFile(f.cfg.Personas.File)
	if err != nil {
		return nil, err
	}
	for _, p := range extra {
		if _, err := catalog.Create(p); err != nil {
			f.logger.Warn().Err(err).Str("id", p.ID).Msg("skipping invalid persona")
		}
	}
	return catalog, nil
}

// createCache creates a cache adapter from config. An unreachable Redis
// degrades to the in-process cache.
func (f *Factory) createCache(ctx context.Context) ports.Cache {
	h := f.cfg.Harness
	if !h.CacheEnabled {
		return adapters.NoopCache{}
	}
	if h.CacheBackend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     h.RedisAddr,
			Password: h.RedisPassword,
			DB:       h.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		err := client.Ping(pingCtx).Err()
		if err == nil {
			return adapters.NewRedisCache(client, h.RedisPrefix, f.logger)
		}
		f.logger.Warn().Err(err).Str("addr", h.RedisAddr).Msg("redis unavailable, using in-process cache")
		_ = client.Close()
	}
	return adapters.NewLRUCache(h.CacheCapacity)
}

// createRateLimiter creates a rate limiter adapter from config.
func (f *Factory) createRateLimiter() ports.RateLimiter {
	h := f.cfg.Harness
	if !h.RateLimitEnabled {
		return adapters.NoopLimiter{}
	}
	return adapters.NewTokenBucket(h.RateLimitCapacity, h.RateLimitRefillRate)
}

// createTracer creates a tracer adapter from config.
func (f *Factory) createTracer() ports.Tracer {
	h := f.cfg.Harness
	if !h.EnableTracing {
		return adapters.NoopTracer{}
	}
	if h.Tracer == "otel" {
		return adapters.NewOTelTracer(otel.GetTracerProvider())
	}
	return adapters.NewZerologTracer(f.logger)
}

// createStore creates a conversation store adapter when a database is attached.
func (f *Factory) createStore() ports.ConversationStore {
	if f.db == nil {
		return nil
	}
	return adapters.NewLibSQLConversationStore(f.db)
}
