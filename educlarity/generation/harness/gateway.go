package harness

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	adapters "github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/adapters"
	ports "github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/ports"
)

// FeatureFlags select which provider features the gateway uses.
type FeatureFlags struct {
	SupportsTools            bool `mapstructure:"supports_tools"`
	SupportsStructuredOutput bool `mapstructure:"supports_structured_output"`
	SupportsAudio            bool `mapstructure:"supports_audio"`
}

// Models names the provider model used per kind of request.
type Models struct {
	Text       string
	Structured string
	Audio      string
	Image      string // empty disables image generation for visual aids
}

// DefaultModels returns the models used when none are configured.
func DefaultModels() Models {
	return Models{
		Text:       "gemini-1.5-flash",
		Structured: "gemini-1.5-flash",
		Audio:      "gemini-1.5-flash",
	}
}

func (m Models) withDefaults() Models {
	def := DefaultModels()
	if m.Text == "" {
		m.Text = def.Text
	}
	if m.Structured == "" {
		m.Structured = m.Text
	}
	if m.Audio == "" {
		m.Audio = m.Text
	}
	return m
}

// Gateway wraps every call to the generative provider with retries, tolerant
// parsing, action dispatch and offline fallback. Its operations never return
// errors. It is safe for concurrent use.
type Gateway struct {
	provider     ports.Provider
	executor     *BackoffExecutor
	flags        FeatureFlags
	models       Models
	prompts      *PromptBuilder
	assembler    *ContextAssembler
	guardrails   *Guardrails
	dispatcher   *Dispatcher
	fallback     *FallbackMatcher
	personas     *PersonaCatalog
	cache        ports.Cache
	cacheTTL     int
	limiter      ports.RateLimiter
	tracer       ports.Tracer
	store        ports.ConversationStore
	strictSchema bool
	logger       zerolog.Logger
}

// GatewayOption customizes a Gateway.
type GatewayOption func(*Gateway)

func WithFeatureFlags(f FeatureFlags) GatewayOption     { return func(g *Gateway) { g.flags = f } }
func WithModels(m Models) GatewayOption                 { return func(g *Gateway) { g.models = m.withDefaults() } }
func WithExecutor(e *BackoffExecutor) GatewayOption     { return func(g *Gateway) { g.executor = e } }
func WithLogger(l zerolog.Logger) GatewayOption         { return func(g *Gateway) { g.logger = l } }
func WithGuardrails(gr *Guardrails) GatewayOption       { return func(g *Gateway) { g.guardrails = gr } }
func WithContextBudget(b Budget) GatewayOption          { return func(g *Gateway) { g.assembler = NewContextAssembler(b, nil) } }
func WithPersonas(c *PersonaCatalog) GatewayOption      { return func(g *Gateway) { g.personas = c } }
func WithRateLimiter(l ports.RateLimiter) GatewayOption { return func(g *Gateway) { g.limiter = l } }
func WithTracer(t ports.Tracer) GatewayOption           { return func(g *Gateway) { g.tracer = t } }
func WithStore(s ports.ConversationStore) GatewayOption { return func(g *Gateway) { g.store = s } }
func WithStrictSchema(strict bool) GatewayOption        { return func(g *Gateway) { g.strictSchema = strict } }

// WithCache memoizes structured results for ttlSeconds.
func WithCache(c ports.Cache, ttlSeconds int) GatewayOption {
	return func(g *Gateway) {
		g.cache = c
		g.cacheTTL = ttlSeconds
	}
}

// NewGateway creates a gateway around provider.
func NewGateway(provider ports.Provider, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		provider: provider,
		models:   DefaultModels(),
		prompts:  NewPromptBuilder(),
		cache:    adapters.NoopCache{},
		limiter:  adapters.NoopLimiter{},
		tracer:   adapters.NoopTracer{},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.executor == nil {
		g.executor = NewBackoffExecutor(DefaultBackoffPolicy(), g.logger)
	}
	if g.assembler == nil {
		g.assembler = NewContextAssembler(Budget{}, nil)
	}
	if g.guardrails == nil {
		g.guardrails = NewGuardrails()
	}
	if g.personas == nil {
		g.personas = NewPersonaCatalog(BuiltinPersonas()...)
	}
	g.dispatcher = NewDispatcher(provider, g.executor, g.guardrails, g.store, g.logger)
	g.fallback = NewFallbackMatcher(g.logger)
	return g
}

// Flags returns the active feature flags.
func (g *Gateway) Flags() FeatureFlags { return g.flags }

// Personas returns the persona catalog.
func (g *Gateway) Personas() *PersonaCatalog { return g.personas }

// generate acquires a limiter token and runs the call through the executor.
// A limiter denial is returned as-is and reads as quota exhaustion.
func (g *Gateway) generate(ctx context.Context, useCase string, req ports.GenerateContentRequest) (ports.GenerateContentResponse, error) {
	release, err := g.limiter.Acquire(ctx, useCase)
	if err != nil {
		return ports.GenerateContentResponse{}, fmt.Errorf("%s: %w", useCase, err)
	}
	defer release()

	resp, err := Execute(ctx, g.executor, func(ctx context.Context) (ports.GenerateContentResponse, error) {
		return g.provider.GenerateContent(ctx, req)
	})
	if err != nil {
		return resp, fmt.Errorf("%s: %w", useCase, err)
	}
	return resp, nil
}

// structuredRequest builds a JSON-mode request. The schema is declared only
// when the provider supports it; the JSON instruction is always in the prompt.
func (g *Gateway) structuredRequest(prompt string, schema *ports.Schema) ports.GenerateContentRequest {
	cfg := &ports.ContentConfig{}
	if g.flags.SupportsStructuredOutput {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = schema
	}
	return ports.GenerateContentRequest{
		Model:    g.models.Structured,
		Contents: []ports.Content{ports.TextContent(ports.RoleUser, prompt)},
		Config:   cfg,
	}
}

// structuredOutcome describes how a structured call ended.
type structuredOutcome struct {
	Raw    string // model text, empty on cache hits and call errors
	Parsed bool
	Err    error // call failure after retries
}

// generateStructured runs a structured call and returns fallback on any
// failure. Only results that parsed are cached.
func generateStructured[T any](ctx context.Context, g *Gateway, useCase, prompt string, schema *ports.Schema, fallback T) (T, structuredOutcome) {
	ctx, finish := g.tracer.StartSpan(ctx, "gateway."+useCase, map[string]any{"use_case": useCase})
	key := cacheKey(useCase, g.models.Structured, prompt, g.flags.SupportsStructuredOutput)

	if raw, ok := g.cache.Get(ctx, key); ok {
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			g.tracer.Event(ctx, "cache_hit", map[string]any{"key": key})
			finish(nil)
			return cached, structuredOutcome{Parsed: true}
		}
		_ = g.cache.Delete(ctx, key)
	}

	resp, err := g.generate(ctx, useCase, g.structuredRequest(prompt, schema))
	if err != nil {
		g.logger.Error().Err(err).Str("use_case", useCase).Msg("structured generation failed")
		finish(err)
		return fallback, structuredOutcome{Err: err}
	}

	value, candidate, ok := parseCandidate[T](resp.Text)
	if !ok {
		g.logger.Warn().Str("use_case", useCase).Int("chars", len(resp.Text)).Msg("structured output did not parse, using fallback")
		finish(nil)
		return fallback, structuredOutcome{Raw: resp.Text}
	}
	if err := g.guardrails.ValidateStructured([]byte(candidate), schema); err != nil {
		g.logger.Warn().Err(err).Str("use_case", useCase).Msg("structured output violates schema")
		if g.strictSchema {
			finish(err)
			return fallback, structuredOutcome{Raw: resp.Text}
		}
	}

	if data, err := json.Marshal(value); err == nil {
		if err := g.cache.Set(ctx, key, data, g.cacheTTL); err != nil {
			g.logger.Warn().Err(err).Str("use_case", useCase).Msg("failed to cache structured result")
		}
	}
	finish(nil)
	return value, structuredOutcome{Raw: resp.Text, Parsed: true}
}

func (g *Gateway) saveTurns(ctx context.Context, conversationID, useCase string, turns ...ports.Turn) {
	if g.store == nil || conversationID == "" {
		return
	}
	now := time.Now().UTC()
	for _, t := range turns {
		t.UseCase = useCase
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		if err := g.store.SaveTurn(ctx, conversationID, t); err != nil {
			g.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to save turn")
		}
	}
}

func cacheKey(parts ...any) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%v\x00", p)
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
