package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	internal "github.com/ZanzyTHEbar/educlarity/educlarity"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Features FeaturesConfig `mapstructure:"features"`
	Harness  HarnessConfig  `mapstructure:"harness"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Personas PersonasConfig `mapstructure:"personas"`
}

// GatewayConfig selects the generative provider and its models.
type GatewayConfig struct {
	Provider        string        `mapstructure:"provider"` // "gemini"
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	TextModel       string        `mapstructure:"text_model"`
	StructuredModel string        `mapstructure:"structured_model"`
	AudioModel      string        `mapstructure:"audio_model"`
	ImageModel      string        `mapstructure:"image_model"` // empty disables image generation
}

// RetryConfig bounds the backoff executor.
type RetryConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxWait      time.Duration `mapstructure:"max_wait"` // waits above this fail fast
}

// FeaturesConfig toggles provider features used by the gateway.
type FeaturesConfig struct {
	SupportsTools            bool `mapstructure:"supports_tools"`
	SupportsStructuredOutput bool `mapstructure:"supports_structured_output"`
	SupportsAudio            bool `mapstructure:"supports_audio"`
	StrictSchema             bool `mapstructure:"strict_schema"` // discard results that fail schema validation
}

// HarnessConfig stores gateway infrastructure settings.
type HarnessConfig struct {
	// Cache settings
	CacheEnabled    bool   `mapstructure:"cache_enabled"`
	CacheBackend    string `mapstructure:"cache_backend"` // "lru", "redis"
	CacheCapacity   int    `mapstructure:"cache_capacity"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`
	RedisAddr       string `mapstructure:"redis_addr"`
	RedisPassword   string `mapstructure:"redis_password"`
	RedisDB         int    `mapstructure:"redis_db"`
	RedisPrefix     string `mapstructure:"redis_prefix"`

	// Rate limiting
	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled"`
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity"`
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate"`

	// Safety and validation
	MaxToolCalls int `mapstructure:"max_tool_calls"`

	// Context window
	MaxContextTokens int `mapstructure:"max_context_tokens"`
	MaxTurns         int `mapstructure:"max_turns"`

	// Telemetry
	EnableTracing bool   `mapstructure:"enable_tracing"`
	Tracer        string `mapstructure:"tracer"` // "zerolog", "otel"
}

// DatabaseConfig stores the embedded database location.
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Type    string `mapstructure:"type"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console", "json"
}

// PersonasConfig points at an optional YAML persona catalog.
type PersonasConfig struct {
	File string `mapstructure:"file"`
}

var AppConfig Config

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetDefault("gateway.provider", "gemini")
	v.SetDefault("gateway.timeout", "60s")
	v.SetDefault("gateway.text_model", "gemini-1.5-flash")
	v.SetDefault("gateway.structured_model", "gemini-1.5-flash")
	v.SetDefault("gateway.audio_model", "gemini-2.0-flash")

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_delay", "2s")
	v.SetDefault("retry.max_wait", "25s")

	v.SetDefault("features.supports_tools", true)
	v.SetDefault("features.supports_structured_output", true)
	v.SetDefault("features.supports_audio", false)
	v.SetDefault("features.strict_schema", false)

	v.SetDefault("harness.cache_enabled", true)
	v.SetDefault("harness.cache_backend", "lru")
	v.SetDefault("harness.cache_capacity", 256)
	v.SetDefault("harness.cache_ttl_seconds", 3600)
	v.SetDefault("harness.redis_addr", "localhost:6379")
	v.SetDefault("harness.redis_prefix", "educlarity:gateway:")
	v.SetDefault("harness.rate_limit_enabled", false)
	v.SetDefault("harness.rate_limit_capacity", 15)
	v.SetDefault("harness.rate_limit_refill_rate", "4s")
	v.SetDefault("harness.max_tool_calls", 8)
	v.SetDefault("harness.max_context_tokens", 8000)
	v.SetDefault("harness.max_turns", 20)
	v.SetDefault("harness.enable_tracing", true)
	v.SetDefault("harness.tracer", "zerolog")

	v.SetDefault("database.enabled", true)
	v.SetDefault("database.type", internal.DefaultDatabaseType)
	v.SetDefault("database.path", internal.DefaultDatabaseDSN)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. gateway.api_key becomes GATEWAY_API_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	_ = v.BindEnv("gateway.api_key", "GATEWAY_API_KEY", "GEMINI_API_KEY")
	return v
}

func read(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	return &cfg, nil
}

// LoadConfig reads configuration from file or environment variables.
// A missing file at the default search paths is not an error.
func LoadConfig(configPath string) (*Config, error) {
	cfg, err := read(newViper(configPath))
	if err != nil {
		return nil, err
	}
	AppConfig = *cfg
	return cfg, nil
}

// Watcher reloads configuration when its file changes.
type Watcher struct {
	v      *viper.Viper
	logger zerolog.Logger

	mu      sync.RWMutex
	current *Config
}

// Watch loads configuration and invokes onChange with every successful reload.
// Without a config file there is nothing to watch and onChange never fires.
func Watch(configPath string, logger zerolog.Logger, onChange func(*Config)) (*Watcher, error) {
	v := newViper(configPath)
	cfg, err := read(v)
	if err != nil {
		return nil, err
	}
	w := &Watcher{v: v, logger: logger, current: cfg}
	if v.ConfigFileUsed() == "" {
		return w, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(v)
		if err != nil {
			w.logger.Error().Err(err).Str("file", e.Name).Msg("config reload failed")
			return
		}
		w.mu.Lock()
		w.current = next
		w.mu.Unlock()
		w.logger.Info().Str("file", e.Name).Msg("config reloaded")
		if onChange != nil {
			onChange(next)
		}
	})
	v.WatchConfig()
	return w, nil
}

// Current returns the last successfully loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}
