package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/riskcheck/internal/cache"
	"github.com/sells-group/riskcheck/internal/resilience"
	"github.com/sells-group/riskcheck/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig       `yaml:"store" mapstructure:"store"`
	Cache      CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Server     ServerConfig      `yaml:"server" mapstructure:"server"`
	Log        LogConfig         `yaml:"log" mapstructure:"log"`
	PolicyPath string            `yaml:"policy_path" mapstructure:"policy_path"`
	Anthropic  AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI     OpenAIConfig      `yaml:"openai" mapstructure:"openai"`
	Perplexity PerplexityConfig  `yaml:"perplexity" mapstructure:"perplexity"`
	Market     MarketConfig      `yaml:"market" mapstructure:"market"`
	Resilience resilience.Config `yaml:"resilience" mapstructure:"resilience"`
}

// StoreConfig configures the quota and report database.
type StoreConfig struct {
	// Driver is memory, sqlite or postgres.
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// CacheConfig configures the analyzer and result cache.
type CacheConfig struct {
	// Driver is memory or badger.
	Driver string             `yaml:"driver" mapstructure:"driver"`
	Badger cache.BadgerConfig `yaml:"badger" mapstructure:"badger"`
	// StaleFor is how long expired entries stay readable as stale
	// fallbacks.
	StaleFor time.Duration `yaml:"stale_for" mapstructure:"stale_for"`
}

// ServerConfig configures the HTTP server and its janitor.
type ServerConfig struct {
	Port            int           `yaml:"port" mapstructure:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	// JanitorInterval is how often expired quota windows and cache entries
	// are purged. Zero disables the janitor.
	JanitorInterval time.Duration `yaml:"janitor_interval" mapstructure:"janitor_interval"`
	// WindowRetention is how long closed quota windows are kept for usage
	// reporting.
	WindowRetention time.Duration `yaml:"window_retention" mapstructure:"window_retention"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// MarketConfig holds market data service settings. An empty BaseURL
// leaves the price and asset analyzers on their fallbacks.
type MarketConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RISKCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "riskcheck.db")
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.stale_for", cache.DefaultStaleFor)
	v.SetDefault("cache.badger.path", "data/cache")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.janitor_interval", 10*time.Minute)
	v.SetDefault("server.window_retention", 31*24*time.Hour)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar")
	v.SetDefault("market.rate_limit", 10)
	v.SetDefault("resilience.breaker.failure_threshold", 5)
	v.SetDefault("resilience.breaker.cooldown", 30*time.Second)
	v.SetDefault("resilience.breaker.probes", 1)
	v.SetDefault("resilience.retry.max_attempts", 2)
	v.SetDefault("resilience.retry.initial_backoff", 250*time.Millisecond)
	v.SetDefault("resilience.retry.max_backoff", 2*time.Second)
	v.SetDefault("resilience.retry.multiplier", 2.0)
	v.SetDefault("resilience.retry.jitter", 0.2)

	// Keys without defaults are invisible to Unmarshal unless bound.
	for _, key := range []string{
		"policy_path", "anthropic.key", "anthropic.base_url", "openai.key", "openai.base_url",
		"perplexity.key", "market.key", "market.base_url",
	} {
		_ = v.BindEnv(key)
	}

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode needs: serve, check,
// migrate or report.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be memory, sqlite or postgres", c.Store.Driver))
	}

	switch mode {
	case "serve", "check":
		switch c.Cache.Driver {
		case "memory":
		case "badger":
			if c.Cache.Badger.Path == "" && !c.Cache.Badger.InMemory {
				errs = append(errs, "cache.badger.path is required")
			}
		default:
			errs = append(errs, fmt.Sprintf("cache.driver %q must be memory or badger", c.Cache.Driver))
		}
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Anthropic.Key == "" && c.OpenAI.Key == "" && c.Perplexity.Key == "" {
			zap.L().Warn("config: no AI provider keys set; language and ai analyzers will use heuristics")
		}
	case "migrate", "report":
		if c.Store.Driver == "memory" {
			errs = append(errs, fmt.Sprintf("%s needs a persistent store.driver", mode))
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
