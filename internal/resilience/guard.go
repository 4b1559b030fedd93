package resilience

import (
	"context"
)

// Config bundles breaker and retry settings for every source.
type Config struct {
	Breaker BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
	Retry   RetryConfig   `yaml:"retry" mapstructure:"retry"`
}

// DefaultConfig returns DefaultBreakerConfig and DefaultRetryConfig.
func DefaultConfig() Config {
	return Config{Breaker: DefaultBreakerConfig(), Retry: DefaultRetryConfig()}
}

// Guard applies retries inside a per-source circuit breaker. Each attempt
// passes through the breaker, so an open breaker stops the retry loop.
type Guard struct {
	breakers *Breakers
	retry    RetryConfig
}

// NewGuard creates a Guard.
func NewGuard(cfg Config) *Guard {
	return &Guard{breakers: NewBreakers(cfg.Breaker), retry: cfg.Retry}
}

// Breakers exposes the guard's breakers for health reporting.
func (g *Guard) Breakers() *Breakers { return g.breakers }

// Call runs fn for source under g.
func Call[T any](ctx context.Context, g *Guard, source string, fn func(ctx context.Context) (T, error)) (T, error) {
	b := g.breakers.For(source)
	return Retry(ctx, source, g.retry, func(ctx context.Context) (T, error) {
		var v T
		err := b.Do(ctx, func(ctx context.Context) error {
			var ferr error
			v, ferr = fn(ctx)
			return ferr
		})
		return v, err
	})
}
