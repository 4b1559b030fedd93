// Package resilience guards calls to external signal sources with a circuit
// breaker and bounded retries.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// State is a breaker state.
type State int

const (
	// StateClosed lets calls through.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets probe calls through to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when the breaker rejects a call without running it.
var ErrOpen = eris.New("resilience: circuit open")

var breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "riskcheck_breaker_state",
	Help: "Circuit breaker state per source (0 closed, 1 open, 2 half-open)",
}, []string{"source"})

// BreakerConfig controls when a breaker opens and how it recovers.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failures that open the breaker.
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration `yaml:"cooldown" mapstructure:"cooldown"`
	// Probes is the successful half-open calls needed to close again.
	Probes int `yaml:"probes" mapstructure:"probes"`
}

// DefaultBreakerConfig returns the breaker settings used for analyzer
// backends.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		Probes:           1,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.Probes <= 0 {
		c.Probes = d.Probes
	}
	return c
}

// Breaker is a circuit breaker for one named source.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	successes int

	nowFunc func() time.Time
}

// NewBreaker creates a closed breaker for source name.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	b := &Breaker{
		name:    name,
		cfg:     cfg.withDefaults(),
		state:   StateClosed,
		nowFunc: time.Now,
	}
	breakerState.WithLabelValues(name).Set(float64(StateClosed))
	return b
}

// Name returns the source the breaker guards.
func (b *Breaker) Name() string { return b.name }

// Do runs fn unless the breaker is open. Caller cancellation does not count
// as a source failure.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(ctx, err)
	return err
}

// State reports the current state, accounting for an elapsed cooldown.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.nowFunc().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.successes = 0
	b.moveTo(StateClosed)
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}
	if b.nowFunc().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.moveTo(StateHalfOpen)
		return nil
	}
	return eris.Wrapf(ErrOpen, "source %s", b.name)
}

func (b *Breaker) record(ctx context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || ctx.Err() != nil {
		if err == nil {
			b.succeed()
		}
		return
	}

	b.failures++
	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.openedAt = b.nowFunc()
			b.moveTo(StateOpen)
		}
	case StateHalfOpen:
		b.successes = 0
		b.openedAt = b.nowFunc()
		b.moveTo(StateOpen)
	}
}

func (b *Breaker) succeed() {
	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.Probes {
			b.failures = 0
			b.successes = 0
			b.moveTo(StateClosed)
		}
	case StateClosed:
		b.failures = 0
	}
}

func (b *Breaker) moveTo(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	breakerState.WithLabelValues(b.name).Set(float64(to))
	zap.L().Info("resilience: breaker state change",
		zap.String("source", b.name),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
}

// Breakers hands out one breaker per source name.
type Breakers struct {
	cfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakers creates an empty breaker set sharing cfg.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// For returns the breaker for source, creating it on first use.
func (s *Breakers) For(source string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[source]
	if !ok {
		b = NewBreaker(source, s.cfg)
		s.breakers[source] = b
	}
	return b
}

// States snapshots every breaker's state.
func (s *Breakers) States() map[string]State {
	s.mu.Lock()
	all := make([]*Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		all = append(all, b)
	}
	s.mu.Unlock()

	out := make(map[string]State, len(all))
	for _, b := range all {
		out[b.name] = b.State()
	}
	return out
}
