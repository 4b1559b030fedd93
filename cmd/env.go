package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/riskcheck/internal/aggregator"
	"github.com/sells-group/riskcheck/internal/analyzer"
	"github.com/sells-group/riskcheck/internal/cache"
	"github.com/sells-group/riskcheck/internal/config"
	"github.com/sells-group/riskcheck/internal/ensemble"
	"github.com/sells-group/riskcheck/internal/policy"
	"github.com/sells-group/riskcheck/internal/ratelimit"
	"github.com/sells-group/riskcheck/internal/resilience"
	"github.com/sells-group/riskcheck/internal/service"
	"github.com/sells-group/riskcheck/internal/store"
	anthropicpkg "github.com/sells-group/riskcheck/pkg/anthropic"
	"github.com/sells-group/riskcheck/pkg/market"
	openaipkg "github.com/sells-group/riskcheck/pkg/openai"
	"github.com/sells-group/riskcheck/pkg/perplexity"
)

// riskEnv holds the store, cache and wired service used by the serve and
// check commands.
type riskEnv struct {
	Store      store.Store
	Cache      cache.Cache
	Policy     *policy.Policy
	Guard      *resilience.Guard
	Aggregator *aggregator.Aggregator
	Service    *service.Service
}

// Close releases resources held by the environment.
func (e *riskEnv) Close() {
	if e.Cache != nil {
		_ = e.Cache.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates cfg for mode, opens and migrates the store, opens the
// cache and wires analyzers, aggregator, limiter and service. Callers
// should defer env.Close().
func initEnv(ctx context.Context, c *config.Config, mode string) (*riskEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	p, err := policy.Load(c.PolicyPath)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx, c.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	ch, err := initCache(c.Cache)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	guard := resilience.NewGuard(c.Resilience)
	models, complete := initModels(c)
	combiner := ensemble.New(models, p, ensemble.WithGuard(guard))

	marketOpts := []market.Option{market.WithBaseURL(c.Market.BaseURL)}
	if c.Market.RateLimit > 0 {
		marketOpts = append(marketOpts, market.WithRateLimit(c.Market.RateLimit))
	}
	if c.Market.BaseURL == "" {
		zap.L().Warn("RISKCHECK_MARKET_BASE_URL not set, price and asset analyzers will use heuristics")
	}
	mc := market.NewClient(c.Market.Key, marketOpts...)

	analyzers := buildAnalyzers(st, ch, guard, p, complete, mc, combiner)
	agg := aggregator.New(analyzers, ch, p)
	svc := service.New(ratelimit.New(st, p), agg)

	zap.L().Info("risk core ready",
		zap.String("store", c.Store.Driver),
		zap.String("cache", c.Cache.Driver),
		zap.Strings("analyzers", agg.Analyzers()),
		zap.Strings("models", combiner.Models()),
	)

	return &riskEnv{
		Store:      st,
		Cache:      ch,
		Policy:     p,
		Guard:      guard,
		Aggregator: agg,
		Service:    svc,
	}, nil
}

func initStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite":
		dsn := sc.DatabaseURL
		if dsn == "" {
			dsn = "riskcheck.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, sc.DatabaseURL, &sc.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
}

func initCache(cc config.CacheConfig) (cache.Cache, error) {
	switch cc.Driver {
	case "", "memory":
		return cache.NewMemory(cc.StaleFor), nil
	case "badger":
		bc := cc.Badger
		if bc.StaleFor == 0 {
			bc.StaleFor = cc.StaleFor
		}
		return cache.NewBadger(bc)
	default:
		return nil, eris.Errorf("unsupported cache driver: %s", cc.Driver)
	}
}

// initModels builds the ensemble members for every configured provider and
// picks the completion used by the language analyzer: Anthropic first,
// then OpenAI, then Perplexity.
func initModels(c *config.Config) ([]ensemble.Model, ensemble.CompleteFunc) {
	var (
		models   []ensemble.Model
		complete ensemble.CompleteFunc
	)

	if c.Anthropic.Key != "" {
		opts := []anthropicpkg.Option{anthropicpkg.WithModel(c.Anthropic.Model)}
		if c.Anthropic.BaseURL != "" {
			opts = append(opts, anthropicpkg.WithBaseURL(c.Anthropic.BaseURL))
		}
		fn := ensemble.AnthropicComplete(anthropicpkg.NewClient(c.Anthropic.Key, opts...))
		models = append(models, ensemble.NewLLMModel("anthropic", fn))
		complete = fn
	}
	if c.OpenAI.Key != "" {
		opts := []openaipkg.Option{openaipkg.WithModel(c.OpenAI.Model)}
		if c.OpenAI.BaseURL != "" {
			opts = append(opts, openaipkg.WithBaseURL(c.OpenAI.BaseURL))
		}
		fn := openaipkg.NewClient(c.OpenAI.Key, opts...).Complete
		models = append(models, ensemble.NewLLMModel("openai", fn))
		if complete == nil {
			complete = fn
		}
	}
	if c.Perplexity.Key != "" {
		fn := perplexity.NewClient(c.Perplexity.Key,
			perplexity.WithBaseURL(c.Perplexity.BaseURL),
			perplexity.WithModel(c.Perplexity.Model),
		).Complete
		models = append(models, ensemble.NewLLMModel("perplexity", fn))
		if complete == nil {
			complete = fn
		}
	}

	if complete == nil {
		complete = func(context.Context, string, string) (string, error) {
			return "", eris.New("no language model configured")
		}
	}
	return models, complete
}

// buildAnalyzers wires the analyzers in dispatch order.
func buildAnalyzers(
	reports store.ReportStore,
	c cache.Cache,
	g *resilience.Guard,
	p *policy.Policy,
	complete ensemble.CompleteFunc,
	mc market.Client,
	combiner *ensemble.Combiner,
) []analyzer.Analyzer {
	run := func(src analyzer.Source) analyzer.Analyzer {
		return analyzer.NewRunner(src, c, g, p.Analyzer(src.Name()), p.Thresholds.FallbackConfidence)
	}
	return []analyzer.Analyzer{
		run(analyzer.NewIdentity(reports)),
		analyzer.NewImpersonation(),
		run(analyzer.NewLanguage(complete)),
		run(analyzer.NewPrice(mc)),
		run(analyzer.NewAsset(mc)),
		run(analyzer.NewAI(combiner)),
	}
}
