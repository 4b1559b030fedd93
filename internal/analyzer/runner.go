package analyzer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/riskcheck/internal/cache"
	"github.com/sells-group/riskcheck/internal/model"
	"github.com/sells-group/riskcheck/internal/policy"
	"github.com/sells-group/riskcheck/internal/resilience"
)

// Runner turns a Source into an Analyzer:
//
//  1. a fresh cache hit is returned without I/O
//  2. otherwise the lookup runs behind the throttle, breaker and retries
//  3. a successful lookup is written through with the analyzer's TTL
//  4. a failed lookup serves a stale cache entry at half confidence, or
//     the source's fallback capped at the fallback confidence
type Runner struct {
	src         Source
	cache       cache.Cache
	ttl         time.Duration
	limiter     *rate.Limiter
	guard       *resilience.Guard
	fallbackCap float64
	nowFunc     func() time.Time
}

// NewRunner wires src with the cache, guard and analyzer policy. c and g may
// be nil.
func NewRunner(src Source, c cache.Cache, g *resilience.Guard, ap policy.AnalyzerPolicy, fallbackCap float64) *Runner {
	r := &Runner{
		src:         src,
		cache:       c,
		ttl:         ap.CacheTTL,
		guard:       g,
		fallbackCap: fallbackCap,
		nowFunc:     time.Now,
	}
	if ap.RatePerSecond > 0 {
		burst := ap.Burst
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(ap.RatePerSecond), burst)
	}
	if r.fallbackCap <= 0 {
		r.fallbackCap = 0.3
	}
	return r
}

func (r *Runner) Name() string { return r.src.Name() }

// AppliesTo delegates to the source when it is Applicable.
func (r *Runner) AppliesTo(req model.AnalysisRequest) bool {
	if ap, ok := r.src.(Applicable); ok {
		return ap.AppliesTo(req)
	}
	return true
}

func (r *Runner) Analyze(ctx context.Context, req model.AnalysisRequest) (model.AnalyzerResult, error) {
	name := r.src.Name()
	start := r.nowFunc()
	defer func() { latency.WithLabelValues(name).Observe(time.Since(start).Seconds()) }()

	key := cache.AnalyzerKey(name, req.Fingerprint())
	if res, ok := r.cached(ctx, key, false); ok {
		res.Cached = true
		res.Latency = time.Since(start)
		outcomes.WithLabelValues(name, "cached").Inc()
		return res, nil
	}

	res, err := r.lookup(ctx, req)
	if err == nil {
		res.Source = name
		res.Normalize()
		r.store(ctx, key, res)
		res.Latency = time.Since(start)
		outcomes.WithLabelValues(name, "fresh").Inc()
		return res, nil
	}

	// The deadline belongs to the caller; an expired call is a missing
	// vector, not a degraded one.
	if ctx.Err() != nil {
		outcomes.WithLabelValues(name, "error").Inc()
		return model.AnalyzerResult{}, eris.Wrapf(ctx.Err(), "analyzer %s", name)
	}

	zap.L().Warn("analyzer: lookup failed, degrading",
		zap.String("analyzer", name),
		zap.Error(eris.Wrap(model.ErrAnalyzerDegraded, err.Error())),
	)

	if stale, ok := r.cached(ctx, key, true); ok {
		stale.Stale = true
		stale.Cached = true
		stale.Degraded = true
		stale.Confidence /= 2
		stale.Error = err.Error()
		stale.Latency = time.Since(start)
		outcomes.WithLabelValues(name, "stale").Inc()
		return stale, nil
	}

	fb := r.src.Fallback(req)
	fb.Source = name
	fb.Degraded = true
	fb.Error = err.Error()
	fb.Confidence = min(fb.Confidence, r.fallbackCap)
	fb.AddTags("fallback")
	fb.Normalize()
	fb.Latency = time.Since(start)
	outcomes.WithLabelValues(name, "fallback").Inc()
	return fb, nil
}

func (r *Runner) lookup(ctx context.Context, req model.AnalysisRequest) (model.AnalyzerResult, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return model.AnalyzerResult{}, eris.Wrapf(err, "analyzer %s: throttle", r.src.Name())
		}
	}
	fn := func(ctx context.Context) (model.AnalyzerResult, error) { return r.src.Lookup(ctx, req) }
	if r.guard == nil {
		return fn(ctx)
	}
	return resilience.Call(ctx, r.guard, r.src.Name(), fn)
}

func (r *Runner) cached(ctx context.Context, key string, stale bool) (model.AnalyzerResult, bool) {
	if r.cache == nil {
		return model.AnalyzerResult{}, false
	}
	get := r.cache.Get
	if stale {
		get = r.cache.GetStale
	}
	data, ok, err := get(ctx, key)
	if err != nil {
		zap.L().Warn("analyzer: cache read failed", zap.String("key", key), zap.Error(err))
		return model.AnalyzerResult{}, false
	}
	if !ok {
		return model.AnalyzerResult{}, false
	}
	var res model.AnalyzerResult
	if err := json.Unmarshal(data, &res); err != nil {
		zap.L().Warn("analyzer: cache entry corrupt", zap.String("key", key), zap.Error(err))
		return model.AnalyzerResult{}, false
	}
	return res, true
}

func (r *Runner) store(ctx context.Context, key string, res model.AnalyzerResult) {
	if r.cache == nil || r.ttl <= 0 {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		zap.L().Warn("analyzer: cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := r.cache.Set(ctx, key, data, r.ttl); err != nil {
		zap.L().Warn("analyzer: cache write failed", zap.String("key", key), zap.Error(err))
	}
}
