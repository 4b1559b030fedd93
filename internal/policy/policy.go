// Package policy holds the static tuning the risk core reads at startup:
// per-tier quotas, per-analyzer deadlines and cache TTLs, ensemble model
// weights and scoring thresholds.
package policy

import (
	"math"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/riskcheck/internal/model"
)

// Endpoint names used in the quota table.
const (
	EndpointSingleCheck = "single-check"
	EndpointBulkCheck   = "bulk-check"
	EndpointAssetCheck  = "asset-check"
)

// Policy is the top-level policy document.
type Policy struct {
	RateLimits map[model.Tier]map[string]Quota `yaml:"rate_limits"`
	Analyzers  map[string]AnalyzerPolicy       `yaml:"analyzers"`
	Defaults   AnalyzerPolicy                  `yaml:"analyzer_defaults"`
	Aggregator AggregatorPolicy                `yaml:"aggregator"`
	Ensemble   EnsemblePolicy                  `yaml:"ensemble"`
	Thresholds Thresholds                      `yaml:"thresholds"`
}

// Quota is one row of the rate-limit table.
type Quota struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// AnalyzerPolicy configures a single analyzer.
type AnalyzerPolicy struct {
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// RatePerSecond throttles outbound lookups. Zero disables throttling.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// AggregatorPolicy configures request-level behavior.
type AggregatorPolicy struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
	UrgentTimeout  time.Duration `yaml:"urgent_timeout"`
	ResultTTL      time.Duration `yaml:"result_ttl"`
}

// EnsemblePolicy configures the AI model ensemble.
type EnsemblePolicy struct {
	Weights      map[string]float64 `yaml:"weights"`
	ModelTimeout time.Duration      `yaml:"model_timeout"`
}

// Thresholds are the policy constants for banding and bucketing.
type Thresholds struct {
	Levels model.LevelThresholds `yaml:"levels"`
	// Ensemble banding: see ensemble.Band.
	SafeBelow       float64 `yaml:"band_safe_below"`
	SuspiciousBelow float64 `yaml:"band_suspicious_below"`
	LikelyBelow     float64 `yaml:"band_likely_below"`
	// ConsensusFloor is the minimum aggregate score when the ensemble band
	// is confirmed.
	ConsensusFloor int `yaml:"consensus_floor"`
	// FallbackConfidence caps confidence of heuristic fallback vectors.
	FallbackConfidence float64 `yaml:"fallback_confidence"`
}

// Default returns the built-in policy.
func Default() *Policy {
	hour := time.Hour
	return &Policy{
		RateLimits: map[model.Tier]map[string]Quota{
			model.TierFree: {
				EndpointSingleCheck: {Max: 3, Window: hour},
				EndpointBulkCheck:   {Max: 0, Window: hour},
				EndpointAssetCheck:  {Max: 5, Window: hour},
			},
			model.TierPro: {
				EndpointSingleCheck: {Max: 1000, Window: hour},
				EndpointBulkCheck:   {Max: 100, Window: hour},
				EndpointAssetCheck:  {Max: 1000, Window: hour},
			},
			model.TierEnterprise: {
				EndpointSingleCheck: {Max: 10000, Window: hour},
				EndpointBulkCheck:   {Max: 10000, Window: hour},
				EndpointAssetCheck:  {Max: 10000, Window: hour},
			},
		},
		Defaults: AnalyzerPolicy{
			Timeout:  15 * time.Second,
			CacheTTL: time.Hour,
		},
		Analyzers: map[string]AnalyzerPolicy{
			"identity": {Timeout: 10 * time.Second, CacheTTL: time.Hour},
			"language": {Timeout: 20 * time.Second, CacheTTL: 30 * time.Minute, RatePerSecond: 5, Burst: 5},
			"price":    {Timeout: 10 * time.Second, CacheTTL: 15 * time.Minute, RatePerSecond: 2, Burst: 4},
			"asset":    {Timeout: 10 * time.Second, CacheTTL: time.Hour, RatePerSecond: 2, Burst: 4},
			"ai":       {Timeout: 20 * time.Second, CacheTTL: 30 * time.Minute},
		},
		Aggregator: AggregatorPolicy{
			RequestTimeout: 30 * time.Second,
			UrgentTimeout:  10 * time.Second,
			ResultTTL:      time.Hour,
		},
		Ensemble: EnsemblePolicy{
			Weights: map[string]float64{
				"anthropic":  0.4,
				"openai":     0.35,
				"perplexity": 0.25,
			},
			ModelTimeout: 15 * time.Second,
		},
		Thresholds: Thresholds{
			Levels:             model.DefaultLevelThresholds(),
			SafeBelow:          0.3,
			SuspiciousBelow:    0.7,
			LikelyBelow:        0.8,
			ConsensusFloor:     85,
			FallbackConfidence: 0.3,
		},
	}
}

// Load reads a policy file and fills anything it leaves unset from Default.
// An empty path returns Default.
func Load(path string) (*Policy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "policy: read %s", path)
	}

	var wrapper struct {
		Policy Policy `yaml:"policy"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "policy: parse")
	}

	p := &wrapper.Policy
	p.applyDefaults(Default())
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Policy) applyDefaults(d *Policy) {
	if len(p.RateLimits) == 0 {
		p.RateLimits = d.RateLimits
	}
	if p.Defaults.Timeout == 0 {
		p.Defaults.Timeout = d.Defaults.Timeout
	}
	if p.Defaults.CacheTTL == 0 {
		p.Defaults.CacheTTL = d.Defaults.CacheTTL
	}
	if p.Analyzers == nil {
		p.Analyzers = make(map[string]AnalyzerPolicy)
	}
	for name, ap := range d.Analyzers {
		if _, ok := p.Analyzers[name]; !ok {
			p.Analyzers[name] = ap
		}
	}
	if p.Aggregator.RequestTimeout == 0 {
		p.Aggregator.RequestTimeout = d.Aggregator.RequestTimeout
	}
	if p.Aggregator.UrgentTimeout == 0 {
		p.Aggregator.UrgentTimeout = d.Aggregator.UrgentTimeout
	}
	if p.Aggregator.ResultTTL == 0 {
		p.Aggregator.ResultTTL = d.Aggregator.ResultTTL
	}
	if len(p.Ensemble.Weights) == 0 {
		p.Ensemble.Weights = d.Ensemble.Weights
	}
	if p.Ensemble.ModelTimeout == 0 {
		p.Ensemble.ModelTimeout = d.Ensemble.ModelTimeout
	}
	t := &p.Thresholds
	if t.Levels == (model.LevelThresholds{}) {
		t.Levels = d.Thresholds.Levels
	}
	if t.SafeBelow == 0 {
		t.SafeBelow = d.Thresholds.SafeBelow
	}
	if t.SuspiciousBelow == 0 {
		t.SuspiciousBelow = d.Thresholds.SuspiciousBelow
	}
	if t.LikelyBelow == 0 {
		t.LikelyBelow = d.Thresholds.LikelyBelow
	}
	if t.ConsensusFloor == 0 {
		t.ConsensusFloor = d.Thresholds.ConsensusFloor
	}
	if t.FallbackConfidence == 0 {
		t.FallbackConfidence = d.Thresholds.FallbackConfidence
	}
}

// Validate checks internal consistency.
func (p *Policy) Validate() error {
	for tier, endpoints := range p.RateLimits {
		for ep, q := range endpoints {
			if q.Max < 0 {
				return eris.Errorf("policy: %s/%s: negative max", tier, ep)
			}
			if q.Window <= 0 {
				return eris.Errorf("policy: %s/%s: window must be positive", tier, ep)
			}
		}
	}
	sum := 0.0
	for name, w := range p.Ensemble.Weights {
		if w < 0 {
			return eris.Errorf("policy: ensemble weight for %s is negative", name)
		}
		sum += w
	}
	if len(p.Ensemble.Weights) > 0 && math.Abs(sum-1.0) > 0.001 {
		return eris.Errorf("policy: ensemble weights sum to %.3f, want 1.0", sum)
	}
	lv := p.Thresholds.Levels
	if lv.SafeBelow <= 0 || lv.WarningBelow <= lv.SafeBelow || lv.WarningBelow > 100 {
		return eris.Errorf("policy: level thresholds %d/%d out of order", lv.SafeBelow, lv.WarningBelow)
	}
	return nil
}

// QuotaFor returns the quota for a tier and endpoint.
func (p *Policy) QuotaFor(tier model.Tier, endpoint string) (Quota, bool) {
	eps, ok := p.RateLimits[tier]
	if !ok {
		return Quota{}, false
	}
	q, ok := eps[endpoint]
	return q, ok
}

// Analyzer returns the policy for an analyzer, falling back to defaults for
// unset fields.
func (p *Policy) Analyzer(name string) AnalyzerPolicy {
	ap, ok := p.Analyzers[name]
	if !ok {
		return p.Defaults
	}
	if ap.Timeout == 0 {
		ap.Timeout = p.Defaults.Timeout
	}
	if ap.CacheTTL == 0 {
		ap.CacheTTL = p.Defaults.CacheTTL
	}
	return ap
}
