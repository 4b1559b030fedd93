// Package analyzer defines the signal sources the aggregator fans out to and
// the shared runner that gives every external source caching, throttling,
// circuit breaking and a degraded fallback.
package analyzer

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/riskcheck/internal/model"
)

// Analyzer names, in dispatch order.
const (
	NameIdentity      = "identity"
	NameImpersonation = "impersonation"
	NameLanguage      = "language"
	NamePrice         = "price"
	NameAsset         = "asset"
	NameAI            = "ai"
)

// Analyzer produces one risk vector for a request. Analyze returns an error
// only when no vector could be produced at all, which includes the call's
// context ending first.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, req model.AnalysisRequest) (model.AnalyzerResult, error)
}

// Applicable is implemented by analyzers that only apply to some requests.
// The aggregator skips an analyzer whose AppliesTo is false; that is not a
// failure.
type Applicable interface {
	AppliesTo(req model.AnalysisRequest) bool
}

// AppliesTo reports whether a should run for req.
func AppliesTo(a Analyzer, req model.AnalysisRequest) bool {
	if ap, ok := a.(Applicable); ok {
		return ap.AppliesTo(req)
	}
	return true
}

// Source is the external half of an analyzer: a lookup that may fail and a
// deterministic local fallback used when it does.
type Source interface {
	Name() string
	Lookup(ctx context.Context, req model.AnalysisRequest) (model.AnalyzerResult, error)
	Fallback(req model.AnalysisRequest) model.AnalyzerResult
}

var (
	outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskcheck_analyzer_outcomes_total",
		Help: "Analyzer results by analyzer and outcome (fresh, cached, stale, fallback, error)",
	}, []string{"analyzer", "outcome"})

	latency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "riskcheck_analyzer_duration_seconds",
		Help:    "Analyzer call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"analyzer"})
)
