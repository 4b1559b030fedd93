package analyzer

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/sells-group/riskcheck/internal/heuristic"
	"github.com/sells-group/riskcheck/internal/model"
)

// Impersonation flags identifiers that pose as official accounts or as
// well-known brands. It is local and never fails, so it has no cache.
type Impersonation struct{}

// NewImpersonation creates the impersonation analyzer.
func NewImpersonation() *Impersonation { return &Impersonation{} }

func (Impersonation) Name() string { return NameImpersonation }

func (Impersonation) AppliesTo(req model.AnalysisRequest) bool {
	return len(req.Identifiers()) > 0
}

func (Impersonation) Analyze(_ context.Context, req model.AnalysisRequest) (model.AnalyzerResult, error) {
	start := time.Now()
	res := model.AnalyzerResult{Source: NameImpersonation, Confidence: 0.6}

	best, flagged := 0, 0
	for _, id := range req.Identifiers() {
		tags := heuristic.IdentifierTags(id)
		s := impersonationScore(tags)
		if s == 0 {
			continue
		}
		flagged++
		best = max(best, s)
		res.Findings = append(res.Findings, fmt.Sprintf("%s looks like %s", id, impersonationKind(tags)))
		res.AddTags(tags...)
	}

	res.Score = 5
	if flagged > 0 {
		res.Score = model.ClampScore(best + 10*(flagged-1))
		res.Confidence = 0.7
	}
	res.Flagged = model.BoolPtr(res.Score >= 60)
	res.Normalize()
	res.Latency = time.Since(start)
	outcomes.WithLabelValues(NameImpersonation, "fresh").Inc()
	return res, nil
}

func impersonationScore(tags []string) int {
	official := slices.Contains(tags, "official_claim")
	brand := slices.Contains(tags, "brand_reference")
	switch {
	case slices.Contains(tags, "digit_swap"):
		return 75
	case official && brand:
		return 70
	case official:
		return 35
	case brand:
		return 25
	}
	return 0
}

func impersonationKind(tags []string) string {
	switch {
	case slices.Contains(tags, "digit_swap"):
		return "a lookalike of a known brand"
	case slices.Contains(tags, "official_claim") && slices.Contains(tags, "brand_reference"):
		return "an official brand account"
	case slices.Contains(tags, "official_claim"):
		return "an official or support account"
	default:
		return "a brand account"
	}
}
