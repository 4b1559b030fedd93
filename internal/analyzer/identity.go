package analyzer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/riskcheck/internal/heuristic"
	"github.com/sells-group/riskcheck/internal/model"
	"github.com/sells-group/riskcheck/internal/store"
)

// IdentitySource checks subject identifiers against the scam report
// directory.
type IdentitySource struct {
	reports store.ReportStore
}

// NewIdentity creates the identity source.
func NewIdentity(reports store.ReportStore) *IdentitySource {
	return &IdentitySource{reports: reports}
}

func (s *IdentitySource) Name() string { return NameIdentity }

func (s *IdentitySource) AppliesTo(req model.AnalysisRequest) bool {
	return len(req.Identifiers()) > 0
}

func (s *IdentitySource) Lookup(ctx context.Context, req model.AnalysisRequest) (model.AnalyzerResult, error) {
	ids := req.Identifiers()
	reports, err := s.reports.LookupReports(ctx, ids)
	if err != nil {
		return model.AnalyzerResult{}, eris.Wrap(err, "identity: lookup reports")
	}

	res := model.AnalyzerResult{Confidence: 0.6, Flagged: model.BoolPtr(false)}
	if len(reports) == 0 {
		res.Score = 10
		res.Findings = []string{fmt.Sprintf("no community reports for %d identifier(s)", len(ids))}
		return res, nil
	}

	byID := map[string][]model.ScamReport{}
	for _, r := range reports {
		byID[r.Identifier] = append(byID[r.Identifier], r)
	}
	reported := make([]string, 0, len(byID))
	for id := range byID {
		reported = append(reported, id)
	}
	sort.Strings(reported)

	res.Score = min(100, 70+10*(len(reports)-1))
	res.Confidence = min(0.95, 0.8+0.05*float64(len(reported)-1))
	res.Flagged = model.BoolPtr(true)
	res.AddTags("reported_scammer")
	for _, id := range reported {
		rs := byID[id]
		cats := categories(rs)
		res.Findings = append(res.Findings,
			fmt.Sprintf("%s has %d report(s): %s", id, len(rs), strings.Join(cats, ", ")))
		res.AddTags(cats...)
	}
	return res, nil
}

// Fallback scores identifiers by their shape and wording alone.
func (s *IdentitySource) Fallback(req model.AnalysisRequest) model.AnalyzerResult {
	res := model.AnalyzerResult{Score: 15, Confidence: 0.3}
	for _, id := range req.Identifiers() {
		tags := heuristic.IdentifierTags(id)
		for _, t := range tags {
			switch t {
			case "suspicious_keyword", "digit_swap":
				res.Score += 15
				res.Findings = append(res.Findings, fmt.Sprintf("%s: %s", id, strings.ReplaceAll(t, "_", " ")))
			}
		}
		res.AddTags(tags...)
	}
	res.Score = model.ClampScore(res.Score)
	res.Flagged = model.BoolPtr(res.Score >= 60)
	return res
}

func categories(rs []model.ScamReport) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range rs {
		c := r.Category
		if c == "" {
			c = "uncategorized"
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}
