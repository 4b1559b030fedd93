package analyzer

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/riskcheck/internal/ensemble"
	"github.com/sells-group/riskcheck/internal/model"
)

// AISource asks the model ensemble. Lookup fails when no model answered, so
// the heuristic consensus is never cached as a fresh result.
type AISource struct {
	combiner *ensemble.Combiner
}

// NewAI creates the AI source.
func NewAI(c *ensemble.Combiner) *AISource {
	return &AISource{combiner: c}
}

func (s *AISource) Name() string { return NameAI }

func (s *AISource) Lookup(ctx context.Context, req model.AnalysisRequest) (model.AnalyzerResult, error) {
	c := s.combiner.Combine(ctx, req.Subject())
	if c.Fallback {
		return model.AnalyzerResult{}, eris.Wrapf(model.ErrAnalyzerDegraded,
			"ai: none of %d model(s) answered", c.Requested)
	}
	return fromConsensus(c), nil
}

// Fallback folds an empty ensemble run, which yields the heuristic
// consensus.
func (s *AISource) Fallback(req model.AnalysisRequest) model.AnalyzerResult {
	c := ensemble.Fold(nil, nil, s.combiner.Thresholds(), req.Subject())
	return fromConsensus(c)
}

func fromConsensus(c model.Consensus) model.AnalyzerResult {
	res := model.AnalyzerResult{
		Score:      ensemble.Score(c),
		Confidence: c.Confidence,
		Flagged:    model.BoolPtr(c.IsScam),
		Consensus:  &c,
		Degraded:   c.Fallback,
	}
	res.Findings = append(res.Findings,
		fmt.Sprintf("%d of %d models responded; consensus %s", c.Responded, c.Requested, c.Band))
	if c.Note != "" {
		res.Findings = append(res.Findings, c.Note)
	}
	res.AddTags("consensus_" + string(c.Band))
	return res
}
