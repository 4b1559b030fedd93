package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/riskcheck/internal/heuristic"
	"github.com/sells-group/riskcheck/internal/model"
	"github.com/sells-group/riskcheck/pkg/market"
)

// AssetSource verifies an asset against listing metadata.
type AssetSource struct {
	market  market.Client
	nowFunc func() time.Time
}

// NewAsset creates the asset source.
func NewAsset(m market.Client) *AssetSource {
	return &AssetSource{market: m, nowFunc: time.Now}
}

func (s *AssetSource) Name() string { return NameAsset }

func (s *AssetSource) AppliesTo(req model.AnalysisRequest) bool {
	return req.Symbol() != ""
}

func (s *AssetSource) Lookup(ctx context.Context, req model.AnalysisRequest) (model.AnalyzerResult, error) {
	sym := req.Symbol()
	l, err := s.market.Listing(ctx, sym)
	if errors.Is(err, market.ErrNotFound) {
		return model.AnalyzerResult{
			Score:      80,
			Confidence: 0.7,
			Flagged:    model.BoolPtr(true),
			Findings:   []string{fmt.Sprintf("%s is not listed on any tracked exchange", sym)},
			Tags:       []string{"unlisted"},
		}, nil
	}
	if err != nil {
		return model.AnalyzerResult{}, eris.Wrapf(err, "asset: listing %s", sym)
	}
	return s.scoreListing(l), nil
}

func (s *AssetSource) scoreListing(l *market.Listing) model.AnalyzerResult {
	res := model.AnalyzerResult{Score: 5, Confidence: 0.8}

	if !l.Active {
		res.Score += 30
		res.Findings = append(res.Findings, "listing is inactive")
		res.AddTags("inactive")
	}
	if !l.FirstListedAt.IsZero() {
		age := s.nowFunc().Sub(l.FirstListedAt)
		switch {
		case age < 30*24*time.Hour:
			res.Score += 30
			res.Findings = append(res.Findings, fmt.Sprintf("listed %d days ago", int(age.Hours()/24)))
			res.AddTags("new_listing")
		case age < 180*24*time.Hour:
			res.Score += 15
			res.AddTags("young_listing")
		}
	}
	switch {
	case l.ExchangeCount == 0:
		res.Score += 20
		res.Findings = append(res.Findings, "not traded on any exchange")
		res.AddTags("no_exchanges")
	case l.ExchangeCount < 3:
		res.Score += 10
		res.AddTags("few_exchanges")
	}
	if l.Chain != "" && !l.ContractVerified {
		res.Score += 20
		res.Findings = append(res.Findings, fmt.Sprintf("contract on %s is not verified", l.Chain))
		res.AddTags("unverified_contract")
	}

	res.Score = model.ClampScore(res.Score)
	res.Flagged = model.BoolPtr(res.Score >= 60)
	return res
}

// Fallback trusts the established-asset allowlist and otherwise scores the
// ticker shape.
func (s *AssetSource) Fallback(req model.AnalysisRequest) model.AnalyzerResult {
	sym := req.Symbol()
	if heuristic.KnownAsset(sym) {
		return model.AnalyzerResult{
			Score:      5,
			Confidence: 0.3,
			Flagged:    model.BoolPtr(false),
			Findings:   []string{fmt.Sprintf("%s is an established asset", sym)},
			Tags:       []string{"known_asset"},
		}
	}
	tags := heuristic.SymbolTags(sym)
	res := model.AnalyzerResult{Score: 50 + 10*len(tags), Confidence: 0.2}
	res.AddTags(tags...)
	res.Flagged = model.BoolPtr(res.Score >= 60)
	return res
}
