package analyzer

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/riskcheck/internal/heuristic"
	"github.com/sells-group/riskcheck/internal/model"
	"github.com/sells-group/riskcheck/pkg/market"
)

// PriceSource looks for price-manipulation patterns in market quotes.
type PriceSource struct {
	market market.Client
}

// NewPrice creates the price source.
func NewPrice(m market.Client) *PriceSource {
	return &PriceSource{market: m}
}

func (s *PriceSource) Name() string { return NamePrice }

func (s *PriceSource) AppliesTo(req model.AnalysisRequest) bool {
	return req.Symbol() != ""
}

func (s *PriceSource) Lookup(ctx context.Context, req model.AnalysisRequest) (model.AnalyzerResult, error) {
	sym := req.Symbol()
	q, err := s.market.Quote(ctx, sym)
	if errors.Is(err, market.ErrNotFound) {
		return model.AnalyzerResult{
			Score:      60,
			Confidence: 0.5,
			Flagged:    model.BoolPtr(true),
			Findings:   []string{fmt.Sprintf("no market data for %s", sym)},
			Tags:       []string{"no_market_data"},
		}, nil
	}
	if err != nil {
		return model.AnalyzerResult{}, eris.Wrapf(err, "price: quote %s", sym)
	}
	return scoreQuote(q), nil
}

func scoreQuote(q *market.Quote) model.AnalyzerResult {
	res := model.AnalyzerResult{Score: 10, Confidence: 0.75}

	switch day := math.Abs(q.Change24hPct); {
	case day >= 100:
		res.Score += 40
		res.Findings = append(res.Findings, fmt.Sprintf("24h price change %+.0f%%", q.Change24hPct))
		res.AddTags("extreme_volatility")
	case day >= 30:
		res.Score += 20
		res.Findings = append(res.Findings, fmt.Sprintf("24h price change %+.0f%%", q.Change24hPct))
		res.AddTags("high_volatility")
	}
	if math.Abs(q.Change1hPct) >= 25 {
		res.Score += 15
		res.Findings = append(res.Findings, fmt.Sprintf("1h price change %+.0f%%", q.Change1hPct))
		res.AddTags("sudden_move")
	}

	if q.MarketCapUSD > 0 {
		switch ratio := q.Volume24hUSD / q.MarketCapUSD; {
		case ratio >= 1:
			res.Score += 20
			res.Findings = append(res.Findings, fmt.Sprintf("24h volume is %.1fx market cap", ratio))
			res.AddTags("wash_trading_risk")
		case ratio >= 0.5:
			res.Score += 10
			res.AddTags("elevated_volume")
		}
	}

	switch {
	case q.MarketCapUSD > 0 && q.MarketCapUSD < 1_000_000:
		res.Score += 15
		res.Findings = append(res.Findings, "micro-cap asset under $1M")
		res.AddTags("micro_cap")
	case q.MarketCapUSD > 0 && q.MarketCapUSD < 10_000_000:
		res.Score += 5
		res.AddTags("small_cap")
	}

	res.Score = model.ClampScore(res.Score)
	res.Flagged = model.BoolPtr(res.Score >= 60)
	return res
}

// Fallback scores the ticker shape and any pump language in the content.
func (s *PriceSource) Fallback(req model.AnalysisRequest) model.AnalyzerResult {
	res := model.AnalyzerResult{Score: 30, Confidence: 0.25}
	tags := heuristic.SymbolTags(req.Symbol())
	res.Score += 10 * len(tags)
	res.AddTags(tags...)
	for _, t := range heuristic.ScanContent(req.Content).Tactics {
		if t == "pump_signal" {
			res.Score += 20
			res.Findings = append(res.Findings, "content contains pump signals")
			res.AddTags(t)
		}
	}
	if heuristic.KnownAsset(req.Symbol()) {
		res.Score = 10
	}
	res.Score = model.ClampScore(res.Score)
	res.Flagged = model.BoolPtr(res.Score >= 60)
	return res
}
