// Package service is the entry point shared by the HTTP API and the CLI:
// validate, admit against the caller's quota, then aggregate.
package service

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/riskcheck/internal/model"
	"github.com/sells-group/riskcheck/internal/policy"
	"github.com/sells-group/riskcheck/internal/ratelimit"
)

// Aggregator produces a merged verdict for a request.
type Aggregator interface {
	Analyze(ctx context.Context, subject string, req model.AnalysisRequest) (*model.AggregateResult, error)
}

// Admitter gates requests by quota.
type Admitter interface {
	Admit(ctx context.Context, subject, endpoint string, tier model.Tier) (ratelimit.Decision, error)
	Usage(ctx context.Context, subject, endpoint string, tier model.Tier, from, to time.Time) (int, error)
	Status(ctx context.Context, subject, endpoint string, tier model.Tier) (ratelimit.Decision, error)
}

// Service runs risk checks.
type Service struct {
	limiter Admitter
	agg     Aggregator
}

// New creates a Service.
func New(limiter Admitter, agg Aggregator) *Service {
	return &Service{limiter: limiter, agg: agg}
}

// Outcome is the result of one check. Decision is set whenever admission
// ran, including on denial.
type Outcome struct {
	Decision ratelimit.Decision     `json:"rate_limit"`
	Result   *model.AggregateResult `json:"result,omitempty"`
}

// EndpointFor picks the quota endpoint for req: asset-check for a bare
// symbol, single-check otherwise.
func EndpointFor(req model.AnalysisRequest) string {
	if len(req.Identifiers()) == 0 && req.Symbol() != "" {
		return policy.EndpointAssetCheck
	}
	return policy.EndpointSingleCheck
}

// Check validates req, consumes one unit of subject's quota on endpoint
// (EndpointFor(req) when empty) and returns the aggregate verdict. Invalid
// requests consume no quota.
func (s *Service) Check(ctx context.Context, subject, endpoint string, req model.AnalysisRequest) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if endpoint == "" {
		endpoint = EndpointFor(req)
	}

	log := zap.L().With(
		zap.String("request_id", req.RequestID),
		zap.String("tier", string(req.Tier)),
		zap.String("endpoint", endpoint),
	)

	d, err := s.limiter.Admit(ctx, subject, endpoint, req.Tier)
	out := &Outcome{Decision: d}
	if err != nil {
		return out, err
	}
	if d.Degraded {
		log.Warn("service: quota check degraded, request admitted")
	}

	res, err := s.agg.Analyze(ctx, subject, req)
	if err != nil {
		log.Error("service: aggregation failed", zap.Error(err))
		return out, eris.Wrap(err, "service: check")
	}
	out.Result = res
	log.Info("service: check complete",
		zap.Int("score", res.Score),
		zap.String("level", string(res.Level)),
		zap.Strings("sources", res.Sources),
	)
	return out, nil
}

// Usage is subject's admitted request count on endpoint over the last
// period.
func (s *Service) Usage(ctx context.Context, subject, endpoint string, tier model.Tier, period time.Duration) (int, error) {
	to := time.Now().UTC()
	return s.limiter.Usage(ctx, subject, endpoint, tier, to.Add(-period), to.Add(time.Nanosecond))
}

// Status reports subject's current window without consuming quota.
func (s *Service) Status(ctx context.Context, subject, endpoint string, tier model.Tier) (ratelimit.Decision, error) {
	return s.limiter.Status(ctx, subject, endpoint, tier)
}
