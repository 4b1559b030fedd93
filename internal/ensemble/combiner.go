// Package ensemble fans one piece of content out to several AI models and
// folds their verdicts into a single consensus.
package ensemble

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/riskcheck/internal/heuristic"
	"github.com/sells-group/riskcheck/internal/model"
	"github.com/sells-group/riskcheck/internal/policy"
	"github.com/sells-group/riskcheck/internal/resilience"
)

// FallbackConfidence is the confidence of the heuristic consensus used when
// no model answered.
const FallbackConfidence = 0.2

// Combiner runs the ensemble.
type Combiner struct {
	models     []Model
	weights    map[string]float64
	timeout    time.Duration
	thresholds policy.Thresholds
	guard      *resilience.Guard
}

// Option configures a Combiner.
type Option func(*Combiner)

// WithGuard routes every model call through g.
func WithGuard(g *resilience.Guard) Option {
	return func(c *Combiner) { c.guard = g }
}

// New creates a Combiner over models using the ensemble weights, per-model
// timeout and banding thresholds from p.
func New(models []Model, p *policy.Policy, opts ...Option) *Combiner {
	c := &Combiner{
		models:     models,
		weights:    p.Ensemble.Weights,
		timeout:    p.Ensemble.ModelTimeout,
		thresholds: p.Thresholds,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Models returns the configured model names in call order.
func (c *Combiner) Models() []string {
	names := make([]string, len(c.models))
	for i, m := range c.models {
		names[i] = m.Name()
	}
	return names
}

// Thresholds returns the banding thresholds the combiner folds with.
func (c *Combiner) Thresholds() policy.Thresholds { return c.thresholds }

// Combine asks every model concurrently and folds the answers. It always
// returns a consensus: when no model answers, a low-confidence heuristic
// verdict with Fallback set.
func (c *Combiner) Combine(ctx context.Context, content string) model.Consensus {
	verdicts := make([]model.ModelVerdict, len(c.models))

	var g errgroup.Group
	for i, m := range c.models {
		g.Go(func() error {
			verdicts[i] = c.ask(ctx, m, content)
			return nil
		})
	}
	_ = g.Wait()

	return Fold(verdicts, c.weights, c.thresholds, content)
}

func (c *Combiner) ask(ctx context.Context, m Model, content string) model.ModelVerdict {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	assess := func(ctx context.Context) (model.ModelVerdict, error) { return m.Assess(ctx, content) }

	var (
		v   model.ModelVerdict
		err error
	)
	if c.guard != nil {
		v, err = resilience.Call(callCtx, c.guard, "ensemble:"+m.Name(), assess)
	} else {
		v, err = assess(callCtx)
	}
	if err != nil {
		zap.L().Warn("ensemble: model failed",
			zap.String("model", m.Name()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return model.ModelVerdict{Model: m.Name(), Error: err.Error(), Latency: time.Since(start)}
	}
	v.Model = m.Name()
	if v.Latency == 0 {
		v.Latency = time.Since(start)
	}
	return v
}

// Fold combines verdicts into a consensus. Verdicts with Error set are
// failures. The verdict is a strict majority of responders (ties are not
// scams); confidence is the weighted mean over responders with weights
// renormalized to the responders, or equal weights when responders carry
// no weight at all.
func Fold(verdicts []model.ModelVerdict, weights map[string]float64, t policy.Thresholds, content string) model.Consensus {
	out := model.Consensus{Requested: len(verdicts), Verdicts: verdicts}
	if out.Verdicts == nil {
		out.Verdicts = []model.ModelVerdict{}
	}

	var responders []model.ModelVerdict
	for _, v := range verdicts {
		if v.Error == "" {
			responders = append(responders, v)
		}
	}
	out.Responded = len(responders)

	if len(responders) == 0 {
		sig := heuristic.ScanContent(content)
		out.IsScam = len(sig.Tactics) >= 2
		out.Confidence = FallbackConfidence
		out.Band = Band(out.IsScam, out.Confidence, t)
		out.Fallback = true
		out.Note = "no model responded; keyword heuristic used"
		return out
	}

	scamVotes := 0
	totalWeight := 0.0
	for _, v := range responders {
		if v.IsScam {
			scamVotes++
		}
		totalWeight += weights[v.Model]
	}
	out.IsScam = scamVotes*2 > len(responders)

	conf := 0.0
	minConf, maxConf := math.Inf(1), math.Inf(-1)
	for _, v := range responders {
		w := 1.0 / float64(len(responders))
		if totalWeight > 0 {
			w = weights[v.Model] / totalWeight
		}
		conf += w * v.Confidence
		minConf = math.Min(minConf, v.Confidence)
		maxConf = math.Max(maxConf, v.Confidence)
	}
	out.Confidence = roundTo(conf, 4)
	out.Band = Band(out.IsScam, out.Confidence, t)

	if scamVotes > 0 && scamVotes < len(responders) {
		out.Note = fmt.Sprintf("models disagree: %d of %d flagged a scam; confidence spread %.2f",
			scamVotes, len(responders), maxConf-minConf)
	} else if len(responders) > 1 && maxConf-minConf >= 0.4 {
		out.Note = fmt.Sprintf("models agree on verdict; confidence spread %.2f", maxConf-minConf)
	}
	return out
}

// Band maps a verdict and confidence to a consensus band. Rules apply in
// order, so a confident not-scam verdict bands as confirmed; callers that
// act on a band also check IsScam.
func Band(isScam bool, conf float64, t policy.Thresholds) model.Band {
	switch {
	case !isScam && conf < t.SafeBelow:
		return model.BandSafe
	case conf < t.SuspiciousBelow:
		return model.BandSuspicious
	case isScam && conf < t.LikelyBelow:
		return model.BandLikely
	default:
		return model.BandConfirmed
	}
}

// Score converts a consensus to a 0-100 risk score: scams land in 50-100
// and non-scams in 0-50, scaled by confidence.
func Score(c model.Consensus) int {
	if c.IsScam {
		return model.ClampScore(int(math.Round(50 + 50*c.Confidence)))
	}
	return model.ClampScore(int(math.Round(50 * (1 - c.Confidence))))
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
