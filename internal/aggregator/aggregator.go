// Package aggregator fans one request out to every applicable analyzer,
// collects whatever returns in time and merges the vectors into a single
// verdict.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/riskcheck/internal/analyzer"
	"github.com/sells-group/riskcheck/internal/cache"
	"github.com/sells-group/riskcheck/internal/model"
	"github.com/sells-group/riskcheck/internal/policy"
)

// State is a step of one aggregation.
type State string

const (
	StateCreated     State = "created"
	StateDispatching State = "dispatching"
	StateCollecting  State = "collecting"
	StateMerging     State = "merging"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

var (
	results = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskcheck_aggregate_results_total",
		Help: "Aggregations by outcome (safe, warning, danger, failed, replayed)",
	}, []string{"outcome"})

	duration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "riskcheck_aggregate_duration_seconds",
		Help:    "Time from dispatch to merged result",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)

// Aggregator runs analyzers for a request and merges their results. It is
// safe for concurrent use.
type Aggregator struct {
	analyzers []analyzer.Analyzer
	cache     cache.Cache
	policy    *policy.Policy
	group     singleflight.Group
	nowFunc   func() time.Time
}

// New creates an Aggregator. Analyzers are dispatched, and their vectors
// reported, in the order given. c may be nil, which disables idempotent
// replay.
func New(analyzers []analyzer.Analyzer, c cache.Cache, p *policy.Policy) *Aggregator {
	return &Aggregator{
		analyzers: analyzers,
		cache:     c,
		policy:    p,
		nowFunc:   time.Now,
	}
}

// Analyzers returns the analyzer names in dispatch order.
func (a *Aggregator) Analyzers() []string {
	names := make([]string, len(a.analyzers))
	for i, an := range a.analyzers {
		names[i] = an.Name()
	}
	return names
}

// Analyze returns the merged verdict for req on behalf of subject. The
// same subject resending a request id with the same contents within the
// result TTL gets the stored result without dispatching; concurrent calls
// with the same key share one run. The shared run is detached from any one
// caller's cancellation and bounded by the request timeout; each caller
// still stops waiting when its own ctx ends.
func (a *Aggregator) Analyze(ctx context.Context, subject string, req model.AnalysisRequest) (*model.AggregateResult, error) {
	key := cache.AggregateKey(subject, req.RequestID, req.Fingerprint())
	if data, ok := a.replay(ctx, key); ok {
		results.WithLabelValues("replayed").Inc()
		return decode(data)
	}

	shared := context.WithoutCancel(ctx)
	ch := a.group.DoChan(key, func() (any, error) {
		// A concurrent leader may have finished between the check and here.
		if data, ok := a.replay(shared, key); ok {
			return data, nil
		}
		res, err := a.run(shared, req)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(res)
		if err != nil {
			return nil, eris.Wrap(err, "aggregator: encode result")
		}
		a.remember(shared, key, data)
		return data, nil
	})

	select {
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "aggregator: analyze")
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return decode(r.Val.([]byte))
	}
}

func (a *Aggregator) replay(ctx context.Context, key string) ([]byte, bool) {
	if a.cache == nil {
		return nil, false
	}
	data, ok, err := a.cache.Get(ctx, key)
	if err != nil {
		zap.L().Warn("aggregator: result cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return data, ok
}

func (a *Aggregator) remember(ctx context.Context, key string, data []byte) {
	if a.cache == nil || a.policy.Aggregator.ResultTTL <= 0 {
		return
	}
	if err := a.cache.Set(ctx, key, data, a.policy.Aggregator.ResultTTL); err != nil {
		zap.L().Warn("aggregator: result cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func decode(data []byte) (*model.AggregateResult, error) {
	var res model.AggregateResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, eris.Wrap(err, "aggregator: decode result")
	}
	return &res, nil
}

type slot struct {
	name    string
	result  model.AnalyzerResult
	err     error
	settled bool
}

func (a *Aggregator) run(ctx context.Context, req model.AnalysisRequest) (*model.AggregateResult, error) {
	analysisID := uuid.New().String()
	log := zap.L().With(zap.String("request_id", req.RequestID), zap.String("analysis_id", analysisID))

	state := StateCreated
	transition := func(next State, fields ...zap.Field) {
		log.Debug("aggregator: state change",
			append([]zap.Field{zap.String("from", string(state)), zap.String("to", string(next))}, fields...)...)
		state = next
	}

	start := a.nowFunc()
	defer func() { duration.Observe(time.Since(start).Seconds()) }()

	timeout := a.policy.Aggregator.RequestTimeout
	if req.Urgency == model.UrgencyHigh {
		timeout = a.policy.Aggregator.UrgentTimeout
	}
	gctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	transition(StateDispatching)
	var active []analyzer.Analyzer
	for _, an := range a.analyzers {
		if analyzer.AppliesTo(an, req) {
			active = append(active, an)
		}
	}

	var mu sync.Mutex
	slots := make([]slot, len(active))
	for i, an := range active {
		slots[i].name = an.Name()
	}

	var g errgroup.Group
	for i, an := range active {
		g.Go(func() error {
			actx, acancel := context.WithTimeout(gctx, a.policy.Analyzer(an.Name()).Timeout)
			defer acancel()

			res, err := an.Analyze(actx, req)
			if err == nil {
				res.Source = an.Name()
			}

			mu.Lock()
			defer mu.Unlock()
			if slots[i].settled {
				return nil
			}
			slots[i].result, slots[i].err, slots[i].settled = res, err, true
			return nil
		})
	}

	transition(StateCollecting, zap.Int("analyzers", len(active)), zap.Duration("timeout", timeout))
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-gctx.Done():
		log.Warn("aggregator: deadline reached with analyzers pending", zap.Error(gctx.Err()))
	}

	// Freeze the slots; analyzers still running are failures.
	mu.Lock()
	for i := range slots {
		if !slots[i].settled {
			slots[i].err = eris.Wrap(gctx.Err(), "aggregator: no result before deadline")
			slots[i].settled = true
		}
	}
	frozen := append([]slot(nil), slots...)
	mu.Unlock()

	transition(StateMerging)
	res, err := merge(frozen, a.policy.Thresholds)
	if err != nil {
		transition(StateFailed, zap.Int("failures", len(frozen)))
		results.WithLabelValues("failed").Inc()
		return nil, err
	}
	res.AnalysisID = analysisID
	res.RequestID = req.RequestID
	res.Timestamp = a.nowFunc().UTC()

	transition(StateDone,
		zap.Int("score", res.Score),
		zap.String("level", string(res.Level)),
		zap.Int("vectors", len(res.Vectors)),
		zap.Int("failures", len(res.Failures)),
	)
	results.WithLabelValues(string(res.Level)).Inc()
	return res, nil
}

// merge folds settled analyzer slots into an aggregate. The score is the
// rounded mean of successful vector scores, raised to the consensus floor
// when the AI consensus is confirmed.
func merge(slots []slot, t policy.Thresholds) (*model.AggregateResult, error) {
	out := &model.AggregateResult{
		Vectors: []model.AnalyzerResult{},
		Sources: []string{},
	}

	sum, conf := 0, 0.0
	for _, s := range slots {
		if s.err != nil {
			out.Failures = append(out.Failures, model.SourceFailure{Source: s.name, Error: s.err.Error()})
			out.Caveats = append(out.Caveats, fmt.Sprintf("%s: no result", s.name))
			continue
		}
		v := s.result
		out.Vectors = append(out.Vectors, v)
		out.Sources = append(out.Sources, s.name)
		sum += model.ClampScore(v.Score)
		conf += v.Confidence

		switch {
		case v.Stale:
			out.Degraded = true
			out.Caveats = append(out.Caveats, fmt.Sprintf("%s: stale data", s.name))
		case v.Degraded:
			out.Degraded = true
			out.Caveats = append(out.Caveats, fmt.Sprintf("%s: heuristic fallback", s.name))
		}
		if v.Consensus != nil && v.Consensus.Note != "" {
			out.Caveats = append(out.Caveats, fmt.Sprintf("%s: %s", s.name, v.Consensus.Note))
		}
	}

	n := len(out.Vectors)
	if n == 0 {
		return nil, eris.Wrapf(model.ErrAggregationFailed, "%d analyzer(s) failed", len(slots))
	}

	out.Score = model.ClampScore(int(math.Round(float64(sum) / float64(n))))
	out.Confidence = math.Round(conf/float64(n)*10000) / 10000

	for _, v := range out.Vectors {
		c := v.Consensus
		if c == nil || !c.IsScam || c.Band != model.BandConfirmed || out.Score >= t.ConsensusFloor {
			continue
		}
		out.Override = fmt.Sprintf("ai consensus confirmed at %.2f confidence; score raised from %d to %d",
			c.Confidence, out.Score, t.ConsensusFloor)
		out.Score = t.ConsensusFloor
		break
	}

	out.Level = t.Levels.Level(out.Score)
	return out, nil
}
