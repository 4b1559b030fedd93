package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/riskcheck/internal/cache"
	"github.com/sells-group/riskcheck/internal/model"
	"github.com/sells-group/riskcheck/internal/policy"
	"github.com/sells-group/riskcheck/internal/resilience"
)

// MockSource implements Source for testing.
type MockSource struct {
	mock.Mock
	name string
}

func (m *MockSource) Name() string { return m.name }

func (m *MockSource) Lookup(ctx context.Context, req model.AnalysisRequest) (model.AnalyzerResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(model.AnalyzerResult), args.Error(1)
}

func (m *MockSource) Fallback(req model.AnalysisRequest) model.AnalyzerResult {
	args := m.Called(req)
	return args.Get(0).(model.AnalyzerResult)
}

func testRequest() model.AnalysisRequest {
	return model.AnalysisRequest{
		SubjectIdentifiers: []string{"@CryptoKing"},
		Content:            "send 1 eth get 2 back",
		Tier:               model.TierFree,
		RequestID:          "req-1",
	}
}

var ttlPolicy = policy.AnalyzerPolicy{Timeout: time.Second, CacheTTL: time.Hour}

func TestRunner_FreshThenCached(t *testing.T) {
	src := &MockSource{name: "price"}
	src.On("Lookup", mock.Anything, mock.Anything).
		Return(model.AnalyzerResult{Score: 72, Confidence: 0.8, Tags: []string{"b", "a"}}, nil).Once()

	c := cache.NewMemory(0)
	r := NewRunner(src, c, nil, ttlPolicy, 0.3)

	first, err := r.Analyze(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "price", first.Source)
	assert.Equal(t, 72, first.Score)
	assert.False(t, first.Cached)
	assert.Equal(t, []string{"a", "b"}, first.Tags)
	assert.Equal(t, 1, c.Len())

	second, err := r.Analyze(context.Background(), testRequest())
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, 72, second.Score)
	assert.InDelta(t, 0.8, second.Confidence, 1e-9)

	src.AssertExpectations(t)
}

func TestRunner_ZeroTTLSkipsWrite(t *testing.T) {
	src := &MockSource{name: "price"}
	src.On("Lookup", mock.Anything, mock.Anything).Return(model.AnalyzerResult{Score: 10, Confidence: 0.5}, nil)

	c := cache.NewMemory(0)
	r := NewRunner(src, c, nil, policy.AnalyzerPolicy{}, 0.3)
	_, err := r.Analyze(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestRunner_StaleAtHalfConfidence(t *testing.T) {
	req := testRequest()
	c := cache.NewMemory(0)
	data, err := json.Marshal(model.AnalyzerResult{Source: "price", Score: 64, Confidence: 0.8, Findings: []string{"old"}})
	require.NoError(t, err)
	// Already expired, still inside the stale window.
	require.NoError(t, c.Set(context.Background(), cache.AnalyzerKey("price", req.Fingerprint()), data, -time.Minute))

	src := &MockSource{name: "price"}
	src.On("Lookup", mock.Anything, mock.Anything).Return(model.AnalyzerResult{}, errors.New("upstream 503"))

	r := NewRunner(src, c, nil, ttlPolicy, 0.3)
	got, err := r.Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, got.Stale)
	assert.True(t, got.Cached)
	assert.True(t, got.Degraded)
	assert.Equal(t, 64, got.Score)
	assert.InDelta(t, 0.4, got.Confidence, 1e-9)
	assert.Contains(t, got.Error, "upstream 503")
	src.AssertNotCalled(t, "Fallback", mock.Anything)
}

func TestRunner_FallbackCapsConfidence(t *testing.T) {
	src := &MockSource{name: "asset"}
	src.On("Lookup", mock.Anything, mock.Anything).Return(model.AnalyzerResult{}, errors.New("boom"))
	src.On("Fallback", mock.Anything).Return(model.AnalyzerResult{Score: 55, Confidence: 0.9})

	r := NewRunner(src, cache.NewMemory(0), nil, ttlPolicy, 0.3)
	got, err := r.Analyze(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "asset", got.Source)
	assert.Equal(t, 55, got.Score)
	assert.InDelta(t, 0.3, got.Confidence, 1e-9)
	assert.True(t, got.Degraded)
	assert.False(t, got.Stale)
	assert.Contains(t, got.Tags, "fallback")
	assert.Equal(t, "boom", got.Error)
}

func TestRunner_FallbackWithoutCache(t *testing.T) {
	src := &MockSource{name: "asset"}
	src.On("Lookup", mock.Anything, mock.Anything).Return(model.AnalyzerResult{}, errors.New("boom"))
	src.On("Fallback", mock.Anything).Return(model.AnalyzerResult{Score: 20, Confidence: 0.1})

	r := NewRunner(src, nil, nil, ttlPolicy, 0)
	got, err := r.Analyze(context.Background(), testRequest())
	require.NoError(t, err)
	assert.InDelta(t, 0.1, got.Confidence, 1e-9)
}

func TestRunner_ExpiredContextIsAnError(t *testing.T) {
	src := &MockSource{name: "price"}
	src.On("Lookup", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(model.AnalyzerResult{}, context.DeadlineExceeded)

	r := NewRunner(src, cache.NewMemory(0), nil, ttlPolicy, 0.3)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Analyze(ctx, testRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	src.AssertNotCalled(t, "Fallback", mock.Anything)
}

type countingSource struct {
	calls atomic.Int32
	err   error
}

func (s *countingSource) Name() string { return "language" }

func (s *countingSource) Lookup(context.Context, model.AnalysisRequest) (model.AnalyzerResult, error) {
	s.calls.Add(1)
	return model.AnalyzerResult{Score: 30, Confidence: 0.5}, s.err
}

func (s *countingSource) Fallback(model.AnalysisRequest) model.AnalyzerResult {
	return model.AnalyzerResult{Score: 1, Confidence: 0.1}
}

func TestRunner_GuardRetriesTransient(t *testing.T) {
	src := &countingSource{err: resilience.Transient(errors.New("overloaded"), 503)}
	g := resilience.NewGuard(resilience.Config{
		Breaker: resilience.BreakerConfig{FailureThreshold: 10, Cooldown: time.Minute, Probes: 1},
		Retry:   resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1},
	})

	r := NewRunner(src, nil, g, ttlPolicy, 0.3)
	got, err := r.Analyze(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(3), src.calls.Load())
	assert.True(t, got.Degraded)
	assert.Equal(t, 1, got.Score)
}

func TestRunner_Throttle(t *testing.T) {
	src := &countingSource{}
	ap := policy.AnalyzerPolicy{RatePerSecond: 0.001, Burst: 1}
	r := NewRunner(src, nil, nil, ap, 0.3)

	_, err := r.Analyze(context.Background(), testRequest())
	require.NoError(t, err)

	// The bucket is empty and the next token lands after the deadline, so
	// the call degrades without reaching the source.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	got, err := r.Analyze(ctx, testRequest())
	require.NoError(t, err)
	assert.True(t, got.Degraded)
	assert.Contains(t, got.Error, "throttle")
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestRunner_AppliesToDelegates(t *testing.T) {
	r := NewRunner(NewPrice(nil), nil, nil, ttlPolicy, 0.3)
	assert.False(t, r.AppliesTo(testRequest()))

	req := testRequest()
	req.AssetSymbol = "pepe"
	assert.True(t, r.AppliesTo(req))

	assert.True(t, AppliesTo(NewRunner(&countingSource{}, nil, nil, ttlPolicy, 0.3), req))
}
