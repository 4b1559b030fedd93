package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/riskcheck/internal/model"
	"github.com/sells-group/riskcheck/internal/policy"
	"github.com/sells-group/riskcheck/internal/ratelimit"
	"github.com/sells-group/riskcheck/internal/resilience"
	"github.com/sells-group/riskcheck/internal/service"
	"github.com/sells-group/riskcheck/internal/store"
)

type fakeAggregator struct {
	res *model.AggregateResult
	err error
}

func (f fakeAggregator) Analyze(_ context.Context, _ string, req model.AnalysisRequest) (*model.AggregateResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := *f.res
	out.RequestID = req.RequestID
	return &out, nil
}

func newTestRouter(agg service.Aggregator, opts Options) http.Handler {
	svc := service.New(ratelimit.New(store.NewMemory(), policy.Default()), agg)
	return NewRouter(svc, opts)
}

func okAggregator() fakeAggregator {
	return fakeAggregator{res: &model.AggregateResult{
		AnalysisID: "a-1",
		Score:      75,
		Level:      model.RiskDanger,
		Sources:    []string{"identity", "impersonation", "language", "ai"},
	}}
}

const body = `{"subject_identifiers":["@a","@b","@c","@d","@e"],"tier":"free","request_id":"r-1"}`

func post(h http.Handler, body, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAnalyze_OKThenRateLimited(t *testing.T) {
	h := newTestRouter(okAggregator(), Options{})

	for i := range 3 {
		rec := post(h, body, "u1")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, []string{"2", "1", "0"}[i], rec.Header().Get("X-RateLimit-Remaining"))

		var res model.AggregateResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, 75, res.Score)
		assert.Equal(t, "r-1", res.RequestID)
	}

	rec := post(h, body, "u1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	var eb errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eb))
	assert.Equal(t, "rate_limited", eb.Error)
	assert.Equal(t, ratelimit.WindowStart(time.Now(), time.Hour).Add(time.Hour), eb.ResetAt)
	assert.NotEmpty(t, eb.RetryAfter)

	// Another user has their own quota.
	assert.Equal(t, http.StatusOK, post(h, body, "u2").Code)
}

func TestAnalyze_BadRequests(t *testing.T) {
	h := newTestRouter(okAggregator(), Options{})

	assert.Equal(t, http.StatusBadRequest, post(h, "{", "u1").Code)
	assert.Equal(t, http.StatusBadRequest, post(h, `{"tier":"free","request_id":"x"}`, "u1").Code)
	assert.Equal(t, http.StatusBadRequest, post(h, `{"subject_identifiers":["a"],"tier":"gold","request_id":"x"}`, "u1").Code)
}

func TestAnalyze_IdempotencyKeyHeader(t *testing.T) {
	h := newTestRouter(okAggregator(), Options{})
	req := httptest.NewRequest(http.MethodPost, "/v1/analyze",
		strings.NewReader(`{"content":"free eth","tier":"pro"}`))
	req.Header.Set("Idempotency-Key", "idem-7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"request_id":"idem-7"`)
}

func TestAnalyze_AggregationFailed(t *testing.T) {
	h := newTestRouter(fakeAggregator{err: model.ErrAggregationFailed}, Options{})
	rec := post(h, body, "u1")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "aggregation_failed")
}

func TestUsage(t *testing.T) {
	h := newTestRouter(okAggregator(), Options{})
	post(h, body, "u1")
	post(h, body, "u1")

	req := httptest.NewRequest(http.MethodGet, "/v1/usage?tier=free&endpoint=single-check&hours=2", nil)
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var ub usageBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ub))
	assert.Equal(t, "user:u1", ub.Subject)
	assert.Equal(t, 2, ub.Used)
	assert.Equal(t, 3, ub.Limit)
	assert.Equal(t, 1, ub.Remaining)

	bad := httptest.NewRequest(http.MethodGet, "/v1/usage?hours=zero", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	unknown := httptest.NewRequest(http.MethodGet, "/v1/usage?endpoint=nope", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, unknown)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	breakers := resilience.NewBreakers(resilience.BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour, Probes: 1})
	h := newTestRouter(okAggregator(), Options{Breakers: breakers})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	b := breakers.For("price")
	_ = b.Do(context.Background(), func(context.Context) error { return assert.AnError })

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Contains(t, rec.Body.String(), `"degraded"`)
	assert.Contains(t, rec.Body.String(), `"price"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestSubjectKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:5555"
	assert.Equal(t, "ip:203.0.113.9", subjectKey(r))

	r.Header.Set("X-User-ID", " alice ")
	assert.Equal(t, "user:alice", subjectKey(r))
}
