// Package api serves the risk check over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/riskcheck/internal/model"
	"github.com/sells-group/riskcheck/internal/policy"
	"github.com/sells-group/riskcheck/internal/ratelimit"
	"github.com/sells-group/riskcheck/internal/resilience"
	"github.com/sells-group/riskcheck/internal/service"
)

const maxBodyBytes = 64 * 1024

// Options configures the router.
type Options struct {
	// AllowedOrigins for CORS. Empty allows any origin.
	AllowedOrigins []string
	// Breakers, when set, are reported by /health.
	Breakers *resilience.Breakers
}

type router struct {
	svc      *service.Service
	breakers *resilience.Breakers
}

// NewRouter builds the HTTP handler.
func NewRouter(svc *service.Service, opts Options) http.Handler {
	rt := &router{svc: svc, breakers: opts.Breakers}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-User-ID", "Idempotency-Key"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))

	mux.Get("/health", rt.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Route("/v1", func(r chi.Router) {
		r.Post("/analyze", rt.handleAnalyze)
		r.Get("/usage", rt.handleUsage)
	})
	return mux
}

type errorBody struct {
	Error      string    `json:"error"`
	Message    string    `json:"message,omitempty"`
	ResetAt    time.Time `json:"reset_at,omitzero"`
	RetryAfter string    `json:"retry_after,omitempty"`
}

// POST /v1/analyze?endpoint=
func (rt *router) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req model.AnalysisRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "malformed JSON body"})
		return
	}
	if req.RequestID == "" {
		req.RequestID = r.Header.Get("Idempotency-Key")
	}

	out, err := rt.svc.Check(r.Context(), subjectKey(r), r.URL.Query().Get("endpoint"), req)
	if out != nil {
		setRateHeaders(w, out.Decision)
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, out.Result)
	case errors.Is(err, model.ErrQuotaExceeded):
		if secs := int(time.Until(out.Decision.ResetAt).Seconds()); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		writeJSON(w, http.StatusTooManyRequests, errorBody{
			Error:      "rate_limited",
			Message:    out.Decision.Reason,
			ResetAt:    out.Decision.ResetAt,
			RetryAfter: out.Decision.RetryAfter,
		})
	case errors.Is(err, model.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: err.Error()})
	case errors.Is(err, model.ErrAggregationFailed):
		w.Header().Set("Retry-After", "5")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "aggregation_failed", Message: "no signal source answered; retry shortly"})
	default:
		zap.L().Error("api: analyze failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal"})
	}
}

type usageBody struct {
	Subject   string    `json:"subject"`
	Tier      string    `json:"tier"`
	Endpoint  string    `json:"endpoint"`
	Hours     int       `json:"hours"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// GET /v1/usage?tier=&endpoint=&hours=
func (rt *router) handleUsage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tier := model.Tier(q.Get("tier"))
	if tier == "" {
		tier = model.TierFree
	}
	endpoint := q.Get("endpoint")
	if endpoint == "" {
		endpoint = policy.EndpointSingleCheck
	}
	hours := 24
	if h := q.Get("hours"); h != "" {
		n, err := strconv.Atoi(h)
		if err != nil || n <= 0 || n > 24*31 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "hours must be 1-744"})
			return
		}
		hours = n
	}

	subject := subjectKey(r)
	ctx := r.Context()
	st, err := rt.svc.Status(ctx, subject, endpoint, tier)
	if err == nil {
		var used int
		used, err = rt.svc.Usage(ctx, subject, endpoint, tier, time.Duration(hours)*time.Hour)
		if err == nil {
			writeJSON(w, http.StatusOK, usageBody{
				Subject:   subject,
				Tier:      string(tier),
				Endpoint:  endpoint,
				Hours:     hours,
				Used:      used,
				Limit:     st.Limit,
				Remaining: st.Remaining,
				ResetAt:   st.ResetAt,
			})
			return
		}
	}
	if errors.Is(err, model.ErrInvalidRequest) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: err.Error()})
		return
	}
	zap.L().Error("api: usage failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal"})
}

func (rt *router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if rt.breakers != nil {
		states := rt.breakers.States()
		open := map[string]string{}
		for name, s := range states {
			if s != resilience.StateClosed {
				open[name] = s.String()
			}
		}
		if len(open) > 0 {
			body["status"] = "degraded"
			body["breakers"] = open
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// subjectKey identifies the caller for quota purposes: the X-User-ID header,
// else the client IP.
func subjectKey(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-User-ID")); id != "" {
		return "user:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func setRateHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	if d.Limit == 0 && d.ResetAt.IsZero() {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}
