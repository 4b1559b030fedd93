// Package ratelimit admits or denies requests against per-tier fixed-window
// quotas kept in a store.QuotaStore.
//
// Windows are aligned to the epoch, so a client can spend a full quota just
// before a boundary and another just after it. That burst is accepted.
package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/riskcheck/internal/model"
	"github.com/sells-group/riskcheck/internal/policy"
	"github.com/sells-group/riskcheck/internal/store"
)

// Denial reasons.
const (
	ReasonQuotaExceeded = "quota exceeded"
	ReasonNotAvailable  = "not available on tier"
)

var decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "riskcheck_ratelimit_decisions_total",
	Help: "Rate limit decisions by tier, endpoint and outcome",
}, []string{"tier", "endpoint", "outcome"})

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	// Reason and RetryAfter are set on denial.
	Reason     string `json:"reason,omitempty"`
	RetryAfter string `json:"retry_after,omitempty"`
	// Degraded means the store failed and the request was let through.
	Degraded bool `json:"degraded,omitempty"`
}

// Limiter checks quotas. It never blocks waiting for a window to reopen.
type Limiter struct {
	store   store.QuotaStore
	policy  *policy.Policy
	nowFunc func() time.Time
}

// New creates a Limiter.
func New(qs store.QuotaStore, p *policy.Policy) *Limiter {
	return &Limiter{store: qs, policy: p, nowFunc: time.Now}
}

// Key is the quota row key for a subject on an endpoint.
func Key(tier model.Tier, endpoint, subject string) string {
	return string(tier) + "|" + endpoint + "|" + subject
}

// WindowStart floors now to a multiple of window since the Unix epoch.
func WindowStart(now time.Time, window time.Duration) time.Time {
	ns := now.UnixNano()
	w := int64(window)
	return time.Unix(0, ns-ns%w).UTC()
}

// Admit consumes one unit of quota for subject. A denial returns the
// decision together with a *model.QuotaExceededError. An unknown tier or
// endpoint is model.ErrInvalidRequest.
func (l *Limiter) Admit(ctx context.Context, subject, endpoint string, tier model.Tier) (Decision, error) {
	q, ok := l.policy.QuotaFor(tier, endpoint)
	if !ok {
		return Decision{}, eris.Wrapf(model.ErrInvalidRequest, "no quota for tier %q endpoint %q", tier, endpoint)
	}
	if strings.TrimSpace(subject) == "" {
		return Decision{}, eris.Wrap(model.ErrInvalidRequest, "empty subject key")
	}

	now := l.nowFunc().UTC()
	start := WindowStart(now, q.Window)
	resetAt := start.Add(q.Window)
	d := Decision{Limit: q.Max, ResetAt: resetAt}

	if q.Max <= 0 {
		d.Reason = ReasonNotAvailable
		d.RetryAfter = waitString(now, resetAt)
		decisions.WithLabelValues(string(tier), endpoint, "unavailable").Inc()
		return d, l.denial(tier, endpoint, d)
	}

	allowed, count, err := l.store.GetAndIncrement(ctx, Key(tier, endpoint, subject), start, q.Max)
	if err != nil {
		zap.L().Warn("ratelimit: store failed, admitting request",
			zap.String("tier", string(tier)),
			zap.String("endpoint", endpoint),
			zap.Error(err),
		)
		decisions.WithLabelValues(string(tier), endpoint, "degraded").Inc()
		d.Allowed = true
		d.Degraded = true
		d.Remaining = q.Max
		return d, nil
	}

	d.Remaining = max(q.Max-count, 0)
	if !allowed {
		d.Reason = ReasonQuotaExceeded
		d.RetryAfter = waitString(now, resetAt)
		decisions.WithLabelValues(string(tier), endpoint, "denied").Inc()
		zap.L().Info("ratelimit: denied",
			zap.String("tier", string(tier)),
			zap.String("endpoint", endpoint),
			zap.Time("reset_at", resetAt),
		)
		return d, l.denial(tier, endpoint, d)
	}

	d.Allowed = true
	decisions.WithLabelValues(string(tier), endpoint, "allowed").Inc()
	return d, nil
}

func (l *Limiter) denial(tier model.Tier, endpoint string, d Decision) error {
	return &model.QuotaExceededError{
		Tier:       tier,
		Endpoint:   endpoint,
		Limit:      d.Limit,
		ResetAt:    d.ResetAt,
		RetryAfter: d.RetryAfter,
	}
}

// Usage is the admitted request count for subject over the windows starting
// in [from, to).
func (l *Limiter) Usage(ctx context.Context, subject, endpoint string, tier model.Tier, from, to time.Time) (int, error) {
	if _, ok := l.policy.QuotaFor(tier, endpoint); !ok {
		return 0, eris.Wrapf(model.ErrInvalidRequest, "no quota for tier %q endpoint %q", tier, endpoint)
	}
	n, err := l.store.GetUsage(ctx, Key(tier, endpoint, subject), from, to)
	if err != nil {
		return 0, eris.Wrap(err, "ratelimit: usage")
	}
	return n, nil
}

// Status reports the current window for subject without consuming quota.
func (l *Limiter) Status(ctx context.Context, subject, endpoint string, tier model.Tier) (Decision, error) {
	q, ok := l.policy.QuotaFor(tier, endpoint)
	if !ok {
		return Decision{}, eris.Wrapf(model.ErrInvalidRequest, "no quota for tier %q endpoint %q", tier, endpoint)
	}
	now := l.nowFunc().UTC()
	start := WindowStart(now, q.Window)
	used, err := l.store.GetUsage(ctx, Key(tier, endpoint, subject), start, start.Add(q.Window))
	if err != nil {
		return Decision{}, eris.Wrap(err, "ratelimit: status")
	}
	return Decision{
		Allowed:   used < q.Max,
		Limit:     q.Max,
		Remaining: max(q.Max-used, 0),
		ResetAt:   start.Add(q.Window),
	}, nil
}

// waitString renders the time until resetAt, e.g. "42 minutes".
func waitString(now, resetAt time.Time) string {
	return strings.TrimSpace(humanize.RelTime(now, resetAt, "", ""))
}
