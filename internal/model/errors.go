package model

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

var (
	// ErrQuotaExceeded matches any *QuotaExceededError via errors.Is.
	ErrQuotaExceeded = eris.New("quota exceeded")
	// ErrAnalyzerDegraded marks an analyzer that fell back to stale or
	// heuristic data. It is logged, never returned to callers.
	ErrAnalyzerDegraded = eris.New("analyzer degraded")
	// ErrAggregationFailed means no analyzer produced a vector. Retryable.
	ErrAggregationFailed = eris.New("aggregation failed: no analyzer succeeded")
	// ErrInvalidRequest is returned before dispatch; no quota is consumed.
	ErrInvalidRequest = eris.New("invalid request")
)

// QuotaExceededError is the user-visible denial from the rate limiter.
type QuotaExceededError struct {
	Tier       Tier
	Endpoint   string
	Limit      int
	ResetAt    time.Time
	RetryAfter string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s/%s (%d per window): try again in %s", e.Tier, e.Endpoint, e.Limit, e.RetryAfter)
}

// Is lets errors.Is(err, ErrQuotaExceeded) match.
func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}
