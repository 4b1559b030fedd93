// Package cache provides the TTL key/value cache shared by analyzers and the
// aggregator. Values are opaque JSON bytes; entries are replaced wholesale.
package cache

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultStaleFor is how long an expired entry stays readable through
// GetStale before Purge may drop it.
const DefaultStaleFor = 24 * time.Hour

// Cache is a TTL key/value store. Implementations must be safe for
// concurrent use.
type Cache interface {
	// Get returns the value for key if it exists and has not expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// GetStale returns the value for key even if it expired, as long as it
	// is still inside the stale grace period.
	GetStale(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	// Purge drops entries past their stale grace period and returns how
	// many were removed.
	Purge(ctx context.Context) (int, error)
	Close() error
}

// AnalyzerKey is the cache key for an analyzer result.
func AnalyzerKey(analyzer, fingerprint string) string {
	return "analyzer:" + analyzer + ":" + fingerprint
}

// AggregateKey is the cache key for a finished aggregate result. It is
// scoped to the caller and the request contents, so a request id only
// replays for the subject that submitted it and for the same request.
func AggregateKey(subject, requestID, fingerprint string) string {
	return "aggregate:" + subject + ":" + requestID + ":" + fingerprint
}

var lookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "riskcheck_cache_lookups_total",
	Help: "Cache lookups by backend and result",
}, []string{"backend", "result"})

func observe(backend string, hit, stale bool) {
	switch {
	case hit && stale:
		lookups.WithLabelValues(backend, "stale").Inc()
	case hit:
		lookups.WithLabelValues(backend, "hit").Inc()
	default:
		lookups.WithLabelValues(backend, "miss").Inc()
	}
}
