package store

import (
	"context"
	"strings"
	"time"

	"github.com/sells-group/riskcheck/internal/model"
)

// QuotaStore keeps fixed-window request counters.
type QuotaStore interface {
	// GetAndIncrement atomically increments the counter for (key,
	// windowStart) when it is below max. It returns whether the increment
	// happened and the counter value afterwards. A denied call leaves the
	// counter untouched.
	GetAndIncrement(ctx context.Context, key string, windowStart time.Time, max int) (allowed bool, count int, err error)
	// GetUsage sums counters for key over windows starting in [from, to).
	GetUsage(ctx context.Context, key string, from, to time.Time) (int, error)
	// PurgeWindows deletes windows that started before the cutoff.
	PurgeWindows(ctx context.Context, before time.Time) (int, error)
}

// ReportStore is the scammer-report directory consulted by the identity
// analyzer.
type ReportStore interface {
	AddReport(ctx context.Context, r model.ScamReport) (*model.ScamReport, error)
	LookupReports(ctx context.Context, identifiers []string) ([]model.ScamReport, error)
}

// Store is the persistence surface of the risk core.
type Store interface {
	QuotaStore
	ReportStore

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// NormalizeIdentifier is the canonical form identifiers are stored and
// looked up in.
func NormalizeIdentifier(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func normalizeIdentifiers(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		n := NormalizeIdentifier(id)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
