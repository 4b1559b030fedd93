package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/riskcheck/internal/model"
)

type windowKey struct {
	key   string
	start int64
}

// MemoryStore implements Store in process memory. Counters are lost on
// restart, which is acceptable for single-instance deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[windowKey]*model.QuotaWindow
	reports map[string][]model.ScamReport
	nowFunc func() time.Time
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		windows: make(map[windowKey]*model.QuotaWindow),
		reports: make(map[string][]model.ScamReport),
		nowFunc: time.Now,
	}
}

func (s *MemoryStore) Migrate(_ context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) GetAndIncrement(ctx context.Context, key string, windowStart time.Time, max int) (bool, int, error) {
	if err := ctx.Err(); err != nil {
		return false, 0, eris.Wrap(err, "memory: get and increment")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	wk := windowKey{key: key, start: windowStart.Unix()}
	w, ok := s.windows[wk]
	if !ok {
		if max <= 0 {
			return false, 0, nil
		}
		w = &model.QuotaWindow{Key: key, WindowStart: windowStart.UTC()}
		s.windows[wk] = w
	}
	if w.Count >= max {
		return false, w.Count, nil
	}
	w.Count++
	w.UpdatedAt = s.nowFunc().UTC()
	return true, w.Count, nil
}

func (s *MemoryStore) GetUsage(_ context.Context, key string, from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for wk, w := range s.windows {
		if wk.key != key {
			continue
		}
		if wk.start >= from.Unix() && wk.start < to.Unix() {
			total += w.Count
		}
	}
	return total, nil
}

func (s *MemoryStore) PurgeWindows(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for wk := range s.windows {
		if wk.start < before.Unix() {
			delete(s.windows, wk)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) AddReport(_ context.Context, r model.ScamReport) (*model.ScamReport, error) {
	r.Identifier = NormalizeIdentifier(r.Identifier)
	if r.Identifier == "" {
		return nil, eris.New("memory: report identifier is required")
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.ReportedAt.IsZero() {
		r.ReportedAt = s.nowFunc().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[r.Identifier] = append(s.reports[r.Identifier], r)
	return &r, nil
}

func (s *MemoryStore) LookupReports(_ context.Context, identifiers []string) ([]model.ScamReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.ScamReport
	for _, id := range normalizeIdentifiers(identifiers) {
		out = append(out, s.reports[id]...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReportedAt.After(out[j].ReportedAt)
	})
	return out, nil
}
