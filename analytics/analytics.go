// Package analytics records per-item evaluation outcomes and answers aggregate queries.
package analytics

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ItemRecord is a single evaluated (profile, trial) item of a batch run.
type ItemRecord struct {
	RunID      string    `json:"run_id"`
	ProfileID  string    `json:"profile_id"`
	Trial      int       `json:"trial"`
	Rating     float64   `json:"rating"`
	Success    bool      `json:"success"`
	Degenerate bool      `json:"degenerate,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	LatencyMs  int64     `json:"latency_ms"`
	At         time.Time `json:"at"`
}

// Store is the interface for recording and querying evaluation items.
type Store interface {
	Record(ctx context.Context, r ItemRecord) error
	Query(ctx context.Context, q Query) ([]Aggregate, error)
}

// Query filters and groups items for aggregation.
type Query struct {
	RunID     string
	ProfileID string
	From      time.Time
	To        time.Time
	GroupBy   string // "run", "profile", "day", "hour"; anything else aggregates everything under "all"
	Limit     int
}

// DefaultLimit caps the number of aggregates when Query.Limit is unset.
const DefaultLimit = 100

// Aggregate is a bucketed aggregate (e.g. per profile or per day).
// MeanRating covers successful items only.
type Aggregate struct {
	Key          string  `json:"key"`
	Items        int64   `json:"items"`
	SuccessCount int64   `json:"success_count"`
	MeanRating   float64 `json:"mean_rating"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}

func (q Query) match(r ItemRecord) bool {
	if q.RunID != "" && r.RunID != q.RunID {
		return false
	}
	if q.ProfileID != "" && r.ProfileID != q.ProfileID {
		return false
	}
	if !q.From.IsZero() && r.At.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && r.At.After(q.To) {
		return false
	}
	return true
}

func (q Query) key(r ItemRecord) string {
	switch q.GroupBy {
	case "run":
		return r.RunID
	case "profile":
		return r.ProfileID
	case "day":
		return r.At.UTC().Format("2006-01-02")
	case "hour":
		return r.At.UTC().Format("2006-01-02-15")
	default:
		return "all"
	}
}

// aggregate groups records matching q. Buckets are ordered by item count, then key.
func aggregate(records []ItemRecord, q Query) []Aggregate {
	agg := make(map[string]*Aggregate)
	for _, r := range records {
		if !q.match(r) {
			continue
		}
		k := q.key(r)
		a := agg[k]
		if a == nil {
			a = &Aggregate{Key: k}
			agg[k] = a
		}
		a.Items++
		a.AvgLatencyMs = (a.AvgLatencyMs*float64(a.Items-1) + float64(r.LatencyMs)) / float64(a.Items)
		if r.Success {
			a.SuccessCount++
			a.MeanRating = (a.MeanRating*float64(a.SuccessCount-1) + r.Rating) / float64(a.SuccessCount)
		}
	}
	out := make([]Aggregate, 0, len(agg))
	for _, a := range agg {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Items != out[j].Items {
			return out[i].Items > out[j].Items
		}
		return out[i].Key < out[j].Key
	})
	if limit := q.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out
}

// MemoryStore is an in-memory implementation (bounded slice, no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	max     int
	records []ItemRecord
}

// NewMemoryStore creates an in-memory store that keeps at most max records (0 = unbounded).
func NewMemoryStore(max int) *MemoryStore {
	return &MemoryStore{max: max, records: make([]ItemRecord, 0, 256)}
}

// Record implements Store.
func (m *MemoryStore) Record(ctx context.Context, r ItemRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	if m.max > 0 && len(m.records) > m.max {
		m.records = m.records[len(m.records)-m.max:]
	}
	return nil
}

// Query implements Store.
func (m *MemoryStore) Query(ctx context.Context, q Query) ([]Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return aggregate(m.records, q), nil
}
