// Package memory implements an in-memory store driver for development
// and tests. Similarity search is a brute-force cosine scan.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/hrygo/cardsense/store"
)

// DB is an in-memory store driver.
type DB struct {
	mu sync.RWMutex

	patterns      map[int64]*store.PatternRecord
	nextPatternID int64

	events      []*store.QueryEvent
	nextEventID int64
}

// NewDB creates an empty in-memory driver.
func NewDB() *DB {
	return &DB{
		patterns:      map[int64]*store.PatternRecord{},
		nextPatternID: 1,
		nextEventID:   1,
	}
}

// Migrate is a no-op for the in-memory driver.
func (d *DB) Migrate(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory driver.
func (d *DB) Close() error {
	return nil
}

func (d *DB) UpsertPattern(ctx context.Context, upsert *store.UpsertPattern) (*store.PatternRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pattern := &store.PatternRecord{
		NaturalQuery:    upsert.NaturalQuery,
		DecomposedQuery: upsert.DecomposedQuery,
		Variations:      upsert.Variations,
		UsageCount:      upsert.UsageCount,
		SuccessRate:     upsert.SuccessRate,
		Confidence:      upsert.Confidence,
		Embedding:       append([]float32(nil), upsert.Embedding...),
		LastUsedTs:      upsert.LastUsedTs,
		CreatedTs:       upsert.CreatedTs,
		Version:         1,
	}
	if upsert.ID > 0 {
		existing, ok := d.patterns[upsert.ID]
		if !ok {
			return nil, &NotFoundError{ID: upsert.ID}
		}
		pattern.ID = upsert.ID
		pattern.CreatedTs = existing.CreatedTs
		pattern.Version = existing.Version + 1
	} else {
		pattern.ID = d.nextPatternID
		d.nextPatternID++
	}
	d.patterns[pattern.ID] = pattern
	return clonePattern(pattern), nil
}

func (d *DB) ListPatterns(ctx context.Context, find *store.FindPattern) ([]*store.PatternRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := []*store.PatternRecord{}
	for _, pattern := range d.patterns {
		if find.ID != nil && pattern.ID != *find.ID {
			continue
		}
		if find.MinConfidence != nil && pattern.Confidence < *find.MinConfidence {
			continue
		}
		list = append(list, clonePattern(pattern))
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].UsageCount != list[j].UsageCount {
			return list[i].UsageCount > list[j].UsageCount
		}
		return list[i].LastUsedTs > list[j].LastUsedTs
	})
	if find.Limit != nil && len(list) > *find.Limit {
		list = list[:*find.Limit]
	}
	return list, nil
}

func (d *DB) SearchSimilarPatterns(ctx context.Context, opts *store.PatternVectorSearchOptions) ([]*store.PatternWithScore, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := []*store.PatternWithScore{}
	for _, pattern := range d.patterns {
		if len(pattern.Embedding) == 0 {
			continue
		}
		score := cosineSimilarity(opts.Vector, pattern.Embedding)
		if score < opts.MinSimilarity {
			continue
		}
		list = append(list, &store.PatternWithScore{
			Pattern: clonePattern(pattern),
			Score:   score,
		})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Score > list[j].Score
	})
	if len(list) > opts.Limit {
		list = list[:opts.Limit]
	}
	return list, nil
}

func (d *DB) CreateQueryEvent(ctx context.Context, create *store.CreateQueryEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.events = append(d.events, &store.QueryEvent{
		ID:             d.nextEventID,
		QueryID:        create.QueryID,
		SessionID:      create.SessionID,
		Input:          create.Input,
		ResolutionPath: create.ResolutionPath,
		Success:        create.Success,
		ResultSize:     create.ResultSize,
		LatencyMs:      create.LatencyMs,
		Timestamp:      create.Timestamp,
	})
	d.nextEventID++
	return nil
}

func (d *DB) GetQueryStats(ctx context.Context, get *store.GetQueryStats) (*store.QueryStats, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var since int64
	if get.TimeRange > 0 {
		since = time.Now().Add(-get.TimeRange).Unix()
	}

	stats := &store.QueryStats{ByPath: map[string]int64{}}
	for _, event := range d.events {
		if get.SessionID != "" && event.SessionID != get.SessionID {
			continue
		}
		if event.Timestamp < since {
			continue
		}
		stats.TotalQueries++
		if event.Success {
			stats.SuccessCount++
		} else {
			stats.FailureCount++
		}
		stats.ByPath[event.ResolutionPath]++
	}
	if stats.TotalQueries > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalQueries)
	}
	stats.LastUpdated = time.Now().Unix()
	return stats, nil
}

// NotFoundError reports an upsert against a missing pattern ID.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return "pattern not found"
}

func clonePattern(p *store.PatternRecord) *store.PatternRecord {
	clone := *p
	clone.Embedding = append([]float32(nil), p.Embedding...)
	return &clone
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
