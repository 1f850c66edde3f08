package store

import (
	"context"

	"github.com/pkg/errors"
)

// PatternRecord is a learned query pattern: a natural-language query,
// the structured plan it decomposed into, and the embedding used for
// similarity lookup on future queries.
type PatternRecord struct {
	ID int64 `json:"id"`

	// NaturalQuery is the first phrasing that produced this pattern.
	NaturalQuery string `json:"natural_query"`
	// DecomposedQuery is the structured query plan, JSON-encoded.
	DecomposedQuery string `json:"decomposed_query"`
	// Variations holds later phrasings merged into this pattern,
	// newline-separated.
	Variations string `json:"variations"`

	UsageCount  int64   `json:"usage_count"`
	SuccessRate float64 `json:"success_rate"`
	Confidence  float64 `json:"confidence"`

	Embedding []float32 `json:"-"`

	LastUsedTs int64 `json:"last_used_ts"`
	CreatedTs  int64 `json:"created_ts"`
	Version    int   `json:"version"`
}

// UpsertPattern specifies data for creating or updating a pattern.
// A zero ID inserts a new record.
type UpsertPattern struct {
	ID              int64
	NaturalQuery    string
	DecomposedQuery string
	Variations      string
	UsageCount      int64
	SuccessRate     float64
	Confidence      float64
	Embedding       []float32
	LastUsedTs      int64
	CreatedTs       int64
}

// FindPattern specifies search criteria for patterns.
type FindPattern struct {
	ID *int64
	// MinConfidence filters out deprioritized patterns when set.
	MinConfidence *float64
	Limit         *int
}

// PatternWithScore pairs a pattern with its cosine similarity to a
// search vector.
type PatternWithScore struct {
	Pattern *PatternRecord
	Score   float64
}

// PatternVectorSearchOptions configures a similarity search.
type PatternVectorSearchOptions struct {
	Vector        []float32
	Limit         int
	MinSimilarity float64
}

// Validate checks search options and applies defaults.
func (o *PatternVectorSearchOptions) Validate() error {
	if len(o.Vector) == 0 {
		return errors.New("search vector is required")
	}
	if o.Limit <= 0 {
		o.Limit = 5
	}
	if o.Limit > 100 {
		return errors.Errorf("limit %d exceeds maximum 100", o.Limit)
	}
	if o.MinSimilarity < 0 || o.MinSimilarity > 1 {
		return errors.Errorf("min similarity %f out of range [0,1]", o.MinSimilarity)
	}
	return nil
}

// UpsertPattern creates or updates a pattern record.
func (s *Store) UpsertPattern(ctx context.Context, upsert *UpsertPattern) (*PatternRecord, error) {
	return s.driver.UpsertPattern(ctx, upsert)
}

// GetPattern returns the pattern with the given ID, or nil if absent.
func (s *Store) GetPattern(ctx context.Context, id int64) (*PatternRecord, error) {
	list, err := s.driver.ListPatterns(ctx, &FindPattern{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// ListPatterns returns patterns matching the given criteria.
func (s *Store) ListPatterns(ctx context.Context, find *FindPattern) ([]*PatternRecord, error) {
	return s.driver.ListPatterns(ctx, find)
}

// SearchSimilarPatterns returns patterns ranked by cosine similarity to
// the search vector.
func (s *Store) SearchSimilarPatterns(ctx context.Context, opts *PatternVectorSearchOptions) ([]*PatternWithScore, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid vector search options")
	}
	return s.driver.SearchSimilarPatterns(ctx, opts)
}
