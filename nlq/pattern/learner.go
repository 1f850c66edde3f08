// Package pattern learns decomposition plans from answered queries and
// serves them back by embedding similarity, so recurring question
// shapes skip fresh decomposition.
package pattern

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/cardsense/nlq/decompose"
	"github.com/hrygo/cardsense/store"
)

// Embedder generates vector embeddings. Local interface to avoid a
// dependency on the pipeline package.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config tunes pattern matching and reinforcement.
type Config struct {
	// MatchThreshold is the minimum similarity for serving a pattern.
	MatchThreshold float64
	// MergeThreshold is the similarity above which a new query is
	// folded into an existing pattern as a variation instead of
	// creating a near-duplicate record.
	MergeThreshold float64
	// EMAAlpha is the exponential moving average weight for feedback.
	EMAAlpha float64
	// ConfidenceFloor is the lowest confidence feedback can push a
	// pattern to. Patterns are deprioritized, never deleted.
	ConfidenceFloor float64
	// InitialConfidence is assigned to newly learned patterns.
	InitialConfidence float64
	// TopK bounds the candidate set per lookup.
	TopK int
}

// DefaultConfig returns the default learner configuration.
func DefaultConfig() Config {
	return Config{
		MatchThreshold:    0.85,
		MergeThreshold:    0.95,
		EMAAlpha:          0.3,
		ConfidenceFloor:   0.05,
		InitialConfidence: 0.5,
		TopK:              5,
	}
}

// Learner stores and retrieves query patterns.
type Learner struct {
	store    *store.Store
	embedder Embedder
	cfg      Config
}

// NewLearner creates a pattern learner.
func NewLearner(s *store.Store, embedder Embedder, cfg Config) *Learner {
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = 0.85
	}
	if cfg.MergeThreshold <= 0 {
		cfg.MergeThreshold = 0.95
	}
	if cfg.EMAAlpha <= 0 || cfg.EMAAlpha > 1 {
		cfg.EMAAlpha = 0.3
	}
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = 0.05
	}
	if cfg.InitialConfidence <= 0 {
		cfg.InitialConfidence = 0.5
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Learner{store: s, embedder: embedder, cfg: cfg}
}

// FindMatch returns the best stored pattern for the text, or nil when
// nothing clears the match threshold. Candidates tie-break on usage
// count, then recency.
func (l *Learner) FindMatch(ctx context.Context, text string) (*decompose.PatternMatch, error) {
	vector, err := l.embedder.Embed(ctx, text)
	if err != nil {
		return nil, errors.Wrap(err, "failed to embed query")
	}

	candidates, err := l.store.SearchSimilarPatterns(ctx, &store.PatternVectorSearchOptions{
		Vector:        vector,
		Limit:         l.cfg.TopK,
		MinSimilarity: l.cfg.MatchThreshold,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to search patterns")
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if betterCandidate(c, best) {
			best = c
		}
	}

	plan := &decompose.StructuredQuery{}
	if err := json.Unmarshal([]byte(best.Pattern.DecomposedQuery), plan); err != nil {
		return nil, errors.Wrapf(err, "corrupt stored plan for pattern %d", best.Pattern.ID)
	}

	l.touch(ctx, best.Pattern)

	return &decompose.PatternMatch{
		RecordID:   best.Pattern.ID,
		Plan:       plan,
		Similarity: float32(best.Score),
		Confidence: float32(best.Pattern.Confidence),
	}, nil
}

// Learn records a freshly decomposed plan. A query close enough to an
// existing pattern is merged into it as a variation; otherwise a new
// pattern is created with the initial confidence.
func (l *Learner) Learn(ctx context.Context, text string, plan *decompose.StructuredQuery) error {
	vector, err := l.embedder.Embed(ctx, text)
	if err != nil {
		return errors.Wrap(err, "failed to embed query")
	}

	candidates, err := l.store.SearchSimilarPatterns(ctx, &store.PatternVectorSearchOptions{
		Vector:        vector,
		Limit:         1,
		MinSimilarity: l.cfg.MergeThreshold,
	})
	if err != nil {
		return errors.Wrap(err, "failed to search patterns")
	}

	now := time.Now().Unix()
	if len(candidates) > 0 {
		existing := candidates[0].Pattern
		variations := existing.Variations
		if text != existing.NaturalQuery && !containsVariation(variations, text) {
			if variations != "" {
				variations += "\n"
			}
			variations += text
		}
		_, err := l.store.UpsertPattern(ctx, &store.UpsertPattern{
			ID:              existing.ID,
			NaturalQuery:    existing.NaturalQuery,
			DecomposedQuery: existing.DecomposedQuery,
			Variations:      variations,
			UsageCount:      existing.UsageCount + 1,
			SuccessRate:     existing.SuccessRate,
			Confidence:      existing.Confidence,
			Embedding:       existing.Embedding,
			LastUsedTs:      now,
		})
		return errors.Wrapf(err, "failed to merge into pattern %d", existing.ID)
	}

	encoded, err := json.Marshal(plan)
	if err != nil {
		return errors.Wrap(err, "failed to encode plan")
	}
	_, err = l.store.UpsertPattern(ctx, &store.UpsertPattern{
		NaturalQuery:    text,
		DecomposedQuery: string(encoded),
		UsageCount:      1,
		Confidence:      l.cfg.InitialConfidence,
		Embedding:       vector,
		LastUsedTs:      now,
		CreatedTs:       now,
	})
	return errors.Wrap(err, "failed to create pattern")
}

// Reinforce nudges a pattern's confidence toward 1 on positive feedback
// and toward 0 on negative, using an exponential moving average with a
// floor. A repeatedly wrong pattern drops below the serving threshold
// but stays recoverable.
func (l *Learner) Reinforce(ctx context.Context, patternID int64, positive bool) error {
	existing, err := l.store.GetPattern(ctx, patternID)
	if err != nil {
		return errors.Wrapf(err, "failed to load pattern %d", patternID)
	}
	if existing == nil {
		return errors.Errorf("pattern %d not found", patternID)
	}

	target := 0.0
	outcome := 0.0
	if positive {
		target = 1.0
		outcome = 1.0
	}
	confidence := existing.Confidence + l.cfg.EMAAlpha*(target-existing.Confidence)
	if confidence < l.cfg.ConfidenceFloor {
		confidence = l.cfg.ConfidenceFloor
	}
	successRate := existing.SuccessRate + l.cfg.EMAAlpha*(outcome-existing.SuccessRate)

	_, err = l.store.UpsertPattern(ctx, &store.UpsertPattern{
		ID:              existing.ID,
		NaturalQuery:    existing.NaturalQuery,
		DecomposedQuery: existing.DecomposedQuery,
		Variations:      existing.Variations,
		UsageCount:      existing.UsageCount,
		SuccessRate:     successRate,
		Confidence:      confidence,
		Embedding:       existing.Embedding,
		LastUsedTs:      existing.LastUsedTs,
	})
	return errors.Wrapf(err, "failed to reinforce pattern %d", patternID)
}

// touch bumps usage accounting for a served pattern. Best effort: a
// failure here must not block the answer.
func (l *Learner) touch(ctx context.Context, p *store.PatternRecord) {
	_, err := l.store.UpsertPattern(ctx, &store.UpsertPattern{
		ID:              p.ID,
		NaturalQuery:    p.NaturalQuery,
		DecomposedQuery: p.DecomposedQuery,
		Variations:      p.Variations,
		UsageCount:      p.UsageCount + 1,
		SuccessRate:     p.SuccessRate,
		Confidence:      p.Confidence,
		Embedding:       p.Embedding,
		LastUsedTs:      time.Now().Unix(),
	})
	if err != nil {
		slog.Warn("failed to bump pattern usage", "pattern_id", p.ID, "error", err)
	}
}

// betterCandidate prefers higher similarity, then higher usage, then
// most recently used.
func betterCandidate(a, b *store.PatternWithScore) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Pattern.UsageCount != b.Pattern.UsageCount {
		return a.Pattern.UsageCount > b.Pattern.UsageCount
	}
	return a.Pattern.LastUsedTs > b.Pattern.LastUsedTs
}

func containsVariation(variations, text string) bool {
	for _, v := range strings.Split(variations, "\n") {
		if v == text {
			return true
		}
	}
	return false
}
