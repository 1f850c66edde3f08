package decompose

import (
	"context"
	"log/slog"

	"github.com/hrygo/cardsense/card"
	"github.com/hrygo/cardsense/nlq/extract"
)

// ResolutionPath records which mechanism produced a plan.
type ResolutionPath string

const (
	ResolutionPattern  ResolutionPath = "pattern_cache"
	ResolutionFresh    ResolutionPath = "fresh_decompose"
	ResolutionFallback ResolutionPath = "llm_fallback"
)

// Precedence resolves mixed and/or connectors within one utterance.
type Precedence string

const (
	// PrecedenceAndOverOr gives OR lower precedence than AND, matching
	// common natural-language expectation: "a and b or c" reads as
	// "(a and b) or c", so the top-level connector is OR.
	PrecedenceAndOverOr Precedence = "and_over_or"
	PrecedenceOrOverAnd Precedence = "or_over_and"
)

// PatternMatch is a previously learned plan retrieved by similarity.
type PatternMatch struct {
	RecordID   int64
	Plan       *StructuredQuery
	Similarity float32
	Confidence float32
}

// PatternSource is the optional fast path consulted before fresh
// decomposition. Defined locally so the pattern package can depend on
// this one without a cycle.
type PatternSource interface {
	FindMatch(ctx context.Context, text string) (*PatternMatch, error)
}

// Config tunes the decomposer.
type Config struct {
	// MinSimilarity and MinConfidence gate the pattern fast path.
	MinSimilarity float32
	MinConfidence float32
	Precedence    Precedence
}

// DefaultConfig returns the default decomposer configuration.
func DefaultConfig() Config {
	return Config{
		MinSimilarity: 0.85,
		MinConfidence: 0.8,
		Precedence:    PrecedenceAndOverOr,
	}
}

// Input carries one turn's decomposition inputs. Carried holds the
// prior turn's filter predicates from the conversation context.
type Input struct {
	Text     string
	Entities *extract.EntityBag
	Intent   string
	Carried  []Predicate
}

// Decomposition is a plan plus its resolution provenance.
type Decomposition struct {
	Query      *StructuredQuery
	Path       ResolutionPath
	PatternID  int64
	Similarity float32
}

// Decomposer maps (text, entities, intent, context) to a structured
// query.
type Decomposer struct {
	cfg      Config
	patterns PatternSource
}

// NewDecomposer creates a decomposer. patterns may be nil to disable
// the fast path.
func NewDecomposer(cfg Config, patterns PatternSource) *Decomposer {
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = 0.85
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.8
	}
	if cfg.Precedence == "" {
		cfg.Precedence = PrecedenceAndOverOr
	}
	return &Decomposer{cfg: cfg, patterns: patterns}
}

// Decompose builds the canonical plan for one utterance. A pattern
// store or embedding failure degrades to fresh decomposition; it is
// never surfaced to the caller.
func (d *Decomposer) Decompose(ctx context.Context, in Input) (*Decomposition, error) {
	if in.Entities == nil {
		in.Entities = &extract.EntityBag{}
	}

	if d.patterns != nil {
		match, err := d.patterns.FindMatch(ctx, in.Text)
		if err != nil {
			slog.Warn("pattern lookup failed, falling back to fresh decomposition", "error", err)
		} else if match != nil && match.Similarity >= d.cfg.MinSimilarity && match.Confidence >= d.cfg.MinConfidence {
			plan := d.rebind(match.Plan, in.Entities)
			if err := plan.Validate(); err == nil {
				return &Decomposition{
					Query:      plan,
					Path:       ResolutionPattern,
					PatternID:  match.RecordID,
					Similarity: match.Similarity,
				}, nil
			}
		}
	}

	query, err := d.classify(in)
	if err != nil {
		return nil, err
	}
	if err := query.Validate(); err != nil {
		return nil, err
	}
	return &Decomposition{Query: query, Path: ResolutionFresh}, nil
}

func (d *Decomposer) classify(in Input) (*StructuredQuery, error) {
	bag := in.Entities

	if len(bag.UnresolvedTokens) > 0 {
		return nil, &UnresolvedFieldError{Token: bag.UnresolvedTokens[0]}
	}
	if len(bag.Verbs) > 1 {
		return nil, &AmbiguousQueryError{Reason: "multiple aggregation verbs in one utterance"}
	}

	if bag.Distinct != nil {
		return &StructuredQuery{
			Kind:         KindDistinct,
			Distinct:     &DistinctSpec{Field: bag.Distinct.Field, IncludeCount: bag.Distinct.IncludeCount},
			SourceIntent: in.Intent,
			OutputFormat: FormatList,
		}, nil
	}

	if len(bag.Verbs) == 1 {
		if bag.AggField == "" {
			return nil, ErrFallbackRequired
		}
		if bag.GroupBy != "" {
			return &StructuredQuery{
				Kind: KindGroupedAggregate,
				Grouped: &GroupedSpec{
					Verb:       bag.Verbs[0],
					Field:      bag.AggField,
					GroupField: bag.GroupBy,
				},
				SourceIntent: in.Intent,
				OutputFormat: FormatTable,
			}, nil
		}
		return &StructuredQuery{
			Kind:         KindAggregate,
			Aggregate:    &AggregateSpec{Verb: bag.Verbs[0], Field: bag.AggField},
			SourceIntent: in.Intent,
			OutputFormat: FormatSummary,
		}, nil
	}

	predicates := mergeCarried(in.Carried, conditionsToPredicates(bag.Conditions))

	if len(predicates) == 0 {
		if bag.Empty() && len(in.Carried) == 0 {
			return nil, ErrFallbackRequired
		}
		// Entities were recognized but none formed a predicate: a
		// "show all" filter, not an error.
	}

	format := FormatList
	if len(predicates) >= 2 {
		format = FormatTable
	}

	query := &StructuredQuery{
		Kind: KindFilter,
		Filter: &FilterSpec{
			Predicates: predicates,
			Connector:  d.inferConnector(bag),
		},
		SourceIntent: in.Intent,
		OutputFormat: format,
	}
	if bag.Sort != nil {
		query.Filter.Sort = &SortSpec{Field: bag.Sort.Field, Desc: bag.Sort.Desc}
	}
	if bag.Limit != nil {
		query.Filter.Limit = bag.Limit.N
	}
	return query, nil
}

// inferConnector defaults to AND when two filters are given without an
// explicit connector. Mixed and/or is resolved by precedence: the
// looser-binding connector becomes the top level.
func (d *Decomposer) inferConnector(bag *extract.EntityBag) Connector {
	hasAnd, hasOr := bag.HasAnd(), bag.HasOr()
	switch {
	case hasAnd && hasOr:
		if d.cfg.Precedence == PrecedenceOrOverAnd {
			return ConnectorAnd
		}
		return ConnectorOr
	case hasOr:
		return ConnectorOr
	default:
		return ConnectorAnd
	}
}

// mergeCarried retains prior-turn predicates unless the current turn
// binds the same field; the current turn wins on collision.
func mergeCarried(carried, current []Predicate) []Predicate {
	if len(carried) == 0 {
		return current
	}
	bound := make(map[card.Field]bool, len(current))
	for _, p := range current {
		bound[p.Field] = true
	}
	merged := make([]Predicate, 0, len(carried)+len(current))
	for _, p := range carried {
		if !bound[p.Field] {
			merged = append(merged, p)
		}
	}
	return append(merged, current...)
}

func conditionsToPredicates(conditions []extract.Condition) []Predicate {
	out := make([]Predicate, 0, len(conditions))
	for _, c := range conditions {
		out = append(out, Predicate{Field: c.Field, Op: c.Op, Value: c.Value, High: c.High})
	}
	return out
}

// rebind adapts a cached plan's bindings to the current entities so a
// recurring question shape with different literals reuses the plan.
func (d *Decomposer) rebind(plan *StructuredQuery, bag *extract.EntityBag) *StructuredQuery {
	out := plan.Clone()

	switch out.Kind {
	case KindDistinct:
		if bag.Distinct != nil {
			out.Distinct.Field = bag.Distinct.Field
			out.Distinct.IncludeCount = bag.Distinct.IncludeCount
		}
	case KindAggregate:
		if len(bag.Verbs) == 1 {
			out.Aggregate.Verb = bag.Verbs[0]
		}
		if bag.AggField != "" {
			out.Aggregate.Field = bag.AggField
		}
	case KindGroupedAggregate:
		if len(bag.Verbs) == 1 {
			out.Grouped.Verb = bag.Verbs[0]
		}
		if bag.AggField != "" {
			out.Grouped.Field = bag.AggField
		}
		if bag.GroupBy != "" {
			out.Grouped.GroupField = bag.GroupBy
		}
	case KindFilter:
		for _, c := range bag.Conditions {
			for i := range out.Filter.Predicates {
				if out.Filter.Predicates[i].Field == c.Field {
					out.Filter.Predicates[i].Op = c.Op
					out.Filter.Predicates[i].Value = c.Value
					out.Filter.Predicates[i].High = c.High
					break
				}
			}
		}
	}
	return out
}
