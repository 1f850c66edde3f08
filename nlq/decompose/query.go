// Package decompose builds the canonical structured query plan from raw
// text, extracted entities, and conversation context.
package decompose

import (
	"github.com/pkg/errors"

	"github.com/hrygo/cardsense/card"
	"github.com/hrygo/cardsense/nlq/extract"
)

// Kind discriminates the structured query union.
type Kind string

const (
	KindDistinct         Kind = "distinct"
	KindAggregate        Kind = "aggregate"
	KindGroupedAggregate Kind = "grouped_aggregate"
	KindFilter           Kind = "filter"
)

// Format tells the downstream presenter how to render the result.
type Format string

const (
	FormatTable   Format = "table"
	FormatList    Format = "list"
	FormatSummary Format = "summary"
)

// Connector combines filter predicates.
type Connector string

const (
	ConnectorAnd Connector = "and"
	ConnectorOr  Connector = "or"
)

// Predicate is a single filter condition over a canonical field.
type Predicate struct {
	Field card.Field       `json:"field"`
	Op    extract.Operator `json:"op"`
	Value extract.Literal  `json:"value"`
	High  *extract.Literal `json:"high,omitempty"`
}

// DistinctSpec requests the unique values of one field.
type DistinctSpec struct {
	Field        card.Field `json:"field"`
	IncludeCount bool       `json:"include_count"`
}

// AggregateSpec applies a verb over one field across all records.
type AggregateSpec struct {
	Verb  extract.Verb `json:"verb"`
	Field card.Field   `json:"field"`
}

// GroupedSpec applies a verb within each partition of a group field.
type GroupedSpec struct {
	Verb       extract.Verb `json:"verb"`
	Field      card.Field   `json:"field"`
	GroupField card.Field   `json:"group_field"`
}

// SortSpec orders filter results.
type SortSpec struct {
	Field card.Field `json:"field"`
	Desc  bool       `json:"desc"`
}

// FilterSpec selects records matching predicates.
type FilterSpec struct {
	Predicates []Predicate `json:"predicates"`
	Connector  Connector   `json:"connector"`
	Sort       *SortSpec   `json:"sort,omitempty"`
	Limit      int         `json:"limit,omitempty"`
}

// StructuredQuery is the canonical, immutable plan. Exactly one variant
// field is set, selected by Kind. Field names are always canonical
// schema names; the executor never re-maps tokens.
type StructuredQuery struct {
	Kind Kind `json:"kind"`

	Distinct  *DistinctSpec  `json:"distinct,omitempty"`
	Aggregate *AggregateSpec `json:"aggregate,omitempty"`
	Grouped   *GroupedSpec   `json:"grouped,omitempty"`
	Filter    *FilterSpec    `json:"filter,omitempty"`

	SourceIntent string `json:"source_intent"`
	OutputFormat Format `json:"output_format"`
}

// Validate enforces the data-model invariants. A query that fails here
// is malformed and should fail loudly rather than execute.
func (q *StructuredQuery) Validate() error {
	set := 0
	if q.Distinct != nil {
		set++
	}
	if q.Aggregate != nil {
		set++
	}
	if q.Grouped != nil {
		set++
	}
	if q.Filter != nil {
		set++
	}
	if set != 1 {
		return errors.Errorf("structured query must have exactly one variant, got %d", set)
	}

	switch q.Kind {
	case KindDistinct:
		if q.Distinct == nil {
			return errors.New("distinct query missing distinct spec")
		}
		if q.Distinct.Field == "" {
			return errors.New("distinct query missing field")
		}
	case KindAggregate:
		if q.Aggregate == nil {
			return errors.New("aggregate query missing aggregate spec")
		}
		if q.Aggregate.Verb == "" || q.Aggregate.Field == "" {
			return errors.New("aggregate query missing verb or field")
		}
	case KindGroupedAggregate:
		if q.Grouped == nil {
			return errors.New("grouped query missing grouped spec")
		}
		if q.Grouped.Verb == "" || q.Grouped.Field == "" || q.Grouped.GroupField == "" {
			return errors.New("grouped aggregation requires verb, field and group field")
		}
	case KindFilter:
		if q.Filter == nil {
			return errors.New("filter query missing filter spec")
		}
		if q.Filter.Connector != ConnectorAnd && q.Filter.Connector != ConnectorOr {
			return errors.Errorf("invalid connector %q", q.Filter.Connector)
		}
	default:
		return errors.Errorf("unknown query kind %q", q.Kind)
	}
	return nil
}

// Clone returns a deep copy, so cached plans can be rebound without
// mutating the stored original.
func (q *StructuredQuery) Clone() *StructuredQuery {
	out := *q
	if q.Distinct != nil {
		d := *q.Distinct
		out.Distinct = &d
	}
	if q.Aggregate != nil {
		a := *q.Aggregate
		out.Aggregate = &a
	}
	if q.Grouped != nil {
		g := *q.Grouped
		out.Grouped = &g
	}
	if q.Filter != nil {
		f := *q.Filter
		f.Predicates = make([]Predicate, len(q.Filter.Predicates))
		copy(f.Predicates, q.Filter.Predicates)
		if q.Filter.Sort != nil {
			s := *q.Filter.Sort
			f.Sort = &s
		}
		out.Filter = &f
	}
	return &out
}
