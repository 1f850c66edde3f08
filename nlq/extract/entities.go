// Package extract scans raw utterance text into a typed bag of
// recognized entities. Extraction is deterministic and never fails:
// unmatched text yields an empty bag.
package extract

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hrygo/cardsense/card"
)

// Operator is a comparison operator recognized in text.
type Operator string

const (
	OpEq      Operator = "="
	OpNe      Operator = "!="
	OpLt      Operator = "<"
	OpLe      Operator = "<="
	OpGt      Operator = ">"
	OpGe      Operator = ">="
	OpBetween Operator = "between"
)

// Verb is an aggregation verb recognized in text.
type Verb string

const (
	VerbSum   Verb = "sum"
	VerbAvg   Verb = "avg"
	VerbCount Verb = "count"
	VerbMin   Verb = "min"
	VerbMax   Verb = "max"
)

// LiteralKind classifies a comparison literal.
type LiteralKind int

const (
	LiteralString LiteralKind = iota
	LiteralNumber
	LiteralMoney
	LiteralDate
)

// Literal is a typed comparison value.
type Literal struct {
	Kind   LiteralKind
	Text   string
	Number decimal.Decimal
	Time   time.Time
}

// Condition is a filter-shaped entity: field, operator, value. High is
// set only for between.
type Condition struct {
	Field card.Field
	Op    Operator
	Value Literal
	High  *Literal
	Pos   int
}

// DistinctRequest marks a request for the unique values of a field.
type DistinctRequest struct {
	Field        card.Field
	IncludeCount bool
}

// Connector is a logical connector token with its position in the text.
type Connector struct {
	Or  bool
	Pos int
}

// SortSpec is an extracted ordering hint.
type SortSpec struct {
	Field card.Field
	Desc  bool
}

// LimitSpec is an extracted row-limit hint.
type LimitSpec struct {
	N int
}

// EntityBag is the typed result of extraction. All fields are optional;
// the zero bag is the valid "nothing recognized" outcome.
type EntityBag struct {
	Fields     []card.FieldRef
	Conditions []Condition
	Verbs      []Verb
	AggField   card.Field
	Distinct   *DistinctRequest
	GroupBy    card.Field
	Connectors []Connector
	Sort       *SortSpec
	Limit      *LimitSpec

	// UnresolvedTokens records phrases that looked like field references
	// but have no canonical mapping. The decomposer turns these into
	// UnresolvedFieldError.
	UnresolvedTokens []string
}

// Empty reports whether nothing was recognized.
func (b *EntityBag) Empty() bool {
	return len(b.Fields) == 0 && len(b.Conditions) == 0 && len(b.Verbs) == 0 &&
		b.Distinct == nil && b.GroupBy == "" && len(b.UnresolvedTokens) == 0
}

// HasOr reports whether an explicit "or" connector was detected.
func (b *EntityBag) HasOr() bool {
	for _, c := range b.Connectors {
		if c.Or {
			return true
		}
	}
	return false
}

// HasAnd reports whether an explicit "and" connector was detected.
func (b *EntityBag) HasAnd() bool {
	for _, c := range b.Connectors {
		if !c.Or {
			return true
		}
	}
	return false
}
