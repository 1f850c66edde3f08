package decompose

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/cardsense/card"
	"github.com/hrygo/cardsense/nlq/extract"
)

type mockPatternSource struct {
	match *PatternMatch
	err   error
	calls int
}

func (m *mockPatternSource) FindMatch(ctx context.Context, text string) (*PatternMatch, error) {
	m.calls++
	return m.match, m.err
}

func numberLiteral(f float64) extract.Literal {
	return extract.Literal{Kind: extract.LiteralNumber, Number: decimal.NewFromFloat(f)}
}

func TestDecomposeDistinct(t *testing.T) {
	d := NewDecomposer(DefaultConfig(), nil)
	bag := &extract.EntityBag{
		Distinct: &extract.DistinctRequest{Field: card.FieldIssuer, IncludeCount: true},
	}

	dec, err := d.Decompose(context.Background(), Input{Text: "what are the different issuers", Entities: bag})
	require.NoError(t, err)

	assert.Equal(t, ResolutionFresh, dec.Path)
	assert.Equal(t, KindDistinct, dec.Query.Kind)
	assert.Equal(t, FormatList, dec.Query.OutputFormat)
	require.NotNil(t, dec.Query.Distinct)
	assert.Equal(t, card.FieldIssuer, dec.Query.Distinct.Field)
	assert.NoError(t, dec.Query.Validate())
}

func TestDecomposeAggregate(t *testing.T) {
	d := NewDecomposer(DefaultConfig(), nil)
	bag := &extract.EntityBag{
		Verbs:    []extract.Verb{extract.VerbSum},
		AggField: card.FieldCurrentBalance,
	}

	dec, err := d.Decompose(context.Background(), Input{Text: "total balance", Entities: bag})
	require.NoError(t, err)

	assert.Equal(t, KindAggregate, dec.Query.Kind)
	assert.Equal(t, FormatSummary, dec.Query.OutputFormat)
	assert.Equal(t, extract.VerbSum, dec.Query.Aggregate.Verb)
	assert.Equal(t, card.FieldCurrentBalance, dec.Query.Aggregate.Field)
}

func TestDecomposeGroupedAggregate(t *testing.T) {
	d := NewDecomposer(DefaultConfig(), nil)
	bag := &extract.EntityBag{
		Verbs:    []extract.Verb{extract.VerbSum},
		AggField: card.FieldCurrentBalance,
		GroupBy:  card.FieldIssuer,
	}

	dec, err := d.Decompose(context.Background(), Input{Text: "total balance by issuer", Entities: bag})
	require.NoError(t, err)

	assert.Equal(t, KindGroupedAggregate, dec.Query.Kind)
	assert.Equal(t, FormatTable, dec.Query.OutputFormat)
	assert.Equal(t, card.FieldIssuer, dec.Query.Grouped.GroupField)
}

func TestDecomposeFilter(t *testing.T) {
	d := NewDecomposer(DefaultConfig(), nil)
	bag := &extract.EntityBag{
		Conditions: []extract.Condition{
			{Field: card.FieldCurrentBalance, Op: extract.OpGt, Value: numberLiteral(1000)},
		},
	}

	dec, err := d.Decompose(context.Background(), Input{Text: "cards with balance over 1000", Entities: bag})
	require.NoError(t, err)

	assert.Equal(t, KindFilter, dec.Query.Kind)
	assert.Equal(t, FormatList, dec.Query.OutputFormat)
	require.Len(t, dec.Query.Filter.Predicates, 1)
	assert.Equal(t, ConnectorAnd, dec.Query.Filter.Connector)
}

func TestDecomposeFilterTwoPredicatesTableFormat(t *testing.T) {
	d := NewDecomposer(DefaultConfig(), nil)
	bag := &extract.EntityBag{
		Conditions: []extract.Condition{
			{Field: card.FieldCurrentBalance, Op: extract.OpGt, Value: numberLiteral(1000)},
			{Field: card.FieldAPR, Op: extract.OpLt, Value: numberLiteral(20)},
		},
	}

	dec, err := d.Decompose(context.Background(), Input{Text: "x", Entities: bag})
	require.NoError(t, err)

	assert.Equal(t, FormatTable, dec.Query.OutputFormat)
	assert.Len(t, dec.Query.Filter.Predicates, 2)
}

func TestDecomposeErrors(t *testing.T) {
	d := NewDecomposer(DefaultConfig(), nil)
	ctx := context.Background()

	t.Run("unresolved field", func(t *testing.T) {
		bag := &extract.EntityBag{UnresolvedTokens: []string{"frobnicate"}}
		_, err := d.Decompose(ctx, Input{Text: "x", Entities: bag})
		var unresolved *UnresolvedFieldError
		require.ErrorAs(t, err, &unresolved)
		assert.Equal(t, "frobnicate", unresolved.Token)
		assert.True(t, FallbackRequired(err))
	})

	t.Run("ambiguous verbs", func(t *testing.T) {
		bag := &extract.EntityBag{
			Verbs:    []extract.Verb{extract.VerbSum, extract.VerbAvg},
			AggField: card.FieldCurrentBalance,
		}
		_, err := d.Decompose(ctx, Input{Text: "x", Entities: bag})
		var ambiguous *AmbiguousQueryError
		require.ErrorAs(t, err, &ambiguous)
		assert.True(t, FallbackRequired(err))
	})

	t.Run("empty bag", func(t *testing.T) {
		_, err := d.Decompose(ctx, Input{Text: "hello there", Entities: &extract.EntityBag{}})
		require.ErrorIs(t, err, ErrFallbackRequired)
	})

	t.Run("verb without target", func(t *testing.T) {
		bag := &extract.EntityBag{Verbs: []extract.Verb{extract.VerbSum}}
		_, err := d.Decompose(ctx, Input{Text: "total", Entities: bag})
		require.ErrorIs(t, err, ErrFallbackRequired)
	})
}

func TestDecomposeIdempotent(t *testing.T) {
	d := NewDecomposer(DefaultConfig(), nil)
	bag := &extract.EntityBag{
		Conditions: []extract.Condition{
			{Field: card.FieldCurrentBalance, Op: extract.OpGt, Value: numberLiteral(1000)},
		},
		Connectors: []extract.Connector{{Or: false}},
	}
	in := Input{Text: "cards with balance over 1000", Entities: bag}

	first, err := d.Decompose(context.Background(), in)
	require.NoError(t, err)
	second, err := d.Decompose(context.Background(), in)
	require.NoError(t, err)

	a, err := json.Marshal(first.Query)
	require.NoError(t, err)
	b, err := json.Marshal(second.Query)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestDecomposeCarriedContext(t *testing.T) {
	d := NewDecomposer(DefaultConfig(), nil)
	carried := []Predicate{
		{Field: card.FieldIssuer, Op: extract.OpEq, Value: extract.Literal{Kind: extract.LiteralString, Text: "Chase"}},
		{Field: card.FieldCurrentBalance, Op: extract.OpGt, Value: numberLiteral(5000)},
	}
	bag := &extract.EntityBag{
		Conditions: []extract.Condition{
			{Field: card.FieldCurrentBalance, Op: extract.OpLt, Value: numberLiteral(1000)},
		},
	}

	dec, err := d.Decompose(context.Background(), Input{Text: "which of those have balance under 1000", Entities: bag, Carried: carried})
	require.NoError(t, err)

	// Issuer carries over; the stale balance binding is replaced by the
	// current turn.
	require.Len(t, dec.Query.Filter.Predicates, 2)
	assert.Equal(t, card.FieldIssuer, dec.Query.Filter.Predicates[0].Field)
	assert.Equal(t, card.FieldCurrentBalance, dec.Query.Filter.Predicates[1].Field)
	assert.Equal(t, extract.OpLt, dec.Query.Filter.Predicates[1].Op)
}

func TestInferConnectorPrecedence(t *testing.T) {
	bag := &extract.EntityBag{
		Connectors: []extract.Connector{{Or: false}, {Or: true}},
	}

	andOverOr := NewDecomposer(DefaultConfig(), nil)
	assert.Equal(t, ConnectorOr, andOverOr.inferConnector(bag))

	cfg := DefaultConfig()
	cfg.Precedence = PrecedenceOrOverAnd
	orOverAnd := NewDecomposer(cfg, nil)
	assert.Equal(t, ConnectorAnd, orOverAnd.inferConnector(bag))

	onlyOr := &extract.EntityBag{Connectors: []extract.Connector{{Or: true}}}
	assert.Equal(t, ConnectorOr, andOverOr.inferConnector(onlyOr))
	assert.Equal(t, ConnectorAnd, andOverOr.inferConnector(&extract.EntityBag{}))
}

func TestDecomposePatternFastPath(t *testing.T) {
	plan := &StructuredQuery{
		Kind:         KindDistinct,
		Distinct:     &DistinctSpec{Field: card.FieldIssuer, IncludeCount: true},
		OutputFormat: FormatList,
	}
	source := &mockPatternSource{match: &PatternMatch{RecordID: 42, Plan: plan, Similarity: 0.93, Confidence: 0.9}}
	d := NewDecomposer(DefaultConfig(), source)

	dec, err := d.Decompose(context.Background(), Input{Text: "what issuers do i have", Entities: &extract.EntityBag{}})
	require.NoError(t, err)

	assert.Equal(t, ResolutionPattern, dec.Path)
	assert.Equal(t, int64(42), dec.PatternID)
	assert.Equal(t, float32(0.93), dec.Similarity)
	assert.Equal(t, KindDistinct, dec.Query.Kind)
	assert.Equal(t, 1, source.calls)
}

func TestDecomposePatternBelowThresholdFallsThrough(t *testing.T) {
	plan := &StructuredQuery{
		Kind:         KindDistinct,
		Distinct:     &DistinctSpec{Field: card.FieldIssuer},
		OutputFormat: FormatList,
	}
	source := &mockPatternSource{match: &PatternMatch{RecordID: 42, Plan: plan, Similarity: 0.5, Confidence: 0.9}}
	d := NewDecomposer(DefaultConfig(), source)
	bag := &extract.EntityBag{
		Distinct: &extract.DistinctRequest{Field: card.FieldCardNetwork, IncludeCount: true},
	}

	dec, err := d.Decompose(context.Background(), Input{Text: "x", Entities: bag})
	require.NoError(t, err)

	assert.Equal(t, ResolutionFresh, dec.Path)
	assert.Equal(t, card.FieldCardNetwork, dec.Query.Distinct.Field)
}

func TestDecomposePatternErrorDegrades(t *testing.T) {
	source := &mockPatternSource{err: errors.New("store down")}
	d := NewDecomposer(DefaultConfig(), source)
	bag := &extract.EntityBag{
		Distinct: &extract.DistinctRequest{Field: card.FieldIssuer, IncludeCount: true},
	}

	dec, err := d.Decompose(context.Background(), Input{Text: "x", Entities: bag})
	require.NoError(t, err)
	assert.Equal(t, ResolutionFresh, dec.Path)
}

func TestDecomposePatternRebindsLiterals(t *testing.T) {
	cached := &StructuredQuery{
		Kind: KindFilter,
		Filter: &FilterSpec{
			Predicates: []Predicate{
				{Field: card.FieldCurrentBalance, Op: extract.OpGt, Value: numberLiteral(500)},
			},
			Connector: ConnectorAnd,
		},
		OutputFormat: FormatList,
	}
	source := &mockPatternSource{match: &PatternMatch{RecordID: 7, Plan: cached, Similarity: 0.96, Confidence: 0.95}}
	d := NewDecomposer(DefaultConfig(), source)
	bag := &extract.EntityBag{
		Conditions: []extract.Condition{
			{Field: card.FieldCurrentBalance, Op: extract.OpGt, Value: numberLiteral(2000)},
		},
	}

	dec, err := d.Decompose(context.Background(), Input{Text: "cards with balance over 2000", Entities: bag})
	require.NoError(t, err)

	assert.Equal(t, ResolutionPattern, dec.Path)
	require.Len(t, dec.Query.Filter.Predicates, 1)
	assert.True(t, dec.Query.Filter.Predicates[0].Value.Number.Equal(decimal.NewFromInt(2000)))
	// The cached original must stay untouched.
	assert.True(t, cached.Filter.Predicates[0].Value.Number.Equal(decimal.NewFromInt(500)))
}

func TestValidateRejectsMalformed(t *testing.T) {
	assert.Error(t, (&StructuredQuery{Kind: KindDistinct}).Validate())
	assert.Error(t, (&StructuredQuery{
		Kind:     KindDistinct,
		Distinct: &DistinctSpec{},
	}).Validate())
	assert.Error(t, (&StructuredQuery{
		Kind:      KindAggregate,
		Aggregate: &AggregateSpec{Verb: extract.VerbSum, Field: card.FieldCurrentBalance},
		Filter:    &FilterSpec{Connector: ConnectorAnd},
	}).Validate())
	assert.Error(t, (&StructuredQuery{
		Kind:   KindFilter,
		Filter: &FilterSpec{Connector: "nand"},
	}).Validate())
}
