package extract

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/cardsense/card"
)

func TestExtractDistinct(t *testing.T) {
	bag := NewExtractor().Extract("what are the different issuers")

	require.NotNil(t, bag.Distinct)
	assert.Equal(t, card.FieldIssuer, bag.Distinct.Field)
	assert.True(t, bag.Distinct.IncludeCount)
	assert.Empty(t, bag.Verbs)
}

func TestExtractDistinctSuppressesCount(t *testing.T) {
	// "how many different X" asks for the unique values, not a count of
	// records.
	bag := NewExtractor().Extract("how many different networks do I have")

	require.NotNil(t, bag.Distinct)
	assert.Equal(t, card.FieldCardNetwork, bag.Distinct.Field)
	assert.Empty(t, bag.Verbs)
}

func TestExtractSum(t *testing.T) {
	bag := NewExtractor().Extract("what is the total balance across all my cards")

	require.Equal(t, []Verb{VerbSum}, bag.Verbs)
	assert.Equal(t, card.FieldCurrentBalance, bag.AggField)
}

func TestExtractCountFallsBackToCardName(t *testing.T) {
	bag := NewExtractor().Extract("how many cards do I have")

	require.Equal(t, []Verb{VerbCount}, bag.Verbs)
	assert.Equal(t, card.FieldCardName, bag.AggField)
}

func TestExtractMinimumPaymentIsNotMinVerb(t *testing.T) {
	// "minimum payment" is a field; its span must be consumed before
	// verb scanning so it can never read as the min verb.
	bag := NewExtractor().Extract("what is the minimum payment on my chase card")

	assert.Empty(t, bag.Verbs)
	require.NotEmpty(t, bag.Fields)
	assert.Equal(t, card.FieldMinimumPayment, bag.Fields[0].Field)

	require.Len(t, bag.Conditions, 1)
	assert.Equal(t, card.FieldIssuer, bag.Conditions[0].Field)
	assert.Equal(t, OpEq, bag.Conditions[0].Op)
	assert.Equal(t, "Chase", bag.Conditions[0].Value.Text)
}

func TestExtractComparison(t *testing.T) {
	bag := NewExtractor().Extract("cards with balance over $1,000")

	require.Len(t, bag.Conditions, 1)
	c := bag.Conditions[0]
	assert.Equal(t, card.FieldCurrentBalance, c.Field)
	assert.Equal(t, OpGt, c.Op)
	assert.Equal(t, LiteralMoney, c.Value.Kind)
	assert.True(t, c.Value.Number.Equal(decimal.NewFromInt(1000)))
}

func TestExtractPhraseOperators(t *testing.T) {
	tests := []struct {
		text string
		op   Operator
	}{
		{"cards with apr at least 20", OpGe},
		{"cards with apr no more than 20", OpLe},
		{"cards with apr under 20", OpLt},
		{"cards with apr exactly 20", OpEq},
	}
	for _, tt := range tests {
		bag := NewExtractor().Extract(tt.text)
		require.Len(t, bag.Conditions, 1, tt.text)
		assert.Equal(t, tt.op, bag.Conditions[0].Op, tt.text)
		assert.Equal(t, card.FieldAPR, bag.Conditions[0].Field, tt.text)
	}
}

func TestExtractBetween(t *testing.T) {
	bag := NewExtractor().Extract("cards with apr between 15 and 25")

	require.Len(t, bag.Conditions, 1)
	c := bag.Conditions[0]
	assert.Equal(t, OpBetween, c.Op)
	assert.True(t, c.Value.Number.Equal(decimal.NewFromInt(15)))
	require.NotNil(t, c.High)
	assert.True(t, c.High.Number.Equal(decimal.NewFromInt(25)))

	// The "and" inside the range is not a logical connector.
	assert.False(t, bag.HasAnd())
}

func TestExtractDateComparison(t *testing.T) {
	bag := NewExtractor().Extract("cards with due date before 2026-10-01")

	require.Len(t, bag.Conditions, 1)
	c := bag.Conditions[0]
	assert.Equal(t, card.FieldDueDate, c.Field)
	assert.Equal(t, OpLt, c.Op)
	assert.Equal(t, LiteralDate, c.Value.Kind)
	assert.Equal(t, "2026-10-01", c.Value.Time.Format("2006-01-02"))
}

func TestExtractGroupBy(t *testing.T) {
	bag := NewExtractor().Extract("total balance by issuer")

	require.Equal(t, []Verb{VerbSum}, bag.Verbs)
	assert.Equal(t, card.FieldCurrentBalance, bag.AggField)
	assert.Equal(t, card.FieldIssuer, bag.GroupBy)
}

func TestExtractConnectors(t *testing.T) {
	bag := NewExtractor().Extract("cards with balance over 1000 or apr under 20")

	require.Len(t, bag.Conditions, 2)
	assert.True(t, bag.HasOr())
	assert.False(t, bag.HasAnd())
}

func TestExtractLexiconNegation(t *testing.T) {
	bag := NewExtractor().Extract("cards that are not visa")

	require.Len(t, bag.Conditions, 1)
	assert.Equal(t, card.FieldCardNetwork, bag.Conditions[0].Field)
	assert.Equal(t, OpNe, bag.Conditions[0].Op)
	assert.Equal(t, "Visa", bag.Conditions[0].Value.Text)
}

func TestExtractLexiconMultiWord(t *testing.T) {
	bag := NewExtractor().Extract("show my bank of america cards")

	require.Len(t, bag.Conditions, 1)
	assert.Equal(t, card.FieldIssuer, bag.Conditions[0].Field)
	assert.Equal(t, "Bank of America", bag.Conditions[0].Value.Text)
}

func TestExtractUnresolvedToken(t *testing.T) {
	bag := NewExtractor().Extract("cards with frobnicate over 100")

	assert.Empty(t, bag.Conditions)
	require.Len(t, bag.UnresolvedTokens, 1)
	assert.Equal(t, "frobnicate", bag.UnresolvedTokens[0])
}

func TestExtractTopN(t *testing.T) {
	bag := NewExtractor().Extract("top 3 cards by balance")

	require.NotNil(t, bag.Limit)
	assert.Equal(t, 3, bag.Limit.N)
	require.NotNil(t, bag.Sort)
	assert.Equal(t, card.FieldCurrentBalance, bag.Sort.Field)
	assert.True(t, bag.Sort.Desc)
}

func TestExtractEmptyBag(t *testing.T) {
	bag := NewExtractor().Extract("hello there")
	assert.True(t, bag.Empty())
}
