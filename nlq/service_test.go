package nlq

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/cardsense/card"
	"github.com/hrygo/cardsense/internal/profile"
	"github.com/hrygo/cardsense/nlq/analytics"
	"github.com/hrygo/cardsense/nlq/decompose"
	"github.com/hrygo/cardsense/nlq/pattern"
	"github.com/hrygo/cardsense/nlq/session"
	"github.com/hrygo/cardsense/store"
	"github.com/hrygo/cardsense/store/db/memory"
)

type fixedEmbedder struct {
	vectors map[string][]float32
}

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func dec(f float64) *decimal.Decimal {
	d := decimal.NewFromFloat(f)
	return &d
}

func fl(f float64) *float64 {
	return &f
}

func testCards() []*card.Card {
	return []*card.Card{
		{ID: "1", Name: "Sapphire", Issuer: "Chase", Network: "Visa", CurrentBalance: dec(1200), APR: fl(21.5)},
		{ID: "2", Name: "Freedom", Issuer: "Chase", Network: "Visa", CurrentBalance: dec(300), APR: fl(24.99)},
		{ID: "3", Name: "Double Cash", Issuer: "Citi", Network: "Mastercard", CurrentBalance: dec(450), APR: fl(18)},
	}
}

func newTestStore() *store.Store {
	return store.New(memory.NewDB(), &profile.Profile{Mode: "dev", Driver: "memory"})
}

func TestServiceAnswersDistinct(t *testing.T) {
	svc := NewService(decompose.DefaultConfig(), nil, nil, nil)

	answer, err := svc.Ask(context.Background(), "", "what are the different issuers", testCards())
	require.NoError(t, err)

	assert.Equal(t, decompose.KindDistinct, answer.Result.Kind)
	require.Len(t, answer.Result.Values, 2)
	assert.Equal(t, "Chase", answer.Result.Values[0].Value)
	assert.Equal(t, 2, answer.Result.Values[0].Count)
	assert.Equal(t, decompose.ResolutionFresh, answer.Result.Metadata.ResolutionPath)
}

func TestServiceAnswersAggregate(t *testing.T) {
	svc := NewService(decompose.DefaultConfig(), nil, nil, nil)

	answer, err := svc.Ask(context.Background(), "", "what is the total balance", testCards())
	require.NoError(t, err)

	require.NotNil(t, answer.Result.Scalar)
	assert.True(t, answer.Result.Scalar.Value.Equal(decimal.NewFromInt(1950)),
		"got %s", answer.Result.Scalar.Value)
}

func TestServiceCarriedContext(t *testing.T) {
	sessions := session.NewManager(nil, time.Minute)
	defer sessions.Close()
	svc := NewService(decompose.DefaultConfig(), nil, nil, sessions)
	ctx := context.Background()

	first, err := svc.Ask(ctx, "s1", "cards with balance over 400", testCards())
	require.NoError(t, err)
	assert.Len(t, first.Result.Records, 2)

	// The follow-up narrows the previous filter instead of replacing it.
	second, err := svc.Ask(ctx, "s1", "which have apr under 20", testCards())
	require.NoError(t, err)
	require.Len(t, second.Result.Records, 1)
	assert.Equal(t, "Citi", second.Result.Records[0].Issuer)

	// After reset the same follow-up stands alone.
	svc.Reset("s1")
	third, err := svc.Ask(ctx, "s1", "which have apr under 20", testCards())
	require.NoError(t, err)
	assert.Len(t, third.Result.Records, 1)
}

func TestServiceFallback(t *testing.T) {
	svc := NewService(decompose.DefaultConfig(), nil, nil, nil)

	_, err := svc.Ask(context.Background(), "", "hello there", testCards())
	require.Error(t, err)
	assert.True(t, decompose.FallbackRequired(err))
}

func TestServicePatternReuseAfterReinforcement(t *testing.T) {
	s := newTestStore()
	learner := pattern.NewLearner(s, &fixedEmbedder{}, pattern.DefaultConfig())
	sessions := session.NewManager(nil, time.Minute)
	defer sessions.Close()
	svc := NewService(decompose.DefaultConfig(), learner, nil, sessions)
	ctx := context.Background()

	question := "what are the different issuers"
	plan := &decompose.StructuredQuery{
		Kind:         decompose.KindDistinct,
		Distinct:     &decompose.DistinctSpec{Field: card.FieldIssuer, IncludeCount: true},
		OutputFormat: decompose.FormatList,
	}
	require.NoError(t, learner.Learn(ctx, question, plan))

	// A new pattern starts below the confidence gate and is not served.
	answer, err := svc.Ask(ctx, "s1", question, testCards())
	require.NoError(t, err)
	assert.Equal(t, decompose.ResolutionFresh, answer.Result.Metadata.ResolutionPath)

	// Let the background learn of the fresh answer settle before
	// adjusting confidence.
	time.Sleep(100 * time.Millisecond)

	patterns, err := s.ListPatterns(ctx, &store.FindPattern{})
	require.NoError(t, err)
	require.NotEmpty(t, patterns)
	id := patterns[0].ID
	for i := 0; i < 3; i++ {
		require.NoError(t, learner.Reinforce(ctx, id, true))
	}

	answer, err = svc.Ask(ctx, "s1", question, testCards())
	require.NoError(t, err)
	assert.Equal(t, decompose.ResolutionPattern, answer.Result.Metadata.ResolutionPath)
	assert.Equal(t, decompose.KindDistinct, answer.Result.Kind)
}

func TestServiceFeedbackReachesLearner(t *testing.T) {
	s := newTestStore()
	learner := pattern.NewLearner(s, &fixedEmbedder{}, pattern.DefaultConfig())
	sessions := session.NewManager(nil, time.Minute)
	defer sessions.Close()
	tracker := analytics.NewTracker(s, learner, nil, analytics.DefaultConfig())
	defer tracker.Close()
	svc := NewService(decompose.DefaultConfig(), learner, tracker, sessions)
	ctx := context.Background()

	question := "what are the different issuers"
	plan := &decompose.StructuredQuery{
		Kind:         decompose.KindDistinct,
		Distinct:     &decompose.DistinctSpec{Field: card.FieldIssuer, IncludeCount: true},
		OutputFormat: decompose.FormatList,
	}
	require.NoError(t, learner.Learn(ctx, question, plan))
	patterns, err := s.ListPatterns(ctx, &store.FindPattern{})
	require.NoError(t, err)
	id := patterns[0].ID
	for i := 0; i < 3; i++ {
		require.NoError(t, learner.Reinforce(ctx, id, true))
	}

	answer, err := svc.Ask(ctx, "s1", question, testCards())
	require.NoError(t, err)
	require.Equal(t, decompose.ResolutionPattern, answer.Result.Metadata.ResolutionPath)
	before, err := s.GetPattern(ctx, id)
	require.NoError(t, err)

	svc.Feedback(ctx, "s1", true)

	after, err := s.GetPattern(ctx, id)
	require.NoError(t, err)
	assert.Greater(t, after.Confidence, before.Confidence)
}
