package nlq

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/cardsense/card"
	"github.com/hrygo/cardsense/nlq/analytics"
	"github.com/hrygo/cardsense/nlq/decompose"
	"github.com/hrygo/cardsense/nlq/execute"
	"github.com/hrygo/cardsense/nlq/extract"
	"github.com/hrygo/cardsense/nlq/pattern"
	"github.com/hrygo/cardsense/nlq/session"
)

// Answer is one answered question with its result and provenance.
type Answer struct {
	QueryID string
	Query   *decompose.StructuredQuery
	Result  *execute.Result
}

// Service wires extraction, decomposition, execution, pattern learning,
// and analytics into one question-answering pipeline.
type Service struct {
	extractor  *extract.Extractor
	decomposer *decompose.Decomposer
	learner    *pattern.Learner
	tracker    *analytics.Tracker
	sessions   *session.Manager

	learnTimeout time.Duration
}

// NewService assembles the pipeline. learner and tracker may be nil;
// the pipeline then answers without pattern reuse or analytics.
func NewService(decomposerCfg decompose.Config, learner *pattern.Learner, tracker *analytics.Tracker, sessions *session.Manager) *Service {
	var source decompose.PatternSource
	if learner != nil {
		source = learner
	}
	return &Service{
		extractor:    extract.NewExtractor(),
		decomposer:   decompose.NewDecomposer(decomposerCfg, source),
		learner:      learner,
		tracker:      tracker,
		sessions:     sessions,
		learnTimeout: 10 * time.Second,
	}
}

// Ask answers one natural-language question against the given cards.
// Decomposition failures that need a human or an LLM in the loop are
// returned as fallback errors; execution is otherwise pure.
func (s *Service) Ask(ctx context.Context, sessionID, question string, cards []*card.Card) (*Answer, error) {
	start := time.Now()

	bag := s.extractor.Extract(question)

	var carried []decompose.Predicate
	if s.sessions != nil && sessionID != "" {
		if sc := s.sessions.Get(sessionID); sc != nil {
			carried = sc.Predicates
		}
	}

	dec, err := s.decomposer.Decompose(ctx, decompose.Input{
		Text:     question,
		Entities: bag,
		Carried:  carried,
	})
	if err != nil {
		s.track(sessionID, question, string(decompose.ResolutionFallback), 0, false, 0, time.Since(start))
		return nil, err
	}

	result, err := execute.Execute(dec.Query, cards)
	if err != nil {
		s.track(sessionID, question, string(dec.Path), dec.PatternID, false, 0, time.Since(start))
		return nil, errors.Wrap(err, "query execution failed")
	}
	result.Metadata.ResolutionPath = dec.Path
	result.Metadata.Latency = time.Since(start)

	if s.sessions != nil && sessionID != "" {
		s.sessions.Update(sessionID, dec.Query, dec.PatternID)
	}

	if s.learner != nil && dec.Path == decompose.ResolutionFresh {
		go s.learn(question, dec.Query)
	}

	queryID := s.track(sessionID, question, string(dec.Path), dec.PatternID, true, resultSize(result), time.Since(start))

	return &Answer{QueryID: queryID, Query: dec.Query, Result: result}, nil
}

// Feedback applies explicit user feedback to the pattern that served
// the session's previous answer.
func (s *Service) Feedback(ctx context.Context, sessionID string, positive bool) {
	if s.tracker == nil || s.sessions == nil {
		return
	}
	sc := s.sessions.Get(sessionID)
	if sc == nil || sc.LastPatternID == 0 {
		return
	}
	s.tracker.RecordFeedback(ctx, sc.LastPatternID, positive)
}

// Reset drops the session's carried context.
func (s *Service) Reset(sessionID string) {
	if s.sessions != nil {
		s.sessions.Reset(sessionID)
	}
}

// learn runs off the answer path. Failures are logged, never surfaced.
func (s *Service) learn(question string, plan *decompose.StructuredQuery) {
	ctx, cancel := context.WithTimeout(context.Background(), s.learnTimeout)
	defer cancel()
	if err := s.learner.Learn(ctx, question, plan); err != nil {
		slog.Warn("failed to learn query pattern", "error", err)
	}
}

func (s *Service) track(sessionID, input, path string, patternID int64, success bool, size int, latency time.Duration) string {
	if s.tracker == nil {
		return ""
	}
	return s.tracker.Track(analytics.Event{
		SessionID:      sessionID,
		Input:          input,
		ResolutionPath: path,
		PatternID:      patternID,
		Success:        success,
		ResultSize:     size,
		Latency:        latency,
	})
}

func resultSize(r *execute.Result) int {
	switch {
	case r.Scalar != nil:
		return 1
	case len(r.Values) > 0:
		return len(r.Values)
	case len(r.Groups) > 0:
		return len(r.Groups)
	default:
		return len(r.Records)
	}
}
