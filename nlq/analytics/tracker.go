// Package analytics records query outcomes off the hot path and turns
// user behavior into feedback signals for the pattern learner.
package analytics

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hrygo/cardsense/store"
)

// FeedbackSink receives reinforcement signals for served patterns.
// Local interface to avoid a dependency on the pattern package.
type FeedbackSink interface {
	Reinforce(ctx context.Context, patternID int64, positive bool) error
}

// Config tunes the tracker.
type Config struct {
	// QueueSize bounds the async event queue. Events beyond it are
	// dropped rather than blocking the answer path.
	QueueSize int
	// RepeatWindow is how soon an identical repeat of the previous
	// question counts as implicit negative feedback.
	RepeatWindow time.Duration
	// NarrowWindow is how soon a narrowing follow-up counts as
	// implicit positive feedback for the previous answer.
	NarrowWindow time.Duration
	// PersistTimeout bounds each store write in the worker.
	PersistTimeout time.Duration
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:      256,
		RepeatWindow:   30 * time.Second,
		NarrowWindow:   2 * time.Minute,
		PersistTimeout: 5 * time.Second,
	}
}

// Event is one answered query to record.
type Event struct {
	QueryID        string
	SessionID      string
	Input          string
	ResolutionPath string
	PatternID      int64
	Success        bool
	ResultSize     int
	Latency        time.Duration
}

type lastQuery struct {
	input     string
	patternID int64
	at        time.Time
}

// Tracker persists query events asynchronously and derives implicit
// feedback from session behavior.
type Tracker struct {
	store   *store.Store
	sink    FeedbackSink
	metrics *Metrics
	cfg     Config

	queue chan Event
	done  chan struct{}

	mu   sync.Mutex
	last map[string]lastQuery
}

// NewTracker creates a tracker and starts its worker. sink and metrics
// may be nil.
func NewTracker(s *store.Store, sink FeedbackSink, metrics *Metrics, cfg Config) *Tracker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RepeatWindow <= 0 {
		cfg.RepeatWindow = 30 * time.Second
	}
	if cfg.NarrowWindow <= 0 {
		cfg.NarrowWindow = 2 * time.Minute
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}

	t := &Tracker{
		store:   s,
		sink:    sink,
		metrics: metrics,
		cfg:     cfg,
		queue:   make(chan Event, cfg.QueueSize),
		done:    make(chan struct{}),
		last:    map[string]lastQuery{},
	}
	go t.worker()
	return t
}

// Track enqueues one answered query and returns its query ID. The call
// never blocks: when the queue is full the event is dropped with a
// warning.
func (t *Tracker) Track(event Event) string {
	if event.QueryID == "" {
		event.QueryID = uuid.NewString()
	}
	if t.metrics != nil {
		t.metrics.observeQuery(event.ResolutionPath, event.Success, event.Latency)
	}

	select {
	case t.queue <- event:
	default:
		if t.metrics != nil {
			t.metrics.observeDrop()
		}
		slog.Warn("analytics queue full, dropping event", "query_id", event.QueryID)
	}
	return event.QueryID
}

// RecordFeedback applies explicit user feedback to the pattern that
// produced the answer. Errors are logged, not returned: feedback is
// best effort.
func (t *Tracker) RecordFeedback(ctx context.Context, patternID int64, positive bool) {
	if t.metrics != nil {
		t.metrics.observeFeedback(positive, "explicit")
	}
	if t.sink == nil || patternID == 0 {
		return
	}
	if err := t.sink.Reinforce(ctx, patternID, positive); err != nil {
		slog.Warn("failed to apply feedback", "pattern_id", patternID, "error", err)
	}
}

// Snapshot returns aggregate query statistics.
func (t *Tracker) Snapshot(ctx context.Context, sessionID string, timeRange time.Duration) (*store.QueryStats, error) {
	return t.store.GetQueryStats(ctx, &store.GetQueryStats{
		SessionID: sessionID,
		TimeRange: timeRange,
	})
}

// Close stops the worker after draining queued events.
func (t *Tracker) Close() {
	close(t.queue)
	<-t.done
}

func (t *Tracker) worker() {
	defer close(t.done)
	for event := range t.queue {
		t.deriveImplicitFeedback(event)
		t.persist(event)
	}
}

func (t *Tracker) persist(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.PersistTimeout)
	defer cancel()

	err := t.store.CreateQueryEvent(ctx, &store.CreateQueryEvent{
		QueryID:        event.QueryID,
		SessionID:      event.SessionID,
		Input:          event.Input,
		ResolutionPath: event.ResolutionPath,
		Success:        event.Success,
		ResultSize:     event.ResultSize,
		LatencyMs:      event.Latency.Milliseconds(),
		Timestamp:      time.Now().Unix(),
	})
	if err != nil {
		slog.Warn("failed to persist query event", "query_id", event.QueryID, "error", err)
	}
}

// deriveImplicitFeedback compares the event against the session's
// previous query. An identical repeat shortly after suggests the last
// answer missed; a narrowing follow-up suggests it landed.
func (t *Tracker) deriveImplicitFeedback(event Event) {
	if event.SessionID == "" {
		return
	}
	now := time.Now()
	input := normalize(event.Input)

	t.mu.Lock()
	prev, ok := t.last[event.SessionID]
	t.last[event.SessionID] = lastQuery{input: input, patternID: event.PatternID, at: now}
	t.mu.Unlock()

	if !ok || prev.patternID == 0 || t.sink == nil {
		return
	}

	elapsed := now.Sub(prev.at)
	switch {
	case input == prev.input && elapsed <= t.cfg.RepeatWindow:
		t.reinforce(prev.patternID, false)
	case elapsed <= t.cfg.NarrowWindow && len(input) > len(prev.input) && strings.Contains(input, prev.input):
		t.reinforce(prev.patternID, true)
	}
}

func (t *Tracker) reinforce(patternID int64, positive bool) {
	if t.metrics != nil {
		t.metrics.observeFeedback(positive, "implicit")
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.PersistTimeout)
	defer cancel()
	if err := t.sink.Reinforce(ctx, patternID, positive); err != nil {
		slog.Warn("failed to apply implicit feedback", "pattern_id", patternID, "error", err)
	}
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
