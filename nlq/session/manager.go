// Package session keeps short-lived conversation context so follow-up
// questions can inherit filters from the previous turn.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hrygo/cardsense/nlq/decompose"
)

const cleanupCheckInterval = 1 * time.Minute

// Context is one conversation's carried state.
type Context struct {
	// Predicates are the filter bindings from the last answered turn.
	Predicates []decompose.Predicate
	// LastPlan is the previous turn's structured query.
	LastPlan *decompose.StructuredQuery
	// LastPatternID is the pattern that served the previous turn, if
	// any.
	LastPatternID int64
	UpdatedAt     time.Time
}

// Manager tracks per-session context with an idle timeout.
type Manager struct {
	sessions map[string]*Context
	mu       sync.RWMutex
	logger   *slog.Logger
	timeout  time.Duration
	done     chan struct{}
}

// NewManager creates a session manager and starts its cleanup loop.
func NewManager(logger *slog.Logger, timeout time.Duration) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	m := &Manager{
		sessions: make(map[string]*Context),
		logger:   logger,
		timeout:  timeout,
		done:     make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// Get returns the context for a session, or nil when none exists.
func (m *Manager) Get(sessionID string) *Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sc, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	clone := *sc
	clone.Predicates = append([]decompose.Predicate(nil), sc.Predicates...)
	return &clone
}

// Update replaces a session's context after an answered turn. Last
// writer wins.
func (m *Manager) Update(sessionID string, plan *decompose.StructuredQuery, patternID int64) {
	if sessionID == "" {
		return
	}

	sc := &Context{
		LastPlan:      plan,
		LastPatternID: patternID,
		UpdatedAt:     time.Now(),
	}
	if plan != nil && plan.Kind == decompose.KindFilter && plan.Filter != nil {
		sc.Predicates = append([]decompose.Predicate(nil), plan.Filter.Predicates...)
	}

	m.mu.Lock()
	m.sessions[sessionID] = sc
	m.mu.Unlock()
}

// Reset drops a session's carried context.
func (m *Manager) Reset(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// Close stops the cleanup loop.
func (m *Manager) Close() {
	close(m.done)
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(cleanupCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.cleanupIdle()
		}
	}
}

func (m *Manager) cleanupIdle() {
	cutoff := time.Now().Add(-m.timeout)

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sc := range m.sessions {
		if sc.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			m.logger.Debug("expired idle session context", "session_id", id)
		}
	}
}
