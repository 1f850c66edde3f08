package store

import "time"

// QueryEvent represents one executed query for analytics, adapted from
// router feedback events: it records how the query was resolved and how
// it went.
type QueryEvent struct {
	ID             int64  `json:"id"`
	QueryID        string `json:"query_id"`
	SessionID      string `json:"session_id"`
	Input          string `json:"input"`
	ResolutionPath string `json:"resolution_path"` // "pattern_cache", "fresh_decompose", "llm_fallback"
	Success        bool   `json:"success"`
	ResultSize     int    `json:"result_size"`
	LatencyMs      int64  `json:"latency_ms"`
	Timestamp      int64  `json:"timestamp"`
}

// CreateQueryEvent specifies data for creating a query event.
type CreateQueryEvent struct {
	QueryID        string
	SessionID      string
	Input          string
	ResolutionPath string
	Success        bool
	ResultSize     int
	LatencyMs      int64
	Timestamp      int64
}

// QueryStats represents aggregate query accuracy statistics.
type QueryStats struct {
	TotalQueries int64            `json:"total_queries"`
	SuccessCount int64            `json:"success_count"`
	FailureCount int64            `json:"failure_count"`
	SuccessRate  float64          `json:"success_rate"`
	ByPath       map[string]int64 `json:"by_path"`
	LastUpdated  int64            `json:"last_updated"`
}

// GetQueryStats specifies parameters for query statistics.
type GetQueryStats struct {
	SessionID string
	TimeRange time.Duration
}
