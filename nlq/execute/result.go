// Package execute evaluates structured queries against a card
// collection. Execution is pure, synchronous, and does no I/O.
package execute

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hrygo/cardsense/card"
	"github.com/hrygo/cardsense/nlq/decompose"
	"github.com/hrygo/cardsense/nlq/extract"
)

// DistinctValue pairs a unique field value with its occurrence count.
// Original casing is preserved for display; matching is
// case-normalized.
type DistinctValue struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Scalar is the result of an ungrouped aggregation.
type Scalar struct {
	Verb            extract.Verb    `json:"verb"`
	Field           card.Field      `json:"field"`
	Value           decimal.Decimal `json:"value"`
	ConsideredCount int             `json:"considered_count"`
}

// GroupRow is one partition's aggregate in a grouped aggregation.
type GroupRow struct {
	Group string          `json:"group"`
	Value decimal.Decimal `json:"value"`
	Count int             `json:"count"`
}

// Metadata describes how a result was produced.
type Metadata struct {
	ResolutionPath decompose.ResolutionPath `json:"resolution_path"`
	MatchedCount   int                      `json:"matched_count"`
	ExcludedCount  int                      `json:"excluded_count"`
	Latency        time.Duration            `json:"latency"`
}

// Result is the typed outcome of executing a structured query. Exactly
// one payload field is populated, selected by Kind. Zero matches is a
// valid result, never an error.
type Result struct {
	Kind   decompose.Kind   `json:"kind"`
	Format decompose.Format `json:"format"`

	Values  []DistinctValue `json:"values,omitempty"`
	Scalar  *Scalar         `json:"scalar,omitempty"`
	Groups  []GroupRow      `json:"groups,omitempty"`
	Records []*card.Card    `json:"records,omitempty"`

	Metadata Metadata `json:"metadata"`
}
