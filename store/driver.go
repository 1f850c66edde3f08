package store

import "context"

// Driver is an interface for store driver. Implementations live under
// store/db.
type Driver interface {
	Migrate(ctx context.Context) error
	Close() error

	// Pattern records.
	UpsertPattern(ctx context.Context, upsert *UpsertPattern) (*PatternRecord, error)
	ListPatterns(ctx context.Context, find *FindPattern) ([]*PatternRecord, error)
	SearchSimilarPatterns(ctx context.Context, opts *PatternVectorSearchOptions) ([]*PatternWithScore, error)

	// Query analytics.
	CreateQueryEvent(ctx context.Context, create *CreateQueryEvent) error
	GetQueryStats(ctx context.Context, get *GetQueryStats) (*QueryStats, error)
}
