// Package store provides persistence for learned query patterns and
// analytics events behind a swappable driver interface.
package store

import (
	"context"

	"github.com/hrygo/cardsense/internal/profile"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

// GetDriver returns the underlying driver.
func (s *Store) GetDriver() Driver {
	return s.driver
}

// Migrate runs the driver's schema migration.
func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

// Close closes the underlying driver.
func (s *Store) Close() error {
	return s.driver.Close()
}

// CreateQueryEvent records an analytics event for one executed query.
func (s *Store) CreateQueryEvent(ctx context.Context, create *CreateQueryEvent) error {
	return s.driver.CreateQueryEvent(ctx, create)
}

// GetQueryStats retrieves aggregate query statistics.
func (s *Store) GetQueryStats(ctx context.Context, get *GetQueryStats) (*QueryStats, error) {
	return s.driver.GetQueryStats(ctx, get)
}
