// Package db provides the store driver factory.
package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/cardsense/internal/profile"
	"github.com/hrygo/cardsense/store"
	"github.com/hrygo/cardsense/store/db/memory"
	"github.com/hrygo/cardsense/store/db/postgres"
)

// NewDBDriver creates a new store driver based on the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "postgres":
		return postgres.NewDB(profile)
	case "memory", "":
		return memory.NewDB(), nil
	default:
		return nil, errors.Errorf("unknown db driver %q", profile.Driver)
	}
}
