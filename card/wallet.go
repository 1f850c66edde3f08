package card

import (
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// LoadWallet reads a JSON array of cards from path. Records missing an
// ID are assigned one.
func LoadWallet(path string) ([]*Card, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read wallet file %s", path)
	}

	var cards []*Card
	if err := json.Unmarshal(data, &cards); err != nil {
		return nil, errors.Wrapf(err, "invalid wallet file %s", path)
	}
	for _, c := range cards {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
	}
	return cards, nil
}
