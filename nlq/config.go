// Package nlq answers natural-language questions about a wallet of
// cards: it extracts entities, decomposes them into a structured query,
// executes the query, and learns successful patterns for reuse.
package nlq

import (
	"time"

	"github.com/hrygo/cardsense/internal/profile"
)

// Config represents query pipeline configuration.
type Config struct {
	Embedding EmbeddingConfig
	Enabled   bool
}

// EmbeddingConfig represents vector embedding configuration.
type EmbeddingConfig struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int

	// CacheSize and CacheTTL bound the embedding result cache.
	CacheSize int
	CacheTTL  time.Duration
}

// NewConfigFromProfile creates pipeline config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	cfg := &Config{
		Enabled: p.IsEmbeddingEnabled(),
	}
	if !cfg.Enabled {
		return cfg
	}

	cfg.Embedding = EmbeddingConfig{
		Provider:   p.AIEmbeddingProvider,
		Model:      p.AIEmbeddingModel,
		APIKey:     p.AIEmbeddingAPIKey,
		BaseURL:    p.AIEmbeddingBaseURL,
		Dimensions: p.AIEmbeddingDimensions,
		CacheSize:  1000,
		CacheTTL:   30 * time.Minute,
	}
	return cfg
}
