package profile

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main service.
type Profile struct {
	// Embedding configuration (OpenAI-compatible protocol). All
	// providers expose the same config surface.
	AIEmbeddingProvider   string
	AIEmbeddingModel      string
	AIEmbeddingAPIKey     string
	AIEmbeddingBaseURL    string
	AIEmbeddingDimensions int

	// Other configurations
	Mode    string
	DSN     string
	Driver  string
	Version string
	Data    string
	Wallet  string
}

// Provider default configurations for embeddings. Used when the base
// URL or model is not explicitly set.
var embeddingProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "BAAI/bge-m3",
	},
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "text-embedding-3-small",
	},
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
		Model:   "nomic-embed-text",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsEmbeddingEnabled returns true if an embedding API key is configured.
func (p *Profile) IsEmbeddingEnabled() bool {
	return p.AIEmbeddingAPIKey != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.AIEmbeddingProvider = getEnvOrDefault("CARDSENSE_AI_EMBEDDING_PROVIDER", "siliconflow")
	p.AIEmbeddingModel = getEnvOrDefault("CARDSENSE_AI_EMBEDDING_MODEL", "")
	p.AIEmbeddingAPIKey = getEnvOrDefault("CARDSENSE_AI_EMBEDDING_API_KEY", "")
	p.AIEmbeddingBaseURL = getEnvOrDefault("CARDSENSE_AI_EMBEDDING_BASE_URL", "")
	p.AIEmbeddingDimensions = getEnvOrDefaultInt("CARDSENSE_AI_EMBEDDING_DIMENSIONS", 1024)

	if p.AIEmbeddingProvider != "" {
		if _, ok := embeddingProviderDefaults[p.AIEmbeddingProvider]; !ok {
			slog.Warn("Unknown embedding provider, using default: siliconflow", "provider", p.AIEmbeddingProvider)
			p.AIEmbeddingProvider = "siliconflow"
		}
	}
	if defaults, ok := embeddingProviderDefaults[p.AIEmbeddingProvider]; ok {
		if p.AIEmbeddingBaseURL == "" {
			p.AIEmbeddingBaseURL = defaults.BaseURL
		}
		if p.AIEmbeddingModel == "" {
			p.AIEmbeddingModel = defaults.Model
		}
	}

	p.Wallet = getEnvOrDefault("CARDSENSE_WALLET", p.Wallet)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Driver == "" {
		p.Driver = "memory"
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("postgres driver requires a dsn")
	}

	if p.Data != "" {
		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
			return err
		}
		p.Data = dataDir
	}

	return nil
}
