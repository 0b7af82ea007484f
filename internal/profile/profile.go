package profile

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ProviderConfig describes one configured generation backend.
// Providers are attempted in the order they appear in the profile.
type ProviderConfig struct {
	// ID is the provider identifier ("openai", "deepseek", "siliconflow").
	ID string
	// APIKey authenticates against the backend.
	APIKey string
	// BaseURL is the OpenAI-compatible endpoint.
	BaseURL string
	// Model is the chat model name.
	Model string
}

// Profile is the configuration to start the coaching server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Driver is the knowledge store driver (sqlite or postgres)
	Driver string
	// DSN points to the knowledge store
	DSN string
	// Version is the current version of server
	Version string

	// Providers is the ordered fallback list of generation backends.
	Providers []ProviderConfig
	// EmbeddingAPIKey / EmbeddingBaseURL / EmbeddingModel configure the
	// query embedding backend used by retrieval.
	EmbeddingAPIKey  string
	EmbeddingBaseURL string
	EmbeddingModel   string

	// Session limits.
	MaxSessions    int
	InboundQueue   int
	OutboundQueue  int
	OpenRatePerSec float64
	IdleInterval   time.Duration
	IdleCeiling    time.Duration
	ContextWindow  int
	HistorySize    int
	RetrieveLimit  int

	// Cycle budgets.
	RetrievalTimeout time.Duration
	ProviderTimeout  time.Duration
	CycleBudget      time.Duration

	// Circuit breaker policy.
	BreakerFailures int
	BreakerWindow   time.Duration
	BreakerCooldown time.Duration

	// Retrieval scoring policy and query cache.
	VectorWeight  float64
	KeywordWeight float64
	MinRelevance  float64
	CacheSize     int
	CacheTTL      time.Duration

	// Suggestion scoring policy.
	ConfidenceWeight   float64
	GroundingWeight    float64
	NoveltyWeight      float64
	DedupeThreshold    float64
	MaxSuggestions     int
	FallbackConfidence float64
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv loads provider configuration from ATTUNE_* environment variables.
// The fallback order comes from ATTUNE_AI_PROVIDERS, a comma-separated list.
func (p *Profile) FromEnv() {
	order := getEnvOrDefault("ATTUNE_AI_PROVIDERS", "openai")
	for _, id := range strings.Split(order, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		upper := strings.ToUpper(id)
		cfg := ProviderConfig{
			ID:      id,
			APIKey:  os.Getenv("ATTUNE_AI_" + upper + "_API_KEY"),
			BaseURL: os.Getenv("ATTUNE_AI_" + upper + "_BASE_URL"),
			Model:   os.Getenv("ATTUNE_AI_" + upper + "_MODEL"),
		}
		switch id {
		case "openai":
			if cfg.BaseURL == "" {
				cfg.BaseURL = "https://api.openai.com/v1"
			}
			if cfg.Model == "" {
				cfg.Model = "gpt-4o-mini"
			}
		case "deepseek":
			if cfg.BaseURL == "" {
				cfg.BaseURL = "https://api.deepseek.com"
			}
			if cfg.Model == "" {
				cfg.Model = "deepseek-chat"
			}
		case "siliconflow":
			if cfg.BaseURL == "" {
				cfg.BaseURL = "https://api.siliconflow.cn/v1"
			}
			if cfg.Model == "" {
				cfg.Model = "Qwen/Qwen2.5-7B-Instruct"
			}
		}
		p.Providers = append(p.Providers, cfg)
	}

	p.EmbeddingAPIKey = os.Getenv("ATTUNE_AI_EMBEDDING_API_KEY")
	p.EmbeddingBaseURL = getEnvOrDefault("ATTUNE_AI_EMBEDDING_BASE_URL", "https://api.openai.com/v1")
	p.EmbeddingModel = getEnvOrDefault("ATTUNE_AI_EMBEDDING_MODEL", "text-embedding-3-small")
}

// ApplyDefaults fills unset policy knobs with their defaults.
func (p *Profile) ApplyDefaults() {
	if p.MaxSessions <= 0 {
		p.MaxSessions = 1024
	}
	if p.InboundQueue <= 0 {
		p.InboundQueue = 8
	}
	if p.OutboundQueue <= 0 {
		p.OutboundQueue = 32
	}
	if p.OpenRatePerSec <= 0 {
		p.OpenRatePerSec = 50
	}
	if p.IdleInterval <= 0 {
		p.IdleInterval = 30 * time.Second
	}
	if p.IdleCeiling <= 0 {
		p.IdleCeiling = 10 * time.Minute
	}
	if p.ContextWindow <= 0 {
		p.ContextWindow = 20
	}
	if p.HistorySize <= 0 {
		p.HistorySize = 32
	}
	if p.RetrieveLimit <= 0 {
		p.RetrieveLimit = 8
	}
	if p.RetrievalTimeout <= 0 {
		p.RetrievalTimeout = 1500 * time.Millisecond
	}
	if p.ProviderTimeout <= 0 {
		p.ProviderTimeout = 4 * time.Second
	}
	if p.CycleBudget <= 0 {
		p.CycleBudget = 6 * time.Second
	}
	if p.BreakerFailures <= 0 {
		p.BreakerFailures = 5
	}
	if p.BreakerWindow <= 0 {
		p.BreakerWindow = 60 * time.Second
	}
	if p.BreakerCooldown <= 0 {
		p.BreakerCooldown = 30 * time.Second
	}
	if p.VectorWeight <= 0 {
		p.VectorWeight = 0.7
	}
	if p.KeywordWeight <= 0 {
		p.KeywordWeight = 0.3
	}
	if p.MinRelevance <= 0 {
		p.MinRelevance = 0.35
	}
	if p.CacheSize <= 0 {
		p.CacheSize = 256
	}
	if p.CacheTTL <= 0 {
		p.CacheTTL = 30 * time.Second
	}
	if p.ConfidenceWeight <= 0 {
		p.ConfidenceWeight = 0.5
	}
	if p.GroundingWeight <= 0 {
		p.GroundingWeight = 0.3
	}
	if p.NoveltyWeight <= 0 {
		p.NoveltyWeight = 0.2
	}
	if p.DedupeThreshold <= 0 {
		p.DedupeThreshold = 0.9
	}
	if p.MaxSuggestions <= 0 {
		p.MaxSuggestions = 5
	}
	if p.FallbackConfidence <= 0 {
		p.FallbackConfidence = 0.4
	}
}

// Validate normalizes the profile and rejects unusable configurations.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	switch p.Driver {
	case "", "sqlite":
		p.Driver = "sqlite"
		if p.DSN == "" {
			p.DSN = "attune_" + p.Mode + ".db"
		}
	case "postgres":
		if p.DSN == "" {
			return errors.New("postgres driver requires a DSN")
		}
	default:
		return errors.Errorf("unsupported knowledge store driver %q", p.Driver)
	}

	p.ApplyDefaults()
	return nil
}
