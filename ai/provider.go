package ai

import (
	"net/http"
	"time"

	"github.com/itsneelabh/apiflow/core"
)

// Provider represents an AI provider type
type Provider string

// Standard provider constants
const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderAuto      Provider = "auto" // Auto-detect from environment
)

// Default models per provider, used when no model is configured.
const (
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultEmbeddingModel = "text-embedding-3-small"
)

// modelAliases lets configurations name a model tier instead of a
// provider-specific model.
var modelAliases = map[string]map[string]string{
	string(ProviderAnthropic): {
		"fast":  "claude-haiku-4-5-20251001",
		"smart": "claude-sonnet-4-5-20250929",
	},
	string(ProviderOpenAI): {
		"fast":  "gpt-4o-mini",
		"smart": "gpt-4o",
	},
}

// resolveModel maps an alias to the provider's model and falls back to
// fallback when model is empty. Unknown names pass through.
func resolveModel(provider, model, fallback string) string {
	if model == "" {
		return fallback
	}
	if resolved, ok := modelAliases[provider][model]; ok {
		return resolved
	}
	return model
}

// AIConfig holds configuration for AI client creation
type AIConfig struct {
	// Provider to use
	Provider string

	// API credentials
	APIKey  string
	BaseURL string

	// Connection settings
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client

	// Model configuration
	Model          string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int

	Logger    core.Logger
	Telemetry core.Telemetry
}

// AIOption configures an AI client
type AIOption func(*AIConfig)

func defaultAIConfig() *AIConfig {
	return &AIConfig{
		Provider:       string(ProviderAuto),
		MaxRetries:     2,
		Timeout:        60 * time.Second,
		Temperature:    0.1,
		MaxTokens:      2000,
		EmbeddingModel: DefaultEmbeddingModel,
	}
}

// WithProvider sets the AI provider
func WithProvider(provider string) AIOption {
	return func(c *AIConfig) {
		c.Provider = provider
	}
}

// WithAPIKey sets the API key
func WithAPIKey(key string) AIOption {
	return func(c *AIConfig) {
		c.APIKey = key
	}
}

// WithBaseURL sets the base URL for the API
func WithBaseURL(url string) AIOption {
	return func(c *AIConfig) {
		c.BaseURL = url
	}
}

// WithTimeout sets the request timeout
func WithTimeout(timeout time.Duration) AIOption {
	return func(c *AIConfig) {
		c.Timeout = timeout
	}
}

// WithMaxRetries sets the maximum number of retries
func WithMaxRetries(retries int) AIOption {
	return func(c *AIConfig) {
		c.MaxRetries = retries
	}
}

// WithHTTPClient sets the HTTP client used to reach the provider
func WithHTTPClient(client *http.Client) AIOption {
	return func(c *AIConfig) {
		c.HTTPClient = client
	}
}

// WithModel sets the model to use
func WithModel(model string) AIOption {
	return func(c *AIConfig) {
		c.Model = model
	}
}

// WithEmbeddingModel sets the embedding model
func WithEmbeddingModel(model string) AIOption {
	return func(c *AIConfig) {
		c.EmbeddingModel = model
	}
}

// WithTemperature sets the temperature for generation
func WithTemperature(temp float32) AIOption {
	return func(c *AIConfig) {
		c.Temperature = temp
	}
}

// WithMaxTokens sets the maximum tokens for generation
func WithMaxTokens(tokens int) AIOption {
	return func(c *AIConfig) {
		c.MaxTokens = tokens
	}
}

// WithLogger sets the logger
func WithLogger(logger core.Logger) AIOption {
	return func(c *AIConfig) {
		c.Logger = logger
	}
}

// WithTelemetry sets the telemetry provider
func WithTelemetry(t core.Telemetry) AIOption {
	return func(c *AIConfig) {
		c.Telemetry = t
	}
}

// FromConfig maps the service configuration onto client options.
func FromConfig(cfg core.AIConfig) AIOption {
	return func(c *AIConfig) {
		if cfg.Provider != "" {
			c.Provider = cfg.Provider
		}
		c.APIKey = cfg.APIKey
		c.BaseURL = cfg.BaseURL
		c.Model = cfg.Model
		if cfg.EmbeddingModel != "" {
			c.EmbeddingModel = cfg.EmbeddingModel
		}
		c.Temperature = cfg.Temperature
		if cfg.MaxTokens > 0 {
			c.MaxTokens = cfg.MaxTokens
		}
		if cfg.MaxRetries >= 0 {
			c.MaxRetries = cfg.MaxRetries
		}
	}
}
