package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete service configuration.
// Values are resolved in order: defaults, environment, functional options.
type Config struct {
	Name string `json:"name" yaml:"name"`

	Server    ServerConfig    `json:"server" yaml:"server"`
	Upstream  UpstreamConfig  `json:"upstream" yaml:"upstream"`
	AI        AIConfig        `json:"ai" yaml:"ai"`
	Catalog   CatalogConfig   `json:"catalog" yaml:"catalog"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Redis     RedisConfig     `json:"redis" yaml:"redis"`
	History   HistoryConfig   `json:"history" yaml:"history"`
	Execution ExecutionConfig `json:"execution" yaml:"execution"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
}

// ServerConfig contains inbound HTTP server settings
type ServerConfig struct {
	Address         string        `json:"address" yaml:"address"`
	Port            int           `json:"port" yaml:"port"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSOrigins     []string      `json:"cors_origins" yaml:"cors_origins"`

	// RateLimitPerMinute caps /process-request per client. Zero disables it; requires Redis.
	RateLimitPerMinute int `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
}

// UpstreamConfig describes the REST service being orchestrated
type UpstreamConfig struct {
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold" yaml:"circuit_breaker_threshold"`
	CircuitBreakerSleepWindow time.Duration `json:"circuit_breaker_sleep_window" yaml:"circuit_breaker_sleep_window"`
}

// AIConfig contains LLM provider settings
type AIConfig struct {
	Provider          string  `json:"provider" yaml:"provider"`
	Model             string  `json:"model" yaml:"model"`
	APIKey            string  `json:"-" yaml:"-"`
	BaseURL           string  `json:"base_url" yaml:"base_url"`
	EmbeddingModel    string  `json:"embedding_model" yaml:"embedding_model"`
	Temperature       float32 `json:"temperature" yaml:"temperature"`
	MaxTokens         int     `json:"max_tokens" yaml:"max_tokens"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `json:"burst" yaml:"burst"`
	MaxRetries        int     `json:"max_retries" yaml:"max_retries"`
	URLRewrite        bool    `json:"url_rewrite" yaml:"url_rewrite"`
}

// CatalogConfig selects the endpoint catalog store
type CatalogConfig struct {
	Store      string `json:"store" yaml:"store"` // memory or sqlite
	SQLitePath string `json:"sqlite_path" yaml:"sqlite_path"`
	SwaggerURL string `json:"swagger_url" yaml:"swagger_url"`
}

// CacheConfig controls the optional cross-request GET cache
type CacheConfig struct {
	SharedEnabled bool          `json:"shared_enabled" yaml:"shared_enabled"`
	TTL           time.Duration `json:"ttl" yaml:"ttl"`
	Prefix        string        `json:"prefix" yaml:"prefix"`
}

// RedisConfig holds the Redis connection URL
type RedisConfig struct {
	URL string `json:"url" yaml:"url"`
}

// HistoryConfig controls execution history recording
type HistoryConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	TTL     time.Duration `json:"ttl" yaml:"ttl"`
}

// ExecutionConfig controls the plan interpreter
type ExecutionConfig struct {
	MaxReplans   int      `json:"max_replans" yaml:"max_replans"`
	SkipPurposes []string `json:"skip_purposes" yaml:"skip_purposes"`
}

// TelemetryConfig contains OpenTelemetry settings
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Exporter    string `json:"exporter" yaml:"exporter"` // stdout or otlp
	Endpoint    string `json:"endpoint" yaml:"endpoint"`
	ServiceName string `json:"service_name" yaml:"service_name"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"` // json or text
	Output     string `json:"output" yaml:"output"` // stdout, stderr or file
	FilePath   string `json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

// Option is a functional option for configuring the service
type Option func(*Config) error

// DefaultSkipPurpose is the plan step purpose that is skipped when the
// previous step already produced an id.
const DefaultSkipPurpose = "create_company_if_not_exists"

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Name: "apiflow",
		Server: ServerConfig{
			Address:         "0.0.0.0",
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Upstream: UpstreamConfig{
			BaseURL:                   "http://localhost:8080",
			Timeout:                   30 * time.Second,
			CircuitBreakerThreshold:   5,
			CircuitBreakerSleepWindow: 30 * time.Second,
		},
		AI: AIConfig{
			Provider:          "auto",
			Temperature:       0.1,
			MaxTokens:         2000,
			EmbeddingModel:    "text-embedding-3-small",
			RequestsPerSecond: 5,
			Burst:             5,
			MaxRetries:        2,
			URLRewrite:        false,
		},
		Catalog: CatalogConfig{
			Store:      "memory",
			SQLitePath: "apiflow_endpoints.db",
		},
		Cache: CacheConfig{
			SharedEnabled: false,
			TTL:           30 * time.Second,
			Prefix:        "apiflow:cache:",
		},
		History: HistoryConfig{
			Enabled: false,
			TTL:     24 * time.Hour,
		},
		Execution: ExecutionConfig{
			MaxReplans:   1,
			SkipPurposes: []string{DefaultSkipPurpose},
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Exporter:    "stdout",
			ServiceName: "apiflow",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "apiflow.log",
			MaxSizeMB:  15,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// LoadFromEnv loads configuration from environment variables.
//
// Variables follow the APIFLOW_<SECTION>_<SETTING> pattern. The standard
// REDIS_URL, OPENAI_API_KEY, ANTHROPIC_API_KEY and OTEL_EXPORTER_OTLP_ENDPOINT
// variables are honored as fallbacks.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("APIFLOW_NAME"); v != "" {
		c.Name = v
	}

	// Server settings
	if v := os.Getenv("APIFLOW_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("APIFLOW_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid APIFLOW_PORT %q: %w", v, ErrInvalidConfiguration)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("APIFLOW_CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = parseStringList(v)
	}
	if v := os.Getenv("APIFLOW_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid APIFLOW_RATE_LIMIT %q: %w", v, ErrInvalidConfiguration)
		}
		c.Server.RateLimitPerMinute = n
	}

	// Upstream settings
	if v := os.Getenv("APIFLOW_UPSTREAM_URL"); v != "" {
		c.Upstream.BaseURL = v
	}
	if v := os.Getenv("APIFLOW_UPSTREAM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid APIFLOW_UPSTREAM_TIMEOUT %q: %w", v, ErrInvalidConfiguration)
		}
		c.Upstream.Timeout = d
	}

	// AI settings
	if v := os.Getenv("APIFLOW_AI_PROVIDER"); v != "" {
		c.AI.Provider = v
	}
	if v := os.Getenv("APIFLOW_AI_MODEL"); v != "" {
		c.AI.Model = v
	}
	if v := os.Getenv("APIFLOW_AI_BASE_URL"); v != "" {
		c.AI.BaseURL = v
	}
	if v := os.Getenv("APIFLOW_AI_API_KEY"); v != "" {
		c.AI.APIKey = v
	} else if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && c.AI.Provider != "openai" {
		c.AI.APIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.AI.APIKey = v
	}
	if v := os.Getenv("APIFLOW_AI_URL_REWRITE"); v != "" {
		c.AI.URLRewrite = parseBool(v)
	}
	if v := os.Getenv("APIFLOW_AI_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			c.AI.RequestsPerSecond = rps
		}
	}

	// Catalog settings
	if v := os.Getenv("APIFLOW_CATALOG_STORE"); v != "" {
		c.Catalog.Store = v
	}
	if v := os.Getenv("APIFLOW_CATALOG_SQLITE_PATH"); v != "" {
		c.Catalog.SQLitePath = v
	}
	if v := os.Getenv("APIFLOW_SWAGGER_URL"); v != "" {
		c.Catalog.SwaggerURL = v
	}

	// Cache, history and Redis settings
	if v := os.Getenv("APIFLOW_REDIS_URL"); v != "" {
		c.Redis.URL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("APIFLOW_SHARED_CACHE"); v != "" {
		c.Cache.SharedEnabled = parseBool(v)
	}
	if v := os.Getenv("APIFLOW_SHARED_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Cache.TTL = d
		}
	}
	if v := os.Getenv("APIFLOW_HISTORY_ENABLED"); v != "" {
		c.History.Enabled = parseBool(v)
	}

	// Execution settings
	if v := os.Getenv("APIFLOW_MAX_REPLANS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Execution.MaxReplans = n
		}
	}
	if v := os.Getenv("APIFLOW_SKIP_PURPOSES"); v != "" {
		c.Execution.SkipPurposes = parseStringList(v)
	}

	// Telemetry settings
	if v := os.Getenv("APIFLOW_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv("APIFLOW_TELEMETRY_EXPORTER"); v != "" {
		c.Telemetry.Exporter = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	}

	// Logging settings
	if v := os.Getenv("APIFLOW_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("APIFLOW_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("APIFLOW_LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}
	if v := os.Getenv("APIFLOW_LOG_FILE"); v != "" {
		c.Logging.FilePath = v
	}

	return nil
}

// LoadFromFile loads configuration from a JSON or YAML file
func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)

	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config file extension %s: %w", ext, ErrInvalidConfiguration)
	}

	data, err := os.ReadFile(cleanPath) // nosec G304 -- path is operator supplied
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config file: %v: %w", err, ErrInvalidConfiguration)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config file: %v: %w", err, ErrInvalidConfiguration)
		}
	}

	return nil
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("invalid port: %d", c.Server.Port),
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Upstream.BaseURL == "" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "upstream base URL is required",
			Err:     ErrMissingConfiguration,
		}
	}

	if c.Upstream.Timeout <= 0 {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "upstream timeout must be positive",
			Err:     ErrInvalidConfiguration,
		}
	}

	switch c.Catalog.Store {
	case "memory":
	case "sqlite":
		if c.Catalog.SQLitePath == "" {
			return &FrameworkError{
				Op:      "Config.Validate",
				Kind:    "config",
				Message: "sqlite path is required for the sqlite catalog store",
				Err:     ErrMissingConfiguration,
			}
		}
	default:
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("unknown catalog store: %s", c.Catalog.Store),
			Err:     ErrInvalidConfiguration,
		}
	}

	// history without Redis falls back to an in-process store
	if c.Cache.SharedEnabled && c.Redis.URL == "" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "redis URL is required for the shared cache",
			Err:     ErrMissingConfiguration,
		}
	}

	if c.Execution.MaxReplans < 0 {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "max replans cannot be negative",
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Telemetry.Enabled && c.Telemetry.Exporter == "otlp" && c.Telemetry.Endpoint == "" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "telemetry endpoint is required for the otlp exporter",
			Err:     ErrMissingConfiguration,
		}
	}

	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "log file path is required when logging to a file",
			Err:     ErrMissingConfiguration,
		}
	}

	return nil
}

// parseStringList splits a comma-separated string into a slice of strings.
// Whitespace is trimmed from each element, and empty strings are filtered out.
func parseStringList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseBool accepts "true", "1", "yes", "on" (case-insensitive) as true.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// Functional Options

// WithPort sets the HTTP server port.
func WithPort(port int) Option {
	return func(c *Config) error {
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid port %d: %w", port, ErrInvalidConfiguration)
		}
		c.Server.Port = port
		return nil
	}
}

// WithUpstream sets the upstream REST service base URL.
func WithUpstream(baseURL string) Option {
	return func(c *Config) error {
		c.Upstream.BaseURL = strings.TrimRight(baseURL, "/")
		return nil
	}
}

// WithUpstreamTimeout bounds every upstream call.
func WithUpstreamTimeout(d time.Duration) Option {
	return func(c *Config) error {
		c.Upstream.Timeout = d
		return nil
	}
}

// WithAI configures the LLM provider.
func WithAI(provider, apiKey, model string) Option {
	return func(c *Config) error {
		c.AI.Provider = provider
		c.AI.APIKey = apiKey
		if model != "" {
			c.AI.Model = model
		}
		return nil
	}
}

// WithRedisURL sets the Redis URL. The shared cache requires it; history uses it when set.
func WithRedisURL(url string) Option {
	return func(c *Config) error {
		c.Redis.URL = url
		return nil
	}
}

// WithSharedCache enables the cross-request GET cache.
func WithSharedCache(enabled bool, ttl time.Duration) Option {
	return func(c *Config) error {
		c.Cache.SharedEnabled = enabled
		if ttl > 0 {
			c.Cache.TTL = ttl
		}
		return nil
	}
}

// WithCatalogStore selects the endpoint catalog store.
func WithCatalogStore(store, sqlitePath string) Option {
	return func(c *Config) error {
		c.Catalog.Store = store
		if sqlitePath != "" {
			c.Catalog.SQLitePath = sqlitePath
		}
		return nil
	}
}

// WithLogLevel sets the logging level.
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithConfigFile loads configuration from a file.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadFromFile(path)
	}
}

// NewConfig creates a new configuration with the given options
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	// Functional options override env vars
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
