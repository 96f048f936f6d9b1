package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultConfig verifies that DefaultConfig returns valid defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "apiflow", cfg.Name)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, "memory", cfg.Catalog.Store)
	assert.False(t, cfg.Cache.SharedEnabled)
	assert.Equal(t, 1, cfg.Execution.MaxReplans)
	assert.Equal(t, []string{DefaultSkipPurpose}, cfg.Execution.SkipPurposes)
	assert.False(t, cfg.AI.URLRewrite)
	assert.Equal(t, "info", cfg.Logging.Level)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("APIFLOW_PORT", "9090")
	t.Setenv("APIFLOW_UPSTREAM_URL", "http://crm.internal:8080")
	t.Setenv("APIFLOW_UPSTREAM_TIMEOUT", "5s")
	t.Setenv("APIFLOW_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("APIFLOW_SHARED_CACHE", "yes")
	t.Setenv("REDIS_URL", "redis://localhost:6379/2")
	t.Setenv("APIFLOW_SKIP_PURPOSES", "create_company_if_not_exists,create_contact_if_not_exists")
	t.Setenv("APIFLOW_AI_API_KEY", "sk-test")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "http://crm.internal:8080", cfg.Upstream.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Cache.SharedEnabled)
	assert.Equal(t, "redis://localhost:6379/2", cfg.Redis.URL)
	assert.Len(t, cfg.Execution.SkipPurposes, 2)
	assert.Equal(t, "sk-test", cfg.AI.APIKey)
}

func TestLoadFromEnv_InvalidPort(t *testing.T) {
	t.Setenv("APIFLOW_PORT", "not-a-port")

	cfg := DefaultConfig()
	err := cfg.LoadFromEnv()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(dir, "apiflow.yaml")
		content := `
server:
  port: 7000
upstream:
  base_url: http://crm:8080
  timeout: 12s
catalog:
  store: sqlite
  sqlite_path: /tmp/endpoints.db
execution:
  max_replans: 2
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		cfg := DefaultConfig()
		require.NoError(t, cfg.LoadFromFile(path))
		assert.Equal(t, 7000, cfg.Server.Port)
		assert.Equal(t, "http://crm:8080", cfg.Upstream.BaseURL)
		assert.Equal(t, 12*time.Second, cfg.Upstream.Timeout)
		assert.Equal(t, "sqlite", cfg.Catalog.Store)
		assert.Equal(t, 2, cfg.Execution.MaxReplans)
	})

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "apiflow.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"server":{"port":7100},"logging":{"level":"debug"}}`), 0o600))

		cfg := DefaultConfig()
		require.NoError(t, cfg.LoadFromFile(path))
		assert.Equal(t, 7100, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		cfg := DefaultConfig()
		err := cfg.LoadFromFile(filepath.Join(dir, "apiflow.toml"))
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, ErrInvalidConfiguration},
		{"missing upstream", func(c *Config) { c.Upstream.BaseURL = "" }, ErrMissingConfiguration},
		{"unknown store", func(c *Config) { c.Catalog.Store = "mongo" }, ErrInvalidConfiguration},
		{"shared cache without redis", func(c *Config) { c.Cache.SharedEnabled = true }, ErrMissingConfiguration},
		{"negative replans", func(c *Config) { c.Execution.MaxReplans = -1 }, ErrInvalidConfiguration},
		{"otlp without endpoint", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Exporter = "otlp"
		}, ErrMissingConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr))

			var fe *FrameworkError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, "Config.Validate", fe.Op)
		})
	}
}

func TestNewConfig_OptionsOverrideEnv(t *testing.T) {
	t.Setenv("APIFLOW_PORT", "9090")

	cfg, err := NewConfig(
		WithPort(9191),
		WithUpstream("http://crm:8080/"),
		WithRedisURL("redis://localhost:6379"),
		WithSharedCache(true, time.Minute),
	)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "http://crm:8080", cfg.Upstream.BaseURL)
	assert.True(t, cfg.Cache.SharedEnabled)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
}

func TestNewConfig_InvalidOption(t *testing.T) {
	_, err := NewConfig(WithPort(70000))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))
}

func TestParseHelpers(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, parseStringList("a, b,,c "))
	assert.True(t, parseBool("ON"))
	assert.True(t, parseBool("1"))
	assert.False(t, parseBool("nope"))
}

func TestValidate_HistoryWithoutRedis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.History.Enabled = true
	assert.NoError(t, cfg.Validate())
}
